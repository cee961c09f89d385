package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bivex/storekit-settlement/internal/domain/entity"
	domainErrors "github.com/bivex/storekit-settlement/internal/domain/errors"
	"github.com/bivex/storekit-settlement/internal/domain/service"
	"github.com/bivex/storekit-settlement/tests/mocks"
)

var coinPack = entity.Product{Identifier: "com.example.coins", Title: "Coins", Price: "0.99"}

func nextEvent(t *testing.T, f *service.StoreFacade) entity.PurchaseEvent {
	t.Helper()
	select {
	case e := <-f.Events():
		return e
	case <-time.After(time.Second):
		t.Fatal("no purchase event")
	}
	return entity.PurchaseEvent{}
}

func nextDownload(t *testing.T, f *service.StoreFacade) entity.DownloadEvent {
	t.Helper()
	select {
	case e := <-f.Downloads():
		return e
	case <-time.After(time.Second):
		t.Fatal("no download event")
	}
	return entity.DownloadEvent{}
}

func assertNoEvent(t *testing.T, f *service.StoreFacade) {
	t.Helper()
	select {
	case e := <-f.Events():
		t.Fatalf("unexpected purchase event %s", e.State)
	default:
	}
}

func newFacadeWithCatalog(t *testing.T, queue *mocks.FakePaymentQueue) *service.StoreFacade {
	t.Helper()
	f := service.NewStoreFacade(queue, zap.NewNop())
	f.ProductsReceived([]entity.Product{coinPack}, nil)
	return f
}

func TestStoreFacade_RequestProducts(t *testing.T) {
	ctx := context.Background()

	t.Run("empty identifiers are an invalid parameter", func(t *testing.T) {
		f := service.NewStoreFacade(mocks.NewFakePaymentQueue(nil), zap.NewNop())

		_, err := f.RequestProducts(ctx, []string{"", ""})
		require.Error(t, err)
		assert.ErrorIs(t, err, domainErrors.ErrInvalidParameter)
		assert.Equal(t, domainErrors.CodeInvalidParameter, domainErrors.Code(err))
	})

	t.Run("response populates the catalog", func(t *testing.T) {
		queue := mocks.NewFakePaymentQueue(nil)
		f := service.NewStoreFacade(queue, zap.NewNop())
		queue.OnProductRequest = func(ids []string) {
			f.ProductsReceived([]entity.Product{coinPack}, []string{"com.example.gone"})
		}

		res, err := f.RequestProducts(ctx, []string{"com.example.coins", "com.example.gone", "com.example.coins"})
		require.NoError(t, err)
		assert.Equal(t, []entity.Product{coinPack}, res.Products)
		assert.Equal(t, []string{"com.example.gone"}, res.InvalidIdentifiers)
		assert.Equal(t, [][]string{{"com.example.coins", "com.example.gone"}}, queue.ProductRequests())

		p, ok := f.Product("com.example.coins")
		assert.True(t, ok)
		assert.Equal(t, "Coins", p.Title)
		assert.Equal(t, []string{"com.example.gone"}, f.InvalidIdentifiers())
	})

	t.Run("second request while one is in flight fails", func(t *testing.T) {
		queue := mocks.NewFakePaymentQueue(nil)
		f := service.NewStoreFacade(queue, zap.NewNop())

		firstErr := make(chan error, 1)
		go func() {
			_, err := f.RequestProducts(ctx, []string{"com.example.coins"})
			firstErr <- err
		}()
		require.Eventually(t, func() bool { return len(queue.ProductRequests()) == 1 }, time.Second, 5*time.Millisecond)

		_, err := f.RequestProducts(ctx, []string{"com.example.other"})
		assert.ErrorIs(t, err, domainErrors.ErrProductRequestInFlight)

		f.ProductsRequestFailed(errors.New("offline"))
		select {
		case err := <-firstErr:
			assert.ErrorIs(t, err, domainErrors.ErrNetwork)
		case <-time.After(time.Second):
			t.Fatal("first request did not complete")
		}

		// the slot is free again
		queue.OnProductRequest = func([]string) { f.ProductsReceived(nil, nil) }
		_, err = f.RequestProducts(ctx, []string{"com.example.other"})
		assert.NoError(t, err)
	})

	t.Run("queue error is a network error", func(t *testing.T) {
		queue := mocks.NewFakePaymentQueue(nil)
		queue.ProductRequestErr = errors.New("no connection")
		f := service.NewStoreFacade(queue, zap.NewNop())

		_, err := f.RequestProducts(ctx, []string{"com.example.coins"})
		assert.ErrorIs(t, err, domainErrors.ErrNetwork)
	})
}

func TestStoreFacade_Purchase(t *testing.T) {
	ctx := context.Background()

	t.Run("empty product identifier emits failed", func(t *testing.T) {
		f := newFacadeWithCatalog(t, mocks.NewFakePaymentQueue(nil))

		require.NoError(t, f.Purchase(ctx, "", "user-1", 1))
		e := nextEvent(t, f)
		assert.Equal(t, entity.PurchaseStateFailed, e.State)
		assert.Equal(t, domainErrors.CodeInvalidParameter, domainErrors.Code(e.Err))
	})

	t.Run("unknown product emits failed", func(t *testing.T) {
		queue := mocks.NewFakePaymentQueue(nil)
		f := newFacadeWithCatalog(t, queue)

		require.NoError(t, f.Purchase(ctx, "com.example.missing", "user-1", 1))
		e := nextEvent(t, f)
		assert.Equal(t, entity.PurchaseStateFailed, e.State)
		assert.Equal(t, domainErrors.CodeUnknownProductIdentifier, domainErrors.Code(e.Err))
		assert.Equal(t, "Unknown product identifier: com.example.missing", domainErrors.Message(e.Err))
		assert.Empty(t, queue.Payments())
	})

	t.Run("catalog product is added to the queue", func(t *testing.T) {
		queue := mocks.NewFakePaymentQueue(nil)
		f := newFacadeWithCatalog(t, queue)

		require.NoError(t, f.Purchase(ctx, "com.example.coins", "user-1", 0))
		assert.Equal(t, []entity.Payment{{ProductIdentifier: "com.example.coins", UserIdentifier: "user-1", Quantity: 1}}, queue.Payments())
		assertNoEvent(t, f)
	})

	t.Run("queue failure emits failed and returns the error", func(t *testing.T) {
		queue := mocks.NewFakePaymentQueue(nil)
		queue.AddPaymentErr = errors.New("queue closed")
		f := newFacadeWithCatalog(t, queue)

		err := f.Purchase(ctx, "com.example.coins", "user-1", 2)
		assert.ErrorIs(t, err, domainErrors.ErrNetwork)
		e := nextEvent(t, f)
		assert.Equal(t, entity.PurchaseStateFailed, e.State)
		assert.Equal(t, "user-1", e.UserIdentifier)
	})
}

func TestStoreFacade_TransactionsUpdated(t *testing.T) {
	ctx := context.Background()
	date := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("purchased transaction is tracked and emitted", func(t *testing.T) {
		queue := mocks.NewFakePaymentQueue(nil)
		f := newFacadeWithCatalog(t, queue)

		require.NoError(t, f.TransactionsUpdated(ctx, []entity.PlatformTransaction{
			{Identifier: "tx-1", State: entity.TransactionStatePurchasing, ProductIdentifier: "com.example.coins"},
			{Identifier: "tx-1", State: entity.TransactionStatePurchased, ProductIdentifier: "com.example.coins", UserIdentifier: "user-1", Date: date},
		}))

		assert.Equal(t, entity.PurchaseStatePurchasing, nextEvent(t, f).State)
		e := nextEvent(t, f)
		assert.Equal(t, entity.PurchaseStateSucceeded, e.State)
		assert.Equal(t, "tx-1", e.TransactionIdentifier)
		assert.Equal(t, date, e.TransactionDate)
		assert.Equal(t, "user-1", e.UserIdentifier)

		_, ok := f.PurchasedTransaction("tx-1")
		assert.True(t, ok)

		require.NoError(t, f.FinishTransaction(ctx, "tx-1"))
		_, ok = f.PurchasedTransaction("tx-1")
		assert.False(t, ok)
		assert.Equal(t, []string{"tx-1"}, queue.Finished())
	})

	t.Run("user cancellation emits cancelled and finishes", func(t *testing.T) {
		queue := mocks.NewFakePaymentQueue(nil)
		f := newFacadeWithCatalog(t, queue)

		require.NoError(t, f.TransactionsUpdated(ctx, []entity.PlatformTransaction{{
			Identifier:        "tx-2",
			State:             entity.TransactionStateFailed,
			ProductIdentifier: "com.example.coins",
			Err:               &entity.PlatformError{Code: entity.PlatformErrorPaymentCancelled, Message: "cancelled"},
		}}))

		e := nextEvent(t, f)
		assert.Equal(t, entity.PurchaseStateCancelled, e.State)
		assert.ErrorIs(t, e.Err, domainErrors.ErrPlatformCancelled)
		assert.Equal(t, []string{"tx-2"}, queue.Finished())
	})

	t.Run("platform failure emits failed with its code", func(t *testing.T) {
		queue := mocks.NewFakePaymentQueue(nil)
		f := newFacadeWithCatalog(t, queue)

		require.NoError(t, f.TransactionsUpdated(ctx, []entity.PlatformTransaction{{
			Identifier: "tx-3",
			State:      entity.TransactionStateFailed,
			Err:        &entity.PlatformError{Code: 5, Message: "payment not allowed"},
		}}))

		e := nextEvent(t, f)
		assert.Equal(t, entity.PurchaseStateFailed, e.State)
		assert.Equal(t, 5, domainErrors.Code(e.Err))
		assert.Equal(t, "payment not allowed", domainErrors.Message(e.Err))
		assert.Equal(t, []string{"tx-3"}, queue.Finished())
	})

	t.Run("deferred is forwarded", func(t *testing.T) {
		f := newFacadeWithCatalog(t, mocks.NewFakePaymentQueue(nil))

		require.NoError(t, f.TransactionsUpdated(ctx, []entity.PlatformTransaction{
			{Identifier: "", State: entity.TransactionStateDeferred, ProductIdentifier: "com.example.coins"},
		}))
		assert.Equal(t, entity.PurchaseStateDeferred, nextEvent(t, f).State)
	})

	t.Run("restored transaction is found by original identifier", func(t *testing.T) {
		queue := mocks.NewFakePaymentQueue(nil)
		f := newFacadeWithCatalog(t, queue)

		require.NoError(t, f.RestoreTransactions(ctx, "user-1"))
		assert.Equal(t, []string{"user-1"}, queue.Restores())

		origDate := date.Add(-24 * time.Hour)
		require.NoError(t, f.TransactionsUpdated(ctx, []entity.PlatformTransaction{{
			Identifier:         "tx-9",
			State:              entity.TransactionStateRestored,
			ProductIdentifier:  "com.example.coins",
			Date:               date,
			OriginalIdentifier: "orig-1",
			OriginalDate:       &origDate,
		}}))

		e := nextEvent(t, f)
		assert.Equal(t, entity.PurchaseStateRestored, e.State)
		assert.Equal(t, "orig-1", e.OriginalTransactionIdentifier)

		tx, ok := f.RestoredTransaction("orig-1")
		require.True(t, ok)
		assert.Equal(t, "tx-9", tx.Identifier)

		f.TransactionsRemoved([]string{"tx-9"})
		_, ok = f.RestoredTransaction("tx-9")
		assert.False(t, ok)
	})
}

func TestStoreFacade_Downloads(t *testing.T) {
	ctx := context.Background()

	purchasedWithContent := func() entity.PlatformTransaction {
		return entity.PlatformTransaction{
			Identifier:        "tx-d",
			State:             entity.TransactionStatePurchased,
			ProductIdentifier: "com.example.coins",
			Downloads: []entity.PlatformDownload{
				{ContentIdentifier: "c1", TransactionIdentifier: "tx-d", State: entity.PlatformDownloadWaiting},
				{ContentIdentifier: "c2", TransactionIdentifier: "tx-d", State: entity.PlatformDownloadWaiting},
			},
		}
	}

	t.Run("transaction settles after its last download", func(t *testing.T) {
		queue := mocks.NewFakePaymentQueue(nil)
		f := newFacadeWithCatalog(t, queue)

		require.NoError(t, f.TransactionsUpdated(ctx, []entity.PlatformTransaction{purchasedWithContent()}))
		assert.Equal(t, []string{"c1", "c2"}, queue.DownloadsStarted("tx-d"))
		assert.Equal(t, entity.DownloadStateStarted, nextDownload(t, f).State)
		assertNoEvent(t, f)

		require.NoError(t, f.DownloadsUpdated(ctx, []entity.PlatformDownload{
			{ContentIdentifier: "c1", TransactionIdentifier: "tx-d", State: entity.PlatformDownloadActive, Progress: 0.5},
		}))
		d := nextDownload(t, f)
		assert.Equal(t, entity.DownloadStateInProgress, d.State)
		assert.Equal(t, 50.0, d.Progress)
		assert.Equal(t, "com.example.coins", d.ProductIdentifier)

		require.NoError(t, f.DownloadsUpdated(ctx, []entity.PlatformDownload{
			{ContentIdentifier: "c1", TransactionIdentifier: "tx-d", State: entity.PlatformDownloadFinished, Progress: 1},
		}))
		assert.Equal(t, entity.DownloadStateSucceeded, nextDownload(t, f).State)
		assertNoEvent(t, f)

		require.NoError(t, f.DownloadsUpdated(ctx, []entity.PlatformDownload{
			{ContentIdentifier: "c2", TransactionIdentifier: "tx-d", State: entity.PlatformDownloadFinished, Progress: 1},
		}))
		assert.Equal(t, entity.DownloadStateSucceeded, nextDownload(t, f).State)
		e := nextEvent(t, f)
		assert.Equal(t, entity.PurchaseStateSucceeded, e.State)
		assert.Equal(t, "tx-d", e.TransactionIdentifier)
		assert.Empty(t, queue.Finished())
	})

	t.Run("cancelled last download fails the transaction", func(t *testing.T) {
		queue := mocks.NewFakePaymentQueue(nil)
		f := newFacadeWithCatalog(t, queue)

		tx := purchasedWithContent()
		tx.Downloads = tx.Downloads[:1]
		require.NoError(t, f.TransactionsUpdated(ctx, []entity.PlatformTransaction{tx}))
		nextDownload(t, f)

		require.NoError(t, f.DownloadsUpdated(ctx, []entity.PlatformDownload{
			{ContentIdentifier: "c1", TransactionIdentifier: "tx-d", State: entity.PlatformDownloadCancelled},
		}))
		assert.Equal(t, entity.DownloadStateCancelled, nextDownload(t, f).State)
		e := nextEvent(t, f)
		assert.Equal(t, entity.PurchaseStateFailed, e.State)
		assert.Equal(t, domainErrors.CodeDownloadCancelled, domainErrors.Code(e.Err))
		assert.Equal(t, "The download cancelled", domainErrors.Message(e.Err))
		assert.Equal(t, []string{"tx-d"}, queue.Finished())
	})

	t.Run("failed download reports the platform error", func(t *testing.T) {
		queue := mocks.NewFakePaymentQueue(nil)
		f := newFacadeWithCatalog(t, queue)

		tx := purchasedWithContent()
		tx.Downloads = tx.Downloads[:1]
		require.NoError(t, f.TransactionsUpdated(ctx, []entity.PlatformTransaction{tx}))
		nextDownload(t, f)

		require.NoError(t, f.DownloadsUpdated(ctx, []entity.PlatformDownload{{
			ContentIdentifier:     "c1",
			TransactionIdentifier: "tx-d",
			State:                 entity.PlatformDownloadFailed,
			Err:                   &entity.PlatformError{Code: 42, Message: "disk full"},
		}}))
		d := nextDownload(t, f)
		assert.Equal(t, entity.DownloadStateFailed, d.State)
		require.Error(t, d.Err)

		e := nextEvent(t, f)
		assert.Equal(t, entity.PurchaseStateFailed, e.State)
		assert.Equal(t, 42, domainErrors.Code(e.Err))
	})
}

func TestStoreFacade_Restore(t *testing.T) {
	ctx := context.Background()

	t.Run("cancelled restore emits cancelled", func(t *testing.T) {
		f := service.NewStoreFacade(mocks.NewFakePaymentQueue(nil), zap.NewNop())

		require.NoError(t, f.RestoreFailed(ctx, &entity.PlatformError{Code: entity.PlatformErrorPaymentCancelled, Message: "cancelled"}))
		assert.Equal(t, entity.PurchaseStateCancelled, nextEvent(t, f).State)
	})

	t.Run("other failures emit restore failed", func(t *testing.T) {
		f := service.NewStoreFacade(mocks.NewFakePaymentQueue(nil), zap.NewNop())

		require.NoError(t, f.RestoreFailed(ctx, &entity.PlatformError{Code: 0, Message: "cannot connect"}))
		e := nextEvent(t, f)
		assert.Equal(t, entity.PurchaseStateRestoreFailed, e.State)
		assert.Equal(t, "cannot connect", domainErrors.Message(e.Err))
	})
}

func TestStoreFacade_Receipt(t *testing.T) {
	ctx := context.Background()

	t.Run("missing receipt is unavailable", func(t *testing.T) {
		f := service.NewStoreFacade(mocks.NewFakePaymentQueue(nil), zap.NewNop())

		_, err := f.ReceiptData(ctx)
		assert.ErrorIs(t, err, domainErrors.ErrReceiptUnavailable)
	})

	t.Run("concurrent refreshes share one platform request", func(t *testing.T) {
		queue := mocks.NewFakePaymentQueue(nil)
		f := service.NewStoreFacade(queue, zap.NewNop())
		release := make(chan struct{})
		queue.OnReceiptRefresh = func() {
			go func() {
				<-release
				queue.SetReceipt([]byte("fresh"))
				f.ReceiptRefreshed()
			}()
		}

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = f.RefreshReceipt(ctx)
			}(i)
		}
		require.Eventually(t, func() bool { return queue.Refreshes() == 1 }, time.Second, 5*time.Millisecond)
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.NoError(t, errs[0])
		assert.NoError(t, errs[1])
		assert.Equal(t, 1, queue.Refreshes())

		data, err := f.ReceiptData(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte("fresh"), data)
	})

	t.Run("failed refresh is a network error", func(t *testing.T) {
		queue := mocks.NewFakePaymentQueue(nil)
		f := service.NewStoreFacade(queue, zap.NewNop())
		queue.OnReceiptRefresh = func() { f.ReceiptRefreshFailed(errors.New("not signed in")) }

		err := f.RefreshReceipt(ctx)
		assert.ErrorIs(t, err, domainErrors.ErrNetwork)
	})

	t.Run("refresh times out", func(t *testing.T) {
		f := service.NewStoreFacade(mocks.NewFakePaymentQueue(nil), zap.NewNop(), service.WithRefreshTimeout(20*time.Millisecond))

		err := f.RefreshReceipt(ctx)
		assert.ErrorIs(t, err, domainErrors.ErrNetwork)
	})
}

func TestStoreFacade_StorePaymentRequested(t *testing.T) {
	var got entity.Payment
	f := service.NewStoreFacade(mocks.NewFakePaymentQueue(nil), zap.NewNop(),
		service.WithPromotedPurchaseHandler(func(_ entity.Product, p entity.Payment) { got = p }))

	payment := entity.Payment{ProductIdentifier: "com.example.promo", Quantity: 1}
	handled := f.StorePaymentRequested(entity.Product{Identifier: "com.example.promo"}, payment)

	assert.False(t, handled)
	assert.Equal(t, payment, got)
	_, ok := f.Product("com.example.promo")
	assert.True(t, ok)
}
