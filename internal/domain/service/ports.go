package service

import (
	"context"
	"time"

	"github.com/bivex/storekit-settlement/internal/domain/entity"
)

// PaymentQueue is the platform payment queue and product catalog.
// Implementations report results back through the StoreFacade callback methods.
type PaymentQueue interface {
	CanMakePayments(ctx context.Context) bool
	StartProductRequest(ctx context.Context, productIDs []string) error
	AddPayment(ctx context.Context, payment entity.Payment) error
	RestoreCompletedTransactions(ctx context.Context, userID string) error
	FinishTransaction(ctx context.Context, transactionID string) error
	StartDownloads(ctx context.Context, transactionID string, contentIDs []string) error
	ReceiptData(ctx context.Context) ([]byte, error)
	StartReceiptRefresh(ctx context.Context) error
}

// ReceiptVerifier checks a receipt with the App Store
type ReceiptVerifier interface {
	Verify(ctx context.Context, receipt []byte) (*entity.ReceiptVerification, error)
}

// Observer receives every purchase and download notification produced by the coordinator.
// Calls are made from the coordinator goroutine and must not block for long.
type Observer interface {
	PurchaseUpdated(n entity.PurchaseNotification)
	DownloadUpdated(n entity.DownloadNotification)
}

// RetryScheduler enqueues a later verification attempt for a persisted transaction
type RetryScheduler interface {
	ScheduleRetry(ctx context.Context, transactionID string, delay time.Duration) error
}

// SettledCache remembers transactions settled by this process so duplicate deliveries are dropped
type SettledCache interface {
	Add(transactionID string)
	Contains(transactionID string) bool
}

// StoreGateway is the part of the StoreFacade the coordinator depends on
type StoreGateway interface {
	Events() <-chan entity.PurchaseEvent
	Downloads() <-chan entity.DownloadEvent
	ReceiptData(ctx context.Context) ([]byte, error)
	RefreshReceipt(ctx context.Context) error
	FinishTransaction(ctx context.Context, transactionID string) error
}

// Observers fans every notification out to each observer in order
type Observers []Observer

func (o Observers) PurchaseUpdated(n entity.PurchaseNotification) {
	for _, obs := range o {
		obs.PurchaseUpdated(n)
	}
}

func (o Observers) DownloadUpdated(n entity.DownloadNotification) {
	for _, obs := range o {
		obs.DownloadUpdated(n)
	}
}

type noopObserver struct{}

func (noopObserver) PurchaseUpdated(entity.PurchaseNotification) {}
func (noopObserver) DownloadUpdated(entity.DownloadNotification) {}
