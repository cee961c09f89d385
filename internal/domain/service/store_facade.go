package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/bivex/storekit-settlement/internal/domain/entity"
	domainErrors "github.com/bivex/storekit-settlement/internal/domain/errors"
)

const (
	defaultEventBuffer    = 64
	defaultRefreshTimeout = 2 * time.Minute
	receiptRefreshKey     = "receipt"
)

// ProductsResult is the answer to a products request
type ProductsResult struct {
	Products           []entity.Product `json:"products"`
	InvalidIdentifiers []string         `json:"invalid_identifiers"`
}

type productsResponse struct {
	result *ProductsResult
	err    error
}

// PromotedPurchaseHandler is called when the user starts a purchase from the App Store itself
type PromotedPurchaseHandler func(product entity.Product, payment entity.Payment)

// StoreFacade maps platform payment-queue callbacks onto purchase and download events.
// It owns the product catalog and the transactions the platform has reported but not yet finished.
type StoreFacade struct {
	queue          PaymentQueue
	logger         *zap.Logger
	refreshTimeout time.Duration
	promoted       PromotedPurchaseHandler

	mu                 sync.Mutex
	catalog            []entity.Product
	invalidIdentifiers []string
	productRequest     chan productsResponse
	receiptRefresh     chan error
	purchased          map[string]*entity.PlatformTransaction
	restored           map[string]*entity.PlatformTransaction

	refresh   singleflight.Group
	events    chan entity.PurchaseEvent
	downloads chan entity.DownloadEvent
}

// FacadeOption configures a StoreFacade
type FacadeOption func(*StoreFacade)

// WithEventBuffer sets the capacity of the purchase and download event channels
func WithEventBuffer(size int) FacadeOption {
	return func(f *StoreFacade) {
		if size > 0 {
			f.events = make(chan entity.PurchaseEvent, size)
			f.downloads = make(chan entity.DownloadEvent, size)
		}
	}
}

// WithRefreshTimeout bounds how long a receipt refresh waits for the platform
func WithRefreshTimeout(timeout time.Duration) FacadeOption {
	return func(f *StoreFacade) { f.refreshTimeout = timeout }
}

// WithPromotedPurchaseHandler registers the handler for App Store initiated purchases
func WithPromotedPurchaseHandler(h PromotedPurchaseHandler) FacadeOption {
	return func(f *StoreFacade) { f.promoted = h }
}

// NewStoreFacade creates a facade over the given payment queue
func NewStoreFacade(queue PaymentQueue, logger *zap.Logger, opts ...FacadeOption) *StoreFacade {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &StoreFacade{
		queue:          queue,
		logger:         logger.With(zap.String("component", "store_facade")),
		refreshTimeout: defaultRefreshTimeout,
		purchased:      make(map[string]*entity.PlatformTransaction),
		restored:       make(map[string]*entity.PlatformTransaction),
		events:         make(chan entity.PurchaseEvent, defaultEventBuffer),
		downloads:      make(chan entity.DownloadEvent, defaultEventBuffer),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Events returns the purchase event stream
func (f *StoreFacade) Events() <-chan entity.PurchaseEvent {
	return f.events
}

// Downloads returns the download event stream
func (f *StoreFacade) Downloads() <-chan entity.DownloadEvent {
	return f.downloads
}

// CanMakePayments reports whether the user is allowed to make payments
func (f *StoreFacade) CanMakePayments(ctx context.Context) bool {
	return f.queue.CanMakePayments(ctx)
}

// RequestProducts asks the platform for the given products and waits for its answer.
// Only one request may be in flight at a time.
func (f *StoreFacade) RequestProducts(ctx context.Context, productIDs []string) (*ProductsResult, error) {
	ids := uniqueNonEmpty(productIDs)
	if len(ids) == 0 {
		return nil, domainErrors.NewInvalidParameterError("An array of product identifiers is null or empty")
	}

	f.mu.Lock()
	if f.productRequest != nil {
		f.mu.Unlock()
		return nil, domainErrors.ErrProductRequestInFlight
	}
	ch := make(chan productsResponse, 1)
	f.productRequest = ch
	f.mu.Unlock()

	f.logger.Debug("requesting products", zap.Strings("product_ids", ids))
	if err := f.queue.StartProductRequest(ctx, ids); err != nil {
		f.clearProductRequest(ch)
		return nil, &domainErrors.NetworkError{Op: "start products request", Err: err}
	}

	select {
	case resp := <-ch:
		return resp.result, resp.err
	case <-ctx.Done():
		f.clearProductRequest(ch)
		return nil, ctx.Err()
	}
}

func (f *StoreFacade) clearProductRequest(ch chan productsResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.productRequest == ch {
		f.productRequest = nil
	}
}

// Products returns a copy of the product catalog
func (f *StoreFacade) Products() []entity.Product {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entity.Product(nil), f.catalog...)
}

// Product looks up a product in the catalog
func (f *StoreFacade) Product(productID string) (entity.Product, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.productLocked(productID)
}

func (f *StoreFacade) productLocked(productID string) (entity.Product, bool) {
	for _, p := range f.catalog {
		if p.Identifier == productID {
			return p, true
		}
	}
	return entity.Product{}, false
}

// InvalidIdentifiers returns the identifiers the App Store did not recognise
func (f *StoreFacade) InvalidIdentifiers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.invalidIdentifiers...)
}

// Purchase adds a payment for a catalog product to the queue.
// Validation failures are reported as Failed events, not returned.
func (f *StoreFacade) Purchase(ctx context.Context, productID, userID string, quantity int) error {
	if productID == "" {
		return f.emit(ctx, entity.PurchaseEvent{
			State: entity.PurchaseStateFailed,
			Err:   domainErrors.NewInvalidParameterError("The given product identifier is null or empty"),
		})
	}
	if _, ok := f.Product(productID); !ok {
		return f.emit(ctx, entity.PurchaseEvent{
			State:             entity.PurchaseStateFailed,
			ProductIdentifier: productID,
			Err:               domainErrors.NewUnknownProductError(productID),
		})
	}
	if quantity < 1 {
		quantity = 1
	}

	payment := entity.Payment{ProductIdentifier: productID, UserIdentifier: userID, Quantity: quantity}
	f.logger.Debug("adding payment", zap.String("product_id", productID), zap.Int("quantity", quantity))
	if err := f.queue.AddPayment(ctx, payment); err != nil {
		netErr := &domainErrors.NetworkError{Op: "add payment", Err: err}
		if emitErr := f.emit(ctx, entity.PurchaseEvent{
			State:             entity.PurchaseStateFailed,
			ProductIdentifier: productID,
			UserIdentifier:    userID,
			Err:               netErr,
		}); emitErr != nil {
			return emitErr
		}
		return netErr
	}
	return nil
}

// RestoreTransactions asks the platform to redeliver previously completed purchases
func (f *StoreFacade) RestoreTransactions(ctx context.Context, userID string) error {
	f.mu.Lock()
	f.restored = make(map[string]*entity.PlatformTransaction)
	f.mu.Unlock()

	if err := f.queue.RestoreCompletedTransactions(ctx, userID); err != nil {
		return &domainErrors.NetworkError{Op: "restore completed transactions", Err: err}
	}
	return nil
}

// FinishTransaction removes the transaction from the platform queue.
// Unknown identifiers are still forwarded since finishing twice is a platform no-op.
func (f *StoreFacade) FinishTransaction(ctx context.Context, transactionID string) error {
	if transactionID == "" {
		return domainErrors.NewInvalidParameterError("transaction identifier is empty")
	}
	if err := f.queue.FinishTransaction(ctx, transactionID); err != nil {
		return fmt.Errorf("failed to finish transaction %s: %w", transactionID, err)
	}
	f.mu.Lock()
	delete(f.purchased, transactionID)
	delete(f.restored, transactionID)
	f.mu.Unlock()
	return nil
}

// PurchasedTransaction returns a tracked purchased transaction
func (f *StoreFacade) PurchasedTransaction(transactionID string) (entity.PlatformTransaction, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.purchased[transactionID]
	if !ok {
		return entity.PlatformTransaction{}, false
	}
	return *tx, true
}

// RestoredTransaction returns a tracked restored transaction matching either identifier
func (f *StoreFacade) RestoredTransaction(id string) (entity.PlatformTransaction, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.restored {
		if tx.Identifier == id || (tx.OriginalIdentifier != "" && tx.OriginalIdentifier == id) {
			return *tx, true
		}
	}
	return entity.PlatformTransaction{}, false
}

// ReceiptData returns the current App Store receipt
func (f *StoreFacade) ReceiptData(ctx context.Context) ([]byte, error) {
	data, err := f.queue.ReceiptData(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domainErrors.ErrReceiptUnavailable, err)
	}
	if len(data) == 0 {
		return nil, domainErrors.ErrReceiptUnavailable
	}
	return data, nil
}

// RefreshReceipt asks the platform for a fresh receipt and waits for the outcome.
// Concurrent callers share one outstanding platform request.
func (f *StoreFacade) RefreshReceipt(ctx context.Context) error {
	ch := f.refresh.DoChan(receiptRefreshKey, func() (interface{}, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.refreshTimeout)
		defer cancel()
		return nil, f.refreshReceipt(refreshCtx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *StoreFacade) refreshReceipt(ctx context.Context) error {
	done := make(chan error, 1)
	f.mu.Lock()
	f.receiptRefresh = done
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		if f.receiptRefresh == done {
			f.receiptRefresh = nil
		}
		f.mu.Unlock()
	}()

	f.logger.Debug("refreshing receipt")
	if err := f.queue.StartReceiptRefresh(ctx); err != nil {
		return &domainErrors.NetworkError{Op: "start receipt refresh", Err: err}
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &domainErrors.NetworkError{Op: "refresh receipt", Err: ctx.Err()}
	}
}

// ProductsReceived is called by the queue with the App Store's product response
func (f *StoreFacade) ProductsReceived(products []entity.Product, invalidIdentifiers []string) {
	f.mu.Lock()
	for _, p := range products {
		if _, ok := f.productLocked(p.Identifier); !ok {
			f.catalog = append(f.catalog, p)
		}
	}
	for _, id := range invalidIdentifiers {
		if !contains(f.invalidIdentifiers, id) {
			f.invalidIdentifiers = append(f.invalidIdentifiers, id)
		}
	}
	ch := f.productRequest
	f.productRequest = nil
	f.mu.Unlock()

	f.logger.Debug("products received", zap.Int("valid", len(products)), zap.Strings("invalid", invalidIdentifiers))
	if ch != nil {
		ch <- productsResponse{result: &ProductsResult{
			Products:           append([]entity.Product{}, products...),
			InvalidIdentifiers: append([]string{}, invalidIdentifiers...),
		}}
	}
}

// ProductsRequestFailed is called by the queue when the products request fails
func (f *StoreFacade) ProductsRequestFailed(cause error) {
	f.mu.Lock()
	ch := f.productRequest
	f.productRequest = nil
	f.mu.Unlock()

	f.logger.Warn("products request failed", zap.Error(cause))
	if ch != nil {
		ch <- productsResponse{err: &domainErrors.NetworkError{Op: "products request", Err: cause}}
	}
}

// ReceiptRefreshed is called by the queue when the receipt refresh completes
func (f *StoreFacade) ReceiptRefreshed() {
	f.completeRefresh(nil)
}

// ReceiptRefreshFailed is called by the queue when the receipt refresh fails
func (f *StoreFacade) ReceiptRefreshFailed(cause error) {
	f.logger.Warn("receipt refresh failed", zap.Error(cause))
	f.completeRefresh(&domainErrors.NetworkError{Op: "refresh receipt", Err: cause})
}

func (f *StoreFacade) completeRefresh(err error) {
	f.mu.Lock()
	ch := f.receiptRefresh
	f.receiptRefresh = nil
	f.mu.Unlock()
	if ch != nil {
		ch <- err
	}
}

// TransactionsUpdated is called by the queue for every transaction state change
func (f *StoreFacade) TransactionsUpdated(ctx context.Context, transactions []entity.PlatformTransaction) error {
	for i := range transactions {
		tx := transactions[i]
		log := f.logger.With(zap.String("transaction_id", tx.Identifier), zap.String("product_id", tx.ProductIdentifier))

		var err error
		switch tx.State {
		case entity.TransactionStatePurchasing:
			log.Debug("transaction is purchasing")
			err = f.emit(ctx, entity.PurchaseEvent{
				State:             entity.PurchaseStatePurchasing,
				ProductIdentifier: tx.ProductIdentifier,
				UserIdentifier:    tx.UserIdentifier,
			})
		case entity.TransactionStatePurchased:
			log.Debug("transaction purchased")
			f.track(f.purchased, &tx)
			err = f.completeOrDownload(ctx, &tx, entity.PurchaseStateSucceeded)
		case entity.TransactionStateRestored:
			log.Debug("transaction restored")
			f.track(f.restored, &tx)
			err = f.completeOrDownload(ctx, &tx, entity.PurchaseStateRestored)
		case entity.TransactionStateFailed:
			log.Info("transaction failed", zap.Any("error", tx.Err))
			err = f.failTransaction(ctx, &tx, platformError(tx.Err))
		case entity.TransactionStateDeferred:
			log.Debug("transaction deferred")
			err = f.emit(ctx, entity.PurchaseEvent{
				State:             entity.PurchaseStateDeferred,
				ProductIdentifier: tx.ProductIdentifier,
				UserIdentifier:    tx.UserIdentifier,
			})
		default:
			log.Warn("unknown transaction state", zap.String("state", string(tx.State)))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// TransactionsRemoved is called by the queue once finished transactions leave it
func (f *StoreFacade) TransactionsRemoved(transactionIDs []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range transactionIDs {
		delete(f.purchased, id)
		delete(f.restored, id)
		f.logger.Debug("transaction removed from the payment queue", zap.String("transaction_id", id))
	}
}

// DownloadsUpdated is called by the queue for hosted-content download changes.
// A transaction is reported only once none of its downloads is pending.
func (f *StoreFacade) DownloadsUpdated(ctx context.Context, downloads []entity.PlatformDownload) error {
	for _, d := range downloads {
		tx, state, pending := f.updateDownload(d)

		event := entity.DownloadEvent{
			TransactionIdentifier: d.TransactionIdentifier,
			ContentIdentifier:     d.ContentIdentifier,
		}
		if tx != nil {
			event.ProductIdentifier = tx.ProductIdentifier
		}

		var settle func() error
		switch d.State {
		case entity.PlatformDownloadWaiting:
			f.logger.Debug("download waiting", zap.String("content_id", d.ContentIdentifier))
			continue
		case entity.PlatformDownloadActive:
			event.State = entity.DownloadStateInProgress
			event.Progress = d.Progress * 100
		case entity.PlatformDownloadPaused:
			event.State = entity.DownloadStatePaused
			event.Progress = d.Progress * 100
		case entity.PlatformDownloadFinished:
			event.State = entity.DownloadStateSucceeded
			event.Progress = 100
			if tx != nil && !pending {
				settle = func() error { return f.emitSettled(ctx, tx, state) }
			}
		case entity.PlatformDownloadFailed:
			event.State = entity.DownloadStateFailed
			event.Err = platformError(d.Err)
			if tx != nil && !pending {
				settle = func() error { return f.failTransaction(ctx, tx, event.Err) }
			}
		case entity.PlatformDownloadCancelled:
			event.State = entity.DownloadStateCancelled
			if tx != nil && !pending {
				settle = func() error { return f.failTransaction(ctx, tx, domainErrors.NewDownloadCancelledError()) }
			}
		default:
			f.logger.Warn("unknown download state", zap.String("state", string(d.State)))
			continue
		}

		if err := f.emitDownload(ctx, event); err != nil {
			return err
		}
		if settle != nil {
			if err := settle(); err != nil {
				return err
			}
		}
	}
	return nil
}

// RestoreCompleted is called by the queue when all restored transactions were delivered
func (f *StoreFacade) RestoreCompleted(_ context.Context) {
	f.mu.Lock()
	n := len(f.restored)
	f.mu.Unlock()
	f.logger.Info("restore completed", zap.Int("restored", n))
}

// RestoreFailed is called by the queue when restoring fails
func (f *StoreFacade) RestoreFailed(ctx context.Context, cause *entity.PlatformError) error {
	f.logger.Warn("restore failed", zap.Any("error", cause))
	state := entity.PurchaseStateRestoreFailed
	if cause.IsPaymentCancelled() {
		state = entity.PurchaseStateCancelled
	}
	return f.emit(ctx, entity.PurchaseEvent{State: state, Err: platformError(cause)})
}

// StorePaymentRequested is called when the user starts a purchase from the App Store.
// The product joins the catalog; the payment is handed to the registered handler instead of the queue.
func (f *StoreFacade) StorePaymentRequested(product entity.Product, payment entity.Payment) bool {
	f.mu.Lock()
	if _, ok := f.productLocked(product.Identifier); !ok {
		f.catalog = append(f.catalog, product)
	}
	f.mu.Unlock()

	if f.promoted != nil {
		f.promoted(product, payment)
	}
	return false
}

func (f *StoreFacade) track(set map[string]*entity.PlatformTransaction, tx *entity.PlatformTransaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set[tx.Identifier] = tx
}

// updateDownload records the new download state on its tracked transaction and
// returns a snapshot of the transaction along with whether downloads remain pending
func (f *StoreFacade) updateDownload(d entity.PlatformDownload) (*entity.PlatformTransaction, entity.PurchaseState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tx, state := f.purchased[d.TransactionIdentifier], entity.PurchaseStateSucceeded
	if tx == nil {
		tx, state = f.restored[d.TransactionIdentifier], entity.PurchaseStateRestored
	}
	if tx == nil {
		return nil, state, false
	}

	found := false
	for i := range tx.Downloads {
		if tx.Downloads[i].ContentIdentifier == d.ContentIdentifier {
			tx.Downloads[i] = d
			found = true
			break
		}
	}
	if !found {
		tx.Downloads = append(tx.Downloads, d)
	}

	snapshot := *tx
	snapshot.Downloads = append([]entity.PlatformDownload(nil), tx.Downloads...)
	return &snapshot, state, snapshot.HasPendingDownloads()
}

func (f *StoreFacade) completeOrDownload(ctx context.Context, tx *entity.PlatformTransaction, state entity.PurchaseState) error {
	if !tx.HasPendingDownloads() {
		return f.emitSettled(ctx, tx, state)
	}

	var contentIDs []string
	for _, d := range tx.Downloads {
		if d.State.IsPending() {
			contentIDs = append(contentIDs, d.ContentIdentifier)
		}
	}
	if err := f.queue.StartDownloads(ctx, tx.Identifier, contentIDs); err != nil {
		return &domainErrors.NetworkError{Op: "start downloads", Err: err}
	}
	return f.emitDownload(ctx, entity.DownloadEvent{
		State:                 entity.DownloadStateStarted,
		TransactionIdentifier: tx.Identifier,
		ProductIdentifier:     tx.ProductIdentifier,
	})
}

func (f *StoreFacade) emitSettled(ctx context.Context, tx *entity.PlatformTransaction, state entity.PurchaseState) error {
	return f.emit(ctx, entity.PurchaseEvent{
		State:                         state,
		ProductIdentifier:             tx.ProductIdentifier,
		UserIdentifier:                tx.UserIdentifier,
		TransactionIdentifier:         tx.Identifier,
		TransactionDate:               tx.Date,
		OriginalTransactionIdentifier: tx.OriginalIdentifier,
		OriginalTransactionDate:       tx.OriginalDate,
	})
}

// failTransaction reports a failed transaction and finishes it
func (f *StoreFacade) failTransaction(ctx context.Context, tx *entity.PlatformTransaction, cause error) error {
	state := entity.PurchaseStateFailed
	if errors.Is(cause, domainErrors.ErrPlatformCancelled) {
		state = entity.PurchaseStateCancelled
	}
	if err := f.emit(ctx, entity.PurchaseEvent{
		State:                 state,
		ProductIdentifier:     tx.ProductIdentifier,
		UserIdentifier:        tx.UserIdentifier,
		TransactionIdentifier: tx.Identifier,
		Err:                   cause,
	}); err != nil {
		return err
	}
	if tx.Identifier == "" {
		return nil
	}
	return f.FinishTransaction(ctx, tx.Identifier)
}

func (f *StoreFacade) emit(ctx context.Context, event entity.PurchaseEvent) error {
	select {
	case f.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *StoreFacade) emitDownload(ctx context.Context, event entity.DownloadEvent) error {
	select {
	case f.downloads <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// platformError converts a platform error into the domain taxonomy
func platformError(perr *entity.PlatformError) error {
	switch {
	case perr == nil:
		return &domainErrors.StoreError{Message: "unknown platform error"}
	case perr.IsPaymentCancelled():
		return domainErrors.NewPlatformCancelledError(perr.Message)
	}
	return &domainErrors.StoreError{Code: perr.Code, Message: perr.Message, Err: perr}
}

func uniqueNonEmpty(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
