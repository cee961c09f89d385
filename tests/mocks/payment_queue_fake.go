package mocks

import (
	"context"
	"sync"

	"github.com/bivex/storekit-settlement/internal/domain/entity"
)

// FakePaymentQueue records every request made to the platform payment queue.
// Hooks let a test answer asynchronously the way the platform does.
type FakePaymentQueue struct {
	mu sync.Mutex

	canPay           bool
	receipt          []byte
	productRequests  [][]string
	payments         []entity.Payment
	restores         []string
	finished         []string
	downloadsStarted map[string][]string
	refreshes        int

	AddPaymentErr     error
	ProductRequestErr error
	RefreshErr        error
	FinishErr         error

	OnProductRequest func(productIDs []string)
	OnReceiptRefresh func()
}

// NewFakePaymentQueue creates a queue that allows payments and holds the given receipt
func NewFakePaymentQueue(receipt []byte) *FakePaymentQueue {
	return &FakePaymentQueue{
		canPay:           true,
		receipt:          receipt,
		downloadsStarted: make(map[string][]string),
	}
}

func (q *FakePaymentQueue) CanMakePayments(context.Context) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.canPay
}

func (q *FakePaymentQueue) SetCanMakePayments(v bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.canPay = v
}

// SetFinishErr changes the FinishTransaction failure while the queue is in use
func (q *FakePaymentQueue) SetFinishErr(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.FinishErr = err
}

func (q *FakePaymentQueue) StartProductRequest(_ context.Context, productIDs []string) error {
	q.mu.Lock()
	q.productRequests = append(q.productRequests, append([]string(nil), productIDs...))
	hook, err := q.OnProductRequest, q.ProductRequestErr
	q.mu.Unlock()

	if err != nil {
		return err
	}
	if hook != nil {
		hook(productIDs)
	}
	return nil
}

func (q *FakePaymentQueue) AddPayment(_ context.Context, payment entity.Payment) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.AddPaymentErr != nil {
		return q.AddPaymentErr
	}
	q.payments = append(q.payments, payment)
	return nil
}

func (q *FakePaymentQueue) RestoreCompletedTransactions(_ context.Context, userID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.restores = append(q.restores, userID)
	return nil
}

func (q *FakePaymentQueue) FinishTransaction(_ context.Context, transactionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.FinishErr != nil {
		return q.FinishErr
	}
	q.finished = append(q.finished, transactionID)
	return nil
}

func (q *FakePaymentQueue) StartDownloads(_ context.Context, transactionID string, contentIDs []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.downloadsStarted[transactionID] = append(q.downloadsStarted[transactionID], contentIDs...)
	return nil
}

func (q *FakePaymentQueue) ReceiptData(context.Context) ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]byte(nil), q.receipt...), nil
}

func (q *FakePaymentQueue) SetReceipt(receipt []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.receipt = receipt
}

func (q *FakePaymentQueue) StartReceiptRefresh(context.Context) error {
	q.mu.Lock()
	q.refreshes++
	hook, err := q.OnReceiptRefresh, q.RefreshErr
	q.mu.Unlock()

	if err != nil {
		return err
	}
	if hook != nil {
		hook()
	}
	return nil
}

// Finished returns the finished transaction identifiers in order
func (q *FakePaymentQueue) Finished() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.finished...)
}

// Payments returns the payments added to the queue
func (q *FakePaymentQueue) Payments() []entity.Payment {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]entity.Payment(nil), q.payments...)
}

// ProductRequests returns the product identifiers of every products request
func (q *FakePaymentQueue) ProductRequests() [][]string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([][]string(nil), q.productRequests...)
}

// Restores returns the user identifiers passed to restore requests
func (q *FakePaymentQueue) Restores() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.restores...)
}

// DownloadsStarted returns the content identifiers started for a transaction
func (q *FakePaymentQueue) DownloadsStarted(transactionID string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.downloadsStarted[transactionID]...)
}

// Refreshes returns how many receipt refreshes were started
func (q *FakePaymentQueue) Refreshes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.refreshes
}
