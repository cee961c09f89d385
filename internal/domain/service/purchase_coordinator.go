package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/bivex/storekit-settlement/internal/domain/entity"
	domainErrors "github.com/bivex/storekit-settlement/internal/domain/errors"
	"github.com/bivex/storekit-settlement/internal/domain/repository"
)

// RejectionPolicy decides what happens to a transaction the App Store definitively rejected
type RejectionPolicy int

const (
	// RejectionPolicyFinish finishes the transaction and drops its record.
	// A rejected purchase otherwise stays in the platform queue and is redelivered forever.
	RejectionPolicyFinish RejectionPolicy = iota
	// RejectionPolicyHold keeps the record and leaves the transaction unfinished for support escalation
	RejectionPolicyHold
)

// String returns the string representation of the policy
func (p RejectionPolicy) String() string {
	if p == RejectionPolicyHold {
		return "hold"
	}
	return "finish"
}

const (
	defaultCaptureAttempts = 3
	defaultCaptureBackoff  = 500 * time.Millisecond
	defaultRetryDelay      = time.Minute
	defaultRetryMax        = 10
	maxRetryDelay          = time.Hour
)

// ErrorReporter forwards unexpected settlement failures to an error tracker
type ErrorReporter func(err error, tags map[string]string)

type pendingVerification struct {
	record *entity.TransactionRecord
	event  entity.PurchaseEvent
}

type verificationResult struct {
	transactionID string
	verification  *entity.ReceiptVerification
	err           error
}

type coordinatorRequest struct {
	run  func(ctx context.Context) (interface{}, error)
	done chan coordinatorReply
}

type coordinatorReply struct {
	value interface{}
	err   error
}

// PurchaseCoordinator settles completed purchases: it persists each transaction before
// verifying its receipt and finishes it only once verification has a definite outcome.
// All persistence, finish and notification side effects run on one goroutine.
type PurchaseCoordinator struct {
	gateway  StoreGateway
	store    repository.TransactionStore
	verifier ReceiptVerifier
	settled  SettledCache
	logger   *zap.Logger

	policy          RejectionPolicy
	scheduler       RetryScheduler
	retryDelay      time.Duration
	retryMax        int
	captureAttempts uint64
	captureBackoff  time.Duration
	report          ErrorReporter

	// owned by the actor goroutine
	observer Observer
	inflight map[string]*pendingVerification
	attempts map[string]int

	results  chan verificationResult
	requests chan coordinatorRequest

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	workers sync.WaitGroup
}

// CoordinatorOption configures a PurchaseCoordinator
type CoordinatorOption func(*PurchaseCoordinator)

// WithRejectionPolicy sets the policy for definitive rejections
func WithRejectionPolicy(policy RejectionPolicy) CoordinatorOption {
	return func(c *PurchaseCoordinator) { c.policy = policy }
}

// WithRetryScheduler enables automatic retries for retryable verification failures
func WithRetryScheduler(scheduler RetryScheduler, delay time.Duration, max int) CoordinatorOption {
	return func(c *PurchaseCoordinator) {
		c.scheduler = scheduler
		if delay > 0 {
			c.retryDelay = delay
		}
		if max > 0 {
			c.retryMax = max
		}
	}
}

// WithReceiptCapture sets how often the receipt is read again after a refresh
func WithReceiptCapture(attempts uint64, backoff time.Duration) CoordinatorOption {
	return func(c *PurchaseCoordinator) {
		c.captureAttempts = attempts
		if backoff > 0 {
			c.captureBackoff = backoff
		}
	}
}

// WithErrorReporter registers the reporter for rejections and settlement failures
func WithErrorReporter(report ErrorReporter) CoordinatorOption {
	return func(c *PurchaseCoordinator) { c.report = report }
}

// NewPurchaseCoordinator creates a new purchase coordinator
func NewPurchaseCoordinator(
	gateway StoreGateway,
	store repository.TransactionStore,
	verifier ReceiptVerifier,
	settled SettledCache,
	logger *zap.Logger,
	opts ...CoordinatorOption,
) *PurchaseCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &PurchaseCoordinator{
		gateway:         gateway,
		store:           store,
		verifier:        verifier,
		settled:         settled,
		logger:          logger.With(zap.String("component", "purchase_coordinator")),
		policy:          RejectionPolicyFinish,
		retryDelay:      defaultRetryDelay,
		retryMax:        defaultRetryMax,
		captureAttempts: defaultCaptureAttempts,
		captureBackoff:  defaultCaptureBackoff,
		report:          func(error, map[string]string) {},
		requests:        make(chan coordinatorRequest),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the configured rejection policy
func (c *PurchaseCoordinator) Policy() RejectionPolicy {
	return c.policy
}

// Start launches the coordinator goroutine. Notifications go to observer until Stop
func (c *PurchaseCoordinator) Start(ctx context.Context, observer Observer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return errors.New("purchase coordinator is already running")
	}
	if observer == nil {
		observer = noopObserver{}
	}

	ctx, cancel := context.WithCancel(ctx)
	c.observer = observer
	c.inflight = make(map[string]*pendingVerification)
	c.attempts = make(map[string]int)
	c.results = make(chan verificationResult)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.run(ctx, c.done)
	c.logger.Info("purchase coordinator started", zap.String("rejection_policy", c.policy.String()))
	return nil
}

// Stop cancels outstanding verifications and waits for the coordinator goroutine to exit.
// Cancelled verifications produce no notification and their records stay persisted.
func (c *PurchaseCoordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
	c.workers.Wait()
	c.logger.Info("purchase coordinator stopped")
}

// Retry verifies the persisted record matching id again
func (c *PurchaseCoordinator) Retry(ctx context.Context, id string) error {
	_, err := c.call(ctx, func(actx context.Context) (interface{}, error) {
		rec, err := c.store.Retrieve(actx, id)
		if err != nil {
			return nil, err
		}
		if _, busy := c.inflight[rec.TransactionIdentifier]; busy {
			c.logger.Debug("verification already in flight", zap.String("transaction_id", rec.TransactionIdentifier))
			return nil, nil
		}
		c.startVerification(actx, rec, eventFromRecord(rec))
		return nil, nil
	})
	return err
}

// RecoverPending verifies every persisted record not already being verified.
// It returns the number of verifications started.
func (c *PurchaseCoordinator) RecoverPending(ctx context.Context) (int, error) {
	v, err := c.call(ctx, func(actx context.Context) (interface{}, error) {
		records, err := c.store.RetrieveAll(actx)
		if err != nil {
			return 0, err
		}
		started := 0
		for _, rec := range records {
			if _, busy := c.inflight[rec.TransactionIdentifier]; busy {
				continue
			}
			c.startVerification(actx, rec, eventFromRecord(rec))
			started++
		}
		if started > 0 {
			c.logger.Info("recovering pending transactions", zap.Int("count", started))
		}
		return started, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Pending lists the persisted records awaiting settlement
func (c *PurchaseCoordinator) Pending(ctx context.Context) ([]*entity.TransactionRecord, error) {
	records, err := c.store.RetrieveAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}
	return records, nil
}

// call runs fn on the coordinator goroutine and waits for its result
func (c *PurchaseCoordinator) call(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	c.mu.Lock()
	running, done := c.running, c.done
	c.mu.Unlock()
	if !running {
		return nil, domainErrors.ErrCoordinatorStopped
	}

	req := coordinatorRequest{run: fn, done: make(chan coordinatorReply, 1)}
	select {
	case c.requests <- req:
	case <-done:
		return nil, domainErrors.ErrCoordinatorStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case reply := <-req.done:
		return reply.value, reply.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *PurchaseCoordinator) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	events := c.gateway.Events()
	downloads := c.gateway.Downloads()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			c.handleEvent(ctx, event)
		case event, ok := <-downloads:
			if !ok {
				downloads = nil
				continue
			}
			c.observer.DownloadUpdated(entity.NewDownloadNotification(event))
		case res := <-c.results:
			c.handleResult(ctx, res)
		case req := <-c.requests:
			value, err := req.run(ctx)
			req.done <- coordinatorReply{value: value, err: err}
		}
	}
}

func (c *PurchaseCoordinator) handleEvent(ctx context.Context, event entity.PurchaseEvent) {
	if !event.State.IsSettleable() {
		c.notify(event, entity.SettlementNone, event.Err, nil)
		return
	}

	id := event.TransactionIdentifier
	log := c.logger.With(zap.String("transaction_id", id), zap.String("product_id", event.ProductIdentifier))
	if id == "" {
		log.Warn("settleable event without transaction identifier")
		c.notify(event, entity.SettlementNone, domainErrors.NewInvalidParameterError("transaction identifier is empty"), nil)
		return
	}
	if _, busy := c.inflight[id]; busy || c.settled.Contains(id) {
		log.Debug("duplicate delivery dropped")
		return
	}

	rec, err := c.findRecord(ctx, id)
	if err != nil {
		log.Error("failed to read transaction store", zap.Error(err))
		c.report(err, map[string]string{"transaction_id": id, "stage": "load"})
		c.notify(event, entity.SettlementRetry, err, nil)
		return
	}

	if rec == nil {
		receipt, err := c.captureReceipt(ctx)
		if err != nil {
			log.Warn("receipt unavailable, transaction left unfinished", zap.Error(err))
			c.notify(event, entity.SettlementRetry, &domainErrors.NetworkError{Op: "capture receipt", Err: err}, nil)
			return
		}
		rec = entity.NewTransactionRecord(event, receipt)
		if err := c.store.Store(ctx, rec); err != nil {
			log.Error("failed to persist transaction", zap.Error(err))
			c.report(err, map[string]string{"transaction_id": id, "stage": "store"})
			c.notify(event, entity.SettlementRetry, err, nil)
			return
		}
		log.Debug("transaction persisted")
	} else {
		log.Info("reusing persisted transaction")
	}

	c.startVerification(ctx, rec, event)
}

// findRecord returns the record stored under exactly this transaction identifier
func (c *PurchaseCoordinator) findRecord(ctx context.Context, transactionID string) (*entity.TransactionRecord, error) {
	ok, err := c.store.Contains(ctx, transactionID)
	if err != nil || !ok {
		return nil, err
	}
	records, err := c.store.RetrieveAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.TransactionIdentifier == transactionID {
			return rec, nil
		}
	}
	return nil, nil
}

// captureReceipt reads the receipt, refreshing it once when it is missing
func (c *PurchaseCoordinator) captureReceipt(ctx context.Context) ([]byte, error) {
	receipt, err := c.gateway.ReceiptData(ctx)
	if err == nil {
		return receipt, nil
	}
	c.logger.Debug("receipt missing, refreshing", zap.Error(err))
	if err := c.gateway.RefreshReceipt(ctx); err != nil {
		return nil, err
	}

	backoff := retry.WithMaxRetries(c.captureAttempts, retry.NewExponential(c.captureBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var readErr error
		receipt, readErr = c.gateway.ReceiptData(ctx)
		if readErr != nil {
			return retry.RetryableError(readErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (c *PurchaseCoordinator) startVerification(ctx context.Context, rec *entity.TransactionRecord, event entity.PurchaseEvent) {
	id := rec.TransactionIdentifier
	c.inflight[id] = &pendingVerification{record: rec, event: event}

	receipt, err := rec.ReceiptBytes()
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		res := verificationResult{transactionID: id, err: err}
		if err == nil {
			res.verification, res.err = c.verifier.Verify(ctx, receipt)
		}
		select {
		case c.results <- res:
		case <-ctx.Done():
		}
	}()
}

func (c *PurchaseCoordinator) handleResult(ctx context.Context, res verificationResult) {
	pending, ok := c.inflight[res.transactionID]
	if !ok {
		return
	}
	delete(c.inflight, res.transactionID)

	rec, event, err := pending.record, pending.event, res.err
	log := c.logger.With(zap.String("transaction_id", rec.TransactionIdentifier))

	switch {
	case err == nil:
		log.Info("receipt verified", zap.String("environment", res.verification.Environment))
		if err := c.settle(ctx, rec); err != nil {
			c.finishFailed(ctx, rec, event, err)
			return
		}
		c.notify(event, entity.SettlementVerified, nil, res.verification.Payload)

	case errors.Is(err, domainErrors.ErrVerificationCancelled) || errors.Is(err, context.Canceled):
		log.Debug("verification cancelled")

	case domainErrors.IsDefinitiveRejection(err):
		log.Warn("receipt rejected", zap.Int("status", domainErrors.Code(err)), zap.String("policy", c.policy.String()))
		c.report(err, map[string]string{"transaction_id": rec.TransactionIdentifier, "stage": "verify"})
		if c.policy == RejectionPolicyHold {
			c.notify(event, entity.SettlementHeld, err, nil)
			return
		}
		if finishErr := c.settle(ctx, rec); finishErr != nil {
			c.finishFailed(ctx, rec, event, finishErr)
			return
		}
		c.notify(event, entity.SettlementRejected, err, nil)

	default:
		log.Warn("verification failed, record kept", zap.Error(err), zap.Bool("retryable", domainErrors.IsRetryable(err)))
		c.notify(event, entity.SettlementRetry, err, nil)
		if domainErrors.IsRetryable(err) {
			c.scheduleRetry(ctx, rec.TransactionIdentifier)
		}
	}
}

// settle finishes the transaction and drops its records.
// A record stored under the original transaction identifier is dropped too.
// Records are kept when the platform refuses to finish.
func (c *PurchaseCoordinator) settle(ctx context.Context, rec *entity.TransactionRecord) error {
	id := rec.TransactionIdentifier
	log := c.logger.With(zap.String("transaction_id", id))

	if err := c.gateway.FinishTransaction(ctx, id); err != nil {
		return &domainErrors.NetworkError{Op: "finish transaction", Err: err}
	}
	if err := c.store.Remove(ctx, id); err != nil {
		log.Error("failed to remove transaction record", zap.Error(err))
		c.report(err, map[string]string{"transaction_id": id, "stage": "remove"})
	}
	if orig := rec.OriginalID(); orig != "" && orig != id {
		if ok, err := c.store.Contains(ctx, orig); err == nil && ok {
			if err := c.store.Remove(ctx, orig); err != nil {
				log.Error("failed to remove original transaction record", zap.String("original_transaction_id", orig), zap.Error(err))
			}
		}
	}
	c.settled.Add(id)
	delete(c.attempts, id)
	return nil
}

// finishFailed leaves the verified record in place so a retry or redelivery settles it again
func (c *PurchaseCoordinator) finishFailed(ctx context.Context, rec *entity.TransactionRecord, event entity.PurchaseEvent, err error) {
	id := rec.TransactionIdentifier
	c.logger.Error("failed to finish transaction, record kept", zap.String("transaction_id", id), zap.Error(err))
	c.report(err, map[string]string{"transaction_id": id, "stage": "finish"})
	c.notify(event, entity.SettlementRetry, err, nil)
	c.scheduleRetry(ctx, id)
}

func (c *PurchaseCoordinator) scheduleRetry(ctx context.Context, transactionID string) {
	if c.scheduler == nil {
		return
	}
	attempt := c.attempts[transactionID]
	if attempt >= c.retryMax {
		c.logger.Warn("retry budget exhausted", zap.String("transaction_id", transactionID), zap.Int("attempts", attempt))
		return
	}
	c.attempts[transactionID] = attempt + 1

	delay := c.retryDelay << attempt
	if delay <= 0 || delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	if err := c.scheduler.ScheduleRetry(ctx, transactionID, delay); err != nil {
		c.logger.Error("failed to schedule retry", zap.String("transaction_id", transactionID), zap.Error(err))
	}
}

func (c *PurchaseCoordinator) notify(event entity.PurchaseEvent, settlement entity.SettlementStatus, err error, payload map[string]interface{}) {
	n := entity.NewPurchaseNotification(event)
	n.Settlement = settlement
	n.Payload = payload
	if err != nil {
		n.ErrorCode = domainErrors.Code(err)
		n.ErrorMessage = domainErrors.Message(err)
		n.Retryable = domainErrors.IsRetryable(err)
	}
	c.observer.PurchaseUpdated(n)
}

// eventFromRecord rebuilds the settled event a persisted record was captured from
func eventFromRecord(rec *entity.TransactionRecord) entity.PurchaseEvent {
	event := entity.PurchaseEvent{
		State:                         entity.PurchaseStateSucceeded,
		ProductIdentifier:             rec.ProductIdentifier,
		UserIdentifier:                rec.UserID(),
		TransactionIdentifier:         rec.TransactionIdentifier,
		OriginalTransactionIdentifier: rec.OriginalID(),
	}
	if rec.IsRestored() {
		event.State = entity.PurchaseStateRestored
	}
	if t, err := entity.ParseTimestamp(rec.TransactionTimestamp); err == nil {
		event.TransactionDate = t
	}
	if rec.OriginalTransactionTimestamp != nil {
		if t, err := entity.ParseTimestamp(*rec.OriginalTransactionTimestamp); err == nil {
			event.OriginalTransactionDate = &t
		}
	}
	return event
}
