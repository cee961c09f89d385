package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	domainErrors "github.com/bivex/storekit-settlement/internal/domain/errors"
)

// RetryPayload is the payload of a settlement retry
type RetryPayload struct {
	TransactionID string `json:"transaction_id"`
}

// Settler is the part of the purchase coordinator the jobs drive
type Settler interface {
	Retry(ctx context.Context, id string) error
	RecoverPending(ctx context.Context) (int, error)
}

// SettlementJobHandler handles settlement background jobs
type SettlementJobHandler struct {
	settler Settler
	logger  *zap.Logger
}

// NewSettlementJobHandler creates a new settlement job handler
func NewSettlementJobHandler(settler Settler, logger *zap.Logger) *SettlementJobHandler {
	return &SettlementJobHandler{
		settler: settler,
		logger:  logger,
	}
}

// HandleRetry verifies one persisted transaction again
func (h *SettlementJobHandler) HandleRetry(ctx context.Context, t *asynq.Task) error {
	var p RetryPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if p.TransactionID == "" {
		return fmt.Errorf("transaction_id is empty: %w", asynq.SkipRetry)
	}

	err := h.settler.Retry(ctx, p.TransactionID)
	switch {
	case errors.Is(err, domainErrors.ErrTransactionNotFound):
		h.logger.Info("Retry skipped, transaction already settled", zap.String("transaction_id", p.TransactionID))
		return nil
	case err != nil:
		return fmt.Errorf("failed to retry transaction %s: %w", p.TransactionID, err)
	}

	h.logger.Info("Settlement retry started", zap.String("transaction_id", p.TransactionID))
	return nil
}

// HandleRecover verifies every persisted transaction not already being verified
func (h *SettlementJobHandler) HandleRecover(ctx context.Context, _ *asynq.Task) error {
	started, err := h.settler.RecoverPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover pending transactions: %w", err)
	}
	h.logger.Info("Settlement recovery sweep", zap.Int("started", started))
	return nil
}

// NewRetryTask creates the task for a settlement retry
func NewRetryTask(transactionID string) *asynq.Task {
	return asynq.NewTask(TypeSettlementRetry, mustMarshalJSON(RetryPayload{TransactionID: transactionID}))
}

// RetryScheduler enqueues settlement retries as delayed asynq tasks
type RetryScheduler struct {
	client *asynq.Client
	logger *zap.Logger
}

// NewRetryScheduler creates a new retry scheduler
func NewRetryScheduler(client *asynq.Client, logger *zap.Logger) *RetryScheduler {
	return &RetryScheduler{
		client: client,
		logger: logger,
	}
}

// ScheduleRetry enqueues a retry of transactionID after delay.
// Only one retry per transaction is pending at a time.
func (s *RetryScheduler) ScheduleRetry(ctx context.Context, transactionID string, delay time.Duration) error {
	info, err := s.client.EnqueueContext(ctx, NewRetryTask(transactionID),
		asynq.Queue(QueueCritical),
		asynq.ProcessIn(delay),
		asynq.TaskID(retryTaskID(transactionID)),
		asynq.Retention(time.Minute),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		s.logger.Debug("Retry already scheduled", zap.String("transaction_id", transactionID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue settlement retry: %w", err)
	}

	s.logger.Info("Settlement retry scheduled",
		zap.String("transaction_id", transactionID),
		zap.String("task_id", info.ID),
		zap.Duration("delay", delay),
	)
	return nil
}

func retryTaskID(transactionID string) string {
	return TypeSettlementRetry + ":" + transactionID
}
