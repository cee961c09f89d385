package tasks_test

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domainErrors "github.com/bivex/storekit-settlement/internal/domain/errors"
	"github.com/bivex/storekit-settlement/internal/worker/tasks"
)

type mockSettler struct {
	mock.Mock
}

func (m *mockSettler) Retry(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockSettler) RecoverPending(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func TestSettlementJobHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("retry forwards the transaction", func(t *testing.T) {
		settler := &mockSettler{}
		settler.On("Retry", ctx, "tx-1").Return(nil)
		h := tasks.NewSettlementJobHandler(settler, zap.NewNop())

		require.NoError(t, h.HandleRetry(ctx, tasks.NewRetryTask("tx-1")))
		settler.AssertExpectations(t)
	})

	t.Run("retry of a settled transaction succeeds", func(t *testing.T) {
		settler := &mockSettler{}
		settler.On("Retry", ctx, "tx-2").Return(domainErrors.ErrTransactionNotFound)
		h := tasks.NewSettlementJobHandler(settler, zap.NewNop())

		assert.NoError(t, h.HandleRetry(ctx, tasks.NewRetryTask("tx-2")))
	})

	t.Run("stopped coordinator is retried by asynq", func(t *testing.T) {
		settler := &mockSettler{}
		settler.On("Retry", ctx, "tx-3").Return(domainErrors.ErrCoordinatorStopped)
		h := tasks.NewSettlementJobHandler(settler, zap.NewNop())

		err := h.HandleRetry(ctx, tasks.NewRetryTask("tx-3"))
		require.Error(t, err)
		assert.ErrorIs(t, err, domainErrors.ErrCoordinatorStopped)
		assert.False(t, errors.Is(err, asynq.SkipRetry))
	})

	t.Run("malformed payload is not retried", func(t *testing.T) {
		h := tasks.NewSettlementJobHandler(&mockSettler{}, zap.NewNop())

		err := h.HandleRetry(ctx, asynq.NewTask(tasks.TypeSettlementRetry, []byte("{")))
		assert.ErrorIs(t, err, asynq.SkipRetry)

		err = h.HandleRetry(ctx, asynq.NewTask(tasks.TypeSettlementRetry, []byte(`{}`)))
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("recover reports the sweep", func(t *testing.T) {
		settler := &mockSettler{}
		settler.On("RecoverPending", ctx).Return(3, nil).Once()
		settler.On("RecoverPending", ctx).Return(0, errors.New("store offline")).Once()
		h := tasks.NewSettlementJobHandler(settler, zap.NewNop())

		require.NoError(t, h.HandleRecover(ctx, asynq.NewTask(tasks.TypeSettlementRecover, nil)))
		assert.Error(t, h.HandleRecover(ctx, asynq.NewTask(tasks.TypeSettlementRecover, nil)))
	})
}
