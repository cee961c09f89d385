package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockRetryScheduler is a mock implementation of RetryScheduler
type MockRetryScheduler struct {
	mock.Mock
}

// NewMockRetryScheduler creates a new mock retry scheduler
func NewMockRetryScheduler() *MockRetryScheduler {
	return &MockRetryScheduler{}
}

func (m *MockRetryScheduler) ScheduleRetry(ctx context.Context, transactionID string, delay time.Duration) error {
	args := m.Called(ctx, transactionID, delay)
	return args.Error(0)
}
