package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/bivex/storekit-settlement/internal/domain/entity"
)

// MockTransactionStore is a mock implementation of TransactionStore
type MockTransactionStore struct {
	mock.Mock
}

// NewMockTransactionStore creates a new mock transaction store
func NewMockTransactionStore() *MockTransactionStore {
	return &MockTransactionStore{}
}

func (m *MockTransactionStore) Contains(ctx context.Context, transactionID string) (bool, error) {
	args := m.Called(ctx, transactionID)
	return args.Bool(0), args.Error(1)
}

func (m *MockTransactionStore) Store(ctx context.Context, record *entity.TransactionRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockTransactionStore) RetrieveAll(ctx context.Context) ([]*entity.TransactionRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entity.TransactionRecord), args.Error(1)
}

func (m *MockTransactionStore) Retrieve(ctx context.Context, id string) (*entity.TransactionRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.TransactionRecord), args.Error(1)
}

func (m *MockTransactionStore) Remove(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockTransactionStore) RemoveAll(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
