package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/bivex/storekit-settlement/internal/domain/entity"
)

// MockReceiptVerifier is a mock implementation of ReceiptVerifier
type MockReceiptVerifier struct {
	mock.Mock
}

// NewMockReceiptVerifier creates a new mock receipt verifier
func NewMockReceiptVerifier() *MockReceiptVerifier {
	return &MockReceiptVerifier{}
}

func (m *MockReceiptVerifier) Verify(ctx context.Context, receipt []byte) (*entity.ReceiptVerification, error) {
	args := m.Called(ctx, receipt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.ReceiptVerification), args.Error(1)
}
