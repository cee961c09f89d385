package command

import (
	"context"
	"fmt"

	domainErrors "github.com/bivex/storekit-settlement/internal/domain/errors"
)

// TransactionRetrier verifies a persisted transaction again
type TransactionRetrier interface {
	Retry(ctx context.Context, id string) error
}

// RetryTransactionCommand handles manual settlement retries
type RetryTransactionCommand struct {
	coordinator TransactionRetrier
}

// NewRetryTransactionCommand creates a new retry transaction command
func NewRetryTransactionCommand(coordinator TransactionRetrier) *RetryTransactionCommand {
	return &RetryTransactionCommand{coordinator: coordinator}
}

// Execute starts a new verification of the transaction matching id
func (c *RetryTransactionCommand) Execute(ctx context.Context, id string) error {
	if id == "" {
		return domainErrors.NewRequiredFieldError("id")
	}
	if err := c.coordinator.Retry(ctx, id); err != nil {
		return fmt.Errorf("failed to retry transaction: %w", err)
	}
	return nil
}
