package repository

import (
	"context"

	"github.com/bivex/storekit-settlement/internal/domain/entity"
)

// TransactionStore defines the interface for durable storage of transactions awaiting settlement.
// Every backend keeps records in append order under the same collection key.
type TransactionStore interface {
	// Contains reports whether a record with the given transaction identifier exists
	Contains(ctx context.Context, transactionID string) (bool, error)

	// Store appends a record. Duplicates are not rejected
	Store(ctx context.Context, record *entity.TransactionRecord) error

	// RetrieveAll returns every record in append order
	RetrieveAll(ctx context.Context) ([]*entity.TransactionRecord, error)

	// Retrieve returns the first record whose transaction or original transaction identifier matches.
	// It returns ErrTransactionNotFound when nothing matches
	Retrieve(ctx context.Context, id string) (*entity.TransactionRecord, error)

	// Remove deletes the first record whose transaction or original transaction identifier matches.
	// Removing an unknown identifier is a no-op
	Remove(ctx context.Context, id string) error

	// RemoveAll deletes every record
	RemoveAll(ctx context.Context) error
}
