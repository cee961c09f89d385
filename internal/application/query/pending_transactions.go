package query

import (
	"context"
	"fmt"
	"time"

	"github.com/bivex/storekit-settlement/internal/application/dto"
	"github.com/bivex/storekit-settlement/internal/domain/entity"
)

// PendingLister lists persisted transactions awaiting settlement
type PendingLister interface {
	Pending(ctx context.Context) ([]*entity.TransactionRecord, error)
}

// PendingTransactionsQuery handles listing unsettled transactions
type PendingTransactionsQuery struct {
	coordinator PendingLister
}

// NewPendingTransactionsQuery creates a new pending transactions query
func NewPendingTransactionsQuery(coordinator PendingLister) *PendingTransactionsQuery {
	return &PendingTransactionsQuery{coordinator: coordinator}
}

// Execute returns the pending transactions, optionally only those of userID
func (q *PendingTransactionsQuery) Execute(ctx context.Context, userID string) (*dto.PendingTransactionsResponse, error) {
	records, err := q.coordinator.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending transactions: %w", err)
	}

	out := make([]dto.TransactionResponse, 0, len(records))
	for _, rec := range records {
		if userID != "" && rec.UserID() != "" && rec.UserID() != userID {
			continue
		}
		out = append(out, toTransactionResponse(rec))
	}
	return &dto.PendingTransactionsResponse{Transactions: out, Count: len(out)}, nil
}

func toTransactionResponse(rec *entity.TransactionRecord) dto.TransactionResponse {
	resp := dto.TransactionResponse{
		State:                         rec.State.String(),
		ProductIdentifier:             rec.ProductIdentifier,
		UserIdentifier:                rec.UserID(),
		TransactionIdentifier:         rec.TransactionIdentifier,
		TransactionDate:               formatTimestamp(rec.TransactionTimestamp),
		OriginalTransactionIdentifier: rec.OriginalID(),
	}
	if rec.OriginalTransactionTimestamp != nil {
		if d := formatTimestamp(*rec.OriginalTransactionTimestamp); d != "" {
			resp.OriginalTransactionDate = &d
		}
	}
	return resp
}

func formatTimestamp(ts string) string {
	if ts == "" {
		return ""
	}
	t, err := entity.ParseTimestamp(ts)
	if err != nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
