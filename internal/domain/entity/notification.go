package entity

import (
	"time"

	"github.com/google/uuid"
)

// SettlementStatus describes what the coordinator did with a settleable transaction.
type SettlementStatus string

const (
	SettlementNone     SettlementStatus = ""
	SettlementVerified SettlementStatus = "verified"
	SettlementRejected SettlementStatus = "rejected"
	SettlementRetry    SettlementStatus = "retry"
	SettlementHeld     SettlementStatus = "held"
)

// PurchaseNotification is delivered to the UI collaborator for every purchase-state change
// and every settlement outcome.
type PurchaseNotification struct {
	ID                            uuid.UUID              `json:"id"`
	State                         PurchaseState          `json:"state"`
	Settlement                    SettlementStatus       `json:"settlement,omitempty"`
	ProductIdentifier             string                 `json:"product_identifier,omitempty"`
	UserIdentifier                string                 `json:"user_identifier,omitempty"`
	TransactionIdentifier         string                 `json:"transaction_identifier,omitempty"`
	TransactionDate               *time.Time             `json:"transaction_date,omitempty"`
	OriginalTransactionIdentifier string                 `json:"original_transaction_identifier,omitempty"`
	OriginalTransactionDate       *time.Time             `json:"original_transaction_date,omitempty"`
	ErrorCode                     int                    `json:"error_code,omitempty"`
	ErrorMessage                  string                 `json:"error_message,omitempty"`
	Retryable                     bool                   `json:"retryable,omitempty"`
	Payload                       map[string]interface{} `json:"payload,omitempty"`
	OccurredAt                    time.Time              `json:"occurred_at"`
}

// NewPurchaseNotification creates a notification for the given event
func NewPurchaseNotification(event PurchaseEvent) PurchaseNotification {
	n := PurchaseNotification{
		ID:                            uuid.New(),
		State:                         event.State,
		ProductIdentifier:             event.ProductIdentifier,
		UserIdentifier:                event.UserIdentifier,
		TransactionIdentifier:         event.TransactionIdentifier,
		OriginalTransactionIdentifier: event.OriginalTransactionIdentifier,
		OriginalTransactionDate:       event.OriginalTransactionDate,
		OccurredAt:                    time.Now().UTC(),
	}
	if !event.TransactionDate.IsZero() {
		d := event.TransactionDate
		n.TransactionDate = &d
	}
	return n
}

// DownloadNotification is delivered to the UI collaborator for download progress.
type DownloadNotification struct {
	ID                    uuid.UUID     `json:"id"`
	State                 DownloadState `json:"state"`
	TransactionIdentifier string        `json:"transaction_identifier,omitempty"`
	ProductIdentifier     string        `json:"product_identifier,omitempty"`
	ContentIdentifier     string        `json:"content_identifier,omitempty"`
	Progress              float64       `json:"progress"`
	ErrorCode             int           `json:"error_code,omitempty"`
	ErrorMessage          string        `json:"error_message,omitempty"`
	OccurredAt            time.Time     `json:"occurred_at"`
}

// NewDownloadNotification creates a notification for the given download event
func NewDownloadNotification(event DownloadEvent) DownloadNotification {
	n := DownloadNotification{
		ID:                    uuid.New(),
		State:                 event.State,
		TransactionIdentifier: event.TransactionIdentifier,
		ProductIdentifier:     event.ProductIdentifier,
		ContentIdentifier:     event.ContentIdentifier,
		Progress:              event.Progress,
		OccurredAt:            time.Now().UTC(),
	}
	if event.Err != nil {
		n.ErrorMessage = event.Err.Error()
	}
	return n
}
