package entity

import (
	"fmt"
	"time"
)

// PlatformErrorPaymentCancelled is the platform's code for a user-cancelled payment or restore.
const PlatformErrorPaymentCancelled = 2

// Product is an entry of the platform product catalog.
type Product struct {
	Identifier  string `json:"identifier"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price,omitempty"`
	PriceLocale string `json:"price_locale,omitempty"`
}

// Payment is a request handed to the platform payment queue.
type Payment struct {
	ProductIdentifier string `json:"product_identifier"`
	UserIdentifier    string `json:"user_identifier,omitempty"`
	Quantity          int    `json:"quantity"`
}

// PlatformError is an error reported by the platform payment queue.
type PlatformError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("platform error %d: %s", e.Code, e.Message)
}

// IsPaymentCancelled returns true if the user cancelled the payment
func (e *PlatformError) IsPaymentCancelled() bool {
	return e != nil && e.Code == PlatformErrorPaymentCancelled
}

// TransactionState is the platform's own transaction state.
type TransactionState string

const (
	TransactionStatePurchasing TransactionState = "purchasing"
	TransactionStatePurchased  TransactionState = "purchased"
	TransactionStateFailed     TransactionState = "failed"
	TransactionStateRestored   TransactionState = "restored"
	TransactionStateDeferred   TransactionState = "deferred"
)

// PlatformTransaction is a transaction as delivered by the platform payment queue.
type PlatformTransaction struct {
	Identifier         string             `json:"transaction_identifier"`
	State              TransactionState   `json:"state"`
	ProductIdentifier  string             `json:"product_identifier"`
	UserIdentifier     string             `json:"user_identifier,omitempty"`
	Quantity           int                `json:"quantity,omitempty"`
	Date               time.Time          `json:"transaction_date"`
	OriginalIdentifier string             `json:"original_transaction_identifier,omitempty"`
	OriginalDate       *time.Time         `json:"original_transaction_date,omitempty"`
	Err                *PlatformError     `json:"error,omitempty"`
	Downloads          []PlatformDownload `json:"downloads,omitempty"`
}

// HasPendingDownloads reports whether any hosted-content download is still waiting, active or paused.
func (t *PlatformTransaction) HasPendingDownloads() bool {
	for _, d := range t.Downloads {
		if d.State.IsPending() {
			return true
		}
	}
	return false
}

// PlatformDownloadState is the platform's state of one hosted-content download.
type PlatformDownloadState string

const (
	PlatformDownloadWaiting   PlatformDownloadState = "waiting"
	PlatformDownloadActive    PlatformDownloadState = "active"
	PlatformDownloadPaused    PlatformDownloadState = "paused"
	PlatformDownloadFinished  PlatformDownloadState = "finished"
	PlatformDownloadFailed    PlatformDownloadState = "failed"
	PlatformDownloadCancelled PlatformDownloadState = "cancelled"
)

// IsPending returns true while the download has not reached a terminal state
func (s PlatformDownloadState) IsPending() bool {
	return s == PlatformDownloadWaiting || s == PlatformDownloadActive || s == PlatformDownloadPaused
}

// PlatformDownload is a hosted-content download attached to a transaction.
type PlatformDownload struct {
	ContentIdentifier     string                `json:"content_identifier"`
	TransactionIdentifier string                `json:"transaction_identifier"`
	State                 PlatformDownloadState `json:"state"`
	// Progress is a fraction in [0, 1].
	Progress float64        `json:"progress"`
	Err      *PlatformError `json:"error,omitempty"`
}
