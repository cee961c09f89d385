package entity

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// TransactionsKey names the collection every persistence backend keeps records under.
const TransactionsKey = "StoreTransactions"

// RecordState is the platform state captured with a persisted transaction.
type RecordState uint8

const (
	RecordStatePurchased RecordState = iota
	RecordStateRestored
)

// String returns the string representation of the state
func (s RecordState) String() string {
	switch s {
	case RecordStatePurchased:
		return "purchased"
	case RecordStateRestored:
		return "restored"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// IsValid returns true if the state is purchased or restored
func (s RecordState) IsValid() bool {
	return s == RecordStatePurchased || s == RecordStateRestored
}

// TransactionRecord is the durable capture of one purchase awaiting verification.
// TransactionReceipt is a point-in-time capture and is never updated in place.
type TransactionRecord struct {
	State                         RecordState
	ProductIdentifier             string
	UserIdentifier                *string
	TransactionIdentifier         string
	TransactionTimestamp          string
	OriginalTransactionIdentifier *string
	OriginalTransactionTimestamp  *string
	TransactionReceipt            string
}

// NewTransactionRecord builds a record from a settled purchase event and the receipt captured for it.
func NewTransactionRecord(event PurchaseEvent, receipt []byte) *TransactionRecord {
	state := RecordStatePurchased
	if event.State == PurchaseStateRestored {
		state = RecordStateRestored
	}

	rec := &TransactionRecord{
		State:                 state,
		ProductIdentifier:     event.ProductIdentifier,
		UserIdentifier:        optional(event.UserIdentifier),
		TransactionIdentifier: event.TransactionIdentifier,
		TransactionReceipt:    base64.StdEncoding.EncodeToString(receipt),
	}
	if !event.TransactionDate.IsZero() {
		rec.TransactionTimestamp = Timestamp(event.TransactionDate)
	}
	rec.OriginalTransactionIdentifier = optional(event.OriginalTransactionIdentifier)
	if event.OriginalTransactionDate != nil {
		ts := Timestamp(*event.OriginalTransactionDate)
		rec.OriginalTransactionTimestamp = &ts
	}
	return rec
}

// Matches returns true if id is either the transaction identifier or the original one.
func (r *TransactionRecord) Matches(id string) bool {
	if id == "" {
		return false
	}
	if r.TransactionIdentifier == id {
		return true
	}
	return r.OriginalTransactionIdentifier != nil && *r.OriginalTransactionIdentifier == id
}

// OriginalID returns the original transaction identifier or an empty string
func (r *TransactionRecord) OriginalID() string {
	if r.OriginalTransactionIdentifier == nil {
		return ""
	}
	return *r.OriginalTransactionIdentifier
}

// UserID returns the user identifier or an empty string
func (r *TransactionRecord) UserID() string {
	if r.UserIdentifier == nil {
		return ""
	}
	return *r.UserIdentifier
}

// IsRestored returns true if the record was captured from a restoration
func (r *TransactionRecord) IsRestored() bool {
	return r.State == RecordStateRestored
}

// ReceiptBytes decodes the stored base64 receipt
func (r *TransactionRecord) ReceiptBytes() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(r.TransactionReceipt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode receipt for transaction %s: %w", r.TransactionIdentifier, err)
	}
	return data, nil
}

// Timestamp encodes t as fractional seconds since the Unix epoch.
func Timestamp(t time.Time) string {
	secs := float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
	return strconv.FormatFloat(secs, 'f', -1, 64)
}

// ParseTimestamp is the inverse of Timestamp
func ParseTimestamp(s string) (time.Time, error) {
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	whole := int64(secs)
	return time.Unix(whole, int64((secs-float64(whole))*float64(time.Second))), nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
