package testutil

import (
	"encoding/base64"
	"time"

	"github.com/google/uuid"

	"github.com/bivex/storekit-settlement/internal/domain/entity"
)

// RecordFactory creates transaction records for store tests
type RecordFactory struct {
	ProductIdentifier string
	Receipt           []byte
}

func NewRecordFactory() *RecordFactory {
	return &RecordFactory{
		ProductIdentifier: "com.example.coins",
		Receipt:           []byte("receipt-" + uuid.NewString()[:8]),
	}
}

// Purchased creates a purchased record with a random identifier
func (f *RecordFactory) Purchased(userID string) *entity.TransactionRecord {
	return &entity.TransactionRecord{
		State:                 entity.RecordStatePurchased,
		ProductIdentifier:     f.ProductIdentifier,
		UserIdentifier:        optional(userID),
		TransactionIdentifier: uuid.NewString(),
		TransactionTimestamp:  entity.Timestamp(time.Now()),
		TransactionReceipt:    base64.StdEncoding.EncodeToString(f.Receipt),
	}
}

// Restored creates a restored record pointing at originalID
func (f *RecordFactory) Restored(originalID string) *entity.TransactionRecord {
	originalTS := entity.Timestamp(time.Now().Add(-30 * 24 * time.Hour))
	rec := f.Purchased("")
	rec.State = entity.RecordStateRestored
	rec.OriginalTransactionIdentifier = &originalID
	rec.OriginalTransactionTimestamp = &originalTS
	return rec
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
