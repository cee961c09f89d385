package repository

import (
	"encoding/json"
	"fmt"

	"github.com/bivex/storekit-settlement/internal/domain/entity"
	domainErrors "github.com/bivex/storekit-settlement/internal/domain/errors"
)

// recordDocument is the fixed on-disk shape of a TransactionRecord.
type recordDocument struct {
	State                         uint8   `json:"state"`
	ProductIdentifier             string  `json:"productIdentifier"`
	UserIdentifier                *string `json:"userIdentifier,omitempty"`
	TransactionIdentifier         string  `json:"transactionIdentifier"`
	TransactionTimestamp          string  `json:"transactionTimestamp"`
	OriginalTransactionIdentifier *string `json:"originalTransactionIdentifier,omitempty"`
	OriginalTransactionTimestamp  *string `json:"originalTransactionTimestamp,omitempty"`
	TransactionReceipt            string  `json:"transactionReceipt"`
}

// EncodeRecord serializes a record into its persisted blob
func EncodeRecord(rec *entity.TransactionRecord) ([]byte, error) {
	if rec == nil || rec.TransactionIdentifier == "" {
		return nil, domainErrors.NewRequiredFieldError("transactionIdentifier")
	}
	data, err := json.Marshal(recordDocument{
		State:                         uint8(rec.State),
		ProductIdentifier:             rec.ProductIdentifier,
		UserIdentifier:                rec.UserIdentifier,
		TransactionIdentifier:         rec.TransactionIdentifier,
		TransactionTimestamp:          rec.TransactionTimestamp,
		OriginalTransactionIdentifier: rec.OriginalTransactionIdentifier,
		OriginalTransactionTimestamp:  rec.OriginalTransactionTimestamp,
		TransactionReceipt:            rec.TransactionReceipt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction record: %w", err)
	}
	return data, nil
}

// DecodeRecord parses a persisted blob, rejecting records without an identifier or with an unknown state
func DecodeRecord(data []byte) (*entity.TransactionRecord, error) {
	var doc recordDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode transaction record: %w", err)
	}
	if doc.TransactionIdentifier == "" {
		return nil, domainErrors.NewRequiredFieldError("transactionIdentifier")
	}
	state := entity.RecordState(doc.State)
	if !state.IsValid() {
		return nil, domainErrors.NewValidationError("state", fmt.Sprintf("unknown record state %d", doc.State))
	}
	return &entity.TransactionRecord{
		State:                         state,
		ProductIdentifier:             doc.ProductIdentifier,
		UserIdentifier:                doc.UserIdentifier,
		TransactionIdentifier:         doc.TransactionIdentifier,
		TransactionTimestamp:          doc.TransactionTimestamp,
		OriginalTransactionIdentifier: doc.OriginalTransactionIdentifier,
		OriginalTransactionTimestamp:  doc.OriginalTransactionTimestamp,
		TransactionReceipt:            doc.TransactionReceipt,
	}, nil
}

func decodeAll(blobs [][]byte) ([]*entity.TransactionRecord, error) {
	records := make([]*entity.TransactionRecord, 0, len(blobs))
	for _, blob := range blobs {
		rec, err := DecodeRecord(blob)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// firstMatch returns the index of the first record matching id, or -1
func firstMatch(records []*entity.TransactionRecord, id string) int {
	for i, rec := range records {
		if rec.Matches(id) {
			return i
		}
	}
	return -1
}

func notFound(id string) error {
	return fmt.Errorf("transaction %s: %w", id, domainErrors.ErrTransactionNotFound)
}
