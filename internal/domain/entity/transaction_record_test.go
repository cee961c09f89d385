package entity_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bivex/storekit-settlement/internal/domain/entity"
)

func TestTransactionRecord(t *testing.T) {
	t.Run("NewTransactionRecord captures a purchase", func(t *testing.T) {
		date := time.Unix(1700000000, 500000000)
		event := entity.PurchaseEvent{
			State:                 entity.PurchaseStateSucceeded,
			ProductIdentifier:     "com.example.gems",
			UserIdentifier:        "user-1",
			TransactionIdentifier: "1000000001",
			TransactionDate:       date,
		}

		rec := entity.NewTransactionRecord(event, []byte("receipt"))

		assert.Equal(t, entity.RecordStatePurchased, rec.State)
		assert.Equal(t, "com.example.gems", rec.ProductIdentifier)
		require.NotNil(t, rec.UserIdentifier)
		assert.Equal(t, "user-1", *rec.UserIdentifier)
		assert.Equal(t, "1700000000.5", rec.TransactionTimestamp)
		assert.Nil(t, rec.OriginalTransactionIdentifier)
		assert.Nil(t, rec.OriginalTransactionTimestamp)
		assert.Equal(t, "cmVjZWlwdA==", rec.TransactionReceipt)

		receipt, err := rec.ReceiptBytes()
		require.NoError(t, err)
		assert.Equal(t, []byte("receipt"), receipt)
	})

	t.Run("NewTransactionRecord captures a restoration", func(t *testing.T) {
		orig := time.Unix(1600000000, 0)
		event := entity.PurchaseEvent{
			State:                         entity.PurchaseStateRestored,
			ProductIdentifier:             "com.example.pro",
			TransactionIdentifier:         "2000000002",
			TransactionDate:               time.Unix(1700000000, 0),
			OriginalTransactionIdentifier: "1000000000",
			OriginalTransactionDate:       &orig,
		}

		rec := entity.NewTransactionRecord(event, []byte{0x01})

		assert.Equal(t, entity.RecordStateRestored, rec.State)
		assert.True(t, rec.IsRestored())
		assert.Nil(t, rec.UserIdentifier)
		assert.Equal(t, "", rec.UserID())
		assert.Equal(t, "1000000000", rec.OriginalID())
		require.NotNil(t, rec.OriginalTransactionTimestamp)
		assert.Equal(t, "1600000000", *rec.OriginalTransactionTimestamp)
	})

	t.Run("Matches checks both identifiers", func(t *testing.T) {
		orig := "1000000000"
		rec := &entity.TransactionRecord{
			TransactionIdentifier:         "2000000002",
			OriginalTransactionIdentifier: &orig,
		}

		assert.True(t, rec.Matches("2000000002"))
		assert.True(t, rec.Matches("1000000000"))
		assert.False(t, rec.Matches("3000000003"))
		assert.False(t, rec.Matches(""))
	})

	t.Run("ReceiptBytes rejects corrupt base64", func(t *testing.T) {
		rec := &entity.TransactionRecord{TransactionIdentifier: "1", TransactionReceipt: "%%%"}
		_, err := rec.ReceiptBytes()
		assert.Error(t, err)
	})
}

func TestTimestamp(t *testing.T) {
	ts := entity.Timestamp(time.Unix(1700000000, 250000000))
	assert.Equal(t, "1700000000.25", ts)

	parsed, err := entity.ParseTimestamp(ts)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), parsed.Unix())

	_, err = entity.ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestRecordState(t *testing.T) {
	assert.Equal(t, "purchased", entity.RecordStatePurchased.String())
	assert.Equal(t, "restored", entity.RecordStateRestored.String())
	assert.True(t, entity.RecordStateRestored.IsValid())
	assert.False(t, entity.RecordState(7).IsValid())
}

func TestPlatformTransactionPendingDownloads(t *testing.T) {
	tx := entity.PlatformTransaction{
		Downloads: []entity.PlatformDownload{
			{ContentIdentifier: "a", State: entity.PlatformDownloadFinished},
			{ContentIdentifier: "b", State: entity.PlatformDownloadPaused},
		},
	}
	assert.True(t, tx.HasPendingDownloads())

	tx.Downloads[1].State = entity.PlatformDownloadFailed
	assert.False(t, tx.HasPendingDownloads())
}
