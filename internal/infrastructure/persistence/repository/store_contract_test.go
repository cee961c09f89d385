package repository_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bivex/storekit-settlement/internal/domain/entity"
	domainErrors "github.com/bivex/storekit-settlement/internal/domain/errors"
	"github.com/bivex/storekit-settlement/internal/domain/repository"
	storeRepo "github.com/bivex/storekit-settlement/internal/infrastructure/persistence/repository"
)

func strPtr(s string) *string { return &s }

func purchasedRecord(id string) *entity.TransactionRecord {
	return &entity.TransactionRecord{
		State:                 entity.RecordStatePurchased,
		ProductIdentifier:     "com.example.coins",
		UserIdentifier:        strPtr("user-1"),
		TransactionIdentifier: id,
		TransactionTimestamp:  "1700000000.5",
		TransactionReceipt:    "cmVjZWlwdA==",
	}
}

func restoredRecord(id, originalID string) *entity.TransactionRecord {
	return &entity.TransactionRecord{
		State:                         entity.RecordStateRestored,
		ProductIdentifier:             "com.example.pro",
		TransactionIdentifier:         id,
		TransactionTimestamp:          "1700000100",
		OriginalTransactionIdentifier: strPtr(originalID),
		OriginalTransactionTimestamp:  strPtr("1690000000.25"),
		TransactionReceipt:            "cmVzdG9yZWQ=",
	}
}

func newSecureStore(t *testing.T) repository.TransactionStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	var secret [32]byte
	copy(secret[:], "0123456789abcdef0123456789abcdef")
	return storeRepo.NewSecureStore(client, secret)
}

func newPreferenceStore(t *testing.T) repository.TransactionStore {
	t.Helper()
	store, err := storeRepo.OpenPreferenceStore(filepath.Join(t.TempDir(), "prefs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestTransactionStoreBackends(t *testing.T) {
	backends := map[string]func(t *testing.T) repository.TransactionStore{
		"memory":     func(*testing.T) repository.TransactionStore { return storeRepo.NewMemoryStore() },
		"secure":     newSecureStore,
		"preference": newPreferenceStore,
	}

	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			runStoreContract(t, newStore)
		})
	}
}

func runStoreContract(t *testing.T, newStore func(t *testing.T) repository.TransactionStore) {
	ctx := context.Background()

	t.Run("empty store", func(t *testing.T) {
		store := newStore(t)

		records, err := store.RetrieveAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)

		ok, err := store.Contains(ctx, "tx-1")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = store.Retrieve(ctx, "tx-1")
		assert.ErrorIs(t, err, domainErrors.ErrTransactionNotFound)

		assert.NoError(t, store.Remove(ctx, "tx-1"))
	})

	t.Run("round trip keeps every field", func(t *testing.T) {
		store := newStore(t)
		first := purchasedRecord("tx-1")
		second := restoredRecord("tx-2", "orig-2")

		require.NoError(t, store.Store(ctx, first))
		require.NoError(t, store.Store(ctx, second))

		records, err := store.RetrieveAll(ctx)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, first, records[0])
		assert.Equal(t, second, records[1])
		assert.Nil(t, records[0].OriginalTransactionIdentifier)

		ok, err := store.Contains(ctx, "tx-2")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("retrieve by original identifier", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Store(ctx, purchasedRecord("tx-1")))
		require.NoError(t, store.Store(ctx, restoredRecord("tx-2", "orig-2")))

		rec, err := store.Retrieve(ctx, "orig-2")
		require.NoError(t, err)
		assert.Equal(t, "tx-2", rec.TransactionIdentifier)

		rec, err = store.Retrieve(ctx, "tx-2")
		require.NoError(t, err)
		assert.Equal(t, "orig-2", rec.OriginalID())
	})

	t.Run("remove deletes only the first match", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Store(ctx, purchasedRecord("tx-1")))
		require.NoError(t, store.Store(ctx, purchasedRecord("tx-1")))
		require.NoError(t, store.Store(ctx, restoredRecord("tx-3", "orig-3")))

		require.NoError(t, store.Remove(ctx, "tx-1"))
		records, err := store.RetrieveAll(ctx)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "tx-1", records[0].TransactionIdentifier)
		assert.Equal(t, "tx-3", records[1].TransactionIdentifier)

		require.NoError(t, store.Remove(ctx, "orig-3"))
		records, err = store.RetrieveAll(ctx)
		require.NoError(t, err)
		require.Len(t, records, 1)

		require.NoError(t, store.Remove(ctx, "unknown"))
		records, err = store.RetrieveAll(ctx)
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})

	t.Run("remove all", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Store(ctx, purchasedRecord("tx-1")))
		require.NoError(t, store.Store(ctx, purchasedRecord("tx-2")))

		require.NoError(t, store.RemoveAll(ctx))
		records, err := store.RetrieveAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)

		require.NoError(t, store.Store(ctx, purchasedRecord("tx-3")))
		records, err = store.RetrieveAll(ctx)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "tx-3", records[0].TransactionIdentifier)
	})

	t.Run("store rejects records without identifier", func(t *testing.T) {
		store := newStore(t)
		err := store.Store(ctx, purchasedRecord(""))
		assert.ErrorIs(t, err, domainErrors.ErrInvalidParameter)
	})
}

func TestRecordCodec(t *testing.T) {
	t.Run("absent optionals are omitted", func(t *testing.T) {
		blob, err := storeRepo.EncodeRecord(purchasedRecord("tx-1"))
		require.NoError(t, err)
		assert.NotContains(t, string(blob), "originalTransactionIdentifier")
		assert.Contains(t, string(blob), `"transactionIdentifier":"tx-1"`)
	})

	t.Run("rejects unknown state", func(t *testing.T) {
		_, err := storeRepo.DecodeRecord([]byte(`{"state":7,"transactionIdentifier":"tx-1"}`))
		assert.ErrorIs(t, err, domainErrors.ErrInvalidParameter)
	})

	t.Run("rejects missing identifier", func(t *testing.T) {
		_, err := storeRepo.DecodeRecord([]byte(`{"state":0,"productIdentifier":"p"}`))
		assert.ErrorIs(t, err, domainErrors.ErrRequiredField)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := storeRepo.DecodeRecord([]byte(`not json`))
		assert.Error(t, err)
	})
}

func TestSecureStoreSealsCollection(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	var secret [32]byte
	copy(secret[:], "0123456789abcdef0123456789abcdef")
	store := storeRepo.NewSecureStore(client, secret)
	require.NoError(t, store.Store(ctx, purchasedRecord("tx-secret")))

	raw, err := mr.Get(entity.TransactionsKey)
	require.NoError(t, err)
	assert.NotContains(t, raw, "tx-secret")

	var other [32]byte
	copy(other[:], "ffffffffffffffffffffffffffffffff")
	_, err = storeRepo.NewSecureStore(client, other).RetrieveAll(ctx)
	assert.Error(t, err)
}

func TestParseSecretKey(t *testing.T) {
	_, err := storeRepo.ParseSecretKey("c2hvcnQ=")
	assert.Error(t, err)

	key, err := storeRepo.ParseSecretKey("MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=")
	require.NoError(t, err)
	assert.Equal(t, byte('0'), key[0])
}
