//go:build integration

package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bivex/storekit-settlement/internal/domain/repository"
	storeRepo "github.com/bivex/storekit-settlement/internal/infrastructure/persistence/repository"
	"github.com/bivex/storekit-settlement/tests/testutil"
)

func TestPostgresStoreIntegration(t *testing.T) {
	ctx := context.Background()

	tc, err := testutil.SetupTestDBContainer(ctx, t)
	require.NoError(t, err)
	defer tc.Teardown(ctx, t)

	runStoreContract(t, func(t *testing.T) repository.TransactionStore {
		require.NoError(t, tc.Truncate(ctx))
		return storeRepo.NewPostgresStore(tc.Pool)
	})

	t.Run("factory records survive a round trip", func(t *testing.T) {
		require.NoError(t, tc.Truncate(ctx))
		store := storeRepo.NewPostgresStore(tc.Pool)
		factory := testutil.NewRecordFactory()

		purchased := factory.Purchased("user-1")
		restored := factory.Restored("orig-9")
		require.NoError(t, store.Store(ctx, purchased))
		require.NoError(t, store.Store(ctx, restored))

		got, err := store.Retrieve(ctx, "orig-9")
		require.NoError(t, err)
		assert.Equal(t, restored, got)

		require.NoError(t, store.RemoveAll(ctx))
		records, err := store.RetrieveAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}
