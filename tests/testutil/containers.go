package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// TestDBContainer holds the PostgreSQL test container
type TestDBContainer struct {
	Container  *postgres.PostgresContainer
	ConnString string
	Pool       *pgxpool.Pool
}

// SetupTestDBContainer starts a PostgreSQL test container with the store schema applied
func SetupTestDBContainer(ctx context.Context, t *testing.T) (*TestDBContainer, error) {
	t.Helper()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("storekit_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	tc := &TestDBContainer{Container: container}

	tc.ConnString, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		tc.Teardown(ctx, t)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	if err := RunMigrations(tc.ConnString); err != nil {
		tc.Teardown(ctx, t)
		return nil, err
	}

	tc.Pool, err = pgxpool.New(ctx, tc.ConnString)
	if err != nil {
		tc.Teardown(ctx, t)
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := tc.Pool.Ping(ctx); err != nil {
		tc.Teardown(ctx, t)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return tc, nil
}

// Truncate empties the store table between tests
func (tc *TestDBContainer) Truncate(ctx context.Context) error {
	_, err := tc.Pool.Exec(ctx, "TRUNCATE store_transactions RESTART IDENTITY")
	return err
}

// Teardown cleans up the test container
func (tc *TestDBContainer) Teardown(ctx context.Context, t *testing.T) {
	t.Helper()
	if tc.Pool != nil {
		tc.Pool.Close()
	}
	if tc.Container != nil {
		if err := tc.Container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}
}
