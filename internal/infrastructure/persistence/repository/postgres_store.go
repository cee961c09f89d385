package repository

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bivex/storekit-settlement/internal/domain/entity"
	"github.com/bivex/storekit-settlement/internal/domain/repository"
)

const storeTransactionsTable = "store_transactions"

// DBInterface defines the minimal interface needed by the store
type DBInterface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps one row per record; seq preserves append order.
type PostgresStore struct {
	db DBInterface
}

type recordRow struct {
	Seq    int64  `db:"seq"`
	Record []byte `db:"record"`
}

// NewPostgresStore creates a transaction store backed by the store_transactions table
func NewPostgresStore(db DBInterface) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ repository.TransactionStore = (*PostgresStore)(nil)

func psql() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func matchesID(id string) squirrel.Or {
	return squirrel.Or{
		squirrel.Eq{"transaction_id": id},
		squirrel.Eq{"original_transaction_id": id},
	}
}

func (s *PostgresStore) Contains(ctx context.Context, transactionID string) (bool, error) {
	query, args, err := psql().Select("1").
		From(storeTransactionsTable).
		Where(squirrel.Eq{"transaction_id": transactionID}).
		Prefix("SELECT EXISTS(").
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("building exists query: %w", err)
	}
	var exists bool
	if err := s.db.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking transaction %s: %w", transactionID, err)
	}
	return exists, nil
}

func (s *PostgresStore) Store(ctx context.Context, record *entity.TransactionRecord) error {
	blob, err := EncodeRecord(record)
	if err != nil {
		return err
	}
	query, args, err := psql().Insert(storeTransactionsTable).
		Columns("transaction_id", "original_transaction_id", "record").
		Values(record.TransactionIdentifier, record.OriginalTransactionIdentifier, blob).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert query: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting transaction %s: %w", record.TransactionIdentifier, err)
	}
	return nil
}

func (s *PostgresStore) RetrieveAll(ctx context.Context) ([]*entity.TransactionRecord, error) {
	query, args, err := psql().Select("seq", "record").
		From(storeTransactionsTable).
		OrderBy("seq").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}
	var rows []recordRow
	if err := pgxscan.Select(ctx, s.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("scanning transactions: %w", err)
	}
	blobs := make([][]byte, len(rows))
	for i, row := range rows {
		blobs[i] = row.Record
	}
	return decodeAll(blobs)
}

func (s *PostgresStore) Retrieve(ctx context.Context, id string) (*entity.TransactionRecord, error) {
	query, args, err := psql().Select("seq", "record").
		From(storeTransactionsTable).
		Where(matchesID(id)).
		OrderBy("seq").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}
	var row recordRow
	if err := pgxscan.Get(ctx, s.db, &row, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("scanning transaction %s: %w", id, err)
	}
	return DecodeRecord(row.Record)
}

func (s *PostgresStore) Remove(ctx context.Context, id string) error {
	query, args, err := psql().Delete(storeTransactionsTable).
		Where(squirrel.Expr(
			"seq = (SELECT seq FROM store_transactions WHERE transaction_id = ? OR original_transaction_id = ? ORDER BY seq LIMIT 1)",
			id, id,
		)).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete query: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("removing transaction %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) RemoveAll(ctx context.Context) error {
	query, args, err := psql().Delete(storeTransactionsTable).ToSql()
	if err != nil {
		return fmt.Errorf("building delete query: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("removing transactions: %w", err)
	}
	return nil
}
