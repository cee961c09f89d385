package repository

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/bivex/storekit-settlement/internal/domain/entity"
	"github.com/bivex/storekit-settlement/internal/domain/repository"
)

// PreferenceStore keeps records in a bbolt file, one bucket per collection.
// Keys are bucket sequence numbers, so cursor order is append order.
type PreferenceStore struct {
	db     *bbolt.DB
	bucket []byte
}

// OpenPreferenceStore opens or creates the bolt file at path
func OpenPreferenceStore(path string) (*PreferenceStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open preference store: %w", err)
	}
	s := &PreferenceStore{db: db, bucket: []byte(entity.TransactionsKey)}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create preference bucket: %w", err)
	}
	return s, nil
}

var _ repository.TransactionStore = (*PreferenceStore)(nil)

// Close releases the bolt file lock
func (s *PreferenceStore) Close() error {
	return s.db.Close()
}

func (s *PreferenceStore) Contains(ctx context.Context, transactionID string) (bool, error) {
	records, err := s.RetrieveAll(ctx)
	if err != nil {
		return false, err
	}
	for _, rec := range records {
		if rec.TransactionIdentifier == transactionID {
			return true, nil
		}
	}
	return false, nil
}

func (s *PreferenceStore) Store(_ context.Context, record *entity.TransactionRecord) error {
	blob, err := EncodeRecord(record)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(sequenceKey(seq), blob)
	})
	if err != nil {
		return fmt.Errorf("failed to store transaction %s: %w", record.TransactionIdentifier, err)
	}
	return nil
}

func (s *PreferenceStore) RetrieveAll(_ context.Context) ([]*entity.TransactionRecord, error) {
	var records []*entity.TransactionRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(_, v []byte) error {
			rec, err := DecodeRecord(v)
			if err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve transactions: %w", err)
	}
	return records, nil
}

func (s *PreferenceStore) Retrieve(ctx context.Context, id string) (*entity.TransactionRecord, error) {
	records, err := s.RetrieveAll(ctx)
	if err != nil {
		return nil, err
	}
	if i := firstMatch(records, id); i >= 0 {
		return records[i], nil
	}
	return nil, notFound(id)
}

func (s *PreferenceStore) Remove(_ context.Context, id string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		c := tx.Bucket(s.bucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			rec, err := DecodeRecord(v)
			if err != nil {
				return err
			}
			if rec.Matches(id) {
				return c.Delete()
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove transaction %s: %w", id, err)
	}
	return nil
}

func (s *PreferenceStore) RemoveAll(_ context.Context) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(s.bucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(s.bucket)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to remove transactions: %w", err)
	}
	return nil
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
