package repository

import (
	"context"
	"sync"

	"github.com/bivex/storekit-settlement/internal/domain/entity"
	"github.com/bivex/storekit-settlement/internal/domain/repository"
)

// MemoryStore keeps encoded records in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	blobs [][]byte
}

// NewMemoryStore creates an empty in-memory transaction store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

var _ repository.TransactionStore = (*MemoryStore)(nil)

func (s *MemoryStore) Contains(ctx context.Context, transactionID string) (bool, error) {
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

func (s *MemoryStore) Store(_ context.Context, record *entity.TransactionRecord) error {
	blob, err := EncodeRecord(record)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs = append(s.blobs, blob)
	return nil
}

func (s *MemoryStore) RetrieveAll(_ context.Context) ([]*entity.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return decodeAll(s.blobs)
}

func (s *MemoryStore) Retrieve(ctx context.Context, id string) (*entity.TransactionRecord, error) {
	records, err := s.RetrieveAll(ctx)
	if err != nil {
		return nil, err
	}
	if i := firstMatch(records, id); i >= 0 {
		return records[i], nil
	}
	return nil, notFound(id)
}

func (s *MemoryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := decodeAll(s.blobs)
	if err != nil {
		return err
	}
	if i := firstMatch(records, id); i >= 0 {
		s.blobs = append(s.blobs[:i:i], s.blobs[i+1:]...)
	}
	return nil
}

func (s *MemoryStore) RemoveAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs = nil
	return nil
}
