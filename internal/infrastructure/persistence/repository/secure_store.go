package repository

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/bivex/storekit-settlement/internal/domain/entity"
	"github.com/bivex/storekit-settlement/internal/domain/repository"
)

const (
	secretKeySize   = 32
	nonceSize       = 24
	maxWatchRetries = 5
)

var errSealedValueCorrupt = errors.New("sealed transaction collection is corrupt")

// SecureStore keeps the whole collection as one sealed value under a single Redis key.
// Every mutation is a read-modify-write guarded by WATCH.
type SecureStore struct {
	client *redis.Client
	key    string
	secret [secretKeySize]byte
}

// NewSecureStore creates a store sealing records with the given 32 byte secret
func NewSecureStore(client *redis.Client, secret [secretKeySize]byte) *SecureStore {
	return &SecureStore{client: client, key: entity.TransactionsKey, secret: secret}
}

var _ repository.TransactionStore = (*SecureStore)(nil)

// ParseSecretKey decodes a base64 encoded 32 byte key
func ParseSecretKey(encoded string) ([secretKeySize]byte, error) {
	var key [secretKeySize]byte
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return key, fmt.Errorf("failed to decode secure store key: %w", err)
	}
	if len(raw) != secretKeySize {
		return key, fmt.Errorf("secure store key must be %d bytes, got %d", secretKeySize, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

func (s *SecureStore) Contains(ctx context.Context, transactionID string) (bool, error) {
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

func (s *SecureStore) Store(ctx context.Context, record *entity.TransactionRecord) error {
	blob, err := EncodeRecord(record)
	if err != nil {
		return err
	}
	return s.update(ctx, func(blobs []json.RawMessage) ([]json.RawMessage, error) {
		return append(blobs, blob), nil
	})
}

func (s *SecureStore) RetrieveAll(ctx context.Context) ([]*entity.TransactionRecord, error) {
	blobs, err := s.load(ctx, s.client)
	if err != nil {
		return nil, err
	}
	return decodeRaw(blobs)
}

func (s *SecureStore) Retrieve(ctx context.Context, id string) (*entity.TransactionRecord, error) {
	records, err := s.RetrieveAll(ctx)
	if err != nil {
		return nil, err
	}
	if i := firstMatch(records, id); i >= 0 {
		return records[i], nil
	}
	return nil, notFound(id)
}

func (s *SecureStore) Remove(ctx context.Context, id string) error {
	return s.update(ctx, func(blobs []json.RawMessage) ([]json.RawMessage, error) {
		records, err := decodeRaw(blobs)
		if err != nil {
			return nil, err
		}
		i := firstMatch(records, id)
		if i < 0 {
			return blobs, nil
		}
		return append(blobs[:i:i], blobs[i+1:]...), nil
	})
}

func (s *SecureStore) RemoveAll(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to remove transactions: %w", err)
	}
	return nil
}

func (s *SecureStore) update(ctx context.Context, mutate func([]json.RawMessage) ([]json.RawMessage, error)) error {
	txf := func(tx *redis.Tx) error {
		blobs, err := s.load(ctx, tx)
		if err != nil {
			return err
		}
		blobs, err = mutate(blobs)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(blobs) == 0 {
				pipe.Del(ctx, s.key)
				return nil
			}
			sealed, err := s.seal(blobs)
			if err != nil {
				return err
			}
			pipe.Set(ctx, s.key, sealed, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, s.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to update transactions: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed to update transactions: %w", redis.TxFailedErr)
}

func (s *SecureStore) load(ctx context.Context, c stringGetter) ([]json.RawMessage, error) {
	sealed, err := c.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	plain, err := s.open(sealed)
	if err != nil {
		return nil, err
	}
	var blobs []json.RawMessage
	if err := json.Unmarshal(plain, &blobs); err != nil {
		return nil, fmt.Errorf("failed to decode transaction collection: %w", err)
	}
	return blobs, nil
}

func (s *SecureStore) seal(blobs []json.RawMessage) ([]byte, error) {
	plain, err := json.Marshal(blobs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction collection: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &s.secret), nil
}

func (s *SecureStore) open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, errSealedValueCorrupt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.secret)
	if !ok {
		return nil, errSealedValueCorrupt
	}
	return plain, nil
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func decodeRaw(blobs []json.RawMessage) ([]*entity.TransactionRecord, error) {
	raw := make([][]byte, len(blobs))
	for i, b := range blobs {
		raw[i] = b
	}
	return decodeAll(raw)
}
