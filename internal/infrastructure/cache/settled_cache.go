package cache

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultSettledCacheSize = 1024

// SettledCache is a bounded in-process record of recently settled transaction identifiers
type SettledCache struct {
	cache *lru.Cache[string, time.Time]
}

// NewSettledCache creates a cache holding at most size identifiers
func NewSettledCache(size int) (*SettledCache, error) {
	if size <= 0 {
		size = DefaultSettledCacheSize
	}
	cache, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create settled cache: %w", err)
	}
	return &SettledCache{cache: cache}, nil
}

// Add remembers a settled transaction
func (c *SettledCache) Add(transactionID string) {
	c.cache.Add(transactionID, time.Now())
}

// Contains reports whether the transaction was settled recently
func (c *SettledCache) Contains(transactionID string) bool {
	return c.cache.Contains(transactionID)
}

// SettledAt returns when the transaction was settled
func (c *SettledCache) SettledAt(transactionID string) (time.Time, bool) {
	return c.cache.Peek(transactionID)
}

// Len returns the number of remembered transactions
func (c *SettledCache) Len() int {
	return c.cache.Len()
}
