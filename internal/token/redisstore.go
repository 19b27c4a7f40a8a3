package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ospgroupvn/usage-monitor/pkg/cache"
	"github.com/ospgroupvn/usage-monitor/pkg/models"
)

// registryHashKey is the Redis hash holding the registry; one field per
// token string, JSON-encoded record values.
const registryHashKey = "usage:tokens"

// RedisStore keeps the registry in a single Redis hash so that several
// server instances can share one source of truth.
type RedisStore struct {
	cache *cache.Cache

	// mu serializes read-modify-write on revocation; verification reads
	// must never observe a half-written record.
	mu sync.Mutex
}

// NewRedisStore creates a Redis-backed registry on an existing connection.
func NewRedisStore(c *cache.Cache) *RedisStore {
	return &RedisStore{cache: c}
}

func (s *RedisStore) Put(ctx context.Context, tokenString string, record models.TokenRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode token record: %w", err)
	}
	if err := s.cache.Client.HSet(ctx, registryHashKey, tokenString, data).Err(); err != nil {
		return fmt.Errorf("failed to store token record: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, tokenString string) (models.TokenRecord, error) {
	data, err := s.cache.Client.HGet(ctx, registryHashKey, tokenString).Result()
	if errors.Is(err, redis.Nil) {
		return models.TokenRecord{}, ErrNotFound
	}
	if err != nil {
		return models.TokenRecord{}, fmt.Errorf("failed to load token record: %w", err)
	}

	var record models.TokenRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return models.TokenRecord{}, fmt.Errorf("failed to decode token record: %w", err)
	}
	return record, nil
}

func (s *RedisStore) SetRevoked(ctx context.Context, tokenString string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.Get(ctx, tokenString)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	record.Revoked = true
	record.RevokedAt = &at
	if err := s.Put(ctx, tokenString, record); err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisStore) List(ctx context.Context) (map[string]models.TokenRecord, error) {
	entries, err := s.cache.Client.HGetAll(ctx, registryHashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list token records: %w", err)
	}

	records := make(map[string]models.TokenRecord, len(entries))
	for tokenString, data := range entries {
		var record models.TokenRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			return nil, fmt.Errorf("failed to decode token record: %w", err)
		}
		records[tokenString] = record
	}
	return records, nil
}
