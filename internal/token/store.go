package token

import (
	"context"
	"sync"
	"time"

	"github.com/ospgroupvn/usage-monitor/pkg/models"
)

// Store is the durable registry of issued tokens, keyed by token string.
// Entries are never deleted; revocation flips a flag so listings can show
// history.
type Store interface {
	// Put inserts or replaces the record for a token string.
	Put(ctx context.Context, tokenString string, record models.TokenRecord) error

	// Get returns the record for a token string, or ErrNotFound.
	Get(ctx context.Context, tokenString string) (models.TokenRecord, error)

	// SetRevoked marks a token revoked. It returns false without error when
	// the token is unknown; revoking a nonexistent token is a no-op.
	SetRevoked(ctx context.Context, tokenString string, at time.Time) (bool, error)

	// List returns a snapshot of all entries.
	List(ctx context.Context) (map[string]models.TokenRecord, error)
}

// MemoryStore is a lock-protected in-memory registry. It backs tests and
// single-process deployments that don't need persistence.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.TokenRecord
}

// NewMemoryStore creates an empty in-memory registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]models.TokenRecord)}
}

func (s *MemoryStore) Put(_ context.Context, tokenString string, record models.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[tokenString] = record
	return nil
}

func (s *MemoryStore) Get(_ context.Context, tokenString string) (models.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[tokenString]
	if !ok {
		return models.TokenRecord{}, ErrNotFound
	}
	return record, nil
}

func (s *MemoryStore) SetRevoked(_ context.Context, tokenString string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[tokenString]
	if !ok {
		return false, nil
	}
	record.Revoked = true
	record.RevokedAt = &at
	s.records[tokenString] = record
	return true, nil
}

func (s *MemoryStore) List(_ context.Context) (map[string]models.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := make(map[string]models.TokenRecord, len(s.records))
	for k, v := range s.records {
		snapshot[k] = v
	}
	return snapshot, nil
}
