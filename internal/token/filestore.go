package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ospgroupvn/usage-monitor/pkg/models"
)

// tokensFile is the on-disk layout of the registry file.
type tokensFile struct {
	Tokens map[string]models.TokenRecord `json:"tokens"`
}

// FileStore persists the registry as a single JSON document. The whole file
// is rewritten atomically on every mutation; reads are served from memory.
type FileStore struct {
	path    string
	mu      sync.RWMutex
	records map[string]models.TokenRecord
}

// NewFileStore opens (or initializes) a JSON-file registry at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, records: make(map[string]models.TokenRecord)}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read token registry: %w", err)
	}

	var file tokensFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse token registry %s: %w", path, err)
	}
	if file.Tokens != nil {
		s.records = file.Tokens
	}
	return s, nil
}

func (s *FileStore) Put(_ context.Context, tokenString string, record models.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[tokenString] = record
	return s.save()
}

func (s *FileStore) Get(_ context.Context, tokenString string) (models.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[tokenString]
	if !ok {
		return models.TokenRecord{}, ErrNotFound
	}
	return record, nil
}

func (s *FileStore) SetRevoked(_ context.Context, tokenString string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[tokenString]
	if !ok {
		return false, nil
	}
	record.Revoked = true
	record.RevokedAt = &at
	s.records[tokenString] = record
	return true, s.save()
}

func (s *FileStore) List(_ context.Context) (map[string]models.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := make(map[string]models.TokenRecord, len(s.records))
	for k, v := range s.records {
		snapshot[k] = v
	}
	return snapshot, nil
}

// save writes the registry through a temp file and rename so a crash never
// leaves a truncated registry. Caller must hold the write lock.
func (s *FileStore) save() error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create registry directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(tokensFile{Tokens: s.records}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token registry: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write token registry: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace token registry: %w", err)
	}
	return nil
}
