package token

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFileStoreRoundTripsRevokedFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	ctx := context.Background()

	store, err := NewFileStore(path)
	require.NoError(t, err)

	m := NewManager(NewCodec("test-secret"), store, nil, zap.NewNop())
	issued, err := m.Issue(ctx, "alice", nil, nil)
	require.NoError(t, err)

	revoked, err := m.Revoke(ctx, issued.Token)
	require.NoError(t, err)
	require.True(t, revoked)

	// Reopen the registry from disk; the revoked flag must survive.
	reopened, err := NewFileStore(path)
	require.NoError(t, err)

	record, err := reopened.Get(ctx, issued.Token)
	require.NoError(t, err)
	assert.True(t, record.Revoked)
	assert.NotNil(t, record.RevokedAt)
	assert.Equal(t, "alice", record.UserID)

	m2 := NewManager(NewCodec("test-secret"), reopened, nil, zap.NewNop())
	_, err = m2.Verify(ctx, issued.Token)
	authErr, ok := AsAuthError(err)
	require.True(t, ok)
	assert.Equal(t, KindRevoked, authErr.Kind)
}

func TestFileStoreLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tokens.json")

	store, err := NewFileStore(path)
	require.NoError(t, err)

	m := NewManager(NewCodec("test-secret"), store, nil, zap.NewNop())
	issued, err := m.Issue(context.Background(), "alice", nil, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// The on-disk document wraps entries under a top-level "tokens" key.
	var file struct {
		Tokens map[string]json.RawMessage `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal(data, &file))
	assert.Contains(t, file.Tokens, issued.Token)
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	records, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileStore(path)
	assert.Error(t, err)
}
