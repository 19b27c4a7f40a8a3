package token

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ospgroupvn/usage-monitor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(NewCodec("test-secret"), NewMemoryStore(), nil, zap.NewNop())
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	issued, err := m.Issue(ctx, "alice", []string{"usage:write", "usage:read"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "alice", issued.Record.UserID)

	identity, err := m.Verify(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.UserID)
	assert.Equal(t, []string{"usage:write", "usage:read"}, identity.Scopes)
}

func TestIssueDefaultsScopes(t *testing.T) {
	m := newTestManager(t)

	issued, err := m.Issue(context.Background(), "bob", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{models.ScopeUsageWrite}, issued.Record.Scopes)
}

func TestVerifyKinds(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	issued, err := m.Issue(ctx, "alice", nil, nil)
	require.NoError(t, err)

	t.Run("malformed", func(t *testing.T) {
		_, err := m.Verify(ctx, "not-a-real-token")
		authErr, ok := AsAuthError(err)
		require.True(t, ok)
		assert.Equal(t, KindMalformed, authErr.Kind)
	})

	t.Run("tampered signature", func(t *testing.T) {
		tampered := []byte(issued.Token)
		last := len(tampered) - 1
		if tampered[last] == '0' {
			tampered[last] = '1'
		} else {
			tampered[last] = '0'
		}
		_, err := m.Verify(ctx, string(tampered))
		authErr, ok := AsAuthError(err)
		require.True(t, ok)
		assert.Equal(t, KindInvalidSignature, authErr.Kind)
	})

	t.Run("well-signed but never issued", func(t *testing.T) {
		forged := m.codec.Encode("mallory", time.Now().Unix())
		_, err := m.Verify(ctx, forged)
		authErr, ok := AsAuthError(err)
		require.True(t, ok)
		assert.Equal(t, KindUnknown, authErr.Kind)
	})

	t.Run("expired", func(t *testing.T) {
		expiry := time.Now().Add(time.Hour)
		expiring, err := m.Issue(ctx, "carol", nil, &expiry)
		require.NoError(t, err)

		m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { m.now = time.Now }()

		_, err = m.Verify(ctx, expiring.Token)
		authErr, ok := AsAuthError(err)
		require.True(t, ok)
		assert.Equal(t, KindExpired, authErr.Kind)
	})
}

func TestRevokeIsMonotonic(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	issued, err := m.Issue(ctx, "alice", nil, nil)
	require.NoError(t, err)

	revoked, err := m.Revoke(ctx, issued.Token)
	require.NoError(t, err)
	assert.True(t, revoked)

	// Every subsequent verify fails with Revoked, never a different kind.
	for i := 0; i < 3; i++ {
		_, err := m.Verify(ctx, issued.Token)
		authErr, ok := AsAuthError(err)
		require.True(t, ok)
		assert.Equal(t, KindRevoked, authErr.Kind)
	}
}

func TestRevokeUnknownTokenIsNoOp(t *testing.T) {
	m := newTestManager(t)

	revoked, err := m.Revoke(context.Background(), "ghost:1700000000:0123456789abcdef")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestListFiltersRevoked(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	a, err := m.Issue(ctx, "alice", nil, nil)
	require.NoError(t, err)
	_, err = m.Issue(ctx, "bob", nil, nil)
	require.NoError(t, err)

	_, err = m.Revoke(ctx, a.Token)
	require.NoError(t, err)

	active, err := m.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "bob", active[0].Record.UserID)

	all, err := m.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestConcurrentIssueVerifyRevoke(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			issued, err := m.Issue(ctx, fmt.Sprintf("user-%d", i), nil, nil)
			if err != nil {
				t.Errorf("issue failed: %v", err)
				return
			}
			if _, err := m.Verify(ctx, issued.Token); err != nil {
				t.Errorf("verify failed: %v", err)
			}
			if i%2 == 0 {
				if _, err := m.Revoke(ctx, issued.Token); err != nil {
					t.Errorf("revoke failed: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()
}
