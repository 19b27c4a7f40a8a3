package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/ospgroupvn/usage-monitor/internal/relay"
	"github.com/ospgroupvn/usage-monitor/internal/token"
	"github.com/ospgroupvn/usage-monitor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRelay struct {
	sent   []models.UsageRecord
	err    error
	nextID string
}

func (f *fakeRelay) Send(_ context.Context, record models.UsageRecord) (models.TraceHandle, error) {
	if f.err != nil {
		return models.TraceHandle{}, f.err
	}
	f.sent = append(f.sent, record)
	return models.TraceHandle{TraceID: f.nextID, ActorID: record.ActorID}, nil
}

func newTestService(t *testing.T, r *fakeRelay) (*Service, *token.Manager) {
	t.Helper()
	manager := token.NewManager(token.NewCodec("test-secret"), token.NewMemoryStore(), nil, zap.NewNop())
	return NewService(manager, r, nil, zap.NewNop()), manager
}

func validRequest() ReportRequest {
	return ReportRequest{
		UserPrompt:        "Hello",
		AssistantResponse: "Hi there!",
		InputTokens:       10,
		OutputTokens:      5,
		Model:             "m-1",
		DurationMs:        2000,
		GitHubUsername:    "alice",
		SessionID:         "s-1",
		ProjectName:       "my-repo",
		RepoFullName:      "ospgroupvn/my-repo",
	}
}

func TestReportSuccess(t *testing.T) {
	fake := &fakeRelay{nextID: "trace-123"}
	svc, manager := newTestService(t, fake)
	ctx := context.Background()

	issued, err := manager.Issue(ctx, "alice", nil, nil)
	require.NoError(t, err)

	handle, err := svc.Report(ctx, validRequest(), issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "trace-123", handle.TraceID)
	assert.Equal(t, "alice", handle.ActorID)

	require.Len(t, fake.sent, 1)
	record := fake.sent[0]
	assert.Equal(t, 10, record.InputTokens)
	assert.Equal(t, 5, record.OutputTokens)
	assert.Equal(t, "my-repo", record.RepoName)
	assert.False(t, record.CapturedAt.IsZero())
}

func TestReportUnauthorizedPreservesAuthKind(t *testing.T) {
	fake := &fakeRelay{nextID: "trace-123"}
	svc, manager := newTestService(t, fake)
	ctx := context.Background()

	issued, err := manager.Issue(ctx, "alice", nil, nil)
	require.NoError(t, err)
	_, err = manager.Revoke(ctx, issued.Token)
	require.NoError(t, err)

	cases := []struct {
		name   string
		bearer string
		kind   token.AuthErrorKind
	}{
		{"malformed", "not-a-real-token", token.KindMalformed},
		{"revoked", issued.Token, token.KindRevoked},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Report(ctx, validRequest(), tc.bearer)
			ingErr, ok := AsIngestionError(err)
			require.True(t, ok)
			assert.Equal(t, KindUnauthorized, ingErr.Kind)

			// The sub-kind survives both in the wrapped cause and in the
			// message the caller serializes.
			authErr, ok := token.AsAuthError(ingErr)
			require.True(t, ok, "auth kind must survive wrapping")
			assert.Equal(t, tc.kind, authErr.Kind)
			assert.Contains(t, ingErr.Message, string(tc.kind))
		})
	}

	// No trace may be created for unauthorized submissions.
	assert.Empty(t, fake.sent)
}

func TestReportRequiresWriteScope(t *testing.T) {
	fake := &fakeRelay{nextID: "trace-123"}
	svc, manager := newTestService(t, fake)
	ctx := context.Background()

	issued, err := manager.Issue(ctx, "alice", []string{"usage:read"}, nil)
	require.NoError(t, err)

	_, err = svc.Report(ctx, validRequest(), issued.Token)
	ingErr, ok := AsIngestionError(err)
	require.True(t, ok)
	assert.Equal(t, KindUnauthorized, ingErr.Kind)
	assert.Empty(t, fake.sent)
}

func TestReportInvalidInput(t *testing.T) {
	fake := &fakeRelay{nextID: "trace-123"}
	svc, manager := newTestService(t, fake)
	ctx := context.Background()

	issued, err := manager.Issue(ctx, "alice", nil, nil)
	require.NoError(t, err)

	cases := map[string]func(*ReportRequest){
		"missing username":      func(r *ReportRequest) { r.GitHubUsername = "" },
		"missing session":       func(r *ReportRequest) { r.SessionID = "" },
		"negative input tokens": func(r *ReportRequest) { r.InputTokens = -1 },
		"negative duration":     func(r *ReportRequest) { r.DurationMs = -10 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := validRequest()
			mutate(&req)

			_, err := svc.Report(ctx, req, issued.Token)
			ingErr, ok := AsIngestionError(err)
			require.True(t, ok)
			assert.Equal(t, KindInvalidInput, ingErr.Kind)
		})
	}
	assert.Empty(t, fake.sent)
}

func TestReportRelayFailure(t *testing.T) {
	relayErr := &relay.RelayError{Message: "backend returned status 502"}
	fake := &fakeRelay{err: relayErr}
	svc, manager := newTestService(t, fake)
	ctx := context.Background()

	issued, err := manager.Issue(ctx, "alice", nil, nil)
	require.NoError(t, err)

	_, err = svc.Report(ctx, validRequest(), issued.Token)
	ingErr, ok := AsIngestionError(err)
	require.True(t, ok)
	assert.Equal(t, KindRelayFailed, ingErr.Kind)

	// The underlying backend message is preserved.
	var wrapped *relay.RelayError
	require.True(t, errors.As(ingErr, &wrapped))
	assert.Contains(t, wrapped.Message, "502")
}
