package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ospgroupvn/usage-monitor/internal/config"
	"github.com/ospgroupvn/usage-monitor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturedBatch struct {
	Batch []struct {
		ID        string          `json:"id"`
		Type      string          `json:"type"`
		Timestamp string          `json:"timestamp"`
		Body      json.RawMessage `json:"body"`
	} `json:"batch"`
}

func testRecord() models.UsageRecord {
	return models.UsageRecord{
		ActorID:      "alice",
		SessionID:    "s-1",
		PromptText:   "Hello",
		ResponseText: "Hi there!",
		InputTokens:  10,
		OutputTokens: 5,
		Model:        "m-1",
		DurationMs:   2000,
		ProjectName:  "my-repo",
		RepoFullName: "ospgroupvn/my-repo",
		RepoURL:      "git@github.com:ospgroupvn/my-repo.git",
		MessageCount: 2,
		CapturedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newTestRelay(t *testing.T, handler http.HandlerFunc) (*Relay, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(config.LangfuseConfig{
		Host:      srv.URL,
		PublicKey: "pk-test",
		SecretKey: "sk-test",
		Timeout:   5 * time.Second,
	}, zap.NewNop())
	return NewRelay(client, zap.NewNop()), srv
}

func TestSendCreatesTraceAndGeneration(t *testing.T) {
	var got capturedBatch
	var auth string

	relay, _ := newTestRelay(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/public/ingestion", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})

	handle, err := relay.Send(context.Background(), testRecord())
	require.NoError(t, err)
	assert.NotEmpty(t, handle.TraceID)
	assert.Equal(t, "alice", handle.ActorID)
	assert.True(t, strings.HasPrefix(auth, "Basic "))

	require.Len(t, got.Batch, 2)
	assert.Equal(t, "trace-create", got.Batch[0].Type)
	assert.Equal(t, "generation-create", got.Batch[1].Type)

	var trace traceBody
	require.NoError(t, json.Unmarshal(got.Batch[0].Body, &trace))
	assert.Equal(t, handle.TraceID, trace.ID)
	assert.Equal(t, "claude-code-usage", trace.Name)
	assert.Equal(t, "alice", trace.UserID)
	assert.Equal(t, "s-1", trace.SessionID)
	assert.Contains(t, trace.Tags, "claude-code")
	assert.Contains(t, trace.Tags, "m-1")
	assert.Contains(t, trace.Tags, "repo:ospgroupvn/my-repo")
	assert.EqualValues(t, 15, trace.Metadata["total_tokens"])

	var gen generationBody
	require.NoError(t, json.Unmarshal(got.Batch[1].Body, &gen))
	assert.Equal(t, handle.TraceID, gen.TraceID)
	assert.Equal(t, "claude-code-generation", gen.Name)
	assert.Equal(t, "m-1", gen.Model)
	require.NotNil(t, gen.Usage)
	assert.Equal(t, 10, gen.Usage.Input)
	assert.Equal(t, 5, gen.Usage.Output)
	assert.Equal(t, 15, gen.Usage.Total)
	assert.EqualValues(t, 2000, gen.Metadata["duration_ms"])
}

func TestSendTruncatesLongText(t *testing.T) {
	var got capturedBatch
	relay, _ := newTestRelay(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})

	record := testRecord()
	record.PromptText = strings.Repeat("p", 2000)
	record.ResponseText = strings.Repeat("r", 3000)

	_, err := relay.Send(context.Background(), record)
	require.NoError(t, err)

	var gen generationBody
	require.NoError(t, json.Unmarshal(got.Batch[1].Body, &gen))
	assert.Len(t, gen.Input, 500)
	assert.Len(t, gen.Output, 1000)
}

func TestSendDistinctTraceIDsPerCall(t *testing.T) {
	relay, _ := newTestRelay(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	record := testRecord()
	first, err := relay.Send(context.Background(), record)
	require.NoError(t, err)
	second, err := relay.Send(context.Background(), record)
	require.NoError(t, err)

	// No deduplication: the same record twice yields two traces.
	assert.NotEqual(t, first.TraceID, second.TraceID)
}

func TestSendBackendFailure(t *testing.T) {
	relay, _ := newTestRelay(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	})

	_, err := relay.Send(context.Background(), testRecord())
	require.Error(t, err)

	var relayErr *RelayError
	require.ErrorAs(t, err, &relayErr)
	assert.Contains(t, relayErr.Message, "quota exceeded")
}

func TestSendPartialBatchFailure(t *testing.T) {
	relay, _ := newTestRelay(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMultiStatus)
		w.Write([]byte(`{"successes":[{"id":"a","status":201}],"errors":[{"id":"b","status":400,"message":"invalid body"}]}`))
	})

	_, err := relay.Send(context.Background(), testRecord())
	require.Error(t, err)

	var relayErr *RelayError
	require.ErrorAs(t, err, &relayErr)
	assert.Contains(t, relayErr.Message, "invalid body")
}

func TestSendUnreachableBackend(t *testing.T) {
	client := NewClient(config.LangfuseConfig{
		Host:      "http://127.0.0.1:1",
		PublicKey: "pk",
		SecretKey: "sk",
		Timeout:   time.Second,
	}, zap.NewNop())
	relay := NewRelay(client, zap.NewNop())

	_, err := relay.Send(context.Background(), testRecord())
	var relayErr *RelayError
	require.ErrorAs(t, err, &relayErr)
}

func TestFlushEmptyBatchIsNoOp(t *testing.T) {
	calls := 0
	relay, _ := newTestRelay(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, relay.client.Flush(context.Background(), nil))
	assert.Zero(t, calls)
}

// A failing Send must never swallow a concurrent caller's events or let
// that caller report success for a batch the backend rejected.
func TestSendConcurrentCallersAreIsolated(t *testing.T) {
	var mu sync.Mutex
	batchSessions := make([][]string, 0)

	relay, _ := newTestRelay(t, func(w http.ResponseWriter, r *http.Request) {
		var got capturedBatch
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		sessions := make([]string, 0, len(got.Batch))
		reject := false
		for _, event := range got.Batch {
			if event.Type != "trace-create" {
				continue
			}
			var trace traceBody
			require.NoError(t, json.Unmarshal(event.Body, &trace))
			sessions = append(sessions, trace.SessionID)
			if trace.SessionID == "s-reject" {
				reject = true
			}
		}
		mu.Lock()
		batchSessions = append(batchSessions, sessions)
		mu.Unlock()

		if reject {
			http.Error(w, "rejected", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	rejected := testRecord()
	rejected.SessionID = "s-reject"
	accepted := testRecord()
	accepted.SessionID = "s-accept"

	var wg sync.WaitGroup
	var rejectedErr, acceptedErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, rejectedErr = relay.Send(context.Background(), rejected)
	}()
	go func() {
		defer wg.Done()
		_, acceptedErr = relay.Send(context.Background(), accepted)
	}()
	wg.Wait()

	require.Error(t, rejectedErr)
	require.NoError(t, acceptedErr)

	// Each request carried exactly one caller's trace; the accepted
	// caller's events reached the backend in its own batch.
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batchSessions, 2)
	for _, sessions := range batchSessions {
		assert.Len(t, sessions, 1)
	}
	assert.ElementsMatch(t, []string{"s-reject", "s-accept"},
		[]string{batchSessions[0][0], batchSessions[1][0]})
}
