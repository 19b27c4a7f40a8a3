package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ospgroupvn/usage-monitor/internal/config"
	"go.uber.org/zap"
)

// RelayError wraps a transport or backend-side failure. The backend's
// message is preserved for diagnostics.
type RelayError struct {
	Message string
	Err     error
}

func (e *RelayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("relay failed: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("relay failed: %s", e.Message)
}

func (e *RelayError) Unwrap() error { return e.Err }

// ingestionEvent is one entry of a Langfuse ingestion batch.
type ingestionEvent struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	Body      interface{} `json:"body"`
}

type ingestionBatch struct {
	Batch []ingestionEvent `json:"batch"`
}

// ingestionResult is the backend's per-event outcome report (207 responses
// carry partial failures).
type ingestionResult struct {
	Errors []struct {
		ID      string `json:"id"`
		Status  int    `json:"status"`
		Message string `json:"message"`
		Error   any    `json:"error"`
	} `json:"errors"`
}

// traceBody mirrors the backend's trace-create body.
type traceBody struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	UserID    string                 `json:"userId,omitempty"`
	SessionID string                 `json:"sessionId,omitempty"`
	Input     interface{}            `json:"input,omitempty"`
	Output    interface{}            `json:"output,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Tags      []string               `json:"tags,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"`
}

// generationBody mirrors the backend's generation-create body.
type generationBody struct {
	ID        string                 `json:"id"`
	TraceID   string                 `json:"traceId"`
	Name      string                 `json:"name"`
	Model     string                 `json:"model,omitempty"`
	Input     interface{}            `json:"input,omitempty"`
	Output    interface{}            `json:"output,omitempty"`
	Usage     *generationUsage       `json:"usage,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	StartTime string                 `json:"startTime,omitempty"`
	EndTime   string                 `json:"endTime,omitempty"`
}

type generationUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// Client posts ingestion batches to a Langfuse-compatible backend. It holds
// no per-call state: each Flush carries exactly the events its caller
// assembled, so concurrent callers can never drain or observe one another's
// batches.
type Client struct {
	host       string
	publicKey  string
	secretKey  string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a backend client from configuration.
func NewClient(cfg config.LangfuseConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 25 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Client{
		host:      cfg.Host,
		publicKey: cfg.PublicKey,
		secretKey: cfg.SecretKey,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		logger: logger,
	}
}

// newEvent wraps a body as one ingestion batch entry.
func newEvent(eventType string, body interface{}) ingestionEvent {
	return ingestionEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Body:      body,
	}
}

// Flush sends the given events as one batch. This system makes one attempt
// per invocation and never retries.
func (c *Client) Flush(ctx context.Context, batch []ingestionEvent) error {
	if len(batch) == 0 {
		return nil
	}

	payload, err := json.Marshal(ingestionBatch{Batch: batch})
	if err != nil {
		return &RelayError{Message: "failed to encode batch", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/public/ingestion", bytes.NewReader(payload))
	if err != nil {
		return &RelayError{Message: "failed to create request", Err: err}
	}
	req.SetBasicAuth(c.publicKey, c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RelayError{Message: "backend unreachable", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RelayError{Message: fmt.Sprintf("backend returned status %d: %s", resp.StatusCode, string(body))}
	}

	// A 2xx batch response can still carry per-event failures.
	var result ingestionResult
	if err := json.Unmarshal(body, &result); err == nil && len(result.Errors) > 0 {
		first := result.Errors[0]
		return &RelayError{Message: fmt.Sprintf("backend rejected %d event(s): %s", len(result.Errors), first.Message)}
	}

	c.logger.Debug("flushed ingestion batch", zap.Int("events", len(batch)))
	return nil
}
