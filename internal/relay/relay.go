package relay

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ospgroupvn/usage-monitor/pkg/models"
	"go.uber.org/zap"
)

const (
	traceName      = "claude-code-usage"
	generationName = "claude-code-generation"
	baseTag        = "claude-code"

	promptTruncateLen   = 500
	responseTruncateLen = 1000
)

// Relay maps a UsageRecord onto the backend's trace/generation primitives.
// Each Send opens a trace with a nested generation, flushes synchronously
// and returns the backend trace identifier. The relay performs no retries;
// retry policy, if any, belongs to the caller.
type Relay struct {
	client *Client
	logger *zap.Logger
}

// NewRelay creates a trace relay on the given backend client.
func NewRelay(client *Client, logger *zap.Logger) *Relay {
	return &Relay{client: client, logger: logger}
}

// Send relays one usage record. The returned handle carries the trace id
// assigned for this call; two sends of the same record produce two distinct
// traces.
func (r *Relay) Send(ctx context.Context, record models.UsageRecord) (models.TraceHandle, error) {
	traceID := uuid.NewString()

	metadata := map[string]interface{}{
		"project_name": record.ProjectName,
		"timestamp":    record.CapturedAt.UTC().Format(time.RFC3339),
		"total_tokens": record.TotalTokens(),
	}
	if record.RepoFullName != "" {
		metadata["repo_full_name"] = record.RepoFullName
	}
	if record.RepoURL != "" {
		metadata["repo_url"] = record.RepoURL
	}
	if record.MessageCount > 0 {
		metadata["message_count"] = record.MessageCount
	}

	tags := []string{baseTag, record.Model}
	if record.RepoFullName != "" {
		tags = append(tags, "repo:"+record.RepoFullName)
	}

	trace := newEvent("trace-create", traceBody{
		ID:        traceID,
		Name:      traceName,
		UserID:    record.ActorID,
		SessionID: record.SessionID,
		Input:     map[string]interface{}{"user_prompt": truncate(record.PromptText, promptTruncateLen)},
		Output:    map[string]interface{}{"assistant_response": truncate(record.ResponseText, responseTruncateLen)},
		Metadata:  metadata,
		Tags:      tags,
		Timestamp: record.CapturedAt.UTC().Format(time.RFC3339Nano),
	})

	start := record.CapturedAt.UTC()
	end := start.Add(time.Duration(record.DurationMs) * time.Millisecond)
	generation := newEvent("generation-create", generationBody{
		ID:      uuid.NewString(),
		TraceID: traceID,
		Name:    generationName,
		Model:   record.Model,
		Input:   truncate(record.PromptText, promptTruncateLen),
		Output:  truncate(record.ResponseText, responseTruncateLen),
		Usage: &generationUsage{
			Input:  record.InputTokens,
			Output: record.OutputTokens,
			Total:  record.TotalTokens(),
		},
		Metadata: map[string]interface{}{
			"duration_ms":    record.DurationMs,
			"project":        record.ProjectName,
			"repo_full_name": record.RepoFullName,
			"repo_url":       record.RepoURL,
			"message_count":  record.MessageCount,
		},
		StartTime: start.Format(time.RFC3339Nano),
		EndTime:   end.Format(time.RFC3339Nano),
	})

	// The caller must observe durable delivery, not best-effort buffering.
	// The batch belongs to this call alone; a concurrent Send can neither
	// carry these events away nor have its failure attributed here.
	if err := r.client.Flush(ctx, []ingestionEvent{trace, generation}); err != nil {
		r.logger.Error("failed to relay usage record",
			zap.String("session_id", record.SessionID),
			zap.Error(err),
		)
		return models.TraceHandle{}, err
	}

	r.logger.Info("usage record relayed",
		zap.String("trace_id", traceID),
		zap.String("user_id", record.ActorID),
		zap.String("session_id", record.SessionID),
		zap.Int("total_tokens", record.TotalTokens()),
	)
	return models.TraceHandle{TraceID: traceID, ActorID: record.ActorID}, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
