package transcript

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ospgroupvn/usage-monitor/pkg/models"
)

// DefaultDurationMs is reported when the transcript has no usable start/end
// pair. A missing or non-positive duration is never reported as zero.
const DefaultDurationMs = 1000

// TranscriptError means the transcript could not be parsed. Callers treat it
// as "skip reporting", never as a fatal condition.
type TranscriptError struct {
	Reason string
	Err    error
}

func (e *TranscriptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed transcript: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed transcript: %s", e.Reason)
}

func (e *TranscriptError) Unwrap() error { return e.Err }

// usage is the token accounting block attached to the transcript or to an
// individual message.
type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Usage   *usage          `json:"usage,omitempty"`
}

type transcript struct {
	Messages  []message `json:"messages"`
	Usage     *usage    `json:"usage,omitempty"`
	Model     string    `json:"model"`
	SessionID string    `json:"session_id"`
	StartTime float64   `json:"start_time"`
	EndTime   float64   `json:"end_time"`
}

// Extract converts a raw session transcript into a canonical UsageRecord.
//
// Token counts come from the usage block of the final assistant message (or
// the top-level usage block, which mirrors it); they are never summed across
// turns. Identity and project metadata are attached by the caller afterward,
// outside transcript parsing.
func Extract(raw []byte) (models.UsageRecord, error) {
	var tr transcript
	if err := json.Unmarshal(raw, &tr); err != nil {
		return models.UsageRecord{}, &TranscriptError{Reason: "invalid JSON", Err: err}
	}
	if len(tr.Messages) == 0 {
		return models.UsageRecord{}, &TranscriptError{Reason: "transcript has no messages"}
	}

	record := models.UsageRecord{
		SessionID:    tr.SessionID,
		Model:        tr.Model,
		MessageCount: len(tr.Messages),
		DurationMs:   duration(tr.StartTime, tr.EndTime),
		CapturedAt:   time.Now().UTC(),
	}

	var lastAssistant *message
	for i := range tr.Messages {
		msg := &tr.Messages[i]
		switch msg.Role {
		case "user":
			record.PromptText = contentText(msg.Content)
		case "assistant":
			record.ResponseText = contentText(msg.Content)
			lastAssistant = msg
		}
	}

	// Last message only: the final assistant message's usage block wins over
	// the top-level one. Earlier turns carry context-window-sized counts and
	// must never be accumulated.
	switch {
	case lastAssistant != nil && lastAssistant.Usage != nil:
		record.InputTokens = lastAssistant.Usage.InputTokens
		record.OutputTokens = lastAssistant.Usage.OutputTokens
	case tr.Usage != nil:
		record.InputTokens = tr.Usage.InputTokens
		record.OutputTokens = tr.Usage.OutputTokens
	}
	if record.InputTokens < 0 {
		record.InputTokens = 0
	}
	if record.OutputTokens < 0 {
		record.OutputTokens = 0
	}

	return record, nil
}

// duration computes end minus start, falling back to the default when the
// pair is missing or non-positive. A start of exactly 0 is a legitimate
// epoch value, not an absent one.
func duration(start, end float64) int {
	if start >= 0 && end > start {
		return int(end - start)
	}
	return DefaultDurationMs
}

// contentText extracts text from a message content field, which is either a
// plain string or an array of typed blocks.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}

	out := ""
	for _, block := range blocks {
		if block.Type != "" && block.Type != "text" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += block.Text
	}
	return out
}
