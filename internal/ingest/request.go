package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/ospgroupvn/usage-monitor/pkg/models"
)

// ReportRequest is the typed ingestion call contract. Field names follow
// the wire format submitted by the client hook.
type ReportRequest struct {
	UserPrompt        string `json:"user_prompt"`
	AssistantResponse string `json:"assistant_response"`
	InputTokens       int    `json:"input_tokens"`
	OutputTokens      int    `json:"output_tokens"`
	Model             string `json:"model"`
	DurationMs        int    `json:"duration_ms"`
	GitHubUsername    string `json:"github_username"`
	SessionID         string `json:"session_id"`
	ProjectName       string `json:"project_name,omitempty"`
	RepoFullName      string `json:"repo_full_name,omitempty"`
	RepoURL           string `json:"repo_url,omitempty"`
	MessageCount      int    `json:"message_count,omitempty"`
}

// Validate checks required fields and numeric ranges.
func (r *ReportRequest) Validate() error {
	if r.GitHubUsername == "" {
		return fmt.Errorf("github_username is required")
	}
	if r.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if r.InputTokens < 0 {
		return fmt.Errorf("input_tokens must be non-negative")
	}
	if r.OutputTokens < 0 {
		return fmt.Errorf("output_tokens must be non-negative")
	}
	if r.DurationMs < 0 {
		return fmt.Errorf("duration_ms must be non-negative")
	}
	if r.MessageCount < 0 {
		return fmt.Errorf("message_count must be non-negative")
	}
	return nil
}

// toRecord builds the canonical usage record. CapturedAt is set here, at
// record-construction time, never taken from the caller.
func (r *ReportRequest) toRecord(now time.Time) models.UsageRecord {
	record := models.UsageRecord{
		ActorID:      r.GitHubUsername,
		SessionID:    r.SessionID,
		PromptText:   r.UserPrompt,
		ResponseText: r.AssistantResponse,
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
		Model:        r.Model,
		DurationMs:   r.DurationMs,
		ProjectName:  r.ProjectName,
		RepoFullName: r.RepoFullName,
		RepoURL:      r.RepoURL,
		MessageCount: r.MessageCount,
		CapturedAt:   now,
	}
	if idx := strings.LastIndexByte(record.RepoFullName, '/'); idx >= 0 {
		record.RepoName = record.RepoFullName[idx+1:]
	}
	return record
}
