package models

import "time"

// ScopeUsageWrite is the permission required to submit usage reports.
const ScopeUsageWrite = "usage:write"

// UsageRecord is the canonical representation of one reported interaction.
//
// InputTokens and OutputTokens cover only the final assistant message of the
// session, never a sum across the transcript.
type UsageRecord struct {
	ActorID      string    `json:"github_username"`
	SessionID    string    `json:"session_id"`
	PromptText   string    `json:"user_prompt"`
	ResponseText string    `json:"assistant_response"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Model        string    `json:"model"`
	DurationMs   int       `json:"duration_ms"`
	ProjectName  string    `json:"project_name,omitempty"`
	RepoFullName string    `json:"repo_full_name,omitempty"`
	RepoURL      string    `json:"repo_url,omitempty"`
	RepoName     string    `json:"repo_name,omitempty"`
	MessageCount int       `json:"message_count,omitempty"`
	CapturedAt   time.Time `json:"captured_at"`
}

// TotalTokens returns input plus output tokens.
func (u UsageRecord) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

// TokenRecord is the persisted registry entry for an issued access token.
// Revoked entries are kept forever so listings can show history.
type TokenRecord struct {
	UserID    string     `json:"user_id"`
	Scopes    []string   `json:"scopes"`
	Revoked   bool       `json:"revoked"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// HasScope reports whether the record carries the given permission scope.
func (r TokenRecord) HasScope(scope string) bool {
	for _, s := range r.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// AccessToken pairs a token string with its registry record, as returned by
// issue and list operations.
type AccessToken struct {
	Token  string      `json:"token"`
	Record TokenRecord `json:"record"`
}

// VerifiedIdentity is the result of a successful token verification.
type VerifiedIdentity struct {
	UserID string   `json:"user_id"`
	Scopes []string `json:"scopes"`
}

// TraceHandle identifies a trace created on the observability backend.
type TraceHandle struct {
	TraceID string `json:"trace_id"`
	ActorID string `json:"actor_id"`
}
