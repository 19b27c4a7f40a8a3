package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ospgroupvn/usage-monitor/internal/ingest"
	"github.com/ospgroupvn/usage-monitor/internal/token"
	"go.uber.org/zap"
)

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var req ingest.ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		usageReportsTotal.WithLabelValues("invalid").Inc()
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	start := time.Now()
	handle, err := s.ingest.Report(r.Context(), req, bearerToken(r))
	relayDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		ingErr, ok := ingest.AsIngestionError(err)
		if !ok {
			usageReportsTotal.WithLabelValues("error").Inc()
			s.logger.Error("usage report failed", zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		switch ingErr.Kind {
		case ingest.KindUnauthorized:
			usageReportsTotal.WithLabelValues("unauthorized").Inc()
			s.writeError(w, http.StatusUnauthorized, ingErr.Message)
		case ingest.KindInvalidInput:
			usageReportsTotal.WithLabelValues("invalid").Inc()
			s.writeError(w, http.StatusBadRequest, ingErr.Message)
		case ingest.KindRelayFailed:
			usageReportsTotal.WithLabelValues("relay_failed").Inc()
			s.logger.Error("usage relay failed", zap.Error(ingErr))
			s.writeError(w, http.StatusBadGateway, ingErr.Message)
		default:
			usageReportsTotal.WithLabelValues("error").Inc()
			s.writeError(w, http.StatusInternalServerError, ingErr.Message)
		}
		return
	}

	usageReportsTotal.WithLabelValues("success").Inc()
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":   "success",
		"trace_id": handle.TraceID,
	})
}

type issueTokenRequest struct {
	UserID    string   `json:"user_id"`
	Scopes    []string `json:"scopes,omitempty"`
	ExpiresIn string   `json:"expires_in,omitempty"`
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	var expiresAt *time.Time
	if req.ExpiresIn != "" {
		ttl, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || ttl <= 0 {
			s.writeError(w, http.StatusBadRequest, "expires_in must be a positive duration")
			return
		}
		t := time.Now().UTC().Add(ttl)
		expiresAt = &t
	}

	issued, err := s.manager.Issue(r.Context(), req.UserID, req.Scopes, expiresAt)
	if err != nil {
		s.logger.Error("failed to issue token", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	tokensIssuedTotal.Inc()

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"status":     "success",
		"token":      issued.Token,
		"user_id":    issued.Record.UserID,
		"scopes":     issued.Record.Scopes,
		"created_at": issued.Record.CreatedAt.Format(time.RFC3339),
		"expires_at": issued.Record.ExpiresAt,
	})
}

type revokeTokenRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	var req revokeTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Token == "" {
		s.writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	revoked, err := s.manager.Revoke(r.Context(), req.Token)
	if err != nil {
		s.logger.Error("failed to revoke token", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to revoke token")
		return
	}
	message := "Token not found; nothing to revoke"
	if revoked {
		tokensRevokedTotal.Inc()
		message = "Token revoked"
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"message": message,
		"revoked": revoked,
	})
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	includeRevoked := r.URL.Query().Get("include_revoked") == "true"

	tokens, err := s.manager.List(r.Context(), includeRevoked)
	if err != nil {
		s.logger.Error("failed to list tokens", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list tokens")
		return
	}

	// Full token strings are credentials; listings carry previews only.
	entries := make([]map[string]interface{}, 0, len(tokens))
	for _, t := range tokens {
		entries = append(entries, map[string]interface{}{
			"token_preview": token.Preview(t.Token),
			"user_id":       t.Record.UserID,
			"scopes":        t.Record.Scopes,
			"revoked":       t.Record.Revoked,
			"created_at":    t.Record.CreatedAt.Format(time.RFC3339),
			"revoked_at":    t.Record.RevokedAt,
			"expires_at":    t.Record.ExpiresAt,
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"tokens": entries,
		"count":  len(entries),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, map[string]string{
		"status":  "error",
		"message": message,
	})
}
