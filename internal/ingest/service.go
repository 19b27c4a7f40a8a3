package ingest

import (
	"context"
	"time"

	"github.com/ospgroupvn/usage-monitor/internal/token"
	"github.com/ospgroupvn/usage-monitor/pkg/events"
	"github.com/ospgroupvn/usage-monitor/pkg/models"
	"go.uber.org/zap"
)

// TokenVerifier verifies bearer tokens. Satisfied by token.Manager.
type TokenVerifier interface {
	Verify(ctx context.Context, tokenString string) (models.VerifiedIdentity, error)
}

// TraceSender relays a usage record to the observability backend.
// Satisfied by relay.Relay.
type TraceSender interface {
	Send(ctx context.Context, record models.UsageRecord) (models.TraceHandle, error)
}

// Service is the server-side ingestion entry point: authenticate, validate,
// relay. It holds no per-call state; the registry and backend connection
// are the only shared resources.
type Service struct {
	verifier TokenVerifier
	relay    TraceSender
	bus      *events.Bus
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates an ingestion service. The bus is optional.
func NewService(verifier TokenVerifier, relay TraceSender, bus *events.Bus, logger *zap.Logger) *Service {
	return &Service{
		verifier: verifier,
		relay:    relay,
		bus:      bus,
		logger:   logger,
		now:      time.Now,
	}
}

// Report authenticates the caller, validates the submitted report and
// relays it. The record is not retried on relay failure; a lost event is
// resubmitted, if ever, by a later session.
func (s *Service) Report(ctx context.Context, req ReportRequest, bearerToken string) (models.TraceHandle, error) {
	identity, err := s.verifier.Verify(ctx, bearerToken)
	if err != nil {
		if authErr, ok := token.AsAuthError(err); ok {
			s.logger.Warn("usage report rejected",
				zap.String("auth_kind", string(authErr.Kind)),
			)
			// The sub-kind stays visible in the response; an expired token
			// must never be reported as a malformed one.
			return models.TraceHandle{}, &IngestionError{
				Kind:    KindUnauthorized,
				Message: "invalid access token: " + string(authErr.Kind),
				Err:     authErr,
			}
		}
		return models.TraceHandle{}, &IngestionError{
			Kind:    KindUnauthorized,
			Message: "token verification failed",
			Err:     err,
		}
	}

	if !hasScope(identity.Scopes, models.ScopeUsageWrite) {
		s.logger.Warn("usage report rejected: missing scope",
			zap.String("user_id", identity.UserID),
		)
		return models.TraceHandle{}, &IngestionError{
			Kind:    KindUnauthorized,
			Message: "token lacks the " + models.ScopeUsageWrite + " scope",
		}
	}

	if err := req.Validate(); err != nil {
		return models.TraceHandle{}, &IngestionError{
			Kind:    KindInvalidInput,
			Message: err.Error(),
		}
	}

	record := req.toRecord(s.now().UTC())

	handle, err := s.relay.Send(ctx, record)
	if err != nil {
		if s.bus != nil {
			s.bus.Publish(ctx, events.NewEvent(events.EventUsageRelayFailed, record.ActorID, map[string]interface{}{
				"session_id": record.SessionID,
				"error":      err.Error(),
			}))
		}
		return models.TraceHandle{}, &IngestionError{
			Kind:    KindRelayFailed,
			Message: "failed to relay usage record",
			Err:     err,
		}
	}

	if s.bus != nil {
		s.bus.Publish(ctx, events.NewEvent(events.EventUsageReported, record.ActorID, map[string]interface{}{
			"trace_id":     handle.TraceID,
			"session_id":   record.SessionID,
			"total_tokens": record.TotalTokens(),
		}))
	}
	return handle, nil
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
