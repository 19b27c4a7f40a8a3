package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ospgroupvn/usage-monitor/pkg/events"
	"github.com/ospgroupvn/usage-monitor/pkg/models"
	"go.uber.org/zap"
)

// Manager orchestrates the codec and the registry: issue, verify, revoke,
// enumerate.
type Manager struct {
	codec  Codec
	store  Store
	bus    *events.Bus
	logger *zap.Logger
	now    func() time.Time
}

// NewManager creates a token manager. The bus is optional; pass nil to skip
// event publication.
func NewManager(codec Codec, store Store, bus *events.Bus, logger *zap.Logger) *Manager {
	return &Manager{
		codec:  codec,
		store:  store,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
}

// Issue generates a token for ownerID, persists the registry entry and only
// then returns the token. Scopes default to usage:write; a nil expiresAt
// means the token never expires.
func (m *Manager) Issue(ctx context.Context, ownerID string, scopes []string, expiresAt *time.Time) (models.AccessToken, error) {
	if ownerID == "" {
		return models.AccessToken{}, fmt.Errorf("owner id is required")
	}
	if len(scopes) == 0 {
		scopes = []string{models.ScopeUsageWrite}
	}

	issuedAt := m.now().UTC()
	tokenString := m.codec.Encode(ownerID, issuedAt.Unix())

	record := models.TokenRecord{
		UserID:    ownerID,
		Scopes:    scopes,
		Revoked:   false,
		CreatedAt: issuedAt,
		ExpiresAt: expiresAt,
	}

	// Issuance that is not durably recorded must not be returned.
	if err := m.store.Put(ctx, tokenString, record); err != nil {
		return models.AccessToken{}, fmt.Errorf("failed to persist token: %w", err)
	}

	m.logger.Info("access token issued",
		zap.String("user_id", ownerID),
		zap.Strings("scopes", scopes),
	)
	if m.bus != nil {
		m.bus.Publish(ctx, events.NewEvent(events.EventTokenIssued, ownerID, map[string]interface{}{
			"scopes": scopes,
		}))
	}

	return models.AccessToken{Token: tokenString, Record: record}, nil
}

// Verify checks a token string and returns the identity it was issued to.
// Checks run in a fixed order: decode, signature, registry lookup, revoked
// flag, expiry. A well-signed token that was never issued by this registry
// is still rejected as unknown.
func (m *Manager) Verify(ctx context.Context, tokenString string) (models.VerifiedIdentity, error) {
	ownerID, issuedAt, signature, err := m.codec.Decode(tokenString)
	if err != nil {
		return models.VerifiedIdentity{}, err
	}

	if !m.codec.VerifySignature(ownerID, issuedAt, signature) {
		return models.VerifiedIdentity{}, &AuthError{Kind: KindInvalidSignature}
	}

	record, err := m.store.Get(ctx, tokenString)
	if errors.Is(err, ErrNotFound) {
		return models.VerifiedIdentity{}, &AuthError{Kind: KindUnknown}
	}
	if err != nil {
		return models.VerifiedIdentity{}, fmt.Errorf("failed to look up token: %w", err)
	}

	if record.Revoked {
		return models.VerifiedIdentity{}, &AuthError{Kind: KindRevoked}
	}

	if record.ExpiresAt != nil && m.now().After(*record.ExpiresAt) {
		return models.VerifiedIdentity{}, &AuthError{Kind: KindExpired}
	}

	return models.VerifiedIdentity{UserID: record.UserID, Scopes: record.Scopes}, nil
}

// Revoke marks a token revoked. It returns false when the token is unknown;
// revoking a nonexistent token is a no-op, not a failure. Revocation is
// monotonic: once set, the flag never reverts.
func (m *Manager) Revoke(ctx context.Context, tokenString string) (bool, error) {
	revoked, err := m.store.SetRevoked(ctx, tokenString, m.now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to revoke token: %w", err)
	}
	if !revoked {
		return false, nil
	}

	m.logger.Info("access token revoked", zap.String("token_preview", Preview(tokenString)))
	if m.bus != nil {
		m.bus.Publish(ctx, events.NewEvent(events.EventTokenRevoked, "", map[string]interface{}{
			"token_preview": Preview(tokenString),
		}))
	}
	return true, nil
}

// List returns a snapshot of issued tokens, optionally including revoked
// ones. Ordering is unspecified but stable within one registry state.
func (m *Manager) List(ctx context.Context, includeRevoked bool) ([]models.AccessToken, error) {
	records, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}

	tokens := make([]models.AccessToken, 0, len(records))
	for tokenString, record := range records {
		if !includeRevoked && record.Revoked {
			continue
		}
		tokens = append(tokens, models.AccessToken{Token: tokenString, Record: record})
	}
	return tokens, nil
}

// Preview returns a loggable prefix of a token string. Full token strings
// are credentials and never go to logs or listings.
func Preview(tokenString string) string {
	if len(tokenString) <= 20 {
		return tokenString
	}
	return tokenString[:20] + "..."
}
