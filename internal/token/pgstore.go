package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/ospgroupvn/usage-monitor/pkg/database"
	"github.com/ospgroupvn/usage-monitor/pkg/models"
)

// Schema creates the access_tokens table. Revocation is an UPDATE of the
// revoked flag; rows are never deleted.
const Schema = `
CREATE TABLE IF NOT EXISTS access_tokens (
    token      TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    scopes     TEXT[] NOT NULL DEFAULT '{}',
    revoked    BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL,
    revoked_at TIMESTAMPTZ,
    expires_at TIMESTAMPTZ
)`

// PostgresStore keeps the registry in PostgreSQL for deployments that
// already run the database.
type PostgresStore struct {
	db *database.Database
}

// NewPostgresStore creates a Postgres-backed registry and ensures the
// schema exists.
func NewPostgresStore(ctx context.Context, db *database.Database) (*PostgresStore, error) {
	if _, err := db.Pool.Exec(ctx, Schema); err != nil {
		return nil, fmt.Errorf("failed to ensure access_tokens schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Put(ctx context.Context, tokenString string, record models.TokenRecord) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO access_tokens (token, user_id, scopes, revoked, created_at, revoked_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (token) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			scopes = EXCLUDED.scopes,
			revoked = EXCLUDED.revoked,
			created_at = EXCLUDED.created_at,
			revoked_at = EXCLUDED.revoked_at,
			expires_at = EXCLUDED.expires_at
	`, tokenString, record.UserID, record.Scopes, record.Revoked, record.CreatedAt, record.RevokedAt, record.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to store token record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, tokenString string) (models.TokenRecord, error) {
	var record models.TokenRecord
	err := s.db.Pool.QueryRow(ctx, `
		SELECT user_id, scopes, revoked, created_at, revoked_at, expires_at
		FROM access_tokens
		WHERE token = $1
	`, tokenString).Scan(&record.UserID, &record.Scopes, &record.Revoked, &record.CreatedAt, &record.RevokedAt, &record.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.TokenRecord{}, ErrNotFound
	}
	if err != nil {
		return models.TokenRecord{}, fmt.Errorf("failed to load token record: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) SetRevoked(ctx context.Context, tokenString string, at time.Time) (bool, error) {
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE access_tokens SET revoked = TRUE, revoked_at = $2
		WHERE token = $1
	`, tokenString, at)
	if err != nil {
		return false, fmt.Errorf("failed to revoke token record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) List(ctx context.Context) (map[string]models.TokenRecord, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT token, user_id, scopes, revoked, created_at, revoked_at, expires_at
		FROM access_tokens
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list token records: %w", err)
	}
	defer rows.Close()

	records := make(map[string]models.TokenRecord)
	for rows.Next() {
		var tokenString string
		var record models.TokenRecord
		if err := rows.Scan(&tokenString, &record.UserID, &record.Scopes, &record.Revoked, &record.CreatedAt, &record.RevokedAt, &record.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan token record: %w", err)
		}
		records[tokenString] = record
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate token records: %w", err)
	}
	return records, nil
}
