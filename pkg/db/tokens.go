package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const tokensLogPrefix = "db:tokens"

// Token is one row of rpc_tokens.
type Token struct {
	Token     string
	Identity  string
	ExpiresAt *time.Time
}

// Expired reports whether the token has an expiry at or before now.
func (t *Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !t.ExpiresAt.After(now)
}

// TokenStore reads and writes rpc_tokens.
type TokenStore struct {
	pool *pgxpool.Pool
}

// NewTokenStore creates a TokenStore over pool.
func NewTokenStore(pool *pgxpool.Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

// LookupToken returns the row for token, nil when absent.
func (s *TokenStore) LookupToken(ctx context.Context, token string) (*Token, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT token, identity, expires_at FROM rpc_tokens WHERE token = $1`, token)

	var t Token
	if err := row.Scan(&t.Token, &t.Identity, &t.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s - lookup failed: %w", tokensLogPrefix, err)
	}
	return &t, nil
}

// PutToken inserts or replaces a token.
func (s *TokenStore) PutToken(ctx context.Context, t Token) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rpc_tokens (token, identity, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (token) DO UPDATE SET identity = $2, expires_at = $3`,
		t.Token, t.Identity, t.ExpiresAt)
	if err != nil {
		return fmt.Errorf("%s - put failed: %w", tokensLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - stored token for %s", tokensLogPrefix, t.Identity))
	return nil
}

// RevokeToken deletes a token. It reports whether a row was removed.
func (s *TokenStore) RevokeToken(ctx context.Context, token string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rpc_tokens WHERE token = $1`, token)
	if err != nil {
		return false, fmt.Errorf("%s - revoke failed: %w", tokensLogPrefix, err)
	}
	return tag.RowsAffected() > 0, nil
}

// PurgeExpired deletes tokens expired at now and returns how many were removed.
func (s *TokenStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rpc_tokens WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%s - purge failed: %w", tokensLogPrefix, err)
	}
	return tag.RowsAffected(), nil
}
