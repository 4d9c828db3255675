package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/morezero/rpcmesh/pkg/db"
)

const pgLogPrefix = "auth:postgres"

// TokenLookup reads one token row; nil means unknown.
type TokenLookup interface {
	LookupToken(ctx context.Context, token string) (*db.Token, error)
}

type cachedIdentity struct {
	identity string
	until    time.Time
}

// Postgres authenticates against the rpc_tokens table. Accepted tokens are
// cached for cacheTTL, never past their own expiry.
type Postgres struct {
	lookup   TokenLookup
	cacheTTL time.Duration
	cache    *xsync.MapOf[string, cachedIdentity]
	now      func() time.Time
}

// NewPostgres creates a Postgres authenticator. cacheTTL of 0 disables caching.
func NewPostgres(lookup TokenLookup, cacheTTL time.Duration) *Postgres {
	return &Postgres{
		lookup:   lookup,
		cacheTTL: cacheTTL,
		cache:    xsync.NewMapOf[string, cachedIdentity](),
		now:      time.Now,
	}
}

// Authenticate returns the identity of a known, unexpired token.
func (p *Postgres) Authenticate(ctx context.Context, token string) (any, error) {
	if token == "" {
		return nil, nil
	}
	now := p.now()
	if c, ok := p.cache.Load(token); ok {
		if now.Before(c.until) {
			return c.identity, nil
		}
		p.cache.Delete(token)
	}

	row, err := p.lookup.LookupToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%s - %w", pgLogPrefix, err)
	}
	if row == nil || row.Identity == "" {
		return nil, nil
	}
	if row.Expired(now) {
		slog.Debug(fmt.Sprintf("%s - token for %s expired at %s", pgLogPrefix, row.Identity, row.ExpiresAt))
		return nil, nil
	}

	if p.cacheTTL > 0 {
		until := now.Add(p.cacheTTL)
		if row.ExpiresAt != nil && row.ExpiresAt.Before(until) {
			until = *row.ExpiresAt
		}
		p.cache.Store(token, cachedIdentity{identity: row.Identity, until: until})
	}
	return row.Identity, nil
}
