// Package auth provides token authenticators for the dispatcher.
//
// An authenticator returns the caller identity for a token, or nil when the
// token is not accepted.
package auth

import (
	"context"
	"fmt"
	"strings"
)

const logPrefix = "auth:auth"

// Modes accepted by AUTH_MODE.
const (
	ModeNone     = "none"
	ModeStatic   = "static"
	ModePostgres = "postgres"
)

// DenyAll rejects every token. It is the default when no backend is configured.
type DenyAll struct{}

func (DenyAll) Authenticate(context.Context, string) (any, error) {
	return nil, nil
}

// Func adapts a function to an authenticator.
type Func func(ctx context.Context, token string) (any, error)

func (f Func) Authenticate(ctx context.Context, token string) (any, error) {
	return f(ctx, token)
}

// Static accepts a fixed set of tokens.
type Static struct {
	tokens map[string]string
}

// NewStatic creates a Static authenticator from token → identity.
func NewStatic(tokens map[string]string) *Static {
	cp := make(map[string]string, len(tokens))
	for k, v := range tokens {
		cp[k] = v
	}
	return &Static{tokens: cp}
}

// Authenticate returns the identity of token as a string.
func (s *Static) Authenticate(_ context.Context, token string) (any, error) {
	if token == "" {
		return nil, nil
	}
	id, ok := s.tokens[token]
	if !ok || id == "" {
		return nil, nil
	}
	return id, nil
}

// ParseStaticTokens parses "token=identity,token2=identity2".
func ParseStaticTokens(spec string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, identity, ok := strings.Cut(pair, "=")
		token, identity = strings.TrimSpace(token), strings.TrimSpace(identity)
		if !ok || token == "" || identity == "" {
			return nil, fmt.Errorf("%s - malformed token entry %q, want token=identity", logPrefix, pair)
		}
		out[token] = identity
	}
	return out, nil
}
