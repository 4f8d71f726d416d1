// Package csrf issues and validates per-session anti-forgery tokens.
package csrf

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"profscore/api/internal/ephemeral"
	"profscore/api/internal/security"
)

const keyPrefix = "csrf:"

// Store keeps exactly one live token per session. Issuing again overwrites
// the prior token, and any challenged token is consumed, so each issued
// token authorizes at most one mutating request.
type Store struct {
	store ephemeral.Store
	ttl   time.Duration
}

func NewStore(store ephemeral.Store, ttl time.Duration) *Store {
	return &Store{store: store, ttl: ttl}
}

func (s *Store) Issue(ctx context.Context, sessionID string) (string, error) {
	token, err := security.NewOpaqueToken()
	if err != nil {
		return "", err
	}
	if err := s.store.Set(ctx, keyPrefix+sessionID, []byte(token), s.ttl); err != nil {
		return "", err
	}
	return token, nil
}

// Validate reports whether supplied matches the live token for sessionID.
// Expiry is handled by the backing store; absent, mismatched, and malformed
// tokens all fail. The decoded bytes are compared in constant time after a
// length check, and a valid token is deleted on acceptance.
func (s *Store) Validate(ctx context.Context, sessionID, supplied string) bool {
	key := keyPrefix + sessionID

	stored, ok, err := s.store.Get(ctx, key)
	if err != nil || !ok {
		return false
	}

	// Once a live record has been challenged, it is removed whether the
	// comparison succeeds or fails: a rejected token cannot be probed
	// repeatedly, and an accepted one cannot be replayed.
	defer func() { _ = s.store.Delete(ctx, key) }()

	expected, err := hex.DecodeString(string(stored))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(supplied)
	if err != nil || len(got) != len(expected) {
		return false
	}

	return subtle.ConstantTimeCompare(expected, got) == 1
}
