// Package session manages server-side sessions and the signed cookie that
// carries the session identity.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"profscore/api/internal/ephemeral"
	"profscore/api/internal/ids"
	"profscore/api/internal/security"
)

const (
	keyPrefix = "sess:"

	// SurrogateCookie identifies callers that have no authenticated session
	// yet, so CSRF tokens can be issued before login.
	SurrogateCookie = "profscore_sid"
)

var ErrNoSession = errors.New("no session")

type Record struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	Role      string    `json:"role"`
	IPAddress string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`
	CreatedAt time.Time `json:"createdAt"`
}

type Manager struct {
	store      ephemeral.Store
	secret     string
	ttl        time.Duration
	cookieName string
	secure     bool
}

func NewManager(store ephemeral.Store, secret string, ttl time.Duration, cookieName string, secure bool) *Manager {
	return &Manager{
		store:      store,
		secret:     secret,
		ttl:        ttl,
		cookieName: cookieName,
		secure:     secure,
	}
}

// Establish writes the session record to the store and only then sets the
// cookie. The write completing before the response is sent closes the race
// where a client redirects before its session exists server-side.
func (m *Manager) Establish(c *gin.Context, accountID, role string) (Record, error) {
	rec := Record{
		ID:        ids.New(),
		AccountID: accountID,
		Role:      role,
		IPAddress: c.ClientIP(),
		UserAgent: c.GetHeader("User-Agent"),
		CreatedAt: time.Now(),
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return Record{}, err
	}
	if err := m.store.Set(c.Request.Context(), keyPrefix+rec.ID, raw, m.ttl); err != nil {
		return Record{}, err
	}

	signed, err := security.SignSessionCookie(m.secret, rec.ID, accountID, role, m.ttl)
	if err != nil {
		return Record{}, err
	}

	m.setCookie(c, m.cookieName, signed, int(m.ttl.Seconds()))
	return rec, nil
}

// Resolve returns the session record for the request's cookie, if the
// cookie parses, the signature holds, and the record is still live.
func (m *Manager) Resolve(c *gin.Context) (Record, error) {
	value, err := c.Cookie(m.cookieName)
	if err != nil || value == "" {
		return Record{}, ErrNoSession
	}

	claims, err := security.ParseSessionCookie(value, m.secret)
	if err != nil {
		return Record{}, ErrNoSession
	}

	raw, ok, err := m.store.Get(c.Request.Context(), keyPrefix+claims.SessionID)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, ErrNoSession
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, ErrNoSession
	}
	if rec.AccountID != claims.AccountID {
		return Record{}, ErrNoSession
	}
	return rec, nil
}

func (m *Manager) Destroy(c *gin.Context) error {
	value, err := c.Cookie(m.cookieName)
	if err == nil && value != "" {
		if claims, perr := security.ParseSessionCookie(value, m.secret); perr == nil {
			if derr := m.store.Delete(c.Request.Context(), keyPrefix+claims.SessionID); derr != nil {
				return derr
			}
		}
	}
	m.setCookie(c, m.cookieName, "", -1)
	return nil
}

// CallerID returns a stable identifier for the caller to key CSRF tokens
// on: the live session id when authenticated, otherwise a surrogate id
// cookie created on first use.
func (m *Manager) CallerID(c *gin.Context) string {
	if rec, err := m.Resolve(c); err == nil {
		return rec.ID
	}

	if sid, err := c.Cookie(SurrogateCookie); err == nil && sid != "" {
		return sid
	}

	sid := ids.New()
	m.setCookie(c, SurrogateCookie, sid, int(m.ttl.Seconds()))
	return sid
}

// PeekCallerID is CallerID without the cookie side effect, for validation
// paths that must not mint identities.
func (m *Manager) PeekCallerID(c *gin.Context) (string, bool) {
	if rec, err := m.Resolve(c); err == nil {
		return rec.ID, true
	}
	if sid, err := c.Cookie(SurrogateCookie); err == nil && sid != "" {
		return sid, true
	}
	return "", false
}

// Touch extends a session's TTL in the store, mirroring cookie freshness.
func (m *Manager) Touch(ctx context.Context, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, keyPrefix+rec.ID, raw, m.ttl)
}

func (m *Manager) setCookie(c *gin.Context, name, value string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
