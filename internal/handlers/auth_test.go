package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"profscore/api/internal/captcha"
	"profscore/api/internal/config"
	"profscore/api/internal/csrf"
	"profscore/api/internal/ephemeral"
	"profscore/api/internal/lockout"
	"profscore/api/internal/models"
	"profscore/api/internal/repository"
	"profscore/api/internal/security"
	"profscore/api/internal/service"
	"profscore/api/internal/session"
)

type stubAccounts struct {
	mu       sync.Mutex
	accounts map[string]models.Account
}

func newStubAccounts() *stubAccounts {
	return &stubAccounts{accounts: make(map[string]models.Account)}
}

func (s *stubAccounts) Create(_ context.Context, account models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accounts {
		if strings.EqualFold(existing.Username, account.Username) || strings.EqualFold(existing.Email, account.Email) {
			return repository.ErrDuplicateAccount
		}
	}
	s.accounts[account.ID] = account
	return nil
}

func (s *stubAccounts) find(match func(models.Account) bool) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, account := range s.accounts {
		if match(account) {
			return account, nil
		}
	}
	return models.Account{}, repository.ErrAccountNotFound
}

func (s *stubAccounts) FindByUsername(_ context.Context, username string) (models.Account, error) {
	return s.find(func(a models.Account) bool { return strings.EqualFold(a.Username, username) })
}

func (s *stubAccounts) FindByEmail(_ context.Context, email string) (models.Account, error) {
	return s.find(func(a models.Account) bool { return strings.EqualFold(a.Email, email) })
}

func (s *stubAccounts) GetByID(_ context.Context, id string) (models.Account, error) {
	return s.find(func(a models.Account) bool { return a.ID == id })
}

func (s *stubAccounts) FindByVerificationToken(_ context.Context, token string) (models.Account, error) {
	return s.find(func(a models.Account) bool {
		return a.VerificationToken != nil && *a.VerificationToken == token
	})
}

func (s *stubAccounts) FindByResetToken(_ context.Context, token string) (models.Account, error) {
	return s.find(func(a models.Account) bool {
		return a.ResetToken != nil && *a.ResetToken == token
	})
}

func (s *stubAccounts) update(id string, fn func(*models.Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	fn(&account)
	s.accounts[id] = account
	return nil
}

func (s *stubAccounts) MarkEmailVerified(_ context.Context, id string) error {
	return s.update(id, func(a *models.Account) {
		a.EmailVerified = true
		a.VerificationToken = nil
	})
}

func (s *stubAccounts) SetResetToken(_ context.Context, id string, token string, expiry time.Time) error {
	return s.update(id, func(a *models.Account) {
		a.ResetToken = &token
		a.ResetTokenExpiry = &expiry
	})
}

func (s *stubAccounts) ClearResetToken(_ context.Context, id string) error {
	return s.update(id, func(a *models.Account) {
		a.ResetToken = nil
		a.ResetTokenExpiry = nil
	})
}

func (s *stubAccounts) ResetPassword(_ context.Context, id string, hash []byte) error {
	return s.update(id, func(a *models.Account) {
		a.PasswordHash = hash
		a.ResetToken = nil
		a.ResetTokenExpiry = nil
	})
}

func (s *stubAccounts) UpdatePassword(_ context.Context, id string, hash []byte) error {
	return s.update(id, func(a *models.Account) { a.PasswordHash = hash })
}

func (s *stubAccounts) UpdateRole(_ context.Context, id string, role models.AccountRole) error {
	return s.update(id, func(a *models.Account) { a.Role = role })
}

func (s *stubAccounts) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return repository.ErrAccountNotFound
	}
	delete(s.accounts, id)
	return nil
}

func (s *stubAccounts) List(_ context.Context, limit, offset int) ([]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Account
	for _, account := range s.accounts {
		out = append(out, account)
	}
	return out, nil
}

func testAppConfig() *config.AppConfig {
	return &config.AppConfig{
		Environment: "test",
		Security: config.SecurityConfig{
			SessionSecret: "test-secret",
			SessionTTL:    time.Hour,
			CookieName:    "profscore_session",
			CSRFTokenTTL:  time.Hour,
			ResetTokenTTL: 24 * time.Hour,
			Hash:          config.HashConfig{Time: 1, Memory: 16 * 1024, Threads: 1},
			Lockout: config.LockoutConfig{
				Threshold:  5,
				Window:     15 * time.Minute,
				MaxHistory: 10,
				Horizon:    24 * time.Hour,
			},
		},
	}
}

type testEnv struct {
	engine   *gin.Engine
	svc      *service.AuthService
	accounts *stubAccounts
	cookies  map[string]string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testAppConfig()
	sec := cfg.Security
	mem := ephemeral.NewMemoryStore()
	accounts := newStubAccounts()

	hasher := security.NewHasher(sec.Hash.Time, sec.Hash.Memory, sec.Hash.Threads)
	tracker := lockout.NewTracker(mem, sec.Lockout.Threshold, sec.Lockout.Window, sec.Lockout.MaxHistory, sec.Lockout.Horizon)
	gate := captcha.NewVerifier(sec.Captcha, zerolog.Nop())
	svc := service.NewAuthService(accounts, hasher, tracker, gate, service.LogMailer{Log: zerolog.Nop()}, cfg, zerolog.Nop())

	h := HandlerSet{
		log:         zerolog.Nop(),
		cfg:         cfg,
		authService: svc,
		sessions:    session.NewManager(mem, sec.SessionSecret, sec.SessionTTL, sec.CookieName, false),
		csrfStore:   csrf.NewStore(mem, sec.CSRFTokenTTL),
		accounts:    accounts,
	}

	engine := gin.New()
	h.Register(engine.Group("/api"))

	return &testEnv{engine: engine, svc: svc, accounts: accounts, cookies: make(map[string]string)}
}

// do performs a request, carrying cookies across calls like a browser would.
func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	for name, value := range e.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)

	for _, cookie := range w.Result().Cookies() {
		if cookie.MaxAge < 0 {
			delete(e.cookies, cookie.Name)
			continue
		}
		e.cookies[cookie.Name] = cookie.Value
	}
	return w
}

func (e *testEnv) csrfToken(t *testing.T) string {
	t.Helper()
	w := e.do(t, http.MethodGet, "/api/v1/auth/csrf-token", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Token, 64)
	return body.Token
}

func (e *testEnv) seedVerifiedAccount(t *testing.T, username, email, password string, role models.AccountRole) models.Account {
	t.Helper()

	hasher := security.NewHasher(1, 16*1024, 1)
	hash, err := hasher.Hash(password)
	require.NoError(t, err)

	account := models.Account{
		ID:            "acct-" + username,
		Username:      username,
		Email:         email,
		PasswordHash:  hash,
		Role:          role,
		EmailVerified: true,
	}
	require.NoError(t, e.accounts.Create(context.Background(), account))
	return account
}

func (e *testEnv) login(t *testing.T, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	token := e.csrfToken(t)
	return e.do(t, http.MethodPost, "/api/v1/auth/login",
		gin.H{"username": username, "password": password},
		map[string]string{"X-CSRF-Token": token})
}

func TestCSRFTokenMintsSurrogateCookie(t *testing.T) {
	env := newTestEnv(t)

	env.csrfToken(t)
	require.NotEmpty(t, env.cookies[session.SurrogateCookie])
}

func TestMutatingRequestWithoutTokenRejected(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/auth/login",
		gin.H{"username": "alice", "password": "whatever1"}, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Contains(t, w.Body.String(), "missing_csrf_token")
}

func TestMutatingRequestWithBogusTokenRejected(t *testing.T) {
	env := newTestEnv(t)

	// Establish a surrogate identity first, then present a wrong token.
	env.csrfToken(t)
	w := env.do(t, http.MethodPost, "/api/v1/auth/login",
		gin.H{"username": "alice", "password": "whatever1"},
		map[string]string{"X-CSRF-Token": strings.Repeat("ab", 32)})
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Contains(t, w.Body.String(), "invalid_csrf_token")
}

func TestCSRFTokenIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	env.seedVerifiedAccount(t, "alice", "alice@example.com", "Str0ng!Pass", models.RoleStudent)

	token := env.csrfToken(t)
	headers := map[string]string{"X-CSRF-Token": token}
	body := gin.H{"email": "alice@example.com"}

	w := env.do(t, http.MethodPost, "/api/v1/auth/forgot-password", body, headers)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/auth/forgot-password", body, headers)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestLoginSetsSessionCookie(t *testing.T) {
	env := newTestEnv(t)
	env.seedVerifiedAccount(t, "alice", "alice@example.com", "Str0ng!Pass", models.RoleStudent)

	w := env.login(t, "alice", "Str0ng!Pass")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, env.cookies["profscore_session"])

	var body struct {
		User models.PublicAccount `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "alice", body.User.Username)
	require.NotContains(t, w.Body.String(), "passwordHash")
	require.NotContains(t, w.Body.String(), "Str0ng!Pass")
}

func TestLoginUnknownUsernameIs404(t *testing.T) {
	env := newTestEnv(t)

	w := env.login(t, "nobody", "whatever1")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "no account with that username")
}

func TestLoginWrongPasswordIs401(t *testing.T) {
	env := newTestEnv(t)
	env.seedVerifiedAccount(t, "alice", "alice@example.com", "Str0ng!Pass", models.RoleStudent)

	w := env.login(t, "alice", "wrong-pass")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginLockoutReturns429WithRetryAfter(t *testing.T) {
	env := newTestEnv(t)
	env.seedVerifiedAccount(t, "alice", "alice@example.com", "Str0ng!Pass", models.RoleStudent)

	for i := 0; i < 5; i++ {
		w := env.login(t, "alice", "wrong-pass")
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w := env.login(t, "alice", "Str0ng!Pass")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestForgotPasswordResponseIsUniform(t *testing.T) {
	env := newTestEnv(t)
	env.seedVerifiedAccount(t, "alice", "alice@example.com", "Str0ng!Pass", models.RoleStudent)

	known := env.do(t, http.MethodPost, "/api/v1/auth/forgot-password",
		gin.H{"email": "alice@example.com"},
		map[string]string{"X-CSRF-Token": env.csrfToken(t)})
	unknown := env.do(t, http.MethodPost, "/api/v1/auth/forgot-password",
		gin.H{"email": "ghost@example.com"},
		map[string]string{"X-CSRF-Token": env.csrfToken(t)})

	require.Equal(t, http.StatusOK, known.Code)
	require.Equal(t, http.StatusOK, unknown.Code)
	require.Equal(t, known.Body.String(), unknown.Body.String())
}

func TestRegisterAndVerifyEmail(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/auth/register",
		gin.H{
			"username": "newuser",
			"email":    "new@example.com",
			"password": "Str0ng!Pass",
			"role":     "student",
		},
		map[string]string{"X-CSRF-Token": env.csrfToken(t)})
	require.Equal(t, http.StatusOK, w.Code)
	require.NotContains(t, w.Body.String(), "verificationToken")

	account, err := env.accounts.FindByUsername(context.Background(), "newuser")
	require.NoError(t, err)
	require.False(t, account.EmailVerified)
	require.NotNil(t, account.VerificationToken)

	w = env.do(t, http.MethodGet, "/api/v1/auth/verify-email?token="+*account.VerificationToken, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	account, err = env.accounts.FindByUsername(context.Background(), "newuser")
	require.NoError(t, err)
	require.True(t, account.EmailVerified)
}

func TestRegisterWeakPasswordReturnsFeedback(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/auth/register",
		gin.H{
			"username": "newuser",
			"email":    "new@example.com",
			"password": "abcdefgh",
			"role":     "student",
		},
		map[string]string{"X-CSRF-Token": env.csrfToken(t)})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "password too weak")
	require.Contains(t, w.Body.String(), "feedback")
}

func TestMeRequiresSession(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/auth/me", nil, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMeReturnsAuthenticatedAccount(t *testing.T) {
	env := newTestEnv(t)
	env.seedVerifiedAccount(t, "alice", "alice@example.com", "Str0ng!Pass", models.RoleStudent)

	require.Equal(t, http.StatusOK, env.login(t, "alice", "Str0ng!Pass").Code)

	w := env.do(t, http.MethodGet, "/api/v1/auth/me", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"username":"alice"`)
}

func TestLogoutDestroysSession(t *testing.T) {
	env := newTestEnv(t)
	env.seedVerifiedAccount(t, "alice", "alice@example.com", "Str0ng!Pass", models.RoleStudent)

	require.Equal(t, http.StatusOK, env.login(t, "alice", "Str0ng!Pass").Code)

	w := env.do(t, http.MethodPost, "/api/v1/auth/logout", nil,
		map[string]string{"X-CSRF-Token": env.csrfToken(t)})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/auth/me", nil, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	env.seedVerifiedAccount(t, "alice", "alice@example.com", "Str0ng!Pass", models.RoleStudent)

	require.Equal(t, http.StatusOK, env.login(t, "alice", "Str0ng!Pass").Code)

	w := env.do(t, http.MethodPost, "/api/v1/auth/change-password",
		gin.H{"oldPassword": "wrong-old", "newPassword": "N3w!Passw0rd"},
		map[string]string{"X-CSRF-Token": env.csrfToken(t)})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/auth/change-password",
		gin.H{"oldPassword": "Str0ng!Pass", "newPassword": "N3w!Passw0rd"},
		map[string]string{"X-CSRF-Token": env.csrfToken(t)})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestResetPasswordEndpoint(t *testing.T) {
	env := newTestEnv(t)
	account := env.seedVerifiedAccount(t, "alice", "alice@example.com", "Str0ng!Pass", models.RoleStudent)

	w := env.do(t, http.MethodPost, "/api/v1/auth/forgot-password",
		gin.H{"email": "alice@example.com"},
		map[string]string{"X-CSRF-Token": env.csrfToken(t)})
	require.Equal(t, http.StatusOK, w.Code)

	stored, err := env.accounts.GetByID(context.Background(), account.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ResetToken)

	w = env.do(t, http.MethodPost, "/api/v1/auth/reset-password",
		gin.H{"token": *stored.ResetToken, "newPassword": "N3w!Passw0rd"},
		map[string]string{"X-CSRF-Token": env.csrfToken(t)})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/auth/reset-password",
		gin.H{"token": *stored.ResetToken, "newPassword": "An0ther!Pass"},
		map[string]string{"X-CSRF-Token": env.csrfToken(t)})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "invalid token")
}

func TestAdminRoutesForbiddenForStudents(t *testing.T) {
	env := newTestEnv(t)
	env.seedVerifiedAccount(t, "alice", "alice@example.com", "Str0ng!Pass", models.RoleStudent)

	require.Equal(t, http.StatusOK, env.login(t, "alice", "Str0ng!Pass").Code)

	w := env.do(t, http.MethodGet, "/api/v1/admin/accounts", nil, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminCanManageAccounts(t *testing.T) {
	env := newTestEnv(t)
	env.seedVerifiedAccount(t, "boss", "boss@example.com", "Adm1n!Secret", models.RoleAdmin)
	target := env.seedVerifiedAccount(t, "alice", "alice@example.com", "Str0ng!Pass", models.RoleStudent)

	require.Equal(t, http.StatusOK, env.login(t, "boss", "Adm1n!Secret").Code)

	w := env.do(t, http.MethodGet, "/api/v1/admin/accounts", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"username":"alice"`)

	w = env.do(t, http.MethodPut, "/api/v1/admin/accounts/"+target.ID+"/role",
		gin.H{"role": "faculty"},
		map[string]string{"X-CSRF-Token": env.csrfToken(t)})
	require.Equal(t, http.StatusOK, w.Code)

	updated, err := env.accounts.GetByID(context.Background(), target.ID)
	require.NoError(t, err)
	require.Equal(t, models.RoleFaculty, updated.Role)

	w = env.do(t, http.MethodDelete, "/api/v1/admin/accounts/"+target.ID, nil,
		map[string]string{"X-CSRF-Token": env.csrfToken(t)})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodDelete, "/api/v1/admin/accounts/"+target.ID, nil,
		map[string]string{"X-CSRF-Token": env.csrfToken(t)})
	require.Equal(t, http.StatusNotFound, w.Code)
}
