package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"profscore/api/internal/captcha"
	"profscore/api/internal/config"
	"profscore/api/internal/ids"
	"profscore/api/internal/lockout"
	"profscore/api/internal/models"
	"profscore/api/internal/repository"
	"profscore/api/internal/security"
)

// AccountStore is the persistence surface the orchestrator needs. The pgx
// repository satisfies it in production; tests supply an in-memory fake.
type AccountStore interface {
	Create(ctx context.Context, account models.Account) error
	FindByUsername(ctx context.Context, username string) (models.Account, error)
	FindByEmail(ctx context.Context, email string) (models.Account, error)
	GetByID(ctx context.Context, id string) (models.Account, error)
	FindByVerificationToken(ctx context.Context, token string) (models.Account, error)
	FindByResetToken(ctx context.Context, token string) (models.Account, error)
	MarkEmailVerified(ctx context.Context, id string) error
	SetResetToken(ctx context.Context, id string, token string, expiry time.Time) error
	ClearResetToken(ctx context.Context, id string) error
	ResetPassword(ctx context.Context, id string, passwordHash []byte) error
	UpdatePassword(ctx context.Context, id string, passwordHash []byte) error
	UpdateRole(ctx context.Context, id string, role models.AccountRole) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit, offset int) ([]models.Account, error)
}

// AuthService composes the validator, captcha gate, lockout tracker, hasher
// and token flows into one decision per request, short-circuiting on the
// first failure.
type AuthService struct {
	accounts AccountStore
	hasher   *security.Hasher
	tracker  *lockout.Tracker
	captcha  *captcha.Verifier
	mailer   Mailer
	cfg      *config.AppConfig
	log      zerolog.Logger

	// Guards against duplicate concurrent registrations for the same
	// identity arriving before the first insert lands.
	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

func NewAuthService(
	accounts AccountStore,
	hasher *security.Hasher,
	tracker *lockout.Tracker,
	gate *captcha.Verifier,
	mailer Mailer,
	cfg *config.AppConfig,
	log zerolog.Logger,
) *AuthService {
	return &AuthService{
		accounts: accounts,
		hasher:   hasher,
		tracker:  tracker,
		captcha:  gate,
		mailer:   mailer,
		cfg:      cfg,
		log:      log,
		inflight: make(map[string]struct{}),
	}
}

type LoginInput struct {
	Username     string
	Password     string
	Role         models.AccountRole
	CaptchaToken string
	IPAddress    string
}

// Login runs the full login sequence. The unknown-username case is a
// distinct error by design: the product shows "no such account" instead of
// a generic failure.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (models.Account, error) {
	username := security.SanitizeUsername(input.Username)
	if !security.ValidUsername(username) {
		return models.Account{}, invalidInput("invalid username")
	}
	if input.Password == "" || len(input.Password) > security.MaxPasswordLength {
		return models.Account{}, invalidInput("invalid password")
	}
	if input.Role != "" && !input.Role.Valid() {
		return models.Account{}, invalidInput("unknown role %q", input.Role)
	}

	status, err := s.tracker.Check(ctx, username, input.IPAddress)
	if err != nil {
		return models.Account{}, err
	}
	if status.Locked {
		s.audit("login.locked_out", username, input.IPAddress).
			Dur("retry_after", status.Remaining).
			Msg("login rejected, identity locked")
		return models.Account{}, &LockoutError{RetryAfter: status.Remaining}
	}

	if s.captcha.Enabled() {
		if result := s.captcha.Verify(ctx, input.CaptchaToken, input.IPAddress); !result.Accepted {
			return models.Account{}, ErrHumanVerification
		}
	}

	account, err := s.accounts.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return models.Account{}, ErrUnknownAccount
		}
		return models.Account{}, err
	}

	if input.Role != "" && account.Role != input.Role {
		return models.Account{}, ErrRoleMismatch
	}

	// Administrators bypass the verified-email gate so a fresh deployment
	// cannot lock out its own operators.
	if !account.EmailVerified && account.Role != models.RoleAdmin {
		return models.Account{}, ErrEmailNotVerified
	}

	if !s.hasher.Verify(input.Password, account.PasswordHash) {
		if err := s.tracker.RecordFailure(ctx, username, input.IPAddress); err != nil {
			s.log.Error().Err(err).Msg("record login failure")
		}
		s.audit("login.failed", username, input.IPAddress).Msg("password mismatch")
		return models.Account{}, ErrInvalidCredentials
	}

	if err := s.tracker.RecordSuccess(ctx, username, input.IPAddress); err != nil {
		s.log.Error().Err(err).Msg("clear login failures")
	}

	s.audit("login.success", username, input.IPAddress).
		Str("account_id", account.ID).
		Msg("login succeeded")
	return account, nil
}

type RegisterInput struct {
	Username     string
	Email        string
	Password     string
	FirstName    string
	LastName     string
	Role         models.AccountRole
	CaptchaToken string
	IPAddress    string
}

// Register creates an unverified account and issues its verification token.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (models.Account, error) {
	username := security.SanitizeUsername(input.Username)
	if !security.ValidUsername(username) {
		return models.Account{}, invalidInput("username must be 3-30 lowercase letters, digits or . _ - @, not starting with a dot")
	}
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if !security.ValidEmail(email) {
		return models.Account{}, invalidInput("invalid email address")
	}
	if !input.Role.Valid() || input.Role == models.RoleAdmin {
		return models.Account{}, invalidInput("unknown role %q", input.Role)
	}

	if strength := security.ScorePassword(input.Password); !strength.IsStrong {
		return models.Account{}, &WeakPasswordError{Strength: strength}
	}

	if s.captcha.Enabled() {
		if result := s.captcha.Verify(ctx, input.CaptchaToken, input.IPAddress); !result.Accepted {
			return models.Account{}, ErrHumanVerification
		}
	}

	guard := username + "|" + email
	if !s.acquireInflight(guard) {
		return models.Account{}, ErrRegistrationInFlight
	}
	defer s.releaseInflight(guard)

	if _, err := s.accounts.FindByUsername(ctx, username); err == nil {
		return models.Account{}, ErrUsernameTaken
	} else if !errors.Is(err, repository.ErrAccountNotFound) {
		return models.Account{}, err
	}
	if _, err := s.accounts.FindByEmail(ctx, email); err == nil {
		return models.Account{}, ErrEmailTaken
	} else if !errors.Is(err, repository.ErrAccountNotFound) {
		return models.Account{}, err
	}

	passwordHash, err := s.hasher.Hash(input.Password)
	if err != nil {
		if errors.Is(err, security.ErrInvalidPassword) {
			return models.Account{}, invalidInput("%s", err.Error())
		}
		return models.Account{}, err
	}

	verificationToken, err := security.NewOpaqueToken()
	if err != nil {
		return models.Account{}, err
	}

	account := models.Account{
		ID:                ids.New(),
		Username:          username,
		Email:             email,
		PasswordHash:      passwordHash,
		FirstName:         strings.TrimSpace(input.FirstName),
		LastName:          strings.TrimSpace(input.LastName),
		Role:              input.Role,
		EmailVerified:     false,
		VerificationToken: &verificationToken,
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicateAccount) {
			return models.Account{}, ErrUsernameTaken
		}
		return models.Account{}, err
	}

	if err := s.mailer.SendVerification(ctx, email, verificationToken); err != nil {
		s.log.Error().Err(err).Str("email", email).Msg("send verification mail")
	}

	s.audit("register.success", username, input.IPAddress).
		Str("account_id", account.ID).
		Str("role", string(account.Role)).
		Msg("account registered")
	return account, nil
}

// VerifyEmail consumes a verification token. A token that was already
// consumed no longer resolves to an account and fails the same way as a
// fabricated one.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidToken
	}

	account, err := s.accounts.FindByVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return ErrInvalidToken
		}
		return err
	}

	if err := s.accounts.MarkEmailVerified(ctx, account.ID); err != nil {
		return err
	}

	s.log.Info().
		Str("event", "email.verified").
		Str("account_id", account.ID).
		Msg("email verified")
	return nil
}

// RequestPasswordReset issues a reset token for the account behind email.
// An unknown email is deliberately indistinguishable from a known one: the
// caller gets a nil error either way and nothing else happens.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if !security.ValidEmail(email) {
		return nil
	}

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil
		}
		return err
	}

	token, err := security.NewOpaqueToken()
	if err != nil {
		return err
	}
	expiry := time.Now().Add(s.cfg.Security.ResetTokenTTL)

	if err := s.accounts.SetResetToken(ctx, account.ID, token, expiry); err != nil {
		return err
	}

	if err := s.mailer.SendPasswordReset(ctx, email, token); err != nil {
		s.log.Error().Err(err).Str("email", email).Msg("send reset mail")
	}

	s.log.Info().
		Str("event", "reset.requested").
		Str("account_id", account.ID).
		Time("expires_at", expiry).
		Msg("password reset token issued")
	return nil
}

// ResetPassword consumes a reset token. Expired tokens are cleared on the
// failed attempt too, so the pending-reset state never outlives its window.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return ErrInvalidToken
	}

	account, err := s.accounts.FindByResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return ErrInvalidToken
		}
		return err
	}

	if account.ResetTokenExpiry == nil || time.Now().After(*account.ResetTokenExpiry) {
		if err := s.accounts.ClearResetToken(ctx, account.ID); err != nil {
			s.log.Error().Err(err).Str("account_id", account.ID).Msg("clear expired reset token")
		}
		return ErrExpiredToken
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		if errors.Is(err, security.ErrInvalidPassword) {
			return invalidInput("%s", err.Error())
		}
		return err
	}

	if err := s.accounts.ResetPassword(ctx, account.ID, passwordHash); err != nil {
		return err
	}

	s.log.Info().
		Str("event", "reset.consumed").
		Str("account_id", account.ID).
		Msg("password reset")
	return nil
}

// ChangePassword replaces the hash after re-verifying the old password.
func (s *AuthService) ChangePassword(ctx context.Context, accountID, oldPassword, newPassword string) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}

	if !s.hasher.Verify(oldPassword, account.PasswordHash) {
		return ErrInvalidCredentials
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		if errors.Is(err, security.ErrInvalidPassword) {
			return invalidInput("%s", err.Error())
		}
		return err
	}

	if err := s.accounts.UpdatePassword(ctx, accountID, passwordHash); err != nil {
		return err
	}

	s.log.Info().
		Str("event", "password.changed").
		Str("account_id", accountID).
		Msg("password changed")
	return nil
}

// ChangeRole is admin-only; the handler enforces the caller's role.
func (s *AuthService) ChangeRole(ctx context.Context, accountID string, role models.AccountRole) error {
	if !role.Valid() {
		return invalidInput("unknown role %q", role)
	}
	return s.accounts.UpdateRole(ctx, accountID, role)
}

func (s *AuthService) DeleteAccount(ctx context.Context, accountID string) error {
	return s.accounts.Delete(ctx, accountID)
}

func (s *AuthService) ListAccounts(ctx context.Context, limit, offset int) ([]models.Account, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.accounts.List(ctx, limit, offset)
}

func (s *AuthService) acquireInflight(key string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()

	if _, busy := s.inflight[key]; busy {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *AuthService) releaseInflight(key string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()

	delete(s.inflight, key)
}

func (s *AuthService) audit(event, username, ip string) *zerolog.Event {
	return s.log.Info().
		Str("event", event).
		Str("username", username).
		Str("client_ip", ip)
}
