package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"profscore/api/internal/captcha"
	"profscore/api/internal/config"
	"profscore/api/internal/csrf"
	"profscore/api/internal/ephemeral"
	"profscore/api/internal/lockout"
	"profscore/api/internal/middleware"
	"profscore/api/internal/models"
	"profscore/api/internal/repository"
	"profscore/api/internal/security"
	"profscore/api/internal/service"
	"profscore/api/internal/session"
)

type HandlerSet struct {
	log         zerolog.Logger
	cfg         *config.AppConfig
	authService *service.AuthService
	sessions    *session.Manager
	csrfStore   *csrf.Store
	accounts    service.AccountStore
	db          *pgxpool.Pool
	cache       *redis.Client
}

func NewHandlerSet(
	log zerolog.Logger,
	db *pgxpool.Pool,
	cache *redis.Client,
	store ephemeral.Store,
	cfg *config.AppConfig,
) HandlerSet {
	sec := cfg.Security

	accountRepo := repository.NewAccountRepository(db)
	hasher := security.NewHasher(sec.Hash.Time, sec.Hash.Memory, sec.Hash.Threads)
	tracker := lockout.NewTracker(store, sec.Lockout.Threshold, sec.Lockout.Window, sec.Lockout.MaxHistory, sec.Lockout.Horizon)
	gate := captcha.NewVerifier(sec.Captcha, log)
	mailer := service.LogMailer{Log: log}
	auth := service.NewAuthService(accountRepo, hasher, tracker, gate, mailer, cfg, log)

	sessions := session.NewManager(store, sec.SessionSecret, sec.SessionTTL, sec.CookieName, cfg.TLS.Enabled)
	csrfStore := csrf.NewStore(store, sec.CSRFTokenTTL)

	return HandlerSet{
		log:         log,
		cfg:         cfg,
		authService: auth,
		sessions:    sessions,
		csrfStore:   csrfStore,
		accounts:    accountRepo,
		db:          db,
		cache:       cache,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	{
		auth := v1.Group("/auth")
		auth.Use(middleware.CSRF(h.csrfStore, h.sessions))
		auth.GET("/csrf-token", h.CSRFToken)
		auth.POST("/login", h.Login)
		auth.POST("/register", h.RegisterAccount)
		auth.POST("/forgot-password", h.ForgotPassword)
		auth.POST("/reset-password", h.ResetPassword)
		auth.GET("/verify-email", h.VerifyEmail)

		protected := v1.Group("/auth")
		protected.Use(
			middleware.CSRF(h.csrfStore, h.sessions),
			middleware.Auth(h.sessions, h.accounts),
		)
		protected.POST("/logout", h.Logout)
		protected.GET("/me", h.Me)
		protected.POST("/change-password", h.ChangePassword)

		admin := v1.Group("/admin")
		admin.Use(
			middleware.CSRF(h.csrfStore, h.sessions),
			middleware.Auth(h.sessions, h.accounts),
			middleware.RequireRoles(models.RoleAdmin),
		)
		admin.GET("/accounts", h.ListAccounts)
		admin.PUT("/accounts/:id/role", h.ChangeAccountRole)
		admin.DELETE("/accounts/:id", h.DeleteAccount)
	}
}
