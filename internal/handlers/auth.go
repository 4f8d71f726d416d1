package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"profscore/api/internal/middleware"
	"profscore/api/internal/models"
	"profscore/api/internal/service"
)

type loginRequest struct {
	Username     string `json:"username" binding:"required"`
	Password     string `json:"password" binding:"required"`
	Role         string `json:"role"`
	CaptchaToken string `json:"verificationToken"`
}

func (h HandlerSet) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	account, err := h.authService.Login(c.Request.Context(), service.LoginInput{
		Username:     req.Username,
		Password:     req.Password,
		Role:         models.AccountRole(req.Role),
		CaptchaToken: req.CaptchaToken,
		IPAddress:    c.ClientIP(),
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	// The session write must land before the response goes out, so a
	// client that immediately redirects finds its session in place.
	if _, err := h.sessions.Establish(c, account.ID, string(account.Role)); err != nil {
		h.log.Error().Err(err).Str("account_id", account.ID).Msg("establish session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": account.Public()})
}

type registerRequest struct {
	Username     string `json:"username" binding:"required"`
	Email        string `json:"email" binding:"required"`
	Password     string `json:"password" binding:"required"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Role         string `json:"role" binding:"required"`
	CaptchaToken string `json:"verificationToken"`
}

func (h HandlerSet) RegisterAccount(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username, email, password and role are required"})
		return
	}

	account, err := h.authService.Register(c.Request.Context(), service.RegisterInput{
		Username:     req.Username,
		Email:        req.Email,
		Password:     req.Password,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         models.AccountRole(req.Role),
		CaptchaToken: req.CaptchaToken,
		IPAddress:    c.ClientIP(),
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": account.Public()})
}

func (h HandlerSet) CSRFToken(c *gin.Context) {
	callerID := h.sessions.CallerID(c)

	token, err := h.csrfStore.Issue(c.Request.Context(), callerID)
	if err != nil {
		h.log.Error().Err(err).Msg("issue csrf token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required"`
}

// ForgotPassword answers identically whether or not the email resolves to
// an account.
func (h HandlerSet) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}

	if err := h.authService.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		h.log.Error().Err(err).Msg("request password reset")
	}

	c.JSON(http.StatusOK, gin.H{"message": "if the address is registered, a reset link has been sent"})
}

type resetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

func (h HandlerSet) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token and newPassword are required"})
		return
	}

	if err := h.authService.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

func (h HandlerSet) VerifyEmail(c *gin.Context) {
	token := c.Query("token")

	if err := h.authService.VerifyEmail(c.Request.Context(), token); err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "email verified"})
}

func (h HandlerSet) Logout(c *gin.Context) {
	if err := h.sessions.Destroy(c); err != nil {
		h.log.Error().Err(err).Msg("destroy session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) Me(c *gin.Context) {
	account, ok := middleware.CurrentAccount(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": account.Public()})
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

func (h HandlerSet) ChangePassword(c *gin.Context) {
	account, ok := middleware.CurrentAccount(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "oldPassword and newPassword are required"})
		return
	}

	if err := h.authService.ChangePassword(c.Request.Context(), account.ID, req.OldPassword, req.NewPassword); err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "password changed"})
}

// writeServiceError maps orchestrator errors onto the HTTP contract.
// Anything unrecognized is logged with full context and surfaced as a
// generic 500.
func (h HandlerSet) writeServiceError(c *gin.Context, err error) {
	var (
		validationErr *service.ValidationError
		weakErr       *service.WeakPasswordError
		lockoutErr    *service.LockoutError
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Msg})
	case errors.As(err, &weakErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "password too weak",
			"score":    weakErr.Strength.Score,
			"feedback": weakErr.Strength.Feedback,
		})
	case errors.As(err, &lockoutErr):
		c.Header("Retry-After", strconv.Itoa(lockoutErr.RetryAfterSeconds()))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":     "too many failed attempts",
			"remaining": lockoutErr.RetryAfterSeconds(),
		})
	case errors.Is(err, service.ErrUnknownAccount):
		c.JSON(http.StatusNotFound, gin.H{"error": "no account with that username"})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.Is(err, service.ErrRoleMismatch):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials for role"})
	case errors.Is(err, service.ErrEmailNotVerified):
		c.JSON(http.StatusForbidden, gin.H{"error": "email address not verified"})
	case errors.Is(err, service.ErrUsernameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "username already registered"})
	case errors.Is(err, service.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
	case errors.Is(err, service.ErrRegistrationInFlight):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "registration already in progress"})
	case errors.Is(err, service.ErrHumanVerification):
		c.JSON(http.StatusBadRequest, gin.H{"error": "verification failed"})
	case errors.Is(err, service.ErrInvalidToken):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token"})
	case errors.Is(err, service.ErrExpiredToken):
		c.JSON(http.StatusBadRequest, gin.H{"error": "expired token"})
	default:
		h.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("unhandled service error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
