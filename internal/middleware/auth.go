package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"profscore/api/internal/models"
	"profscore/api/internal/session"
)

const (
	CtxAccount = "current_account"
	CtxSession = "current_session"
)

type accountGetter interface {
	GetByID(ctx context.Context, id string) (models.Account, error)
}

// Auth resolves the session cookie, loads the backing account, and rejects
// requests whose session or account no longer exists.
func Auth(sessions *session.Manager, accounts accountGetter) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := sessions.Resolve(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		account, err := accounts.GetByID(c.Request.Context(), rec.AccountID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		_ = sessions.Touch(c.Request.Context(), rec)

		c.Set(CtxSession, rec)
		c.Set(CtxAccount, account)

		c.Next()
	}
}

// CurrentAccount returns the authenticated account set by Auth.
func CurrentAccount(c *gin.Context) (models.Account, bool) {
	value, ok := c.Get(CtxAccount)
	if !ok {
		return models.Account{}, false
	}
	account, ok := value.(models.Account)
	return account, ok
}
