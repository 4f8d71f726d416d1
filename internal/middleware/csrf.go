package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"profscore/api/internal/csrf"
	"profscore/api/internal/session"
)

// CSRFHeader is the dedicated header every state-mutating request must
// carry.
const CSRFHeader = "X-CSRF-Token"

// CSRF rejects mutating requests whose token is absent or does not match
// the live token for the caller, before any route body runs. GET, HEAD and
// OPTIONS pass through.
func CSRF(store *csrf.Store, sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		supplied := c.GetHeader(CSRFHeader)
		if supplied == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing_csrf_token"})
			return
		}

		callerID, ok := sessions.PeekCallerID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing_csrf_token"})
			return
		}

		if !store.Validate(c.Request.Context(), callerID, supplied) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid_csrf_token"})
			return
		}

		c.Next()
	}
}
