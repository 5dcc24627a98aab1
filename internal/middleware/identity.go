package middleware

import (
	"net/http"
	"net/mail"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// UserEmailHeader is set by the identity proxy in front of the service.
	UserEmailHeader = "X-User-Email"
	UserEmailKey    = "userEmail"
)

// Identity reads the caller's email from the trusted proxy header.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		email := strings.TrimSpace(c.GetHeader(UserEmailHeader))
		if email == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
			return
		}
		addr, err := mail.ParseAddress(email)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid identity"})
			return
		}

		// "Name <addr>" forms resolve to the bare address used as the user key
		c.Set(UserEmailKey, addr.Address)
		c.Next()
	}
}

// UserEmail returns the identity stored by Identity.
func UserEmail(c *gin.Context) string {
	return c.GetString(UserEmailKey)
}
