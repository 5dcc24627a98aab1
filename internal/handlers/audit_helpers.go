package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"studybuddy-chat/internal/middleware"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

// userEmailFromContext falls back to the raw header on routes without the Identity middleware.
func userEmailFromContext(c *gin.Context) string {
	if email := middleware.UserEmail(c); email != "" {
		return email
	}
	return c.GetHeader(middleware.UserEmailHeader)
}
