package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"studybuddy-chat/internal/telemetry"
	"studybuddy-chat/internal/ws"
)

// SessionLister reports the sockets held by this node.
type SessionLister interface {
	Snapshot() map[string][]ws.ConnInfo
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, sessions SessionLister, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), telemetry.LevelInfo, "audit test", requestIDFromContext(c), userEmailFromContext(c), nil)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/sockets", func(c *gin.Context) {
		rooms := sessions.Snapshot()
		total := 0
		for _, conns := range rooms {
			total += len(conns)
		}
		c.JSON(http.StatusOK, gin.H{"rooms": rooms, "total": total})
	})
}
