package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mogakjak-gateway/internal/middleware"
	"mogakjak-gateway/internal/telemetry"
	"mogakjak-gateway/internal/ws"
)

type noticeRequest struct {
	Message string `json:"message" binding:"required"`
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, hub *ws.Hub, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), middleware.RequestIDFrom(c), telemetry.AuditPayload{
			Action:  telemetry.ActionAuditTest,
			Outcome: "ok",
			Text:    "audit test",
		})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/ws/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"group_clients": hub.GroupClientCount(c.Query("group_id")),
			"user_clients":  hub.UserClientCount(c.Query("user_id")),
		})
	})

	router.POST("/debug/groups/:group_id/notice", func(c *gin.Context) {
		var req noticeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
			return
		}
		groupID := c.Param("group_id")
		hub.BroadcastGroup(groupID, ws.NewNotice(req.Message))
		c.JSON(http.StatusAccepted, gin.H{"delivered": hub.GroupClientCount(groupID)})
	})
}
