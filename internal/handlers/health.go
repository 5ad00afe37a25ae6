package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health reports liveness together with the event publisher mode.
func Health(publisherMode string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "publisher": publisherMode})
	}
}
