package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"room-chat/internal/apperr"
	"room-chat/internal/repositories"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRoutes, messages repositories.MessageRepository, enabled bool) {
	if !enabled {
		return
	}

	router.POST("/debug/clear-messages", func(c *gin.Context) {
		deleted, err := messages.ClearMessages(c.Request.Context())
		if err != nil {
			respondError(c, apperr.Internal(err))
			return
		}
		log.Warn().Str("module", "http").Int64("deleted", deleted).Msg("debug: cleared all messages")
		c.JSON(http.StatusOK, gin.H{"deleted": deleted})
	})
}
