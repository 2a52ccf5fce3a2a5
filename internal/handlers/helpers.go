package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"room-chat/internal/apperr"
	"room-chat/internal/auth"
	"room-chat/internal/middleware"
)

// respondError renders err as {"error": msg} with its mapped status.
func respondError(c *gin.Context, err error) {
	status := apperr.Status(err)
	if status >= 500 {
		log.Error().Err(err).
			Str("module", "http").
			Str("route", c.FullPath()).
			Str("request_id", c.GetString(middleware.RequestIDKey)).
			Msg("request failed")
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": apperr.Message(err)})
}

func roomIDParam(c *gin.Context) (int64, bool) {
	roomID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || roomID <= 0 {
		respondError(c, apperr.Validation("invalid room id"))
		return 0, false
	}
	return roomID, true
}

func identityFromContext(c *gin.Context) (auth.Identity, bool) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		respondError(c, apperr.Auth("missing authorization"))
		return auth.Identity{}, false
	}
	return identity, true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
