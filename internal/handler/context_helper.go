package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/univent/timetable-api/internal/middleware"
	"github.com/univent/timetable-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// authorityFromContext converts the request's JWT claims into the explicit
// authority value passed to privileged service operations.
func authorityFromContext(c *gin.Context) models.Authority {
	return claimsFromContext(c).Authority()
}
