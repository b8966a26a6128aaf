package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/autocommitor/autocommitor/internal/security"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// OperatorAuthMiddleware validates operator bearer JWTs and stores the operator name in the context.
func OperatorAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseOperatorToken(secret, token)
		switch {
		case errJWT == nil:
		case errors.Is(errJWT, security.ErrExpiredToken):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token expired"})
			return
		case errors.Is(errJWT, security.ErrMissingSecret):
			log.WithError(errJWT).Error("operator auth middleware: jwt secret not configured")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "operator api disabled"})
			return
		default:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("operator", claims.Operator)
		c.Next()
	}
}
