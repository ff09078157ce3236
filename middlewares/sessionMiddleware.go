package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/poweredbydonation/pbd_backend/config"
	"github.com/poweredbydonation/pbd_backend/utils"
	"github.com/redis/go-redis/v9"
)

// RevokedTokenKey is set (any value) by the auth provider's logout hook.
func RevokedTokenKey(token string) string {
	return "Token:revoked:" + token
}

// SessionMiddleware rejects tokens that were signed out before they expired.
// Without redis it lets every verified token through.
func SessionMiddleware(rdb redis.UniversalClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := utils.GetTokenFromContext(c.Request.Context())
		if !ok || token == "" || rdb == nil {
			c.Next()
			return
		}
		_, revoked, err := config.GetRedisValue(c.Request.Context(), rdb, RevokedTokenKey(token))
		if err != nil {
			config.GetLogger().WithError(err).Warn("session revocation check failed")
			c.Next()
			return
		}
		if revoked {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}
