package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	types "github.com/seatutor/mariner-backend/internal/domain"
	"github.com/seatutor/mariner-backend/internal/platform/ctxutil"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

const (
	headerAPIKey = "X-API-Key"
	headerUserID = "X-User-ID"
	headerRole   = "X-Role"
)

type AuthMiddleware struct {
	log    *logger.Logger
	apiKey string
}

func NewAuthMiddleware(log *logger.Logger, apiKey string) *AuthMiddleware {
	return &AuthMiddleware{log: log.With("middleware", "AuthMiddleware"), apiKey: apiKey}
}

// RequireAPIKey gates every API route on the shared LMS key and attaches
// the caller identity headers to the request context.
func (am *AuthMiddleware) RequireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(headerAPIKey))
		if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(am.apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing or invalid API key", "code": "unauthorized"},
			})
			return
		}

		role := strings.ToLower(strings.TrimSpace(c.GetHeader(headerRole)))
		if !types.ValidRole(role) {
			role = types.RoleStudent
		}
		ctx := ctxutil.WithRequestData(c.Request.Context(), &ctxutil.RequestData{
			UserID: strings.TrimSpace(c.GetHeader(headerUserID)),
			Role:   role,
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
