package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"yoyaku-core/internal/pkg/jwt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	ctxTenantIDKey = "tenant_id"
	ctxActorKey    = "actor"
)

// TenantMiddleware authenticates the request and pins every downstream
// operation to the tenant encoded in the token.
type TenantMiddleware struct {
	tokens *jwt.Service
}

func NewTenantMiddleware(tokens *jwt.Service) *TenantMiddleware {
	return &TenantMiddleware{tokens: tokens}
}

func (m *TenantMiddleware) RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		var token string
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" && strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimSpace(authHeader[len("Bearer "):])
		}

		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Access token required",
			})
			c.Abort()
			return
		}

		claims, err := m.tokens.ValidateToken(token)
		if err != nil {
			slog.Warn("Token validation failed in tenant middleware", "error", err.Error())
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			c.Abort()
			return
		}

		c.Set(ctxTenantIDKey, claims.TenantID)
		c.Set(ctxActorKey, claims.Actor)
		c.Next()
	}
}

func GetTenantID(c *gin.Context) (uuid.UUID, bool) {
	tenantID, exists := c.Get(ctxTenantIDKey)
	if !exists {
		return uuid.Nil, false
	}

	id, ok := tenantID.(uuid.UUID)
	return id, ok
}

// GetActor returns the operator or API client name from the token; history
// rows fall back to "unknown" rather than failing the request.
func GetActor(c *gin.Context) string {
	actor, exists := c.Get(ctxActorKey)
	if !exists {
		return "unknown"
	}
	if s, ok := actor.(string); ok && s != "" {
		return s
	}
	return "unknown"
}
