// internal/middleware/auth_middleware.go
package middleware

import (
	"context"
	"strings"

	"timeclock-service/internal/domain/auth"
	xerrors "timeclock-service/internal/pkg/errors"
	"timeclock-service/internal/pkg/jwt"
	"timeclock-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const principalKey = "principal"

// Principal is the authenticated caller attached to a request.
type Principal struct {
	PrincipalID int64
	Subject     string
	Roles       []auth.Role
	JTI         string
}

func (p *Principal) HasRole(role auth.Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AccessValidator checks an access credential, including revocation.
type AccessValidator interface {
	ValidateAccess(ctx context.Context, token string) (*jwt.Claims, error)
}

type AuthMiddleware struct {
	validator AccessValidator
	logger    *zap.Logger
}

func NewAuthMiddleware(validator AccessValidator, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		logger:    logger,
	}
}

// Authenticate is the inbound credential filter. Requests without a bearer
// token pass through unauthenticated; a token that fails validation ends
// the request with a generic 401.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return m.filter(false)
}

// AuthenticateWebSocket also accepts the token as a query parameter, since
// browsers cannot set headers on the upgrade request.
func (m *AuthMiddleware) AuthenticateWebSocket() gin.HandlerFunc {
	return m.filter(true)
}

func (m *AuthMiddleware) filter(allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c, allowQuery)
		if token == "" {
			c.Next()
			return
		}

		claims, err := m.validator.ValidateAccess(c.Request.Context(), token)
		if err != nil {
			if !xerrors.IsAuthFailure(err) {
				m.logger.Error("access credential check failed", zap.Error(err))
				response.Internal(c)
				return
			}
			m.logger.Debug("rejected access credential",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err),
			)
			response.Unauthorized(c, "invalid or expired token")
			return
		}

		if _, exists := c.Get(principalKey); !exists {
			c.Set(principalKey, &Principal{
				PrincipalID: claims.PrincipalID,
				Subject:     claims.Subject,
				Roles:       claims.Roles,
				JTI:         claims.JTI(),
			})
		}

		c.Next()
	}
}

// RequireAuth rejects requests the filter left unauthenticated.
// MUST be used after Authenticate()
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAuthenticated(c) {
			response.Unauthorized(c, "authentication required")
			return
		}
		c.Next()
	}
}

// RequireRole requires at least one of roles.
// MUST be used after Authenticate()
func (m *AuthMiddleware) RequireRole(roles ...auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := GetPrincipal(c)
		if !ok {
			response.Unauthorized(c, "authentication required")
			return
		}

		for _, role := range roles {
			if p.HasRole(role) {
				c.Next()
				return
			}
		}

		response.Forbidden(c, "insufficient permissions")
	}
}

// extractToken extracts the Bearer token from the Authorization header
func extractToken(c *gin.Context, allowQuery bool) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.Fields(authHeader)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}

	if allowQuery {
		return c.Query("token")
	}
	return ""
}

// BearerToken returns the raw bearer token of the request, if any.
func BearerToken(c *gin.Context) string {
	return extractToken(c, false)
}
