package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/pkg/auth"
	"github.com/jwalitptl/settlement-api/pkg/errors"
	"github.com/jwalitptl/settlement-api/pkg/httputil"
)

const (
	ContextActorID = "actor_id"
	ContextRole    = "actor_role"
)

type AuthMiddleware struct {
	tokens auth.JWTService
}

func NewAuthMiddleware(tokens auth.JWTService) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Authenticate verifies the bearer token and sets the actor in context
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			httputil.RespondWithError(c, errors.Unauthorized(nil))
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			httputil.RespondWithError(c, errors.Unauthorized(nil))
			return
		}

		claims, err := m.tokens.ValidateToken(parts[1])
		if err != nil {
			httputil.RespondWithError(c, errors.Unauthorized(err))
			return
		}
		actorID, err := claims.ActorID()
		if err != nil {
			httputil.RespondWithError(c, errors.Unauthorized(err))
			return
		}

		c.Set(ContextActorID, actorID.String())
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// RequireRole lets the request through only for the given roles.
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ContextRole)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		httputil.RespondWithError(c, errors.Forbidden("insufficient role"))
	}
}

// ActorID returns the authenticated actor, or nil on unauthenticated routes.
func ActorID(c *gin.Context) *uuid.UUID {
	id, err := uuid.Parse(c.GetString(ContextActorID))
	if err != nil {
		return nil
	}
	return &id
}

// IsAdmin reports whether the authenticated actor has the admin role.
func IsAdmin(c *gin.Context) bool {
	return c.GetString(ContextRole) == auth.RoleAdmin
}
