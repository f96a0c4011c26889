package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/careview-api/internal/handler"
	"github.com/jwalitptl/careview-api/internal/session"
)

type AuthMiddleware struct {
	parser *session.TokenParser
}

func NewAuthMiddleware(parser *session.TokenParser) *AuthMiddleware {
	return &AuthMiddleware{parser: parser}
}

// Authenticate validates the bearer token and attaches the caller's
// identity to the request context for the session provider to read.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing authorization header"))
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid authorization format"))
			c.Abort()
			return
		}

		identity, err := m.parser.Parse(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid token"))
			c.Abort()
			return
		}

		ctx := session.WithIdentity(c.Request.Context(), identity)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
