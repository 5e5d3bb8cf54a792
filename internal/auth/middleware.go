package auth

import (
	"net/http"
	"strings"

	"shopchat/internal/service/identity"

	"github.com/gin-gonic/gin"
)

const (
	sessionContextKey   = "auth_session"
	sessionIDContextKey = "auth_session_id"
)

// Middleware validates bearer tokens and stores the session in the context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authToken := s.extractToken(c)
		if authToken == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		record, err := s.Validate(c.Request.Context(), authToken)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(sessionContextKey, record.Identity())
		c.Set(sessionIDContextKey, record.ID)
		c.Next()
	}
}

// SessionFromContext retrieves the authenticated identity from the gin context.
func SessionFromContext(c *gin.Context) (identity.Session, bool) {
	val, ok := c.Get(sessionContextKey)
	if !ok {
		return identity.Session{}, false
	}
	session, ok := val.(identity.Session)
	return session, ok
}

// SessionIDFromContext retrieves the session id captured by the middleware.
func SessionIDFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(sessionIDContextKey)
	if !ok {
		return "", false
	}
	id, ok := val.(string)
	return id, ok
}

func (s *Service) extractToken(c *gin.Context) string {
	authHeader := c.GetHeader(s.headerName)
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	if token, err := c.Cookie(s.cookieName); err == nil && token != "" {
		return token
	}
	return ""
}
