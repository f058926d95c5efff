package auth

import (
	"net/http"
	"strings"

	"campus-chat/domain"

	"github.com/gin-gonic/gin"
)

const principalContextKey = "principal"

// Middleware validates the bearer token on every request and injects
// the principal into the gin context for the handlers.
func Middleware(tokens *TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization token is missing"})
			return
		}
		tokenStr := strings.TrimPrefix(header, "Bearer ")
		principal, err := tokens.Validate(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set(principalContextKey, principal)
		c.Next()
	}
}

// PrincipalFromContext retrieves the principal injected by Middleware.
func PrincipalFromContext(c *gin.Context) (domain.Principal, bool) {
	value, ok := c.Get(principalContextKey)
	if !ok {
		return domain.Principal{}, false
	}
	principal, ok := value.(domain.Principal)
	return principal, ok
}
