package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mogakjak-gateway/internal/auth"
)

const tokenContextKey = "accessToken"

// RequireToken rejects requests that carry no access token in the cookie,
// the Authorization header or the token query parameter.
func RequireToken(cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := auth.RequestSupplier(c.Request, cookieName).Token(c.Request.Context())
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}
		c.Set(tokenContextKey, tok)
		c.Next()
	}
}

// TokenFrom returns the token stored by RequireToken.
func TokenFrom(c *gin.Context) string {
	return c.GetString(tokenContextKey)
}
