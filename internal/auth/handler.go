package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// TokenHandler serves GET /api/auth/token: the HTTP-only access token cookie
// exposed to same-origin client code.
func TokenHandler(cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		tok, ok := TokenFromCookie(c.Request, cookieName)
		if !ok {
			c.JSON(http.StatusUnauthorized, TokenResponse{})
			return
		}
		c.JSON(http.StatusOK, TokenResponse{AccessToken: &tok})
	}
}
