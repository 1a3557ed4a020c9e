package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"docqa/internal/pkg/jwtutil"
	"docqa/internal/transport/http/response"
)

const ContextSubjectKey = "subject"

// AuthJWT requires a bearer token. Browsers cannot set headers on a WebSocket
// handshake, so the token may also come from the "token" query parameter.
// An empty secret disables the check.
func AuthJWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		token, ok := bearerToken(c)
		if !ok {
			response.Error(c, 401, response.CodeUnauthorized, "missing authorization header")
			c.Abort()
			return
		}

		claims, err := jwtutil.ParseToken(secret, token)
		if err != nil {
			response.Error(c, 401, response.CodeUnauthorized, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextSubjectKey, claims.Subject)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	if authHeader != "" {
		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			return "", false
		}
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
		return token, token != ""
	}
	token := strings.TrimSpace(c.Query("token"))
	return token, token != ""
}
