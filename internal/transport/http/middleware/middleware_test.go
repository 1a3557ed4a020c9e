package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/pkg/jwtutil"
)

func newRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger())
	r.GET("/private", AuthJWT(secret), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextSubjectKey))
	})
	return r
}

func TestAuthJWT(t *testing.T) {
	r := newRouter("s3cret")
	token, err := jwtutil.IssueToken("s3cret", "ops", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		target string
		header string
		status int
	}{
		{"no token", "/private", "", http.StatusUnauthorized},
		{"wrong scheme", "/private", "Basic abc", http.StatusUnauthorized},
		{"bad token", "/private", "Bearer nope", http.StatusUnauthorized},
		{"bearer header", "/private", "Bearer " + token, http.StatusOK},
		{"query param", "/private?token=" + token, "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "ops", w.Body.String())
			}
		})
	}
}

func TestAuthJWT_DisabledWithoutSecret(t *testing.T) {
	r := newRouter("")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/private", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
