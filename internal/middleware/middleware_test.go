package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"room-chat/internal/auth"
	"room-chat/internal/telemetry"
)

type stubVerifier struct {
	identity auth.Identity
	err      error
}

func (s stubVerifier) Verify(string) (auth.Identity, error) { return s.identity, s.err }

func authRouter(v TokenVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", AuthMiddleware(v), func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetInt64(UserIDKey), "username": id.Username})
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	cases := []struct {
		name     string
		header   string
		verifier stubVerifier
		status   int
		body     string
	}{
		{name: "missing", status: http.StatusUnauthorized, body: `{"error":"missing authorization"}`},
		{name: "not bearer", header: "Basic abc", status: http.StatusUnauthorized, body: `{"error":"invalid authorization header"}`},
		{name: "empty token", header: "Bearer ", status: http.StatusUnauthorized, body: `{"error":"invalid authorization header"}`},
		{name: "invalid", header: "Bearer bad", verifier: stubVerifier{err: auth.ErrInvalidToken}, status: http.StatusUnauthorized, body: `{"error":"invalid token"}`},
		{name: "expired", header: "Bearer old", verifier: stubVerifier{err: auth.ErrExpiredToken}, status: http.StatusUnauthorized, body: `{"error":"token has expired"}`},
		{name: "ok", header: "bearer good", verifier: stubVerifier{identity: auth.Identity{UserID: 4, Username: "alice"}}, status: http.StatusOK, body: `{"user_id":4,"username":"alice"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()

			authRouter(tc.verifier).ServeHTTP(w, req)

			assert.Equal(t, tc.status, w.Code)
			assert.JSONEq(t, tc.body, w.Body.String())
		})
	}
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	var fromCtx string
	r.GET("/", func(c *gin.Context) {
		fromCtx = telemetry.RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	generated := w.Header().Get(RequestIDHeader)
	require.NotEmpty(t, generated)
	assert.Equal(t, generated, fromCtx)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "req-123", fromCtx)
}
