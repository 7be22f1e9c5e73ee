package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func authRouter(handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/test", handler, func(c *gin.Context) {
		userID, ok := GetUserID(c)
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "authenticated": ok})
	})
	return router
}

func get(router *gin.Engine, authorization string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestGenerateToken(t *testing.T) {
	auth := NewAuthenticator(testSecret)

	token, err := auth.GenerateToken(7, "test@example.com", time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestRequireAuth(t *testing.T) {
	auth := NewAuthenticator(testSecret)
	router := authRouter(auth.RequireAuth())

	valid, err := auth.GenerateToken(7, "test@example.com", time.Hour)
	require.NoError(t, err)
	expired, err := auth.GenerateToken(7, "test@example.com", -time.Minute)
	require.NoError(t, err)
	foreign, err := NewAuthenticator("other-secret").GenerateToken(7, "test@example.com", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name           string
		header         string
		expectedStatus int
	}{
		{"Missing authorization header", "", http.StatusUnauthorized},
		{"Invalid token format", "InvalidToken", http.StatusUnauthorized},
		{"Expired token", "Bearer " + expired, http.StatusUnauthorized},
		{"Wrong secret", "Bearer " + foreign, http.StatusUnauthorized},
		{"Valid token", "Bearer " + valid, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(router, tt.header)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestRequireAuthSetsUserID(t *testing.T) {
	auth := NewAuthenticator(testSecret)
	router := authRouter(auth.RequireAuth())

	token, err := auth.GenerateToken(42, "test@example.com", time.Hour)
	require.NoError(t, err)

	w := get(router, "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":42,"authenticated":true}`, w.Body.String())
}

func TestOptionalAuth(t *testing.T) {
	auth := NewAuthenticator(testSecret)
	router := authRouter(auth.OptionalAuth())

	t.Run("anonymous passes through", func(t *testing.T) {
		w := get(router, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"user_id":0,"authenticated":false}`, w.Body.String())
	})

	t.Run("valid token identifies user", func(t *testing.T) {
		token, err := auth.GenerateToken(5, "viewer@example.com", time.Hour)
		require.NoError(t, err)

		w := get(router, "Bearer "+token)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"user_id":5,"authenticated":true}`, w.Body.String())
	})

	t.Run("invalid token is rejected", func(t *testing.T) {
		w := get(router, "Bearer not-a-token")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRejectsUnexpectedSigningMethod(t *testing.T) {
	auth := NewAuthenticator(testSecret)
	router := authRouter(auth.RequireAuth())

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		UserID: 7,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	w := get(router, "Bearer "+signed)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
