package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bivex/storekit-settlement/internal/application/middleware"
)

func TestJWTMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	jwtMiddleware := middleware.NewJWTMiddleware("0123456789abcdef0123456789abcdef", "storekit-settlement", client, time.Hour, zap.NewNop())

	router := gin.New()
	router.GET("/me", jwtMiddleware.Authenticate(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString("user_id"), "device_id": c.GetString("device_id")})
	})

	get := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("valid token sets the device context", func(t *testing.T) {
		token, _, err := jwtMiddleware.GenerateAccessToken("user-1", "device-1", false)
		require.NoError(t, err)

		w := get(token)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"user_id":"user-1","device_id":"device-1"}`, w.Body.String())
	})

	t.Run("missing header is unauthorized", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, get("").Code)
	})

	t.Run("token from another issuer is rejected", func(t *testing.T) {
		other := middleware.NewJWTMiddleware("0123456789abcdef0123456789abcdef", "someone-else", client, time.Hour, zap.NewNop())
		token, _, err := other.GenerateAccessToken("user-1", "device-1", false)
		require.NoError(t, err)

		assert.Equal(t, http.StatusUnauthorized, get(token).Code)
	})

	t.Run("revoked token is rejected", func(t *testing.T) {
		token, jti, err := jwtMiddleware.GenerateAccessToken("user-2", "device-2", false)
		require.NoError(t, err)
		require.NoError(t, jwtMiddleware.RevokeToken(context.Background(), jti, time.Hour))

		w := get(token)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "TOKEN_REVOKED")
	})
}
