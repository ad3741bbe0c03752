package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"meshcall/internal/core/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authRouter(t *testing.T) (*gin.Engine, services.AuthService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := services.NewAuthService("test-secret", time.Hour)
	router := gin.New()
	router.GET("/ws", JoinAuthMiddleware(svc), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router, svc
}

func TestJoinAuth_ValidTokenFromQuery(t *testing.T) {
	router, svc := authRouter(t)

	token, err := svc.GenerateJoinToken("user-1", "Alice", "room-1")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/ws?userId=user-1&roomId=room-1&token="+token, nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJoinAuth_ValidTokenFromBearerHeader(t *testing.T) {
	router, svc := authRouter(t)

	token, err := svc.GenerateJoinToken("user-1", "Alice", "room-1")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/ws?userId=user-1&roomId=room-1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJoinAuth_MissingTokenRejected(t *testing.T) {
	router, _ := authRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/ws?userId=user-1&roomId=room-1", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJoinAuth_TokenForDifferentRoomRejected(t *testing.T) {
	router, svc := authRouter(t)

	token, err := svc.GenerateJoinToken("user-1", "Alice", "room-1")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/ws?userId=user-1&roomId=room-2&token="+token, nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestJoinAuth_SpoofedUserIDRejected(t *testing.T) {
	router, svc := authRouter(t)

	token, err := svc.GenerateJoinToken("user-1", "Alice", "room-1")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/ws?userId=user-2&roomId=room-1&token="+token, nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestJoinAuth_GarbageTokenRejected(t *testing.T) {
	router, _ := authRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/ws?userId=user-1&roomId=room-1&token=garbage", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOptionalJoinAuth_AnonymousAllowed(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svc := services.NewAuthService("test-secret", time.Hour)
	router := gin.New()
	router.GET("/ws", OptionalJoinAuthMiddleware(svc), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/ws?userId=user-1&roomId=room-1", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
