package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "meshcall/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newErrorTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RecoveryMiddleware(zap.NewNop().Sugar()))
	router.Use(ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	return router
}

func TestErrorHandler_AppErrorKeepsCodeAndStatus(t *testing.T) {
	router := newErrorTestRouter()
	router.GET("/test", func(c *gin.Context) {
		c.Error(apperrors.NewForbiddenError("wrong room"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), string(apperrors.ErrCodeForbidden))
	assert.Contains(t, w.Body.String(), "wrong room")
}

func TestErrorHandler_UnclassifiedErrorIsMasked(t *testing.T) {
	router := newErrorTestRouter()
	router.GET("/test", func(c *gin.Context) {
		c.Error(errors.New("redis: connection refused at 10.0.0.7:6379"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), string(apperrors.ErrCodeInternal))
	assert.False(t, strings.Contains(w.Body.String(), "redis"),
		"internal error detail must not reach the client")
}

func TestRecovery_PanicBecomesInternalError(t *testing.T) {
	router := newErrorTestRouter()
	router.GET("/test", func(c *gin.Context) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), string(apperrors.ErrCodeInternal))
}
