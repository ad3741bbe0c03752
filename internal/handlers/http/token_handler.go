package http

import (
	"net/http"
	"strings"
	"time"

	"meshcall/internal/core/services"
	"meshcall/pkg/errors"
	"meshcall/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TokenHandler issues join tokens for the signaling relay. A deployment
// would normally put a real identity check in front of this; the handler
// only guarantees the token binds one user to one room.
type TokenHandler struct {
	authService services.AuthService
	tokenTTL    time.Duration
}

func NewTokenHandler(authService services.AuthService, tokenTTL time.Duration) *TokenHandler {
	return &TokenHandler{
		authService: authService,
		tokenTTL:    tokenTTL,
	}
}

func (h *TokenHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/token", h.IssueToken)
	}
}

type TokenRequest struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name" binding:"required,max=100"`
	RoomID   string `json:"room_id" binding:"required,max=100"`
}

func (h *TokenHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.UserName = strings.TrimSpace(req.UserName)
	if req.UserID == "" {
		req.UserID = uuid.New().String()
	}

	if err := validation.ValidateUserID(req.UserID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateUserName(req.UserName); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateRoomID(req.RoomID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	token, err := h.authService.GenerateJoinToken(req.UserID, req.UserName, req.RoomID)
	if err != nil {
		c.Error(errors.NewInternalError("failed to generate token"))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"user_id":    req.UserID,
		"user_name":  req.UserName,
		"room_id":    req.RoomID,
		"token":      token,
		"expires_in": int(h.tokenTTL / time.Second),
	})
}
