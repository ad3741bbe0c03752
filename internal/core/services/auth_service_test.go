package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinToken_RoundTrip(t *testing.T) {
	svc := NewAuthService("test-secret", time.Hour)

	token, err := svc.GenerateJoinToken("user-1", "Alice", "room-1")
	require.NoError(t, err)

	claims, err := svc.ValidateJoinToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "Alice", claims.UserName)
	assert.Equal(t, "room-1", claims.RoomID)
}

func TestJoinToken_WrongSecretRejected(t *testing.T) {
	issuer := NewAuthService("secret-a", time.Hour)
	verifier := NewAuthService("secret-b", time.Hour)

	token, err := issuer.GenerateJoinToken("user-1", "Alice", "room-1")
	require.NoError(t, err)

	_, err = verifier.ValidateJoinToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJoinToken_Expired(t *testing.T) {
	svc := NewAuthService("test-secret", -time.Minute)

	token, err := svc.GenerateJoinToken("user-1", "Alice", "room-1")
	require.NoError(t, err)

	_, err = svc.ValidateJoinToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestCheckRoomAccess(t *testing.T) {
	svc := NewAuthService("test-secret", time.Hour)
	token, err := svc.GenerateJoinToken("user-1", "Alice", "room-1")
	require.NoError(t, err)

	assert.NoError(t, svc.CheckRoomAccess(token, "user-1", "room-1"))
	assert.ErrorIs(t, svc.CheckRoomAccess(token, "user-2", "room-1"), ErrWrongRoom)
	assert.ErrorIs(t, svc.CheckRoomAccess(token, "user-1", "room-2"), ErrWrongRoom)
	assert.ErrorIs(t, svc.CheckRoomAccess("garbage", "user-1", "room-1"), ErrInvalidToken)
}
