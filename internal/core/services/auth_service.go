package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrWrongRoom    = errors.New("token not valid for this room")
)

// AuthService issues and validates room join tokens. A join token binds one
// user to one room for a bounded period; the relay rejects sockets whose
// token does not match the query identity.
type AuthService interface {
	GenerateJoinToken(userID, userName, roomID string) (string, error)
	ValidateJoinToken(tokenString string) (*JoinClaims, error)
	CheckRoomAccess(tokenString, userID, roomID string) error
}

type JoinClaims struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	RoomID   string `json:"room_id"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret    []byte
	joinTokenTTL time.Duration
}

func NewAuthService(jwtSecret string, joinTokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret:    []byte(jwtSecret),
		joinTokenTTL: joinTokenTTL,
	}
}

func (s *authService) GenerateJoinToken(userID, userName, roomID string) (string, error) {
	claims := &JoinClaims{
		UserID:   userID,
		UserName: userName,
		RoomID:   roomID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.joinTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateJoinToken(tokenString string) (*JoinClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JoinClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*JoinClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *authService) CheckRoomAccess(tokenString, userID, roomID string) error {
	claims, err := s.ValidateJoinToken(tokenString)
	if err != nil {
		return err
	}
	if claims.UserID != userID || claims.RoomID != roomID {
		return ErrWrongRoom
	}
	return nil
}
