package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RoomClaims are the JWT claims granting access to a media room.
type RoomClaims struct {
	jwt.RegisteredClaims
	Room     string `json:"room"`
	Identity string `json:"identity"`
}

// RoomTokenService mints and validates room access tokens. The SFU checks
// the token before letting a participant publish or subscribe, so a leaked
// room name alone is not enough to join a call.
type RoomTokenService struct {
	signingKey []byte
	ttl        time.Duration
}

// NewRoomTokenService creates a token service for room grants
func NewRoomTokenService(signingKey string) (*RoomTokenService, error) {
	if len(signingKey) < 32 {
		return nil, errors.New("signing key must be at least 32 characters")
	}
	return &RoomTokenService{
		signingKey: []byte(signingKey),
		ttl:        time.Hour,
	}, nil
}

// Mint creates a token granting identity access to room
func (s *RoomTokenService) Mint(roomID, identity string) (string, error) {
	now := time.Now()

	claims := RoomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			Issuer:    "dialtone",
		},
		Room:     roomID,
		Identity: identity,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign room token: %w", err)
	}
	return signed, nil
}

// Validate parses a room token and returns its claims
func (s *RoomTokenService) Validate(tokenString string) (*RoomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &RoomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse room token: %w", err)
	}

	claims, ok := token.Claims.(*RoomClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid room token claims")
	}
	if claims.Room == "" || claims.Identity == "" {
		return nil, errors.New("room token missing grants")
	}

	return claims, nil
}
