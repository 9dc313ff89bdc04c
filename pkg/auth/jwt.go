package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ActorClaims identifies the authenticated caller of the pharmacy API.
type ActorClaims struct {
	ActorID   uuid.UUID `json:"actor_id"`
	ActorType string    `json:"actor_type"` // doctor | pharmacist
	jwt.RegisteredClaims
}

type JWTService interface {
	GenerateToken(actorID uuid.UUID, actorType string) (string, error)
	ValidateToken(token string) (*ActorClaims, error)
}

type jwtService struct {
	secret []byte
	expiry time.Duration
}

func NewJWTService(secret string, expiryHours int) JWTService {
	return &jwtService{
		secret: []byte(secret),
		expiry: time.Duration(expiryHours) * time.Hour,
	}
}

func (s *jwtService) GenerateToken(actorID uuid.UUID, actorType string) (string, error) {
	now := time.Now()
	claims := &ActorClaims{
		ActorID:   actorID,
		ActorType: actorType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *jwtService) ValidateToken(tokenStr string) (*ActorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &ActorClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*ActorClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
