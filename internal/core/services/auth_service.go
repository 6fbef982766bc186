package services

import (
	"context"
	"errors"
	"time"

	"huddle/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

// AuthService issues and validates the tokens that bind a display-name
// identity to HTTP and WebSocket requests.
type AuthService interface {
	GenerateToken(participant domain.ParticipantID) (string, error)
	GenerateRefreshToken(participant domain.ParticipantID) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	ValidateRefreshToken(tokenString string) (*Claims, error)
	ParticipantFromContext(ctx context.Context) (domain.ParticipantID, error)
}

type Claims struct {
	Participant domain.ParticipantID `json:"participant"`
	jwt.RegisteredClaims
}

type contextKey string

// ParticipantContextKey carries the authenticated identity through request
// contexts.
const ParticipantContextKey contextKey = "participant"

type authService struct {
	jwtSecret       []byte
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
}

func NewAuthService(jwtSecret string, accessTokenTTL, refreshTokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret:       []byte(jwtSecret),
		accessTokenTTL:  accessTokenTTL,
		refreshTokenTTL: refreshTokenTTL,
	}
}

func (s *authService) GenerateToken(participant domain.ParticipantID) (string, error) {
	return s.signed(participant, s.accessTokenTTL)
}

func (s *authService) GenerateRefreshToken(participant domain.ParticipantID) (string, error) {
	return s.signed(participant, s.refreshTokenTTL)
}

func (s *authService) signed(participant domain.ParticipantID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Participant: participant,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
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

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

func (s *authService) ValidateRefreshToken(tokenString string) (*Claims, error) {
	return s.ValidateToken(tokenString)
}

func (s *authService) ParticipantFromContext(ctx context.Context) (domain.ParticipantID, error) {
	participant, ok := ctx.Value(ParticipantContextKey).(domain.ParticipantID)
	if !ok || participant == "" {
		return "", ErrUnauthorized
	}
	return participant, nil
}
