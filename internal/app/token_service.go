package app

import (
	"fmt"
	"time"

	"github.com/form3tech-oss/jwt-go"
	"github.com/google/uuid"
)

const sessionTokenIssuer = "parchis"

// TokenService issues and verifies HS256 session tokens used by resume.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue signs a session token for username.
func (s *TokenService) Issue(username string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("token service is nil")
	}
	if username == "" {
		return "", fmt.Errorf("username is required")
	}
	if len(s.secret) == 0 {
		return "", fmt.Errorf("token secret is not configured")
	}

	now := s.now()
	claims := jwt.StandardClaims{
		Id:        uuid.NewString(),
		Issuer:    sessionTokenIssuer,
		Subject:   username,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(s.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks signature, issuer and expiry and returns the username.
func (s *TokenService) Verify(tokenString string) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrInvalidToken
	}

	claims := &jwt.StandardClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}
	if !claims.VerifyIssuer(sessionTokenIssuer, true) || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
