package service

import (
	"fmt"
	"time"

	"github.com/boddenberg/bank-ledger-go/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "bank-ledger"

// OwnerClaims are the claims of an access token. Sub is the owner id.
type OwnerClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// TokenService signs and validates the HS256 bearer tokens that scope API
// callers to one owner.
type TokenService struct {
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
}

// NewTokenService creates a token service. A non-positive ttl defaults to 15 minutes.
func NewTokenService(secret string, accessTTL time.Duration) *TokenService {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	return &TokenService{secret: []byte(secret), accessTTL: accessTTL, now: time.Now}
}

// Issue signs an access token for ownerID.
func (s *TokenService) Issue(ownerID string) (string, error) {
	now := s.now()
	claims := OwnerClaims{
		Type: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ownerID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses tokenString and returns the owner it was issued to.
func (s *TokenService) Validate(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &OwnerClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}

	claims, ok := token.Claims.(*OwnerClaims)
	if !ok || !token.Valid {
		return "", &domain.ErrUnauthorized{Message: "invalid token"}
	}
	if claims.Type != "access" {
		return "", &domain.ErrUnauthorized{Message: "invalid token type"}
	}
	if claims.Subject == "" {
		return "", &domain.ErrUnauthorized{Message: "token has no subject"}
	}
	return claims.Subject, nil
}
