// Package jwttoken validates access tokens minted by the upstream
// authentication service. The token carries the caller's AID and requester
// class; this process only verifies and extracts, it never issues interactive
// logins.
package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"travlr/internal/platform/middleware"
	"travlr/pkg/domain"
	dErrors "travlr/pkg/domain-errors"
)

// Claims represents the JWT claims for our access tokens.
type Claims struct {
	AID            string `json:"aid"`
	RequesterClass string `json:"requester_class"`
	jwt.RegisteredClaims
}

// JWTService handles JWT creation and validation.
type JWTService struct {
	signingKey []byte
	issuer     string
}

func NewJWTService(signingKey string, issuer string) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
	}
}

// GenerateAccessToken is used by tests and tooling; production tokens come
// from the upstream authentication service sharing the signing key.
func (s *JWTService) GenerateAccessToken(aid domain.AID, class domain.RequesterClass, expiresIn time.Duration) (string, error) {
	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		AID:            aid.String(),
		RequesterClass: string(class),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	})

	return newToken.SignedString(s.signingKey)
}

// ValidateToken verifies the signature and expiry and returns the principal.
func (s *JWTService) ValidateToken(tokenString string) (*middleware.Principal, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}

	aid, err := domain.ParseAID(claims.AID)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token subject is not a valid identifier")
	}
	class, err := domain.ParseRequesterClass(claims.RequesterClass)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token carries no usable requester class")
	}

	return &middleware.Principal{AID: aid, Class: class}, nil
}
