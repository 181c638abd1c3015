package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"collabnotes/internal/domain"
)

// JWTVerifier validates HMAC-signed bearer tokens minted by the account
// service and extracts the user's identity. It implements
// domain.Authenticator.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier for the shared signing secret.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

type claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Verify parses and validates the token. Expired tokens map to
// domain.ErrExpiredCredential; everything else wrong with the token maps to
// domain.ErrUnauthenticated.
func (v *JWTVerifier) Verify(_ context.Context, credential string) (*domain.UserIdentity, error) {
	var c claims
	_, err := jwt.ParseWithClaims(credential, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrExpiredCredential
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}

	if c.UserID == "" {
		return nil, fmt.Errorf("%w: token carries no userId", domain.ErrUnauthenticated)
	}
	name := c.Username
	if name == "" {
		name = c.UserID
	}
	return &domain.UserIdentity{UserID: c.UserID, DisplayName: name}, nil
}
