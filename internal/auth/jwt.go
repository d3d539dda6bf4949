package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the HS256 token body: the registered subject plus a role.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verify checks an HS256 token and returns the identity it carries.
func Verify(token string, secret []byte) (Identity, error) {
	if token == "" {
		return Identity{}, errors.New("auth: missing token")
	}
	if len(secret) == 0 {
		return Identity{}, errors.New("auth: no secret configured")
	}

	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
	)
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}); err != nil {
		return Identity{}, fmt.Errorf("auth: %w", err)
	}
	if claims.Subject == "" {
		return Identity{}, errors.New("auth: token has no subject")
	}
	role, err := ParseRole(claims.Role)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Subject: claims.Subject, Role: role}, nil
}

// Issue signs a token for id valid for ttl.
func Issue(secret []byte, id Identity, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("auth: no secret configured")
	}
	if id.Subject == "" {
		return "", errors.New("auth: empty subject")
	}
	if _, err := ParseRole(string(id.Role)); err != nil {
		return "", err
	}
	now := time.Now()
	claims := Claims{
		Role: string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
