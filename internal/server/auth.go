package server

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errMissingAuth  = errors.New("missing authorization header")
	errInvalidAuth  = errors.New("invalid authorization scheme")
	errInvalidToken = errors.New("invalid token")
)

// Authenticator checks bearer credentials: a static token, an HS256 JWT
// signed with a shared secret, or either. A zero Authenticator accepts
// everything.
type Authenticator struct {
	token  string
	secret []byte
}

// NewAuthenticator returns an Authenticator, or nil when both token and
// jwtSecret are empty (auth disabled).
func NewAuthenticator(token, jwtSecret string) *Authenticator {
	if token == "" && jwtSecret == "" {
		return nil
	}
	a := &Authenticator{token: token}
	if jwtSecret != "" {
		a.secret = []byte(jwtSecret)
	}
	return a
}

// Enabled reports whether requests must carry credentials.
func (a *Authenticator) Enabled() bool {
	return a != nil && (a.token != "" || len(a.secret) > 0)
}

// Check validates an Authorization header value.
func (a *Authenticator) Check(header string) error {
	if !a.Enabled() {
		return nil
	}
	if header == "" {
		return errMissingAuth
	}
	provided, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return errInvalidAuth
	}
	if a.token != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(a.token)) == 1 {
		return nil
	}
	if len(a.secret) > 0 {
		if _, err := ParseToken(a.secret, provided); err == nil {
			return nil
		}
	}
	return errInvalidToken
}

// SignToken issues an HS256 JWT for subject valid for ttl.
func SignToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    "opreport",
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates an HS256 JWT and returns its subject.
func ParseToken(secret []byte, tokenString string) (string, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("parsing token: %w", err)
	}
	if !token.Valid {
		return "", errInvalidToken
	}
	return claims.Subject, nil
}
