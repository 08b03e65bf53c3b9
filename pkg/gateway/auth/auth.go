// Package auth implements the Gateway's authentication boundary: the
// x-api-key + username/password exchange at /user/auth/ver1.0 (spec §6) and
// Bearer-JWT verification on function routes. The platform's actual
// JWT/API-key issuance and user directory are out of scope (spec §1); this
// package is the narrow interface boundary the Gateway core talks to.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/esb-platform/esb/pkg/esberrors"
)

// APIKeyStore validates x-api-key headers. Backed in production by
// whatever key directory the deployment configures; the core only needs
// this narrow contract.
type APIKeyStore interface {
	Valid(apiKey string) bool
}

// CredentialVerifier validates a username/password pair. Backed in
// production by the deployment's user directory.
type CredentialVerifier interface {
	Verify(username, password string) bool
}

// TokenIssuer signs and verifies the JWTs handed out by /user/auth/ver1.0
// and checked on every function invocation.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer builds a TokenIssuer. secret must be kept identical across
// all Gateway replicas sharing a signing domain (out of scope here: this
// core assumes a single Gateway process, spec §1 Non-goals).
func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, ttl: ttl}
}

// Issue returns a signed JWT for the given username.
func (t *TokenIssuer) Issue(username string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   username,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(t.ttl)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Verify checks a Bearer token and returns its subject.
func (t *TokenIssuer) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", esberrors.ErrBadCredentials
	}
	return claims.Subject, nil
}

// AuthResult is the exchange's outcome at /user/auth/ver1.0.
type AuthResult struct {
	IDToken string
	// Authorized indicates the api-key was recognised. When false, the
	// response must NOT carry the PADMA_USER_AUTHORIZED header (spec §6):
	// the client can't distinguish "unknown key" from "wrong password" by
	// content, only by that header's presence.
	Authorized bool
}

// Authenticate implements the /user/auth/ver1.0 exchange (spec §6):
// - bad api key -> Authorized=false, err=ErrBadAPIKey (401, no header)
// - good key, bad credentials -> Authorized=true, err=ErrBadCredentials (401, header present)
// - good key, good credentials -> Authorized=true, IDToken set, err=nil
func Authenticate(keys APIKeyStore, creds CredentialVerifier, issuer *TokenIssuer, apiKey, username, password string) (AuthResult, error) {
	if !keys.Valid(apiKey) {
		return AuthResult{Authorized: false}, esberrors.ErrBadAPIKey
	}
	if !creds.Verify(username, password) {
		return AuthResult{Authorized: true}, esberrors.ErrBadCredentials
	}
	token, err := issuer.Issue(username)
	if err != nil {
		return AuthResult{Authorized: true}, err
	}
	return AuthResult{Authorized: true, IDToken: token}, nil
}
