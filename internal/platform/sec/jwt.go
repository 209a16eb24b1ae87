// Copyright (c) 2026 Keiro. All rights reserved.
// Author: dev@keiro.app

// Package sec provides cryptographic primitives and credential management.
//
// # Architecture
//
// This package isolates security-sensitive code (Hashing, JWT Signing) from
// the domain logic. It acts as an Infrastructure service injected into the
// Application layer via the [auth.TokenProvider] interface.
package sec

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// # Verification Errors

var (
	// ErrCredentialExpired indicates the access credential's TTL has elapsed.
	// The caller should trigger a refresh rotation rather than re-authenticate.
	ErrCredentialExpired = errors.New("sec: access credential expired")

	// ErrCredentialInvalid indicates a malformed payload or a signature that
	// does not verify against the service's public key.
	ErrCredentialInvalid = errors.New("sec: access credential invalid")
)

// AccessClaims represents the payload embedded inside a JWT access credential.
//
// # Why self-contained claims?
//
// By embedding the subject, system role, organization, and ACL version
// directly inside the JWT, [middleware.Authenticate] can reconstruct the
// request principal WITHOUT querying the database on every single API
// request. A role or permission change is therefore only observed lazily —
// the embedded ACL version is compared against the current version by the
// ability evaluator, closing the staleness window at the cost of one integer
// comparison instead of a per-request persistence lookup. Do not "fix" this
// by re-reading the user here.
type AccessClaims struct {
	jwt.RegisteredClaims

	// Custom application claims are abbreviated to keep the JWT payload small.
	Email      string `json:"eml,omitempty"`
	SystemRole string `json:"rol"`
	OrgID      string `json:"org,omitempty"`
	ACLVersion int64  `json:"acv"`
}

// TokenService handles generation and verification of JWT credentials using RS256.
type TokenService struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	issuer     string
}

// NewTokenService creates a new TokenService.
// It reads RSA keys from the provided filesystem paths.
func NewTokenService(privateKeyPath, publicKeyPath, issuer string) (*TokenService, error) {
	privateKeyData, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("sec: failed to read private key from %s: %w", privateKeyPath, err)
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyData)
	if err != nil {
		return nil, fmt.Errorf("sec: failed to parse private key: %w", err)
	}

	publicKeyData, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("sec: failed to read public key from %s: %w", publicKeyPath, err)
	}

	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyData)
	if err != nil {
		return nil, fmt.Errorf("sec: failed to parse public key: %w", err)
	}

	return &TokenService{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
	}, nil
}

// NewTokenServiceFromKeys creates a TokenService from already-parsed keys.
// Used by tests and by embedders that manage key material themselves.
func NewTokenServiceFromKeys(privateKey *rsa.PrivateKey, publicKey *rsa.PublicKey, issuer string) *TokenService {
	return &TokenService{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
	}
}

// AccessInput carries the identity context stamped into an access credential.
type AccessInput struct {
	Subject    string
	Email      string
	SystemRole string
	OrgID      string
	ACLVersion int64
}

// IssueAccess creates a new signed JWT access credential.
//
// Issuance is deterministic encoding of claims plus expiry: it fails only on
// malformed input or a signing failure, never on business conditions.
func (service *TokenService) IssueAccess(input AccessInput, timeToLive time.Duration) (string, error) {
	if input.Subject == "" {
		return "", fmt.Errorf("sec: subject is required to issue a credential")
	}
	if timeToLive <= 0 {
		return "", fmt.Errorf("sec: ttl must be positive")
	}

	currentTime := time.Now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   input.Subject,
			Issuer:    service.issuer,
			IssuedAt:  jwt.NewNumericDate(currentTime),
			ExpiresAt: jwt.NewNumericDate(currentTime.Add(timeToLive)),
		},
		Email:      input.Email,
		SystemRole: input.SystemRole,
		OrgID:      input.OrgID,
		ACLVersion: input.ACLVersion,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signedToken, err := token.SignedString(service.privateKey)
	if err != nil {
		return "", fmt.Errorf("sec: failed to sign credential: %w", err)
	}

	return signedToken, nil
}

// VerifyAccess checks the signature and validity window of a JWT string.
//
// Verification is pure and side-effect-free; it never consults the session
// store. Expiry and signature failures are distinguished so that transports
// can tell the client whether a refresh rotation can help.
func (service *TokenService) VerifyAccess(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("sec: unexpected signing method: %v", token.Header["alg"])
		}
		return service.publicKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrCredentialExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrCredentialInvalid, err)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrCredentialInvalid
	}

	return claims, nil
}
