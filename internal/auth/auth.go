// Copyright (c) 2026 Keiro. All rights reserved.
// Author: dev@keiro.app

/*
Package auth implements the user identity and session management layer.

It defines the core domain entities (User, Session), the refresh credential
codec, and the rotation logic that keeps long-lived sessions safe.

# Architecture

This layer is the "Truth" of the system. Entities defined here have no external
dependencies and encapsulate all business rules related to user identity.

# Refresh Credentials

A refresh credential is an opaque string of the form "<sessionID>.<secret>".
The session ID routes the lookup; only a hash of the secret is ever stored.
Each successful rotation replaces the secret and remembers the hash of the
previous one, which is how replayed (stolen) credentials are recognized.
*/
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/keiro-dev/keiro/internal/authz"
)

// # Domain Entities

// User represents a registered account on the Keiro platform.
type User struct {
	ID             string           `json:"id"`
	Email          string           `json:"email"`
	PasswordHash   string           `json:"-"` // Explicitly omitted from JSON for security.
	DisplayName    string           `json:"display_name"`
	SystemRole     authz.SystemRole `json:"system_role"`
	OrganizationID string           `json:"organization_id,omitempty"`
	IsVerified     bool             `json:"is_verified"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Session represents a rotating refresh-credential session.
//
// SecretHash always holds the hash of the CURRENT secret. PrevSecretHash holds
// the hash retired by the last rotation; presenting that secret again is
// treated as credential theft.
type Session struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	SecretHash     string     `json:"-"` // Hash of the active refresh secret. Omitted for security.
	PrevSecretHash string     `json:"-"` // Hash retired by the last rotation.
	UserAgent      string     `json:"user_agent"`
	IPAddress      string     `json:"ip_address"`
	ExpiresAt      time.Time  `json:"expires_at"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Active reports whether the session can still authenticate at the given time.
func (session *Session) Active(now time.Time) bool {
	return session.RevokedAt == nil && session.ExpiresAt.After(now)
}

// # Credential Codec

// FormatRefreshCredential assembles the wire form of a refresh credential.
func FormatRefreshCredential(sessionID, secret string) string {
	return fmt.Sprintf("%s.%s", sessionID, secret)
}

// ParseRefreshCredential splits a refresh credential into its session ID and
// secret parts. Malformed input returns an error without touching storage, so
// garbage credentials are rejected before any lookup happens.
func ParseRefreshCredential(credential string) (sessionID, secret string, err error) {
	sessionID, secret, found := strings.Cut(credential, ".")
	if !found || sessionID == "" || secret == "" {
		return "", "", fmt.Errorf("auth: malformed refresh credential")
	}
	return sessionID, secret, nil
}

// # Field Identifiers

// Global field names for validation and identity mapping in the authentication domain.
const (
	FieldEmail           = "email"
	FieldPassword        = "password"
	FieldDisplayName     = "display_name"
	FieldToken           = "token"
	FieldCurrentPassword = "current_password"
	FieldNewPassword     = "new_password"
	FieldAccessToken     = "access_token"
	FieldTokenType       = "token_type"
	FieldExpiresIn       = "expires_in"
	FieldMessage         = "message"
	FieldSessionID       = "session_id"
)
