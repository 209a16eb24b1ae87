// Copyright (c) 2026 Keiro. All rights reserved.
// Author: dev@keiro.app

package sec

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// # Opaque Secrets

// GenerateSecureToken returns a URL-safe random secret of byteLength entropy bytes.
//
// Used for refresh secrets, password-reset tokens, and verification tokens.
// The raw value is handed to the client exactly once; only its hash is stored.
func GenerateSecureToken(byteLength int) (string, error) {
	buffer := make([]byte, byteLength)
	if _, err := rand.Read(buffer); err != nil {
		return "", fmt.Errorf("sec: failed to generate secure token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

// HashToken returns the hex-encoded SHA-256 digest of an opaque token.
//
// Lookups in persistent storage are keyed by this digest so that a database
// leak never exposes usable refresh secrets.
func HashToken(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}
