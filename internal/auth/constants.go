// Copyright (c) 2026 Keiro. All rights reserved.
// Author: dev@keiro.app

package auth

import "time"

// # Authentication Constraints

const (
	// AccessTokenTTL is the duration an access credential remains valid.
	// We keep it short (15m) to minimize the impact of a leaked credential.
	AccessTokenTTL = 15 * time.Minute

	// RefreshTokenTTL is the duration a session remains valid. Each rotation
	// slides the expiry forward by this amount, so active sessions never die
	// under the user.
	RefreshTokenTTL = 30 * 24 * time.Hour

	// RefreshSecretLength is the byte length of the random refresh secret.
	RefreshSecretLength = 32

	// ResetTokenTTL is the duration a password reset token remains valid.
	// Short-lived (1 hour) for security.
	ResetTokenTTL = 1 * time.Hour

	// ResetTokenLength is the byte length of the random password reset token.
	ResetTokenLength = 32

	// VerificationTokenTTL is the duration an email verification token remains valid.
	// Long-lived (24 hours) as users might not check email immediately.
	VerificationTokenTTL = 24 * time.Hour

	// VerificationTokenLength is the byte length of the random verification token.
	VerificationTokenLength = 32
)
