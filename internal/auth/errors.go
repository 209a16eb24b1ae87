// Copyright (c) 2026 Keiro. All rights reserved.
// Author: dev@keiro.app

package auth

import (
	"net/http"

	"github.com/keiro-dev/keiro/internal/platform/apperr"
)

// # Domain Errors
//
// These are package-level sentinels so callers can branch with errors.Is
// while respond.Error still maps them to stable HTTP codes.

var (
	// ErrInvalidCredentials covers every failed login: unknown email, wrong
	// password, suspended account. One message, to prevent enumeration.
	ErrInvalidCredentials = apperr.WithCode(http.StatusUnauthorized, "INVALID_CREDENTIALS",
		"Invalid login credentials")

	// ErrSessionInvalid covers a refresh credential that resolves to no usable
	// session: unknown ID, revoked, expired, or a secret that matches nothing.
	ErrSessionInvalid = apperr.WithCode(http.StatusUnauthorized, "SESSION_INVALID",
		"Session is invalid or expired")

	// ErrRefreshReuseDetected signals that a retired refresh secret was
	// presented again. By the time callers see this error, every session of
	// the affected user has already been revoked.
	ErrRefreshReuseDetected = apperr.WithCode(http.StatusUnauthorized, "REFRESH_REUSE_DETECTED",
		"Refresh credential reuse detected, all sessions revoked")

	// ErrRotationConflict signals that another request rotated the same
	// session first. The client should retry with the credential that the
	// winning rotation produced.
	ErrRotationConflict = apperr.WithCode(http.StatusConflict, "ROTATION_CONFLICT",
		"Session was rotated concurrently")
)
