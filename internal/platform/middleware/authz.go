// Copyright (c) 2026 Keiro. All rights reserved.
// Author: dev@keiro.app

// Package middleware provides the HTTP middleware chain for the Keiro API server.
//
// # Architecture
//
// Middleware intercepts incoming HTTP requests to apply global policies
// before they reach the domain handlers. This includes cross-cutting concerns
// like Logging, AuthZ/AuthN, Rate Limiting, and CORS.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/keiro-dev/keiro/internal/authz"
	"github.com/keiro-dev/keiro/internal/platform/apperr"
	"github.com/keiro-dev/keiro/internal/platform/ctxkey"
	"github.com/keiro-dev/keiro/internal/platform/respond"
	"github.com/keiro-dev/keiro/internal/platform/sec"
)

// CredentialVerifier defines the interface needed to verify access credentials
// in middleware.
//
// # Why an interface?
//
// Defining CredentialVerifier here decouples the middleware from the `sec`
// token service, allowing us to easily inject mocks during unit testing.
type CredentialVerifier interface {
	VerifyAccess(tokenStr string) (*sec.AccessClaims, error)
}

// SnapshotSource provides the role-binding snapshot used by [RequirePermission].
type SnapshotSource interface {
	SnapshotFor(ctx context.Context, userID string) (*authz.Snapshot, error)
}

var (
	errCredentialExpired = apperr.WithCode(http.StatusUnauthorized, "CREDENTIAL_EXPIRED",
		"Access credential has expired")
	errCredentialInvalid = apperr.WithCode(http.StatusUnauthorized, "CREDENTIAL_INVALID",
		"Access credential is invalid")
)

// Authenticate extracts and verifies the access credential from the
// Authorization header.
//
// # Flow
//  1. Check for 'Authorization: Bearer <token>' header.
//  2. If absent, request proceeds as anonymous.
//  3. If present, parse and verify the credential via [CredentialVerifier].
//  4. Build an [*authz.Principal] from the claims and inject it into the
//     request context for downstream use.
//
// Expiry and malformation are reported with distinct error codes so clients
// know whether a refresh can recover the request.
func Authenticate(verifier CredentialVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			authHeader := request.Header.Get("Authorization")

			// ── 1. Anonymous Access ───────────────────────────────────────────
			if authHeader == "" {
				next.ServeHTTP(writer, request)
				return
			}

			// ── 2. Format Validation ──────────────────────────────────────────
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				respond.Error(writer, request, apperr.Unauthorized("Invalid authorization format"))
				return
			}

			// ── 3. Credential Verification ────────────────────────────────────
			tokenStr := parts[1]
			claims, err := verifier.VerifyAccess(tokenStr)
			if err != nil {
				if errors.Is(err, sec.ErrCredentialExpired) {
					respond.Error(writer, request, errCredentialExpired)
					return
				}
				respond.Error(writer, request, errCredentialInvalid)
				return
			}

			// ── 4. Context Injection ──────────────────────────────────────────
			principal := authz.PrincipalFromClaims(claims)
			ctx := context.WithValue(request.Context(), ctxkey.KeyPrincipal, &principal)
			next.ServeHTTP(writer, request.WithContext(ctx))
		})
	}
}

// RequireAuth blocks requests that are not authenticated.
//
// # Usage
//
// Must be registered in the router AFTER [Authenticate].
//
// # Flow
//  1. Check if [*authz.Principal] exists in context.
//  2. If missing, abort with HTTP 401 Unauthorized.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		principal := GetPrincipal(request.Context())
		if principal == nil {
			respond.Error(writer, request, apperr.Unauthorized("Authentication required"))
			return
		}
		next.ServeHTTP(writer, request)
	})
}

// RequirePermission blocks requests unless the authenticated principal holds
// the required permission.
//
// # Usage
//
// Must be registered in the router AFTER [Authenticate]. It automatically
// implies [RequireAuth] so you don't need to mount both.
//
// # Flow
//  1. Check if [*authz.Principal] exists in context (implies AuthN).
//  2. Fetch the current role-binding snapshot for the principal.
//  3. Evaluate via [authz.Authorize]; the resource organization defaults to
//     the principal's own organization for route-level guards.
//  4. A stale ACL version or a missing grant aborts the request.
func RequirePermission(source SnapshotSource, required authz.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			principal := GetPrincipal(request.Context())

			// ── 1. Authentication Check ───────────────────────────────────────
			if principal == nil {
				respond.Error(writer, request, apperr.Unauthorized("Authentication required"))
				return
			}

			// ── 2. Snapshot Fetch ─────────────────────────────────────────────
			snapshot, err := source.SnapshotFor(request.Context(), principal.Subject)
			if err != nil {
				respond.Error(writer, request, err)
				return
			}

			// ── 3. Authorization Check ────────────────────────────────────────
			if err := authz.Authorize(*principal, required, principal.OrganizationID, *snapshot); err != nil {
				respond.Error(writer, request, err)
				return
			}

			next.ServeHTTP(writer, request)
		})
	}
}

// GetPrincipal retrieves the [*authz.Principal] from the [context.Context].
//
// # Returns
//   - A pointer to [authz.Principal] if the request is authenticated.
//   - nil if the request is anonymous.
func GetPrincipal(ctx context.Context) *authz.Principal {
	principal, ok := ctx.Value(ctxkey.KeyPrincipal).(*authz.Principal)
	if !ok {
		return nil
	}
	return principal
}
