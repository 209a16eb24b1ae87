// Copyright (c) 2026 Keiro. All rights reserved.
// Author: dev@keiro.app

package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keiro-dev/keiro/internal/authz"
	"github.com/keiro-dev/keiro/internal/platform/ctxkey"
	"github.com/keiro-dev/keiro/internal/platform/sec"
)

// fakeVerifier resolves hard-coded token strings to claims.
type fakeVerifier struct {
	claims map[string]*sec.AccessClaims
}

func (verifier *fakeVerifier) VerifyAccess(tokenStr string) (*sec.AccessClaims, error) {
	switch tokenStr {
	case "expired":
		return nil, fmt.Errorf("%w: exp elapsed", sec.ErrCredentialExpired)
	default:
		claims, ok := verifier.claims[tokenStr]
		if !ok {
			return nil, fmt.Errorf("%w: bad signature", sec.ErrCredentialInvalid)
		}
		return claims, nil
	}
}

// fakeSnapshotSource serves one fixed snapshot for every user.
type fakeSnapshotSource struct {
	snapshot authz.Snapshot
}

func (source *fakeSnapshotSource) SnapshotFor(_ context.Context, _ string) (*authz.Snapshot, error) {
	snapshot := source.snapshot
	return &snapshot, nil
}

func validClaims() *sec.AccessClaims {
	return &sec.AccessClaims{
		SystemRole: "USER",
		ACLVersion: 7,
	}
}

// echoPrincipal records the principal seen by the terminal handler.
func echoPrincipal(captured **authz.Principal) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		*captured = GetPrincipal(request.Context())
		writer.WriteHeader(http.StatusOK)
	})
}

func responseCode(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &envelope))
	return envelope.Code
}

/*
TestAuthenticate_Anonymous lets requests without a credential through with no
principal attached; route guards decide later whether that is acceptable.
*/
func TestAuthenticate_Anonymous(t *testing.T) {
	var seen *authz.Principal
	handler := Authenticate(&fakeVerifier{})(echoPrincipal(&seen))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Nil(t, seen)
}

/*
TestAuthenticate_ValidCredential builds the principal from the verified claims
and injects it into the request context.
*/
func TestAuthenticate_ValidCredential(t *testing.T) {
	claims := validClaims()
	claims.Subject = "user-1"

	var seen *authz.Principal
	handler := Authenticate(&fakeVerifier{claims: map[string]*sec.AccessClaims{"good": claims}})(echoPrincipal(&seen))

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set("Authorization", "Bearer good")

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusOK, recorder.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "user-1", seen.Subject)
	assert.Equal(t, int64(7), seen.ACLVersion)
}

/*
TestAuthenticate_Failures distinguishes expiry (recoverable via refresh) from
an invalid credential and a malformed header.
*/
func TestAuthenticate_Failures(t *testing.T) {
	handler := Authenticate(&fakeVerifier{})(echoPrincipal(new(*authz.Principal)))

	testCases := []struct {
		name     string
		header   string
		wantCode string
	}{
		{name: "expired credential", header: "Bearer expired", wantCode: "CREDENTIAL_EXPIRED"},
		{name: "unknown credential", header: "Bearer forged", wantCode: "CREDENTIAL_INVALID"},
		{name: "malformed header", header: "NotBearer", wantCode: "UNAUTHORIZED"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, "/", nil)
			request.Header.Set("Authorization", testCase.header)

			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, request)

			assert.Equal(t, http.StatusUnauthorized, recorder.Code)
			assert.Equal(t, testCase.wantCode, responseCode(t, recorder))
		})
	}
}

/*
TestRequireAuth blocks anonymous requests and passes authenticated ones.
*/
func TestRequireAuth(t *testing.T) {
	claims := validClaims()
	claims.Subject = "user-1"
	verifier := &fakeVerifier{claims: map[string]*sec.AccessClaims{"good": claims}}

	var seen *authz.Principal
	handler := Authenticate(verifier)(RequireAuth(echoPrincipal(&seen)))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set("Authorization", "Bearer good")
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusOK, recorder.Code)
}

/*
TestRequirePermission enforces the grant and fails closed on a stale ACL
version.
*/
func TestRequirePermission(t *testing.T) {
	source := &fakeSnapshotSource{snapshot: authz.Snapshot{
		Version: 7,
		SystemGrants: map[authz.SystemRole][]authz.Permission{
			authz.RoleUser: {"contact:read"},
		},
	}}

	newHandler := func(required authz.Permission, seen **authz.Principal) http.Handler {
		return RequirePermission(source, required)(echoPrincipal(seen))
	}

	withPrincipal := func(request *http.Request, principal authz.Principal) *http.Request {
		ctx := context.WithValue(request.Context(), ctxkey.KeyPrincipal, &principal)
		return request.WithContext(ctx)
	}

	t.Run("granted", func(t *testing.T) {
		var seen *authz.Principal
		request := withPrincipal(httptest.NewRequest(http.MethodGet, "/", nil), authz.Principal{
			Subject: "user-1", SystemRole: authz.RoleUser, ACLVersion: 7,
		})

		recorder := httptest.NewRecorder()
		newHandler("contact:read", &seen).ServeHTTP(recorder, request)

		assert.Equal(t, http.StatusOK, recorder.Code)
		require.NotNil(t, seen)
	})

	t.Run("missing grant", func(t *testing.T) {
		var seen *authz.Principal
		request := withPrincipal(httptest.NewRequest(http.MethodGet, "/", nil), authz.Principal{
			Subject: "user-1", SystemRole: authz.RoleUser, ACLVersion: 7,
		})

		recorder := httptest.NewRecorder()
		newHandler("contact:write", &seen).ServeHTTP(recorder, request)

		assert.Equal(t, http.StatusForbidden, recorder.Code)
		assert.Nil(t, seen)
	})

	t.Run("stale acl version", func(t *testing.T) {
		var seen *authz.Principal
		request := withPrincipal(httptest.NewRequest(http.MethodGet, "/", nil), authz.Principal{
			Subject: "user-1", SystemRole: authz.RoleUser, ACLVersion: 6,
		})

		recorder := httptest.NewRecorder()
		newHandler("contact:read", &seen).ServeHTTP(recorder, request)

		assert.Equal(t, http.StatusUnauthorized, recorder.Code)
		assert.Equal(t, "CREDENTIAL_STALE", responseCode(t, recorder))
		assert.Nil(t, seen)
	})

	t.Run("anonymous", func(t *testing.T) {
		var seen *authz.Principal
		recorder := httptest.NewRecorder()
		newHandler("contact:read", &seen).ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusUnauthorized, recorder.Code)
		assert.Nil(t, seen)
	})
}
