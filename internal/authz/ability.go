// Copyright (c) 2026 Keiro. All rights reserved.
// Author: dev@keiro.app

/*
Package authz implements permission evaluation for authenticated principals.

It replaces runtime-dispatched "ability" objects with a data-driven model: a
role maps to a set of permission tokens, and evaluation is a pure function
over (principal, role-binding snapshot). No database access happens inside
the evaluator; callers fetch a snapshot first and the evaluator never blocks.

# Architecture

  - Principal: Immutable request identity, decoded from the access credential.
  - Permission: A "resource:action" token, optionally organization-scoped.
  - Snapshot: The role bindings and ACL version current at evaluation time.
  - Effective/Authorize: Pure functions; trivially unit-testable.
*/
package authz

import (
	"net/http"
	"sort"
	"strings"

	"github.com/keiro-dev/keiro/internal/platform/apperr"
	"github.com/keiro-dev/keiro/internal/platform/sec"
)

// # Roles

// SystemRole is the global authorization level of an account.
type SystemRole string

const (
	// RoleAdmin has unrestricted, organization-independent access.
	RoleAdmin SystemRole = "ADMIN"

	// RoleUser is the default role for registered accounts.
	RoleUser SystemRole = "USER"
)

// OrgRole is an organization-scoped membership role.
type OrgRole string

const (
	OrgRoleOwner  OrgRole = "OWNER"
	OrgRoleMember OrgRole = "MEMBER"
)

// # Permissions

// Permission is a machine-readable "resource:action" token, e.g. "contact:read".
type Permission string

// Valid reports whether the token has the expected "resource:action" shape.
func (p Permission) Valid() bool {
	resource, action, found := strings.Cut(string(p), ":")
	return found && resource != "" && action != ""
}

// PermissionSet is an unordered set of permission tokens.
type PermissionSet map[Permission]struct{}

// Has reports whether the set contains the given permission.
func (set PermissionSet) Has(permission Permission) bool {
	_, ok := set[permission]
	return ok
}

// Sorted returns the set as a deterministic, sorted slice.
// Used for serialization and stable test assertions.
func (set PermissionSet) Sorted() []Permission {
	out := make([]Permission, 0, len(set))
	for permission := range set {
		out = append(out, permission)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// # Principal

// Principal is the authenticated identity attached to a request.
//
// It is immutable once constructed and is never persisted as-is: interactive
// principals are decoded from the self-contained access credential, and
// delegated (API-key style) principals additionally carry the scopes declared
// at key creation time.
type Principal struct {
	// Subject is the account ID the credential was issued for.
	Subject string

	// Email is optional and informational only.
	Email string

	// SystemRole is the account's global role.
	SystemRole SystemRole

	// OrganizationID is set when the account belongs to an organization.
	OrganizationID string

	// ACLVersion is the global permission version embedded at issuance time.
	ACLVersion int64

	// Scopes is nil for interactive sessions (full role permissions).
	// When present (delegated callers), scopes only narrow, never widen,
	// the role-derived permission set.
	Scopes []Permission
}

// PrincipalFromClaims builds the request principal from verified access claims.
func PrincipalFromClaims(claims *sec.AccessClaims) Principal {
	return Principal{
		Subject:        claims.Subject,
		Email:          claims.Email,
		SystemRole:     SystemRole(claims.SystemRole),
		OrganizationID: claims.OrgID,
		ACLVersion:     claims.ACLVersion,
	}
}

// WithScopes returns a copy of the principal narrowed to the given scopes.
// Used for delegated/API-key callers; the original principal is not mutated.
func (principal Principal) WithScopes(scopes []Permission) Principal {
	narrowed := principal
	narrowed.Scopes = append([]Permission(nil), scopes...)
	return narrowed
}

// # Snapshot

// Snapshot is the role-binding state current at one point in time.
//
// It is fetched once per evaluation by [RoleRepository.SnapshotFor] and then
// treated as read-only. Version is the global ACL counter; any role,
// permission, or membership mutation increments it.
type Snapshot struct {
	Version int64

	// SystemGrants maps a system role to its granted permissions.
	SystemGrants map[SystemRole][]Permission

	// OrgGrants maps an organization role to its organization-scoped permissions.
	OrgGrants map[OrgRole][]Permission

	// Memberships maps organization ID to the principal's role in that organization.
	Memberships map[string]OrgRole
}

// # Evaluation Errors

var (
	// ErrStaleCredential signals that the access credential embeds an ACL
	// version older than the current one. The caller must force a credential
	// refresh instead of trusting the possibly-revoked permission view.
	ErrStaleCredential = apperr.WithCode(http.StatusUnauthorized, "CREDENTIAL_STALE",
		"Credential permissions are out of date, refresh required")

	// ErrForbidden is the generic authorization denial. It intentionally does
	// not name the missing permission or the resource.
	ErrForbidden = apperr.Forbidden("You do not have permission to perform this action")
)

// # Pure Evaluation

// Effective computes the effective permission set for a principal against a
// role-binding snapshot.
//
// For interactive principals (no scopes) the result is the union of the
// system-role grants and, when the principal belongs to an organization, the
// grants of its membership role there. For delegated principals the union is
// intersected with the declared scopes: a scope never grants a permission the
// underlying role does not already have.
func Effective(principal Principal, snapshot Snapshot) PermissionSet {
	effective := make(PermissionSet)

	for _, permission := range snapshot.SystemGrants[principal.SystemRole] {
		effective[permission] = struct{}{}
	}

	if principal.OrganizationID != "" {
		if orgRole, isMember := snapshot.Memberships[principal.OrganizationID]; isMember {
			for _, permission := range snapshot.OrgGrants[orgRole] {
				effective[permission] = struct{}{}
			}
		}
	}

	if principal.Scopes == nil {
		return effective
	}

	// Scoped caller: intersect, never union.
	scoped := make(PermissionSet, len(principal.Scopes))
	for _, scope := range principal.Scopes {
		if effective.Has(scope) {
			scoped[scope] = struct{}{}
		}
	}
	return scoped
}

// Authorize decides whether the principal may perform the required permission
// against a resource owned by resourceOrgID.
//
// Organization-scoped grants apply only when the principal's organization
// matches the resource's; system-role grants (e.g. ADMIN) bypass the
// organization check. A stale ACL version fails closed with
// [ErrStaleCredential] so callers force re-issuance.
func Authorize(principal Principal, required Permission, resourceOrgID string, snapshot Snapshot) error {
	if principal.ACLVersion != snapshot.Version {
		return ErrStaleCredential
	}

	if principal.Scopes != nil && !containsScope(principal.Scopes, required) {
		return ErrForbidden
	}

	for _, permission := range snapshot.SystemGrants[principal.SystemRole] {
		if permission == required {
			return nil
		}
	}

	if principal.OrganizationID != "" && principal.OrganizationID == resourceOrgID {
		if orgRole, isMember := snapshot.Memberships[principal.OrganizationID]; isMember {
			for _, permission := range snapshot.OrgGrants[orgRole] {
				if permission == required {
					return nil
				}
			}
		}
	}

	return ErrForbidden
}

func containsScope(scopes []Permission, required Permission) bool {
	for _, scope := range scopes {
		if scope == required {
			return true
		}
	}
	return false
}
