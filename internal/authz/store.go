// Copyright (c) 2026 Keiro. All rights reserved.
// Author: dev@keiro.app

package authz

import "context"

// RoleRepository provides role bindings and the global ACL version.
//
// Every mutation increments the ACL version inside the same transaction, so a
// credential issued before the change evaluates as stale afterwards.
type RoleRepository interface {
	// SnapshotFor returns the current role bindings together with the
	// organization memberships of the given account.
	SnapshotFor(ctx context.Context, userID string) (*Snapshot, error)

	// CurrentVersion returns the global ACL version without loading bindings.
	CurrentVersion(ctx context.Context) (int64, error)

	// GrantPermission adds a permission to a role. orgScoped selects between
	// the system-role and organization-role binding tables.
	GrantPermission(ctx context.Context, role string, orgScoped bool, permission Permission) error

	// RevokePermission removes a permission from a role.
	RevokePermission(ctx context.Context, role string, orgScoped bool, permission Permission) error

	// AssignOrgRole sets the account's role within an organization,
	// replacing any existing membership.
	AssignOrgRole(ctx context.Context, userID, orgID string, role OrgRole) error

	// RemoveOrgRole deletes the account's membership in an organization.
	RemoveOrgRole(ctx context.Context, userID, orgID string) error
}
