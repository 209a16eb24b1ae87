// Copyright (c) 2026 Keiro. All rights reserved.
// Author: dev@keiro.app

package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// # Role Repository

// PostgresRoleRepository implements the RoleRepository interface using pgx.
//
// Role bindings live in authz.rolebinding, memberships in authz.orgmembership,
// and the single-row authz.aclstate table carries the global ACL version.
// Every mutation bumps the version inside the same transaction.
type PostgresRoleRepository struct {
	pool *pgxpool.Pool
}

// NewRoleRepository creates a new PostgreSQL implementation of RoleRepository.
func NewRoleRepository(pool *pgxpool.Pool) *PostgresRoleRepository {
	return &PostgresRoleRepository{pool: pool}
}

/*
SnapshotFor loads the complete role-binding state for one account.

Description: Fetches the ACL version, all role bindings, and the account's
organization memberships in a single repeatable-read view.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - *Snapshot: Read-only evaluation input
  - error: Query or scan failures
*/
func (repository *PostgresRoleRepository) SnapshotFor(context context.Context, userID string) (*Snapshot, error) {
	transaction, err := repository.pool.BeginTx(context, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("postgres_role_repo_snapshot_begin_failed: %w", err)
	}
	defer transaction.Rollback(context)

	snapshot := &Snapshot{
		SystemGrants: make(map[SystemRole][]Permission),
		OrgGrants:    make(map[OrgRole][]Permission),
		Memberships:  make(map[string]OrgRole),
	}

	const versionQuery = "SELECT version FROM authz.aclstate WHERE id = TRUE"
	if err := transaction.QueryRow(context, versionQuery).Scan(&snapshot.Version); err != nil {
		return nil, fmt.Errorf("postgres_role_repo_snapshot_version_failed: %w", err)
	}

	const bindingQuery = "SELECT role, orgscoped, permission FROM authz.rolebinding"
	bindingRows, err := transaction.Query(context, bindingQuery)
	if err != nil {
		return nil, fmt.Errorf("postgres_role_repo_snapshot_bindings_failed: %w", err)
	}
	defer bindingRows.Close()

	for bindingRows.Next() {
		var role string
		var orgScoped bool
		var permission Permission
		if err := bindingRows.Scan(&role, &orgScoped, &permission); err != nil {
			return nil, fmt.Errorf("postgres_role_repo_snapshot_binding_scan_failed: %w", err)
		}
		if orgScoped {
			snapshot.OrgGrants[OrgRole(role)] = append(snapshot.OrgGrants[OrgRole(role)], permission)
		} else {
			snapshot.SystemGrants[SystemRole(role)] = append(snapshot.SystemGrants[SystemRole(role)], permission)
		}
	}
	if err := bindingRows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_role_repo_snapshot_binding_rows_failed: %w", err)
	}
	bindingRows.Close()

	const membershipQuery = "SELECT orgid, role FROM authz.orgmembership WHERE userid = $1"
	membershipRows, err := transaction.Query(context, membershipQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres_role_repo_snapshot_memberships_failed: %w", err)
	}
	defer membershipRows.Close()

	for membershipRows.Next() {
		var orgID string
		var role OrgRole
		if err := membershipRows.Scan(&orgID, &role); err != nil {
			return nil, fmt.Errorf("postgres_role_repo_snapshot_membership_scan_failed: %w", err)
		}
		snapshot.Memberships[orgID] = role
	}
	if err := membershipRows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_role_repo_snapshot_membership_rows_failed: %w", err)
	}

	if err := transaction.Commit(context); err != nil {
		return nil, fmt.Errorf("postgres_role_repo_snapshot_commit_failed: %w", err)
	}

	return snapshot, nil
}

/*
CurrentVersion returns the global ACL version counter.

Description: Cheap single-row read used at credential issuance time to stamp
the version into the access claims.

Parameters:
  - context: context.Context

Returns:
  - int64: Current version
  - error: Query failures
*/
func (repository *PostgresRoleRepository) CurrentVersion(context context.Context) (int64, error) {
	const query = "SELECT version FROM authz.aclstate WHERE id = TRUE"

	var version int64
	if err := repository.pool.QueryRow(context, query).Scan(&version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("postgres_role_repo_version_row_missing: %w", err)
		}
		return 0, fmt.Errorf("postgres_role_repo_version_failed: %w", err)
	}

	return version, nil
}

/*
GrantPermission adds a permission to a role and bumps the ACL version.

Parameters:
  - context: context.Context
  - role: string
  - orgScoped: bool
  - permission: Permission

Returns:
  - error: Constraint violations or transaction failures
*/
func (repository *PostgresRoleRepository) GrantPermission(context context.Context, role string, orgScoped bool, permission Permission) error {
	const query = `
		INSERT INTO authz.rolebinding (role, orgscoped, permission, createdat)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (role, orgscoped, permission) DO NOTHING`

	return repository.mutate(context, "postgres_role_repo_grant_failed", func(tx pgx.Tx) error {
		_, err := tx.Exec(context, query, role, orgScoped, permission, time.Now())
		return err
	})
}

/*
RevokePermission removes a permission from a role and bumps the ACL version.

Parameters:
  - context: context.Context
  - role: string
  - orgScoped: bool
  - permission: Permission

Returns:
  - error: Transaction failures
*/
func (repository *PostgresRoleRepository) RevokePermission(context context.Context, role string, orgScoped bool, permission Permission) error {
	const query = "DELETE FROM authz.rolebinding WHERE role = $1 AND orgscoped = $2 AND permission = $3"

	return repository.mutate(context, "postgres_role_repo_revoke_failed", func(tx pgx.Tx) error {
		_, err := tx.Exec(context, query, role, orgScoped, permission)
		return err
	})
}

/*
AssignOrgRole sets the account's role within an organization.

Description: Upserts the membership row, replacing any existing role for the
same (userid, orgid) pair, and bumps the ACL version.

Parameters:
  - context: context.Context
  - userID: string
  - orgID: string
  - role: OrgRole

Returns:
  - error: Transaction failures
*/
func (repository *PostgresRoleRepository) AssignOrgRole(context context.Context, userID, orgID string, role OrgRole) error {
	const query = `
		INSERT INTO authz.orgmembership (userid, orgid, role, createdat)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (userid, orgid) DO UPDATE SET role = EXCLUDED.role`

	return repository.mutate(context, "postgres_role_repo_assign_org_role_failed", func(tx pgx.Tx) error {
		_, err := tx.Exec(context, query, userID, orgID, role, time.Now())
		return err
	})
}

/*
RemoveOrgRole deletes the account's membership in an organization.

Parameters:
  - context: context.Context
  - userID: string
  - orgID: string

Returns:
  - error: Transaction failures
*/
func (repository *PostgresRoleRepository) RemoveOrgRole(context context.Context, userID, orgID string) error {
	const query = "DELETE FROM authz.orgmembership WHERE userid = $1 AND orgid = $2"

	return repository.mutate(context, "postgres_role_repo_remove_org_role_failed", func(tx pgx.Tx) error {
		_, err := tx.Exec(context, query, userID, orgID)
		return err
	})
}

// mutate runs the given statement and the ACL version bump in one transaction.
// The bump is what invalidates previously issued credentials, so it must never
// be separated from the binding change.
func (repository *PostgresRoleRepository) mutate(context context.Context, label string, statement func(tx pgx.Tx) error) error {
	transaction, err := repository.pool.Begin(context)
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	defer transaction.Rollback(context)

	if err := statement(transaction); err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}

	const bumpQuery = "UPDATE authz.aclstate SET version = version + 1 WHERE id = TRUE"
	if _, err := transaction.Exec(context, bumpQuery); err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}

	if err := transaction.Commit(context); err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}

	return nil
}
