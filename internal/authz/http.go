// Copyright (c) 2026 Keiro. All rights reserved.
// Author: dev@keiro.app

package authz

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keiro-dev/keiro/internal/platform/respond"
	"github.com/keiro-dev/keiro/internal/platform/validate"
)

// PermissionManageAccess guards the role administration endpoints.
const PermissionManageAccess Permission = "access:manage"

// # Definitions & Constructors

// Handler implements the role and membership administration endpoints.
//
// # Scope
//
// Every mutation below bumps the global ACL version, which retires all
// outstanding access credentials (their embedded version goes stale).
//
// The guard middlewares (authentication plus the [PermissionManageAccess]
// check) are injected by the composition root rather than imported here,
// since the middleware package already depends on this one.
type Handler struct {
	roleRepository RoleRepository
	guards         []func(http.Handler) http.Handler
}

// NewHandler constructs a new [Handler] with its repository and route guards.
func NewHandler(repository RoleRepository, guards ...func(http.Handler) http.Handler) *Handler {
	return &Handler{roleRepository: repository, guards: guards}
}

// Routes returns a [chi.Router] configured with administration routes.
//
// # Endpoints
//   - POST /grants                        : Adds a role→permission grant.
//   - POST /grants/revoke                 : Removes a role→permission grant.
//   - PUT /memberships/{userID}           : Assigns an organization role.
//   - DELETE /memberships/{userID}/{orgID}: Removes an organization membership.
//   - GET /snapshot/{userID}              : Inspects a user's effective ACL state.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	for _, guard := range handler.guards {
		router.Use(guard)
	}

	router.Post("/grants", handler.grantPermission)
	router.Post("/grants/revoke", handler.revokePermission)
	router.Put("/memberships/{userID}", handler.assignOrgRole)
	router.Delete("/memberships/{userID}/{orgID}", handler.removeOrgRole)
	router.Get("/snapshot/{userID}", handler.snapshot)

	return router
}

// # Request Payloads

type grantRequest struct {
	Role       string `json:"role"`
	OrgScoped  bool   `json:"org_scoped"`
	Permission string `json:"permission"`
}

type membershipRequest struct {
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
}

const (
	fieldRole           = "role"
	fieldPermission     = "permission"
	fieldOrganizationID = "organization_id"
	fieldUserID         = "user_id"
)

/*
GrantPermission adds a permission to a role binding.

POST /api/v1/admin/access/grants

Request:
  - Body: grantRequest (Role, OrgScoped, Permission)

Response:
  - 204: No Content: Grant recorded (idempotent)
  - 400: ErrInvalidJSON: Bad role or malformed permission token
*/
func (handler *Handler) grantPermission(writer http.ResponseWriter, request *http.Request) {
	input, err := decodeGrant(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	err = handler.roleRepository.GrantPermission(request.Context(), input.Role, input.OrgScoped, Permission(input.Permission))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

/*
RevokePermission removes a permission from a role binding.

POST /api/v1/admin/access/grants/revoke

Request:
  - Body: grantRequest (Role, OrgScoped, Permission)

Response:
  - 204: No Content: Grant removed (idempotent)
  - 400: ErrInvalidJSON: Bad role or malformed permission token
*/
func (handler *Handler) revokePermission(writer http.ResponseWriter, request *http.Request) {
	input, err := decodeGrant(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	err = handler.roleRepository.RevokePermission(request.Context(), input.Role, input.OrgScoped, Permission(input.Permission))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

/*
AssignOrgRole sets a user's role within an organization.

PUT /api/v1/admin/access/memberships/{userID}

Request:
  - Body: membershipRequest (OrganizationID, Role)

Response:
  - 204: No Content: Membership upserted
  - 400: ErrInvalidJSON: Unknown organization role
*/
func (handler *Handler) assignOrgRole(writer http.ResponseWriter, request *http.Request) {
	userID := chi.URLParam(request, "userID")
	if userID == "" {
		respond.Error(writer, request, validate.RequiredError(fieldUserID, "is required"))
		return
	}

	var input membershipRequest
	if err := json.NewDecoder(request.Body).Decode(&input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	validator := &validate.Validator{}
	validator.Required(fieldOrganizationID, input.OrganizationID).
		Required(fieldRole, input.Role)

	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	role := OrgRole(input.Role)
	if role != OrgRoleOwner && role != OrgRoleMember {
		respond.Error(writer, request, validate.RequiredError(fieldRole, "must be OWNER or MEMBER"))
		return
	}

	err := handler.roleRepository.AssignOrgRole(request.Context(), userID, input.OrganizationID, role)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

/*
RemoveOrgRole removes a user's membership in an organization.

DELETE /api/v1/admin/access/memberships/{userID}/{orgID}

Response:
  - 204: No Content: Membership removed (idempotent)
*/
func (handler *Handler) removeOrgRole(writer http.ResponseWriter, request *http.Request) {
	userID := chi.URLParam(request, "userID")
	orgID := chi.URLParam(request, "orgID")

	if userID == "" || orgID == "" {
		respond.Error(writer, request, validate.RequiredError(fieldUserID, "and organization id are required"))
		return
	}

	if err := handler.roleRepository.RemoveOrgRole(request.Context(), userID, orgID); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

/*
Snapshot returns the current ACL snapshot as seen by one user.

GET /api/v1/admin/access/snapshot/{userID}

Response:
  - 200: Snapshot: Version, grants, and the user's memberships
*/
func (handler *Handler) snapshot(writer http.ResponseWriter, request *http.Request) {
	userID := chi.URLParam(request, "userID")
	if userID == "" {
		respond.Error(writer, request, validate.RequiredError(fieldUserID, "is required"))
		return
	}

	snapshot, err := handler.roleRepository.SnapshotFor(request.Context(), userID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, snapshot)
}

// decodeGrant parses and validates the shared grant/revoke payload.
func decodeGrant(request *http.Request) (*grantRequest, error) {
	var input grantRequest
	if err := json.NewDecoder(request.Body).Decode(&input); err != nil {
		return nil, validate.ErrInvalidJSON
	}

	validator := &validate.Validator{}
	validator.Required(fieldRole, input.Role).
		Required(fieldPermission, input.Permission)

	if err := validator.Err(); err != nil {
		return nil, err
	}

	if !Permission(input.Permission).Valid() {
		return nil, validate.RequiredError(fieldPermission, "must look like resource:action")
	}

	return &input, nil
}
