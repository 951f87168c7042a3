package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/propeval/access-core/internal/core/domain"
	"github.com/propeval/access-core/internal/core/ports"
)

const defaultAuditLimit = 50

// RBACHandler exposes user, role and permission administration.
// Every route is mounted behind middleware.Require.
type RBACHandler struct {
	accounts ports.AccountService
	rbac     ports.RBACService
	audit    ports.AuditReader
}

func NewRBACHandler(accounts ports.AccountService, rbac ports.RBACService, audit ports.AuditReader) *RBACHandler {
	return &RBACHandler{accounts: accounts, rbac: rbac, audit: audit}
}

// --- Users ---

// ListUsers handles GET /rbac/users.
//
// @Summary      List users
// @Tags         rbac
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   domain.User
// @Failure      401  {object}  errorResponse
// @Failure      403  {object}  errorResponse
// @Router       /rbac/users [get]
func (h *RBACHandler) ListUsers(c echo.Context) error {
	users, err := h.accounts.ListUsers(c.Request().Context())
	if err != nil {
		return err
	}
	if users == nil {
		users = []*domain.User{}
	}
	return c.JSON(http.StatusOK, users)
}

// CreateUser handles POST /rbac/users. Unlike self-registration it may assign roles.
//
// @Summary      Create a user with roles
// @Tags         rbac
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      createUserRequest  true  "User details and role names"
// @Success      201   {object}  domain.User
// @Failure      400   {object}  errorResponse
// @Failure      403   {object}  errorResponse
// @Failure      409   {object}  errorResponse
// @Router       /rbac/users [post]
func (h *RBACHandler) CreateUser(c echo.Context) error {
	ac, err := authContext(c)
	if err != nil {
		return err
	}
	var req createUserRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := h.accounts.Register(c.Request().Context(), ports.RegisterInput{
		Username:   req.Username,
		Email:      req.Email,
		Password:   req.Password,
		FullName:   req.FullName,
		Department: req.Department,
		Roles:      req.Roles,
		CreatedBy:  ac.UserID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, user)
}

// GetUser handles GET /rbac/users/:id.
//
// @Summary      Get a user
// @Tags         rbac
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "User ID"
// @Success      200  {object}  domain.User
// @Failure      404  {object}  errorResponse
// @Router       /rbac/users/{id} [get]
func (h *RBACHandler) GetUser(c echo.Context) error {
	user, err := h.accounts.GetUser(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, user)
}

// UpdateUser handles PUT /rbac/users/:id.
//
// @Summary      Update a user's profile
// @Tags         rbac
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      string                true  "User ID"
// @Param        body  body      updateProfileRequest  true  "Fields to change"
// @Success      200   {object}  domain.User
// @Failure      400   {object}  errorResponse
// @Failure      404   {object}  errorResponse
// @Failure      409   {object}  errorResponse
// @Router       /rbac/users/{id} [put]
func (h *RBACHandler) UpdateUser(c echo.Context) error {
	ac, err := authContext(c)
	if err != nil {
		return err
	}
	var req updateProfileRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	user, err := h.accounts.UpdateProfile(c.Request().Context(), c.Param("id"), ac.UserID, req.toPort())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, user)
}

// DeactivateUser handles POST /rbac/users/:id/deactivate.
//
// @Summary      Deactivate a user
// @Tags         rbac
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "User ID"
// @Success      200  {object}  messageResponse
// @Failure      404  {object}  errorResponse
// @Router       /rbac/users/{id}/deactivate [post]
func (h *RBACHandler) DeactivateUser(c echo.Context) error {
	ac, err := authContext(c)
	if err != nil {
		return err
	}
	if err := h.accounts.Deactivate(c.Request().Context(), c.Param("id"), ac.UserID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "user deactivated"})
}

// UserRoles handles GET /rbac/users/:id/roles.
//
// @Summary      Roles assigned to a user
// @Tags         rbac
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "User ID"
// @Success      200  {array}   domain.Role
// @Router       /rbac/users/{id}/roles [get]
func (h *RBACHandler) UserRoles(c echo.Context) error {
	roles, err := h.rbac.RolesOf(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if roles == nil {
		roles = []*domain.Role{}
	}
	return c.JSON(http.StatusOK, roles)
}

// AssignRole handles POST /rbac/users/:id/roles. Assigning a held role is a no-op.
//
// @Summary      Assign a role
// @Tags         rbac
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      string             true  "User ID"
// @Param        body  body      assignRoleRequest  true  "Role to assign"
// @Success      200   {object}  messageResponse
// @Failure      404   {object}  errorResponse
// @Router       /rbac/users/{id}/roles [post]
func (h *RBACHandler) AssignRole(c echo.Context) error {
	ac, err := authContext(c)
	if err != nil {
		return err
	}
	var req assignRoleRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.rbac.AssignRole(c.Request().Context(), c.Param("id"), req.RoleID, ac.UserID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "role assigned"})
}

// UnassignRole handles DELETE /rbac/users/:id/roles/:role_id.
//
// @Summary      Remove a role from a user
// @Tags         rbac
// @Security     BearerAuth
// @Param        id       path  string  true  "User ID"
// @Param        role_id  path  string  true  "Role ID"
// @Success      204
// @Failure      404  {object}  errorResponse
// @Router       /rbac/users/{id}/roles/{role_id} [delete]
func (h *RBACHandler) UnassignRole(c echo.Context) error {
	ac, err := authContext(c)
	if err != nil {
		return err
	}
	if err := h.rbac.UnassignRole(c.Request().Context(), c.Param("id"), c.Param("role_id"), ac.UserID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// UserPermissions handles GET /rbac/users/:id/permissions.
//
// @Summary      Effective permissions of a user
// @Tags         rbac
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "User ID"
// @Success      200  {object}  permissionsResponse
// @Failure      404  {object}  errorResponse
// @Router       /rbac/users/{id}/permissions [get]
func (h *RBACHandler) UserPermissions(c echo.Context) error {
	userID := c.Param("id")
	set, err := h.rbac.EffectivePermissions(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, permissionsResponse{UserID: userID, Permissions: set.Keys()})
}

// UserAudit handles GET /rbac/users/:id/audit.
//
// @Summary      Audit trail of a user
// @Tags         rbac
// @Produce      json
// @Security     BearerAuth
// @Param        id     path      string  true   "User ID"
// @Param        limit  query     int     false  "Maximum number of events (default 50)"
// @Success      200    {array}   auditEventResponse
// @Router       /rbac/users/{id}/audit [get]
func (h *RBACHandler) UserAudit(c echo.Context) error {
	limit := int64(defaultAuditLimit)
	if err := echo.QueryParamsBinder(c).Int64("limit", &limit).BindError(); err != nil || limit <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
	}

	events, err := h.audit.ListForUser(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return err
	}
	resp := make([]auditEventResponse, 0, len(events))
	for _, ev := range events {
		resp = append(resp, auditEventResponse{
			Type:       ev.Type,
			ActorID:    ev.ActorID,
			Outcome:    ev.Outcome,
			OccurredAt: ev.OccurredAt,
			Metadata:   ev.Metadata,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// --- Roles ---

// ListRoles handles GET /rbac/roles.
//
// @Summary      List roles
// @Tags         rbac
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}  domain.Role
// @Router       /rbac/roles [get]
func (h *RBACHandler) ListRoles(c echo.Context) error {
	roles, err := h.rbac.ListRoles(c.Request().Context())
	if err != nil {
		return err
	}
	if roles == nil {
		roles = []*domain.Role{}
	}
	return c.JSON(http.StatusOK, roles)
}

// CreateRole handles POST /rbac/roles.
//
// @Summary      Create a role
// @Tags         rbac
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      roleRequest  true  "Role name, description and permission keys"
// @Success      201   {object}  domain.Role
// @Failure      400   {object}  errorResponse
// @Failure      409   {object}  errorResponse
// @Router       /rbac/roles [post]
func (h *RBACHandler) CreateRole(c echo.Context) error {
	var req roleRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	role, err := h.rbac.CreateRole(c.Request().Context(), req.Name, req.Description, req.Permissions)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, role)
}

// GetRole handles GET /rbac/roles/:id.
//
// @Summary      Get a role
// @Tags         rbac
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Role ID"
// @Success      200  {object}  domain.Role
// @Failure      404  {object}  errorResponse
// @Router       /rbac/roles/{id} [get]
func (h *RBACHandler) GetRole(c echo.Context) error {
	role, err := h.rbac.GetRole(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, role)
}

// UpdateRole handles PUT /rbac/roles/:id. Grants are changed through the
// permissions sub-resource, not here.
//
// @Summary      Rename or re-describe a role
// @Tags         rbac
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      string             true  "Role ID"
// @Param        body  body      updateRoleRequest  true  "Fields to change"
// @Success      200   {object}  domain.Role
// @Failure      400   {object}  errorResponse
// @Failure      404   {object}  errorResponse
// @Failure      409   {object}  errorResponse
// @Router       /rbac/roles/{id} [put]
func (h *RBACHandler) UpdateRole(c echo.Context) error {
	var req updateRoleRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	role, err := h.rbac.UpdateRole(c.Request().Context(), c.Param("id"), ports.RoleUpdate{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, role)
}

// DeleteRole handles DELETE /rbac/roles/:id. Its assignments go with it.
//
// @Summary      Delete a role
// @Tags         rbac
// @Security     BearerAuth
// @Param        id  path  string  true  "Role ID"
// @Success      204
// @Failure      404  {object}  errorResponse
// @Router       /rbac/roles/{id} [delete]
func (h *RBACHandler) DeleteRole(c echo.Context) error {
	if err := h.rbac.DeleteRole(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// GrantPermissions handles POST /rbac/roles/:id/permissions.
//
// @Summary      Grant permissions to a role
// @Tags         rbac
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      string        true  "Role ID"
// @Param        body  body      grantRequest  true  "Permission keys (action:resource)"
// @Success      200   {object}  domain.Role
// @Failure      400   {object}  errorResponse
// @Failure      404   {object}  errorResponse
// @Router       /rbac/roles/{id}/permissions [post]
func (h *RBACHandler) GrantPermissions(c echo.Context) error {
	var req grantRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	role, err := h.rbac.GrantPermissions(c.Request().Context(), c.Param("id"), req.Permissions)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, role)
}

// RevokePermission handles DELETE /rbac/roles/:id/permissions/:key.
//
// @Summary      Revoke a permission from a role
// @Tags         rbac
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Role ID"
// @Param        key  path      string  true  "Permission key (action:resource)"
// @Success      200  {object}  domain.Role
// @Failure      404  {object}  errorResponse
// @Router       /rbac/roles/{id}/permissions/{key} [delete]
func (h *RBACHandler) RevokePermission(c echo.Context) error {
	role, err := h.rbac.RevokePermission(c.Request().Context(), c.Param("id"), c.Param("key"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, role)
}

// --- Permissions ---

// ListPermissions handles GET /rbac/permissions.
//
// @Summary      List permissions
// @Tags         rbac
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}  domain.Permission
// @Router       /rbac/permissions [get]
func (h *RBACHandler) ListPermissions(c echo.Context) error {
	perms, err := h.rbac.ListPermissions(c.Request().Context())
	if err != nil {
		return err
	}
	if perms == nil {
		perms = []domain.Permission{}
	}
	return c.JSON(http.StatusOK, perms)
}

// CreatePermission handles POST /rbac/permissions.
//
// @Summary      Create a permission
// @Tags         rbac
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      permissionRequest  true  "Action and resource"
// @Success      201   {object}  domain.Permission
// @Failure      400   {object}  errorResponse
// @Failure      409   {object}  errorResponse
// @Router       /rbac/permissions [post]
func (h *RBACHandler) CreatePermission(c echo.Context) error {
	var req permissionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	perm := domain.NewPermission(req.Action, req.Resource)
	perm.Description = req.Description
	if err := h.rbac.CreatePermission(c.Request().Context(), perm); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, perm)
}

// Initialize handles POST /rbac/initialize: it ensures the baseline
// permissions and roles exist. Safe to call repeatedly.
//
// @Summary      Seed baseline roles and permissions
// @Tags         rbac
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  messageResponse
// @Failure      403  {object}  errorResponse
// @Router       /rbac/initialize [post]
func (h *RBACHandler) Initialize(c echo.Context) error {
	if err := h.rbac.SeedDefaults(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "rbac defaults ensured"})
}

// Check handles POST /rbac/check. A missing grant is reported as allowed=false,
// not as an error.
//
// @Summary      Check a user permission
// @Tags         rbac
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      checkRequest  true  "User, action and resource"
// @Success      200   {object}  checkResponse
// @Failure      404   {object}  errorResponse
// @Router       /rbac/check [post]
func (h *RBACHandler) Check(c echo.Context) error {
	var req checkRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	allowed, err := h.rbac.HasPermission(c.Request().Context(), req.UserID, req.Action, req.Resource)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, checkResponse{
		UserID:     req.UserID,
		Permission: domain.NewPermission(req.Action, req.Resource).Key(),
		Allowed:    allowed,
	})
}
