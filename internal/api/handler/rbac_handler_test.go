package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/propeval/access-core/internal/core/domain"
	"github.com/propeval/access-core/internal/core/ports"
)

// stubRBAC embeds the interface so tests only implement what they call.
type stubRBAC struct {
	ports.RBACService

	rolesOfFn       func(ctx context.Context, userID string) ([]*domain.Role, error)
	effectiveFn     func(ctx context.Context, userID string) (domain.PermissionSet, error)
	hasPermissionFn func(ctx context.Context, userID, action, resource string) (bool, error)
	createRoleFn    func(ctx context.Context, name, description string, keys []string) (*domain.Role, error)
	grantFn         func(ctx context.Context, roleID string, keys []string) (*domain.Role, error)
	revokeFn        func(ctx context.Context, roleID, key string) (*domain.Role, error)
	updateRoleFn    func(ctx context.Context, roleID string, upd ports.RoleUpdate) (*domain.Role, error)
	deleteRoleFn    func(ctx context.Context, roleID string) error
	seedFn          func(ctx context.Context) error
	createPermFn    func(ctx context.Context, perm domain.Permission) error
	listPermsFn     func(ctx context.Context) ([]domain.Permission, error)
	assignFn        func(ctx context.Context, userID, roleID, actorID string) error
	unassignFn      func(ctx context.Context, userID, roleID, actorID string) error
}

func (s *stubRBAC) RolesOf(ctx context.Context, userID string) ([]*domain.Role, error) {
	return s.rolesOfFn(ctx, userID)
}

func (s *stubRBAC) EffectivePermissions(ctx context.Context, userID string) (domain.PermissionSet, error) {
	return s.effectiveFn(ctx, userID)
}

func (s *stubRBAC) HasPermission(ctx context.Context, userID, action, resource string) (bool, error) {
	return s.hasPermissionFn(ctx, userID, action, resource)
}

func (s *stubRBAC) CreateRole(ctx context.Context, name, description string, keys []string) (*domain.Role, error) {
	return s.createRoleFn(ctx, name, description, keys)
}

func (s *stubRBAC) GrantPermissions(ctx context.Context, roleID string, keys []string) (*domain.Role, error) {
	return s.grantFn(ctx, roleID, keys)
}

func (s *stubRBAC) RevokePermission(ctx context.Context, roleID, key string) (*domain.Role, error) {
	return s.revokeFn(ctx, roleID, key)
}

func (s *stubRBAC) UpdateRole(ctx context.Context, roleID string, upd ports.RoleUpdate) (*domain.Role, error) {
	return s.updateRoleFn(ctx, roleID, upd)
}

func (s *stubRBAC) SeedDefaults(ctx context.Context) error {
	return s.seedFn(ctx)
}

func (s *stubRBAC) DeleteRole(ctx context.Context, roleID string) error {
	return s.deleteRoleFn(ctx, roleID)
}

func (s *stubRBAC) CreatePermission(ctx context.Context, perm domain.Permission) error {
	return s.createPermFn(ctx, perm)
}

func (s *stubRBAC) ListPermissions(ctx context.Context) ([]domain.Permission, error) {
	return s.listPermsFn(ctx)
}

func (s *stubRBAC) AssignRole(ctx context.Context, userID, roleID, actorID string) error {
	return s.assignFn(ctx, userID, roleID, actorID)
}

func (s *stubRBAC) UnassignRole(ctx context.Context, userID, roleID, actorID string) error {
	return s.unassignFn(ctx, userID, roleID, actorID)
}

type stubAudit struct {
	events    []domain.AuditEvent
	lastLimit int64
}

func (s *stubAudit) ListForUser(_ context.Context, _ string, limit int64) ([]domain.AuditEvent, error) {
	s.lastLimit = limit
	return s.events, nil
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func TestRBACHandler_CreateUser_PassesRolesAndActor(t *testing.T) {
	accounts := &stubAccounts{
		registerFn: func(ctx context.Context, in ports.RegisterInput) (*domain.User, error) {
			if in.CreatedBy != "admin-1" {
				t.Fatalf("expected actor admin-1, got %q", in.CreatedBy)
			}
			if len(in.Roles) != 1 || in.Roles[0] != "Inputter" {
				t.Fatalf("expected [Inputter], got %v", in.Roles)
			}
			return &domain.User{ID: "u2", Username: in.Username}, nil
		},
	}
	h := NewRBACHandler(accounts, &stubRBAC{}, &stubAudit{})

	c, rec := newTestContext(http.MethodPost, "/rbac/users",
		`{"username":"ivan","email":"ivan@example.com","password":"password123","roles":["Inputter"]}`,
		callerContext("admin-1"))

	if err := h.CreateUser(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
}

func TestRBACHandler_CreateUser_ValidatesEmbeddedFields(t *testing.T) {
	h := NewRBACHandler(&stubAccounts{}, &stubRBAC{}, &stubAudit{})

	c, _ := newTestContext(http.MethodPost, "/rbac/users", `{"username":"ivan","password":"password123"}`, callerContext("admin-1"))
	expectHTTPError(t, h.CreateUser(c), http.StatusBadRequest)
}

func TestRBACHandler_ListUsers_EmptyIsArray(t *testing.T) {
	accounts := &stubAccounts{
		listUsersFn: func(ctx context.Context) ([]*domain.User, error) { return nil, nil },
	}
	h := NewRBACHandler(accounts, &stubRBAC{}, &stubAudit{})

	c, rec := newTestContext(http.MethodGet, "/rbac/users", "", callerContext("admin-1"))
	if err := h.ListUsers(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %s", rec.Body.String())
	}
}

func TestRBACHandler_DeactivateUser_UsesCallerAsActor(t *testing.T) {
	accounts := &stubAccounts{
		deactivateFn: func(ctx context.Context, userID, actorID string) error {
			if userID != "u2" || actorID != "admin-1" {
				t.Fatalf("unexpected args: %s %s", userID, actorID)
			}
			return nil
		},
	}
	h := NewRBACHandler(accounts, &stubRBAC{}, &stubAudit{})

	c, rec := newTestContext(http.MethodPost, "/rbac/users/u2/deactivate", "", callerContext("admin-1"))
	c.SetParamNames("id")
	c.SetParamValues("u2")

	if err := h.DeactivateUser(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRBACHandler_GetUser_NotFound(t *testing.T) {
	accounts := &stubAccounts{
		getUserFn: func(ctx context.Context, userID string) (*domain.User, error) { return nil, domain.ErrNotFound },
	}
	h := NewRBACHandler(accounts, &stubRBAC{}, &stubAudit{})

	c, _ := newTestContext(http.MethodGet, "/rbac/users/ghost", "", callerContext("admin-1"))
	c.SetParamNames("id")
	c.SetParamValues("ghost")

	if err := h.GetUser(c); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRBACHandler_AssignAndUnassignRole(t *testing.T) {
	var assigned, unassigned string
	rbac := &stubRBAC{
		assignFn: func(ctx context.Context, userID, roleID, actorID string) error {
			assigned = userID + "/" + roleID + "/" + actorID
			return nil
		},
		unassignFn: func(ctx context.Context, userID, roleID, actorID string) error {
			unassigned = userID + "/" + roleID + "/" + actorID
			return nil
		},
	}
	h := NewRBACHandler(&stubAccounts{}, rbac, &stubAudit{})

	c, rec := newTestContext(http.MethodPost, "/rbac/users/u2/roles", `{"role_id":"r1"}`, callerContext("admin-1"))
	c.SetParamNames("id")
	c.SetParamValues("u2")
	if err := h.AssignRole(c); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if assigned != "u2/r1/admin-1" || rec.Code != http.StatusOK {
		t.Fatalf("unexpected assignment %q (%d)", assigned, rec.Code)
	}

	c, rec = newTestContext(http.MethodDelete, "/rbac/users/u2/roles/r1", "", callerContext("admin-1"))
	c.SetParamNames("id", "role_id")
	c.SetParamValues("u2", "r1")
	if err := h.UnassignRole(c); err != nil {
		t.Fatalf("unassign: %v", err)
	}
	if unassigned != "u2/r1/admin-1" || rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected unassignment %q (%d)", unassigned, rec.Code)
	}
}

func TestRBACHandler_UserPermissions(t *testing.T) {
	rbac := &stubRBAC{
		effectiveFn: func(ctx context.Context, userID string) (domain.PermissionSet, error) {
			return domain.NewPermissionSet(domain.NewPermission("update", "customer"), domain.NewPermission("read", "customer")), nil
		},
	}
	h := NewRBACHandler(&stubAccounts{}, rbac, &stubAudit{})

	c, rec := newTestContext(http.MethodGet, "/rbac/users/u2/permissions", "", callerContext("admin-1"))
	c.SetParamNames("id")
	c.SetParamValues("u2")
	if err := h.UserPermissions(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	var resp permissionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.UserID != "u2" || strings.Join(resp.Permissions, ",") != "read:customer,update:customer" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestRBACHandler_UserAudit(t *testing.T) {
	audit := &stubAudit{events: []domain.AuditEvent{{
		Type:       domain.AuditRoleAssigned,
		UserID:     "u2",
		ActorID:    "admin-1",
		Outcome:    domain.OutcomeSuccess,
		OccurredAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}}}
	h := NewRBACHandler(&stubAccounts{}, &stubRBAC{}, audit)

	c, rec := newTestContext(http.MethodGet, "/rbac/users/u2/audit?limit=10", "", callerContext("admin-1"))
	c.SetParamNames("id")
	c.SetParamValues("u2")
	if err := h.UserAudit(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if audit.lastLimit != 10 {
		t.Fatalf("expected limit 10, got %d", audit.lastLimit)
	}
	if !strings.Contains(rec.Body.String(), `"type":"role_assigned"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}

	c, _ = newTestContext(http.MethodGet, "/rbac/users/u2/audit", "", callerContext("admin-1"))
	if err := h.UserAudit(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if audit.lastLimit != defaultAuditLimit {
		t.Fatalf("expected default limit, got %d", audit.lastLimit)
	}

	c, _ = newTestContext(http.MethodGet, "/rbac/users/u2/audit?limit=abc", "", callerContext("admin-1"))
	expectHTTPError(t, h.UserAudit(c), http.StatusBadRequest)
}

// ---------------------------------------------------------------------------
// Roles and permissions
// ---------------------------------------------------------------------------

func TestRBACHandler_CreateRole(t *testing.T) {
	rbac := &stubRBAC{
		createRoleFn: func(ctx context.Context, name, description string, keys []string) (*domain.Role, error) {
			if name != "editor" || len(keys) != 2 {
				t.Fatalf("unexpected args: %s %v", name, keys)
			}
			return &domain.Role{ID: "r9", Name: name}, nil
		},
	}
	h := NewRBACHandler(&stubAccounts{}, rbac, &stubAudit{})

	c, rec := newTestContext(http.MethodPost, "/rbac/roles",
		`{"name":"editor","permissions":["update:customer","read:customer"]}`, callerContext("admin-1"))
	if err := h.CreateRole(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
}

func TestRBACHandler_CreateRole_UnknownPermission(t *testing.T) {
	rbac := &stubRBAC{
		createRoleFn: func(ctx context.Context, name, description string, keys []string) (*domain.Role, error) {
			return nil, domain.ErrInvalidInput
		},
	}
	h := NewRBACHandler(&stubAccounts{}, rbac, &stubAudit{})

	c, _ := newTestContext(http.MethodPost, "/rbac/roles", `{"name":"ghost","permissions":["fly:spaceship"]}`, callerContext("admin-1"))
	if err := h.CreateRole(c); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRBACHandler_GrantRequiresPermissions(t *testing.T) {
	rbac := &stubRBAC{
		grantFn: func(ctx context.Context, roleID string, keys []string) (*domain.Role, error) {
			t.Fatalf("should not be called")
			return nil, nil
		},
	}
	h := NewRBACHandler(&stubAccounts{}, rbac, &stubAudit{})

	c, _ := newTestContext(http.MethodPost, "/rbac/roles/r1/permissions", `{"permissions":[]}`, callerContext("admin-1"))
	c.SetParamNames("id")
	c.SetParamValues("r1")
	expectHTTPError(t, h.GrantPermissions(c), http.StatusBadRequest)
}

func TestRBACHandler_RevokeAndDelete(t *testing.T) {
	rbac := &stubRBAC{
		revokeFn: func(ctx context.Context, roleID, key string) (*domain.Role, error) {
			if roleID != "r1" || key != "delete:customer" {
				t.Fatalf("unexpected args: %s %s", roleID, key)
			}
			return &domain.Role{ID: roleID}, nil
		},
		deleteRoleFn: func(ctx context.Context, roleID string) error {
			if roleID != "r1" {
				return domain.ErrNotFound
			}
			return nil
		},
	}
	h := NewRBACHandler(&stubAccounts{}, rbac, &stubAudit{})

	c, rec := newTestContext(http.MethodDelete, "/rbac/roles/r1/permissions/delete:customer", "", callerContext("admin-1"))
	c.SetParamNames("id", "key")
	c.SetParamValues("r1", "delete:customer")
	if err := h.RevokePermission(c); err != nil || rec.Code != http.StatusOK {
		t.Fatalf("revoke: %v (%d)", err, rec.Code)
	}

	c, rec = newTestContext(http.MethodDelete, "/rbac/roles/r1", "", callerContext("admin-1"))
	c.SetParamNames("id")
	c.SetParamValues("r1")
	if err := h.DeleteRole(c); err != nil || rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %v (%d)", err, rec.Code)
	}

	c, _ = newTestContext(http.MethodDelete, "/rbac/roles/r2", "", callerContext("admin-1"))
	c.SetParamNames("id")
	c.SetParamValues("r2")
	if err := h.DeleteRole(c); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRBACHandler_CreatePermission_Normalizes(t *testing.T) {
	var got domain.Permission
	rbac := &stubRBAC{
		createPermFn: func(ctx context.Context, perm domain.Permission) error {
			got = perm
			return nil
		},
	}
	h := NewRBACHandler(&stubAccounts{}, rbac, &stubAudit{})

	c, rec := newTestContext(http.MethodPost, "/rbac/permissions", `{"action":" Export ","resource":"Report"}`, callerContext("admin-1"))
	if err := h.CreatePermission(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if got.Key() != "export:report" || rec.Code != http.StatusCreated {
		t.Fatalf("unexpected permission %q (%d)", got.Key(), rec.Code)
	}
}

func TestRBACHandler_Check(t *testing.T) {
	rbac := &stubRBAC{
		hasPermissionFn: func(ctx context.Context, userID, action, resource string) (bool, error) {
			if userID == "ghost" {
				return false, domain.ErrNotFound
			}
			return action == "update" && resource == "customer", nil
		},
	}
	h := NewRBACHandler(&stubAccounts{}, rbac, &stubAudit{})

	tests := []struct {
		name    string
		body    string
		allowed bool
	}{
		{"granted", `{"user_id":"u1","action":"update","resource":"customer"}`, true},
		{"not granted", `{"user_id":"u1","action":"delete","resource":"customer"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newTestContext(http.MethodPost, "/rbac/check", tt.body, callerContext("admin-1"))
			if err := h.Check(c); err != nil {
				t.Fatalf("handler error: %v", err)
			}
			var resp checkResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if resp.Allowed != tt.allowed {
				t.Fatalf("expected allowed=%v, got %+v", tt.allowed, resp)
			}
		})
	}

	c, _ := newTestContext(http.MethodPost, "/rbac/check", `{"user_id":"ghost","action":"read","resource":"customer"}`, callerContext("admin-1"))
	if err := h.Check(c); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRBACHandler_UpdateUser_UsesPathAndCaller(t *testing.T) {
	accounts := &stubAccounts{
		updateProfileFn: func(ctx context.Context, userID, actorID string, upd ports.ProfileUpdate) (*domain.User, error) {
			if userID != "u2" || actorID != "admin-1" {
				t.Fatalf("unexpected args: %s %s", userID, actorID)
			}
			if upd.Department == nil || *upd.Department != "Sales" {
				t.Fatalf("unexpected update: %+v", upd)
			}
			return &domain.User{ID: userID, Department: *upd.Department}, nil
		},
	}
	h := NewRBACHandler(accounts, &stubRBAC{}, &stubAudit{})

	c, rec := newTestContext(http.MethodPut, "/rbac/users/u2", `{"department":"Sales"}`, callerContext("admin-1"))
	c.SetParamNames("id")
	c.SetParamValues("u2")
	if err := h.UpdateUser(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRBACHandler_UpdateRole(t *testing.T) {
	rbac := &stubRBAC{
		updateRoleFn: func(ctx context.Context, roleID string, upd ports.RoleUpdate) (*domain.Role, error) {
			if roleID != "r1" || upd.Name == nil || *upd.Name != "Auditor" || upd.Description != nil {
				t.Fatalf("unexpected args: %s %+v", roleID, upd)
			}
			return &domain.Role{ID: roleID, Name: *upd.Name}, nil
		},
	}
	h := NewRBACHandler(&stubAccounts{}, rbac, &stubAudit{})

	c, rec := newTestContext(http.MethodPut, "/rbac/roles/r1", `{"name":"Auditor"}`, callerContext("admin-1"))
	c.SetParamNames("id")
	c.SetParamValues("r1")
	if err := h.UpdateRole(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var role domain.Role
	if err := json.Unmarshal(rec.Body.Bytes(), &role); err != nil || role.Name != "Auditor" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestRBACHandler_Initialize_SeedsDefaults(t *testing.T) {
	var seeded int
	rbac := &stubRBAC{
		seedFn: func(ctx context.Context) error {
			seeded++
			return nil
		},
	}
	h := NewRBACHandler(&stubAccounts{}, rbac, &stubAudit{})

	c, rec := newTestContext(http.MethodPost, "/rbac/initialize", "", callerContext("admin-1"))
	if err := h.Initialize(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK || seeded != 1 {
		t.Fatalf("expected one seed and 200, got %d seeds and %d", seeded, rec.Code)
	}
}
