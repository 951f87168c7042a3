package ports

import (
	"context"

	"github.com/propeval/access-core/internal/core/domain"
)

// PermissionRepository persists the (action, resource) catalogue.
type PermissionRepository interface {
	// Ensure upserts every permission; existing rows are left untouched.
	Ensure(ctx context.Context, perms []domain.Permission) error
	Create(ctx context.Context, perm domain.Permission) error
	Exists(ctx context.Context, perm domain.Permission) (bool, error)
	List(ctx context.Context) ([]domain.Permission, error)
}

// RoleRepository persists roles, their permission grants and the user↔role association.
type RoleRepository interface {
	Create(ctx context.Context, role *domain.Role) (*domain.Role, error)
	// Ensure upserts a role by name. On insert it receives initial; when
	// topUp is non-empty those permissions are added whether or not the role
	// existed. Existing grants are never removed.
	Ensure(ctx context.Context, name, description string, initial, topUp []domain.Permission) (*domain.Role, error)
	FindByID(ctx context.Context, id string) (*domain.Role, error)
	FindByName(ctx context.Context, name string) (*domain.Role, error)
	List(ctx context.Context) ([]*domain.Role, error)
	// Update sets the non-nil fields of upd. A taken name yields domain.ErrConflict.
	Update(ctx context.Context, id string, upd RoleUpdate) (*domain.Role, error)
	// Delete removes the role and every assignment of it.
	Delete(ctx context.Context, id string) error

	GrantPermissions(ctx context.Context, roleID string, perms []domain.Permission) (*domain.Role, error)
	RevokePermission(ctx context.Context, roleID string, perm domain.Permission) (*domain.Role, error)

	// Assign is idempotent: assigning an existing pair is not an error.
	Assign(ctx context.Context, assignment domain.UserRole) error
	Unassign(ctx context.Context, userID, roleID string) error
	RolesForUser(ctx context.Context, userID string) ([]*domain.Role, error)
}
