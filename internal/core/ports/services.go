package ports

import (
	"context"

	"github.com/propeval/access-core/internal/core/domain"
)

// RegisterInput carries the data of a new account. Roles may only be set by
// an administrator; the public registration path leaves it empty.
type RegisterInput struct {
	Username   string
	Email      string
	Password   string
	FullName   string
	Department string
	Roles      []string
	CreatedBy  string
}

// ProfileUpdate lists the profile fields to change; nil fields are left as they are.
type ProfileUpdate struct {
	Email      *string
	FullName   *string
	Department *string
}

// Empty reports whether the update changes nothing.
func (u ProfileUpdate) Empty() bool {
	return u.Email == nil && u.FullName == nil && u.Department == nil
}

// Fields names the fields the update sets, for audit metadata.
func (u ProfileUpdate) Fields() []string {
	var out []string
	if u.Email != nil {
		out = append(out, "email")
	}
	if u.FullName != nil {
		out = append(out, "full_name")
	}
	if u.Department != nil {
		out = append(out, "department")
	}
	return out
}

// RoleUpdate lists the role attributes to change; nil fields are left as they are.
type RoleUpdate struct {
	Name        *string
	Description *string
}

// Empty reports whether the update changes nothing.
func (u RoleUpdate) Empty() bool {
	return u.Name == nil && u.Description == nil
}

// AccountService is the account lifecycle consumed by the HTTP layer.
type AccountService interface {
	Register(ctx context.Context, in RegisterInput) (*domain.User, error)
	Login(ctx context.Context, identifier, password string) (*domain.TokenPair, *domain.User, error)
	Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error)
	ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error
	UpdateProfile(ctx context.Context, userID, actorID string, upd ProfileUpdate) (*domain.User, error)
	Deactivate(ctx context.Context, userID, actorID string) error
	LogoutAll(ctx context.Context, userID string) error
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]*domain.User, error)
}

// TokenValidator validates tokens and reports the user state the check was made against.
type TokenValidator interface {
	ValidateSession(ctx context.Context, token string) (*domain.Claims, domain.UserState, error)
}

// PermissionResolver computes effective permissions for an already-resolved user.
type PermissionResolver interface {
	PermissionsFor(ctx context.Context, state domain.UserState) (domain.PermissionSet, error)
}

// RoleResolver reports the names of the roles currently assigned to a user.
type RoleResolver interface {
	RoleNames(ctx context.Context, userID string) ([]string, error)
}

// Authorizer is the request-time enforcement point.
type Authorizer interface {
	Authenticate(ctx context.Context, token string) (*domain.AuthContext, error)
	Require(ctx context.Context, token, action, resource string) (*domain.AuthContext, error)
	RequireAny(ctx context.Context, token string, perms ...domain.Permission) (*domain.AuthContext, error)
	RequireAll(ctx context.Context, token string, perms ...domain.Permission) (*domain.AuthContext, error)
	RequireRole(ctx context.Context, token, role string) (*domain.AuthContext, error)
	RequireAnyRole(ctx context.Context, token string, roles ...string) (*domain.AuthContext, error)
	// CheckRoles verifies an already authenticated caller against its current
	// role assignments.
	CheckRoles(ctx context.Context, ac *domain.AuthContext, roles ...string) error
}

// RBACService is the role and permission administration surface.
type RBACService interface {
	EffectivePermissions(ctx context.Context, userID string) (domain.PermissionSet, error)
	HasPermission(ctx context.Context, userID, action, resource string) (bool, error)
	SeedDefaults(ctx context.Context) error

	CreateRole(ctx context.Context, name, description string, permissionKeys []string) (*domain.Role, error)
	GetRole(ctx context.Context, roleID string) (*domain.Role, error)
	ListRoles(ctx context.Context) ([]*domain.Role, error)
	UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (*domain.Role, error)
	DeleteRole(ctx context.Context, roleID string) error
	GrantPermissions(ctx context.Context, roleID string, permissionKeys []string) (*domain.Role, error)
	RevokePermission(ctx context.Context, roleID, permissionKey string) (*domain.Role, error)

	CreatePermission(ctx context.Context, perm domain.Permission) error
	ListPermissions(ctx context.Context) ([]domain.Permission, error)

	AssignRole(ctx context.Context, userID, roleID, actorID string) error
	UnassignRole(ctx context.Context, userID, roleID, actorID string) error
	RolesOf(ctx context.Context, userID string) ([]*domain.Role, error)
}
