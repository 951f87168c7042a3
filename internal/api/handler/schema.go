package handler

import (
	"time"

	"github.com/propeval/access-core/internal/core/domain"
	"github.com/propeval/access-core/internal/core/ports"
)

type registerRequest struct {
	Username   string `json:"username"   validate:"required,max=64,excludes=@"`
	Email      string `json:"email"      validate:"required,email"`
	Password   string `json:"password"   validate:"required"`
	FullName   string `json:"full_name"  validate:"max=128"`
	Department string `json:"department" validate:"max=128"`
}

type createUserRequest struct {
	registerRequest
	Roles []string `json:"roles"`
}

type loginRequest struct {
	// Username accepts either the username or the email address.
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password"     validate:"required"`
}

// updateProfileRequest leaves absent fields unchanged.
type updateProfileRequest struct {
	Email      *string `json:"email"      validate:"omitempty,email"`
	FullName   *string `json:"full_name"  validate:"omitempty,max=128"`
	Department *string `json:"department" validate:"omitempty,max=128"`
}

func (r updateProfileRequest) toPort() ports.ProfileUpdate {
	return ports.ProfileUpdate{Email: r.Email, FullName: r.FullName, Department: r.Department}
}

type tokenResponse struct {
	*domain.TokenPair
	User *domain.User `json:"user,omitempty"`
}

type meResponse struct {
	User        *domain.User `json:"user"`
	Roles       []string     `json:"roles"`
	Permissions []string     `json:"permissions"`
}

type roleRequest struct {
	Name        string   `json:"name"        validate:"required,max=64"`
	Description string   `json:"description" validate:"max=256"`
	Permissions []string `json:"permissions"`
}

type updateRoleRequest struct {
	Name        *string `json:"name"        validate:"omitempty,max=64"`
	Description *string `json:"description" validate:"omitempty,max=256"`
}

type grantRequest struct {
	Permissions []string `json:"permissions" validate:"required,min=1"`
}

type permissionRequest struct {
	Action      string `json:"action"      validate:"required"`
	Resource    string `json:"resource"    validate:"required"`
	Description string `json:"description" validate:"max=256"`
}

type assignRoleRequest struct {
	RoleID string `json:"role_id" validate:"required"`
}

type checkRequest struct {
	UserID   string `json:"user_id"  validate:"required"`
	Action   string `json:"action"   validate:"required"`
	Resource string `json:"resource" validate:"required"`
}

type checkResponse struct {
	UserID     string `json:"user_id"`
	Permission string `json:"permission"`
	Allowed    bool   `json:"allowed"`
}

type permissionsResponse struct {
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions"`
}

type auditEventResponse struct {
	Type       domain.AuditEventType `json:"type"`
	ActorID    string                `json:"actor_id,omitempty"`
	Outcome    string                `json:"outcome"`
	OccurredAt time.Time             `json:"occurred_at"`
	Metadata   map[string]string     `json:"metadata,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func roleNames(roles []*domain.Role) []string {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return names
}
