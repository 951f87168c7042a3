package domain

import (
	"sort"
	"strings"
	"time"
)

// Permission is a capability to perform Action on Resource, e.g. (update, customer).
// The (Action, Resource) pair is globally unique.
type Permission struct {
	Action      string `json:"action"`
	Resource    string `json:"resource"`
	Description string `json:"description,omitempty"`
}

// Key returns the canonical "action:resource" identifier.
func (p Permission) Key() string {
	return p.Action + ":" + p.Resource
}

// NewPermission normalises action and resource to their canonical lower-case form.
func NewPermission(action, resource string) Permission {
	return Permission{
		Action:   strings.ToLower(strings.TrimSpace(action)),
		Resource: strings.ToLower(strings.TrimSpace(resource)),
	}
}

// ParsePermissionKey splits an "action:resource" key. ok is false when either
// half is empty.
func ParsePermissionKey(key string) (Permission, bool) {
	action, resource, found := strings.Cut(key, ":")
	if !found {
		return Permission{}, false
	}
	p := NewPermission(action, resource)
	if p.Action == "" || p.Resource == "" {
		return Permission{}, false
	}
	return p, true
}

// Role groups permissions. Users receive permissions only through roles.
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Permissions []Permission `json:"permissions"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// UserRole links a user to a role.
type UserRole struct {
	UserID     string    `json:"user_id"`
	RoleID     string    `json:"role_id"`
	AssignedBy string    `json:"assigned_by,omitempty"`
	AssignedAt time.Time `json:"assigned_at"`
}

// PermissionSet is an immutable-by-convention set of permission keys.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from the given permissions.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p.Key()] = struct{}{}
	}
	return set
}

// UnionOf returns the union of the permissions granted by roles.
func UnionOf(roles []*Role) PermissionSet {
	set := make(PermissionSet)
	for _, r := range roles {
		if r == nil {
			continue
		}
		for _, p := range r.Permissions {
			set[p.Key()] = struct{}{}
		}
	}
	return set
}

// Has reports whether (action, resource) is in the set.
func (s PermissionSet) Has(action, resource string) bool {
	_, ok := s[NewPermission(action, resource).Key()]
	return ok
}

// Keys returns the sorted permission keys.
func (s PermissionSet) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
