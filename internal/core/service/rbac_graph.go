package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/propeval/access-core/internal/core/domain"
	"github.com/propeval/access-core/internal/core/ports"
)

// RBACGraph answers "does user U hold (action, resource)?" from the
// user→role→permission graph and administers that graph.
type RBACGraph struct {
	roles  ports.RoleRepository
	perms  ports.PermissionRepository
	states *UserStates
	cache  ports.SessionCache
	audit  ports.AuditSink
	log    zerolog.Logger
	now    func() time.Time
}

// NewRBACGraph builds the graph. cache and audit may be nil.
func NewRBACGraph(
	roles ports.RoleRepository,
	perms ports.PermissionRepository,
	states *UserStates,
	cache ports.SessionCache,
	audit ports.AuditSink,
	log zerolog.Logger,
) *RBACGraph {
	return &RBACGraph{
		roles:  roles,
		perms:  perms,
		states: states,
		cache:  cache,
		audit:  audit,
		log:    log,
		now:    time.Now,
	}
}

// EffectivePermissions returns the union of the permissions of every role
// assigned to userID. Deactivated users get the empty set.
func (g *RBACGraph) EffectivePermissions(ctx context.Context, userID string) (domain.PermissionSet, error) {
	state, err := g.states.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	return g.PermissionsFor(ctx, state)
}

// PermissionsFor is EffectivePermissions for a user whose state is already known.
func (g *RBACGraph) PermissionsFor(ctx context.Context, state domain.UserState) (domain.PermissionSet, error) {
	if !state.Active {
		return domain.PermissionSet{}, nil
	}

	var stamp ports.CacheStamp
	cacheUsable := g.cache != nil
	if cacheUsable {
		set, st, found, err := g.cache.Permissions(ctx, state.UserID)
		switch {
		case err != nil:
			g.log.Warn().Err(err).Str("user_id", state.UserID).Msg("permission cache read failed")
			cacheUsable = false
		case found:
			return set, nil
		default:
			stamp = st
		}
	}

	roles, err := g.roles.RolesForUser(ctx, state.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve permissions: %w", err)
	}
	set := domain.UnionOf(roles)

	// The stamp was taken before the roles were read; a change committed in
	// between has moved a generation and the fill is discarded.
	if cacheUsable {
		if err := g.cache.PutPermissions(ctx, state.UserID, stamp, set); err != nil {
			g.log.Warn().Err(err).Str("user_id", state.UserID).Msg("permission cache fill failed")
		}
	}
	return set, nil
}

// HasPermission reports whether userID currently holds (action, resource).
func (g *RBACGraph) HasPermission(ctx context.Context, userID, action, resource string) (bool, error) {
	set, err := g.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.Has(action, resource), nil
}

// SeedDefaults upserts the baseline permission catalogue and roles. It is safe
// to run on every startup, concurrently from several processes. Existing
// grants are never removed; the administrative role is topped up with every
// baseline permission, the other roles only receive theirs when first created.
func (g *RBACGraph) SeedDefaults(ctx context.Context) error {
	all := baselinePermissions()
	if err := g.perms.Ensure(ctx, all); err != nil {
		return fmt.Errorf("seed permissions: %w", err)
	}

	for _, r := range baselineRoles {
		var topUp []domain.Permission
		if r.name == RoleAdmin {
			topUp = all
		}
		if _, err := g.roles.Ensure(ctx, r.name, r.description, r.permissionsFor(all), topUp); err != nil {
			return fmt.Errorf("seed role %s: %w", r.name, err)
		}
	}

	if err := g.invalidateAll(ctx); err != nil {
		return err
	}
	g.log.Info().Int("permissions", len(all)).Int("roles", len(baselineRoles)).Msg("rbac defaults ensured")
	return nil
}

// CreateRole creates a role granting the given "action:resource" keys.
func (g *RBACGraph) CreateRole(ctx context.Context, name, description string, permissionKeys []string) (*domain.Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", domain.ErrInvalidInput)
	}
	perms, err := g.resolveKeys(ctx, permissionKeys)
	if err != nil {
		return nil, err
	}
	now := g.now().UTC()
	return g.roles.Create(ctx, &domain.Role{
		Name:        name,
		Description: strings.TrimSpace(description),
		Permissions: perms,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (g *RBACGraph) GetRole(ctx context.Context, roleID string) (*domain.Role, error) {
	return g.roles.FindByID(ctx, roleID)
}

func (g *RBACGraph) ListRoles(ctx context.Context) ([]*domain.Role, error) {
	return g.roles.List(ctx)
}

// UpdateRole renames or re-describes a role. Its grants and assignments are
// untouched, so no cached permission set changes.
func (g *RBACGraph) UpdateRole(ctx context.Context, roleID string, upd ports.RoleUpdate) (*domain.Role, error) {
	if upd.Empty() {
		return nil, fmt.Errorf("%w: nothing to update", domain.ErrInvalidInput)
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: role name is required", domain.ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.Description != nil {
		desc := strings.TrimSpace(*upd.Description)
		upd.Description = &desc
	}
	return g.roles.Update(ctx, roleID, upd)
}

// DeleteRole removes the role and all its assignments.
func (g *RBACGraph) DeleteRole(ctx context.Context, roleID string) error {
	if err := g.roles.Delete(ctx, roleID); err != nil {
		return err
	}
	return g.invalidateAll(ctx)
}

// GrantPermissions adds permissions to a role. Unknown permissions are rejected.
func (g *RBACGraph) GrantPermissions(ctx context.Context, roleID string, permissionKeys []string) (*domain.Role, error) {
	perms, err := g.resolveKeys(ctx, permissionKeys)
	if err != nil {
		return nil, err
	}
	if len(perms) == 0 {
		return nil, fmt.Errorf("%w: at least one permission is required", domain.ErrInvalidInput)
	}
	role, err := g.roles.GrantPermissions(ctx, roleID, perms)
	if err != nil {
		return nil, err
	}
	if err := g.invalidateAll(ctx); err != nil {
		return role, err
	}
	return role, nil
}

// RevokePermission removes one permission from a role.
func (g *RBACGraph) RevokePermission(ctx context.Context, roleID, permissionKey string) (*domain.Role, error) {
	perm, ok := domain.ParsePermissionKey(permissionKey)
	if !ok {
		return nil, fmt.Errorf("%w: permission must be action:resource", domain.ErrInvalidInput)
	}
	role, err := g.roles.RevokePermission(ctx, roleID, perm)
	if err != nil {
		return nil, err
	}
	if err := g.invalidateAll(ctx); err != nil {
		return role, err
	}
	return role, nil
}

// CreatePermission adds (action, resource) to the catalogue.
func (g *RBACGraph) CreatePermission(ctx context.Context, perm domain.Permission) error {
	normalized := domain.NewPermission(perm.Action, perm.Resource)
	if normalized.Action == "" || normalized.Resource == "" {
		return fmt.Errorf("%w: action and resource are required", domain.ErrInvalidInput)
	}
	normalized.Description = strings.TrimSpace(perm.Description)
	return g.perms.Create(ctx, normalized)
}

func (g *RBACGraph) ListPermissions(ctx context.Context) ([]domain.Permission, error) {
	return g.perms.List(ctx)
}

// AssignRole gives roleID to userID. Re-assigning is a no-op.
func (g *RBACGraph) AssignRole(ctx context.Context, userID, roleID, actorID string) error {
	if _, err := g.states.Resolve(ctx, userID); err != nil {
		return err
	}
	if _, err := g.roles.FindByID(ctx, roleID); err != nil {
		return err
	}
	if err := g.roles.Assign(ctx, domain.UserRole{
		UserID:     userID,
		RoleID:     roleID,
		AssignedBy: actorID,
		AssignedAt: g.now().UTC(),
	}); err != nil {
		return err
	}
	g.emit(domain.AuditRoleAssigned, userID, actorID, roleID)
	return g.states.ForgetPermissions(ctx, userID)
}

// UnassignRole takes roleID away from userID.
func (g *RBACGraph) UnassignRole(ctx context.Context, userID, roleID, actorID string) error {
	if err := g.roles.Unassign(ctx, userID, roleID); err != nil {
		return err
	}
	g.emit(domain.AuditRoleUnassigned, userID, actorID, roleID)
	return g.states.ForgetPermissions(ctx, userID)
}

func (g *RBACGraph) RolesOf(ctx context.Context, userID string) ([]*domain.Role, error) {
	return g.roles.RolesForUser(ctx, userID)
}

// RoleNames returns the sorted names of the roles held by userID.
func (g *RBACGraph) RoleNames(ctx context.Context, userID string) ([]string, error) {
	roles, err := g.roles.RolesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	return names, nil
}

// resolveKeys parses "action:resource" keys and checks each exists in the catalogue.
func (g *RBACGraph) resolveKeys(ctx context.Context, keys []string) ([]domain.Permission, error) {
	seen := make(map[string]struct{}, len(keys))
	out := make([]domain.Permission, 0, len(keys))
	for _, key := range keys {
		perm, ok := domain.ParsePermissionKey(key)
		if !ok {
			return nil, fmt.Errorf("%w: permission %q must be action:resource", domain.ErrInvalidInput, key)
		}
		if _, dup := seen[perm.Key()]; dup {
			continue
		}
		seen[perm.Key()] = struct{}{}

		exists, err := g.perms.Exists(ctx, perm)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: unknown permission %s", domain.ErrInvalidInput, perm.Key())
		}
		out = append(out, perm)
	}
	return out, nil
}

// invalidateAll orphans every cached permission set. A failure is reported as
// ErrUnavailable since the committed change may not be visible until the
// entries expire.
func (g *RBACGraph) invalidateAll(ctx context.Context) error {
	if g.cache == nil {
		return nil
	}
	if err := g.cache.InvalidatePermissions(ctx); err != nil {
		g.log.Error().Err(err).Msg("permission cache invalidation failed")
		return fmt.Errorf("invalidate permissions: %w: %w", domain.ErrUnavailable, err)
	}
	return nil
}

func (g *RBACGraph) emit(t domain.AuditEventType, userID, actorID, roleID string) {
	if g.audit == nil {
		return
	}
	g.audit.Emit(domain.AuditEvent{
		Type:       t,
		UserID:     userID,
		ActorID:    actorID,
		Outcome:    domain.OutcomeSuccess,
		OccurredAt: g.now().UTC(),
		Metadata:   map[string]string{"role_id": roleID},
	})
}
