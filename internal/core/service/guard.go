package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/propeval/access-core/internal/core/domain"
	"github.com/propeval/access-core/internal/core/ports"
)

// Guard is the per-request enforcement point. It is a pure read path: it
// validates the token, resolves the caller's permissions and returns a
// read-only AuthContext, or one of ErrUnauthenticated (and its token
// subtypes), ErrForbidden or ErrUnavailable.
type Guard struct {
	tokens ports.TokenValidator
	perms  ports.PermissionResolver
	roles  ports.RoleResolver
	log    zerolog.Logger
}

func NewGuard(tokens ports.TokenValidator, perms ports.PermissionResolver, roles ports.RoleResolver, log zerolog.Logger) *Guard {
	return &Guard{tokens: tokens, perms: perms, roles: roles, log: log}
}

// Authenticate resolves the identity behind token without checking any permission.
func (g *Guard) Authenticate(ctx context.Context, token string) (*domain.AuthContext, error) {
	if token == "" {
		return nil, domain.ErrMissingToken
	}

	claims, state, err := g.tokens.ValidateSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if claims.Kind != domain.TokenKindAccess {
		return nil, domain.ErrTokenMalformed
	}
	if !state.Active {
		return nil, domain.ErrInactiveUser
	}

	perms, err := g.perms.PermissionsFor(ctx, state)
	if err != nil {
		return nil, err
	}
	return domain.NewAuthContext(claims, state, perms), nil
}

// Require authorizes token for (action, resource).
func (g *Guard) Require(ctx context.Context, token, action, resource string) (*domain.AuthContext, error) {
	return g.RequireAll(ctx, token, domain.NewPermission(action, resource))
}

// RequireAny succeeds when the caller holds at least one of perms.
func (g *Guard) RequireAny(ctx context.Context, token string, perms ...domain.Permission) (*domain.AuthContext, error) {
	ac, err := g.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	for _, p := range perms {
		if ac.Can(p.Action, p.Resource) {
			return ac, nil
		}
	}
	g.deny(ac, perms)
	return nil, domain.ErrForbidden
}

// RequireAll succeeds when the caller holds every one of perms.
func (g *Guard) RequireAll(ctx context.Context, token string, perms ...domain.Permission) (*domain.AuthContext, error) {
	if len(perms) == 0 {
		return nil, errors.New("guard: no permission requested")
	}
	ac, err := g.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	for _, p := range perms {
		if !ac.Can(p.Action, p.Resource) {
			g.deny(ac, perms)
			return nil, domain.ErrForbidden
		}
	}
	return ac, nil
}

// RequireRole authorizes token when the caller currently holds role.
func (g *Guard) RequireRole(ctx context.Context, token, role string) (*domain.AuthContext, error) {
	return g.RequireAnyRole(ctx, token, role)
}

// RequireAnyRole authorizes token when the caller currently holds at least
// one of roles.
func (g *Guard) RequireAnyRole(ctx context.Context, token string, roles ...string) (*domain.AuthContext, error) {
	ac, err := g.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := g.CheckRoles(ctx, ac, roles...); err != nil {
		return nil, err
	}
	return ac, nil
}

// CheckRoles matches ac against the roles assigned right now. The role names
// carried in the token are a snapshot from issuance and are not consulted.
func (g *Guard) CheckRoles(ctx context.Context, ac *domain.AuthContext, roles ...string) error {
	if len(roles) == 0 {
		return errors.New("guard: no role requested")
	}
	held, err := g.roles.RoleNames(ctx, ac.UserID)
	if err != nil {
		return err
	}
	for _, h := range held {
		for _, r := range roles {
			if h == r {
				return nil
			}
		}
	}
	g.log.Debug().Str("user_id", ac.UserID).Strs("required_roles", roles).Msg("authorization denied")
	return domain.ErrForbidden
}

func (g *Guard) deny(ac *domain.AuthContext, perms []domain.Permission) {
	keys := make([]string, 0, len(perms))
	for _, p := range perms {
		keys = append(keys, p.Key())
	}
	g.log.Debug().Str("user_id", ac.UserID).Strs("required", keys).Msg("authorization denied")
}
