package domain

import "context"

// AuthContext is the resolved identity and permission set of one request.
// It is built by the guard and is read-only afterwards.
type AuthContext struct {
	UserID       string
	Username     string
	Roles        []string
	TokenID      string
	TokenVersion int64
	permissions  PermissionSet
}

// NewAuthContext copies perms so later mutation of the source set cannot leak in.
func NewAuthContext(claims *Claims, state UserState, perms PermissionSet) *AuthContext {
	own := make(PermissionSet, len(perms))
	for k := range perms {
		own[k] = struct{}{}
	}
	roles := make([]string, len(claims.Roles))
	copy(roles, claims.Roles)
	return &AuthContext{
		UserID:       state.UserID,
		Username:     state.Username,
		Roles:        roles,
		TokenID:      claims.ID,
		TokenVersion: claims.TokenVersion,
		permissions:  own,
	}
}

// Can reports whether the request identity holds (action, resource).
func (a *AuthContext) Can(action, resource string) bool {
	if a == nil {
		return false
	}
	return a.permissions.Has(action, resource)
}

// PermissionKeys returns the sorted permission keys of the identity.
func (a *AuthContext) PermissionKeys() []string {
	if a == nil {
		return nil
	}
	return a.permissions.Keys()
}

type authContextKey struct{}

// WithAuthContext attaches ac to ctx.
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, ac)
}

// AuthContextFrom extracts the AuthContext attached by the guard.
func AuthContextFrom(ctx context.Context) (*AuthContext, bool) {
	if ctx == nil {
		return nil, false
	}
	ac, ok := ctx.Value(authContextKey{}).(*AuthContext)
	return ac, ok && ac != nil
}
