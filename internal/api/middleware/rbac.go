package middleware

import (
	"errors"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/propeval/access-core/internal/api/metrics"
	"github.com/propeval/access-core/internal/core/domain"
	"github.com/propeval/access-core/internal/core/ports"
)

// Require enforces (action, resource) on the route. When Authenticate already
// ran for the request its AuthContext is reused; otherwise the guard checks
// the bearer token itself.
func Require(guard ports.Authorizer, action, resource string) echo.MiddlewareFunc {
	perm := domain.NewPermission(action, resource)
	return guarded(perm.Key(), func(_ echo.Context, ac *domain.AuthContext) error {
		return forbidUnless(ac.Can(perm.Action, perm.Resource))
	}, func(c echo.Context, token string) (*domain.AuthContext, error) {
		return guard.Require(c.Request().Context(), token, perm.Action, perm.Resource)
	})
}

// RequireAny admits the request when the caller holds at least one of perms.
func RequireAny(guard ports.Authorizer, perms ...domain.Permission) echo.MiddlewareFunc {
	keys := make([]string, 0, len(perms))
	for _, p := range perms {
		keys = append(keys, p.Key())
	}
	return guarded(strings.Join(keys, "|"), func(_ echo.Context, ac *domain.AuthContext) error {
		for _, p := range perms {
			if ac.Can(p.Action, p.Resource) {
				return nil
			}
		}
		return domain.ErrForbidden
	}, func(c echo.Context, token string) (*domain.AuthContext, error) {
		return guard.RequireAny(c.Request().Context(), token, perms...)
	})
}

// RequireRole admits the request when the caller currently holds at least one
// of roles. Role membership is looked up on every request.
func RequireRole(guard ports.Authorizer, roles ...string) echo.MiddlewareFunc {
	return guarded("role:"+strings.Join(roles, "|"), func(c echo.Context, ac *domain.AuthContext) error {
		return guard.CheckRoles(c.Request().Context(), ac, roles...)
	}, func(c echo.Context, token string) (*domain.AuthContext, error) {
		return guard.RequireAnyRole(c.Request().Context(), token, roles...)
	})
}

func forbidUnless(ok bool) error {
	if !ok {
		return domain.ErrForbidden
	}
	return nil
}

// guarded runs authorize against an AuthContext already attached by
// Authenticate, or falls back to check with the bearer token.
func guarded(
	label string,
	authorize func(c echo.Context, ac *domain.AuthContext) error,
	check func(c echo.Context, token string) (*domain.AuthContext, error),
) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if ac, ok := domain.AuthContextFrom(c.Request().Context()); ok {
				if err := authorize(c, ac); err != nil {
					if errors.Is(err, domain.ErrForbidden) {
						metrics.AuthorizationDecisionsTotal.WithLabelValues(label, "deny").Inc()
					}
					return err
				}
				metrics.AuthorizationDecisionsTotal.WithLabelValues(label, "allow").Inc()
				return next(c)
			}

			token, err := bearerToken(c)
			if err != nil {
				return err
			}
			ac, err := check(c, token)
			switch {
			case err == nil:
				metrics.AuthorizationDecisionsTotal.WithLabelValues(label, "allow").Inc()
			case errors.Is(err, domain.ErrForbidden):
				metrics.AuthorizationDecisionsTotal.WithLabelValues(label, "deny").Inc()
				return err
			default:
				metrics.TokenValidationsTotal.WithLabelValues(metrics.AuthOutcome(err)).Inc()
				return err
			}

			attach(c, ac)
			return next(c)
		}
	}
}
