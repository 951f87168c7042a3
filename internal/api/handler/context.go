package handler

import (
	"github.com/labstack/echo/v4"

	"github.com/propeval/access-core/internal/core/domain"
)

// authContext returns the identity attached by the Authenticate or Require
// middleware. Its absence means the route was registered without a guard,
// which is reported as unauthenticated rather than trusted.
func authContext(c echo.Context) (*domain.AuthContext, error) {
	ac, ok := domain.AuthContextFrom(c.Request().Context())
	if !ok {
		return nil, domain.ErrUnauthenticated
	}
	return ac, nil
}
