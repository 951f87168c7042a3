package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/propeval/access-core/internal/api/metrics"
	"github.com/propeval/access-core/internal/core/domain"
	"github.com/propeval/access-core/internal/core/ports"
)

// Authenticate resolves the bearer token through the guard and attaches the
// resulting AuthContext to the request context.
func Authenticate(guard ports.Authorizer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, err := bearerToken(c)
			if err != nil {
				metrics.TokenValidationsTotal.WithLabelValues(metrics.AuthOutcome(err)).Inc()
				return err
			}

			ac, err := guard.Authenticate(c.Request().Context(), token)
			metrics.TokenValidationsTotal.WithLabelValues(metrics.AuthOutcome(err)).Inc()
			if err != nil {
				return err
			}

			attach(c, ac)
			return next(c)
		}
	}
}

// bearerToken extracts the token from "Authorization: Bearer <token>". A
// missing header yields an empty token; the guard reports it as missing.
func bearerToken(c echo.Context) (string, error) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if header == "" {
		return "", nil
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", domain.ErrTokenMalformed
	}
	return strings.TrimSpace(token), nil
}

func attach(c echo.Context, ac *domain.AuthContext) {
	req := c.Request()
	c.SetRequest(req.WithContext(domain.WithAuthContext(req.Context(), ac)))
}
