package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/propeval/access-core/internal/api/metrics"
	"github.com/propeval/access-core/internal/core/domain"
	"github.com/propeval/access-core/internal/core/ports"
)

type AuthHandler struct {
	accounts ports.AccountService
	rbac     ports.RBACService
}

func NewAuthHandler(accounts ports.AccountService, rbac ports.RBACService) *AuthHandler {
	return &AuthHandler{accounts: accounts, rbac: rbac}
}

// Register creates a new user account. Self-registration never carries roles.
//
// @Summary      Register a new user
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      registerRequest  true  "User registration details"
// @Success      201   {object}  domain.User
// @Failure      400   {object}  errorResponse
// @Failure      409   {object}  errorResponse
// @Failure      503   {object}  errorResponse
// @Router       /auth/register [post]
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := h.accounts.Register(c.Request().Context(), ports.RegisterInput{
		Username:   req.Username,
		Email:      req.Email,
		Password:   req.Password,
		FullName:   req.FullName,
		Department: req.Department,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, user)
}

// Login authenticates a user and returns an access/refresh token pair.
//
// @Summary      Login
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      loginRequest  true  "Login credentials (username or email)"
// @Success      200   {object}  tokenResponse
// @Failure      400   {object}  errorResponse
// @Failure      401   {object}  errorResponse
// @Failure      503   {object}  errorResponse
// @Router       /auth/login [post]
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	pair, user, err := h.accounts.Login(c.Request().Context(), req.Username, req.Password)
	switch {
	case err == nil:
		metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
	case errors.Is(err, domain.ErrInvalidCredentials):
		metrics.LoginAttemptsTotal.WithLabelValues("invalid_credentials").Inc()
		return err
	default:
		metrics.LoginAttemptsTotal.WithLabelValues("error").Inc()
		return err
	}

	return c.JSON(http.StatusOK, tokenResponse{TokenPair: pair, User: user})
}

// Refresh exchanges a refresh token for a new pair. The presented refresh
// token is consumed; presenting it again revokes every session of the user.
//
// @Summary      Refresh tokens
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      refreshRequest  true  "Refresh token"
// @Success      200   {object}  tokenResponse
// @Failure      400   {object}  errorResponse
// @Failure      401   {object}  errorResponse
// @Router       /auth/refresh [post]
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	pair, err := h.accounts.Refresh(c.Request().Context(), req.RefreshToken)
	metrics.RefreshTotal.WithLabelValues(metrics.AuthOutcome(err)).Inc()
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, tokenResponse{TokenPair: pair})
}

// ChangePassword replaces the caller's password and revokes all of their tokens.
//
// @Summary      Change password
// @Tags         auth
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      changePasswordRequest  true  "Current and new password"
// @Success      200   {object}  messageResponse
// @Failure      400   {object}  errorResponse
// @Failure      401   {object}  errorResponse
// @Router       /auth/change-password [post]
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	ac, err := authContext(c)
	if err != nil {
		return err
	}
	var req changePasswordRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if err := h.accounts.ChangePassword(c.Request().Context(), ac.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "password changed; sign in again"})
}

// LogoutAll revokes every token issued to the caller.
//
// @Summary      Log out everywhere
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  messageResponse
// @Failure      401  {object}  errorResponse
// @Router       /auth/logout-all [post]
func (h *AuthHandler) LogoutAll(c echo.Context) error {
	ac, err := authContext(c)
	if err != nil {
		return err
	}
	if err := h.accounts.LogoutAll(c.Request().Context(), ac.UserID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "all sessions revoked"})
}

// Me returns the caller together with their roles and effective permissions.
//
// @Summary      Current user
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  meResponse
// @Failure      401  {object}  errorResponse
// @Router       /auth/me [get]
func (h *AuthHandler) Me(c echo.Context) error {
	ac, err := authContext(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	user, err := h.accounts.GetUser(ctx, ac.UserID)
	if err != nil {
		return err
	}
	roles, err := h.rbac.RolesOf(ctx, ac.UserID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, meResponse{
		User:        user,
		Roles:       roleNames(roles),
		Permissions: ac.PermissionKeys(),
	})
}

// UpdateProfile changes the caller's email, full name or department.
//
// @Summary      Update own profile
// @Tags         auth
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      updateProfileRequest  true  "Fields to change"
// @Success      200   {object}  domain.User
// @Failure      400   {object}  errorResponse
// @Failure      401   {object}  errorResponse
// @Failure      409   {object}  errorResponse
// @Router       /auth/profile [put]
func (h *AuthHandler) UpdateProfile(c echo.Context) error {
	ac, err := authContext(c)
	if err != nil {
		return err
	}
	var req updateProfileRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := h.accounts.UpdateProfile(c.Request().Context(), ac.UserID, ac.UserID, req.toPort())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, user)
}

// DeleteProfile deactivates the caller's own account, revoking its tokens.
//
// @Summary      Deactivate own account
// @Tags         auth
// @Security     BearerAuth
// @Success      204
// @Failure      401  {object}  errorResponse
// @Router       /auth/profile [delete]
func (h *AuthHandler) DeleteProfile(c echo.Context) error {
	ac, err := authContext(c)
	if err != nil {
		return err
	}
	if err := h.accounts.Deactivate(c.Request().Context(), ac.UserID, ac.UserID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// bindAndValidate decodes the body into req and runs struct validation.
func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}
