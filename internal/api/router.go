package api

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"

	_ "github.com/propeval/access-core/docs"
	"github.com/propeval/access-core/internal/api/handler"
	"github.com/propeval/access-core/internal/api/middleware"
	"github.com/propeval/access-core/internal/core/domain"
	"github.com/propeval/access-core/internal/core/ports"
	"github.com/propeval/access-core/internal/core/service"
)

// Dependencies are the services the HTTP layer is built on.
type Dependencies struct {
	Accounts ports.AccountService
	RBAC     ports.RBACService
	Guard    ports.Authorizer
	Audit    ports.AuditReader
	Checks   map[string]handler.DependencyCheck
	Logger   zerolog.Logger
	// Docs mounts the swagger UI at /swagger/*.
	Docs bool
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(deps Dependencies) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = NewHTTPErrorHandler(deps.Logger)
	e.Validator = handler.NewValidator()

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(requestLogger(deps.Logger))
	e.Use(echoprometheus.NewMiddleware("access"))

	// --- Ops (no auth required) ---
	e.GET("/metrics", echoprometheus.NewHandler())
	if deps.Docs {
		e.GET("/swagger/*", echoSwagger.WrapHandler)
	}
	e.GET("/health", handler.Liveness)
	e.GET("/health/ready", handler.NewReadinessHandler(deps.Checks).Readiness)

	authn := middleware.Authenticate(deps.Guard)
	can := func(action, resource string) echo.MiddlewareFunc {
		return middleware.Require(deps.Guard, action, resource)
	}

	// --- Auth routes ---
	authHandler := handler.NewAuthHandler(deps.Accounts, deps.RBAC)
	auth := e.Group("/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/change-password", authHandler.ChangePassword, authn)
	auth.POST("/logout-all", authHandler.LogoutAll, authn)
	auth.GET("/me", authHandler.Me, authn)
	auth.PUT("/profile", authHandler.UpdateProfile, authn)
	auth.DELETE("/profile", authHandler.DeleteProfile, authn)

	// --- RBAC administration ---
	rbacHandler := handler.NewRBACHandler(deps.Accounts, deps.RBAC, deps.Audit)
	rbac := e.Group("/rbac", authn)

	readUsers := can("read", service.ResourceUserManagement)
	editUsers := can("edit", service.ResourceUserManagement)
	users := rbac.Group("/users")
	users.GET("", rbacHandler.ListUsers, readUsers)
	users.POST("", rbacHandler.CreateUser, editUsers)
	users.GET("/:id", rbacHandler.GetUser, readUsers)
	users.PUT("/:id", rbacHandler.UpdateUser, editUsers)
	users.POST("/:id/deactivate", rbacHandler.DeactivateUser, editUsers)
	users.GET("/:id/roles", rbacHandler.UserRoles, readUsers)
	users.POST("/:id/roles", rbacHandler.AssignRole, editUsers)
	users.DELETE("/:id/roles/:role_id", rbacHandler.UnassignRole, editUsers)
	users.GET("/:id/permissions", rbacHandler.UserPermissions, readUsers)
	users.GET("/:id/audit", rbacHandler.UserAudit, readUsers)

	readRoles := can("read", service.ResourceRoleManagement)
	editRoles := can("edit", service.ResourceRoleManagement)
	roles := rbac.Group("/roles")
	roles.GET("", rbacHandler.ListRoles, readRoles)
	roles.POST("", rbacHandler.CreateRole, editRoles)
	roles.GET("/:id", rbacHandler.GetRole, readRoles)
	roles.PUT("/:id", rbacHandler.UpdateRole, editRoles)
	roles.DELETE("/:id", rbacHandler.DeleteRole, editRoles)
	roles.POST("/:id/permissions", rbacHandler.GrantPermissions, editRoles)
	roles.DELETE("/:id/permissions/:key", rbacHandler.RevokePermission, editRoles)

	rbac.GET("/permissions", rbacHandler.ListPermissions, readRoles)
	rbac.POST("/permissions", rbacHandler.CreatePermission, editRoles)

	rbac.POST("/initialize", rbacHandler.Initialize, editRoles, middleware.RequireRole(deps.Guard, service.RoleAdmin))

	rbac.POST("/check", rbacHandler.Check, middleware.RequireAny(deps.Guard,
		domain.NewPermission("read", service.ResourceUserManagement),
		domain.NewPermission("read", service.ResourceRoleManagement),
	))

	return e
}

// requestLogger writes one structured line per request through zerolog.
func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Error != nil || v.Status >= 500 {
				ev = log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("path", v.URIPath).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	})
}
