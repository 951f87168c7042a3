// @title                       Access Core API
// @version                     1.0
// @description                 Authentication, token lifecycle and role-based access control for the property evaluation backend.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
// @description                 Type "Bearer" followed by a space and the access token.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/propeval/access-core/internal/api"
	"github.com/propeval/access-core/internal/api/handler"
	"github.com/propeval/access-core/internal/api/metrics"
	"github.com/propeval/access-core/internal/core/service"
	"github.com/propeval/access-core/internal/infrastructure/config"
	mongostore "github.com/propeval/access-core/internal/infrastructure/db/mongo"
	redisstore "github.com/propeval/access-core/internal/infrastructure/db/redis"
	"github.com/propeval/access-core/internal/infrastructure/queue"
	"github.com/propeval/access-core/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		// The logger is not configured yet; a bootstrap logger reports the failure.
		bootstrap := zerolog.New(os.Stderr)
		bootstrap.Fatal().Err(err).Msg("load configuration")
	}

	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  cfg.IsDevelopment(),
		Service: "access-core",
	})

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
	log.Info().Msg("server exited")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	// --- Storage ---
	mongoClient, db, err := mongostore.Connect(ctx, mongostore.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
	if err != nil {
		return err
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			log.Warn().Err(err).Msg("mongo disconnect")
		}
	}()
	if err := mongostore.EnsureIndexes(ctx, db); err != nil {
		return err
	}

	rdb, err := redisstore.Connect(ctx, redisstore.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		return err
	}
	defer rdb.Close()

	users := mongostore.NewUserRepository(db)
	roles := mongostore.NewRoleRepository(db)
	perms := mongostore.NewPermissionRepository(db)
	auditRepo := mongostore.NewAuditRepository(db)
	refresh := redisstore.NewRefreshTokenStore(rdb)
	cache := redisstore.NewSessionCache(rdb, cfg.Redis.SessionCacheTTL, metrics.ObserveCacheLookup)

	// --- Audit trail ---
	dispatcher := queue.NewDispatcher(cfg.Audit.Workers, auditRepo, log, queue.WithDropHandler(metrics.ObserveAuditDrop))
	dispatcher.Start(ctx)
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := dispatcher.Shutdown(drainCtx); err != nil {
			log.Warn().Err(err).Msg("audit queue not fully drained")
		}
	}()

	// --- Core services ---
	states := service.NewUserStates(users, cache, log)
	credentials, err := service.NewCredentialStore(users, states, cfg.Auth.BcryptCost, log)
	if err != nil {
		return err
	}
	graph := service.NewRBACGraph(roles, perms, states, cache, dispatcher, log)
	tokens, err := service.NewTokenService(cfg.Auth.JWTSecret, states, refresh, graph, credentials, log,
		service.WithAccessTTL(cfg.Auth.AccessTokenTTL),
		service.WithRefreshTTL(cfg.Auth.RefreshTokenTTL),
		service.WithIssuer(cfg.Auth.Issuer),
		service.WithAuditSink(dispatcher),
	)
	if err != nil {
		return err
	}
	guard := service.NewGuard(tokens, graph, graph, log)
	accounts := service.NewAccountService(users, roles, credentials, tokens, states, dispatcher, cfg.Auth.DefaultRole, log)

	if cfg.Auth.SeedOnStart {
		if err := graph.SeedDefaults(ctx); err != nil {
			return err
		}
		log.Info().Msg("baseline roles and permissions ensured")
	}

	// --- HTTP ---
	e := api.NewRouter(api.Dependencies{
		Accounts: accounts,
		RBAC:     graph,
		Guard:    guard,
		Audit:    auditRepo,
		Checks: map[string]handler.DependencyCheck{
			"mongodb": handler.MongoCheck(db),
			"redis":   handler.RedisCheck(rdb),
		},
		Logger: log,
		Docs:   cfg.IsDevelopment(),
	})

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down server")
	case err, ok := <-serverErr:
		if ok {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
