// @title           ChronoBill API
// @version         1.0.0
// @description     Time tracking and invoicing backend with Fortnox accounting integration
// @contact.name    Support
// @contact.email   support@example.com
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                         Authorization
// @description                  "Session JWT issued by /api/v1/auth/login. Format: 'Bearer {token}'"
//
// @tag.name         System
// @tag.description  Health, readiness, and version endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics and profiling are served on a dedicated side-channel port (default: 9090) that is separate from the main API server. This keeps the scrape path off the public ingress and avoids rate-limiting middleware. Configure the port with CHB_TELEMETRY_METRICS_PROMETHEUS_PORT. The endpoint path is always GET /metrics. pprof (if enabled via CHB_TELEMETRY_PROFILING_ENABLED=true) is served on CHB_TELEMETRY_PROFILING_PORT (default: 6060) at the standard /debug/pprof/ paths. Neither endpoint is part of the OpenAPI spec because they are not served by the Gin router.

// Package main is the entry point for the ChronoBill server binary.
// It dispatches three subcommands (serve, migrate, version) via a plain switch
// on os.Args so the binary's full CLI surface is readable in one place without
// requiring a cobra dependency. The serve command runs auto-migration on
// startup so freshly deployed containers never need a separate migration step.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// pprof handlers register on http.DefaultServeMux at init; that mux is
	// only ever served on the internal profiling port, never on the API
	// listener.
	_ "net/http/pprof" // #nosec G108

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chronobill/chronobill/internal/api"
	"github.com/chronobill/chronobill/internal/auth"
	"github.com/chronobill/chronobill/internal/config"
	"github.com/chronobill/chronobill/internal/db"
	"github.com/chronobill/chronobill/internal/db/models"
	"github.com/chronobill/chronobill/internal/db/repositories"
	"github.com/chronobill/chronobill/internal/safego"
	"github.com/chronobill/chronobill/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	// version answers before config.Load; it must work with nothing configured
	if command == "version" {
		fmt.Printf("ChronoBill v%s\n", api.Version)
		return nil
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	default:
		return fmt.Errorf("unknown command %q (available: serve, migrate, version)", command)
	}
}

func serve(cfg *config.Config) error {
	// The logger comes first so everything after it speaks the configured
	// format and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level, cfg.Logging.Output)

	// Pick up log-level changes from config file edits without a restart
	cfg.Watch(func(next *config.Config) {
		telemetry.SetLevel(next.Logging.Level)
		slog.Info("configuration reloaded", "log_level", next.Logging.Level)
	})

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()
	slog.Info("database connected",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"name", cfg.Database.Name,
		"user", cfg.Database.User,
		"ssl_mode", cfg.Database.SSLMode,
	)

	telemetry.StartDBStatsCollector(database)

	// Auto-migrate so a freshly deployed container comes up on the current
	// schema without a separate migration step.
	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	if schemaVersion, dirty, err := db.GetMigrationVersion(database); err != nil {
		slog.Warn("could not read schema version", "error", err)
	} else {
		slog.Info("database schema ready", "version", schemaVersion, "dirty", dirty)
	}

	// Seed the first admin account on an empty installation so the operator
	// can log in at all. Controlled by auth.bootstrap_admin in the config.
	if err := bootstrapAdmin(context.Background(), cfg, database); err != nil {
		slog.Warn("admin bootstrap failed", "error", err)
	}

	if cfg.Telemetry.Enabled {
		telemetry.BuildInfo.WithLabelValues(cfg.Telemetry.ServiceName, api.Version).Set(1)
		if cfg.Telemetry.Metrics.Enabled {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			startSidecar("metrics", cfg.Telemetry.Metrics.PrometheusPort, mux, 10*time.Second)
		}
		if cfg.Telemetry.Profiling.Enabled {
			// #nosec G108 -- dedicated internal port, not the API listener
			startSidecar("pprof", cfg.Telemetry.Profiling.Port, http.DefaultServeMux, 30*time.Second)
		}
	}

	router, bgServices, err := api.NewRouter(cfg, database)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// The listener runs in its own goroutine and reports fatal errors over a
	// channel, so startup failures (port in use, bad cert paths) and signals
	// share one exit path and the deferred cleanup always runs.
	errCh := make(chan error, 1)
	safego.Go(func() {
		slog.Info("server listening",
			"addr", cfg.Server.GetAddress(),
			"base_url", cfg.Server.BaseURL,
			"provider", cfg.Integration.Provider,
			"archive", cfg.Archive.Backend,
			"tls", cfg.Security.TLS.Enabled,
		)
		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Background jobs stop after the listener so in-flight requests can still
	// use them while draining
	bgServices.Shutdown()

	slog.Info("server stopped")
	return nil
}

// startSidecar serves an auxiliary handler on its own port. Metrics and pprof
// stay off the public ingress this way.
func startSidecar(name string, port int, handler http.Handler, timeout time.Duration) {
	addr := fmt.Sprintf(":%d", port)
	safego.Go(func() {
		slog.Info("starting "+name+" server", "addr", addr)
		srv := &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error(name+" server error", "error", err)
		}
	})
}

// bootstrapAdmin creates the initial admin user when the users table is empty.
// Without it a fresh installation has no way to log in: every account-creating
// surface sits behind an admin session. Bootstrapping is skipped once any user
// exists, so a bootstrap password left in the config cannot resurrect access
// after the real admin rotates credentials.
func bootstrapAdmin(ctx context.Context, cfg *config.Config, database *sql.DB) error {
	userRepo := repositories.NewUserRepository(sqlx.NewDb(database, "postgres"))

	count, err := userRepo.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting users: %w", err)
	}
	if count > 0 {
		return nil
	}

	admin := cfg.Auth.BootstrapAdmin
	if admin.Email == "" || admin.Password == "" {
		slog.Warn("users table is empty and no bootstrap admin is configured; " +
			"set auth.bootstrap_admin.email and auth.bootstrap_admin.password " +
			"(CHB_AUTH_BOOTSTRAP_ADMIN_EMAIL / CHB_AUTH_BOOTSTRAP_ADMIN_PASSWORD) " +
			"and restart to create the first admin account")
		return nil
	}

	hash, err := auth.HashPassword(admin.Password)
	if err != nil {
		return fmt.Errorf("hashing bootstrap admin password: %w", err)
	}

	name := admin.Name
	if name == "" {
		name = "Admin"
	}
	user := &models.User{
		Email:        admin.Email,
		Name:         name,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
	}
	if err := userRepo.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("creating bootstrap admin: %w", err)
	}

	slog.Info("bootstrapped admin account, change the password after first login", "email", admin.Email)
	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration %s failed: %w", direction, err)
	}

	schemaVersion, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	fmt.Printf("migration %s complete, schema version %d (dirty: %v)\n", direction, schemaVersion, dirty)
	return nil
}
