// Package api wires together all HTTP routes for the ChronoBill backend.
//
// Route grouping philosophy:
//   - /health, /ready and /version are unauthenticated so load balancers and
//     orchestration probes work without credentials.
//   - /api/v1/auth login routes are public but rate limited; every other
//     /api/v1 route sits behind the session JWT issued at login.
//   - Integration management and invoice export touch the company's books at
//     the accounting provider and therefore additionally require the admin
//     role.
//   - The provider OAuth callback (/api/v1/integration/callback) is public
//     because the admin's browser arrives from the provider without our
//     session header; the one-time state parameter authenticates the request
//     instead.
package api

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/chronobill/chronobill/docs"
	"github.com/chronobill/chronobill/internal/accounting/fortnox"
	"github.com/chronobill/chronobill/internal/api/admin"
	"github.com/chronobill/chronobill/internal/api/billing"
	"github.com/chronobill/chronobill/internal/api/integration"
	"github.com/chronobill/chronobill/internal/archive"
	"github.com/chronobill/chronobill/internal/audit"
	"github.com/chronobill/chronobill/internal/auth"
	"github.com/chronobill/chronobill/internal/config"
	"github.com/chronobill/chronobill/internal/crypto"
	"github.com/chronobill/chronobill/internal/db/repositories"
	"github.com/chronobill/chronobill/internal/jobs"
	"github.com/chronobill/chronobill/internal/middleware"
	"github.com/chronobill/chronobill/internal/safego"
	"github.com/chronobill/chronobill/internal/services"

	// Import archive backends to register them
	_ "github.com/chronobill/chronobill/internal/archive/azure"
	_ "github.com/chronobill/chronobill/internal/archive/gcs"
	_ "github.com/chronobill/chronobill/internal/archive/local"
	_ "github.com/chronobill/chronobill/internal/archive/s3"
)

// Version is stamped at build time with
// -ldflags "-X github.com/chronobill/chronobill/internal/api.Version=v1.2.3".
var Version = "0.1.0"

// BackgroundServices holds the background goroutines and pooled resources the
// router starts. The caller (cmd/server) calls Shutdown once the HTTP server
// has drained, so in-flight requests never race a stopping job.
type BackgroundServices struct {
	refreshJob   *jobs.TokenRefreshJob
	retentionJob *jobs.AuditRetentionJob
	auditShipper *audit.MultiShipper
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops every background goroutine and flushes the audit shippers.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.refreshJob != nil {
		bg.refreshJob.Stop()
	}
	if bg.retentionJob != nil {
		bg.retentionJob.Stop()
	}
	if bg.auditShipper != nil {
		if err := bg.auditShipper.Close(); err != nil {
			slog.Error("failed to close audit shippers", "error", err)
		}
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter builds the full route tree and starts the background jobs that go
// with it. Construction fails rather than degrades: a misconfigured archive
// backend or missing encryption key is a startup error, not a warning.
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices, error) {
	var archiveStore archive.Store
	if cfg.Archive.Enabled {
		store, err := archive.New(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing export archive backend: %w", err)
		}
		archiveStore = store
		slog.Info("export archive initialized", "backend", cfg.Archive.Backend)
	} else {
		slog.Warn("export archive disabled, export snapshots will not be written")
	}

	tokenCipher, err := newTokenCipher()
	if err != nil {
		return nil, nil, err
	}
	tokenManager, err := auth.NewTokenManager(cfg.Auth.JWT.Secret, cfg.Auth.JWT.TokenTTL, cfg.Auth.JWT.Issuer)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing session token manager: %w", err)
	}

	// The repository layer is written against sqlx
	sqlxDB := sqlx.NewDb(db, "postgres")
	userRepo := repositories.NewUserRepository(sqlxDB)
	auditRepo := repositories.NewAuditRepository(sqlxDB)
	clientRepo := repositories.NewClientRepository(sqlxDB)
	productRepo := repositories.NewProductRepository(sqlxDB)
	timeEntryRepo := repositories.NewTimeEntryRepository(sqlxDB)
	invoiceRepo := repositories.NewInvoiceRepository(sqlxDB)
	credentialRepo := repositories.NewCredentialRepository(sqlxDB)

	// Accounting integration: encrypted credential store -> lifecycle manager ->
	// resource client. The resource client pulls a valid access token from the
	// manager on every call, so handlers never see raw token material.
	credentialStore := services.NewDBCredentialStore(credentialRepo, tokenCipher, cfg.Integration.Provider)
	oauthClient := fortnox.NewOAuthClient(cfg.Fortnox.AuthBaseURL, nil)
	credentialManager := services.NewCredentialManager(credentialStore, oauthClient, slog.Default())
	providerClient := fortnox.NewClient(cfg.Fortnox.APIBaseURL, credentialManager, nil)

	var exportArchive services.ExportArchive
	if archiveStore != nil {
		exportArchive = archive.NewRecorder(archiveStore)
	}
	exporter := services.NewInvoiceExporter(clientRepo, productRepo, timeEntryRepo, invoiceRepo,
		providerClient, exportArchive, slog.Default())

	// The credential refresh sweeper and the audit retention pruner block in
	// their Start loop, so they run under safego.
	refreshJob := jobs.NewTokenRefreshJob(credentialManager, cfg.Integration.RefreshCheckIntervalMinutes)
	safego.Go(func() { refreshJob.Start(context.Background()) })

	retentionJob := jobs.NewAuditRetentionJob(auditRepo, cfg.Audit.RetentionDays, cfg.Audit.RetentionCheckIntervalHours)
	safego.Go(func() { retentionJob.Start(context.Background()) })

	var auditShipper *audit.MultiShipper
	if cfg.Audit.Enabled && len(cfg.Audit.Shippers) > 0 {
		auditShipper, err = audit.NewMultiShipper(shipperConfigs(cfg.Audit.Shippers))
		if err != nil {
			return nil, nil, fmt.Errorf("initializing audit shippers: %w", err)
		}
		slog.Info("audit shipping enabled", "shippers", len(cfg.Audit.Shippers))
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		slog.Info("rate limiting backed by redis", "addr", cfg.Redis.Addr)
	}
	loginRateLimit, exportRateLimit, inMemLimiters := buildRateLimits(cfg, rdb)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(requestLogger())
	router.Use(corsMiddleware(cfg))
	// HSTS only when this listener terminates TLS itself; a plaintext
	// deployment behind a terminating proxy manages the pin at the proxy.
	router.Use(middleware.SecurityHeaders(middleware.APIHeaderPolicy(cfg.Security.TLS.Enabled)))

	router.GET("/health", healthHandler(db))
	router.GET("/ready", readyHandler(db, archiveStore))
	router.GET("/version", versionHandler())
	mountAPIDocs(router)

	authHandlers, err := admin.NewAuthHandlers(cfg, tokenManager, userRepo)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing auth handlers: %w", err)
	}
	integrationHandlers := integration.NewHandlers(cfg, credentialManager, oauthClient)
	clientHandlers := billing.NewClientHandlers(clientRepo)
	productHandlers := billing.NewProductHandlers(productRepo)
	timeEntryHandlers := billing.NewTimeEntryHandlers(timeEntryRepo, clientRepo, productRepo)
	invoiceHandlers := billing.NewInvoiceHandlers(invoiceRepo, exporter)
	auditHandlers := admin.NewAuditHandlers(auditRepo)

	// Audit middleware writes to the DB trail and optionally ships externally.
	// The shipper is passed through a typed nil-safe interface variable.
	var shipper audit.Shipper
	if auditShipper != nil {
		shipper = auditShipper
	}
	auditMW := middleware.AuditMiddlewareWithShipper(auditRepo, shipper, &cfg.Audit)

	apiV1 := router.Group("/api/v1")
	{
		// Public authentication endpoints (no session required, but rate limited)
		authGroup := apiV1.Group("/auth")
		authGroup.Use(loginRateLimit)
		{
			authGroup.POST("/login", authHandlers.LoginHandler())
			authGroup.GET("/oidc/login", authHandlers.OIDCLoginHandler())
			authGroup.GET("/oidc/callback", authHandlers.OIDCCallbackHandler())
		}

		// Provider OAuth callback (public; validated by the one-time state parameter)
		apiV1.GET("/integration/callback", integrationHandlers.Callback)

		// Everything below requires a session
		authenticatedGroup := apiV1.Group("")
		authenticatedGroup.Use(middleware.AuthMiddleware(tokenManager, userRepo))
		if cfg.Audit.Enabled {
			authenticatedGroup.Use(auditMW)
		}
		{
			authenticatedGroup.GET("/auth/me", authHandlers.MeHandler())

			// Clients: reads for everyone, mutations for admins
			clientsGroup := authenticatedGroup.Group("/clients")
			{
				clientsGroup.GET("", clientHandlers.ListClients)
				clientsGroup.GET("/:id", clientHandlers.GetClient)
				clientsGroup.POST("", middleware.RequireAdmin(), clientHandlers.CreateClient)
				clientsGroup.PUT("/:id", middleware.RequireAdmin(), clientHandlers.UpdateClient)
				clientsGroup.DELETE("/:id", middleware.RequireAdmin(), clientHandlers.ArchiveClient)
			}

			// Products: reads for everyone, mutations for admins
			productsGroup := authenticatedGroup.Group("/products")
			{
				productsGroup.GET("", productHandlers.ListProducts)
				productsGroup.GET("/:id", productHandlers.GetProduct)
				productsGroup.POST("", middleware.RequireAdmin(), productHandlers.CreateProduct)
				productsGroup.PUT("/:id", middleware.RequireAdmin(), productHandlers.UpdateProduct)
				productsGroup.DELETE("/:id", middleware.RequireAdmin(), productHandlers.DeleteProduct)
			}

			// Time entries: any member logs time; ownership is enforced in the
			// handlers so members cannot edit someone else's entries
			entriesGroup := authenticatedGroup.Group("/time-entries")
			{
				entriesGroup.GET("", timeEntryHandlers.ListTimeEntries)
				entriesGroup.GET("/:id", timeEntryHandlers.GetTimeEntry)
				entriesGroup.POST("", timeEntryHandlers.CreateTimeEntry)
				entriesGroup.PUT("/:id", timeEntryHandlers.UpdateTimeEntry)
				entriesGroup.DELETE("/:id", timeEntryHandlers.DeleteTimeEntry)
			}

			// Invoices: local mirror reads plus the export pipeline
			invoicesGroup := authenticatedGroup.Group("/invoices")
			{
				invoicesGroup.GET("", invoiceHandlers.ListInvoices)
				invoicesGroup.GET("/:id", invoiceHandlers.GetInvoice)
				invoicesGroup.POST("/export",
					exportRateLimit,
					middleware.RequireAdmin(),
					invoiceHandlers.ExportInvoice)
			}

			// Accounting integration management (admin only)
			integrationGroup := authenticatedGroup.Group("/integration")
			integrationGroup.Use(middleware.RequireAdmin())
			{
				integrationGroup.GET("/status", integrationHandlers.Status)
				integrationGroup.POST("/connect", integrationHandlers.Connect)
				integrationGroup.POST("/refresh", integrationHandlers.Refresh)
				integrationGroup.POST("/migrate", integrationHandlers.Migrate)
				integrationGroup.DELETE("", integrationHandlers.Disconnect)
			}

			// Audit trail (admin only)
			authenticatedGroup.GET("/audit-logs", middleware.RequireAdmin(), auditHandlers.ListAuditLogs)
		}
	}

	bg := &BackgroundServices{
		refreshJob:   refreshJob,
		retentionJob: retentionJob,
		auditShipper: auditShipper,
		rateLimiters: inMemLimiters,
	}
	return router, bg, nil
}

// newTokenCipher builds the cipher that encrypts provider credentials at
// rest. ENCRYPTION_KEY carries the 32-byte key directly; deployments that
// prefer a passphrase set ENCRYPTION_PASSPHRASE plus the base64url
// ENCRYPTION_SALT printed by scripts/generate-key.go and the key is derived
// with PBKDF2.
func newTokenCipher() (*crypto.TokenCipher, error) {
	if key := os.Getenv("ENCRYPTION_KEY"); key != "" {
		return crypto.NewTokenCipher([]byte(key))
	}
	passphrase := os.Getenv("ENCRYPTION_PASSPHRASE")
	if passphrase == "" {
		return nil, fmt.Errorf("credential encryption needs ENCRYPTION_KEY, or ENCRYPTION_PASSPHRASE with ENCRYPTION_SALT")
	}
	salt, err := base64.RawURLEncoding.DecodeString(os.Getenv("ENCRYPTION_SALT"))
	if err != nil {
		return nil, fmt.Errorf("decoding ENCRYPTION_SALT: %w", err)
	}
	cipher, err := crypto.DeriveTokenCipher(passphrase, salt, 0)
	if err != nil {
		return nil, fmt.Errorf("deriving encryption key from passphrase: %w", err)
	}
	return cipher, nil
}

// buildRateLimits returns the login and export rate limit middlewares. The
// two routes are the abuse-prone ones: login invites password guessing and
// each export fans out into several provider API calls. With rate limiting
// disabled both middlewares become pass-throughs so route registration stays
// uniform. The returned slice holds the in-memory limiters that need their
// janitor goroutine stopped on shutdown; Redis-backed limiters have none.
func buildRateLimits(cfg *config.Config, rdb *redis.Client) (login, export gin.HandlerFunc, inMem []*middleware.RateLimiter) {
	passThrough := gin.HandlerFunc(func(c *gin.Context) { c.Next() })
	if !cfg.Security.RateLimiting.Enabled {
		return passThrough, passThrough, nil
	}

	loginCfg := middleware.LoginRateLimitConfig()
	if cfg.Security.RateLimiting.LoginPerMinute > 0 {
		loginCfg.RequestsPerMinute = cfg.Security.RateLimiting.LoginPerMinute
	}
	exportCfg := middleware.ExportRateLimitConfig()
	if cfg.Security.RateLimiting.ExportPerMinute > 0 {
		exportCfg.RequestsPerMinute = cfg.Security.RateLimiting.ExportPerMinute
	}
	if cfg.Security.RateLimiting.Burst > 0 {
		loginCfg.BurstSize = cfg.Security.RateLimiting.Burst
		exportCfg.BurstSize = cfg.Security.RateLimiting.Burst
	}

	loginLimiter := middleware.NewLimiter(rdb, loginCfg)
	exportLimiter := middleware.NewLimiter(rdb, exportCfg)
	for _, l := range []middleware.Limiter{loginLimiter, exportLimiter} {
		if local, ok := l.(*middleware.RateLimiter); ok {
			inMem = append(inMem, local)
		}
	}
	return middleware.RateLimitMiddleware(loginLimiter), middleware.RateLimitMiddleware(exportLimiter), inMem
}

// shipperConfigs converts the viper-loaded audit shipper configuration into
// the audit package's own config type.
func shipperConfigs(configs []config.AuditShipperConfig) []audit.ShipperConfig {
	out := make([]audit.ShipperConfig, 0, len(configs))
	for _, c := range configs {
		sc := audit.ShipperConfig{Enabled: c.Enabled, Type: c.Type}
		if c.Webhook != nil {
			sc.Webhook = &audit.WebhookConfig{
				URL:           c.Webhook.URL,
				Headers:       c.Webhook.Headers,
				Timeout:       time.Duration(c.Webhook.TimeoutSecs) * time.Second,
				BatchSize:     c.Webhook.BatchSize,
				FlushInterval: time.Duration(c.Webhook.FlushInterval) * time.Second,
			}
		}
		if c.File != nil {
			sc.File = &audit.FileConfig{
				Path:       c.File.Path,
				MaxSizeMB:  c.File.MaxSizeMB,
				MaxBackups: c.File.MaxBackups,
			}
		}
		out = append(out, sc)
	}
	return out
}

// swaggerPage is the CDN-loaded Swagger UI shell. The %s placeholders take
// the per-request CSP nonce, which lets the inline bootstrap script run while
// the rest of the policy stays strict; script hashes would break on every CDN
// version bump.
const swaggerPage = `<!DOCTYPE html>
<html lang="en">
<head>
	<title>ChronoBill API</title>
	<meta charset="utf-8"/>
	<meta name="viewport" content="width=device-width, initial-scale=1">
	<link rel="stylesheet" href="https://cdnjs.cloudflare.com/ajax/libs/swagger-ui/4.15.5/swagger-ui.min.css">
</head>
<body>
	<div id="swagger-ui"></div>
	<script src="https://cdnjs.cloudflare.com/ajax/libs/swagger-ui/4.15.5/swagger-ui-bundle.min.js" crossorigin></script>
	<script nonce="%s">
	window.onload = function() {
		window.ui = SwaggerUIBundle({
			url: "/swagger.json",
			dom_id: "#swagger-ui",
			deepLinking: true,
			presets: [SwaggerUIBundle.presets.apis],
			layout: "BaseLayout",
			docExpansion: "list"
		});
	};
	</script>
</body>
</html>`

func mountAPIDocs(router *gin.Engine) {
	serveUI := func(c *gin.Context) {
		nb := make([]byte, 16)
		if _, err := rand.Read(nb); err != nil {
			c.String(http.StatusInternalServerError, "failed to generate nonce")
			return
		}
		nonce := base64.StdEncoding.EncodeToString(nb)

		c.Header("Content-Security-Policy", fmt.Sprintf(
			"default-src 'self' https:; script-src 'self' 'nonce-%s' https:; style-src 'self' https:; img-src 'self' data: https:; font-src 'self' https:; connect-src 'self' https:",
			nonce,
		))
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(fmt.Sprintf(swaggerPage, nonce)))
	}

	router.GET("/api-docs/index.html", serveUI)
	router.GET("/api-docs/", serveUI)
	router.GET("/api-docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/api-docs/")
	})
	router.GET("/swagger.json", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Data(http.StatusOK, "application/json", docs.SwaggerJSON)
	})
}

// @Summary      Health check
// @Description  Liveness probe: reports whether the process and its database connection are alive.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
func healthHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Reports whether the service can take traffic. Covers the database and the export archive backend.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error: dependency not ready"
// @Router       /ready [get]
// readyHandler differs from the liveness probe in also checking the export
// archive, so a readiness gate fails while export snapshots would error.
func readyHandler(db *sql.DB, archiveStore archive.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		// Probe the archive with a known-absent sentinel path: Exists()
		// exercises authentication and connectivity without creating state.
		if archiveStore != nil {
			if _, err := archiveStore.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
				checks["archive"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "export archive backend not ready",
				})
				return
			}
			checks["archive"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the server build version and the API version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// requestLogger emits one structured record per request through the global
// slog handler, which already carries the configured output format.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// corsMiddleware reflects allowed origins back to the browser. An entry of
// "*" in allowed_origins admits every origin; without an Origin header the
// wildcard form is sent so curl and same-origin callers stay unaffected.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	allowedMethods := "GET, POST, PUT, DELETE, OPTIONS"
	if len(cfg.Security.CORS.AllowedMethods) > 0 {
		allowedMethods = strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, candidate := range cfg.Security.CORS.AllowedOrigins {
			if candidate == "*" || candidate == origin {
				allowed = true
				break
			}
		}
		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", allowedMethods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
