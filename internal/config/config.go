// Package config loads and validates the ChronoBill configuration using Viper.
//
// Settings come from three layers, weakest first: built-in defaults, a YAML
// config file, and CHB_-prefixed environment variables (CHB_DATABASE_HOST
// overrides database.host). The same binary therefore runs off a config.yaml
// on a laptop and off pure environment variables in a container.
//
// ENCRYPTION_KEY deliberately has no CHB_ prefix: secret injectors such as
// Vault agents or Kubernetes secret mounts deal in generic names and know
// nothing about application prefixes. cmd/server reads it straight from the
// environment, not through this package.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the root of the configuration tree.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Fortnox     FortnoxConfig     `mapstructure:"fortnox"`
	Integration IntegrationConfig `mapstructure:"integration"`
	Security    SecurityConfig    `mapstructure:"security"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Audit       AuditConfig       `mapstructure:"audit"`

	// v is the viper instance the config was loaded from, kept so Watch can
	// re-read the file. Nil when the config was built by hand (tests).
	v *viper.Viper
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// BaseURL is the address the server answers on; PublicURL is the address
	// the outside world uses when a reverse proxy sits in between. See
	// GetPublicURL for how the two interact.
	BaseURL   string `mapstructure:"base_url"`
	PublicURL string `mapstructure:"public_url"`
	// ReadTimeout and WriteTimeout bound a single request end to end
	// (default 30s each)
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetAddress returns the host:port pair the server listens on.
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GetPublicURL returns the URL the outside world reaches the server under,
// used for OAuth callbacks and redirects. Behind a reverse proxy the listen
// address (base_url) and the registered callback host (public_url) differ;
// public_url wins when set.
func (s *ServerConfig) GetPublicURL() string {
	if s.PublicURL != "" {
		return s.PublicURL
	}
	return s.BaseURL
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Name string `mapstructure:"name"`
	User string `mapstructure:"user"`
	// Password may be an ${ENV_VAR} reference, expanded at load
	Password string `mapstructure:"password"`
	// SSLMode is handed to libpq verbatim; the default is "require"
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConnections caps the pool; MinIdleConnections is how many to keep
	// open between bursts.
	MaxConnections     int `mapstructure:"max_connections"`
	MinIdleConnections int `mapstructure:"min_idle_connections"`
}

// GetDSN renders the settings as a libpq keyword/value connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds the optional Redis connection used for rate limiting.
// When addr is empty the server falls back to in-memory limiters, which is
// fine for a single instance but not shared across replicas.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a Redis address is configured.
func (r *RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// ArchiveConfig holds export archive configuration. Every invoice export
// snapshot (the submitted payload plus the provider response) is written to
// the configured backend.
type ArchiveConfig struct {
	Enabled bool               `mapstructure:"enabled"`
	Backend string             `mapstructure:"backend"`
	Azure   AzureStorageConfig `mapstructure:"azure"`
	S3      S3StorageConfig    `mapstructure:"s3"`
	GCS     GCSStorageConfig   `mapstructure:"gcs"`
	Local   LocalStorageConfig `mapstructure:"local"`
}

// AzureStorageConfig holds Azure Blob Storage archive settings. Auth is
// shared-key only; AccountKey may be an ${ENV_VAR} reference.
type AzureStorageConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
}

// S3StorageConfig holds S3 archive settings. Endpoint is only needed for
// non-AWS stores such as MinIO or DigitalOcean Spaces.
type S3StorageConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`

	// AuthMethod selects how credentials are obtained. "default" walks the
	// AWS credential chain, "static" uses the access key pair below, "oidc"
	// exchanges the web identity token for RoleARN, and "assume_role"
	// assumes RoleARN directly (ExternalID for cross-account setups).
	AuthMethod string `mapstructure:"auth_method"`

	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	RoleARN         string `mapstructure:"role_arn"`
	RoleSessionName string `mapstructure:"role_session_name"`
	ExternalID      string `mapstructure:"external_id"`

	WebIdentityTokenFile string `mapstructure:"web_identity_token_file"`
}

// GCSStorageConfig holds Google Cloud Storage archive settings.
type GCSStorageConfig struct {
	Bucket string `mapstructure:"bucket"`

	// AuthMethod is "default" (application default credentials),
	// "service_account" (explicit key below) or "workload_identity".
	AuthMethod string `mapstructure:"auth_method"`

	// CredentialsFile and CredentialsJSON both carry a service account key;
	// the inline form exists so the key can come from a secret manager
	// instead of a mounted file.
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`

	// Endpoint points at a GCS emulator in tests.
	Endpoint string `mapstructure:"endpoint"`
}

// LocalStorageConfig holds filesystem archive settings.
type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// AuthConfig groups everything about how users get in.
type AuthConfig struct {
	JWT            JWTConfig            `mapstructure:"jwt"`
	BootstrapAdmin BootstrapAdminConfig `mapstructure:"bootstrap_admin"`
	OIDC           OIDCConfig           `mapstructure:"oidc"`
}

// JWTConfig holds session token signing configuration.
type JWTConfig struct {
	// Secret signs API session tokens. Required; the server refuses to start
	// without it.
	Secret string `mapstructure:"secret"`
	// TokenTTL is how long an issued session token stays valid (default 12h)
	TokenTTL time.Duration `mapstructure:"token_ttl"`
	// Issuer is the iss claim on issued tokens
	Issuer string `mapstructure:"issuer"`
}

// BootstrapAdminConfig seeds the first admin user when the users table is
// empty on startup. Leave email or password blank to disable bootstrapping.
type BootstrapAdminConfig struct {
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

// OIDCConfig holds optional OIDC single sign-on configuration.
type OIDCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// IssuerURL is where discovery runs at startup; the server refuses to
	// come up when the issuer is unreachable.
	IssuerURL    string `mapstructure:"issuer_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	// RedirectURL must match a callback registered with the identity
	// provider. Empty leaves redirect_uri off the authorization request and
	// the provider's registered default applies.
	RedirectURL string `mapstructure:"redirect_url"`
	// Scopes defaults to openid, email and profile
	Scopes []string `mapstructure:"scopes"`

	// GroupClaimName is the token claim carrying the user's IdP groups.
	// Members of any AdminGroups entry log in as admin; everyone else gets
	// the regular user role.
	GroupClaimName string   `mapstructure:"group_claim_name"`
	AdminGroups    []string `mapstructure:"admin_groups"`
}

// FortnoxConfig holds the accounting provider endpoints. The client id and
// secret are NOT configured here; the admin enters them once through the
// integration connect flow and they live encrypted in the database.
type FortnoxConfig struct {
	// APIBaseURL overrides the resource API root (tests point this at a fake server)
	APIBaseURL string `mapstructure:"api_base_url"`
	// AuthBaseURL overrides the OAuth/migration endpoint root
	AuthBaseURL string `mapstructure:"auth_base_url"`
	// Scopes requested during the authorization-code flow
	Scopes []string `mapstructure:"scopes"`
	// RedirectURL overrides the OAuth callback URL; when empty it is derived
	// from server.public_url + the callback route
	RedirectURL string `mapstructure:"redirect_url"`
}

// GetRedirectURL returns the OAuth callback URL registered with the provider.
func (f *FortnoxConfig) GetRedirectURL(server *ServerConfig) string {
	if f.RedirectURL != "" {
		return f.RedirectURL
	}
	return strings.TrimRight(server.GetPublicURL(), "/") + "/api/v1/integration/callback"
}

// IntegrationConfig holds accounting integration behaviour.
type IntegrationConfig struct {
	// Provider names the credential row; only "fortnox" is implemented
	Provider string `mapstructure:"provider"`
	// RefreshCheckIntervalMinutes is how often the background sweeper checks
	// whether the access token needs renewing (default 15)
	RefreshCheckIntervalMinutes int `mapstructure:"refresh_check_interval_minutes"`
}

// SecurityConfig groups CORS, rate limiting and TLS.
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig controls cross-origin request handling.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig throttles the two abuse-prone routes: login (password
// guessing) and invoice export (each export hits the provider API several
// times). Limits are per client IP per minute.
type RateLimitingConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	LoginPerMinute  int  `mapstructure:"login_per_minute"`
	ExportPerMinute int  `mapstructure:"export_per_minute"`
	Burst           int  `mapstructure:"burst"`
}

// TLSConfig makes the server terminate HTTPS itself instead of relying on a
// fronting proxy.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig selects log level, encoding and destination.
type LoggingConfig struct {
	// Level is debug, info, warn or error; anything else fails validation
	Level string `mapstructure:"level"`
	// Format is "json" or "text"
	Format string `mapstructure:"format"`
	// Output is "stdout" or "stderr"
	Output string `mapstructure:"output"`
}

// TelemetryConfig holds observability settings. Enabled is the master
// switch: off, neither sidecar starts no matter what the sub-sections say.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// ServiceName labels the build_info metric; override it when several
	// deployments scrape into one Prometheus.
	ServiceName string          `mapstructure:"service_name"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Profiling   ProfilingConfig `mapstructure:"profiling"`
}

// MetricsConfig exposes Prometheus metrics on a sidecar port (default 9090),
// off the API listener.
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// ProfilingConfig exposes net/http/pprof on its own port (default 6060).
// Off by default.
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// AuditConfig controls the audit trail.
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// LogReadOperations turns on auditing of GET requests, off by default
	// because reads dominate traffic
	LogReadOperations bool `mapstructure:"log_read_operations"`
	// LogFailedRequests includes 4xx/5xx responses in the trail
	LogFailedRequests bool `mapstructure:"log_failed_requests"`
	// RetentionDays is how long audit rows are kept; 0 disables pruning
	RetentionDays int `mapstructure:"retention_days"`
	// RetentionCheckIntervalHours is how often the pruning job runs (default 24)
	RetentionCheckIntervalHours int `mapstructure:"retention_check_interval_hours"`
	// Shippers forward audit records to external sinks on top of the
	// database table
	Shippers []AuditShipperConfig `mapstructure:"shippers"`
}

// AuditShipperConfig describes one external audit destination. Type selects
// which of the sub-configs applies.
type AuditShipperConfig struct {
	Enabled bool                `mapstructure:"enabled"`
	Type    string              `mapstructure:"type"`
	Webhook *AuditWebhookConfig `mapstructure:"webhook"`
	File    *AuditFileConfig    `mapstructure:"file"`
}

// AuditWebhookConfig posts audit batches to an HTTP endpoint. The field
// semantics mirror audit.WebhookConfig, which this is translated into.
type AuditWebhookConfig struct {
	URL string `mapstructure:"url"`
	// Headers go out on every delivery, typically an Authorization header
	Headers map[string]string `mapstructure:"headers"`
	// TimeoutSecs bounds one delivery attempt
	TimeoutSecs int `mapstructure:"timeout_secs"`
	// BatchSize entries or FlushInterval seconds, whichever comes first,
	// triggers a delivery.
	BatchSize     int `mapstructure:"batch_size"`
	FlushInterval int `mapstructure:"flush_interval_secs"`
}

// AuditFileConfig appends audit records to a local file, rotated at
// MaxSizeMB with MaxBackups rotated files kept.
type AuditFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// envKeys lists every key that may be overridden through the environment.
// Viper's AutomaticEnv does not reach keys inside nested structs during
// Unmarshal, so each one is bound by hand.
var envKeys = []string{
	"server.host",
	"server.port",
	"server.base_url",
	"server.public_url",
	"server.read_timeout",
	"server.write_timeout",

	"database.host",
	"database.port",
	"database.name",
	"database.user",
	"database.password",
	"database.ssl_mode",
	"database.max_connections",
	"database.min_idle_connections",

	"redis.addr",
	"redis.password",
	"redis.db",

	"auth.jwt.secret",
	"auth.jwt.token_ttl",
	"auth.jwt.issuer",
	"auth.bootstrap_admin.email",
	"auth.bootstrap_admin.password",
	"auth.bootstrap_admin.name",
	"auth.oidc.enabled",
	"auth.oidc.issuer_url",
	"auth.oidc.client_id",
	"auth.oidc.client_secret",
	"auth.oidc.redirect_url",
	"auth.oidc.scopes",
	"auth.oidc.group_claim_name",
	"auth.oidc.admin_groups",

	"fortnox.api_base_url",
	"fortnox.auth_base_url",
	"fortnox.scopes",
	"fortnox.redirect_url",

	"integration.provider",
	"integration.refresh_check_interval_minutes",

	"archive.enabled",
	"archive.backend",
	"archive.azure.account_name",
	"archive.azure.account_key",
	"archive.azure.container_name",
	"archive.s3.endpoint",
	"archive.s3.region",
	"archive.s3.bucket",
	"archive.s3.auth_method",
	"archive.s3.access_key_id",
	"archive.s3.secret_access_key",
	"archive.s3.role_arn",
	"archive.s3.role_session_name",
	"archive.s3.external_id",
	"archive.s3.web_identity_token_file",
	"archive.gcs.bucket",
	"archive.gcs.auth_method",
	"archive.gcs.credentials_file",
	"archive.gcs.credentials_json",
	"archive.gcs.endpoint",
	"archive.local.base_path",

	"security.cors.allowed_origins",
	"security.cors.allowed_methods",
	"security.rate_limiting.enabled",
	"security.rate_limiting.login_per_minute",
	"security.rate_limiting.export_per_minute",
	"security.rate_limiting.burst",
	"security.tls.enabled",
	"security.tls.cert_file",
	"security.tls.key_file",

	"logging.level",
	"logging.format",
	"logging.output",

	"telemetry.enabled",
	"telemetry.service_name",
	"telemetry.metrics.enabled",
	"telemetry.metrics.prometheus_port",
	"telemetry.profiling.enabled",
	"telemetry.profiling.port",

	"audit.enabled",
	"audit.log_read_operations",
	"audit.log_failed_requests",
	"audit.retention_days",
	"audit.retention_check_interval_hours",
}

func bindEnvKeys(v *viper.Viper) error {
	for _, key := range envKeys {
		// BindEnv only fails on an empty key, so an error here is a bug
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("binding env key %q: %w", key, err)
		}
	}
	return nil
}

// Load reads the configuration at configPath. An empty path searches the
// usual locations; a missing file is fine there, defaults plus environment
// variables then carry the whole config.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/chronobill")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("CHB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnvKeys(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.expandSecrets()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.v = v
	return &cfg, nil
}

// Watch re-reads the config file whenever it changes on disk and hands the
// freshly validated result to onChange. Invalid edits are logged and skipped;
// the running config stays as it was. Only file-backed settings participate,
// environment variables are read once at startup.
func (c *Config) Watch(onChange func(*Config)) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.OnConfigChange(func(fsnotify.Event) {
		var next Config
		if err := c.v.Unmarshal(&next); err != nil {
			slog.Warn("config reload ignored", "error", err)
			return
		}
		next.expandSecrets()
		if err := next.Validate(); err != nil {
			slog.Warn("config reload ignored", "error", err)
			return
		}
		next.v = c.v
		onChange(&next)
	})
	c.v.WatchConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "chronobill")
	v.SetDefault("database.user", "chronobill")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Redis stays off unless an address is configured
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.jwt.token_ttl", 12*time.Hour)
	v.SetDefault("auth.jwt.issuer", "chronobill")
	v.SetDefault("auth.bootstrap_admin.name", "Admin")
	v.SetDefault("auth.oidc.enabled", false)
	v.SetDefault("auth.oidc.scopes", []string{"openid", "email", "profile"})

	// Empty Fortnox base URLs select the production endpoints
	v.SetDefault("fortnox.api_base_url", "")
	v.SetDefault("fortnox.auth_base_url", "")
	v.SetDefault("fortnox.scopes", []string{"companyinformation", "customer", "article", "invoice"})

	v.SetDefault("integration.provider", "fortnox")
	v.SetDefault("integration.refresh_check_interval_minutes", 15)

	v.SetDefault("archive.enabled", true)
	v.SetDefault("archive.backend", "local")
	v.SetDefault("archive.local.base_path", "./archive")

	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.login_per_minute", 10)
	v.SetDefault("security.rate_limiting.export_per_minute", 6)
	v.SetDefault("security.rate_limiting.burst", 5)
	v.SetDefault("security.tls.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "chronobill")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
	v.SetDefault("telemetry.profiling.enabled", false)
	v.SetDefault("telemetry.profiling.port", 6060)

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.log_read_operations", false)
	v.SetDefault("audit.log_failed_requests", true)
	v.SetDefault("audit.retention_days", 365)
	v.SetDefault("audit.retention_check_interval_hours", 24)
}

// expandSecrets expands ${VAR} references in the fields that typically hold
// secrets, so the YAML can point at the environment instead of embedding them.
func (c *Config) expandSecrets() {
	for _, p := range []*string{
		&c.Database.Password,
		&c.Redis.Password,
		&c.Archive.Azure.AccountKey,
		&c.Archive.S3.AccessKeyID,
		&c.Archive.S3.SecretAccessKey,
		&c.Auth.JWT.Secret,
		&c.Auth.BootstrapAdmin.Password,
		&c.Auth.OIDC.ClientSecret,
	} {
		*p = os.ExpandEnv(*p)
	}
}

// Validate rejects configurations the server cannot run with. It returns the
// first problem found rather than collecting all of them; startup failures
// get fixed one at a time anyway.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}

	required := []struct{ key, val string }{
		{"server.base_url", c.Server.BaseURL},
		{"database.host", c.Database.Host},
		{"database.name", c.Database.Name},
		{"database.user", c.Database.User},
		{"auth.jwt.secret", c.Auth.JWT.Secret},
	}
	for _, f := range required {
		if f.val == "" {
			return fmt.Errorf("%s is required", f.key)
		}
	}

	if err := c.Archive.validate(); err != nil {
		return err
	}
	if err := c.Auth.OIDC.validate(); err != nil {
		return err
	}
	if err := c.Security.TLS.validate(); err != nil {
		return err
	}

	if c.Audit.RetentionDays < 0 {
		return fmt.Errorf("audit.retention_days must not be negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level %q (want debug, info, warn or error)", c.Logging.Level)
	}
	return nil
}

// validate checks that the selected archive backend has the settings it needs.
func (a *ArchiveConfig) validate() error {
	if !a.Enabled {
		return nil
	}

	var required map[string]string
	switch a.Backend {
	case "azure":
		required = map[string]string{
			"archive.azure.account_name":   a.Azure.AccountName,
			"archive.azure.account_key":    a.Azure.AccountKey,
			"archive.azure.container_name": a.Azure.ContainerName,
		}
	case "s3":
		required = map[string]string{
			"archive.s3.bucket": a.S3.Bucket,
			"archive.s3.region": a.S3.Region,
		}
	case "gcs":
		required = map[string]string{"archive.gcs.bucket": a.GCS.Bucket}
	case "local":
		required = map[string]string{"archive.local.base_path": a.Local.BasePath}
	default:
		return fmt.Errorf("unknown archive backend %q (want azure, s3, gcs or local)", a.Backend)
	}

	for key, val := range required {
		if val == "" {
			return fmt.Errorf("%s is required for the %s archive backend", key, a.Backend)
		}
	}
	return nil
}

func (o *OIDCConfig) validate() error {
	if !o.Enabled {
		return nil
	}
	for _, f := range []struct{ key, val string }{
		{"auth.oidc.issuer_url", o.IssuerURL},
		{"auth.oidc.client_id", o.ClientID},
		{"auth.oidc.client_secret", o.ClientSecret},
	} {
		if f.val == "" {
			return fmt.Errorf("%s is required when oidc is enabled", f.key)
		}
	}
	return nil
}

func (t *TLSConfig) validate() error {
	if !t.Enabled {
		return nil
	}
	if t.CertFile == "" || t.KeyFile == "" {
		return fmt.Errorf("security.tls.cert_file and security.tls.key_file are required when tls is enabled")
	}
	return nil
}
