package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	AuthMode string `mapstructure:"AUTH_MODE"`

	// Tenant every request is routed to when DevAuthMiddleware is active.
	DevTenantID string `mapstructure:"DEV_TENANT_ID"`

	// Central registry database (tenant metadata, credentials).
	RegistryDatabaseURL string `mapstructure:"REGISTRY_DATABASE_URL"`
	RegistryMaxConns    int32  `mapstructure:"REGISTRY_MAX_CONNS"`
	RegistryMinConns    int32  `mapstructure:"REGISTRY_MIN_CONNS"`

	// Admin DSN used only by the provisioner to create tenant roles and
	// databases. Must point at the tenant database server with CREATEDB
	// and CREATEROLE privileges.
	ProvisionAdminURL string `mapstructure:"PROVISION_ADMIN_URL"`

	// Per-tenant pool bounds. These cap the footprint of every tenant's
	// pool independently, so one tenant's spike cannot starve another's.
	TenantMaxConns       int32         `mapstructure:"TENANT_MAX_CONNS"`
	TenantMinConns       int32         `mapstructure:"TENANT_MIN_CONNS"`
	TenantAcquireTimeout time.Duration `mapstructure:"TENANT_ACQUIRE_TIMEOUT"`
	TenantIdleTimeout    time.Duration `mapstructure:"TENANT_IDLE_TIMEOUT"`

	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`

	// Hex-encoded 32-byte key for encrypting tenant credentials at rest.
	CredentialsKey string `mapstructure:"CREDENTIALS_KEY"`

	AuthIssuer   string `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL  string `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience string `mapstructure:"AUTH_AUDIENCE"`

	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "")
	v.SetDefault("REGISTRY_MAX_CONNS", 10)
	v.SetDefault("REGISTRY_MIN_CONNS", 2)
	v.SetDefault("TENANT_MAX_CONNS", 5)
	v.SetDefault("TENANT_MIN_CONNS", 1)
	v.SetDefault("TENANT_ACQUIRE_TIMEOUT", "5s")
	v.SetDefault("TENANT_IDLE_TIMEOUT", "5m")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("AUTH_MODE")
	v.BindEnv("DEV_TENANT_ID")
	v.BindEnv("REGISTRY_DATABASE_URL")
	v.BindEnv("REGISTRY_MAX_CONNS")
	v.BindEnv("REGISTRY_MIN_CONNS")
	v.BindEnv("PROVISION_ADMIN_URL")
	v.BindEnv("TENANT_MAX_CONNS")
	v.BindEnv("TENANT_MIN_CONNS")
	v.BindEnv("TENANT_ACQUIRE_TIMEOUT")
	v.BindEnv("TENANT_IDLE_TIMEOUT")
	v.BindEnv("MIGRATIONS_DIR")
	v.BindEnv("CREDENTIALS_KEY")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.RegistryDatabaseURL == "" {
		return nil, fmt.Errorf("REGISTRY_DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active; all requests get admin access.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: Set ENV=production and configure AUTH_ISSUER for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise the mode is inferred: development when
// ENV=development, external when AUTH_ISSUER is set.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "external"
}

// Validate checks that the configuration is safe to run. In non-development
// modes AUTH_ISSUER must be set so that real JWT authentication is enforced,
// and CREDENTIALS_KEY must be a valid 64-character hex string (32 bytes)
// because tenant database passwords are encrypted with it.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	if mode == "external" && c.AuthIssuer == "" {
		return fmt.Errorf(
			"AUTH_ISSUER must be set when AUTH_MODE is \"external\" (current ENV=%q). "+
				"Refusing to start without authentication configuration", c.Env)
	}
	if mode != "development" && mode != "external" {
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"external\", got %q", mode)
	}

	if c.IsProduction() && c.CredentialsKey == "" {
		return fmt.Errorf("CREDENTIALS_KEY is required in production")
	}
	if c.CredentialsKey != "" {
		keyBytes, err := hex.DecodeString(c.CredentialsKey)
		if err != nil {
			return fmt.Errorf("CREDENTIALS_KEY is not valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("CREDENTIALS_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
		}
	}

	if c.TenantMaxConns <= 0 {
		return fmt.Errorf("TENANT_MAX_CONNS must be positive, got %d", c.TenantMaxConns)
	}
	if c.TenantMinConns < 0 || c.TenantMinConns > c.TenantMaxConns {
		return fmt.Errorf("TENANT_MIN_CONNS must be between 0 and TENANT_MAX_CONNS, got %d", c.TenantMinConns)
	}
	if c.TenantAcquireTimeout <= 0 {
		return fmt.Errorf("TENANT_ACQUIRE_TIMEOUT must be positive, got %s", c.TenantAcquireTimeout)
	}

	return nil
}
