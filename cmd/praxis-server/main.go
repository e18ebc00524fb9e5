package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/praxis/praxis/internal/config"
	"github.com/praxis/praxis/internal/domain/billing"
	"github.com/praxis/praxis/internal/domain/catalog"
	"github.com/praxis/praxis/internal/domain/onboarding"
	"github.com/praxis/praxis/internal/domain/patient"
	"github.com/praxis/praxis/internal/domain/records"
	"github.com/praxis/praxis/internal/domain/scheduling"
	"github.com/praxis/praxis/internal/platform/auth"
	"github.com/praxis/praxis/internal/platform/metrics"
	"github.com/praxis/praxis/internal/platform/middleware"
	"github.com/praxis/praxis/internal/platform/registry"
	"github.com/praxis/praxis/internal/platform/secrets"
	"github.com/praxis/praxis/internal/platform/tenantdb"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "praxis-server",
		Short: "Multi-tenant clinic management API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// devCredentialsKey is used when CREDENTIALS_KEY is unset in development.
// Validate refuses to start production without a real key.
var devCredentialsKey = []byte("praxis-development-key-32-bytes!")

func keyRing(cfg *config.Config, logger zerolog.Logger) (*secrets.KeyRing, error) {
	if cfg.CredentialsKey == "" {
		logger.Warn().Msg("CREDENTIALS_KEY not set, using built-in development key")
		return secrets.NewKeyRing(devCredentialsKey, 1)
	}
	key, err := hex.DecodeString(cfg.CredentialsKey)
	if err != nil {
		return nil, fmt.Errorf("decode CREDENTIALS_KEY: %w", err)
	}
	return secrets.NewKeyRing(key, 1)
}

// openRegistry connects to the central registry database and wires the
// tenant metadata service on top of it.
func openRegistry(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, *registry.Service, error) {
	pool, err := tenantdb.NewPool(ctx, cfg.RegistryDatabaseURL, tenantdb.PoolOptions{
		MaxConns: cfg.RegistryMaxConns,
		MinConns: cfg.RegistryMinConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect registry database: %w", err)
	}
	if err := registry.Bootstrap(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("bootstrap registry schema: %w", err)
	}

	keys, err := keyRing(cfg, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	server, err := serverInfoFromDSN(cfg.ProvisionAdminURL)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	reg := registry.NewService(registry.NewStorePG(pool), keys, server)
	return pool, reg, nil
}

func serverInfoFromDSN(dsn string) (registry.ServerInfo, error) {
	if dsn == "" {
		// Without an admin DSN the provisioner cannot run, but read paths
		// still work. New tenant databases default to the local server.
		return registry.ServerInfo{Host: "localhost", Port: 5432}, nil
	}
	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return registry.ServerInfo{}, fmt.Errorf("parse PROVISION_ADMIN_URL: %w", err)
	}
	return registry.ServerInfo{
		Host: pc.ConnConfig.Host,
		Port: int(pc.ConnConfig.Port),
	}, nil
}

// skipWhen applies a middleware everywhere except where the skipper says
// not to. JWT verification and tenant routing use different skippers: the
// lifecycle API is exempt from tenant routing but still authenticated.
func skipWhen(skip func(echo.Context) bool, mw echo.MiddlewareFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		guarded := mw(next)
		return func(c echo.Context) error {
			if skip(c) {
				return next(c)
			}
			return guarded(c)
		}
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx := context.Background()
	regPool, reg, err := openRegistry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer regPool.Close()
	logger.Info().Msg("connected to registry database")

	cache := tenantdb.NewCache(reg, tenantdb.PoolOptions{
		MaxConns:       cfg.TenantMaxConns,
		MinConns:       cfg.TenantMinConns,
		AcquireTimeout: cfg.TenantAcquireTimeout,
		IdleTimeout:    cfg.TenantIdleTimeout,
	}, logger)
	defer cache.Close()

	var provisioner *tenantdb.Provisioner
	if cfg.ProvisionAdminURL != "" {
		adminPool, err := tenantdb.NewPool(ctx, cfg.ProvisionAdminURL, tenantdb.PoolOptions{MaxConns: 2})
		if err != nil {
			return fmt.Errorf("connect admin database: %w", err)
		}
		defer adminPool.Close()
		provisioner = tenantdb.NewProvisioner(reg, adminPool, cfg.MigrationsDir, logger)
	} else {
		logger.Warn().Msg("PROVISION_ADMIN_URL not set, tenant provisioning disabled")
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Authentication, then tenant routing. Health, metrics and the open
	// onboarding routes skip auth; the whole lifecycle API additionally
	// skips tenant routing because it runs against the central registry.
	if cfg.ResolvedAuthMode() == "development" {
		e.Use(skipWhen(auth.AuthSkipper, auth.DevAuthMiddleware(cfg.DevTenantID)))
	} else {
		e.Use(skipWhen(auth.AuthSkipper, auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		})))
	}
	e.Use(skipWhen(auth.TenantSkipper, tenantdb.Middleware(cache)))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": "0.1.0"})
	})
	e.GET("/health/db", func(c echo.Context) error {
		pingCtx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := regPool.Ping(pingCtx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "down"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "tenant_pools": fmt.Sprintf("%d", cache.PoolCount())})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Operator-facing tenant lifecycle.
	var prov onboarding.Provisioner
	if provisioner != nil {
		prov = provisioner
	}
	onboardingSvc := onboarding.NewService(reg, prov, cache, logger)
	onboarding.NewHandler(onboardingSvc).RegisterRoutes(apiV1)

	// Tenant-scoped domain APIs.
	patient.NewHandler(patient.NewService(patient.NewRepoPG())).RegisterRoutes(apiV1)
	scheduling.NewHandler(scheduling.NewService(scheduling.NewRepoPG())).RegisterRoutes(apiV1)
	records.NewHandler(records.NewService(records.NewRecordRepoPG(), records.NewConsentRepoPG())).RegisterRoutes(apiV1)
	catalog.NewHandler(catalog.NewService(catalog.NewRepoPG())).RegisterRoutes(apiV1)
	billing.NewHandler(billing.NewService(billing.NewRepoPG())).RegisterRoutes(apiV1)

	// Serve
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("server starting")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run tenant database migrations",
	}

	resolveTenantDSN := func(ctx context.Context, tenantRef string) (string, func(), error) {
		cfg, err := config.Load()
		if err != nil {
			return "", nil, err
		}
		logger := newLogger(cfg)
		regPool, reg, err := openRegistry(ctx, cfg, logger)
		if err != nil {
			return "", nil, err
		}
		cleanup := func() { regPool.Close() }

		t, err := lookupTenant(ctx, reg, tenantRef)
		if err != nil {
			cleanup()
			return "", nil, err
		}
		dsn, err := reg.ConnString(t)
		if err != nil {
			cleanup()
			return "", nil, err
		}
		return dsn, cleanup, nil
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations to one tenant's database",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantRef, _ := cmd.Flags().GetString("tenant")
			dir, _ := cmd.Flags().GetString("dir")
			if tenantRef == "" {
				return fmt.Errorf("--tenant is required")
			}

			ctx := context.Background()
			dsn, cleanup, err := resolveTenantDSN(ctx, tenantRef)
			if err != nil {
				return err
			}
			defer cleanup()

			pool, err := tenantdb.NewPool(ctx, dsn, tenantdb.PoolOptions{MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := tenantdb.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s).\n", count)
			return nil
		},
	}
	upCmd.Flags().String("tenant", "", "Tenant id or slug")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status for one tenant's database",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantRef, _ := cmd.Flags().GetString("tenant")
			dir, _ := cmd.Flags().GetString("dir")
			if tenantRef == "" {
				return fmt.Errorf("--tenant is required")
			}

			ctx := context.Background()
			dsn, cleanup, err := resolveTenantDSN(ctx, tenantRef)
			if err != nil {
				return err
			}
			defer cleanup()

			pool, err := tenantdb.NewPool(ctx, dsn, tenantdb.PoolOptions{MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := tenantdb.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("tenant", "", "Tenant id or slug")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func lookupTenant(ctx context.Context, reg *registry.Service, ref string) (*registry.Tenant, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return reg.Store().GetAny(ctx, id)
	}
	return reg.Store().GetBySlug(ctx, ref)
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	withRegistry := func(run func(ctx context.Context, cfg *config.Config, reg *registry.Service, logger zerolog.Logger) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			ctx := context.Background()
			regPool, reg, err := openRegistry(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer regPool.Close()
			return run(ctx, cfg, reg, logger)
		}
	}

	newProvisioner := func(ctx context.Context, cfg *config.Config, reg *registry.Service, logger zerolog.Logger) (*tenantdb.Provisioner, func(), error) {
		if cfg.ProvisionAdminURL == "" {
			return nil, nil, fmt.Errorf("PROVISION_ADMIN_URL is required for this command")
		}
		adminPool, err := tenantdb.NewPool(ctx, cfg.ProvisionAdminURL, tenantdb.PoolOptions{MaxConns: 2})
		if err != nil {
			return nil, nil, err
		}
		return tenantdb.NewProvisioner(reg, adminPool, cfg.MigrationsDir, logger), adminPool.Close, nil
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register a tenant and provision its database",
	}
	createCmd.Flags().String("name", "", "Clinic name")
	createCmd.Flags().String("country", "", "ISO country code")
	createCmd.RunE = func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		country, _ := cmd.Flags().GetString("country")
		if name == "" {
			return fmt.Errorf("--name is required")
		}
		return withRegistry(func(ctx context.Context, cfg *config.Config, reg *registry.Service, logger zerolog.Logger) error {
			t, err := reg.CreateTenant(ctx, name, country)
			if err != nil {
				return err
			}
			fmt.Printf("Created tenant %s (database %s)\n", t.ID, t.Storage.Database)

			prov, cleanup, err := newProvisioner(ctx, cfg, reg, logger)
			if err != nil {
				fmt.Println("Skipping provisioning:", err)
				return nil
			}
			defer cleanup()
			if err := prov.Provision(ctx, t.ID); err != nil {
				return fmt.Errorf("provisioning failed: %w", err)
			}
			fmt.Println("Tenant provisioned and ready.")
			return nil
		})(cmd, args)
	}
	cmd.AddCommand(createCmd)

	provisionCmd := &cobra.Command{
		Use:   "provision <tenant>",
		Short: "Provision (or retry provisioning) a tenant's database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(func(ctx context.Context, cfg *config.Config, reg *registry.Service, logger zerolog.Logger) error {
				t, err := lookupTenant(ctx, reg, args[0])
				if err != nil {
					return err
				}
				prov, cleanup, err := newProvisioner(ctx, cfg, reg, logger)
				if err != nil {
					return err
				}
				defer cleanup()
				if err := prov.Provision(ctx, t.ID); err != nil {
					return err
				}
				fmt.Println("Tenant provisioned and ready.")
				return nil
			})(cmd, args)
		},
	}
	cmd.AddCommand(provisionCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(func(ctx context.Context, cfg *config.Config, reg *registry.Service, logger zerolog.Logger) error {
				tenants, total, err := reg.Store().List(ctx, 100, 0)
				if err != nil {
					return err
				}
				fmt.Printf("%-36s %-24s %-14s %-8s %s\n", "ID", "SLUG", "STATUS", "ACTIVE", "DATABASE")
				for _, t := range tenants {
					fmt.Printf("%-36s %-24s %-14s %-8t %s\n", t.ID, t.Slug, t.Status, t.IsActive, t.Storage.Database)
				}
				fmt.Printf("%d tenant(s)\n", total)
				return nil
			})(cmd, args)
		},
	}
	cmd.AddCommand(listCmd)

	deactivateCmd := &cobra.Command{
		Use:   "deactivate <tenant>",
		Short: "Deactivate a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(func(ctx context.Context, cfg *config.Config, reg *registry.Service, logger zerolog.Logger) error {
				t, err := lookupTenant(ctx, reg, args[0])
				if err != nil {
					return err
				}
				if err := reg.Store().Deactivate(ctx, t.ID); err != nil {
					return err
				}
				fmt.Printf("Tenant %s deactivated. Its database is retained.\n", t.ID)
				return nil
			})(cmd, args)
		},
	}
	cmd.AddCommand(deactivateCmd)

	rotateCmd := &cobra.Command{
		Use:   "rotate-credentials <tenant>",
		Short: "Rotate a tenant's database password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(func(ctx context.Context, cfg *config.Config, reg *registry.Service, logger zerolog.Logger) error {
				t, err := lookupTenant(ctx, reg, args[0])
				if err != nil {
					return err
				}
				prov, cleanup, err := newProvisioner(ctx, cfg, reg, logger)
				if err != nil {
					return err
				}
				defer cleanup()
				if err := prov.RotateCredentials(ctx, t.ID, nil); err != nil {
					return err
				}
				fmt.Println("Credentials rotated.")
				return nil
			})(cmd, args)
		},
	}
	cmd.AddCommand(rotateCmd)

	return cmd
}
