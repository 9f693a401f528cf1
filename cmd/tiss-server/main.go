package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicflow/tiss/internal/config"
	"github.com/clinicflow/tiss/internal/domain/glosa"
	"github.com/clinicflow/tiss/internal/platform/auth"
	"github.com/clinicflow/tiss/internal/platform/db"
	"github.com/clinicflow/tiss/internal/platform/metrics"
	"github.com/clinicflow/tiss/internal/platform/middleware"
	"github.com/clinicflow/tiss/internal/platform/openapi"
	"github.com/clinicflow/tiss/internal/platform/prediction"
	"github.com/clinicflow/tiss/internal/tiss"
	"github.com/clinicflow/tiss/migrations"
)

const (
	version         = "0.1.0"
	requestTimeout  = 60 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "tiss-server",
		Short:        "TISS guide validation and glosa risk API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(autofixCmd())
	rootCmd.AddCommand(rulesCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServer(cfg, newLogger(cfg))
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Create the tenant schema and apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			return withPool(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool, cfg *config.Config) error {
				if tenant == "" {
					tenant = cfg.DefaultTenant
				}
				fmt.Printf("Running migrations on schema: %s\n", db.SchemaName(tenant))
				count, err := db.CreateTenantSchema(ctx, pool, tenant, migrations.FS)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("tenant", "", "Tenant identifier (defaults to DEFAULT_TENANT)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			return withPool(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool, cfg *config.Config) error {
				if tenant == "" {
					tenant = cfg.DefaultTenant
				}
				if !db.ValidTenantID(tenant) {
					return fmt.Errorf("invalid tenant identifier: %q", tenant)
				}
				schema := db.SchemaName(tenant)
				statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}

				fmt.Printf("Migration status for schema: %s\n", schema)
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
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
			})
		},
	}
	statusCmd.Flags().String("tenant", "", "Tenant identifier (defaults to DEFAULT_TENANT)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func withPool(ctx context.Context, fn func(context.Context, *pgxpool.Pool, *config.Config) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.Persistent() {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, pool, cfg)
}

// buildEngine assembles the validator and analyzer: built-in rules plus the
// optional rule file, and the Gemini augmentor when an API key is set.
func buildEngine(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*tiss.Analyzer, *tiss.Validator, error) {
	var regOpts []tiss.RegistryOption
	if cfg.RulesFile != "" {
		opts, err := tiss.LoadRuleFile(cfg.RulesFile)
		if err != nil {
			return nil, nil, err
		}
		regOpts = append(regOpts, opts...)
		logger.Info().Str("file", cfg.RulesFile).Int("operators", len(opts)).Msg("loaded operator rule file")
	}
	registry := tiss.NewRegistry(nil, regOpts...)
	validator := tiss.NewValidator(nil)
	recorder := metrics.NewRecorder()

	var predictor tiss.Predictor
	if cfg.PredictionEnabled() {
		p, err := prediction.NewGeminiPredictor(ctx, cfg.GeminiAPIKey, cfg.PredictionModel, logger)
		if err != nil {
			return nil, nil, err
		}
		predictor = p
	}
	aug := tiss.NewAugmentor(predictor, tiss.AugmentorConfig{
		Timeout:           cfg.PredictionTimeout,
		RequestsPerSecond: cfg.PredictionRPS,
		Burst:             cfg.PredictionConcurrency,
		MaxConcurrent:     cfg.PredictionConcurrency,
	}, logger, recorder)

	analyzer := tiss.NewAnalyzer(registry, validator,
		tiss.WithAugmentor(aug),
		tiss.WithRecorder(recorder),
		tiss.WithLogger(logger),
	)
	return analyzer, validator, nil
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx := context.Background()

	// Database is optional; without it analyses are not stored.
	var pool *pgxpool.Pool
	var repo glosa.AnalysisRepository
	if cfg.Persistent() {
		p, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer p.Close()
		pool = p
		logger.Info().Msg("connected to database")

		n, err := db.CreateTenantSchema(ctx, pool, cfg.DefaultTenant, migrations.FS)
		if err != nil {
			logger.Fatal().Err(err).Str("tenant", cfg.DefaultTenant).Msg("failed to migrate default tenant")
		}
		logger.Info().Int("applied", n).Str("tenant", cfg.DefaultTenant).Msg("default tenant schema ready")
		repo = glosa.NewAnalysisRepoPG(pool)
	} else {
		logger.Warn().Msg("DATABASE_URL not set, running without analysis history")
	}

	analyzer, validator, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build analysis engine")
	}
	svc := glosa.NewService(analyzer, validator, repo, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M", "10M"))
	e.Use(middleware.RequestTimeout(requestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", db.TenantHeader},
	}))

	// Auth middleware
	if cfg.AuthSigningKey == "" {
		logger.Warn().Msg("development mode: every request is treated as admin, do not use in production")
		e.Use(auth.DevAuthMiddleware(cfg.DefaultTenant))
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", db.HealthHandler(pool))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
	}))
	apiV1.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))
	glosaHandler := glosa.NewHandler(svc)
	glosaHandler.RegisterRoutes(apiV1)
	openapi.NewGenerator("TISS Glosa Risk API", version, "/", glosaHandler.Operations(), glosa.Schemas()).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("persistent", svc.Persistent()).Bool("prediction", cfg.PredictionEnabled()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
