package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
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

	"github.com/ehr/dxenrich/internal/config"
	"github.com/ehr/dxenrich/internal/domain/enrichment"
	"github.com/ehr/dxenrich/internal/platform/auth"
	"github.com/ehr/dxenrich/internal/platform/db"
	"github.com/ehr/dxenrich/internal/platform/icd10"
	"github.com/ehr/dxenrich/internal/platform/middleware"
	"github.com/ehr/dxenrich/migrations"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "dxenrich",
		Short:        "Patient diagnosis code enrichment",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(enrichCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newResolvers builds the two lookup clients behind the strategies: one that
// opens a fresh connection per lookup and one pooled client shared by the
// reused and concurrent strategies.
func newResolvers(cfg *config.Config, logger zerolog.Logger) (enrichment.Resolvers, error) {
	common := []icd10.Option{
		icd10.WithTimeout(cfg.LookupTimeout),
		icd10.WithMaxRetries(cfg.LookupMaxRetries),
		icd10.WithInsecureSkipVerify(cfg.LookupInsecureSkipVerify),
		icd10.WithRateLimit(cfg.LookupRateLimit, cfg.LookupRateBurst),
		icd10.WithLogger(logger.With().Str("component", "icd10").Logger()),
	}
	if cfg.LookupInsecureSkipVerify {
		logger.Warn().Msg("TLS certificate verification is disabled for lookups")
	}

	fresh, err := icd10.NewClient(cfg.LookupBaseURL, append(common, icd10.WithFreshConnections())...)
	if err != nil {
		return nil, fmt.Errorf("create lookup client: %w", err)
	}
	pooled, err := icd10.NewClient(cfg.LookupBaseURL, append(common, icd10.WithMaxConnsPerHost(cfg.FanoutWorkers))...)
	if err != nil {
		return nil, fmt.Errorf("create lookup client: %w", err)
	}

	return enrichment.NewResolvers(fresh, pooled,
		enrichment.WithKeywords(enrichment.NewPriorityKeywords(cfg.PriorityKeywords...)),
		enrichment.WithWorkers(cfg.FanoutWorkers),
		enrichment.WithFailFast(cfg.LookupFailFast),
		enrichment.WithResolverLogger(logger.With().Str("component", "resolver").Logger()),
	), nil
}

func newService(cfg *config.Config, logger zerolog.Logger, runs enrichment.RunRepository) (*enrichment.Service, error) {
	resolvers, err := newResolvers(cfg, logger)
	if err != nil {
		return nil, err
	}
	return enrichment.NewService(resolvers, runs, enrichment.Strategy(cfg.DefaultStrategy), logger)
}

// ---------------------------------------------------------------------------
// serve
// ---------------------------------------------------------------------------

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the enrichment API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// newServer wires middleware and routes. pool may be nil when run history is
// kept in memory.
func newServer(cfg *config.Config, logger zerolog.Logger, svc *enrichment.Service, pool *pgxpool.Pool) (*echo.Echo, error) {
	bodyLimit, err := cfg.BodyLimitBytes()
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(db.NewChecker(pool)))
	}

	apiV1 := e.Group("/api/v1",
		middleware.BodyLimit(bodyLimit),
		middleware.RequestTimeout(cfg.RequestTimeout),
		middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
			IdleTTL:           10 * time.Minute,
		}),
	)
	if cfg.AuthEnabled() {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	} else if !cfg.IsDev() {
		logger.Warn().Msg("AUTH_SIGNING_KEY is not set; the enrichment API is unauthenticated")
	}

	enrichment.NewHandler(svc).RegisterRoutes(apiV1)
	return e, nil
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env, os.Stdout)

	ctx := context.Background()
	var (
		pool *pgxpool.Pool
		runs enrichment.RunRepository
	)
	if cfg.HasDatabase() {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")
		runs = enrichment.NewRunRepoPG(pool)
	} else {
		logger.Info().Int("limit", cfg.RunHistoryLimit).Msg("keeping run history in memory")
		runs = enrichment.NewMemoryRunRepo(cfg.RunHistoryLimit)
	}

	svc, err := newService(cfg, logger, runs)
	if err != nil {
		return err
	}
	e, err := newServer(cfg, logger, svc, pool)
	if err != nil {
		return err
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().
			Str("addr", addr).
			Str("default_strategy", cfg.DefaultStrategy).
			Int("workers", cfg.FanoutWorkers).
			Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// ---------------------------------------------------------------------------
// enrich
// ---------------------------------------------------------------------------

func enrichCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Enrich a batch of patient records and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			strategy, _ := cmd.Flags().GetString("strategy")
			pretty, _ := cmd.Flags().GetBool("pretty")
			stats, _ := cmd.Flags().GetBool("stats")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// stdout carries the report; logs go to stderr
			logger := newLogger(cfg.Env, os.Stderr)
			svc, err := newService(cfg, logger, nil)
			if err != nil {
				return err
			}

			in := io.Reader(os.Stdin)
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer f.Close()
				in = f
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runEnrich(ctx, svc, in, cmd.OutOrStdout(), enrichOptions{
				strategy: strategy,
				pretty:   pretty,
				stats:    stats,
			})
		},
	}
	cmd.Flags().StringP("file", "f", "-", "Patient records JSON file, - for stdin")
	cmd.Flags().StringP("strategy", "s", "", "sequential, reused or concurrent (default from DEFAULT_STRATEGY)")
	cmd.Flags().Bool("pretty", false, "Indent the JSON output")
	cmd.Flags().Bool("stats", false, "Print the whole run including statistics instead of only the report")
	return cmd
}

type enrichOptions struct {
	strategy string
	pretty   bool
	stats    bool
}

func runEnrich(ctx context.Context, svc *enrichment.Service, in io.Reader, out io.Writer, opts enrichOptions) error {
	body, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	records, err := enrichment.DecodePatients(body)
	if err != nil {
		return fmt.Errorf("decode patient records: %w", err)
	}

	run, err := svc.Run(ctx, opts.strategy, records)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	if opts.pretty {
		enc.SetIndent("", "  ")
	}
	if opts.stats {
		return enc.Encode(run)
	}
	return enc.Encode(run.Report)
}

// ---------------------------------------------------------------------------
// migrate
// ---------------------------------------------------------------------------

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the run history schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(ctx context.Context, fn func(context.Context, *db.Migrator) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.HasDatabase() {
		return errors.New("DATABASE_URL is required for migrations")
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, db.NewMigrator(pool, migrations.FS))
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}
