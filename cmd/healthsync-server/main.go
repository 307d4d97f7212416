package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/healthsync/healthsync/internal/config"
	"github.com/healthsync/healthsync/internal/domain/appointment"
	"github.com/healthsync/healthsync/internal/domain/identity"
	"github.com/healthsync/healthsync/internal/platform/apperr"
	"github.com/healthsync/healthsync/internal/platform/auth"
	"github.com/healthsync/healthsync/internal/platform/db"
	"github.com/healthsync/healthsync/internal/platform/middleware"
)

const (
	bodyLimit       = "1M"
	shutdownTimeout = 10 * time.Second
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "healthsync-server",
		Short: "HealthSync clinic scheduling API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(userCmd())

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

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			return withPool(func(ctx context.Context, cfg *config.Config, m *db.Migrator) error {
				fmt.Printf("Running migrations on schema: %s\n", schema)
				count, err := m.Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			}, dir)
		},
	}
	upCmd.Flags().String("schema", db.DefaultSchema, "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			return withPool(func(ctx context.Context, cfg *config.Config, m *db.Migrator) error {
				statuses, err := m.Status(ctx, schema)
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
			}, dir)
		},
	}
	statusCmd.Flags().String("schema", db.DefaultSchema, "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func withPool(fn func(ctx context.Context, cfg *config.Config, m *db.Migrator) error, dir string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if dir == "" {
		dir = cfg.MigrationsDir
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, cfg, db.NewMigrator(pool, dir))
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	createAdmin := &cobra.Command{
		Use:   "create-admin",
		Short: "Create a staff user",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			if password == "" {
				password = os.Getenv("ADMIN_PASSWORD")
			}
			if username == "" || password == "" {
				return fmt.Errorf("--username and --password (or ADMIN_PASSWORD) are required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			revocations := auth.NewMemoryRevocationStore(0)
			defer revocations.Close()

			svc := identity.NewService(
				identity.NewUserRepo(pool), identity.NewDoctorRepo(pool), identity.NewPatientRepo(pool),
				auth.NewTokens(tokenConfig(cfg)), revocations, db.NewTxRunner(pool), newLogger(cfg),
			)
			u, err := svc.CreateAdmin(ctx, username, email, password)
			if err != nil {
				return err
			}
			fmt.Printf("Created staff user %s (%s)\n", u.Username, u.ID)
			return nil
		},
	}
	createAdmin.Flags().String("username", "", "Username")
	createAdmin.Flags().String("email", "", "Email address")
	createAdmin.Flags().String("password", "", "Password (prefer ADMIN_PASSWORD)")
	cmd.AddCommand(createAdmin)

	return cmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func tokenConfig(cfg *config.Config) auth.TokenConfig {
	return auth.TokenConfig{
		Secret:     []byte(cfg.JWTSecret),
		Issuer:     cfg.JWTIssuer,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	}
}

func rateLimitConfig(rps float64, burst int) middleware.RateLimitConfig {
	rl := middleware.DefaultRateLimitConfig()
	if rps > 0 {
		rl.RequestsPerSecond = rps
	}
	if burst > 0 {
		rl.BurstSize = burst
	}
	return rl
}

// openRevocationStore uses Redis when REDIS_URL is set so revocations
// survive restarts and are shared between instances.
func openRevocationStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (auth.RevocationStore, error) {
	if cfg.RedisURL == "" {
		logger.Info().Msg("token revocation: in-memory store")
		return auth.NewMemoryRevocationStore(0), nil
	}
	store, err := auth.NewRedisRevocationStore(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("token revocation: redis store")
	return store, nil
}

// ipExtractor decides which address c.RealIP reports and so which key the
// rate limiters use. X-Forwarded-For is only honoured when the peer is one
// of the trusted proxies.
func ipExtractor(proxies []*net.IPNet) echo.IPExtractor {
	if len(proxies) == 0 {
		return echo.ExtractIPDirect()
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, p := range proxies {
		opts = append(opts, echo.TrustIPRange(p))
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}

// server bundles what the router needs.
type server struct {
	cfg          *config.Config
	logger       zerolog.Logger
	tokens       *auth.Tokens
	revocations  auth.RevocationStore
	principals   identity.PrincipalResolver
	identity     *identity.Handler
	appointments *appointment.Handler
	limiter      *middleware.RateLimiter
	db           db.Pinger
	poolStats    func() *db.PoolStats
}

func (s *server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(s.logger)
	proxies, _ := s.cfg.ProxyRanges()
	e.IPExtractor = ipExtractor(proxies)

	e.Pre(echomw.RemoveTrailingSlash())

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(s.logger))
	e.Use(middleware.Recovery(s.logger))
	e.Use(middleware.SecurityHeaders(s.cfg.TLSEnabled))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  s.cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader, "X-Total-Count"},
	}))
	e.Use(echomw.BodyLimit(bodyLimit))
	e.Use(middleware.RequestTimeout(s.cfg.RequestTimeout))
	if s.limiter != nil {
		e.Use(middleware.RateLimit(s.limiter))
	}
	e.Use(auth.JWTMiddleware(auth.JWTConfig{
		Tokens:      s.tokens,
		Revocations: s.revocations,
		Skipper:     auth.AuthSkipper,
	}))
	e.Use(identity.PrincipalMiddleware(s.principals))

	e.GET("/health", db.LivenessHandler())
	e.GET("/health/db", db.HealthHandler(s.db, s.poolStats))

	root := e.Group("")
	s.identity.RegisterRoutes(root)
	s.appointments.RegisterRoutes(root)
	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	loc, _ := cfg.Location()

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	revocations, err := openRevocationStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open revocation store")
	}
	defer revocations.Close()

	tokens := auth.NewTokens(tokenConfig(cfg))
	tx := db.NewTxRunner(pool)

	identitySvc := identity.NewService(
		identity.NewUserRepo(pool), identity.NewDoctorRepo(pool), identity.NewPatientRepo(pool),
		tokens, revocations, tx, logger,
	)
	appointmentSvc := appointment.NewService(appointment.NewRepo(pool), tx, loc, logger)

	limiter := middleware.NewRateLimiter(rateLimitConfig(cfg.RateLimitRPS, cfg.RateLimitBurst))
	defer limiter.Close()
	authLimiter := middleware.NewRateLimiter(rateLimitConfig(cfg.AuthRateLimitRPS, cfg.AuthRateLimitBurst))
	defer authLimiter.Close()

	s := &server{
		cfg:          cfg,
		logger:       logger,
		tokens:       tokens,
		revocations:  revocations,
		principals:   identitySvc,
		identity:     identity.NewHandler(identitySvc, middleware.RateLimit(authLimiter)),
		appointments: appointment.NewHandler(appointmentSvc),
		limiter:      limiter,
		db:           pool,
		poolStats:    func() *db.PoolStats { return db.GetPoolStats(pool) },
	}
	e := s.routes()

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Str("clinic_timezone", loc.String()).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
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
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
