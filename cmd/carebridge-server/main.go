package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/carebridge/carebridge/internal/config"
	"github.com/carebridge/carebridge/internal/domain/auditevent"
	"github.com/carebridge/carebridge/internal/domain/client"
	"github.com/carebridge/carebridge/internal/domain/record"
	"github.com/carebridge/carebridge/internal/platform/audit"
	"github.com/carebridge/carebridge/internal/platform/auth"
	"github.com/carebridge/carebridge/internal/platform/authz"
	"github.com/carebridge/carebridge/internal/platform/db"
	"github.com/carebridge/carebridge/internal/platform/hipaa"
	"github.com/carebridge/carebridge/internal/platform/middleware"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "carebridge-server",
		Short: "CareBridge PHI request mediation service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(keygenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}

	var dir string
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("applied %d migration(s)\n", count)
			return nil
		},
	}
	upCmd.Flags().StringVar(&dir, "dir", "migrations", "migrations directory")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return err
			}
			for _, s := range statuses {
				state := "pending"
				if s.Applied {
					state = "applied " + s.AppliedAt.Format(time.RFC3339)
				}
				fmt.Printf("%03d %-40s %s\n", s.Version, s.Name, state)
			}
			return nil
		},
	}
	statusCmd.Flags().StringVar(&dir, "dir", "migrations", "migrations directory")

	cmd.AddCommand(upCmd)
	cmd.AddCommand(statusCmd)
	return cmd
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a master key or hash secret (hex, 32 bytes)",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				return err
			}
			fmt.Println(hex.EncodeToString(key))
			return nil
		},
	}
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// PHI cipher
	cipher, keys, err := buildCipher(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize PHI cipher")
	}
	logger.Info().Int("key_version", keys.CurrentVersion()).Msg("PHI cipher ready")

	// Identity resolution
	verifier := auth.NewJWTVerifier(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
	})
	resolver := auth.NewResolver(verifier)

	// Authorization engine
	ruleset, err := authz.NewRuleset(authz.DefaultRules())
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid access rules")
	}
	engine := authz.NewEngine(ruleset,
		authz.NewPGOwnershipSource(pool),
		authz.NewPGDelegationSource(pool))

	// Audit trail
	store := audit.NewPGStore(pool)
	recorder := audit.NewRecorder(store)

	pipeline := &middleware.Pipeline{
		Resolver: resolver,
		Engine:   engine,
		Recorder: recorder,
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorResponder(logger, recorder)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// API group
	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Domain handlers
	clientSvc := client.NewService(client.NewRepoPG(pool), cipher)
	client.NewHandler(clientSvc).RegisterRoutes(apiV1, pipeline)

	recordSvc := record.NewService(record.NewRepoPG(pool), pool, cipher)
	record.NewHandler(recordSvc).RegisterRoutes(apiV1, pipeline)

	auditSvc := auditevent.NewService(store)
	auditevent.NewHandler(auditSvc).RegisterRoutes(apiV1, pipeline)

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
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

// buildCipher assembles the rotating key service and cipher from config. In
// development, missing key material is generated on the fly; everything
// encrypted under a generated key is unreadable after restart, which is fine
// for local work and impossible to ship by accident because Validate rejects
// a production config without explicit keys.
func buildCipher(cfg *config.Config, logger zerolog.Logger) (*hipaa.Cipher, *hipaa.RotatingKeyService, error) {
	masterKey, err := cfg.MasterKey()
	if cfg.PHIMasterKey == "" {
		masterKey = make([]byte, 32)
		if _, err := rand.Read(masterKey); err != nil {
			return nil, nil, err
		}
		logger.Warn().Msg("PHI_MASTER_KEY not set, using a generated key (development only)")
	} else if err != nil {
		return nil, nil, err
	}

	current, err := hipaa.NewLocalKeyService(masterKey)
	if err != nil {
		return nil, nil, err
	}
	keys := hipaa.NewRotatingKeyService(current, cfg.PHIMasterKeyVersion)

	previous, err := cfg.PreviousKeys()
	if err != nil {
		return nil, nil, err
	}
	for ver, key := range previous {
		svc, err := hipaa.NewLocalKeyService(key)
		if err != nil {
			return nil, nil, err
		}
		keys.AddPreviousVersion(svc, ver)
	}

	hashSecret := []byte(cfg.PHIHashSecret)
	if len(hashSecret) == 0 {
		hashSecret = make([]byte, 32)
		if _, err := rand.Read(hashSecret); err != nil {
			return nil, nil, err
		}
		logger.Warn().Msg("PHI_HASH_SECRET not set, using a generated secret (development only)")
	}

	cipher, err := hipaa.NewCipher(keys, hashSecret)
	if err != nil {
		return nil, nil, err
	}
	return cipher, keys, nil
}
