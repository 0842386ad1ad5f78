package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jw6ventures/formsheets/internal/api"
	"github.com/jw6ventures/formsheets/internal/auth"
	"github.com/jw6ventures/formsheets/internal/config"
	"github.com/jw6ventures/formsheets/internal/connect"
	httpserver "github.com/jw6ventures/formsheets/internal/http"
	"github.com/jw6ventures/formsheets/internal/http/ratelimit"
	"github.com/jw6ventures/formsheets/internal/logging"
	"github.com/jw6ventures/formsheets/internal/sheets"
	"github.com/jw6ventures/formsheets/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "formsheets",
	Short:         "Form to Google Sheets bridge",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		pool, err := pgxpool.New(cmd.Context(), cfg.DB.DSN)
		if err != nil {
			return fmt.Errorf("create db pool: %w", err)
		}
		defer pool.Close()
		return store.ApplyMigrations(cmd.Context(), pool, logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Environment)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}

func serve(ctx context.Context) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting formsheets", zap.String("env", cfg.Environment))

	pool, err := pgxpool.New(ctx, cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("create db pool: %w", err)
	}
	defer pool.Close()

	if err := store.ApplyMigrations(ctx, pool, logger); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	stor := store.New(pool)

	provider, err := connect.NewGoogleProvider(ctx, connect.ProviderConfig{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		RedirectURL:  cfg.RedirectURL(),
		IssuerURL:    cfg.OAuth.IssuerURL,
		Scopes:       cfg.OAuth.Scopes,
	})
	if err != nil {
		return fmt.Errorf("init identity provider: %w", err)
	}
	spreadsheets := sheets.NewGoogleService(provider.OAuth2Config())

	sessions := auth.NewSessionManager(cfg)
	accounts := auth.NewService(stor.Users, sessions, logger.Named("auth"))
	guard := auth.NewGuard(sessions, stor.Users, logger.Named("auth"))
	ctrl := connect.NewController(stor.Forms, stor.Connections, provider, cfg.External.Timeout, logger.Named("connect"))
	binder := sheets.NewBinder(stor.Forms, stor.Connections, spreadsheets, cfg.External.Timeout, logger.Named("sheets"))

	// Auth endpoints: 5 requests per second, burst of 10
	authLimiter := ratelimit.NewIPRateLimiter("auth", rate.Limit(5), 10, 5*time.Minute, cfg.TrustedProxies)
	go authLimiter.Run(ctx)

	r := httpserver.NewRouter(httpserver.Deps{
		Config:      cfg,
		API:         api.NewHandler(cfg, stor, sessions, accounts, ctrl, binder, logger.Named("api")),
		Guard:       guard,
		AuthLimiter: authLimiter,
		Ready:       stor.HealthCheck,
		Logger:      logger.Named("http"),
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2*cfg.External.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
