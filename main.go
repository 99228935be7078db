// File: /main.go
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

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"tourops-api/config"
	"tourops-api/database"
	"tourops-api/jobs"
	"tourops-api/routes"
	"tourops-api/services"
	"tourops-api/utils"
)

// app holds what every command needs
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB
}

func bootstrap() (*app, error) {
	cfg := config.Load()

	logger, err := utils.NewLogger(cfg.LogLevel, cfg.LogFormat, "tourops-api")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := database.Initialize(cfg.DBDriver, cfg.DatabaseURL, cfg.GinMode == gin.DebugMode)
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &app{cfg: cfg, logger: logger, db: db}, nil
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
	a.logger.Sync()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	serve := newServeCommand()

	cmd := &cobra.Command{
		Use:           "tourops-api",
		Short:         "Tour operations API",
		Long:          "Multi-tenant tour operations backend: trips, rounds, buses, passengers and round progress tracking.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}

	cmd.AddCommand(serve)
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newSeedCommand())
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()

			return database.Migrate(a.db, a.logger)
		},
	}
}

func newSeedCommand() *cobra.Command {
	var username, email, password string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the default roles and the admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				return errors.New("an admin password is required (--admin-password or ADMIN_PASSWORD)")
			}

			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()

			if err := database.Migrate(a.db, a.logger); err != nil {
				return err
			}
			return database.SeedData(a.db, username, email, password, a.logger)
		},
	}

	cmd.Flags().StringVar(&username, "admin-username", envOr("ADMIN_USERNAME", "admin"), "admin username")
	cmd.Flags().StringVar(&email, "admin-email", envOr("ADMIN_EMAIL", "admin@tourops.local"), "admin email")
	cmd.Flags().StringVar(&password, "admin-password", os.Getenv("ADMIN_PASSWORD"), "admin password")
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()

			return serve(cmd.Context(), a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(a.db, logger); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := utils.RegisterValidators(); err != nil {
		return err
	}
	gin.SetMode(cfg.GinMode)

	// Redis cache, optional
	var cache *services.CacheService
	if cfg.RedisAddr != "" {
		client, err := services.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Warn("Redis unavailable, caching disabled", zap.Error(err))
		} else {
			defer client.Close()
			cache = services.NewCacheService(client, cfg.CacheTTL, logger)
		}
	}

	// MQTT notifications, optional
	var notifier services.Notifier = services.NopNotifier{}
	if cfg.MQTTBroker != "" {
		mqttClient, err := services.NewMQTTClient(cfg, logger)
		if err != nil {
			logger.Warn("MQTT unavailable, notifications disabled", zap.Error(err))
		} else {
			defer mqttClient.Disconnect()
			notifier = services.NewMQTTNotifier(mqttClient, cfg.MQTTTopicPrefix, cfg.MQTTQoS, logger)
		}
	}

	emailService := services.NewEmailService(cfg, logger)
	if emailService == nil {
		logger.Info("SMTP not configured, emails disabled")
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := emailService.Close(closeCtx); err != nil {
			logger.Warn("Pending emails not sent", zap.Error(err))
		}
	}()

	svc := routes.NewServices(a.db, cache, notifier, emailService, logger)

	reconcileJob := jobs.NewRoundReconcileJob(svc.Progress, cfg.ReconcileInterval, logger)
	if err := reconcileJob.Start(); err != nil {
		return err
	}
	defer reconcileJob.Stop()

	router := routes.NewRouter(a.db, cfg, svc, logger, ctx.Done())
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting tour operations API", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
