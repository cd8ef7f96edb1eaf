package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"moneymap/internal/amqp"
	"moneymap/internal/auth"
	"moneymap/internal/cache"
	"moneymap/internal/cli"
	"moneymap/internal/config"
	apphttp "moneymap/internal/http"
	"moneymap/internal/log"
	"moneymap/internal/services"
	"moneymap/internal/session"
)

const (
	shutdownTimeout = 30 * time.Second
	cleanupInterval = 5 * time.Minute
)

func main() {
	if err := cli.LoadEnvFile(); err != nil {
		log.New(log.DefaultConfig()).Error("Failed to load .env file", log.FieldError, err)
		os.Exit(1)
	}

	cfg, err := cli.LoadConfig((*config.Config).Validate)
	if err != nil {
		log.New(log.DefaultConfig()).Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg, log.ComponentApp, os.Stdout)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func run(cfg *config.Config, logger *log.Logger) error {
	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

	repo, err := cli.InitSQLite(ctx, logger, cfg.SQLiteDBPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	caches := cache.NewManager()
	defer caches.Stop()

	sessions := session.NewStore(cfg.SessionMax, cfg.SessionTTL)
	caches.Register("sessions", sessions.Cleaner())

	authSvc, err := auth.NewService(repo, sessions, auth.WithLogger(logger))
	if err != nil {
		return err
	}

	expenseOpts := []services.Option{services.WithLogger(logger)}
	if cfg.AMQPEnabled() {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			return err
		}
		defer client.Close()
		expenseOpts = append(expenseOpts, services.WithPublisher(client))
		logger.Info("AMQP publishing enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP publishing disabled - no AMQP_URL provided")
	}

	srv, err := apphttp.NewServer(apphttp.Options{
		Addr:               cfg.Addr(),
		Auth:               authSvc,
		Expenses:           services.NewExpenseService(repo, cfg.ExportPath, expenseOpts...),
		Store:              repo,
		Logger:             logger,
		Caches:             caches,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		SecureCookies:      cfg.SecureCookies,
	})
	if err != nil {
		return err
	}
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	caches.StartCleanup(ctx, cleanupInterval)

	logger.Info("Starting MoneyMap server", "addr", cfg.Addr(), log.FieldFile, cfg.ExportPath)
	return cli.Run(ctx, logger, shutdownTimeout,
		func(context.Context) error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
		srv.Shutdown,
	)
}
