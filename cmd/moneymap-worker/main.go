package main

import (
	"context"
	"os"
	"time"

	"moneymap/internal/amqp"
	"moneymap/internal/cache"
	"moneymap/internal/cli"
	"moneymap/internal/config"
	"moneymap/internal/log"
	"moneymap/internal/sheets"
	gsheet "moneymap/internal/sheets/google"
	"moneymap/internal/sheets/memory"
	"moneymap/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := cli.LoadEnvFile(); err != nil {
		log.New(log.DefaultConfig()).Error("Failed to load .env file", log.FieldError, err)
		os.Exit(1)
	}

	cfg, err := cli.LoadConfig((*config.Config).ValidateWorker)
	if err != nil {
		log.New(log.DefaultConfig()).Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg, log.ComponentWorker, os.Stdout)
	logger.Info("Starting moneymap-worker")

	if err := run(cfg, logger); err != nil {
		logger.Error("Worker error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
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

	var mirror sheets.Mirror
	if cfg.SheetsEnabled() {
		client, err := gsheet.New(ctx, gsheet.Options{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
		})
		if err != nil {
			return err
		}
		caches.Register("sheet_rows", client.RowCache())
		mirror = client
		logger.Info("Google Sheets mirror enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID, "sheet", cfg.GoogleSheetName)
	} else {
		mirror = memory.New()
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided, mirroring in memory")
	}

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		return err
	}
	defer client.Close()

	w := worker.NewSyncWorker(repo, mirror, worker.Config{
		BatchSize: cfg.SyncBatchSize,
		Interval:  cfg.SyncInterval,
	}, logger)

	caches.StartCleanup(ctx, 10*time.Minute)

	return cli.Run(ctx, logger, shutdownTimeout,
		func(ctx context.Context) error { return w.Run(ctx, client) },
		nil,
	)
}
