package main

import (
	"context"

	"golang.org/x/sync/errgroup"

	"spendlog/internal/amqp"
	"spendlog/internal/backend"
	"spendlog/internal/cli"
	"spendlog/internal/config"
	"spendlog/internal/log"
	gsheet "spendlog/internal/sheets/google"
	"spendlog/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	cfg := config.Load()
	logger := cli.SetupLogger(cfg, log.ComponentWorker)
	if err := cfg.Validate(); err != nil {
		cli.Fatal(logger, "Configuration validation failed", err)
	}
	if err := cfg.ValidateWorker(); err != nil {
		cli.Fatal(logger, "Worker configuration validation failed", err)
	}

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	logger.Info("Starting spendlog-worker", "queue", cfg.AMQPQueue, "sheet", cfg.GoogleSheetName)
	if err := run(ctx, cfg, logger); err != nil {
		cli.Fatal(logger, "Worker stopped with error", err)
	}
	logger.Info("Worker stopped gracefully")
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	exporter, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:      cfg.GoogleSpreadsheetID,
		SheetName:          cfg.GoogleSheetName,
		ServiceAccountFile: cfg.GoogleServiceAccountFile,
		ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
	}, logger.Logger)
	if err != nil {
		return err
	}

	var source worker.ExpenseSource
	if cfg.WorkerBackfill {
		backendCfg, err := backend.FromAppConfig(cfg)
		if err != nil {
			return err
		}
		result, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Logger).CreateBackend(ctx, backendCfg)
		if err != nil {
			return err
		}
		defer result.Cleanup()
		source = result.Repository
	}

	w := worker.NewExportWorker(exporter, source, logger.Logger)

	g, gctx := errgroup.WithContext(ctx)

	if source != nil {
		g.Go(func() error {
			n, err := w.Backfill(gctx)
			if err != nil {
				// Consumption continues; missed rows are retried on the next start.
				logger.Error("Startup backfill failed", log.FieldError, err, log.FieldCount, n)
			}
			return nil
		})
	}

	g.Go(func() error {
		dial := func() (*amqp.Client, error) {
			return amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		}
		return amqp.ConsumeWithReconnect(gctx, dial, w.HandleExpenseCreated)
	})

	return g.Wait()
}
