package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"spendlog/internal/amqp"
	"spendlog/internal/backend"
	"spendlog/internal/cache"
	"spendlog/internal/cli"
	"spendlog/internal/config"
	"spendlog/internal/core"
	apphttp "spendlog/internal/http"
	"spendlog/internal/log"
	"spendlog/internal/middleware/ratelimit"
	"spendlog/internal/services"
)

const cacheSweepInterval = time.Minute

func main() {
	cli.LoadEnvFile()

	cfg := config.Load()
	logger := cli.SetupLogger(cfg, log.ComponentApp)
	if err := cfg.Validate(); err != nil {
		cli.Fatal(logger, "Configuration validation failed", err)
	}

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		cli.Fatal(logger, "Server stopped with error", err)
	}
	logger.Info("Server stopped gracefully")
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	result, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	opts := []services.Option{services.WithLogger(logger.Logger)}

	if cfg.ReplayCacheSize > 0 {
		replay := cache.NewLRUCache[core.Expense](cfg.ReplayCacheSize, cfg.ReplayCacheTTL)
		manager := cache.NewManager(logger.WithComponent(log.ComponentCache).Logger)
		manager.Register("replay", replay)
		opts = append(opts, services.WithReplayCache(replay))
		g.Go(func() error { return manager.Run(gctx, cacheSweepInterval) })
	}

	if cfg.AMQPEnabled() {
		publisher, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			// Creation never depends on the broker.
			logger.Warn("AMQP unavailable, expense events disabled", log.FieldError, err)
		} else {
			defer publisher.Close()
			opts = append(opts, services.WithPublisher(publisher))
			logger.Info("AMQP publisher connected", "exchange", cfg.AMQPExchange)
		}
	}

	svc := services.NewExpenseService(result.Repository, opts...)
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("Failed to close storage", log.FieldError, err)
		}
	}()

	var limiter *ratelimit.Limiter
	if cfg.RateLimitPerMin > 0 {
		rlCfg := ratelimit.DefaultConfig()
		rlCfg.RequestsPerMinute = cfg.RateLimitPerMin
		limiter = ratelimit.NewLimiter(rlCfg)
		g.Go(func() error { return limiter.Run(gctx) })
	}

	srv, err := apphttp.NewServer(apphttp.Config{
		Addr:              ":" + cfg.Port,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CurrencySymbol:    cfg.CurrencySymbol,
		TrustedProxies:    cfg.TrustedProxies,
		Limiter:           limiter,
		Logger:            logger.WithComponent(log.ComponentHTTP),
	}, svc)
	if err != nil {
		return err
	}

	g.Go(func() error {
		logger.Info("Starting spendlog server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"rate_limit_per_minute", cfg.RateLimitPerMin)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err, log.FieldOperation, log.OpShutdown)
			return err
		}
		return nil
	})

	return g.Wait()
}
