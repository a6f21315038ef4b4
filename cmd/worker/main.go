// cmd/worker/main.go
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/leadnurture/internal/app"
	"github.com/unclebandit/leadnurture/internal/config"
	"github.com/unclebandit/leadnurture/internal/service"
)

// The worker runs the scheduling engine without the HTTP API. Several
// workers can share one database when REDIS_URL is set.
func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()
	cfg.Validate(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("❌ failed to start worker", zap.Error(err))
	}
	defer a.Close()

	scheduler := service.NewScheduler(a.Engine, cfg.TickInterval, logger)
	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal("❌ failed to start scheduler", zap.Error(err))
	}
	logger.Info("👷 Worker running",
		zap.Duration("tick_interval", cfg.TickInterval),
		zap.Int("concurrency", cfg.TickConcurrency))

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := scheduler.Stop(stopCtx); err != nil {
		logger.Error("scheduler stop timed out", zap.Error(err))
	}
}
