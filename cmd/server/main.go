// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/leadnurture/internal/app"
	"github.com/unclebandit/leadnurture/internal/config"
	"github.com/unclebandit/leadnurture/internal/controller"
	"github.com/unclebandit/leadnurture/internal/handler"
	"github.com/unclebandit/leadnurture/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()
	cfg.Validate(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("❌ failed to start", zap.Error(err))
	}
	defer a.Close()

	campaignController := &controller.CampaignController{
		CampaignService: a.Campaigns,
		Log:             logger,
	}
	adminHandler := &handler.AdminHandler{
		Service: a.Campaigns,
		Log:     logger,
	}
	if a.DB != nil {
		adminHandler.DB = a.DB
	}

	var scheduler *service.Scheduler
	if cfg.EngineEmbedded {
		scheduler = service.NewScheduler(a.Engine, cfg.TickInterval, logger)
		if err := scheduler.Start(ctx); err != nil {
			logger.Fatal("❌ failed to start scheduler", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           controller.NewRouter(campaignController, adminHandler, cfg.JWTSecret, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("🚀 Server running on :" + cfg.APIPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("❌ server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	if scheduler != nil {
		if err := scheduler.Stop(shutdownCtx); err != nil {
			logger.Error("scheduler stop timed out", zap.Error(err))
		}
	}
}
