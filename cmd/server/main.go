// backend-go/cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andresuchdata/fulfillops/backend-go/internal/api"
	"github.com/andresuchdata/fulfillops/backend-go/internal/cache"
	"github.com/andresuchdata/fulfillops/backend-go/internal/config"
	"github.com/andresuchdata/fulfillops/backend-go/internal/events"
	"github.com/andresuchdata/fulfillops/backend-go/internal/gateway"
	"github.com/andresuchdata/fulfillops/backend-go/internal/metrics"
	"github.com/andresuchdata/fulfillops/backend-go/internal/repository"
	"github.com/andresuchdata/fulfillops/backend-go/internal/repository/memory"
	"github.com/andresuchdata/fulfillops/backend-go/internal/repository/postgres"
	"github.com/andresuchdata/fulfillops/backend-go/internal/service"
	"github.com/andresuchdata/fulfillops/backend-go/internal/storage"
	"github.com/andresuchdata/fulfillops/backend-go/pkg/logger"
	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	logger.Configure(cfg.Log.Level, cfg.Log.Format)
	if cfg.Server.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		logger.Log.Fatal().Err(err).Str("store", cfg.Engine.Store).Msg("Failed to open store")
	}
	defer closeStore()

	plans, err := cache.NewBatchPlanStore(cfg.Cache)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to initialise batch plan store")
	}

	publisher, err := buildPublisher(cfg)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to initialise event publisher")
	}

	objects, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to initialise object storage")
	}

	m := metrics.New()
	engine := service.NewEngine(service.Dependencies{
		Store:     store,
		Plans:     plans,
		Objects:   objects,
		Gateway:   gateway.New(cfg.Gateway),
		Publisher: publisher,
		Metrics:   m,
	}, cfg)

	// Initialize HTTP server
	router := api.NewRouter(&api.Services{Engine: engine, Metrics: m}, cfg.Server.AllowedOrigins)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Log.Info().
			Str("port", cfg.Server.Port).
			Str("store", cfg.Engine.Store).
			Bool("cache", cfg.Cache.Enabled).
			Bool("gateway", cfg.Gateway.Enabled).
			Bool("storage", cfg.Storage.Enabled).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info().Msg("Shutting down server...")

	// In-flight bulk runs get 5 seconds to finish
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Log.Info().Msg("Server exiting")
}

func openStore(cfg *config.Config) (repository.Store, func(), error) {
	if cfg.Engine.Store == "memory" {
		logger.Log.Warn().Msg("using in-memory store; data is lost on restart")
		return memory.NewStore(), func() {}, nil
	}

	db, err := postgres.NewDB(&cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewStore(db), func() { _ = db.Close() }, nil
}

func buildPublisher(cfg *config.Config) (events.Publisher, error) {
	logPublisher := events.NewLogPublisher(logger.Component("events"))
	if !cfg.Events.RedisEnabled {
		return logPublisher, nil
	}

	client, err := cache.NewRedisClient(cfg.Cache)
	if err != nil {
		return nil, err
	}
	return events.NewMultiPublisher(logPublisher, events.NewRedisPublisher(client, cfg.Events.Channel)), nil
}
