package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"
	"github.com/yokitheyo/rembgapi/internal/config"
	httpHandler "github.com/yokitheyo/rembgapi/internal/handler/http"
	"github.com/yokitheyo/rembgapi/internal/handler/middleware"
	"github.com/yokitheyo/rembgapi/internal/infrastructure/processor"
	"github.com/yokitheyo/rembgapi/internal/infrastructure/segmenter"
	"github.com/yokitheyo/rembgapi/internal/metrics"
	"github.com/yokitheyo/rembgapi/internal/usecase"
	"github.com/yokitheyo/rembgapi/internal/worker"
)

func main() {
	zlog.Init()
	zlog.Logger.Info().Msg("Starting Background Removal API Server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load config
	cfg, err := config.Load(os.Getenv("APP_CONFIG_PATH"))
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("level", cfg.Logging.Level).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Pipeline stages
	imageProcessor := processor.NewImageProcessor(&cfg.Processing)

	// Model handle, built once and shared read-only by all requests
	seg, err := segmenter.New(&cfg.Segmenter)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("Failed to initialize segmenter")
	}

	pool := worker.NewPool(cfg.Processing.MaxConcurrent)
	zlog.Logger.Info().Int("max_concurrent", pool.Size()).Msg("Worker pool ready")

	backgroundUsecase := usecase.NewBackgroundUsecase(
		imageProcessor.Decoder,
		imageProcessor.Validator,
		seg,
		imageProcessor.Encoder,
		pool,
		time.Duration(cfg.Processing.RequestTimeoutSec)*time.Second,
	)

	// Gin engine + middleware
	engine := ginext.New(cfg.Server.GinMode)
	engine.Use(
		middleware.ErrorHandlerMiddleware(),
		middleware.RequestIDMiddleware(),
		middleware.LoggerMiddleware(),
		middleware.CORSMiddleware(cfg.Server.CORSAllowedOrigins),
		metrics.Middleware(),
	)

	backgroundHandler := httpHandler.NewBackgroundHandler(backgroundUsecase, cfg.Server.MaxUploadSizeMB)
	backgroundHandler.RegisterRoutes(engine)

	metricsHandler := promhttp.Handler()
	engine.GET("/metrics", func(c *ginext.Context) {
		metricsHandler.ServeHTTP(c.Writer, c.Request)
	})

	engine.GET("/", func(c *ginext.Context) {
		c.Redirect(http.StatusTemporaryRedirect, "/api/v1/health")
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      engine,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	go func() {
		zlog.Logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("segmenter", seg.Name()).
			Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Logger.Fatal().Err(err).Msg("Failed to start API server")
		}
	}()

	<-ctx.Done()
	zlog.Logger.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("HTTP server shutdown failed")
	} else {
		zlog.Logger.Info().Msg("HTTP server stopped gracefully")
	}

	zlog.Logger.Info().Msg("API shutdown complete")
}
