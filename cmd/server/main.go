// Command server runs the capture-backend HTTP service: the dual-channel
// session ingestion API, the in-process analysis job dispatcher, and the
// retention cleanup scheduler.
//
// Startup order: env → logging → config → database → object store → tracing →
// dispatcher → router → HTTP server. Shutdown reverses it: stop accepting
// requests, drain the dispatcher, flush traces.
//
// @title        Capture Backend API
// @version      1.0
// @description  Clinical recording-session ingestion and processing pipeline.
// @BasePath     /api/v1
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/handmotion/capture-backend/internal/config"
	"github.com/handmotion/capture-backend/internal/dispatch"
	httpapi "github.com/handmotion/capture-backend/internal/http"
	"github.com/handmotion/capture-backend/internal/observability"
	"github.com/handmotion/capture-backend/internal/repo"
	"github.com/handmotion/capture-backend/internal/services"
	"github.com/handmotion/capture-backend/internal/storage"
	"github.com/handmotion/capture-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	gin.SetMode(cfg.GinMode)

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate schema")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("open object store")
	}

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("setup tracing")
	}

	// Dispatcher and job handlers.
	jobs := dispatch.New(cfg.Jobs.QueueSize, cfg.Jobs.Workers)
	analysisSvc := services.NewAnalysisService(db, store, jobs)
	jobs.Register(dispatch.JobTypeAnalysis, analysisSvc.HandleAnalysis)
	jobs.Register(dispatch.JobTypeTranscode, analysisSvc.HandleTranscode)
	jobs.Register(dispatch.JobTypeReport, analysisSvc.HandleReport)
	jobs.Start()

	// Retention sweep scheduler.
	if cfg.Cleanup.Enabled {
		cleanupSvc := services.NewCleanupService(db, store)
		go cleanupSvc.RunEvery(ctx, cfg.Cleanup.Interval)
	}

	router := gin.New()
	httpapi.RegisterRoutes(router, db, store, jobs, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := jobs.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("dispatcher shutdown")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown")
	}
}

// openStore selects the object-store backend from config.
func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case "gcs":
		return storage.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCredentials)
	default:
		return storage.NewFSStore(cfg.LocalRoot)
	}
}
