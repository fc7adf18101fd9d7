package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vod-orchestrator/internal/orchestrator"
	"vod-orchestrator/internal/platform/config"
	"vod-orchestrator/internal/platform/logger"
	"vod-orchestrator/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	dataFile := config.GetEnv("DATA_FILE", "videos.json")
	uploadDir := config.GetEnv("UPLOAD_DIR", "uploads/videos")
	segmentDir := config.GetEnv("SEGMENT_DIR", "uploads/segments")
	resolutionDir := config.GetEnv("RESOLUTION_DIR", "uploads/resolutions")
	workers := config.GetEnvInt("WORKER_POOL_SIZE", orchestrator.DefaultWorkerPoolSize)
	maxUploadBytes := config.GetEnvInt64("MAX_UPLOAD_BYTES", 500*1024*1024)

	log := logger.New(logLevel, logFormat)

	store, err := orchestrator.NewFileStore(dataFile)
	if err != nil {
		// A corrupt or unreadable snapshot starts the server with an empty store.
		log.Warn("loading asset snapshot failed, starting empty", "error", err)
	}
	repo := orchestrator.NewAssetRepository(store)

	timeouts := orchestrator.DefaultEngineTimeouts()
	timeouts.Probe = config.GetEnvDuration("PROBE_TIMEOUT", timeouts.Probe)
	timeouts.Extract = config.GetEnvDuration("SEGMENT_TIMEOUT", timeouts.Extract)
	timeouts.Rescale = config.GetEnvDuration("RESCALE_TIMEOUT", timeouts.Rescale)
	engine := orchestrator.NewFFmpegEngine(
		config.GetEnv("FFMPEG_PATH", "ffmpeg"),
		config.GetEnv("FFPROBE_PATH", "ffprobe"),
		timeouts,
	)

	svc := orchestrator.NewService(repo, engine, log, workers, segmentDir, resolutionDir)
	met := metrics.New()
	h := orchestrator.NewHandler(svc, log, met, uploadDir, maxUploadBytes)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(func() { met.SetAssets(repo.AssetCount()) }).ServeHTTP(w, req)
	})
	h.Routes(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"data_file", dataFile,
		"worker_pool_size", workers,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
