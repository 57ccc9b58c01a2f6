package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/voiceforge-ai/platform/pkg/common/config"
	"github.com/voiceforge-ai/platform/pkg/common/database"
	"github.com/voiceforge-ai/platform/pkg/common/kafka"
	"github.com/voiceforge-ai/platform/pkg/common/logger"
	"github.com/voiceforge-ai/platform/pkg/logstore"
	"github.com/voiceforge-ai/platform/pkg/observability/metrics"
	"github.com/voiceforge-ai/platform/pkg/training"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to connect to PostgreSQL")
	}

	repo := training.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate experiment runs")
	}

	logs := logstore.NewPostgres(db)
	if err := logs.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate training logs")
	}

	profiles, err := training.LoadProfiles(cfg.TrainingProfilesPath)
	if err != nil {
		logger.Log.WithError(err).Warn("Falling back to built-in training profiles")
	}

	registry := training.NewRegistry()
	producer := kafka.NewProducer("training.events")
	defer producer.Close()
	summaries := training.NewSummaryCache(database.GetRedis(), cfg.RunSummaryTTL)
	capture := training.NewCapture(logs, repo, cfg.MetricUpdateInterval, cfg.MetricMaxPoints)

	service := training.NewService(repo, logs, capture, registry, producer, summaries, training.ServiceConfig{
		PythonBin:     cfg.TrainingPythonBin,
		TrainerModule: cfg.TrainingModule,
		MaxConcurrent: cfg.TrainingMaxConcurrent,
		Profiles:      profiles,
	})
	streamer := training.NewStreamer(repo, logs, cfg.LogPollInterval, cfg.HeartbeatInterval)
	handler := training.NewHTTPHandler(service, streamer, logs, cfg.MaxRequestBody)

	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheck).Methods(http.MethodGet)
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)
	handler.Register(router)

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:     router,
		ReadTimeout: cfg.ReadTimeout,
		// No write timeout: log streams stay open for the life of a run.
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Training Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Training Service...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	if err := database.ClosePostgres(); err != nil {
		logger.Log.WithError(err).Error("Failed to close PostgreSQL")
	}
	if err := database.CloseRedis(); err != nil {
		logger.Log.WithError(err).Error("Failed to close Redis")
	}

	logger.Log.Info("Training Service stopped")
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}
