package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/filings-assistant/internal/bootstrap"
	"github.com/kirillkom/filings-assistant/internal/config"
	"github.com/kirillkom/filings-assistant/internal/core/domain"
	"github.com/kirillkom/filings-assistant/internal/observability/logging"
	"github.com/kirillkom/filings-assistant/internal/observability/metrics"
)

const serviceName = "worker"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	worker, err := bootstrap.NewWorker(ctx, cfg, workerMetrics.RecordObserver(serviceName))
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer worker.Close()

	logger.Info("audit_worker_started", "bus_backend", cfg.BusBackend)
	err = worker.Consumer.Consume(ctx, func(handlerCtx context.Context, event domain.AuditEvent) error {
		workerMetrics.StartEvent()
		defer workerMetrics.FinishEvent()
		if !event.Timestamp.IsZero() {
			workerMetrics.ObserveDeliveryLag(serviceName, time.Since(event.Timestamp))
		}
		return worker.Recorder.Record(handlerCtx, event)
	})
	if err != nil {
		logger.Error("audit_consume_failed", "error", err)
		return
	}
	logger.Info("audit_worker_stopped")
}
