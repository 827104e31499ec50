package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dkrylov/metapipe/internal/bootstrap"
	"github.com/dkrylov/metapipe/internal/config"
	"github.com/dkrylov/metapipe/internal/core/domain"
	"github.com/dkrylov/metapipe/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("metapipe", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: app.Metrics.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_started", "subject", cfg.NATSSubject, "concurrency", cfg.WorkerConcurrency)
	err = app.Queue.SubscribeRunRequested(ctx, func(handlerCtx context.Context, req domain.RunRequest) error {
		runCtx, cancel := context.WithTimeout(handlerCtx, 30*time.Minute)
		defer cancel()

		summary, err := app.Runner.Run(runCtx, req)
		if err != nil {
			return err
		}

		report, err := app.Report.WriteRunReport(summary)
		if err != nil {
			logger.Error("report_write_failed", "run_id", summary.RunID, "error", err)
			return nil
		}
		path := filepath.Join(cfg.ReportDir, summary.RunID+".xlsx")
		if err := os.MkdirAll(cfg.ReportDir, 0o755); err != nil {
			logger.Error("report_dir_failed", "path", cfg.ReportDir, "error", err)
			return nil
		}
		if err := os.WriteFile(path, report, 0o644); err != nil {
			logger.Error("report_save_failed", "path", path, "error", err)
			return nil
		}
		logger.Info("report_saved", "run_id", summary.RunID, "path", path)
		return nil
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}
