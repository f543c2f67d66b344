// Command scriptgen runs the script generation service: it consumes
// content-collected events from RabbitMQ, generates scripts through the
// Gemini backend, persists them, notifies WebSocket subscribers, and
// republishes the results.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ngqkhai/script-generator/internal/api"
	"github.com/ngqkhai/script-generator/internal/broker"
	"github.com/ngqkhai/script-generator/internal/config"
	"github.com/ngqkhai/script-generator/internal/errs"
	"github.com/ngqkhai/script-generator/internal/event"
	"github.com/ngqkhai/script-generator/internal/gemini"
	"github.com/ngqkhai/script-generator/internal/job"
	"github.com/ngqkhai/script-generator/internal/logging"
	"github.com/ngqkhai/script-generator/internal/metrics"
	"github.com/ngqkhai/script-generator/internal/pipeline"
	"github.com/ngqkhai/script-generator/internal/registry"
	"github.com/ngqkhai/script-generator/internal/store"
	"github.com/ngqkhai/script-generator/internal/ws"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("service exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	conf := config.Load()
	if err := conf.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := logging.NewSlogServiceLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	log.Info("starting script generator", logging.LogFields{"config": conf.String()})

	m := metrics.New()
	if conf.MetricsEnabled {
		go func() {
			if err := m.Serve(conf.MetricsPort); err != nil {
				log.Error("metrics endpoint failed", err, nil)
			}
		}()
	}

	docs, err := store.OpenSQLite(conf.SQLiteFile, log)
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}
	defer docs.Close()

	tracker := job.NewTracker(job.WithRetention(conf.JobRetention))
	reg := registry.New(log)
	generator := gemini.NewClient(conf.GeminiBaseURL, conf.GeminiModel, conf.GeminiAPIKey, log)
	gateway := broker.NewGateway(conf, log, m)
	defer gateway.Close()

	pipe := pipeline.New(tracker, docs, generator, reg, gateway, log, m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := pipeline.NewRunner(ctx, pipe)

	// Terminal jobs expire on a schedule so status stays pollable for the
	// retention window without growing the tracker forever.
	sweeper := cron.New()
	if _, err := sweeper.AddFunc("@every 1m", func() {
		if removed := tracker.Sweep(time.Now()); removed > 0 {
			log.Debug("swept expired jobs", logging.LogFields{"removed": removed})
		}
	}); err != nil {
		return fmt.Errorf("schedule job sweep: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	wsHandler := ws.NewHandler(reg, log, m, conf.WSPingInterval, conf.WSSingleSessionPerCollection)
	server := api.NewServer(tracker, docs, runner, wsHandler, log)
	httpServer := &http.Server{
		Addr:              conf.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)

	go func() {
		log.Info("http server listening", logging.LogFields{"addr": conf.HTTPAddr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	go func() {
		if err := gateway.Run(ctx, consumeHandler(tracker, runner, log)); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("broker gateway: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received", nil)
	case runErr = <-errCh:
		log.Error("fatal component failure", runErr, nil)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", err, nil)
	}
	runner.Wait()
	if err := gateway.Close(); err != nil {
		log.Error("gateway close failed", err, nil)
	}

	log.Info("shutdown complete", nil)
	return runErr
}

// consumeHandler maps inbound broker events to pipeline runs. The message id
// doubles as the job id, so a redelivered message whose job is still tracked
// is acknowledged without starting a second run.
func consumeHandler(tracker *job.Tracker, runner *pipeline.Runner, log logging.ServiceLogger) broker.EventHandler {
	return func(ctx context.Context, evt event.ContentCollected, msgID string) error {
		if err := tracker.Create(msgID); err != nil {
			if errors.Is(err, errs.ErrDuplicateJob) {
				log.Info("duplicate delivery, already tracked", logging.LogFields{
					"job_id":        msgID,
					"collection_id": evt.CollectionID,
				})
				return nil
			}
			return err
		}

		runner.Spawn(pipeline.Request{
			JobID:        msgID,
			CollectionID: evt.CollectionID,
			SourceType:   "rabbitmq_consumer",
			SourceName:   evt.SourceName,
			Script:       evt.Request(),
		})
		return nil
	}
}
