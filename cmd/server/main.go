package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dripline/dripline/internal/app"
	"github.com/dripline/dripline/internal/config"
	"github.com/dripline/dripline/internal/events"
	"github.com/dripline/dripline/internal/handler"
	"github.com/dripline/dripline/internal/logger"
	"github.com/dripline/dripline/internal/middleware"
	"github.com/dripline/dripline/internal/router"
	"github.com/dripline/dripline/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", handler.Version).Msg("starting dripline server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize")
	}
	defer a.Close()
	log.Info().
		Int("templates", a.Sequence.TemplateCount()).
		Str("provider", cfg.Email.Provider).
		Msg("sequencer initialized")

	// Registration events
	if cfg.NATS.URL != "" {
		nc, err := events.Connect(cfg.NATS.URL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer nc.Close()

		sub := events.NewRegistrationSubscriber(a.Contacts, cfg.NATS.RetryDelay, log)
		if err := sub.Start(nc, cfg.NATS); err != nil {
			log.Fatal().Err(err).Msg("failed to subscribe to registration events")
		}
		go sub.Run(ctx)
		defer func() {
			if err := sub.Stop(); err != nil {
				log.Warn().Err(err).Msg("failed to drain registration subscription")
			}
		}()
	}

	// Scheduled batch runs
	if cfg.Sequence.ScheduleInterval > 0 {
		go runScheduler(ctx, a.Batch, cfg.Sequence.ScheduleInterval, log)
	}

	h := handler.New(a.DB, a.RDB, log, cfg, a.Contacts, a.Unsubscribe, a.Batch)
	mw := middleware.New(a.RDB, log, cfg)
	r := router.New(h, mw, cfg)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // batch runs are synchronous
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// runScheduler runs a live batch every interval until ctx is done. A run
// still holding the lock on another replica is skipped.
func runScheduler(ctx context.Context, batch *service.BatchService, interval time.Duration, log *logger.Logger) {
	l := log.WithComponent("scheduler")
	l.Info().Dur("interval", interval).Msg("scheduled batch runs enabled")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := batch.RunBatch(ctx, 0, false)
			switch {
			case errors.Is(err, service.ErrBatchInProgress):
				l.Info().Msg("skipping tick, batch already running")
			case errors.Is(err, context.Canceled):
				return
			case err != nil:
				l.Error().Err(err).Msg("scheduled batch failed")
			default:
				l.Debug().Int("processed", summary.Processed).Msg("scheduled batch done")
			}
		}
	}
}
