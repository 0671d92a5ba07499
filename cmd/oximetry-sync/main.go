package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"oximetry-sync/internal/app"
	"oximetry-sync/internal/config"
)

func main() {
	// Flags
	once := flag.Bool("once", false, "Run a single sync and exit")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	flag.Parse()

	// Logger
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// App
	application, err := app.New(ctx, logger, cfg)
	if err != nil {
		logger.Error("failed to initialize app", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer application.Close()

	if *once {
		if err := application.RunOnce(ctx); err != nil {
			logger.Error("sync failed", slog.String("error", err.Error()))
			application.Close()
			os.Exit(1)
		}
		logger.Info("sync completed")
		return
	}

	if cfg.HTTP.Addr != "" {
		srv := application.HTTPServer(cfg.HTTP.Addr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Kick off immediately, then once a day
	if err := application.RunOnce(ctx); err != nil {
		logger.Error("initial sync failed", slog.String("error", err.Error()))
	}
	logger.Info("starting daily sync", slog.String("tz", cfg.Schedule.Timezone), slog.Duration("at", cfg.Schedule.At))
	for {
		next := nextRun(time.Now().In(cfg.Schedule.Location), cfg.Schedule.At)
		dur := time.Until(next)
		logger.Info("sleeping until next run", slog.Time("next", next), slog.Duration("sleep", dur))
		timer := time.NewTimer(dur)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("shutting down")
			return
		case <-timer.C:
			if err := application.RunOnce(ctx); err != nil {
				logger.Error("daily sync failed", slog.String("error", err.Error()))
			} else {
				logger.Info("daily sync completed")
			}
		}
	}
}

// nextRun returns the first time strictly after t that is at the given offset
// from local midnight in t's location.
func nextRun(t time.Time, at time.Duration) time.Time {
	y, m, d := t.Date()
	h, mi := int(at/time.Hour), int(at%time.Hour/time.Minute)
	next := time.Date(y, m, d, h, mi, 0, 0, t.Location())
	if !next.After(t) {
		next = time.Date(y, m, d+1, h, mi, 0, 0, t.Location())
	}
	return next
}
