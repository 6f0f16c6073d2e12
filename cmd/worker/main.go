package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/dvloznov/bookkeeper/internal/app"
	"github.com/dvloznov/bookkeeper/internal/config"
	"github.com/dvloznov/bookkeeper/internal/jobs"
	"github.com/dvloznov/bookkeeper/internal/logger"
	"github.com/dvloznov/bookkeeper/internal/store"
)

// The worker process owns the reminder calendar: on every tick it plans the
// reminders that follow the previous month and enqueues a dispatch job.
func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logger.New("info", "console")
		l.Fatal().Err(err).Msg("Failed to load configuration")
	}
	interval := pflag.Duration("interval", 15*time.Minute, "How often reminders are planned and dispatched")
	pflag.Parse()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}

	log.Info().Dur("interval", *interval).Msg("Starting worker service")

	if err := a.StartWorker(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	go func() {
		tick(ctx, a)
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick(ctx, a)
			}
		}
	}()

	log.Info().Msg("Worker service started, waiting for jobs...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := a.Queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}
	if err := a.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close services")
	}

	log.Info().Msg("Worker service exited")
}

// tick plans the previous month (planning is idempotent) and enqueues a
// dispatch of whatever is due.
func tick(ctx context.Context, a *app.App) {
	from, _ := store.MonthRange(a.Clock.Now())
	prev := from.AddDate(0, -1, 0)
	if n, err := a.Planner.PlanMonth(ctx, prev); err != nil {
		a.Log.Error().Err(err).Str("month", prev.Format("2006-01")).Msg("Failed to plan reminders")
	} else if n > 0 {
		a.Log.Info().Int("planned", n).Str("month", prev.Format("2006-01")).Msg("Planned reminders")
	}
	if err := a.Queue.Publish(ctx, &jobs.Job{Type: jobs.JobTypeDispatchReminders, MaxRetries: 1}); err != nil {
		a.Log.Error().Err(err).Msg("Failed to enqueue reminder dispatch")
	}
}
