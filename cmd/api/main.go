package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/dvloznov/bookkeeper/internal/api"
	"github.com/dvloznov/bookkeeper/internal/app"
	"github.com/dvloznov/bookkeeper/internal/config"
	"github.com/dvloznov/bookkeeper/internal/jobs"
	"github.com/dvloznov/bookkeeper/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logger.New("info", "console")
		l.Fatal().Err(err).Msg("Failed to load configuration")
	}

	var (
		port           = pflag.String("port", cfg.HTTPPort, "HTTP server port")
		reminderPeriod = pflag.Duration("reminder-interval", 15*time.Minute, "How often due reminders are dispatched (0 disables)")
	)
	pflag.Parse()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}

	// Start worker in background to process jobs
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if err := a.StartWorker(workerCtx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job worker")
	}
	go a.SweepContexts(workerCtx, time.Minute)
	if *reminderPeriod > 0 {
		go scheduleReminders(workerCtx, a, *reminderPeriod)
	}

	authToken := ""
	if cfg.Twilio.ValidateSignature {
		authToken = cfg.Twilio.AuthToken
	}
	handler := api.NewRouter(api.Deps{
		Intake:          a.Machine,
		Gate:            a.Gate,
		Transactions:    a.Store,
		Reports:         a.Reporter,
		Publisher:       a.Queue,
		JobStore:        a.JobStore,
		Clock:           a.Clock,
		Log:             log,
		APIKey:          cfg.APIKey,
		TwilioAuthToken: authToken,
		PublicBaseURL:   cfg.Twilio.PublicBaseURL,
	})
	if cfg.APIKey == "" {
		log.Warn().Msg("API_KEY not set - operator endpoints are unauthenticated")
	}

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := a.Queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	if err := a.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close services")
	}

	log.Info().Msg("Server exited")
}

// scheduleReminders publishes a dispatch job every interval.
func scheduleReminders(ctx context.Context, a *app.App, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Queue.Publish(ctx, &jobs.Job{Type: jobs.JobTypeDispatchReminders, MaxRetries: 1}); err != nil {
				a.Log.Error().Err(err).Msg("Failed to enqueue reminder dispatch")
			}
		}
	}
}
