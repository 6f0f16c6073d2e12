package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/bookkeeper/internal/app"
	"github.com/dvloznov/bookkeeper/internal/config"
	"github.com/dvloznov/bookkeeper/internal/logger"
	"github.com/dvloznov/bookkeeper/internal/messaging/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logger.New("info", "console")
		l.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if cfg.Telegram.BotToken == "" {
		log.Fatal().Msg("Error: TELEGRAM_BOT_TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}

	if err := a.StartWorker(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job worker")
	}
	go a.SweepContexts(ctx, time.Minute)

	bot := telegram.NewBot(a.Telegram, a.Machine, log)
	if err := bot.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Telegram bot stopped with error")
	}

	log.Info().Msg("Shutting down telegram bot...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	if err := a.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close services")
	}
}
