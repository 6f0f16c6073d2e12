// Package app wires configuration into the running services shared by
// the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/bookkeeper/internal/activation"
	"github.com/dvloznov/bookkeeper/internal/archive"
	"github.com/dvloznov/bookkeeper/internal/classifier"
	"github.com/dvloznov/bookkeeper/internal/clock"
	"github.com/dvloznov/bookkeeper/internal/compliance"
	"github.com/dvloznov/bookkeeper/internal/config"
	"github.com/dvloznov/bookkeeper/internal/conversation"
	infrabq "github.com/dvloznov/bookkeeper/internal/infra/bigquery"
	"github.com/dvloznov/bookkeeper/internal/infra/postgres"
	"github.com/dvloznov/bookkeeper/internal/infra/sqlite"
	"github.com/dvloznov/bookkeeper/internal/intake"
	"github.com/dvloznov/bookkeeper/internal/jobs/inmemory"
	"github.com/dvloznov/bookkeeper/internal/messaging"
	"github.com/dvloznov/bookkeeper/internal/messaging/telegram"
	"github.com/dvloznov/bookkeeper/internal/notionsync"
	"github.com/dvloznov/bookkeeper/internal/reminders"
	"github.com/dvloznov/bookkeeper/internal/store"
	"github.com/dvloznov/bookkeeper/internal/worker"
)

// App holds the wired services. Optional integrations are nil when their
// configuration is absent.
type App struct {
	Config *config.Config
	Log    zerolog.Logger
	Clock  clock.Clock

	Store    store.Store
	Taxonomy *classifier.Taxonomy
	Gate     *activation.Gate
	Contexts *conversation.MemoryStore
	Reporter *compliance.Reporter
	Machine  *intake.Machine

	JobStore *inmemory.Store
	Queue    *inmemory.Queue
	Worker   *worker.Handler

	Sender     messaging.Sender
	Telegram   telegram.BotAPI
	Warehouse  *infrabq.Warehouse
	Ledger     *notionsync.Ledger
	Archive    *archive.GCSArchive
	Planner    *reminders.Planner
	Dispatcher *reminders.Dispatcher

	closers []func() error
}

// OpenStore opens the store selected by STORE_DRIVER.
func OpenStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return postgres.Open(ctx, postgres.Config{URL: cfg.Store.DatabaseURL, Logger: log})
	case "sqlite":
		return sqlite.Open(ctx, sqlite.Config{Path: cfg.Store.SQLitePath, Logger: log})
	}
	return nil, fmt.Errorf("OpenStore: unknown driver %q", cfg.Store.Driver)
}

// LoadTaxonomy reads TAXONOMY_FILE, or returns the built-in taxonomy.
func LoadTaxonomy(cfg *config.Config) (*classifier.Taxonomy, error) {
	if cfg.AI.TaxonomyFile == "" {
		return classifier.DefaultTaxonomy(), nil
	}
	return classifier.LoadTaxonomy(cfg.AI.TaxonomyFile)
}

// Build connects every configured service. On error, whatever was opened
// is closed again.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, Clock: clock.Real()}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("Build: %w", err)
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, log := a.Config, a.Log

	st, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	if a.Taxonomy, err = LoadTaxonomy(cfg); err != nil {
		return err
	}
	opts := []classifier.AnalyzerOption{classifier.WithClock(a.Clock)}
	if cfg.AI.GeminiAPIKey != "" {
		gemini, err := classifier.NewGeminiClassifier(ctx, cfg.AI.GeminiAPIKey, cfg.AI.GeminiModel, a.Taxonomy)
		if err != nil {
			return err
		}
		opts = append(opts, classifier.WithAI(gemini, cfg.AI.Timeout))
		log.Info().Str("model", cfg.AI.GeminiModel).Msg("AI classification enabled")
	}
	analyzer := classifier.NewAnalyzer(a.Taxonomy, log, opts...)

	a.Gate = activation.NewGate(st, a.Clock, cfg.ActivationTokenTTL, log)
	a.Contexts = conversation.NewMemoryStore(a.Clock)
	a.Reporter = compliance.NewReporter(st, a.Clock)

	a.JobStore = inmemory.NewStore()
	a.Queue = inmemory.NewQueue(cfg.Jobs.Buffer, a.JobStore,
		inmemory.WithWorkers(cfg.Jobs.Workers),
		inmemory.WithLogger(log),
	)
	a.closers = append(a.closers, a.Queue.Close)

	a.Machine = intake.New(intake.Deps{
		Gate:         a.Gate,
		Analyzer:     analyzer,
		Transactions: st,
		Contexts:     a.Contexts,
		Reports:      a.Reporter,
		Publisher:    a.Queue,
		Taxonomy:     a.Taxonomy,
		Clock:        a.Clock,
		Logger:       log,
	}, intake.Config{
		MaterialityThreshold: cfg.Intake.MaterialityThreshold,
		MaxFollowUpRetries:   cfg.Intake.MaxFollowUpRetries,
		ContextTTL:           cfg.Intake.ContextTTL,
		DefaultCurrency:      cfg.Intake.DefaultCurrency,
	})

	if err := a.connectIntegrations(ctx); err != nil {
		return err
	}

	a.Planner = reminders.NewPlanner(st, a.Clock, log)
	a.Dispatcher = reminders.NewDispatcher(st, a.Reporter, a.Sender, a.Clock, log)

	exporters := map[string]worker.Exporter{}
	if a.Warehouse != nil {
		exporters["warehouse"] = a.Warehouse
	}
	if a.Ledger != nil {
		exporters["notion"] = a.Ledger
	}
	a.Worker = &worker.Handler{
		Transactions: st,
		Exporters:    exporters,
		Reports:      a.Reporter,
		Reminders:    a.Dispatcher,
		Log:          log,
	}
	if a.Archive != nil {
		a.Worker.Archive = a.Archive
	}
	return nil
}

func (a *App) connectIntegrations(ctx context.Context) error {
	cfg, log := a.Config, a.Log

	router := &messaging.Router{Default: messaging.LogSender{Log: log}}
	if cfg.TwilioEnabled() {
		router.Default = messaging.NewTwilioSender(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.WhatsAppFrom, log)
	} else {
		log.Warn().Msg("Twilio not configured - outbound WhatsApp messages are only logged")
	}
	if cfg.Telegram.BotToken != "" {
		api, err := telegram.Connect(cfg.Telegram.BotToken)
		if err != nil {
			return err
		}
		a.Telegram = api
		router.Telegram = telegram.NewSender(api)
	}
	a.Sender = router

	if cfg.Google.BigQueryProject != "" {
		wh, err := infrabq.NewWarehouse(ctx, cfg.Google.BigQueryProject, cfg.Google.BigQueryDataset)
		if err != nil {
			return err
		}
		a.Warehouse = wh
		a.closers = append(a.closers, wh.Close)
	}
	if cfg.Google.GCSBucket != "" {
		arch, err := archive.NewGCSArchive(ctx, cfg.Google.GCSBucket)
		if err != nil {
			return err
		}
		a.Archive = arch
		a.closers = append(a.closers, arch.Close)
	}
	if cfg.Notion.Token != "" && cfg.Notion.DatabaseID != "" {
		a.Ledger = notionsync.NewLedger(notionsync.NewNotionClient(cfg.Notion.Token), cfg.Notion.DatabaseID, log)
	}

	log.Info().
		Bool("warehouse", a.Warehouse != nil).
		Bool("archive", a.Archive != nil).
		Bool("notion", a.Ledger != nil).
		Bool("telegram", a.Telegram != nil).
		Msg("integrations configured")
	return nil
}

// StartWorker consumes jobs in-process until ctx is cancelled or the
// queue is stopped.
func (a *App) StartWorker(ctx context.Context) error {
	return a.Queue.Start(ctx, a.Worker.Handle)
}

// SweepContexts drops expired conversation contexts every interval until
// ctx is cancelled.
func (a *App) SweepContexts(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Contexts.Sweep(a.Clock.Now()); n > 0 {
				a.Log.Debug().Int("expired", n).Msg("swept conversation contexts")
			}
		}
	}
}

// Close releases everything Build opened, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
