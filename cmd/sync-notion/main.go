package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/dvloznov/bookkeeper/internal/app"
	"github.com/dvloznov/bookkeeper/internal/config"
	"github.com/dvloznov/bookkeeper/internal/logger"
	"github.com/dvloznov/bookkeeper/internal/notionsync"
	"github.com/dvloznov/bookkeeper/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logger.New("info", "console")
		l.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	userID := pflag.String("user-id", "", "Account whose ledger is reconciled (required)")
	monthStr := pflag.String("month", time.Now().UTC().Format("2006-01"), "Month in YYYY-MM format")
	notionToken := pflag.String("notion-token", cfg.Notion.Token, "Notion API token")
	notionDBID := pflag.String("notion-db-id", cfg.Notion.DatabaseID, "Notion database ID")
	dryRun := pflag.Bool("dry-run", false, "Dry run mode - preview changes without syncing")
	pflag.Parse()

	if *userID == "" {
		log.Fatal().Msg("Error: --user-id is required")
	}
	if *notionToken == "" {
		log.Fatal().Msg("Error: --notion-token or NOTION_TOKEN is required")
	}
	if *notionDBID == "" {
		log.Fatal().Msg("Error: --notion-db-id or NOTION_DB_ID is required")
	}
	month, err := store.ParseMonth(*monthStr)
	if err != nil {
		log.Fatal().Err(err).Str("month", *monthStr).Msg("Error: invalid month format, expected YYYY-MM")
	}

	// Create context with timeout so CLI doesn't hang
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	log.Info().
		Str("user_id", *userID).
		Str("month", *monthStr).
		Bool("dry_run", *dryRun).
		Msg("Starting Notion sync")

	st, err := app.OpenStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer st.Close()

	ledger := notionsync.NewLedger(notionsync.NewNotionClient(*notionToken), *notionDBID, log)
	res, err := ledger.SyncMonth(ctx, st, *userID, month, *dryRun)
	if err != nil {
		log.Fatal().Err(err).Msg("Sync failed")
	}

	fmt.Printf("Sync completed: %d created, %d updated, %d archived, %d skipped.\n",
		res.Created, res.Updated, res.Deleted, res.Skipped)
}
