package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/dvloznov/bookkeeper/internal/activation"
	"github.com/dvloznov/bookkeeper/internal/app"
	"github.com/dvloznov/bookkeeper/internal/archive"
	"github.com/dvloznov/bookkeeper/internal/clock"
	"github.com/dvloznov/bookkeeper/internal/compliance"
	"github.com/dvloznov/bookkeeper/internal/config"
	"github.com/dvloznov/bookkeeper/internal/domain"
	infrabq "github.com/dvloznov/bookkeeper/internal/infra/bigquery"
	"github.com/dvloznov/bookkeeper/internal/logger"
	"github.com/dvloznov/bookkeeper/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logger.New("info", "console")
		l.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "issue-token":
		runIssueToken(cfg, log)
	case "reissue-token":
		runReissueToken(cfg, log)
	case "report":
		runReport(cfg, log)
	case "plan-reminders":
		runPlanReminders(cfg, log)
	case "dispatch-reminders":
		runDispatchReminders(cfg, log)
	case "warehouse":
		runWarehouse(cfg, log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Bookkeeper CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  issue-token         Create an account and print its activation code")
	fmt.Println("  reissue-token       Replace the activation code of an inactive account")
	fmt.Println("  report              Print (and optionally archive) a monthly compliance report")
	fmt.Println("  plan-reminders      Schedule the reminders that follow a month")
	fmt.Println("  dispatch-reminders  Send every reminder that is due")
	fmt.Println("  warehouse           Create the BigQuery table or query exported rows")
	fmt.Println("  help                Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) store.Store {
	st, err := app.OpenStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	return st
}

func runIssueToken(cfg *config.Config, log zerolog.Logger) {
	fs := pflag.NewFlagSet("issue-token", pflag.ExitOnError)
	email := fs.String("email", "", "Customer e-mail address (required)")
	subscription := fs.String("subscription", string(domain.SubscriptionTrial), "Subscription status: trial or active")
	fs.Parse(os.Args[2:])

	if *email == "" {
		log.Fatal().Msg("Error: --email is required")
	}

	ctx := logger.WithContext(context.Background(), log)
	st := openStore(ctx, cfg, log)
	defer st.Close()

	gate := activation.NewGate(st, clock.Real(), cfg.ActivationTokenTTL, log)
	issued, err := gate.Issue(ctx, *email, domain.SubscriptionStatus(*subscription))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue token")
	}

	fmt.Printf("User ID:    %s\n", issued.User.ID)
	fmt.Printf("Token:      %s\n", issued.Token)
	fmt.Printf("Expires at: %s\n", issued.User.TokenExpiresAt.Format(time.RFC3339))
}

func runReissueToken(cfg *config.Config, log zerolog.Logger) {
	fs := pflag.NewFlagSet("reissue-token", pflag.ExitOnError)
	userID := fs.String("user-id", "", "Account ID (required)")
	fs.Parse(os.Args[2:])

	if *userID == "" {
		log.Fatal().Msg("Error: --user-id is required")
	}

	ctx := logger.WithContext(context.Background(), log)
	st := openStore(ctx, cfg, log)
	defer st.Close()

	issued, err := activation.NewGate(st, clock.Real(), cfg.ActivationTokenTTL, log).Reissue(ctx, *userID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to reissue token")
	}
	fmt.Printf("Token:      %s\n", issued.Token)
	fmt.Printf("Expires at: %s\n", issued.User.TokenExpiresAt.Format(time.RFC3339))
}

func runReport(cfg *config.Config, log zerolog.Logger) {
	fs := pflag.NewFlagSet("report", pflag.ExitOnError)
	userID := fs.String("user-id", "", "Account ID (required)")
	month := fs.String("month", time.Now().UTC().Format("2006-01"), "Month in YYYY-MM format")
	asJSON := fs.Bool("json", false, "Print the full report as JSON")
	archiveIt := fs.Bool("archive", false, "Store the report in the GCS archive (requires GCS_BUCKET)")
	fs.Parse(os.Args[2:])

	if *userID == "" {
		log.Fatal().Msg("Error: --user-id is required")
	}
	m, err := store.ParseMonth(*month)
	if err != nil {
		log.Fatal().Err(err).Str("month", *month).Msg("Error: invalid month format, expected YYYY-MM")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	st := openStore(ctx, cfg, log)
	defer st.Close()

	report, err := compliance.NewReporter(st, clock.Real()).GenerateMonthlyReport(ctx, *userID, m)
	if err != nil && !errors.Is(err, domain.ErrNoTransactions) {
		log.Fatal().Err(err).Msg("Failed to generate report")
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			log.Fatal().Err(err).Msg("Failed to encode report")
		}
	} else {
		fmt.Println(report.SummaryText())
		for _, item := range report.Items {
			fmt.Printf("  %s  %-8s %12s %s  score %3d  %-8s %s\n",
				item.Date, item.Type, item.Amount.StringFixed(2), item.Currency,
				item.Score, item.RiskLevel, item.Description)
		}
	}

	if *archiveIt {
		if cfg.Google.GCSBucket == "" {
			log.Fatal().Msg("Error: GCS_BUCKET is required for --archive")
		}
		arch, err := archive.NewGCSArchive(ctx, cfg.Google.GCSBucket)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open report archive")
		}
		defer arch.Close()
		uri, err := arch.PutReport(ctx, report)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to archive report")
		}
		fmt.Printf("Archived to %s\n", uri)
	}
}

func runPlanReminders(cfg *config.Config, log zerolog.Logger) {
	fs := pflag.NewFlagSet("plan-reminders", pflag.ExitOnError)
	month := fs.String("month", time.Now().UTC().Format("2006-01"), "Closing month in YYYY-MM format")
	fs.Parse(os.Args[2:])

	m, err := store.ParseMonth(*month)
	if err != nil {
		log.Fatal().Err(err).Str("month", *month).Msg("Error: invalid month format, expected YYYY-MM")
	}

	ctx := logger.WithContext(context.Background(), log)
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer a.Close()

	n, err := a.Planner.PlanMonth(ctx, m)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to plan reminders")
	}
	fmt.Printf("Planned %d reminder(s) for %s.\n", n, *month)
}

func runDispatchReminders(cfg *config.Config, log zerolog.Logger) {
	fs := pflag.NewFlagSet("dispatch-reminders", pflag.ExitOnError)
	fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer a.Close()

	res, err := a.Dispatcher.DispatchDue(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to dispatch reminders")
	}
	fmt.Printf("Sent %d, failed %d, suppressed %d.\n", res.Sent, res.Failed, res.Suppressed)
}

func runWarehouse(cfg *config.Config, log zerolog.Logger) {
	fs := pflag.NewFlagSet("warehouse", pflag.ExitOnError)
	ensure := fs.Bool("ensure-table", false, "Create the transactions table if missing")
	userID := fs.String("user-id", "", "Account ID to query")
	startDateStr := fs.String("start-date", "", "Start date in YYYY-MM-DD format")
	endDateStr := fs.String("end-date", "", "End date in YYYY-MM-DD format")
	fs.Parse(os.Args[2:])

	if cfg.Google.BigQueryProject == "" {
		log.Fatal().Msg("Error: BQ_PROJECT is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	wh, err := infrabq.NewWarehouse(ctx, cfg.Google.BigQueryProject, cfg.Google.BigQueryDataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create warehouse client")
	}
	defer wh.Close()

	if *ensure {
		if err := wh.EnsureTable(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure table")
		}
		fmt.Println("Warehouse table is ready.")
		return
	}

	if *userID == "" || *startDateStr == "" || *endDateStr == "" {
		log.Fatal().Msg("Error: --user-id, --start-date and --end-date are required for queries")
	}
	startDate, err := time.Parse("2006-01-02", *startDateStr)
	if err != nil {
		log.Fatal().Err(err).Str("start_date", *startDateStr).Msg("Error: invalid start-date format, expected YYYY-MM-DD")
	}
	endDate, err := time.Parse("2006-01-02", *endDateStr)
	if err != nil {
		log.Fatal().Err(err).Str("end_date", *endDateStr).Msg("Error: invalid end-date format, expected YYYY-MM-DD")
	}
	if endDate.Before(startDate) {
		log.Fatal().Msg("Error: end-date must be after start-date")
	}

	rows, err := wh.QueryTransactionsByDateRange(ctx, *userID, startDate, endDate)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to query transactions")
	}

	fmt.Printf("\n=== Transactions (%d) ===\n", len(rows))
	for i, row := range rows {
		tx := row.Transaction()
		fmt.Printf("\n%d. %s\n", i+1, tx.Description)
		fmt.Printf("   Date:     %s\n", row.DocumentDate)
		fmt.Printf("   Amount:   %s %s (%s)\n", tx.Amount.StringFixed(2), tx.Currency, tx.Type)
		fmt.Printf("   Category: %s\n", tx.CategoryLabel)
		fmt.Printf("   Score:    %d (%s)\n", tx.CompletenessScore, tx.RiskLevel)
	}
	fmt.Println()
}
