package notionsync

import (
	"context"
	"fmt"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rs/zerolog"

	"github.com/dvloznov/bookkeeper/internal/domain"
	"github.com/dvloznov/bookkeeper/internal/store"
)

// pageSize is the Notion maximum per query.
const pageSize = 100

// SyncResult counts what a sync did, or would do in dry-run mode.
type SyncResult struct {
	Created int
	Updated int
	Deleted int
	Skipped int
}

// Ledger writes transactions to one Notion database.
type Ledger struct {
	notion     NotionService
	databaseID string
	log        zerolog.Logger
}

func NewLedger(notion NotionService, databaseID string, log zerolog.Logger) *Ledger {
	return &Ledger{notion: notion, databaseID: databaseID, log: log}
}

// ExportTransaction creates the ledger page of tx, or updates it when a
// page with the same Transaction ID exists, so repeated exports are safe.
func (l *Ledger) ExportTransaction(ctx context.Context, tx *domain.Transaction) error {
	resp, err := l.notion.QueryDatabase(ctx, l.databaseID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: PropTxID,
			RichText: &notionapi.TextFilterCondition{Equals: tx.ID},
		},
		PageSize: 1,
	})
	if err != nil {
		return fmt.Errorf("ExportTransaction: find page: %w", err)
	}

	props := TransactionToNotionProperties(tx)
	if len(resp.Results) > 0 {
		pageID := string(resp.Results[0].ID)
		if _, err := l.notion.UpdatePage(ctx, pageID, props); err != nil {
			return fmt.Errorf("ExportTransaction: %w", err)
		}
		l.log.Debug().Str("transaction_id", tx.ID).Str("page_id", pageID).Msg("updated Notion page")
		return nil
	}

	page, err := l.notion.CreatePage(ctx, l.databaseID, props)
	if err != nil {
		return fmt.Errorf("ExportTransaction: %w", err)
	}
	l.log.Debug().Str("transaction_id", tx.ID).Str("page_id", string(page.ID)).Msg("created Notion page")
	return nil
}

// SyncMonth makes the ledger pages of one user's month match the store:
// pages of transactions that no longer exist (or that carry no
// Transaction ID) are archived and missing pages are created. Failures on
// single pages are logged and skipped.
func (l *Ledger) SyncMonth(ctx context.Context, txs store.TransactionRepository, userID string, month time.Time, dryRun bool) (SyncResult, error) {
	var res SyncResult
	from, to := store.MonthRange(month)
	log := l.log.With().Str("user_id", userID).Str("month", from.Format("2006-01")).Bool("dry_run", dryRun).Logger()

	transactions, err := txs.ListTransactions(ctx, userID, from, to)
	if err != nil {
		return res, fmt.Errorf("SyncMonth: list transactions: %w", err)
	}
	valid := make(map[string]bool, len(transactions))
	for _, tx := range transactions {
		valid[tx.ID] = true
	}

	pages, err := l.queryAllPages(ctx, monthFilter(userID, from, to))
	if err != nil {
		return res, fmt.Errorf("SyncMonth: %w", err)
	}
	log.Info().Int("transactions", len(transactions)).Int("pages", len(pages)).Msg("starting Notion sync")

	existing := make(map[string]bool, len(pages))
	for _, page := range pages {
		txID := extractTransactionID(page)
		if txID != "" && valid[txID] && !existing[txID] {
			existing[txID] = true
			continue
		}

		// stale, untagged or duplicate
		if dryRun {
			log.Info().Str("transaction_id", txID).Str("page_id", string(page.ID)).Msg("[DRY RUN] would archive stale page")
			res.Deleted++
			continue
		}
		if err := l.notion.DeletePage(ctx, string(page.ID)); err != nil {
			log.Warn().Err(err).Str("page_id", string(page.ID)).Msg("failed to archive stale page")
			continue
		}
		res.Deleted++
	}

	for _, tx := range transactions {
		if existing[tx.ID] {
			res.Skipped++
			continue
		}
		if dryRun {
			log.Info().Str("transaction_id", tx.ID).Msg("[DRY RUN] would create page")
			res.Created++
			continue
		}
		if _, err := l.notion.CreatePage(ctx, l.databaseID, TransactionToNotionProperties(tx)); err != nil {
			log.Warn().Err(err).Str("transaction_id", tx.ID).Msg("failed to create page")
			continue
		}
		res.Created++
	}

	log.Info().
		Int("created", res.Created).
		Int("deleted", res.Deleted).
		Int("skipped", res.Skipped).
		Msg("Notion sync completed")
	return res, nil
}

func monthFilter(userID string, from, to time.Time) notionapi.Filter {
	start := notionapi.Date(from)
	end := notionapi.Date(to)
	return notionapi.AndCompoundFilter{
		notionapi.PropertyFilter{
			Property: PropUser,
			RichText: &notionapi.TextFilterCondition{Equals: userID},
		},
		notionapi.PropertyFilter{
			Property: PropDate,
			Date:     &notionapi.DateFilterCondition{OnOrAfter: &start},
		},
		notionapi.PropertyFilter{
			Property: PropDate,
			Date:     &notionapi.DateFilterCondition{Before: &end},
		},
	}
}

// queryAllPages follows the pagination cursor to the end.
func (l *Ledger) queryAllPages(ctx context.Context, filter notionapi.Filter) ([]notionapi.Page, error) {
	var all []notionapi.Page
	var cursor notionapi.Cursor
	for {
		req := &notionapi.DatabaseQueryRequest{Filter: filter, PageSize: pageSize}
		if cursor != "" {
			req.StartCursor = cursor
		}
		resp, err := l.notion.QueryDatabase(ctx, l.databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("query pages: %w", err)
		}
		all = append(all, resp.Results...)
		if !resp.HasMore {
			return all, nil
		}
		cursor = resp.NextCursor
	}
}
