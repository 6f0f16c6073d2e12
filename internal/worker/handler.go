// Package worker executes background jobs published by intake, the API
// and the CLI.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/bookkeeper/internal/archive"
	"github.com/dvloznov/bookkeeper/internal/compliance"
	"github.com/dvloznov/bookkeeper/internal/domain"
	"github.com/dvloznov/bookkeeper/internal/jobs"
	"github.com/dvloznov/bookkeeper/internal/logger"
	"github.com/dvloznov/bookkeeper/internal/reminders"
	"github.com/dvloznov/bookkeeper/internal/store"
)

// Exporter mirrors one recorded transaction to an external system.
// Exports must be idempotent since jobs are retried.
type Exporter interface {
	ExportTransaction(ctx context.Context, tx *domain.Transaction) error
}

type ReportGenerator interface {
	GenerateMonthlyReport(ctx context.Context, userID string, month time.Time) (*compliance.Report, error)
}

type ReminderDispatcher interface {
	DispatchDue(ctx context.Context) (reminders.DispatchResult, error)
}

// Handler routes jobs by type. Nil dependencies disable the matching
// work: an export with no exporters succeeds trivially, while an archive
// or dispatch job without its service fails.
type Handler struct {
	Transactions store.TransactionRepository
	Exporters    map[string]Exporter
	Reports      ReportGenerator
	Archive      archive.ReportArchive
	Reminders    ReminderDispatcher
	Log          zerolog.Logger
}

// Handle implements jobs.JobHandler.
func (h *Handler) Handle(ctx context.Context, job *jobs.Job) error {
	log := h.Log.With().Str("job_id", job.JobID).Str("job_type", string(job.Type)).Logger()
	ctx = logger.WithContext(ctx, log)

	var err error
	switch job.Type {
	case jobs.JobTypeExportTransaction:
		err = h.exportTransaction(ctx, job)
	case jobs.JobTypeArchiveReport:
		err = h.archiveReport(ctx, job)
	case jobs.JobTypeDispatchReminders:
		err = h.dispatchReminders(ctx, job)
	default:
		err = fmt.Errorf("Handle: unknown job type %q", job.Type)
	}
	if err != nil {
		log.Error().Err(err).Msg("job attempt failed")
		return err
	}
	log.Info().Str("result", job.Result).Msg("job done")
	return nil
}

func (h *Handler) exportTransaction(ctx context.Context, job *jobs.Job) error {
	if job.TransactionID == "" {
		return errors.New("exportTransaction: job has no transaction id")
	}
	tx, err := h.Transactions.GetTransaction(ctx, job.TransactionID)
	if err != nil {
		return fmt.Errorf("exportTransaction: load %s: %w", job.TransactionID, err)
	}

	var errs []error
	done := 0
	for name, exp := range h.Exporters {
		if err := exp.ExportTransaction(ctx, tx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		done++
	}
	if len(errs) > 0 {
		return fmt.Errorf("exportTransaction: %w", errors.Join(errs...))
	}
	job.Result = "exported to " + strconv.Itoa(done) + " target(s)"
	return nil
}

func (h *Handler) archiveReport(ctx context.Context, job *jobs.Job) error {
	if h.Reports == nil || h.Archive == nil {
		return errors.New("archiveReport: report archive is not configured")
	}
	month, err := store.ParseMonth(job.Month)
	if err != nil {
		return fmt.Errorf("archiveReport: month %q: %w", job.Month, err)
	}

	// an empty month still gets a zeroed report on file
	report, err := h.Reports.GenerateMonthlyReport(ctx, job.UserID, month)
	if err != nil && !errors.Is(err, domain.ErrNoTransactions) {
		return fmt.Errorf("archiveReport: %w", err)
	}

	uri, err := h.Archive.PutReport(ctx, report)
	if err != nil {
		return fmt.Errorf("archiveReport: %w", err)
	}
	job.Result = uri
	return nil
}

func (h *Handler) dispatchReminders(ctx context.Context, job *jobs.Job) error {
	if h.Reminders == nil {
		return errors.New("dispatchReminders: reminder dispatcher is not configured")
	}
	res, err := h.Reminders.DispatchDue(ctx)
	if err != nil {
		return fmt.Errorf("dispatchReminders: %w", err)
	}
	job.Result = fmt.Sprintf("sent %d, failed %d, suppressed %d", res.Sent, res.Failed, res.Suppressed)
	return nil
}
