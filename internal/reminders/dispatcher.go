package reminders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/bookkeeper/internal/clock"
	"github.com/dvloznov/bookkeeper/internal/compliance"
	"github.com/dvloznov/bookkeeper/internal/domain"
	"github.com/dvloznov/bookkeeper/internal/messaging"
)

// ReportGenerator builds monthly compliance reports.
type ReportGenerator interface {
	GenerateMonthlyReport(ctx context.Context, userID string, month time.Time) (*compliance.Report, error)
}

// DispatchResult counts the outcome of one dispatch run.
type DispatchResult struct {
	Sent       int
	Failed     int
	Suppressed int
}

// Dispatcher delivers due reminders.
type Dispatcher struct {
	repo    Repository
	reports ReportGenerator
	sender  messaging.Sender
	clock   clock.Clock
	log     zerolog.Logger
}

func NewDispatcher(repo Repository, reports ReportGenerator, sender messaging.Sender, c clock.Clock, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{repo: repo, reports: reports, sender: sender, clock: c, log: log}
}

// DispatchDue sends every unsent reminder due by now and marks it sent.
// Reminders of users that are no longer active are marked sent without
// delivery. A failed send leaves the reminder pending for the next run.
func (d *Dispatcher) DispatchDue(ctx context.Context) (DispatchResult, error) {
	var res DispatchResult
	now := d.clock.Now()

	due, err := d.repo.ListDueReminders(ctx, now)
	if err != nil {
		return res, fmt.Errorf("DispatchDue: list reminders: %w", err)
	}

	for _, r := range due {
		log := d.log.With().Str("reminder_id", r.ID).Str("user_id", r.UserID).Str("type", string(r.Type)).Logger()

		user, err := d.repo.GetUser(ctx, r.UserID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			log.Error().Err(err).Msg("failed to load reminder recipient")
			res.Failed++
			continue
		}
		if user == nil || !user.Activated || user.Phone == "" || !user.Subscription.Usable() {
			if err := d.repo.MarkReminderSent(ctx, r.ID, now); err != nil {
				log.Error().Err(err).Msg("failed to mark suppressed reminder")
			}
			res.Suppressed++
			continue
		}

		body, err := d.Compose(ctx, r)
		if err != nil {
			log.Error().Err(err).Msg("failed to compose reminder")
			res.Failed++
			continue
		}
		if err := d.sender.Send(ctx, user.Phone, body); err != nil {
			log.Warn().Err(err).Msg("failed to send reminder")
			res.Failed++
			continue
		}
		if err := d.repo.MarkReminderSent(ctx, r.ID, now); err != nil {
			// delivered but not marked; it will be sent again next run
			log.Error().Err(err).Msg("failed to mark reminder sent")
			res.Failed++
			continue
		}
		res.Sent++
	}

	d.log.Info().
		Int("due", len(due)).
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Int("suppressed", res.Suppressed).
		Msg("dispatched reminders")
	return res, nil
}

// Compose renders the text of a reminder.
func (d *Dispatcher) Compose(ctx context.Context, r *domain.Reminder) (string, error) {
	period := periodOf(r.DueAt)

	switch r.Type {
	case domain.ReminderMonthlySummary:
		rep, err := d.reports.GenerateMonthlyReport(ctx, r.UserID, period)
		if err != nil && !errors.Is(err, domain.ErrNoTransactions) {
			return "", fmt.Errorf("Compose: %w", err)
		}
		return "Your monthly bookkeeping summary.\n" + rep.SummaryText(), nil

	case domain.ReminderQuarterlySummary:
		return d.quarterText(ctx, r.UserID, period)

	case domain.ReminderVAT:
		deadline := time.Date(r.DueAt.Year(), r.DueAt.Month(), VATDueDay, 0, 0, 0, 0, time.UTC)
		return fmt.Sprintf("Reminder: the VAT return for %s is due on %s. Send me any missing receipts before then.",
			period.Format("2006-01"), deadline.Format("2006-01-02")), nil

	case domain.ReminderTaxAdvance:
		deadline := time.Date(r.DueAt.Year(), r.DueAt.Month(), TaxAdvanceDueDay, 0, 0, 0, 0, time.UTC)
		return fmt.Sprintf("Reminder: your income tax advance for Q%d %d is due on %s.",
			quarterOf(period), period.Year(), deadline.Format("2006-01-02")), nil

	case domain.ReminderCustom:
		if strings.TrimSpace(r.Message) == "" {
			return "", errors.New("Compose: custom reminder without message")
		}
		return r.Message, nil
	}
	return "", fmt.Errorf("Compose: unknown reminder type %q", r.Type)
}

// quarterText summarizes the three months of the quarter ending with last.
func (d *Dispatcher) quarterText(ctx context.Context, userID string, last time.Time) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Quarter Q%d %d is closed.", quarterOf(last), last.Year())

	start := last.AddDate(0, -2, 0)
	for m := start; !m.After(last); m = m.AddDate(0, 1, 0) {
		rep, err := d.reports.GenerateMonthlyReport(ctx, userID, m)
		if err != nil && !errors.Is(err, domain.ErrNoTransactions) {
			return "", fmt.Errorf("Compose: quarter %s: %w", m.Format("2006-01"), err)
		}
		if rep.TotalTransactions == 0 {
			fmt.Fprintf(&b, "\n%s: no transactions.", rep.Month)
			continue
		}
		fmt.Fprintf(&b, "\n%s: %d transaction(s), evidence score %d/100.", rep.Month, rep.TotalTransactions, rep.AverageScore)
	}
	return b.String(), nil
}
