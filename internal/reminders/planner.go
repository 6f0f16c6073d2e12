// Package reminders plans and delivers the recurring bookkeeping reminders.
package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/bookkeeper/internal/clock"
	"github.com/dvloznov/bookkeeper/internal/domain"
	"github.com/dvloznov/bookkeeper/internal/store"
)

// Deadlines, as days of the month following the period.
const (
	VATDueDay        = 25
	TaxAdvanceDueDay = 15
)

// sendHour is the UTC hour reminders become due.
const sendHour = 8

// Repository is the persistence the reminder services need.
type Repository interface {
	store.ReminderRepository
	ListActiveUsers(ctx context.Context) ([]*domain.User, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
}

// Planner creates the reminders of a closing month.
type Planner struct {
	repo  Repository
	clock clock.Clock
	log   zerolog.Logger
}

func NewPlanner(repo Repository, c clock.Clock, log zerolog.Logger) *Planner {
	return &Planner{repo: repo, clock: c, log: log}
}

// PlanMonth schedules, for every active user, the reminders that follow
// the month containing month: the monthly summary on the 1st and the VAT
// deadline on the 25th of the next month, plus the quarterly summary and
// the tax advance when month closes a quarter. Planning the same month
// twice does not create duplicates. Returns the number of reminders
// submitted.
func (p *Planner) PlanMonth(ctx context.Context, month time.Time) (int, error) {
	users, err := p.repo.ListActiveUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("PlanMonth: list users: %w", err)
	}

	planned := Schedule(month)
	n := 0
	for _, u := range users {
		for _, r := range planned {
			rem := &domain.Reminder{
				ID:        uuid.NewString(),
				UserID:    u.ID,
				Type:      r.Type,
				DueAt:     r.DueAt,
				CreatedAt: p.clock.Now(),
			}
			if err := p.repo.CreateReminder(ctx, rem); err != nil {
				return n, fmt.Errorf("PlanMonth: create %s reminder for %s: %w", r.Type, u.ID, err)
			}
			n++
		}
	}

	p.log.Info().
		Str("month", month.Format("2006-01")).
		Int("users", len(users)).
		Int("reminders", n).
		Msg("planned reminders")
	return n, nil
}

// Planned is one reminder slot produced by Schedule.
type Planned struct {
	Type  domain.ReminderType
	DueAt time.Time
}

// Schedule lists the reminder slots that follow the month containing month.
func Schedule(month time.Time) []Planned {
	first := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	next := first.AddDate(0, 1, 0)
	at := func(day int) time.Time {
		return time.Date(next.Year(), next.Month(), day, sendHour, 0, 0, 0, time.UTC)
	}

	out := []Planned{
		{Type: domain.ReminderMonthlySummary, DueAt: at(1)},
		{Type: domain.ReminderVAT, DueAt: at(VATDueDay)},
	}
	if first.Month()%3 == 0 {
		out = append(out,
			Planned{Type: domain.ReminderQuarterlySummary, DueAt: at(1)},
			Planned{Type: domain.ReminderTaxAdvance, DueAt: at(TaxAdvanceDueDay)},
		)
	}
	return out
}

// periodOf returns the first day of the month a reminder due at dueAt
// refers to: the month before the due date.
func periodOf(dueAt time.Time) time.Time {
	return time.Date(dueAt.Year(), dueAt.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
}

// quarterOf returns the quarter number (1-4) of t.
func quarterOf(t time.Time) int {
	return (int(t.Month())-1)/3 + 1
}
