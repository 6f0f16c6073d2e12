package store

import (
	"context"
	"time"

	"github.com/dvloznov/bookkeeper/internal/domain"
)

// UserRepository provides an interface for user and activation operations.
type UserRepository interface {
	// CreateUser inserts a new user. The activation token must already be hashed.
	CreateUser(ctx context.Context, u *domain.User) error

	// GetUser retrieves a user by ID. Returns domain.ErrNotFound if absent.
	GetUser(ctx context.Context, id string) (*domain.User, error)

	// FindUserByPhone retrieves the user bound to a normalized phone number.
	FindUserByPhone(ctx context.Context, phone string) (*domain.User, error)

	// FindUserByTokenHash retrieves the user owning an activation token digest.
	FindUserByTokenHash(ctx context.Context, tokenHash string) (*domain.User, error)

	// UpdateUser overwrites the mutable fields of an existing user.
	UpdateUser(ctx context.Context, u *domain.User) error

	// ListActiveUsers returns activated users whose subscription is usable.
	ListActiveUsers(ctx context.Context) ([]*domain.User, error)

	// ActivateUser binds the phone, sets the activated flag, consumes the
	// token and writes the audit row in one transaction. It re-checks that
	// the token is still unused and returns domain.ErrTokenNotFound if not,
	// or domain.ErrAlreadyActivated if the phone belongs to another user.
	ActivateUser(ctx context.Context, p ActivateParams) error
}

// TransactionRepository provides an interface for recorded transactions.
type TransactionRepository interface {
	// CreateTransaction inserts a transaction atomically.
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error

	// GetTransaction retrieves a transaction by ID.
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)

	// ListTransactions returns a user's transactions whose document date
	// (or creation time, if undated) falls in [from, to), oldest first.
	ListTransactions(ctx context.Context, userID string, from, to time.Time) ([]*domain.Transaction, error)
}

// ReminderRepository provides an interface for scheduled reminders.
type ReminderRepository interface {
	// CreateReminder inserts a reminder. Planning the same user, type and
	// due time twice is a no-op.
	CreateReminder(ctx context.Context, r *domain.Reminder) error

	// ListDueReminders returns unsent reminders due before the given time.
	ListDueReminders(ctx context.Context, before time.Time) ([]*domain.Reminder, error)

	// MarkReminderSent flags a reminder as delivered.
	MarkReminderSent(ctx context.Context, id string, at time.Time) error
}

// Store is the full persistence contract used by the application.
type Store interface {
	UserRepository
	TransactionRepository
	ReminderRepository
	Close() error
}

// ActivateParams carries everything ActivateUser writes.
type ActivateParams struct {
	UserID    string
	TokenHash string
	Phone     string
	At        time.Time
	SourceIP  string
	Client    string
	AuditID   string
}

// MonthRange returns the half-open interval covering the calendar month
// that contains t, in t's location.
func MonthRange(t time.Time) (from, to time.Time) {
	from = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return from, from.AddDate(0, 1, 0)
}

// ParseMonth parses "YYYY-MM" into the first instant of that month in UTC.
func ParseMonth(s string) (time.Time, error) {
	return time.Parse("2006-01", s)
}
