package postgres

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bookkeeper/internal/domain"
	"github.com/dvloznov/bookkeeper/internal/store"
)

var t0 = time.Date(2025, 5, 14, 9, 30, 0, 0, time.UTC)

// openTestStore connects to BOOKKEEPER_TEST_DATABASE_URL, applies the
// migrations and empties the tables. Tests are skipped without it.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("BOOKKEEPER_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("BOOKKEEPER_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, Config{URL: url, Logger: zerolog.New(io.Discard)})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	files, err := filepath.Glob(filepath.Join("..", "..", "..", "migrations", "postgres", "*.sql"))
	if err != nil || len(files) == 0 {
		t.Fatalf("no migrations found: %v", err)
	}
	sort.Strings(files)
	for _, f := range files {
		sqlText, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		if _, err := s.db.ExecContext(ctx, string(sqlText)); err != nil {
			t.Fatalf("apply %s: %v", f, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `TRUNCATE reminders, transactions, activation_audit, users`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return s
}

func seedUser(t *testing.T, s *Store, id, hash string) {
	t.Helper()
	err := s.CreateUser(context.Background(), &domain.User{
		ID:             id,
		Email:          id + "@example.com",
		TokenHash:      hash,
		TokenExpiresAt: t0.Add(48 * time.Hour),
		Subscription:   domain.SubscriptionTrial,
		CreatedAt:      t0,
	})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", "h1")

	docDate := time.Date(2025, 5, 14, 0, 0, 0, 0, time.UTC)
	in := &domain.Transaction{
		ID:                "tx1",
		UserID:            "u1",
		Type:              domain.TypeExpense,
		Amount:            decimal.RequireFromString("1850.55"),
		Currency:          "CZK",
		Description:       "bought gasoline at Shell",
		CategoryCode:      "fuel",
		CategoryLabel:     "Fuel",
		CounterpartyName:  "Shell",
		DocumentDate:      &docDate,
		VATRate:           decimal.NewNullDecimal(decimal.NewFromInt(21)),
		CompletenessScore: 63,
		RiskLevel:         domain.RiskMedium,
		MissingRequired:   []string{domain.FieldCounterpartyRegID},
		CreatedAt:         t0,
	}
	if err := s.CreateTransaction(ctx, in); err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}

	out, err := s.GetTransaction(ctx, "tx1")
	if err != nil {
		t.Fatalf("GetTransaction() error = %v", err)
	}
	if !out.Amount.Equal(in.Amount) || out.Type != in.Type || out.CategoryCode != in.CategoryCode {
		t.Errorf("round trip = %s/%s/%s, want %s/%s/%s",
			out.Amount, out.Type, out.CategoryCode, in.Amount, in.Type, in.CategoryCode)
	}
	if !out.VATRate.Valid || !out.VATRate.Decimal.Equal(decimal.NewFromInt(21)) || out.VATAmount.Valid {
		t.Errorf("vat = %v/%v", out.VATRate, out.VATAmount)
	}
	if len(out.MissingRequired) != 1 || len(out.MissingRecommended) != 0 {
		t.Errorf("missing = %v/%v", out.MissingRequired, out.MissingRecommended)
	}

	from, to := store.MonthRange(t0)
	list, err := s.ListTransactions(ctx, "u1", from, to)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListTransactions() = %d, %v; want 1", len(list), err)
	}

	if _, err := s.GetTransaction(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetTransaction(missing) error = %v, want ErrNotFound", err)
	}
}

func TestActivateUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", "h1")
	seedUser(t, s, "u2", "h2")

	p := store.ActivateParams{UserID: "u1", TokenHash: "h1", Phone: "+420777000111", At: t0, AuditID: "a1"}
	if err := s.ActivateUser(ctx, p); err != nil {
		t.Fatalf("ActivateUser() error = %v", err)
	}
	if err := s.ActivateUser(ctx, p); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Errorf("second ActivateUser() error = %v, want ErrTokenNotFound", err)
	}

	p2 := store.ActivateParams{UserID: "u2", TokenHash: "h2", Phone: "+420777000111", At: t0, AuditID: "a2"}
	if err := s.ActivateUser(ctx, p2); !errors.Is(err, domain.ErrAlreadyActivated) {
		t.Errorf("ActivateUser(phone bound elsewhere) error = %v, want ErrAlreadyActivated", err)
	}

	u, err := s.FindUserByPhone(ctx, "+420777000111")
	if err != nil || u.ID != "u1" || !u.Activated {
		t.Fatalf("FindUserByPhone() = %+v, %v", u, err)
	}
	audits, err := s.ListActivationAudits(ctx, "u1")
	if err != nil || len(audits) != 1 {
		t.Errorf("ListActivationAudits() = %d, %v; want 1", len(audits), err)
	}
}

func TestReminders(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", "h1")

	r := &domain.Reminder{ID: "r1", UserID: "u1", Type: domain.ReminderVAT, DueAt: t0, CreatedAt: t0}
	for i := 0; i < 2; i++ {
		if err := s.CreateReminder(ctx, r); err != nil {
			t.Fatalf("CreateReminder() error = %v", err)
		}
	}
	due, err := s.ListDueReminders(ctx, t0)
	if err != nil || len(due) != 1 {
		t.Fatalf("ListDueReminders() = %d, %v; want 1", len(due), err)
	}
	if err := s.MarkReminderSent(ctx, "r1", t0); err != nil {
		t.Fatalf("MarkReminderSent() error = %v", err)
	}
	if err := s.MarkReminderSent(ctx, "nope", t0); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("MarkReminderSent(nope) error = %v, want ErrNotFound", err)
	}
}

func TestWrap(t *testing.T) {
	s := New(nil, zerolog.New(io.Discard))

	if err := s.wrap("Op", nil); err != nil {
		t.Errorf("wrap(nil) = %v", err)
	}
	if err := s.wrap("Op", domain.ErrTokenExpired); err != domain.ErrTokenExpired {
		t.Errorf("domain error was rewrapped: %v", err)
	}
	err := s.wrap("CreateTransaction", errors.New("connection refused"))
	var perr *domain.PersistenceError
	if !errors.As(err, &perr) || perr.Op != "CreateTransaction" {
		t.Errorf("wrap() = %v, want *PersistenceError", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pq.Error{Code: "23505"}) {
		t.Error("23505 not recognised")
	}
	if isUniqueViolation(&pq.Error{Code: "23503"}) || isUniqueViolation(errors.New("x")) {
		t.Error("unexpected unique violation")
	}
}

func TestNullHelpers(t *testing.T) {
	if nullString("").Valid || !nullString("x").Valid {
		t.Error("nullString validity wrong")
	}
	if nullTime(nil).Valid {
		t.Error("nullTime(nil) is valid")
	}
	local := time.Date(2025, 1, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	nt := nullTime(&local)
	if !nt.Valid || nt.Time.Location() != time.UTC || !nt.Time.Equal(local) {
		t.Errorf("nullTime() = %v", nt)
	}
	if timePtr(nt) == nil || timePtr(sql.NullTime{}) != nil {
		t.Error("timePtr validity wrong")
	}
}
