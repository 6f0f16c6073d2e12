package sqlite

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bookkeeper/internal/domain"
	"github.com/dvloznov/bookkeeper/internal/store"
)

var t0 = time.Date(2025, 5, 14, 9, 30, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{
		Path:   filepath.Join(t.TempDir(), "test.db"),
		Logger: zerolog.New(io.Discard),
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store, id, hash string) *domain.User {
	t.Helper()
	u := &domain.User{
		ID:             id,
		Email:          id + "@example.com",
		TokenHash:      hash,
		TokenExpiresAt: t0.Add(48 * time.Hour),
		Subscription:   domain.SubscriptionTrial,
		CreatedAt:      t0,
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	return u
}

func TestTransactionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", "h1")

	docDate := time.Date(2025, 5, 14, 0, 0, 0, 0, time.UTC)
	in := &domain.Transaction{
		ID:                 "tx1",
		UserID:             "u1",
		Type:               domain.TypeExpense,
		Amount:             decimal.RequireFromString("1850.55"),
		Currency:           "CZK",
		Description:        "bought gasoline 1850.55 at Shell",
		CategoryCode:       "fuel",
		CategoryLabel:      "Fuel",
		CounterpartyName:   "Shell",
		DocumentDate:       &docDate,
		VATRate:            decimal.NewNullDecimal(decimal.NewFromInt(21)),
		VATAmount:          decimal.NewNullDecimal(decimal.RequireFromString("321.17")),
		CompletenessScore:  63,
		RiskLevel:          domain.RiskMedium,
		MissingRequired:    []string{domain.FieldCounterpartyRegID},
		MissingRecommended: []string{domain.FieldPaymentDate},
		Source:             "whatsapp",
		CreatedAt:          t0,
	}
	if err := s.CreateTransaction(ctx, in); err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}

	out, err := s.GetTransaction(ctx, "tx1")
	if err != nil {
		t.Fatalf("GetTransaction() error = %v", err)
	}
	if !out.Amount.Equal(in.Amount) || out.Amount.String() != "1850.55" {
		t.Errorf("amount = %s, want %s", out.Amount, in.Amount)
	}
	if out.Type != in.Type || out.CategoryCode != in.CategoryCode {
		t.Errorf("type/category = %s/%s, want %s/%s", out.Type, out.CategoryCode, in.Type, in.CategoryCode)
	}
	if out.DocumentDate == nil || !out.DocumentDate.Equal(docDate) {
		t.Errorf("document date = %v, want %v", out.DocumentDate, docDate)
	}
	if out.PaymentDate != nil {
		t.Errorf("payment date = %v, want nil", out.PaymentDate)
	}
	if !out.VATAmount.Valid || !out.VATAmount.Decimal.Equal(in.VATAmount.Decimal) {
		t.Errorf("VAT amount = %v", out.VATAmount)
	}
	if len(out.MissingRequired) != 1 || out.MissingRequired[0] != domain.FieldCounterpartyRegID {
		t.Errorf("missing required = %v", out.MissingRequired)
	}
	if !out.CreatedAt.Equal(t0) {
		t.Errorf("created at = %v, want %v", out.CreatedAt, t0)
	}
}

func TestGetTransaction_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetTransaction(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetTransaction() error = %v, want ErrNotFound", err)
	}
}

func TestListTransactions_MonthWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", "h1")
	seedUser(t, s, "u2", "h2")

	mk := func(id, user string, date time.Time) {
		d := date
		tx := &domain.Transaction{
			ID: id, UserID: user, Type: domain.TypeExpense, Amount: decimal.NewFromInt(10),
			Currency: "CZK", Description: id, CategoryCode: "other", CategoryLabel: "Other",
			DocumentDate: &d, RiskLevel: domain.RiskLow, CreatedAt: t0,
		}
		if err := s.CreateTransaction(ctx, tx); err != nil {
			t.Fatalf("CreateTransaction(%s) error = %v", id, err)
		}
	}
	mk("apr30", "u1", time.Date(2025, 4, 30, 23, 0, 0, 0, time.UTC))
	mk("may01", "u1", time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC))
	mk("may31", "u1", time.Date(2025, 5, 31, 12, 0, 0, 0, time.UTC))
	mk("jun01", "u1", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	mk("other-user", "u2", time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC))

	from, to := store.MonthRange(time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC))
	got, err := s.ListTransactions(ctx, "u1", from, to)
	if err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "may01" || got[1].ID != "may31" {
		ids := make([]string, len(got))
		for i, tx := range got {
			ids[i] = tx.ID
		}
		t.Errorf("ListTransactions() ids = %v, want [may01 may31]", ids)
	}
}

func TestActivateUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", "h1")

	params := store.ActivateParams{
		UserID: "u1", TokenHash: "h1", Phone: "+420777000111", At: t0,
		SourceIP: "203.0.113.9", Client: "whatsapp", AuditID: "a1",
	}
	if err := s.ActivateUser(ctx, params); err != nil {
		t.Fatalf("ActivateUser() error = %v", err)
	}

	u, err := s.FindUserByPhone(ctx, "+420777000111")
	if err != nil {
		t.Fatalf("FindUserByPhone() error = %v", err)
	}
	if !u.Activated || u.TokenUsedAt == nil || u.ActivatedAt == nil {
		t.Errorf("user not activated: %+v", u)
	}

	audits, err := s.ListActivationAudits(ctx, "u1")
	if err != nil || len(audits) != 1 || audits[0].SourceIP != "203.0.113.9" {
		t.Errorf("audits = %+v, err = %v", audits, err)
	}

	// second use of the same token
	params.AuditID = "a2"
	if err := s.ActivateUser(ctx, params); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Errorf("second ActivateUser() error = %v, want ErrTokenNotFound", err)
	}
	audits, _ = s.ListActivationAudits(ctx, "u1")
	if len(audits) != 1 {
		t.Errorf("failed activation wrote an audit row: %d rows", len(audits))
	}
}

func TestActivateUser_PhoneBoundElsewhere(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", "h1")
	seedUser(t, s, "u2", "h2")

	if err := s.ActivateUser(ctx, store.ActivateParams{UserID: "u1", TokenHash: "h1", Phone: "+1555", At: t0, AuditID: "a1"}); err != nil {
		t.Fatalf("ActivateUser(u1) error = %v", err)
	}
	err := s.ActivateUser(ctx, store.ActivateParams{UserID: "u2", TokenHash: "h2", Phone: "+1555", At: t0, AuditID: "a2"})
	if !errors.Is(err, domain.ErrAlreadyActivated) {
		t.Errorf("ActivateUser(u2) error = %v, want ErrAlreadyActivated", err)
	}
	u2, _ := s.GetUser(ctx, "u2")
	if u2.Activated || u2.TokenUsedAt != nil {
		t.Errorf("rolled back activation left state behind: %+v", u2)
	}
}

func TestUpdateUser_ActivatedIsMonotonic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", "h1")
	if err := s.ActivateUser(ctx, store.ActivateParams{UserID: "u1", TokenHash: "h1", Phone: "+1", At: t0, AuditID: "a"}); err != nil {
		t.Fatal(err)
	}

	u, _ := s.GetUser(ctx, "u1")
	u.Activated = false
	u.Subscription = domain.SubscriptionCancelled
	if err := s.UpdateUser(ctx, u); err != nil {
		t.Fatalf("UpdateUser() error = %v", err)
	}
	got, _ := s.GetUser(ctx, "u1")
	if !got.Activated {
		t.Error("UpdateUser reset the activated flag")
	}
	if got.Subscription != domain.SubscriptionCancelled {
		t.Errorf("subscription = %s", got.Subscription)
	}

	active, err := s.ListActiveUsers(ctx)
	if err != nil || len(active) != 0 {
		t.Errorf("ListActiveUsers() = %d users, err = %v; cancelled user must be excluded", len(active), err)
	}

	if err := s.UpdateUser(ctx, &domain.User{ID: "ghost"}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("UpdateUser(ghost) error = %v, want ErrNotFound", err)
	}
}

func TestReminders(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", "h1")

	due := t0.Add(time.Hour)
	r := &domain.Reminder{ID: "r1", UserID: "u1", Type: domain.ReminderVAT, DueAt: due, CreatedAt: t0}
	if err := s.CreateReminder(ctx, r); err != nil {
		t.Fatalf("CreateReminder() error = %v", err)
	}
	dup := &domain.Reminder{ID: "r2", UserID: "u1", Type: domain.ReminderVAT, DueAt: due, CreatedAt: t0}
	if err := s.CreateReminder(ctx, dup); err != nil {
		t.Fatalf("CreateReminder(duplicate) error = %v", err)
	}

	if got, _ := s.ListDueReminders(ctx, t0); len(got) != 0 {
		t.Errorf("reminder listed before it is due: %d", len(got))
	}
	got, err := s.ListDueReminders(ctx, due)
	if err != nil {
		t.Fatalf("ListDueReminders() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "r1" {
		t.Fatalf("ListDueReminders() = %+v, want only r1", got)
	}

	if err := s.MarkReminderSent(ctx, "r1", due); err != nil {
		t.Fatalf("MarkReminderSent() error = %v", err)
	}
	if got, _ := s.ListDueReminders(ctx, due.Add(time.Hour)); len(got) != 0 {
		t.Errorf("sent reminder still due: %d", len(got))
	}
	if err := s.MarkReminderSent(ctx, "missing", due); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("MarkReminderSent(missing) error = %v, want ErrNotFound", err)
	}
}

func TestPersistenceErrorOnClosedStore(t *testing.T) {
	s, err := Open(context.Background(), Config{
		Path:   filepath.Join(t.TempDir(), "closed.db"),
		Logger: zerolog.New(io.Discard),
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	s.Close()
	_, err = s.GetUser(context.Background(), "u1")
	if !errors.Is(err, domain.ErrPersistence) {
		t.Errorf("GetUser() on closed store error = %v, want ErrPersistence", err)
	}
}
