package notionsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bookkeeper/internal/domain"
)

// MockNotionService is a mock implementation of NotionService for testing.
type MockNotionService struct {
	CreatePageFunc    func(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error)
	UpdatePageFunc    func(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error)
	QueryDatabaseFunc func(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	DeletePageFunc    func(ctx context.Context, pageID string) error

	created []notionapi.Properties
	updated []string
	deleted []string
}

func (m *MockNotionService) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if m.CreatePageFunc != nil {
		return m.CreatePageFunc(ctx, databaseID, properties)
	}
	m.created = append(m.created, properties)
	return &notionapi.Page{ID: notionapi.ObjectID(fmt.Sprintf("new-%d", len(m.created)))}, nil
}

func (m *MockNotionService) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if m.UpdatePageFunc != nil {
		return m.UpdatePageFunc(ctx, pageID, properties)
	}
	m.updated = append(m.updated, pageID)
	return &notionapi.Page{ID: notionapi.ObjectID(pageID)}, nil
}

func (m *MockNotionService) QueryDatabase(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	if m.QueryDatabaseFunc != nil {
		return m.QueryDatabaseFunc(ctx, databaseID, filter)
	}
	return &notionapi.DatabaseQueryResponse{}, nil
}

func (m *MockNotionService) DeletePage(ctx context.Context, pageID string) error {
	if m.DeletePageFunc != nil {
		return m.DeletePageFunc(ctx, pageID)
	}
	m.deleted = append(m.deleted, pageID)
	return nil
}

// MockTransactionRepository serves a fixed list of transactions.
type MockTransactionRepository struct {
	Transactions []*domain.Transaction
	Err          error
}

func (m *MockTransactionRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	return errors.New("not implemented")
}

func (m *MockTransactionRepository) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return nil, domain.ErrNotFound
}

func (m *MockTransactionRepository) ListTransactions(ctx context.Context, userID string, from, to time.Time) ([]*domain.Transaction, error) {
	return m.Transactions, m.Err
}

func pageWithTxID(pageID, txID string) notionapi.Page {
	props := notionapi.Properties{}
	if txID != "" {
		props[PropTxID] = &notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{PlainText: txID}},
		}
	}
	return notionapi.Page{ID: notionapi.ObjectID(pageID), Properties: props}
}

func sampleTransaction(id string) *domain.Transaction {
	doc := time.Date(2025, 5, 14, 0, 0, 0, 0, time.UTC)
	return &domain.Transaction{
		ID:                id,
		UserID:            "user-1",
		Type:              domain.TypeExpense,
		Amount:            decimal.RequireFromString("1553.00"),
		Currency:          "CZK",
		Description:       "fuel",
		CategoryLabel:     "Fuel",
		CounterpartyName:  "Shell",
		DocumentDate:      &doc,
		VATRate:           decimal.NewNullDecimal(decimal.NewFromInt(21)),
		VATAmount:         decimal.NewNullDecimal(decimal.RequireFromString("269.53")),
		CompletenessScore: 63,
		RiskLevel:         domain.RiskMedium,
		MissingRequired:   []string{domain.FieldCounterpartyRegID},
		CreatedAt:         doc.Add(9 * time.Hour),
	}
}

func TestTransactionToNotionProperties(t *testing.T) {
	props := TransactionToNotionProperties(sampleTransaction("tx-1"))

	title, ok := props[PropDescription].(notionapi.TitleProperty)
	if !ok || title.Title[0].Text.Content != "fuel" {
		t.Errorf("Description = %#v", props[PropDescription])
	}
	if n := props[PropAmount].(notionapi.NumberProperty).Number; n != 1553 {
		t.Errorf("Amount = %v, want 1553", n)
	}
	if risk := props[PropRisk].(notionapi.SelectProperty).Select.Name; risk != "medium" {
		t.Errorf("Risk = %q", risk)
	}
	missing := props[PropMissing].(notionapi.MultiSelectProperty).MultiSelect
	if len(missing) != 1 {
		t.Fatalf("Missing = %v, want one entry", missing)
	}
	date := props[PropDate].(notionapi.DateProperty)
	if got := time.Time(*date.Date.Start).Format("2006-01-02"); got != "2025-05-14" {
		t.Errorf("Date = %s", got)
	}
}

func TestTransactionToNotionProperties_OmitsEmptyOptionals(t *testing.T) {
	tx := sampleTransaction("tx-1")
	tx.CounterpartyName = ""
	tx.VATRate = decimal.NullDecimal{}
	tx.VATAmount = decimal.NullDecimal{}
	tx.DocumentDate = nil

	props := TransactionToNotionProperties(tx)
	for _, key := range []string{PropCounterparty, PropRegID, PropVATRate, PropVATAmount} {
		if _, ok := props[key]; ok {
			t.Errorf("property %q set for empty value", key)
		}
	}
	date := props[PropDate].(notionapi.DateProperty)
	if !time.Time(*date.Date.Start).Equal(tx.CreatedAt) {
		t.Errorf("undated transaction should be filed under CreatedAt")
	}
}

func TestExportTransaction(t *testing.T) {
	tests := []struct {
		name        string
		existing    []notionapi.Page
		wantCreated int
		wantUpdated int
	}{
		{name: "creates new page", wantCreated: 1},
		{name: "updates existing page", existing: []notionapi.Page{pageWithTxID("page-9", "tx-1")}, wantUpdated: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var filter *notionapi.DatabaseQueryRequest
			mock := &MockNotionService{
				QueryDatabaseFunc: func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
					filter = req
					return &notionapi.DatabaseQueryResponse{Results: tt.existing}, nil
				},
			}
			ledger := NewLedger(mock, "db-1", zerolog.New(io.Discard))

			if err := ledger.ExportTransaction(context.Background(), sampleTransaction("tx-1")); err != nil {
				t.Fatalf("ExportTransaction() error = %v", err)
			}
			if len(mock.created) != tt.wantCreated || len(mock.updated) != tt.wantUpdated {
				t.Errorf("created=%d updated=%d, want %d/%d", len(mock.created), len(mock.updated), tt.wantCreated, tt.wantUpdated)
			}
			pf, ok := filter.Filter.(notionapi.PropertyFilter)
			if !ok || pf.Property != PropTxID || pf.RichText.Equals != "tx-1" {
				t.Errorf("lookup filter = %#v", filter.Filter)
			}
		})
	}
}

func TestExportTransaction_QueryError(t *testing.T) {
	mock := &MockNotionService{
		QueryDatabaseFunc: func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			return nil, errors.New("rate limited")
		},
	}
	ledger := NewLedger(mock, "db-1", zerolog.New(io.Discard))
	if err := ledger.ExportTransaction(context.Background(), sampleTransaction("tx-1")); err == nil {
		t.Fatal("expected error")
	}
	if len(mock.created) != 0 {
		t.Error("page created despite failed lookup")
	}
}

func TestSyncMonth(t *testing.T) {
	month := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	repo := &MockTransactionRepository{Transactions: []*domain.Transaction{
		sampleTransaction("tx-1"),
		sampleTransaction("tx-2"),
		sampleTransaction("tx-3"),
	}}

	// Two result pages: tx-1 and a stale page, then a duplicate of tx-1 and an untagged page.
	newMock := func() *MockNotionService {
		m := &MockNotionService{}
		m.QueryDatabaseFunc = func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			if req.StartCursor == "" {
				return &notionapi.DatabaseQueryResponse{
					Results:    []notionapi.Page{pageWithTxID("p1", "tx-1"), pageWithTxID("p2", "tx-gone")},
					HasMore:    true,
					NextCursor: "c2",
				}, nil
			}
			return &notionapi.DatabaseQueryResponse{
				Results: []notionapi.Page{pageWithTxID("p3", "tx-1"), pageWithTxID("p4", "")},
			}, nil
		}
		return m
	}

	t.Run("applies changes", func(t *testing.T) {
		mock := newMock()
		ledger := NewLedger(mock, "db-1", zerolog.New(io.Discard))
		res, err := ledger.SyncMonth(context.Background(), repo, "user-1", month, false)
		if err != nil {
			t.Fatalf("SyncMonth() error = %v", err)
		}
		want := SyncResult{Created: 2, Deleted: 3, Skipped: 1}
		if res != want {
			t.Errorf("result = %+v, want %+v", res, want)
		}
		if fmt.Sprint(mock.deleted) != "[p2 p3 p4]" {
			t.Errorf("deleted = %v", mock.deleted)
		}
		if len(mock.created) != 2 {
			t.Errorf("created %d pages, want 2", len(mock.created))
		}
	})

	t.Run("dry run writes nothing", func(t *testing.T) {
		mock := newMock()
		ledger := NewLedger(mock, "db-1", zerolog.New(io.Discard))
		res, err := ledger.SyncMonth(context.Background(), repo, "user-1", month, true)
		if err != nil {
			t.Fatalf("SyncMonth() error = %v", err)
		}
		if res.Created != 2 || res.Deleted != 3 {
			t.Errorf("result = %+v", res)
		}
		if len(mock.created)+len(mock.deleted) != 0 {
			t.Error("dry run modified Notion")
		}
	})

	t.Run("list failure", func(t *testing.T) {
		ledger := NewLedger(newMock(), "db-1", zerolog.New(io.Discard))
		_, err := ledger.SyncMonth(context.Background(), &MockTransactionRepository{Err: domain.ErrPersistence}, "user-1", month, false)
		if !errors.Is(err, domain.ErrPersistence) {
			t.Errorf("error = %v, want ErrPersistence", err)
		}
	})
}
