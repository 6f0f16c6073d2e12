package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/bookkeeper/internal/domain"
)

const (
	transactionsTable = "transactions"
	dateFormat        = "2006-01-02"
)

// Warehouse writes recorded transactions to BigQuery for analytics. It
// holds a shared client to avoid creating a new connection for each
// operation.
type Warehouse struct {
	client  *bigquery.Client
	project string
	dataset string
}

// NewWarehouse creates a client for project. Call Close when done.
func NewWarehouse(ctx context.Context, project, dataset string) (*Warehouse, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("NewWarehouse: creating client: %w", err)
	}
	return NewWarehouseWithClient(client, project, dataset), nil
}

// NewWarehouseWithClient wraps an existing client.
func NewWarehouseWithClient(client *bigquery.Client, project, dataset string) *Warehouse {
	return &Warehouse{client: client, project: project, dataset: dataset}
}

// Close closes the BigQuery client connection.
func (w *Warehouse) Close() error {
	if w.client != nil {
		return w.client.Close()
	}
	return nil
}

func (w *Warehouse) table() *bigquery.Table {
	// fully qualified to avoid project ID issues
	return w.client.DatasetInProject(w.project, w.dataset).Table(transactionsTable)
}

// EnsureTable creates the transactions table, partitioned by document
// date, if it does not exist yet.
func (w *Warehouse) EnsureTable(ctx context.Context) error {
	t := w.table()
	if _, err := t.Metadata(ctx); err == nil {
		return nil
	}

	schema, err := bigquery.InferSchema(TransactionRow{})
	if err != nil {
		return fmt.Errorf("EnsureTable: infer schema: %w", err)
	}
	meta := &bigquery.TableMetadata{
		Schema: schema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: "document_date",
		},
		Clustering: &bigquery.Clustering{Fields: []string{"user_id"}},
	}
	if err := t.Create(ctx, meta); err != nil {
		return fmt.Errorf("EnsureTable: create: %w", err)
	}
	return nil
}

// InsertTransactions streams rows into the transactions table. The
// transaction ID is the insert ID, so retried exports are deduplicated.
func (w *Warehouse) InsertTransactions(ctx context.Context, rows []*TransactionRow) error {
	if len(rows) == 0 {
		return nil
	}

	savers := make([]*bigquery.StructSaver, len(rows))
	for i, r := range rows {
		savers[i] = &bigquery.StructSaver{Struct: r, InsertID: r.TransactionID}
	}
	if err := w.table().Inserter().Put(ctx, savers); err != nil {
		return fmt.Errorf("InsertTransactions: inserting rows: %w", err)
	}
	return nil
}

// ExportTransaction inserts one recorded transaction.
func (w *Warehouse) ExportTransaction(ctx context.Context, tx *domain.Transaction) error {
	return w.InsertTransactions(ctx, []*TransactionRow{RowFromTransaction(tx)})
}

// QueryTransactionsByDateRange returns one user's rows with a document
// date in [startDate, endDate], oldest first. An empty userID returns
// every user.
func (w *Warehouse) QueryTransactionsByDateRange(ctx context.Context, userID string, startDate, endDate time.Time) ([]*TransactionRow, error) {
	q := w.client.Query(rangeQuery(w.project, w.dataset))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "start_date", Value: startDate.Format(dateFormat)},
		{Name: "end_date", Value: endDate.Format(dateFormat)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryTransactionsByDateRange: query read: %w", err)
	}

	var rows []*TransactionRow
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryTransactionsByDateRange: iter next: %w", err)
		}
		rows = append(rows, &r)
	}
	return rows, nil
}

func rangeQuery(project, dataset string) string {
	return fmt.Sprintf(`
		SELECT
			transaction_id, user_id, type, amount, currency, description,
			category_code, category_label, counterparty_name, counterparty_reg_id,
			document_date, payment_date, vat_rate, vat_amount,
			completeness_score, risk_level, missing_required, missing_recommended,
			incomplete_evidence, source, created_ts
		FROM `+"`%s.%s.%s`"+`
		WHERE document_date >= CAST(@start_date AS DATE)
		  AND document_date <= CAST(@end_date AS DATE)
		  AND (@user_id = '' OR user_id = @user_id)
		ORDER BY document_date, created_ts
	`, project, dataset, transactionsTable)
}
