package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/dvloznov/bookkeeper/internal/domain"
)

const transactionColumns = `id, user_id, type, amount, currency, description,
	category_code, category_label, counterparty_name, counterparty_reg_id,
	document_date, payment_date, vat_rate, vat_amount,
	completeness_score, risk_level, missing_required, missing_recommended,
	incomplete_evidence, source, created_at`

func (s *Store) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	required, err := listArg(tx.MissingRequired)
	if err != nil {
		return &domain.PersistenceError{Op: "CreateTransaction", Err: err}
	}
	recommended, err := listArg(tx.MissingRecommended)
	if err != nil {
		return &domain.PersistenceError{Op: "CreateTransaction", Err: err}
	}

	return s.withConn(ctx, "CreateTransaction", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `INSERT INTO transactions (`+transactionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{
				tx.ID,
				tx.UserID,
				string(tx.Type),
				tx.Amount.String(),
				tx.Currency,
				tx.Description,
				tx.CategoryCode,
				tx.CategoryLabel,
				tx.CounterpartyName,
				tx.CounterpartyRegID,
				timeArg(tx.DocumentDate),
				timeArg(tx.PaymentDate),
				decimalArg(tx.VATRate),
				decimalArg(tx.VATAmount),
				int64(tx.CompletenessScore),
				string(tx.RiskLevel),
				required,
				recommended,
				boolArg(tx.IncompleteEvidence),
				tx.Source,
				nanos(tx.CreatedAt),
			},
		})
	})
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	txs, err := s.queryTransactions(ctx, "GetTransaction",
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("GetTransaction %s: %w", id, domain.ErrNotFound)
	}
	return txs[0], nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string, from, to time.Time) ([]*domain.Transaction, error) {
	return s.queryTransactions(ctx, "ListTransactions",
		`SELECT `+transactionColumns+` FROM transactions
		WHERE user_id = ?
		  AND COALESCE(document_date, created_at) >= ?
		  AND COALESCE(document_date, created_at) < ?
		ORDER BY COALESCE(document_date, created_at), created_at`,
		userID, nanos(from), nanos(to))
}

func (s *Store) queryTransactions(ctx context.Context, op, query string, args ...any) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	err := s.withConn(ctx, op, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				tx, err := scanTransaction(stmt)
				if err != nil {
					return err
				}
				out = append(out, tx)
				return nil
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// scanTransaction reads the columns listed in transactionColumns, in order.
func scanTransaction(stmt *sqlite.Stmt) (*domain.Transaction, error) {
	amount, err := decimal.NewFromString(stmt.ColumnText(3))
	if err != nil {
		return nil, fmt.Errorf("scanTransaction: amount: %w", err)
	}
	vatRate, err := readNullDecimal(stmt, 12)
	if err != nil {
		return nil, fmt.Errorf("scanTransaction: vat_rate: %w", err)
	}
	vatAmount, err := readNullDecimal(stmt, 13)
	if err != nil {
		return nil, fmt.Errorf("scanTransaction: vat_amount: %w", err)
	}
	required, err := readList(stmt, 16)
	if err != nil {
		return nil, fmt.Errorf("scanTransaction: missing_required: %w", err)
	}
	recommended, err := readList(stmt, 17)
	if err != nil {
		return nil, fmt.Errorf("scanTransaction: missing_recommended: %w", err)
	}

	return &domain.Transaction{
		ID:                 stmt.ColumnText(0),
		UserID:             stmt.ColumnText(1),
		Type:               domain.TransactionType(stmt.ColumnText(2)),
		Amount:             amount,
		Currency:           stmt.ColumnText(4),
		Description:        stmt.ColumnText(5),
		CategoryCode:       stmt.ColumnText(6),
		CategoryLabel:      stmt.ColumnText(7),
		CounterpartyName:   stmt.ColumnText(8),
		CounterpartyRegID:  stmt.ColumnText(9),
		DocumentDate:       readTimePtr(stmt, 10),
		PaymentDate:        readTimePtr(stmt, 11),
		VATRate:            vatRate,
		VATAmount:          vatAmount,
		CompletenessScore:  int(stmt.ColumnInt64(14)),
		RiskLevel:          domain.RiskLevel(stmt.ColumnText(15)),
		MissingRequired:    required,
		MissingRecommended: recommended,
		IncompleteEvidence: stmt.ColumnInt64(18) != 0,
		Source:             stmt.ColumnText(19),
		CreatedAt:          readTime(stmt, 20),
	}, nil
}
