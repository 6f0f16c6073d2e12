package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bookkeeper/internal/domain"
)

const transactionColumns = `id, user_id, type, amount, currency, description,
	category_code, category_label, counterparty_name, counterparty_reg_id,
	document_date, payment_date, vat_rate, vat_amount,
	completeness_score, risk_level, missing_required, missing_recommended,
	incomplete_evidence, source, created_at`

func (s *Store) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		tx.ID,
		tx.UserID,
		string(tx.Type),
		tx.Amount,
		tx.Currency,
		tx.Description,
		tx.CategoryCode,
		tx.CategoryLabel,
		tx.CounterpartyName,
		tx.CounterpartyRegID,
		nullTime(tx.DocumentDate),
		nullTime(tx.PaymentDate),
		tx.VATRate,
		tx.VATAmount,
		tx.CompletenessScore,
		string(tx.RiskLevel),
		stringList(tx.MissingRequired),
		stringList(tx.MissingRecommended),
		tx.IncompleteEvidence,
		tx.Source,
		tx.CreatedAt.UTC(),
	)
	return s.wrap("CreateTransaction", err)
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	txs, err := s.queryTransactions(ctx, "GetTransaction",
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
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
		WHERE user_id = $1
		  AND COALESCE(document_date, created_at) >= $2
		  AND COALESCE(document_date, created_at) < $3
		ORDER BY COALESCE(document_date, created_at), created_at`,
		userID, from.UTC(), to.UTC())
}

func (s *Store) queryTransactions(ctx context.Context, op, query string, args ...any) ([]*domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrap(op, err)
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, s.wrap(op, err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap(op, err)
	}
	return out, nil
}

// scanTransaction reads the columns listed in transactionColumns, in order.
func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		tx          domain.Transaction
		typ, risk   string
		amount      decimal.Decimal
		docDate     sql.NullTime
		payDate     sql.NullTime
		required    pq.StringArray
		recommended pq.StringArray
		createdAt   time.Time
	)
	err := row.Scan(
		&tx.ID, &tx.UserID, &typ, &amount, &tx.Currency, &tx.Description,
		&tx.CategoryCode, &tx.CategoryLabel, &tx.CounterpartyName, &tx.CounterpartyRegID,
		&docDate, &payDate, &tx.VATRate, &tx.VATAmount,
		&tx.CompletenessScore, &risk, &required, &recommended,
		&tx.IncompleteEvidence, &tx.Source, &createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanTransaction: %w", err)
	}
	tx.Type = domain.TransactionType(typ)
	tx.Amount = amount
	tx.DocumentDate = timePtr(docDate)
	tx.PaymentDate = timePtr(payDate)
	tx.RiskLevel = domain.RiskLevel(risk)
	tx.MissingRequired = []string(required)
	tx.MissingRecommended = []string(recommended)
	tx.CreatedAt = createdAt.UTC()
	return &tx, nil
}
