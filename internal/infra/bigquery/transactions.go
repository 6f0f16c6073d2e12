package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bookkeeper/internal/domain"
)

// TransactionRow is one recorded transaction in the warehouse.
type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	UserID        string `bigquery:"user_id"`        // REQUIRED

	Type     string   `bigquery:"type"`     // REQUIRED, income or expense
	Amount   *big.Rat `bigquery:"amount"`   // REQUIRED NUMERIC
	Currency string   `bigquery:"currency"` // REQUIRED STRING

	Description   string `bigquery:"description"`    // REQUIRED STRING
	CategoryCode  string `bigquery:"category_code"`  // REQUIRED STRING
	CategoryLabel string `bigquery:"category_label"` // REQUIRED STRING

	CounterpartyName  bigquery.NullString `bigquery:"counterparty_name"`   // NULLABLE
	CounterpartyRegID bigquery.NullString `bigquery:"counterparty_reg_id"` // NULLABLE

	DocumentDate civil.Date        `bigquery:"document_date"` // REQUIRED, partition column
	PaymentDate  bigquery.NullDate `bigquery:"payment_date"`  // NULLABLE

	VATRate   *big.Rat `bigquery:"vat_rate"`   // NULLABLE NUMERIC
	VATAmount *big.Rat `bigquery:"vat_amount"` // NULLABLE NUMERIC

	CompletenessScore  int64    `bigquery:"completeness_score"`
	RiskLevel          string   `bigquery:"risk_level"`
	MissingRequired    []string `bigquery:"missing_required"`    // REPEATED STRING
	MissingRecommended []string `bigquery:"missing_recommended"` // REPEATED STRING
	IncompleteEvidence bool     `bigquery:"incomplete_evidence"`

	Source    bigquery.NullString `bigquery:"source"`     // NULLABLE
	CreatedTS time.Time           `bigquery:"created_ts"` // REQUIRED
}

// RowFromTransaction maps a recorded transaction to its warehouse row.
// Transactions without a document date use the day they were recorded.
func RowFromTransaction(tx *domain.Transaction) *TransactionRow {
	docDate := tx.CreatedAt
	if tx.DocumentDate != nil {
		docDate = *tx.DocumentDate
	}

	row := &TransactionRow{
		TransactionID:      tx.ID,
		UserID:             tx.UserID,
		Type:               string(tx.Type),
		Amount:             tx.Amount.Rat(),
		Currency:           tx.Currency,
		Description:        tx.Description,
		CategoryCode:       tx.CategoryCode,
		CategoryLabel:      tx.CategoryLabel,
		CounterpartyName:   nullString(tx.CounterpartyName),
		CounterpartyRegID:  nullString(tx.CounterpartyRegID),
		DocumentDate:       civil.DateOf(docDate.UTC()),
		VATRate:            nullRat(tx.VATRate),
		VATAmount:          nullRat(tx.VATAmount),
		CompletenessScore:  int64(tx.CompletenessScore),
		RiskLevel:          string(tx.RiskLevel),
		MissingRequired:    append([]string{}, tx.MissingRequired...),
		MissingRecommended: append([]string{}, tx.MissingRecommended...),
		IncompleteEvidence: tx.IncompleteEvidence,
		Source:             nullString(tx.Source),
		CreatedTS:          tx.CreatedAt.UTC(),
	}
	if tx.PaymentDate != nil {
		row.PaymentDate = bigquery.NullDate{Date: civil.DateOf(tx.PaymentDate.UTC()), Valid: true}
	}
	return row
}

// Transaction maps a warehouse row back to the domain type.
func (r *TransactionRow) Transaction() *domain.Transaction {
	docDate := r.DocumentDate.In(time.UTC)
	tx := &domain.Transaction{
		ID:                 r.TransactionID,
		UserID:             r.UserID,
		Type:               domain.TransactionType(r.Type),
		Amount:             ratDecimal(r.Amount),
		Currency:           r.Currency,
		Description:        r.Description,
		CategoryCode:       r.CategoryCode,
		CategoryLabel:      r.CategoryLabel,
		CounterpartyName:   r.CounterpartyName.StringVal,
		CounterpartyRegID:  r.CounterpartyRegID.StringVal,
		DocumentDate:       &docDate,
		CompletenessScore:  int(r.CompletenessScore),
		RiskLevel:          domain.RiskLevel(r.RiskLevel),
		MissingRequired:    r.MissingRequired,
		MissingRecommended: r.MissingRecommended,
		IncompleteEvidence: r.IncompleteEvidence,
		Source:             r.Source.StringVal,
		CreatedAt:          r.CreatedTS.UTC(),
	}
	if r.PaymentDate.Valid {
		d := r.PaymentDate.Date.In(time.UTC)
		tx.PaymentDate = &d
	}
	if r.VATRate != nil {
		tx.VATRate = decimal.NewNullDecimal(ratDecimal(r.VATRate))
	}
	if r.VATAmount != nil {
		tx.VATAmount = decimal.NewNullDecimal(ratDecimal(r.VATAmount))
	}
	return tx
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

func nullRat(d decimal.NullDecimal) *big.Rat {
	if !d.Valid {
		return nil
	}
	return d.Decimal.Rat()
}

// ratDecimal converts a NUMERIC value back. BigQuery NUMERIC has nine
// fractional digits.
func ratDecimal(r *big.Rat) decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigRat(r, 9)
}
