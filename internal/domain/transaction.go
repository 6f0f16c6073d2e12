package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType distinguishes money coming in from money going out.
type TransactionType string

const (
	TypeIncome  TransactionType = "income"
	TypeExpense TransactionType = "expense"
)

// RiskLevel is the evidence risk bucket assigned by the compliance scorer.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Evidence field names used in MissingRequired / MissingRecommended and as
// the fields solicited by follow-up questions.
const (
	FieldAmount            = "amount"
	FieldDescription       = "description"
	FieldType              = "type"
	FieldCounterpartyName  = "counterparty_name"
	FieldCounterpartyRegID = "counterparty_reg_id"
	FieldDocumentDate      = "document_date"
	FieldVATRate           = "vat_rate"
	FieldPaymentDate       = "payment_date"
)

// MaxAmount is the upper bound accepted for a single transaction.
var MaxAmount = decimal.NewFromInt(10_000_000)

// Transaction is one recorded income or expense belonging to a user.
type Transaction struct {
	ID     string
	UserID string

	Type        TransactionType
	Amount      decimal.Decimal // always positive; direction is carried by Type
	Currency    string
	Description string

	CategoryCode  string
	CategoryLabel string

	CounterpartyName  string
	CounterpartyRegID string

	DocumentDate *time.Time
	PaymentDate  *time.Time

	VATRate   decimal.NullDecimal // percent, e.g. 21
	VATAmount decimal.NullDecimal

	CompletenessScore  int
	RiskLevel          RiskLevel
	MissingRequired    []string
	MissingRecommended []string

	// IncompleteEvidence marks transactions recorded after the follow-up
	// retries ran out.
	IncompleteEvidence bool

	Source    string // transport the message arrived on
	CreatedAt time.Time
}

// Validate checks the structural invariants of a transaction.
func (t *Transaction) Validate() error {
	if t.Type != TypeIncome && t.Type != TypeExpense {
		return &ValidationError{Field: FieldType, Reason: "must be income or expense"}
	}
	if !t.Amount.IsPositive() {
		return &ValidationError{Field: FieldAmount, Reason: "must be greater than zero"}
	}
	if t.Amount.GreaterThan(MaxAmount) {
		return &ValidationError{Field: FieldAmount, Reason: "must not exceed 10,000,000"}
	}
	if strings.TrimSpace(t.Description) == "" {
		return &ValidationError{Field: FieldDescription, Reason: "must not be empty"}
	}
	return nil
}

// Clone returns a deep copy so callers can mutate a partial transaction
// without aliasing slices or dates held elsewhere.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	c.DocumentDate = cloneTime(t.DocumentDate)
	c.PaymentDate = cloneTime(t.PaymentDate)
	c.MissingRequired = append([]string(nil), t.MissingRequired...)
	c.MissingRecommended = append([]string(nil), t.MissingRecommended...)
	return &c
}

// Signed returns the amount with expenses negative, for balance arithmetic.
func (t *Transaction) Signed() decimal.Decimal {
	if t.Type == TypeExpense {
		return t.Amount.Neg()
	}
	return t.Amount
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
