package compliance

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/bookkeeper/internal/clock"
	"github.com/dvloznov/bookkeeper/internal/domain"
	"github.com/dvloznov/bookkeeper/internal/store"
)

// ItemScore is one transaction line of a report.
type ItemScore struct {
	TransactionID      string           `json:"transaction_id"`
	Date               string           `json:"date"`
	Description        string           `json:"description"`
	Type               string           `json:"type"`
	Amount             decimal.Decimal  `json:"amount"`
	Currency           string           `json:"currency"`
	CategoryCode       string           `json:"category_code"`
	Score              int              `json:"score"`
	RiskLevel          domain.RiskLevel `json:"risk_level"`
	MissingRequired    []string         `json:"missing_required"`
	MissingRecommended []string         `json:"missing_recommended"`
	IncompleteEvidence bool             `json:"incomplete_evidence"`
}

// Totals are income and expense sums in one currency.
type Totals struct {
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
}

// Report is the monthly compliance report of one user.
type Report struct {
	UserID            string                   `json:"user_id"`
	Month             string                   `json:"month"`
	GeneratedAt       time.Time                `json:"generated_at"`
	TotalTransactions int                      `json:"total_transactions"`
	AverageScore      int                      `json:"average_score"`
	RiskCounts        map[domain.RiskLevel]int `json:"risk_counts"`
	Totals            map[string]Totals        `json:"totals"`
	MissingCounts     map[string]int           `json:"missing_counts"`
	Items             []ItemScore              `json:"items"`
}

// Reporter builds reports from persisted transactions.
type Reporter struct {
	txs   store.TransactionRepository
	clock clock.Clock
}

func NewReporter(txs store.TransactionRepository, c clock.Clock) *Reporter {
	return &Reporter{txs: txs, clock: c}
}

// GenerateMonthlyReport scores every transaction of userID in the calendar
// month containing month. With no transactions it returns a zeroed report
// together with domain.ErrNoTransactions.
func (r *Reporter) GenerateMonthlyReport(ctx context.Context, userID string, month time.Time) (*Report, error) {
	from, to := store.MonthRange(month)
	txs, err := r.txs.ListTransactions(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("GenerateMonthlyReport: list transactions: %w", err)
	}

	rep := BuildReport(userID, from, txs)
	rep.GeneratedAt = r.clock.Now()
	if rep.TotalTransactions == 0 {
		return rep, domain.ErrNoTransactions
	}
	return rep, nil
}

// BuildReport aggregates txs. Scores are recomputed from the stored
// evidence fields.
func BuildReport(userID string, month time.Time, txs []*domain.Transaction) *Report {
	rep := &Report{
		UserID: userID,
		Month:  month.Format("2006-01"),
		RiskCounts: map[domain.RiskLevel]int{
			domain.RiskLow:      0,
			domain.RiskMedium:   0,
			domain.RiskHigh:     0,
			domain.RiskCritical: 0,
		},
		Totals:        map[string]Totals{},
		MissingCounts: map[string]int{},
		Items:         []ItemScore{},
	}

	sum := 0
	for _, tx := range txs {
		s := ScoreTransaction(tx)
		sum += s.Score
		rep.RiskCounts[s.RiskLevel]++
		for _, f := range s.MissingRequired {
			rep.MissingCounts[f]++
		}
		for _, f := range s.MissingRecommended {
			rep.MissingCounts[f]++
		}

		t := rep.Totals[tx.Currency]
		if tx.Type == domain.TypeIncome {
			t.Income = t.Income.Add(tx.Amount)
		} else {
			t.Expense = t.Expense.Add(tx.Amount)
		}
		rep.Totals[tx.Currency] = t

		date := tx.CreatedAt
		if tx.DocumentDate != nil {
			date = *tx.DocumentDate
		}
		rep.Items = append(rep.Items, ItemScore{
			TransactionID:      tx.ID,
			Date:               date.Format("2006-01-02"),
			Description:        tx.Description,
			Type:               string(tx.Type),
			Amount:             tx.Amount,
			Currency:           tx.Currency,
			CategoryCode:       tx.CategoryCode,
			Score:              s.Score,
			RiskLevel:          s.RiskLevel,
			MissingRequired:    nonNil(s.MissingRequired),
			MissingRecommended: nonNil(s.MissingRecommended),
			IncompleteEvidence: tx.IncompleteEvidence,
		})
	}

	rep.TotalTransactions = len(txs)
	if len(txs) > 0 {
		rep.AverageScore = int(math.Round(float64(sum) / float64(len(txs))))
	}
	return rep
}

// SummaryText renders the report as a short chat message.
func (r *Report) SummaryText() string {
	if r.TotalTransactions == 0 {
		return fmt.Sprintf("No transactions recorded for %s yet.", r.Month)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Summary for %s: %d transaction(s).\n", r.Month, r.TotalTransactions)

	currencies := make([]string, 0, len(r.Totals))
	for c := range r.Totals {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)
	for _, c := range currencies {
		t := r.Totals[c]
		fmt.Fprintf(&b, "Income %s %s, expenses %s %s.\n", t.Income.StringFixed(2), c, t.Expense.StringFixed(2), c)
	}

	fmt.Fprintf(&b, "Evidence score %d/100. Risk: %d critical, %d high, %d medium, %d low.",
		r.AverageScore,
		r.RiskCounts[domain.RiskCritical], r.RiskCounts[domain.RiskHigh],
		r.RiskCounts[domain.RiskMedium], r.RiskCounts[domain.RiskLow])

	if field, n := r.topMissing(); n > 0 {
		fmt.Fprintf(&b, "\nMost often missing: %s (%d).", FieldLabel(field), n)
	}
	return b.String()
}

// topMissing returns the most frequently missing required field.
func (r *Report) topMissing() (string, int) {
	best, bestN := "", 0
	for _, f := range RequiredFields {
		if n := r.MissingCounts[f]; n > bestN {
			best, bestN = f, n
		}
	}
	return best, bestN
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
