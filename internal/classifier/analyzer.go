package classifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bookkeeper/internal/clock"
	"github.com/dvloznov/bookkeeper/internal/domain"
)

// Analysis is everything the intake machine learns from one message.
type Analysis struct {
	Text         string
	Type         domain.TransactionType
	Category     Category
	Amount       decimal.Decimal
	AmountFound  bool
	Currency     string
	Counterparty string
	RegID        string
	DocumentDate *time.Time
	PaymentDate  *time.Time
	VATRate      decimal.NullDecimal
	UsedAI       bool
}

// Analyzer combines the heuristics with an optional AI classifier.
type Analyzer struct {
	taxonomy   *Taxonomy
	classifier CategoryClassifier
	ai         AIClassifier
	timeout    time.Duration
	clock      clock.Clock
	log        zerolog.Logger
}

// AnalyzerOption customises an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithAI enables the AI classifier with a per-call timeout.
func WithAI(ai AIClassifier, timeout time.Duration) AnalyzerOption {
	return func(a *Analyzer) {
		a.ai = ai
		a.timeout = timeout
	}
}

// WithClock sets the clock used to place dates written without a year.
func WithClock(c clock.Clock) AnalyzerOption {
	return func(a *Analyzer) { a.clock = c }
}

// WithClassifier replaces the keyword classifier.
func WithClassifier(c CategoryClassifier) AnalyzerOption {
	return func(a *Analyzer) { a.classifier = c }
}

func NewAnalyzer(t *Taxonomy, log zerolog.Logger, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		taxonomy:   t,
		classifier: NewKeywordClassifier(t),
		clock:      clock.Real(),
		log:        log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Taxonomy returns the taxonomy the analyzer classifies into.
func (a *Analyzer) Taxonomy() *Taxonomy { return a.taxonomy }

// Analyze never fails: when the AI service errors or times out the
// heuristic reading is returned.
func (a *Analyzer) Analyze(ctx context.Context, text string) Analysis {
	res := Analysis{
		Text:         strings.TrimSpace(text),
		Type:         DetectType(text),
		Currency:     ExtractCurrency(text),
		Counterparty: ExtractCounterparty(text),
		RegID:        ExtractRegID(text),
	}
	res.DocumentDate, res.PaymentDate = ExtractDates(text, a.clock.Now())
	res.Amount, res.AmountFound = ExtractAmount(StripVAT(text))
	if rate, ok := ExtractVATRate(StripDates(text)); ok {
		res.VATRate = decimal.NewNullDecimal(rate)
	}
	res.Category = a.classifier.Classify(text)
	if res.Category.Type != "" {
		res.Type = res.Category.Type
	}

	if a.ai == nil {
		return res
	}

	aiCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		aiCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	out, err := a.ai.Classify(aiCtx, text)
	if err != nil {
		a.log.Warn().
			Err(fmt.Errorf("%w: %w", domain.ErrClassificationUnavailable, err)).
			Msg("AI classification failed, using heuristics")
		return res
	}
	a.merge(&res, out)
	return res
}

// merge applies AI values that pass validation over the heuristic ones.
func (a *Analyzer) merge(res *Analysis, out *AIResult) {
	if out == nil {
		return
	}
	used := false
	if t := domain.TransactionType(out.Type); t == domain.TypeIncome || t == domain.TypeExpense {
		res.Type = t
		used = true
	}
	if c, ok := a.taxonomy.Lookup(out.CategoryCode); ok && c.Matches(res.Type) {
		res.Category = c
		used = true
	} else if !res.Category.Matches(res.Type) {
		res.Category = a.taxonomy.DefaultCategory()
	}
	if out.Amount.Valid && out.Amount.Decimal.IsPositive() {
		res.Amount = out.Amount.Decimal
		res.AmountFound = true
		used = true
	}
	if out.Counterparty != "" {
		res.Counterparty = out.Counterparty
		used = true
	}
	if out.RegID != "" {
		res.RegID = out.RegID
		used = true
	}
	if out.DocumentDate != nil {
		res.DocumentDate = out.DocumentDate
		used = true
	}
	if out.PaymentDate != nil {
		res.PaymentDate = out.PaymentDate
		used = true
	}
	res.UsedAI = used
}
