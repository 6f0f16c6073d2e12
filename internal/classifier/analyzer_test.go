package classifier

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"google.golang.org/genai"

	"github.com/dvloznov/bookkeeper/internal/clock"
	"github.com/dvloznov/bookkeeper/internal/domain"
)

// MockAIClassifier is a mock implementation of AIClassifier
type MockAIClassifier struct {
	ClassifyFunc func(ctx context.Context, text string) (*AIResult, error)
}

func (m *MockAIClassifier) Classify(ctx context.Context, text string) (*AIResult, error) {
	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, text)
	}
	return &AIResult{}, nil
}

// MockContentGenerator is a mock implementation of ContentGenerator
type MockContentGenerator struct {
	GenerateContentFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

func (m *MockContentGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return m.GenerateContentFunc(ctx, model, contents, config)
}

func textResponse(s string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{{Text: s}}}},
		},
	}
}

func quietLogger() zerolog.Logger { return zerolog.New(io.Discard) }

func TestAnalyze_HeuristicsOnly(t *testing.T) {
	a := NewAnalyzer(DefaultTaxonomy(), quietLogger())

	got := a.Analyze(context.Background(), "bought gasoline 1850 at Shell, 21% VAT")
	if got.Type != domain.TypeExpense || got.Category.Code != "fuel" {
		t.Errorf("got type=%s category=%s, want expense/fuel", got.Type, got.Category.Code)
	}
	if !got.AmountFound || got.Amount.String() != "1850" {
		t.Errorf("amount = %s (found=%v), want 1850", got.Amount, got.AmountFound)
	}
	if got.Counterparty != "Shell" {
		t.Errorf("counterparty = %q, want Shell", got.Counterparty)
	}
	if !got.VATRate.Valid || got.VATRate.Decimal.String() != "21" {
		t.Errorf("VAT rate = %v, want 21", got.VATRate)
	}
	if got.UsedAI {
		t.Error("UsedAI = true without an AI classifier")
	}
}

func TestAnalyze_EvidenceFields(t *testing.T) {
	c := clock.Fake(time.Date(2025, 5, 14, 9, 30, 0, 0, time.UTC))
	a := NewAnalyzer(DefaultTaxonomy(), quietLogger(), WithClock(c))

	got := a.Analyze(context.Background(), "12.05. bought gasoline 1850 at Shell IČO 12345678 21% VAT paid 14.05.2025")
	if got.Amount.String() != "1850" || got.Counterparty != "Shell" || got.RegID != "12345678" {
		t.Errorf("amount=%s counterparty=%q regid=%q", got.Amount, got.Counterparty, got.RegID)
	}
	if got.DocumentDate == nil || !got.DocumentDate.Equal(time.Date(2025, 5, 12, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("document date = %v, want 2025-05-12", got.DocumentDate)
	}
	if got.PaymentDate == nil || !got.PaymentDate.Equal(time.Date(2025, 5, 14, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("payment date = %v, want 2025-05-14", got.PaymentDate)
	}
	if !got.VATRate.Valid || got.VATRate.Decimal.String() != "21" {
		t.Errorf("VAT rate = %v, want 21", got.VATRate)
	}
}

func TestAnalyze_VATRateNotTakenAsAmount(t *testing.T) {
	a := NewAnalyzer(DefaultTaxonomy(), quietLogger())
	got := a.Analyze(context.Background(), "VAT 21 toner 1210")
	if got.Amount.String() != "1210" {
		t.Errorf("amount = %s, want 1210", got.Amount)
	}
}

func TestAnalyze_AIOverrides(t *testing.T) {
	ai := &MockAIClassifier{
		ClassifyFunc: func(ctx context.Context, text string) (*AIResult, error) {
			return &AIResult{
				Amount:       decimal.NewNullDecimal(decimal.RequireFromString("1850.40")),
				CategoryCode: "vehicle",
				Counterparty: "Shell Czech Republic",
				Type:         "expense",
			}, nil
		},
	}
	a := NewAnalyzer(DefaultTaxonomy(), quietLogger(), WithAI(ai, time.Second))

	got := a.Analyze(context.Background(), "bought gasoline 1850 at Shell")
	if !got.UsedAI {
		t.Error("UsedAI = false")
	}
	if got.Category.Code != "vehicle" || got.Amount.String() != "1850.4" || got.Counterparty != "Shell Czech Republic" {
		t.Errorf("AI values not applied: %+v", got)
	}
}

func TestAnalyze_AIInvalidValuesIgnored(t *testing.T) {
	ai := &MockAIClassifier{
		ClassifyFunc: func(ctx context.Context, text string) (*AIResult, error) {
			return &AIResult{
				Amount:       decimal.NewNullDecimal(decimal.NewFromInt(-5)),
				CategoryCode: "not_a_category",
				Type:         "transfer",
			}, nil
		},
	}
	a := NewAnalyzer(DefaultTaxonomy(), quietLogger(), WithAI(ai, time.Second))

	got := a.Analyze(context.Background(), "bought gasoline 1850")
	if got.Category.Code != "fuel" || got.Amount.String() != "1850" || got.Type != domain.TypeExpense {
		t.Errorf("heuristic values replaced by invalid AI output: %+v", got)
	}
	if got.UsedAI {
		t.Error("UsedAI = true for an all-invalid AI result")
	}
}

func TestAnalyze_AIFailureFallsBack(t *testing.T) {
	tests := []struct {
		name string
		ai   *MockAIClassifier
	}{
		{
			name: "error",
			ai: &MockAIClassifier{ClassifyFunc: func(ctx context.Context, text string) (*AIResult, error) {
				return nil, errors.New("503 unavailable")
			}},
		},
		{
			name: "timeout",
			ai: &MockAIClassifier{ClassifyFunc: func(ctx context.Context, text string) (*AIResult, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAnalyzer(DefaultTaxonomy(), quietLogger(), WithAI(tt.ai, 10*time.Millisecond))
			got := a.Analyze(context.Background(), "received payment 15000")
			if got.Type != domain.TypeIncome || got.Amount.String() != "15000" {
				t.Errorf("fallback result = %+v", got)
			}
		})
	}
}

func TestGeminiClassifier(t *testing.T) {
	var gotModel string
	var gotMIME string
	gen := &MockContentGenerator{
		GenerateContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			gotModel = model
			gotMIME = config.ResponseMIMEType
			return textResponse("```json\n{\"amount\": 1850.50, \"type\": \"Expense\", \"category\": \"FUEL\", \"counterparty\": \" Shell \", \"reg_id\": \"cz 12345678\", \"document_date\": \"2025-05-12\", \"payment_date\": \"14.05.2025\"}\n```"), nil
		},
	}
	g := NewGeminiClassifierWithGenerator(gen, "", DefaultTaxonomy())

	res, err := g.Classify(context.Background(), "bought gasoline 1850.50 at Shell")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if gotModel != DefaultModelName || gotMIME != "application/json" {
		t.Errorf("request model=%q mime=%q", gotModel, gotMIME)
	}
	if res.CategoryCode != "fuel" || res.Type != "expense" || res.Counterparty != "Shell" {
		t.Errorf("unexpected result %+v", res)
	}
	if !res.Amount.Valid || res.Amount.Decimal.String() != "1850.5" {
		t.Errorf("amount = %v, want 1850.5", res.Amount)
	}
	if res.RegID != "CZ12345678" {
		t.Errorf("reg id = %q, want CZ12345678", res.RegID)
	}
	if res.DocumentDate == nil || res.DocumentDate.Format("2006-01-02") != "2025-05-12" {
		t.Errorf("document date = %v, want 2025-05-12", res.DocumentDate)
	}
	if res.PaymentDate != nil {
		t.Errorf("payment date = %v, want nil for a non-ISO value", res.PaymentDate)
	}
}

func TestGeminiClassifier_Errors(t *testing.T) {
	tests := []struct {
		name string
		resp *genai.GenerateContentResponse
		err  error
	}{
		{name: "transport", err: errors.New("boom")},
		{name: "empty", resp: textResponse("")},
		{name: "garbage", resp: textResponse("not json at all")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &MockContentGenerator{
				GenerateContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
					return tt.resp, tt.err
				},
			}
			g := NewGeminiClassifierWithGenerator(gen, "m", DefaultTaxonomy())
			if _, err := g.Classify(context.Background(), "x"); err == nil {
				t.Error("Classify() error = nil, want error")
			}
		})
	}
}
