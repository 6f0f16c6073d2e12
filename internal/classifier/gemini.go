package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/genai"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.5-flash"

// AIResult is what the AI service extracted from a message. Zero values
// mean the model did not find the field.
type AIResult struct {
	Amount       decimal.NullDecimal
	CategoryCode string
	Counterparty string
	RegID        string
	DocumentDate *time.Time
	PaymentDate  *time.Time
	Type         string
}

// AIClassifier is an optional accelerator in front of the heuristics.
type AIClassifier interface {
	Classify(ctx context.Context, text string) (*AIResult, error)
}

// ContentGenerator is the subset of the genai Models service we call.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClassifier asks Gemini for a structured reading of a message.
type GeminiClassifier struct {
	gen      ContentGenerator
	model    string
	taxonomy *Taxonomy
}

// NewGeminiClassifier creates a classifier backed by the Gemini API.
func NewGeminiClassifier(ctx context.Context, apiKey, model string, taxonomy *Taxonomy) (*GeminiClassifier, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiClassifier: create genai client: %w", err)
	}
	return NewGeminiClassifierWithGenerator(client.Models, model, taxonomy), nil
}

// NewGeminiClassifierWithGenerator creates a classifier with an injected
// generator (useful for testing).
func NewGeminiClassifierWithGenerator(gen ContentGenerator, model string, taxonomy *Taxonomy) *GeminiClassifier {
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiClassifier{gen: gen, model: model, taxonomy: taxonomy}
}

type geminiReply struct {
	Amount       json.Number `json:"amount"`
	Category     string      `json:"category"`
	Counterparty string      `json:"counterparty"`
	RegID        string      `json:"reg_id"`
	DocumentDate string      `json:"document_date"`
	PaymentDate  string      `json:"payment_date"`
	Type         string      `json:"type"`
}

func (g *GeminiClassifier) Classify(ctx context.Context, text string) (*AIResult, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: buildClassifyPrompt(g.taxonomy, text)}},
		},
	}

	resp, err := g.gen.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("GeminiClassifier.Classify: generate content: %w", err)
	}

	raw := resp.Text()
	if raw == "" {
		return nil, fmt.Errorf("GeminiClassifier.Classify: empty response from model")
	}

	var reply geminiReply
	dec := json.NewDecoder(strings.NewReader(cleanModelJSON(raw)))
	dec.UseNumber()
	if err := dec.Decode(&reply); err != nil {
		return nil, fmt.Errorf("GeminiClassifier.Classify: unmarshal JSON: %w", err)
	}

	res := &AIResult{
		CategoryCode: strings.ToLower(strings.TrimSpace(reply.Category)),
		Counterparty: strings.TrimSpace(reply.Counterparty),
		RegID:        strings.ToUpper(strings.Join(strings.Fields(reply.RegID), "")),
		DocumentDate: parseModelDate(reply.DocumentDate),
		PaymentDate:  parseModelDate(reply.PaymentDate),
		Type:         strings.ToLower(strings.TrimSpace(reply.Type)),
	}
	if reply.Amount != "" {
		if amt, err := decimal.NewFromString(reply.Amount.String()); err == nil {
			res.Amount = decimal.NewNullDecimal(amt)
		}
	}
	return res, nil
}

func buildClassifyPrompt(t *Taxonomy, text string) string {
	var b strings.Builder
	b.WriteString("You extract bookkeeping data from a short chat message sent by a sole trader.\n\n")
	b.WriteString("Return STRICT JSON only, one object with these fields:\n")
	b.WriteString("- \"amount\": number or null (the transaction amount, never a VAT rate or date)\n")
	b.WriteString("- \"type\": \"income\" or \"expense\"\n")
	b.WriteString("- \"category\": one of the category codes below\n")
	b.WriteString("- \"counterparty\": vendor or customer name, or empty string\n")
	b.WriteString("- \"reg_id\": the counterparty registration number (IČO/DIČ), or empty string\n")
	b.WriteString("- \"document_date\": invoice or receipt date as YYYY-MM-DD, or empty string\n")
	b.WriteString("- \"payment_date\": date the money was paid as YYYY-MM-DD, or empty string\n\n")
	b.WriteString("Category codes:\n")
	for _, c := range t.Categories {
		b.WriteString("  - " + c.Code + ": " + c.Label)
		if c.Type != "" {
			b.WriteString(" (" + string(c.Type) + ")")
		}
		b.WriteString("\n")
	}
	b.WriteString("\nIf unsure about the category use \"" + t.Default + "\".\n")
	b.WriteString("Do NOT wrap the response in code fences.\n\n")
	b.WriteString("Message:\n")
	b.WriteString(text)
	return b.String()
}

// parseModelDate accepts only YYYY-MM-DD; anything else counts as absent.
func parseModelDate(s string) *time.Time {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &t
}

// cleanModelJSON strips Markdown fences and surrounding prose if the model
// ignored the output instructions.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return s
}
