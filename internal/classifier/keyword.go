package classifier

import (
	"strings"

	"github.com/dvloznov/bookkeeper/internal/domain"
)

// CategoryClassifier maps message text to a taxonomy category. The intake
// machine depends only on this interface so the keyword strategy can be
// swapped out.
type CategoryClassifier interface {
	Classify(text string) Category
}

// incomeKeywords mark a message as income. Anything else is an expense.
var incomeKeywords = []string{
	"refund received",
	"invoice paid",
	"received",
	"payment from",
	"payment for invoice",
	"revenue",
	"income",
	"sale",
	"sold",
	"přijato",
	"tržba",
}

// DetectType scans text for income keywords; absence implies expense.
func DetectType(text string) domain.TransactionType {
	lower := strings.ToLower(text)
	for _, kw := range incomeKeywords {
		if strings.Contains(lower, kw) {
			return domain.TypeIncome
		}
	}
	return domain.TypeExpense
}

// KeywordClassifier matches keywords as case-insensitive substrings in
// taxonomy order. Categories of the opposite transaction type are skipped.
type KeywordClassifier struct {
	taxonomy *Taxonomy
}

func NewKeywordClassifier(t *Taxonomy) *KeywordClassifier {
	return &KeywordClassifier{taxonomy: t}
}

func (k *KeywordClassifier) Classify(text string) Category {
	return k.ClassifyAs(text, DetectType(text))
}

// ClassifyAs classifies text for an already known transaction type.
func (k *KeywordClassifier) ClassifyAs(text string, typ domain.TransactionType) Category {
	lower := strings.ToLower(text)
	for _, c := range k.taxonomy.Categories {
		if !c.Matches(typ) {
			continue
		}
		for _, kw := range c.Keywords {
			if kw != "" && strings.Contains(lower, kw) {
				return c
			}
		}
	}
	return k.taxonomy.DefaultCategory()
}
