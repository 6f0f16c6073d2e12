package classifier

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/dvloznov/bookkeeper/internal/domain"
)

//go:embed taxonomy.yaml
var defaultTaxonomyYAML []byte

// Category is one entry of the taxonomy.
type Category struct {
	Code  string                 `yaml:"code"`
	Label string                 `yaml:"label"`
	Type  domain.TransactionType `yaml:"type"` // empty matches both directions

	Keywords       []string `yaml:"keywords"`
	DefaultVATRate *float64 `yaml:"default_vat_rate"`
}

// VATRate returns the usual VAT rate for the category, if one is known.
func (c Category) VATRate() decimal.NullDecimal {
	if c.DefaultVATRate == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromFloat(*c.DefaultVATRate))
}

// Matches reports whether the category can hold a transaction of type t.
func (c Category) Matches(t domain.TransactionType) bool {
	return c.Type == "" || c.Type == t
}

// Taxonomy is the ordered category list. Order is match priority.
type Taxonomy struct {
	Default    string     `yaml:"default"`
	Categories []Category `yaml:"categories"`

	byCode map[string]int
}

// DefaultTaxonomy returns the built-in taxonomy.
func DefaultTaxonomy() *Taxonomy {
	t, err := ParseTaxonomy(defaultTaxonomyYAML)
	if err != nil {
		panic(fmt.Sprintf("classifier: built-in taxonomy is invalid: %v", err))
	}
	return t
}

// LoadTaxonomy reads a taxonomy from path, or returns the built-in one when
// path is empty.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	if path == "" {
		return DefaultTaxonomy(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadTaxonomy: open: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("LoadTaxonomy: read: %w", err)
	}
	return ParseTaxonomy(data)
}

// ParseTaxonomy decodes and validates a YAML taxonomy document.
func ParseTaxonomy(data []byte) (*Taxonomy, error) {
	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("ParseTaxonomy: decode: %w", err)
	}
	if t.Default == "" {
		t.Default = "other"
	}
	t.byCode = make(map[string]int, len(t.Categories))
	for i, c := range t.Categories {
		if c.Code == "" {
			return nil, fmt.Errorf("ParseTaxonomy: category %d has no code", i)
		}
		if _, dup := t.byCode[c.Code]; dup {
			return nil, fmt.Errorf("ParseTaxonomy: duplicate category %q", c.Code)
		}
		if c.Type != "" && c.Type != domain.TypeIncome && c.Type != domain.TypeExpense {
			return nil, fmt.Errorf("ParseTaxonomy: category %q has unknown type %q", c.Code, c.Type)
		}
		for j, kw := range c.Keywords {
			t.Categories[i].Keywords[j] = strings.ToLower(strings.TrimSpace(kw))
		}
		if t.Categories[i].Label == "" {
			t.Categories[i].Label = c.Code
		}
		t.byCode[c.Code] = i
	}
	if _, ok := t.byCode[t.Default]; !ok {
		return nil, fmt.Errorf("ParseTaxonomy: default category %q is not defined", t.Default)
	}
	return &t, nil
}

// Lookup finds a category by code.
func (t *Taxonomy) Lookup(code string) (Category, bool) {
	i, ok := t.byCode[strings.ToLower(strings.TrimSpace(code))]
	if !ok {
		return Category{}, false
	}
	return t.Categories[i], true
}

// DefaultCategory returns the fallback category.
func (t *Taxonomy) DefaultCategory() Category {
	c, _ := t.Lookup(t.Default)
	return c
}
