package notionsync

import (
	"time"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/bookkeeper/internal/compliance"
	"github.com/dvloznov/bookkeeper/internal/domain"
)

// Column names of the ledger database.
const (
	PropDescription  = "Description"
	PropTxID         = "Transaction ID"
	PropUser         = "User"
	PropDate         = "Date"
	PropAmount       = "Amount"
	PropCurrency     = "Currency"
	PropType         = "Type"
	PropCategory     = "Category"
	PropCounterparty = "Counterparty"
	PropRegID        = "Registration ID"
	PropVATRate      = "VAT Rate"
	PropVATAmount    = "VAT Amount"
	PropScore        = "Evidence Score"
	PropRisk         = "Risk"
	PropMissing      = "Missing Evidence"
	PropIncomplete   = "Needs Review"
	PropRecordedAt   = "Recorded At"
)

// TransactionToNotionProperties converts a recorded transaction to the
// ledger columns. Optional columns are omitted when empty.
func TransactionToNotionProperties(tx *domain.Transaction) notionapi.Properties {
	props := notionapi.Properties{
		PropDescription: notionapi.TitleProperty{Title: richText(tx.Description)},
		PropTxID:        notionapi.RichTextProperty{RichText: richText(tx.ID)},
		PropUser:        notionapi.RichTextProperty{RichText: richText(tx.UserID)},
		PropDate:        dateProperty(LedgerDate(tx)),
		PropAmount:      notionapi.NumberProperty{Number: tx.Amount.InexactFloat64()},
		PropCurrency:    notionapi.SelectProperty{Select: notionapi.Option{Name: tx.Currency}},
		PropType:        notionapi.SelectProperty{Select: notionapi.Option{Name: string(tx.Type)}},
		PropScore:       notionapi.NumberProperty{Number: float64(tx.CompletenessScore)},
		PropIncomplete:  notionapi.CheckboxProperty{Checkbox: tx.IncompleteEvidence},
		PropRecordedAt:  dateProperty(tx.CreatedAt),
	}

	if tx.CategoryLabel != "" {
		props[PropCategory] = notionapi.SelectProperty{Select: notionapi.Option{Name: tx.CategoryLabel}}
	}
	if tx.CounterpartyName != "" {
		props[PropCounterparty] = notionapi.RichTextProperty{RichText: richText(tx.CounterpartyName)}
	}
	if tx.CounterpartyRegID != "" {
		props[PropRegID] = notionapi.RichTextProperty{RichText: richText(tx.CounterpartyRegID)}
	}
	if tx.VATRate.Valid {
		props[PropVATRate] = notionapi.NumberProperty{Number: tx.VATRate.Decimal.InexactFloat64()}
	}
	if tx.VATAmount.Valid {
		props[PropVATAmount] = notionapi.NumberProperty{Number: tx.VATAmount.Decimal.InexactFloat64()}
	}
	if tx.RiskLevel != "" {
		props[PropRisk] = notionapi.SelectProperty{Select: notionapi.Option{Name: string(tx.RiskLevel)}}
	}

	missing := make([]notionapi.Option, 0, len(tx.MissingRequired))
	for _, f := range tx.MissingRequired {
		missing = append(missing, notionapi.Option{Name: compliance.FieldLabel(f)})
	}
	props[PropMissing] = notionapi.MultiSelectProperty{MultiSelect: missing}

	return props
}

// LedgerDate is the date a transaction is filed under: the document date
// when known, otherwise the day it was recorded.
func LedgerDate(tx *domain.Transaction) time.Time {
	if tx.DocumentDate != nil {
		return *tx.DocumentDate
	}
	return tx.CreatedAt
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{{
		Type: notionapi.ObjectTypeText,
		Text: &notionapi.Text{Content: s},
	}}
}

func dateProperty(t time.Time) notionapi.DateProperty {
	d := notionapi.Date(t.UTC())
	return notionapi.DateProperty{Date: &notionapi.DateObject{Start: &d}}
}

// extractTransactionID reads the Transaction ID column of a page.
// Returns empty string if not found.
func extractTransactionID(page notionapi.Page) string {
	prop, ok := page.Properties[PropTxID]
	if !ok {
		return ""
	}
	if rt, ok := prop.(*notionapi.RichTextProperty); ok && len(rt.RichText) > 0 {
		if rt.RichText[0].PlainText != "" {
			return rt.RichText[0].PlainText
		}
		if rt.RichText[0].Text != nil {
			return rt.RichText[0].Text.Content
		}
	}
	return ""
}
