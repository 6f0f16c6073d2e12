package intake

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/bookkeeper/internal/compliance"
	"github.com/dvloznov/bookkeeper/internal/domain"
)

const (
	HelpReply = "Send one transaction per message, for example:\n" +
		"- bought gasoline 1850 at Shell\n" +
		"- received payment 15000 from Acme s.r.o.\n" +
		"Commands: \"summary\" shows this month, \"cancel\" drops an open question, \"help\" shows this text."

	RetryReply         = "Sorry, something went wrong while saving. Please send your message again in a moment."
	emptyMessageReply  = "I didn't get any text. Send a transaction like \"bought gasoline 1850 at Shell\"."
	noAmountReply      = "I couldn't find an amount in your message. Please include it, e.g. \"office paper 450\"."
	cancelledReply     = "OK, I dropped the unfinished transaction."
	nothingToCancel    = "There is nothing to cancel."
	retryPrefix        = "Sorry, that doesn't look like a valid %s. "
	incompleteEvidence = "I recorded it without the %s and flagged it for review."
)

func validationReply(err error) string {
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		return noAmountReply
	}
	switch verr.Field {
	case domain.FieldAmount:
		return "The amount must be greater than 0 and at most 10,000,000. Please send the transaction again."
	case domain.FieldDescription:
		return "Please add a short description of what the money was for."
	default:
		return "I couldn't understand that transaction. Type \"help\" for examples."
	}
}

func (m *Machine) question(field string, tx *domain.Transaction) string {
	amount := formatMoney(tx)
	switch field {
	case domain.FieldCounterpartyName:
		if tx.Type == domain.TypeIncome {
			return fmt.Sprintf("Who paid you %s? Reply with the customer's name.", amount)
		}
		return fmt.Sprintf("Where did you spend %s? Reply with the vendor's name, e.g. Shell.", amount)
	case domain.FieldCounterpartyRegID:
		name := tx.CounterpartyName
		if name == "" {
			name = "the counterparty"
		}
		return fmt.Sprintf("Amounts above %s %s need the company registration ID (IČO or VAT ID) of %s. What is it?",
			m.cfg.MaterialityThreshold.StringFixed(0), tx.Currency, name)
	}
	return fmt.Sprintf("Please send the %s.", compliance.FieldLabel(field))
}

func (m *Machine) recordedReply(tx *domain.Transaction, skipped string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Recorded %s %s: %s", tx.Type, formatMoney(tx), tx.CategoryLabel)
	if tx.CounterpartyName != "" {
		fmt.Fprintf(&b, " (%s)", tx.CounterpartyName)
	}
	b.WriteString(".")
	if skipped != "" {
		b.WriteString(" ")
		fmt.Fprintf(&b, incompleteEvidence, compliance.FieldLabel(skipped))
	}
	fmt.Fprintf(&b, "\nEvidence score %d/100, %s risk.", tx.CompletenessScore, tx.RiskLevel)
	if len(tx.MissingRequired) > 0 {
		labels := make([]string, len(tx.MissingRequired))
		for i, f := range tx.MissingRequired {
			labels[i] = compliance.FieldLabel(f)
		}
		fmt.Fprintf(&b, " Missing: %s.", strings.Join(labels, ", "))
	}
	if !tx.VATRate.Valid && m.taxonomy != nil {
		if c, ok := m.taxonomy.Lookup(tx.CategoryCode); ok {
			if rate := c.VATRate(); rate.Valid {
				fmt.Fprintf(&b, " VAT rate not confirmed (usually %s%% for %s).", rate.Decimal.String(), strings.ToLower(c.Label))
			}
		}
	}
	return b.String()
}

func formatMoney(tx *domain.Transaction) string {
	return tx.Amount.StringFixed(2) + " " + tx.Currency
}
