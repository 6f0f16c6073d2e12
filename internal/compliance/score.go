// Package compliance scores how well each transaction is evidenced and
// rolls the scores up into a monthly report.
package compliance

import (
	"math"

	"github.com/dvloznov/bookkeeper/internal/domain"
)

const (
	requiredWeight    = 80.0
	recommendedWeight = 20.0
)

// RequiredFields must be present for a transaction to be fully evidenced.
var RequiredFields = []string{
	domain.FieldCounterpartyName,
	domain.FieldCounterpartyRegID,
	domain.FieldDocumentDate,
}

// RecommendedFields improve the score but are not mandatory.
var RecommendedFields = []string{
	domain.FieldVATRate,
	domain.FieldPaymentDate,
}

var fieldLabels = map[string]string{
	domain.FieldCounterpartyName:  "counterparty name",
	domain.FieldCounterpartyRegID: "counterparty registration ID",
	domain.FieldDocumentDate:      "document date",
	domain.FieldVATRate:           "VAT rate",
	domain.FieldPaymentDate:       "payment date",
	domain.FieldAmount:            "amount",
	domain.FieldDescription:       "description",
}

// FieldLabel returns the human name of an evidence field.
func FieldLabel(field string) string {
	if l, ok := fieldLabels[field]; ok {
		return l
	}
	return field
}

// Score is the evidence assessment of one transaction.
type Score struct {
	Score              int
	RiskLevel          domain.RiskLevel
	MissingRequired    []string
	MissingRecommended []string
}

// ScoreTransaction computes the completeness score and risk level.
func ScoreTransaction(tx *domain.Transaction) Score {
	var s Score
	points := 0.0

	for _, f := range RequiredFields {
		if hasField(tx, f) {
			points += requiredWeight / float64(len(RequiredFields))
		} else {
			s.MissingRequired = append(s.MissingRequired, f)
		}
	}
	for _, f := range RecommendedFields {
		if hasField(tx, f) {
			points += recommendedWeight / float64(len(RecommendedFields))
		} else {
			s.MissingRecommended = append(s.MissingRecommended, f)
		}
	}

	s.Score = int(math.Round(points))
	s.RiskLevel = RiskFor(s.Score)
	if tx.IncompleteEvidence {
		s.RiskLevel = domain.RiskHigh
	}
	return s
}

// Apply writes the score fields onto tx.
func (s Score) Apply(tx *domain.Transaction) {
	tx.CompletenessScore = s.Score
	tx.RiskLevel = s.RiskLevel
	tx.MissingRequired = s.MissingRequired
	tx.MissingRecommended = s.MissingRecommended
}

// RiskFor maps a score to a risk bucket.
func RiskFor(score int) domain.RiskLevel {
	switch {
	case score < 30:
		return domain.RiskCritical
	case score < 60:
		return domain.RiskHigh
	case score < 85:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

func hasField(tx *domain.Transaction, field string) bool {
	switch field {
	case domain.FieldCounterpartyName:
		return tx.CounterpartyName != ""
	case domain.FieldCounterpartyRegID:
		return tx.CounterpartyRegID != ""
	case domain.FieldDocumentDate:
		return tx.DocumentDate != nil
	case domain.FieldVATRate:
		return tx.VATRate.Valid
	case domain.FieldPaymentDate:
		return tx.PaymentDate != nil
	}
	return false
}
