// Package intake turns chat messages into recorded transactions, asking
// follow-up questions when evidence is missing.
package intake

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/bookkeeper/internal/activation"
	"github.com/dvloznov/bookkeeper/internal/classifier"
	"github.com/dvloznov/bookkeeper/internal/compliance"
	"github.com/dvloznov/bookkeeper/internal/domain"
)

// State is where an exchange ended.
type State string

const (
	StateAwaitingMessage State = "awaiting_message"
	StateClassifying     State = "classifying"
	StateNeedsInfo       State = "needs_info"
	StateRecorded        State = "recorded"
	StateRejected        State = "rejected"

	// Exchanges that never reach classification.
	StateNotActivated State = "not_activated"
	StateActivated    State = "activated"
	StateCommand      State = "command"
	StateFailed       State = "failed"
)

// Message is one inbound chat message.
type Message struct {
	SenderID   string // transport address, e.g. "whatsapp:+420..." or "telegram:42"
	Text       string
	ReceivedAt time.Time
	Source     string // transport name
	Metadata   activation.RequestMetadata
}

// Outcome is the result of handling a message. Reply is never empty.
type Outcome struct {
	State       State
	Reply       string
	UserID      string
	Field       string // field asked for when State is StateNeedsInfo
	Transaction *domain.Transaction
}

// Handler is implemented by Machine and consumed by the transports.
type Handler interface {
	HandleMessage(ctx context.Context, msg Message) (*Outcome, error)
}

// Gatekeeper is the part of the activation gate the machine uses.
type Gatekeeper interface {
	CheckActivation(ctx context.Context, phone string) (activation.Status, error)
	Activate(ctx context.Context, phone, token string, meta activation.RequestMetadata) (*domain.User, error)
}

// Analyzer reads amount, type, category and counterparty from text.
type Analyzer interface {
	Analyze(ctx context.Context, text string) classifier.Analysis
}

// ReportGenerator produces the monthly compliance report.
type ReportGenerator interface {
	GenerateMonthlyReport(ctx context.Context, userID string, month time.Time) (*compliance.Report, error)
}

// Config tunes the machine.
type Config struct {
	// MaterialityThreshold is the amount above which counterparty name
	// and registration ID are required for any transaction type.
	MaterialityThreshold decimal.Decimal

	// MaxFollowUpRetries is how many invalid answers are accepted before
	// the transaction is recorded with incomplete evidence.
	MaxFollowUpRetries int

	// ContextTTL is how long an unanswered question stays open.
	ContextTTL time.Duration

	DefaultCurrency string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaterialityThreshold: decimal.NewFromInt(10000),
		MaxFollowUpRetries:   3,
		ContextTTL:           30 * time.Minute,
		DefaultCurrency:      "CZK",
	}
}
