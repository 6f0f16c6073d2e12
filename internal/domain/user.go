package domain

import (
	"strings"
	"time"
	"unicode"
)

// SubscriptionStatus is the billing state of a user account.
type SubscriptionStatus string

const (
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Usable reports whether the subscription allows bookkeeping.
func (s SubscriptionStatus) Usable() bool {
	return s == SubscriptionTrial || s == SubscriptionActive
}

// User is an account created by the billing flow. Phone holds the messaging
// address the account is bound to once activated.
type User struct {
	ID    string
	Email string
	Phone string

	// TokenHash is the digest of the one-time activation token. The
	// plaintext token is only ever shown to the customer.
	TokenHash      string
	TokenExpiresAt time.Time
	TokenUsedAt    *time.Time

	Activated   bool
	ActivatedAt *time.Time

	Subscription SubscriptionStatus
	CreatedAt    time.Time
}

// ActivationAudit records who activated an account and from where.
type ActivationAudit struct {
	ID          string
	UserID      string
	Phone       string
	ActivatedAt time.Time
	SourceIP    string
	Client      string
}

// NormalizePhone turns a transport address into the canonical sender key:
// transport prefixes such as "whatsapp:" are dropped and whitespace,
// dashes and parentheses are removed. Telegram ids ("telegram:123") are
// kept as-is because they are not phone numbers.
func NormalizePhone(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "telegram:") {
		return s
	}
	s = strings.TrimPrefix(s, "whatsapp:")
	var b strings.Builder
	for i, r := range s {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if strings.HasPrefix(out, "00") {
		out = "+" + out[2:]
	}
	return out
}
