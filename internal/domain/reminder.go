package domain

import "time"

// ReminderType identifies what a reminder is about.
type ReminderType string

const (
	ReminderTaxAdvance       ReminderType = "tax_advance"
	ReminderVAT              ReminderType = "vat"
	ReminderCustom           ReminderType = "custom"
	ReminderMonthlySummary   ReminderType = "monthly_summary"
	ReminderQuarterlySummary ReminderType = "quarterly_summary"
)

// Valid reports whether t is one of the known reminder types.
func (t ReminderType) Valid() bool {
	switch t {
	case ReminderTaxAdvance, ReminderVAT, ReminderCustom, ReminderMonthlySummary, ReminderQuarterlySummary:
		return true
	}
	return false
}

// Reminder is a scheduled message for a user.
type Reminder struct {
	ID      string
	UserID  string
	Type    ReminderType
	Message string // free text for custom reminders
	DueAt   time.Time
	Sent    bool
	SentAt  *time.Time

	CreatedAt time.Time
}
