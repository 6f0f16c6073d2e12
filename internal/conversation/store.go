// Package conversation keeps the open follow-up question per user so a
// later message can be read as the answer to it.
package conversation

import (
	"time"

	"github.com/dvloznov/bookkeeper/internal/domain"
)

// Topic namespaces contexts so independent conversations do not collide.
type Topic string

const TopicTransaction Topic = "transaction"

// Key identifies one conversation.
type Key struct {
	UserID string
	Topic  Topic
}

// Pending is an unanswered follow-up. A nil *Pending is the empty state.
type Pending struct {
	Field     string              // evidence field the question asks for
	Partial   *domain.Transaction // transaction being assembled
	Question  string
	Retries   int      // invalid answers to the current question
	Remaining []string // fields still to ask after Field
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Clone deep-copies p.
func (p *Pending) Clone() *Pending {
	if p == nil {
		return nil
	}
	c := *p
	c.Partial = p.Partial.Clone()
	c.Remaining = append([]string(nil), p.Remaining...)
	return &c
}

// Expired reports whether p should be treated as empty at now.
func (p *Pending) Expired(now time.Time) bool {
	return p != nil && !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// Store holds at most one Pending per key. Lock serialises handling of a
// key; callers hold the lock across Get/Save/Clear for one exchange.
type Store interface {
	Lock(key Key) (unlock func())
	Get(key Key) *Pending
	Save(key Key, p *Pending)
	Clear(key Key)
	Sweep(now time.Time) int
}
