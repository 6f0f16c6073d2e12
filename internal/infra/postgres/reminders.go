package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/dvloznov/bookkeeper/internal/domain"
)

const reminderColumns = `id, user_id, type, message, due_at, sent, sent_at, created_at`

func (s *Store) CreateReminder(ctx context.Context, r *domain.Reminder) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO reminders (`+reminderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, type, due_at) DO NOTHING`,
		r.ID,
		r.UserID,
		string(r.Type),
		r.Message,
		r.DueAt.UTC(),
		r.Sent,
		nullTime(r.SentAt),
		r.CreatedAt.UTC(),
	)
	return s.wrap("CreateReminder", err)
}

func (s *Store) ListDueReminders(ctx context.Context, before time.Time) ([]*domain.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+reminderColumns+` FROM reminders
		WHERE NOT sent AND due_at <= $1
		ORDER BY due_at, id`, before.UTC())
	if err != nil {
		return nil, s.wrap("ListDueReminders", err)
	}
	defer rows.Close()

	var out []*domain.Reminder
	for rows.Next() {
		var (
			r      domain.Reminder
			typ    string
			sentAt sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.UserID, &typ, &r.Message, &r.DueAt, &r.Sent, &sentAt, &r.CreatedAt); err != nil {
			return nil, s.wrap("ListDueReminders", err)
		}
		r.Type = domain.ReminderType(typ)
		r.DueAt = r.DueAt.UTC()
		r.SentAt = timePtr(sentAt)
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("ListDueReminders", err)
	}
	return out, nil
}

func (s *Store) MarkReminderSent(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE reminders SET sent = TRUE, sent_at = $1 WHERE id = $2`, at.UTC(), id)
	if err != nil {
		return s.wrap("MarkReminderSent", err)
	}
	return s.wrap("MarkReminderSent", checkAffected(res, "MarkReminderSent", id))
}
