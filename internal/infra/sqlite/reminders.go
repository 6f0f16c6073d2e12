package sqlite

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/dvloznov/bookkeeper/internal/domain"
)

const reminderColumns = `id, user_id, type, message, due_at, sent, sent_at, created_at`

func (s *Store) CreateReminder(ctx context.Context, r *domain.Reminder) error {
	return s.withConn(ctx, "CreateReminder", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `INSERT INTO reminders (`+reminderColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, type, due_at) DO NOTHING`, &sqlitex.ExecOptions{
			Args: []any{
				r.ID,
				r.UserID,
				string(r.Type),
				r.Message,
				nanos(r.DueAt),
				boolArg(r.Sent),
				timeArg(r.SentAt),
				nanos(r.CreatedAt),
			},
		})
	})
}

func (s *Store) ListDueReminders(ctx context.Context, before time.Time) ([]*domain.Reminder, error) {
	var out []*domain.Reminder
	err := s.withConn(ctx, "ListDueReminders", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+reminderColumns+` FROM reminders
			WHERE sent = 0 AND due_at <= ?
			ORDER BY due_at, id`, &sqlitex.ExecOptions{
			Args: []any{nanos(before)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, &domain.Reminder{
					ID:        stmt.ColumnText(0),
					UserID:    stmt.ColumnText(1),
					Type:      domain.ReminderType(stmt.ColumnText(2)),
					Message:   stmt.ColumnText(3),
					DueAt:     readTime(stmt, 4),
					Sent:      stmt.ColumnInt64(5) != 0,
					SentAt:    readTimePtr(stmt, 6),
					CreatedAt: readTime(stmt, 7),
				})
				return nil
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) MarkReminderSent(ctx context.Context, id string, at time.Time) error {
	return s.withConn(ctx, "MarkReminderSent", func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `UPDATE reminders SET sent = 1, sent_at = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{nanos(at), id}})
		if err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("MarkReminderSent %s: %w", id, domain.ErrNotFound)
		}
		return nil
	})
}
