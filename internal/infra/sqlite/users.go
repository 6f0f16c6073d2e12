package sqlite

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/dvloznov/bookkeeper/internal/domain"
	"github.com/dvloznov/bookkeeper/internal/store"
)

const userColumns = `id, email, phone, token_hash, token_expires_at, token_used_at,
	activated, activated_at, subscription, created_at`

func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	return s.withConn(ctx, "CreateUser", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `INSERT INTO users (`+userColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{
				u.ID,
				u.Email,
				textOrNull(u.Phone),
				u.TokenHash,
				nanos(u.TokenExpiresAt),
				timeArg(u.TokenUsedAt),
				boolArg(u.Activated),
				timeArg(u.ActivatedAt),
				string(u.Subscription),
				nanos(u.CreatedAt),
			},
		})
	})
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return s.findUser(ctx, "GetUser", `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (s *Store) FindUserByPhone(ctx context.Context, phone string) (*domain.User, error) {
	return s.findUser(ctx, "FindUserByPhone", `SELECT `+userColumns+` FROM users WHERE phone = ?`, phone)
}

func (s *Store) FindUserByTokenHash(ctx context.Context, tokenHash string) (*domain.User, error) {
	return s.findUser(ctx, "FindUserByTokenHash", `SELECT `+userColumns+` FROM users WHERE token_hash = ?`, tokenHash)
}

func (s *Store) UpdateUser(ctx context.Context, u *domain.User) error {
	return s.withConn(ctx, "UpdateUser", func(conn *sqlite.Conn) error {
		// activated never goes back to false
		err := sqlitex.Execute(conn, `UPDATE users SET
				email = ?, phone = ?, token_hash = ?, token_expires_at = ?, token_used_at = ?,
				activated = MAX(activated, ?), activated_at = COALESCE(activated_at, ?),
				subscription = ?
			WHERE id = ?`, &sqlitex.ExecOptions{
			Args: []any{
				u.Email,
				textOrNull(u.Phone),
				u.TokenHash,
				nanos(u.TokenExpiresAt),
				timeArg(u.TokenUsedAt),
				boolArg(u.Activated),
				timeArg(u.ActivatedAt),
				string(u.Subscription),
				u.ID,
			},
		})
		if err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("UpdateUser %s: %w", u.ID, domain.ErrNotFound)
		}
		return nil
	})
}

func (s *Store) ListActiveUsers(ctx context.Context) ([]*domain.User, error) {
	var users []*domain.User
	err := s.withConn(ctx, "ListActiveUsers", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+userColumns+` FROM users
			WHERE activated = 1 AND subscription IN ('trial', 'active')
			ORDER BY created_at`, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				users = append(users, scanUser(stmt))
				return nil
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) ActivateUser(ctx context.Context, p store.ActivateParams) error {
	return s.withTx(ctx, "ActivateUser", func(conn *sqlite.Conn) error {
		var (
			found     bool
			tokenUsed bool
			activated bool
		)
		err := sqlitex.Execute(conn, `SELECT token_used_at IS NOT NULL, activated
			FROM users WHERE id = ? AND token_hash = ?`, &sqlitex.ExecOptions{
			Args: []any{p.UserID, p.TokenHash},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				tokenUsed = stmt.ColumnInt64(0) != 0
				activated = stmt.ColumnInt64(1) != 0
				return nil
			},
		})
		if err != nil {
			return err
		}
		if !found || tokenUsed {
			return domain.ErrTokenNotFound
		}
		if activated {
			return domain.ErrAlreadyActivated
		}

		var boundElsewhere bool
		err = sqlitex.Execute(conn, `SELECT 1 FROM users WHERE phone = ? AND id <> ?`, &sqlitex.ExecOptions{
			Args: []any{p.Phone, p.UserID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				boundElsewhere = true
				return nil
			},
		})
		if err != nil {
			return err
		}
		if boundElsewhere {
			return domain.ErrAlreadyActivated
		}

		at := nanos(p.At)
		err = sqlitex.Execute(conn, `UPDATE users
			SET phone = ?, activated = 1, activated_at = ?, token_used_at = ?
			WHERE id = ? AND token_used_at IS NULL`, &sqlitex.ExecOptions{
			Args: []any{p.Phone, at, at, p.UserID},
		})
		if err != nil {
			return err
		}
		if conn.Changes() != 1 {
			return domain.ErrTokenNotFound
		}

		return sqlitex.Execute(conn, `INSERT INTO activation_audit
			(id, user_id, phone, activated_at, source_ip, client)
			VALUES (?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{p.AuditID, p.UserID, p.Phone, at, p.SourceIP, p.Client},
		})
	})
}

// ListActivationAudits returns the audit trail of one user, oldest first.
func (s *Store) ListActivationAudits(ctx context.Context, userID string) ([]domain.ActivationAudit, error) {
	var out []domain.ActivationAudit
	err := s.withConn(ctx, "ListActivationAudits", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT id, user_id, phone, activated_at, source_ip, client
			FROM activation_audit WHERE user_id = ? ORDER BY activated_at`, &sqlitex.ExecOptions{
			Args: []any{userID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, domain.ActivationAudit{
					ID:          stmt.ColumnText(0),
					UserID:      stmt.ColumnText(1),
					Phone:       stmt.ColumnText(2),
					ActivatedAt: readTime(stmt, 3),
					SourceIP:    stmt.ColumnText(4),
					Client:      stmt.ColumnText(5),
				})
				return nil
			},
		})
	})
	return out, err
}

func (s *Store) findUser(ctx context.Context, op, query string, arg string) (*domain.User, error) {
	var u *domain.User
	err := s.withConn(ctx, op, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: []any{arg},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				u = scanUser(stmt)
				return nil
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return u, nil
}

// scanUser reads the columns listed in userColumns, in order.
func scanUser(stmt *sqlite.Stmt) *domain.User {
	return &domain.User{
		ID:             stmt.ColumnText(0),
		Email:          stmt.ColumnText(1),
		Phone:          stmt.ColumnText(2),
		TokenHash:      stmt.ColumnText(3),
		TokenExpiresAt: readTime(stmt, 4),
		TokenUsedAt:    readTimePtr(stmt, 5),
		Activated:      stmt.ColumnInt64(6) != 0,
		ActivatedAt:    readTimePtr(stmt, 7),
		Subscription:   domain.SubscriptionStatus(stmt.ColumnText(8)),
		CreatedAt:      readTime(stmt, 9),
	}
}
