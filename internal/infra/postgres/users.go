package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dvloznov/bookkeeper/internal/domain"
	"github.com/dvloznov/bookkeeper/internal/store"
)

const userColumns = `id, email, phone, token_hash, token_expires_at, token_used_at,
	activated, activated_at, subscription, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.ID,
		u.Email,
		nullString(u.Phone),
		u.TokenHash,
		u.TokenExpiresAt.UTC(),
		nullTime(u.TokenUsedAt),
		u.Activated,
		nullTime(u.ActivatedAt),
		string(u.Subscription),
		u.CreatedAt.UTC(),
	)
	return s.wrap("CreateUser", err)
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return s.findUser(ctx, "GetUser", `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (s *Store) FindUserByPhone(ctx context.Context, phone string) (*domain.User, error) {
	return s.findUser(ctx, "FindUserByPhone", `SELECT `+userColumns+` FROM users WHERE phone = $1`, phone)
}

func (s *Store) FindUserByTokenHash(ctx context.Context, tokenHash string) (*domain.User, error) {
	return s.findUser(ctx, "FindUserByTokenHash", `SELECT `+userColumns+` FROM users WHERE token_hash = $1`, tokenHash)
}

func (s *Store) UpdateUser(ctx context.Context, u *domain.User) error {
	// activated never goes back to false
	res, err := s.db.ExecContext(ctx, `UPDATE users SET
			email = $1, phone = $2, token_hash = $3, token_expires_at = $4, token_used_at = $5,
			activated = activated OR $6, activated_at = COALESCE(activated_at, $7),
			subscription = $8
		WHERE id = $9`,
		u.Email,
		nullString(u.Phone),
		u.TokenHash,
		u.TokenExpiresAt.UTC(),
		nullTime(u.TokenUsedAt),
		u.Activated,
		nullTime(u.ActivatedAt),
		string(u.Subscription),
		u.ID,
	)
	if err != nil {
		return s.wrap("UpdateUser", err)
	}
	return s.wrap("UpdateUser", checkAffected(res, "UpdateUser", u.ID))
}

func (s *Store) ListActiveUsers(ctx context.Context) ([]*domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users
		WHERE activated AND subscription IN ('trial', 'active')
		ORDER BY created_at`)
	if err != nil {
		return nil, s.wrap("ListActiveUsers", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, s.wrap("ListActiveUsers", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("ListActiveUsers", err)
	}
	return users, nil
}

func (s *Store) ActivateUser(ctx context.Context, p store.ActivateParams) error {
	return s.withTx(ctx, "ActivateUser", func(tx *sql.Tx) error {
		var tokenUsed, activated bool
		err := tx.QueryRowContext(ctx, `SELECT token_used_at IS NOT NULL, activated
			FROM users WHERE id = $1 AND token_hash = $2 FOR UPDATE`, p.UserID, p.TokenHash).
			Scan(&tokenUsed, &activated)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrTokenNotFound
		}
		if err != nil {
			return err
		}
		if tokenUsed {
			return domain.ErrTokenNotFound
		}
		if activated {
			return domain.ErrAlreadyActivated
		}

		var other string
		err = tx.QueryRowContext(ctx, `SELECT id FROM users WHERE phone = $1 AND id <> $2`, p.Phone, p.UserID).Scan(&other)
		switch {
		case err == nil:
			return domain.ErrAlreadyActivated
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		at := p.At.UTC()
		res, err := tx.ExecContext(ctx, `UPDATE users
			SET phone = $1, activated = TRUE, activated_at = $2, token_used_at = $2
			WHERE id = $3 AND token_used_at IS NULL`, p.Phone, at, p.UserID)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrAlreadyActivated
			}
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			return domain.ErrTokenNotFound
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO activation_audit
			(id, user_id, phone, activated_at, source_ip, client)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			p.AuditID, p.UserID, p.Phone, at, p.SourceIP, p.Client)
		return err
	})
}

// ListActivationAudits returns the audit trail of one user, oldest first.
func (s *Store) ListActivationAudits(ctx context.Context, userID string) ([]domain.ActivationAudit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, phone, activated_at, source_ip, client
		FROM activation_audit WHERE user_id = $1 ORDER BY activated_at`, userID)
	if err != nil {
		return nil, s.wrap("ListActivationAudits", err)
	}
	defer rows.Close()

	var out []domain.ActivationAudit
	for rows.Next() {
		var a domain.ActivationAudit
		if err := rows.Scan(&a.ID, &a.UserID, &a.Phone, &a.ActivatedAt, &a.SourceIP, &a.Client); err != nil {
			return nil, s.wrap("ListActivationAudits", err)
		}
		a.ActivatedAt = a.ActivatedAt.UTC()
		out = append(out, a)
	}
	return out, s.wrap("ListActivationAudits", rows.Err())
}

func (s *Store) findUser(ctx context.Context, op, query, arg string) (*domain.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	if err != nil {
		return nil, s.wrap(op, err)
	}
	return u, nil
}

// scanUser reads the columns listed in userColumns, in order.
func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u        domain.User
		phone    sql.NullString
		usedAt   sql.NullTime
		activeAt sql.NullTime
		sub      string
	)
	err := row.Scan(&u.ID, &u.Email, &phone, &u.TokenHash, &u.TokenExpiresAt, &usedAt,
		&u.Activated, &activeAt, &sub, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	u.Phone = phone.String
	u.TokenExpiresAt = u.TokenExpiresAt.UTC()
	u.TokenUsedAt = timePtr(usedAt)
	u.ActivatedAt = timePtr(activeAt)
	u.Subscription = domain.SubscriptionStatus(sub)
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}
