// Package postgres implements store.Store on PostgreSQL. The schema is
// managed by cmd/migrate.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/dvloznov/bookkeeper/internal/domain"
	"github.com/dvloznov/bookkeeper/internal/store"
)

var _ store.Store = (*Store)(nil)

// Config holds the parameters for opening a Store.
type Config struct {
	URL          string
	MaxOpenConns int
	Logger       zerolog.Logger
}

// Store is the PostgreSQL-backed store.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open connects and pings the database.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres.Open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres.Open: ping: %w", err)
	}
	return New(db, cfg.Logger), nil
}

// New wraps an existing handle.
func New(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: log}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// wrap maps infrastructure failures to *domain.PersistenceError. Domain
// sentinel errors pass through.
func (s *Store) wrap(op string, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	s.log.Error().Err(err).Str("op", op).Msg("postgres operation failed")
	return &domain.PersistenceError{Op: op, Err: err}
}

// withTx runs fn in a transaction, rolling back when fn fails.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap(op, fmt.Errorf("begin transaction: %w", err))
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Warn().Err(rbErr).Str("op", op).Msg("rollback failed")
		}
		return s.wrap(op, err)
	}
	if err := tx.Commit(); err != nil {
		return s.wrap(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func isDomainError(err error) bool {
	for _, target := range []error{domain.ErrNotFound, domain.ErrToken, domain.ErrValidation} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func stringList(list []string) any {
	if list == nil {
		list = []string{}
	}
	return pq.Array(list)
}

func checkAffected(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, domain.ErrNotFound)
	}
	return nil
}
