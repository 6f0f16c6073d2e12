// Package sqlite implements store.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/dvloznov/bookkeeper/internal/domain"
	"github.com/dvloznov/bookkeeper/internal/store"
)

var _ store.Store = (*Store)(nil)

// Config holds the parameters for opening a Store.
type Config struct {
	Path     string
	PoolSize int
	Logger   zerolog.Logger
}

// Store is the SQLite-backed store.
type Store struct {
	pool *Pool
	log  zerolog.Logger
}

// Open opens (and if needed creates) the database and its schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	pool, err := OpenPool(PoolConfig{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite.Open: %w", err)
	}

	// Take one connection up front so schema errors surface here.
	conn, err := pool.Take(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("sqlite.Open: initialise schema: %w", err)
	}
	pool.Put(conn)

	return &Store{pool: pool, log: cfg.Logger}, nil
}

func (s *Store) Close() error {
	return s.pool.Close()
}

// withConn borrows a connection for fn and maps infrastructure failures
// to *domain.PersistenceError. Domain sentinel errors pass through.
func (s *Store) withConn(ctx context.Context, op string, fn func(conn *sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return &domain.PersistenceError{Op: op, Err: err}
	}
	defer s.pool.Put(conn)

	if err := fn(conn); err != nil {
		if isDomainError(err) {
			return err
		}
		s.log.Error().Err(err).Str("op", op).Msg("sqlite operation failed")
		return &domain.PersistenceError{Op: op, Err: err}
	}
	return nil
}

// withTx runs fn inside an IMMEDIATE transaction.
func (s *Store) withTx(ctx context.Context, op string, fn func(conn *sqlite.Conn) error) error {
	return s.withConn(ctx, op, func(conn *sqlite.Conn) (err error) {
		endFn, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer endFn(&err)
		err = fn(conn)
		return err
	})
}

func isDomainError(err error) bool {
	for _, target := range []error{domain.ErrNotFound, domain.ErrToken, domain.ErrValidation} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func nanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return nanos(*t)
}

func readTime(stmt *sqlite.Stmt, col int) time.Time {
	return time.Unix(0, stmt.ColumnInt64(col)).UTC()
}

func readTimePtr(stmt *sqlite.Stmt, col int) *time.Time {
	if stmt.ColumnIsNull(col) {
		return nil
	}
	t := readTime(stmt, col)
	return &t
}

func boolArg(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func textOrNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func decimalArg(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func readNullDecimal(stmt *sqlite.Stmt, col int) (decimal.NullDecimal, error) {
	if stmt.ColumnIsNull(col) {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(stmt.ColumnText(col))
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("column %d: %w", col, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func listArg(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readList(stmt *sqlite.Stmt, col int) ([]string, error) {
	var list []string
	if err := json.Unmarshal([]byte(stmt.ColumnText(col)), &list); err != nil {
		return nil, fmt.Errorf("column %d: %w", col, err)
	}
	return list, nil
}
