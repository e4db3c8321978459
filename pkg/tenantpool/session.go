package tenantpool

import (
	"context"
	"database/sql"
	"time"

	"github.com/ajitpratap0/relay/pkg/errors"
)

// Session is one checked-out connection, optionally inside a transaction.
// A Session is not safe for concurrent use.
type Session struct {
	engine     *Engine
	conn       *sql.Conn
	tx         *sql.Tx
	checkedOut time.Time
	closed     bool
}

// Tenant returns the engine key the session belongs to
func (s *Session) Tenant() string {
	return s.engine.Tenant
}

// Closed reports whether the connection has been returned to the pool
func (s *Session) Closed() bool {
	return s.closed
}

// InTx reports whether a transaction is open
func (s *Session) InTx() bool {
	return s.tx != nil
}

// Begin starts a transaction
func (s *Session) Begin(ctx context.Context) error {
	if s.closed {
		return errors.New(errors.ErrorTypeInternal, "session is closed")
	}
	if s.tx != nil {
		return errors.New(errors.ErrorTypeInternal, "transaction already open")
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to begin transaction")
	}
	s.tx = tx
	return nil
}

// Commit commits the open transaction
func (s *Session) Commit() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to commit transaction")
	}
	return nil
}

// Rollback aborts the open transaction
func (s *Session) Rollback() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to roll back transaction")
	}
	return nil
}

// Exec runs a statement
func (s *Session) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	defer s.timeQuery(time.Now())
	if s.tx != nil {
		return s.tx.ExecContext(ctx, query, args...)
	}
	return s.conn.ExecContext(ctx, query, args...)
}

// Query runs a query returning rows
func (s *Session) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	defer s.timeQuery(time.Now())
	if s.tx != nil {
		return s.tx.QueryContext(ctx, query, args...)
	}
	return s.conn.QueryContext(ctx, query, args...)
}

// QueryRow runs a query returning at most one row
func (s *Session) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	defer s.timeQuery(time.Now())
	if s.tx != nil {
		return s.tx.QueryRowContext(ctx, query, args...)
	}
	return s.conn.QueryRowContext(ctx, query, args...)
}

// Close rolls back any open transaction and returns the connection to the
// pool. Closing twice is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	rbErr := s.Rollback()
	err := s.conn.Close()
	s.closed = true
	s.engine.Metrics.Checkin(time.Since(s.checkedOut))

	if rbErr != nil {
		return rbErr
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to return connection")
	}
	return nil
}

func (s *Session) timeQuery(start time.Time) {
	s.engine.Metrics.Query(time.Since(start))
}
