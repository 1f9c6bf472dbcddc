package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// BeginPolicy describes when a handle with autocommit off opens a
// transaction.
type BeginPolicy int

const (
	// BeginOnFirstStatement issues BEGIN before the first statement.
	BeginOnFirstStatement BeginPolicy = iota
	// BeginOnDML issues BEGIN only before data-modifying statements, which
	// is the behavior of drivers that "autocommit when autocommit is off".
	BeginOnDML
	// BeginOnServer leaves it to the server (SET autocommit = 0).
	BeginOnServer
)

// ErrHandleClosed is returned by every Handle method after Close.
var ErrHandleClosed = errors.New("connection already closed")

// Handle is one physical connection. It is backed by a dedicated *sql.Conn
// taken from a private single-connection *sql.DB, so nothing else can
// interleave statements on it.
type Handle struct {
	db         *sql.DB
	conn       *sql.Conn
	policy     BeginPolicy
	autocommit bool
	inTx       bool
	closed     bool
}

// OpenHandle opens driverName/dsn and pins a single connection.
func OpenHandle(ctx context.Context, driverName, dsn string, policy BeginPolicy) (*Handle, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Handle{db: db, conn: conn, policy: policy, autocommit: true}, nil
}

// Autocommit reports the handle's current mode.
func (h *Handle) Autocommit() bool { return h.autocommit }

// InTransaction reports whether a transaction is open on the server.
func (h *Handle) InTransaction() bool { return h.inTx }

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool { return h.closed }

func (h *Handle) prepare(ctx context.Context, query string) error {
	if h.closed {
		return ErrHandleClosed
	}
	if h.autocommit || h.inTx {
		return nil
	}
	switch h.policy {
	case BeginOnServer:
		h.inTx = true
		return nil
	case BeginOnDML:
		if !isDML(query) {
			return nil
		}
	}
	return h.Begin(ctx)
}

// ExecContext executes a statement, opening a transaction first when the
// begin policy requires it.
func (h *Handle) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := h.prepare(ctx, query); err != nil {
		return nil, err
	}
	return h.conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a query, opening a transaction first when the begin
// policy requires it.
func (h *Handle) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if err := h.prepare(ctx, query); err != nil {
		return nil, err
	}
	return h.conn.QueryContext(ctx, query, args...)
}

// Probe executes query outside the begin policy. Backends use it for health
// checks and session settings.
func (h *Handle) Probe(ctx context.Context, query string) error {
	if h.closed {
		return ErrHandleClosed
	}
	_, err := h.conn.ExecContext(ctx, query)
	return err
}

// Ping checks the connection with the driver's native ping.
func (h *Handle) Ping(ctx context.Context) error {
	if h.closed {
		return ErrHandleClosed
	}
	return h.conn.PingContext(ctx)
}

// Begin opens a transaction explicitly.
func (h *Handle) Begin(ctx context.Context) error {
	if h.closed {
		return ErrHandleClosed
	}
	if _, err := h.conn.ExecContext(ctx, "BEGIN"); err != nil {
		return err
	}
	h.inTx = true
	return nil
}

// Commit commits the open transaction, if any.
func (h *Handle) Commit(ctx context.Context) error {
	if h.closed {
		return ErrHandleClosed
	}
	if !h.inTx {
		return nil
	}
	if _, err := h.conn.ExecContext(ctx, "COMMIT"); err != nil {
		return err
	}
	h.inTx = false
	return nil
}

// Rollback rolls back the open transaction, if any. The transaction is
// considered finished even when the statement fails.
func (h *Handle) Rollback(ctx context.Context) error {
	if h.closed {
		return ErrHandleClosed
	}
	if !h.inTx {
		return nil
	}
	_, err := h.conn.ExecContext(ctx, "ROLLBACK")
	h.inTx = false
	return err
}

// setAutocommit records the mode. Turning autocommit on inside an open
// transaction is refused for client-side policies, the transaction must be
// finished first.
func (h *Handle) setAutocommit(autocommit bool) error {
	if h.closed {
		return ErrHandleClosed
	}
	if autocommit && h.inTx && h.policy != BeginOnServer {
		return fmt.Errorf("cannot enable autocommit inside a transaction")
	}
	h.autocommit = autocommit
	if autocommit && h.policy == BeginOnServer {
		h.inTx = false
	}
	return nil
}

// Close releases the physical connection. An open transaction is discarded
// by the server.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	connErr := h.conn.Close()
	dbErr := h.db.Close()
	if connErr != nil {
		return connErr
	}
	return dbErr
}

func isDML(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	for _, prefix := range []string{"INSERT", "UPDATE", "DELETE", "REPLACE"} {
		if strings.HasPrefix(q, prefix) {
			return true
		}
	}
	return false
}
