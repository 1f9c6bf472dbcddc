package dialect

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sort"

	"github.com/shrek82/jconn/config"
	"github.com/shrek82/jconn/dberr"
)

// Features describes backend behavior the connection state machine depends on.
type Features struct {
	// SupportsTimezones is true when the driver stores aware datetimes
	// itself, making a TIME_ZONE override meaningless.
	SupportsTimezones bool
	// UsesSavepoints is false for backends where every savepoint operation
	// is a no-op.
	UsesSavepoints bool
	// AutocommitsWhenAutocommitIsOff marks drivers that keep committing each
	// statement after autocommit is turned off, so an explicit BEGIN is needed.
	AutocommitsWhenAutocommitIsOff bool
}

// Params is what ConnectionParams produces and Open consumes.
type Params struct {
	Driver string
	DSN    string
	// Display is the DSN with credentials removed, safe to log.
	Display string
}

// Querier is what a cursor executes statements on.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Backend represents the capabilities a database must provide to plug into
// the connection lifecycle. Each database (PostgreSQL, MySQL, SQLite) must
// implement this interface to be supported.
type Backend interface {
	// Vendor is the human readable backend name used in errors and logs
	Vendor() string
	Features() Features
	// Quote wraps an identifier in database-specific quotes
	Quote(name string) string

	// ConnectionParams validates settings and builds driver parameters.
	// It performs no I/O.
	ConnectionParams(s config.Settings) (Params, error)
	// Open establishes the physical connection.
	Open(ctx context.Context, p Params) (*Handle, error)
	// InitConnectionState applies session settings on a fresh handle.
	InitConnectionState(ctx context.Context, h *Handle, s config.Settings) error
	// CreateCursor returns the object statements are executed on.
	CreateCursor(ctx context.Context, h *Handle) (Querier, error)

	SetAutocommit(ctx context.Context, h *Handle, autocommit bool) error
	// StartTransactionUnderAutocommit is only called on backends with
	// AutocommitsWhenAutocommitIsOff.
	StartTransactionUnderAutocommit(ctx context.Context, h *Handle) error

	// IsUsable probes the handle. It must not panic on a dead connection.
	IsUsable(ctx context.Context, h *Handle) bool

	SavepointCreateSQL(id string) string
	SavepointRollbackSQL(id string) string
	SavepointCommitSQL(id string) string

	// DisableConstraintChecking reports whether checks were disabled and
	// need to be re-enabled.
	DisableConstraintChecking(ctx context.Context, h *Handle) (bool, error)
	EnableConstraintChecking(ctx context.Context, h *Handle) error
	CheckConstraints(ctx context.Context, h *Handle, tables []string) error

	// ClassifyError maps a driver error to a kind and backend code. ok is
	// false when the error is not a driver error.
	ClassifyError(err error) (kind dberr.Kind, code string, ok bool)
}

var backends = make(map[string]Backend)

// Register registers a backend for a given engine name
func Register(name string, b Backend) {
	backends[name] = b
}

// Get retrieves a registered backend by engine name
func Get(name string) (Backend, bool) {
	b, ok := backends[name]
	return b, ok
}

// Names lists the registered engine names in order.
func Names() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TimezoneName is the zone a connection should use for naive datetimes.
func TimezoneName(s config.Settings) string {
	if !s.UseTZ {
		return s.TimeZone
	}
	if s.TimeZone == "" {
		return "UTC"
	}
	return s.TimeZone
}

// classifyCommon handles errors raised by database/sql itself rather than a
// server.
func classifyCommon(err error) (dberr.Kind, bool) {
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return dberr.KindOperational, true
	case errors.Is(err, sql.ErrTxDone):
		return dberr.KindProgramming, true
	case errors.Is(err, driver.ErrSkip):
		return dberr.KindInterface, true
	}
	return dberr.KindDatabase, false
}
