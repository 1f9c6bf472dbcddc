package dialect

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/shrek82/jconn/config"
	"github.com/shrek82/jconn/dberr"
)

// PostgreSQL backend. The same implementation serves lib/pq ("postgres")
// and pgx through database/sql ("pgx").
type postgres struct {
	base
	driver string
}

func init() {
	d := newPostgres("postgres")
	Register("postgres", d)
	Register("postgresql", d)
	Register("pgx", newPostgres("pgx"))
}

func newPostgres(driver string) *postgres {
	d := &postgres{driver: driver}
	d.base = base{quote: d.Quote}
	return d
}

func (d *postgres) Vendor() string { return "postgresql" }

func (d *postgres) Features() Features {
	return Features{SupportsTimezones: true, UsesSavepoints: true}
}

func (d *postgres) Quote(name string) string {
	// PostgreSQL uses double quotes for identifiers
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d *postgres) ConnectionParams(s config.Settings) (Params, error) {
	name := s.Name
	if name == "" {
		// No specific database: connect to the maintenance database.
		name = "postgres"
	}
	pairs := map[string]string{
		"dbname":   name,
		"user":     s.User,
		"password": s.Password,
		"host":     s.Host,
	}
	if s.Port != 0 {
		pairs["port"] = strconv.Itoa(s.Port)
	}
	for k, v := range s.Options {
		pairs[k] = v
	}

	display := make(map[string]string, len(pairs))
	for k, v := range pairs {
		display[k] = v
	}
	delete(display, "password")

	return Params{Driver: d.driver, DSN: keyValueDSN(pairs), Display: keyValueDSN(display)}, nil
}

func (d *postgres) Open(ctx context.Context, p Params) (*Handle, error) {
	return OpenHandle(ctx, p.Driver, p.DSN, BeginOnFirstStatement)
}

func (d *postgres) InitConnectionState(ctx context.Context, h *Handle, s config.Settings) error {
	tz := TimezoneName(s)
	if tz == "" {
		return nil
	}
	if err := h.Probe(ctx, "SET TIME ZONE "+pq.QuoteLiteral(tz)); err != nil {
		return fmt.Errorf("failed to set time zone: %w", err)
	}
	return nil
}

func (d *postgres) SetAutocommit(ctx context.Context, h *Handle, autocommit bool) error {
	return h.setAutocommit(autocommit)
}

func (d *postgres) IsUsable(ctx context.Context, h *Handle) bool {
	return h.Probe(ctx, "SELECT 1") == nil
}

func (d *postgres) CheckConstraints(ctx context.Context, h *Handle, tables []string) error {
	if _, err := h.ExecContext(ctx, "SET CONSTRAINTS ALL IMMEDIATE"); err != nil {
		return err
	}
	_, err := h.ExecContext(ctx, "SET CONSTRAINTS ALL DEFERRED")
	return err
}

func (d *postgres) ClassifyError(err error) (dberr.Kind, string, bool) {
	var code string
	var pqErr *pq.Error
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pqErr):
		code = string(pqErr.Code)
	case errors.As(err, &pgErr):
		code = pgErr.Code
	default:
		if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
			return dberr.KindOperational, "", true
		}
		kind, ok := classifyCommon(err)
		return kind, "", ok
	}
	return postgresKind(code), code, true
}

func postgresKind(code string) dberr.Kind {
	switch {
	case pgerrcode.IsIntegrityConstraintViolation(code):
		return dberr.KindIntegrity
	case pgerrcode.IsDataException(code):
		return dberr.KindData
	case pgerrcode.IsConnectionException(code),
		pgerrcode.IsTransactionRollback(code),
		pgerrcode.IsOperatorIntervention(code),
		pgerrcode.IsInsufficientResources(code),
		pgerrcode.IsProgramLimitExceeded(code):
		return dberr.KindOperational
	case pgerrcode.IsSyntaxErrororAccessRuleViolation(code):
		return dberr.KindProgramming
	case pgerrcode.IsInvalidTransactionState(code),
		pgerrcode.IsInternalError(code):
		return dberr.KindInternal
	case pgerrcode.IsFeatureNotSupported(code):
		return dberr.KindNotSupported
	}
	return dberr.KindDatabase
}
