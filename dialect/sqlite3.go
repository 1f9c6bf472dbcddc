package dialect

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/shrek82/jconn/config"
	"github.com/shrek82/jconn/dberr"
)

// SQLite backend. The driver only opens a transaction before data-modifying
// statements when autocommit is off, so atomic blocks need an explicit BEGIN.
type sqlite3Backend struct {
	base
}

func init() {
	Register("sqlite3", NewSQLite3())
}

// NewSQLite3 returns a fresh SQLite backend. Tests embed it to build fakes.
func NewSQLite3() Backend {
	d := &sqlite3Backend{}
	d.base = base{quote: d.Quote}
	return d
}

func (d *sqlite3Backend) Vendor() string { return "sqlite" }

func (d *sqlite3Backend) Features() Features {
	return Features{UsesSavepoints: true, AutocommitsWhenAutocommitIsOff: true}
}

func (d *sqlite3Backend) Quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d *sqlite3Backend) ConnectionParams(s config.Settings) (Params, error) {
	if s.Name == "" {
		return Params{}, dberr.Improperlyf("", "settings are improperly configured. Please supply the NAME value")
	}
	dsn := s.Name
	if q := queryString(s.Options); q != "" {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + q
	}
	return Params{Driver: "sqlite3", DSN: dsn, Display: dsn}, nil
}

func (d *sqlite3Backend) Open(ctx context.Context, p Params) (*Handle, error) {
	return OpenHandle(ctx, p.Driver, p.DSN, BeginOnDML)
}

func (d *sqlite3Backend) InitConnectionState(ctx context.Context, h *Handle, s config.Settings) error {
	return h.Probe(ctx, "PRAGMA foreign_keys = ON")
}

func (d *sqlite3Backend) SetAutocommit(ctx context.Context, h *Handle, autocommit bool) error {
	return h.setAutocommit(autocommit)
}

func (d *sqlite3Backend) StartTransactionUnderAutocommit(ctx context.Context, h *Handle) error {
	return h.Begin(ctx)
}

// IsUsable always succeeds: an SQLite connection is a file handle in the
// same process and doesn't drop.
func (d *sqlite3Backend) IsUsable(ctx context.Context, h *Handle) bool {
	return h != nil && !h.Closed()
}

func (d *sqlite3Backend) DisableConstraintChecking(ctx context.Context, h *Handle) (bool, error) {
	// The pragma is a no-op inside a transaction.
	if h.InTransaction() {
		return false, nil
	}
	if err := h.Probe(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return false, err
	}
	return true, nil
}

func (d *sqlite3Backend) EnableConstraintChecking(ctx context.Context, h *Handle) error {
	return h.Probe(ctx, "PRAGMA foreign_keys = ON")
}

func (d *sqlite3Backend) CheckConstraints(ctx context.Context, h *Handle, tables []string) error {
	queries := []string{"PRAGMA foreign_key_check"}
	if len(tables) > 0 {
		queries = queries[:0]
		for _, t := range tables {
			queries = append(queries, fmt.Sprintf("PRAGMA foreign_key_check(%s)", d.Quote(t)))
		}
	}
	for _, q := range queries {
		rows, err := h.QueryContext(ctx, q)
		if err != nil {
			return err
		}
		var table, parent string
		var rowid any
		var fkid int
		found := rows.Next()
		if found {
			err = rows.Scan(&table, &rowid, &parent, &fkid)
		}
		closeErr := rows.Close()
		if err != nil {
			return err
		}
		if closeErr != nil {
			return closeErr
		}
		if found {
			return &dberr.DatabaseError{
				Kind:   dberr.KindIntegrity,
				Vendor: d.Vendor(),
				Err:    fmt.Errorf("table '%s' row %v has an invalid foreign key referencing '%s'", table, rowid, parent),
			}
		}
	}
	return nil
}

func (d *sqlite3Backend) ClassifyError(err error) (dberr.Kind, string, bool) {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		code := strconv.Itoa(int(liteErr.ExtendedCode))
		switch liteErr.Code {
		case sqlite3.ErrConstraint:
			return dberr.KindIntegrity, code, true
		case sqlite3.ErrMismatch, sqlite3.ErrTooBig, sqlite3.ErrRange:
			return dberr.KindData, code, true
		case sqlite3.ErrError, sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen,
			sqlite3.ErrIoErr, sqlite3.ErrFull, sqlite3.ErrReadonly, sqlite3.ErrCorrupt,
			sqlite3.ErrNotADB, sqlite3.ErrProtocol, sqlite3.ErrAbort, sqlite3.ErrInterrupt:
			return dberr.KindOperational, code, true
		case sqlite3.ErrMisuse:
			return dberr.KindProgramming, code, true
		case sqlite3.ErrInternal:
			return dberr.KindInternal, code, true
		}
		return dberr.KindDatabase, code, true
	}
	kind, ok := classifyCommon(err)
	return kind, "", ok
}
