package core

import (
	"errors"

	"github.com/shrek82/jconn/dberr"
	"github.com/shrek82/jconn/dialect"
)

var (
	// ErrCursorClosed is returned when a closed cursor is used.
	ErrCursorClosed = &dberr.DatabaseError{Kind: dberr.KindInterface, Err: errors.New("cursor already closed")}
)

// wrapError converts driver errors into *dberr.DatabaseError and records that
// an error occurred, unless it's an integrity or data error which leave the
// connection in a usable state. Errors that already belong to one of the
// dberr families pass through.
func (w *Wrapper) wrapError(err error) error {
	if err == nil {
		return nil
	}

	var cfgErr *dberr.ConfigurationError
	if errors.As(err, &cfgErr) {
		if cfgErr.Alias == "" {
			cfgErr.Alias = w.alias
		}
		return err
	}
	if errors.Is(err, dberr.ErrTransactionManagement) || errors.Is(err, dberr.ErrConnectionState) {
		return err
	}

	var dbErr *dberr.DatabaseError
	if !errors.As(err, &dbErr) {
		kind, code, ok := w.backend.ClassifyError(err)
		if !ok && errors.Is(err, dialect.ErrHandleClosed) {
			kind = dberr.KindInterface
		}
		dbErr = &dberr.DatabaseError{Kind: kind, Vendor: w.backend.Vendor(), Code: code, Err: err}
		err = dbErr
	}
	if !dbErr.Recoverable() {
		w.errorsOccurred.Store(true)
	}
	return err
}
