// Package dberr defines the error families surfaced by a managed connection.
//
// Every error carries enough structure for a caller to decide what to do
// without parsing messages: configuration problems, transaction protocol
// misuse, thread-affinity violations and driver errors are distinct types,
// and each one matches a sentinel with errors.Is.
package dberr

import (
	"errors"
	"fmt"
)

var (
	// ErrImproperlyConfigured matches every *ConfigurationError.
	ErrImproperlyConfigured = errors.New("improperly configured")
	// ErrTransactionManagement matches every *TransactionManagementError.
	ErrTransactionManagement = errors.New("transaction management error")
	// ErrConnectionState matches every *ConnectionStateError.
	ErrConnectionState = errors.New("connection state error")
	// ErrDatabase matches every *DatabaseError regardless of kind.
	ErrDatabase = errors.New("database error")

	ErrInterface    = errors.New("interface error")
	ErrData         = errors.New("data error")
	ErrOperational  = errors.New("operational error")
	ErrIntegrity    = errors.New("integrity error")
	ErrInternal     = errors.New("internal error")
	ErrProgramming  = errors.New("programming error")
	ErrNotSupported = errors.New("not supported error")
)

// ConfigurationError reports settings that are inconsistent. It is detected
// before any network I/O and is never worth retrying.
type ConfigurationError struct {
	Alias string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	if e.Alias == "" {
		return e.Msg
	}
	return fmt.Sprintf("connection '%s': %s", e.Alias, e.Msg)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrImproperlyConfigured
}

// Improperlyf builds a ConfigurationError for the given alias.
func Improperlyf(alias, format string, args ...any) error {
	return &ConfigurationError{Alias: alias, Msg: fmt.Sprintf(format, args...)}
}

// TransactionManagementError reports misuse of the transaction protocol,
// e.g. a commit while an atomic block owns the connection.
type TransactionManagementError struct {
	Msg string
}

func (e *TransactionManagementError) Error() string { return e.Msg }

func (e *TransactionManagementError) Is(target error) bool {
	return target == ErrTransactionManagement
}

// TransactionManagement builds a TransactionManagementError.
func TransactionManagement(msg string) error {
	return &TransactionManagementError{Msg: msg}
}

// ConnectionStateError reports a connection used from a goroutine other than
// the one that created it.
type ConnectionStateError struct {
	Alias    string
	OwnerID  int64
	CallerID int64
}

func (e *ConnectionStateError) Error() string {
	return fmt.Sprintf("database connections created in a goroutine can only be used in that same goroutine. "+
		"The object with alias '%s' was created in goroutine id %d and this is goroutine id %d",
		e.Alias, e.OwnerID, e.CallerID)
}

func (e *ConnectionStateError) Is(target error) bool {
	return target == ErrConnectionState
}

// Kind classifies a driver error the same way for every backend.
type Kind int

const (
	KindDatabase Kind = iota
	KindInterface
	KindData
	KindOperational
	KindIntegrity
	KindInternal
	KindProgramming
	KindNotSupported
)

func (k Kind) String() string {
	switch k {
	case KindInterface:
		return "InterfaceError"
	case KindData:
		return "DataError"
	case KindOperational:
		return "OperationalError"
	case KindIntegrity:
		return "IntegrityError"
	case KindInternal:
		return "InternalError"
	case KindProgramming:
		return "ProgrammingError"
	case KindNotSupported:
		return "NotSupportedError"
	default:
		return "DatabaseError"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindInterface:
		return ErrInterface
	case KindData:
		return ErrData
	case KindOperational:
		return ErrOperational
	case KindIntegrity:
		return ErrIntegrity
	case KindInternal:
		return ErrInternal
	case KindProgramming:
		return ErrProgramming
	case KindNotSupported:
		return ErrNotSupported
	}
	return nil
}

// DatabaseError wraps an error raised by the underlying driver. Code holds the
// backend-specific error code (SQLSTATE, MySQL error number, SQLite result
// code) when one is available.
type DatabaseError struct {
	Kind   Kind
	Vendor string
	Code   string
	Err    error
}

func (e *DatabaseError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s [%s %s]: %v", e.Kind, e.Vendor, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

func (e *DatabaseError) Is(target error) bool {
	if target == ErrDatabase {
		return true
	}
	s := e.Kind.sentinel()
	return s != nil && s == target
}

// Recoverable reports whether the error leaves the connection in a known good
// state. Integrity and data errors are raised for bad input, not for a broken
// connection.
func (e *DatabaseError) Recoverable() bool {
	return e.Kind == KindIntegrity || e.Kind == KindData
}
