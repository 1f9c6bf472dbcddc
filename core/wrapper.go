package core

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/petermattis/goid"

	"github.com/shrek82/jconn/config"
	"github.com/shrek82/jconn/dberr"
	"github.com/shrek82/jconn/dialect"
	"github.com/shrek82/jconn/logger"
)

// NoDBAlias is the alias of connections that don't target a database, see
// NodbConnection.
const NoDBAlias = "__no_db__"

// Wrapper manages the state of a single database connection: its lifecycle,
// the autocommit and atomic block state machine, savepoints, commit hooks and
// health based recycling.
//
// A Wrapper is owned by the goroutine that created it. Other goroutines get a
// *dberr.ConnectionStateError unless it was built WithThreadSharing, in which
// case the caller is responsible for serializing access.
type Wrapper struct {
	backend  dialect.Backend
	settings config.Settings
	alias    string

	log         logger.Logger
	observers   []ConnectionObserver
	middlewares []ExecMiddleware
	now         func() time.Time

	// nil when closed
	handle *dialect.Handle

	autocommit    bool
	inAtomicBlock bool
	// savepointState is the counter used to build unique savepoint ids
	savepointState int
	savepointIDs   []string
	// whether the outermost atomic block commits on exit, false when it was
	// entered with autocommit already off
	commitOnExit  bool
	needsRollback bool

	// Health signals, read by pool managers from other goroutines.
	closeAt             atomic.Int64 // unix nanoseconds, valid when hasCloseAt is set
	hasCloseAt          atomic.Bool
	closedInTransaction atomic.Bool
	errorsOccurred      atomic.Bool

	runOnCommit                  []commitHook
	runCommitHooksOnAutocommitOn bool

	allowThreadSharing bool
	ownerID            int64

	queries          *queryLog
	forceDebugCursor bool
}

// Option configures a Wrapper.
type Option func(*Wrapper)

// WithThreadSharing allows the wrapper to be used from any goroutine.
func WithThreadSharing() Option {
	return func(w *Wrapper) { w.allowThreadSharing = true }
}

// WithLogger sets the logger used for lifecycle events and debug SQL.
func WithLogger(l logger.Logger) Option {
	return func(w *Wrapper) { w.log = l }
}

// WithObserver registers an observer notified after every new connection.
func WithObserver(o ConnectionObserver) Option {
	return func(w *Wrapper) { w.observers = append(w.observers, o) }
}

// WithClock replaces time.Now for max-age computations.
func WithClock(now func() time.Time) Option {
	return func(w *Wrapper) { w.now = now }
}

// New creates a wrapper for the given backend and settings. No connection is
// opened until one is needed.
func New(backend dialect.Backend, settings config.Settings, alias string, opts ...Option) *Wrapper {
	if alias == "" {
		alias = config.DefaultAlias
	}
	w := &Wrapper{
		backend:      backend,
		settings:     settings.Clone(),
		alias:        alias,
		log:          logger.NewStdLogger(),
		now:          time.Now,
		commitOnExit: true,
		ownerID:      goid.Get(),
		queries:      newQueryLog(queriesLimit),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Open looks up the backend registered for settings.Engine and creates a
// wrapper for it.
func Open(settings config.Settings, alias string, opts ...Option) (*Wrapper, error) {
	b, ok := dialect.Get(settings.Engine)
	if !ok {
		return nil, dberr.Improperlyf(alias, "engine %q isn't an available database backend, try one of %v",
			settings.Engine, dialect.Names())
	}
	return New(b, settings, alias, opts...), nil
}

// Alias returns the name of this logical connection.
func (w *Wrapper) Alias() string { return w.alias }

// Vendor returns the backend vendor name.
func (w *Wrapper) Vendor() string { return w.backend.Vendor() }

// Backend returns the backend the wrapper delegates to.
func (w *Wrapper) Backend() dialect.Backend { return w.backend }

// Settings returns a copy of the connection settings.
func (w *Wrapper) Settings() config.Settings { return w.settings.Clone() }

// Handle returns the physical connection, nil when closed.
func (w *Wrapper) Handle() *dialect.Handle { return w.handle }

// Connected reports whether a physical handle is held.
func (w *Wrapper) Connected() bool { return w.handle != nil }

func (w *Wrapper) InAtomicBlock() bool      { return w.inAtomicBlock }
func (w *Wrapper) NeedsRollback() bool      { return w.needsRollback }
func (w *Wrapper) AllowThreadSharing() bool { return w.allowThreadSharing }

// ErrorsOccurred reports whether a non-recoverable database error was seen
// since the last commit, rollback or successful health probe. Safe to call
// from any goroutine.
func (w *Wrapper) ErrorsOccurred() bool { return w.errorsOccurred.Load() }

// ClosedInTransaction reports whether the connection was closed inside an
// atomic block. Safe to call from any goroutine.
func (w *Wrapper) ClosedInTransaction() bool { return w.closedInTransaction.Load() }

// CloseAt returns the max-age deadline. ok is false when the connection never
// expires. Safe to call from any goroutine.
func (w *Wrapper) CloseAt() (t time.Time, ok bool) {
	if !w.hasCloseAt.Load() {
		return time.Time{}, false
	}
	return time.Unix(0, w.closeAt.Load()), true
}

func (w *Wrapper) fields() map[string]any {
	return map[string]any{"alias": w.alias, "vendor": w.backend.Vendor()}
}

// CheckSettings validates the settings before any I/O happens.
func (w *Wrapper) CheckSettings() error {
	tz := w.settings.TimeZone
	if tz == "" {
		return nil
	}
	if !w.settings.UseTZ {
		return dberr.Improperlyf(w.alias, "cannot set TIME_ZONE because USE_TZ is false")
	}
	if w.backend.Features().SupportsTimezones {
		return dberr.Improperlyf(w.alias, "cannot set TIME_ZONE because its engine handles time zones conversions natively")
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return dberr.Improperlyf(w.alias, "cannot set TIME_ZONE %q: %v", tz, err)
	}
	return nil
}

// Connect opens a new physical connection and resets the transaction state.
// A handle that is still held, live or closed in a transaction, is closed
// first.
func (w *Wrapper) Connect(ctx context.Context) error {
	if err := w.ValidateThreadSharing(); err != nil {
		return err
	}
	if err := w.CheckSettings(); err != nil {
		return err
	}
	if w.handle != nil {
		if err := w.handle.Close(); err != nil {
			w.log.WithFields(w.fields()).Warn("failed to close the previous connection: %v", err)
		}
		w.handle = nil
	}
	// In case the previous connection was closed inside an atomic block.
	w.inAtomicBlock = false
	w.savepointIDs = nil
	w.needsRollback = false
	if age := w.settings.ConnMaxAge; age == nil {
		w.hasCloseAt.Store(false)
	} else {
		w.closeAt.Store(w.now().Add(*age).UnixNano())
		w.hasCloseAt.Store(true)
	}
	w.closedInTransaction.Store(false)
	w.errorsOccurred.Store(false)

	params, err := w.backend.ConnectionParams(w.settings)
	if err != nil {
		return w.wrapError(err)
	}
	h, err := w.backend.Open(ctx, params)
	if err != nil {
		w.log.WithFields(w.fields()).Error("failed to connect to %s: %v", params.Display, err)
		return w.wrapError(err)
	}
	w.handle = h

	if err := w.SetAutocommit(ctx, w.settings.Autocommit, false); err != nil {
		w.discardHandle()
		return err
	}
	if err := w.backend.InitConnectionState(ctx, h, w.settings); err != nil {
		w.discardHandle()
		return w.wrapError(err)
	}
	w.CleanSavepoints()
	w.runOnCommit = nil

	w.log.WithFields(w.fields()).Info("connection established: %s", params.Display)
	w.notifyConnectionCreated(ctx)
	return nil
}

// discardHandle drops a handle whose initialization failed.
func (w *Wrapper) discardHandle() {
	if w.handle != nil {
		_ = w.handle.Close()
		w.handle = nil
	}
}

// EnsureConnection opens a connection unless one is already established.
func (w *Wrapper) EnsureConnection(ctx context.Context) error {
	if err := w.ValidateThreadSharing(); err != nil {
		return err
	}
	if w.handle != nil {
		return nil
	}
	return w.Connect(ctx)
}

// Close closes the physical connection. It is a no-op when already closed.
//
// Inside an atomic block the handle is kept and the wrapper is marked closed
// in transaction, so the outcome of the transaction isn't silently lost. The
// next Connect resets that state.
func (w *Wrapper) Close() error {
	if err := w.ValidateThreadSharing(); err != nil {
		return err
	}
	w.runOnCommit = nil

	// No validateNoAtomicBlock here: it must remain possible to get rid of
	// a connection in an invalid state.
	if w.closedInTransaction.Load() || w.handle == nil {
		return nil
	}
	err := w.handle.Close()
	if w.inAtomicBlock {
		w.closedInTransaction.Store(true)
		w.needsRollback = true
	} else {
		w.handle = nil
	}
	w.log.WithFields(w.fields()).Info("connection closed")
	if err != nil {
		return w.wrapError(err)
	}
	return nil
}

// IsUsable probes the connection. It never fails: a probe that errors or
// panics reports false.
func (w *Wrapper) IsUsable(ctx context.Context) (usable bool) {
	if w.handle == nil || w.handle.Closed() {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			w.log.WithFields(w.fields()).Warn("health probe panicked: %v", r)
			usable = false
		}
	}()
	return w.backend.IsUsable(ctx, w.handle)
}

// CloseIfUnusableOrObsolete closes the connection when its autocommit mode
// drifted from the configured one, when errors occurred and the health probe
// fails, or when it outlived its maximum age. It reports whether the
// connection was closed. The operation that revealed a problem is never
// retried.
func (w *Wrapper) CloseIfUnusableOrObsolete(ctx context.Context) (bool, error) {
	if err := w.ValidateThreadSharing(); err != nil {
		return false, err
	}
	// A connection closed in a transaction has nothing left to close.
	if w.handle == nil || w.closedInTransaction.Load() {
		return false, nil
	}
	ac, err := w.GetAutocommit(ctx)
	if err != nil {
		return false, err
	}
	if ac != w.settings.Autocommit {
		w.log.WithFields(w.fields()).Warn("autocommit mode changed, dropping the connection")
		return true, w.Close()
	}

	if w.errorsOccurred.Load() {
		if !w.IsUsable(ctx) {
			w.log.WithFields(w.fields()).Warn("connection is unusable, dropping it")
			return true, w.Close()
		}
		w.errorsOccurred.Store(false)
	}

	if w.hasCloseAt.Load() && w.now().UnixNano() >= w.closeAt.Load() {
		w.log.WithFields(w.fields()).Info("connection reached its maximum age")
		return true, w.Close()
	}
	return false, nil
}

// NodbConnection returns a wrapper for the same server without a database
// name, for operations such as creating or dropping the database itself.
func (w *Wrapper) NodbConnection() *Wrapper {
	s := w.settings.Clone()
	s.Name = ""
	return w.derive(s, NoDBAlias, false)
}

// Copy returns a new wrapper for the same database. alias defaults to the
// wrapper's own alias; opts are applied after the inherited configuration.
func (w *Wrapper) Copy(alias string, opts ...Option) *Wrapper {
	if alias == "" {
		alias = w.alias
	}
	c := w.derive(w.settings.Clone(), alias, w.allowThreadSharing)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (w *Wrapper) derive(s config.Settings, alias string, shared bool) *Wrapper {
	c := New(w.backend, s, alias, WithLogger(w.log), WithClock(w.now))
	c.observers = append([]ConnectionObserver(nil), w.observers...)
	c.middlewares = append([]ExecMiddleware(nil), w.middlewares...)
	c.allowThreadSharing = shared
	return c
}

// TemporaryConnection runs fn with a cursor. If no connection was open
// beforehand, the one opened for fn is closed afterwards.
func (w *Wrapper) TemporaryConnection(ctx context.Context, fn func(c *Cursor) error) (err error) {
	mustClose := w.handle == nil
	defer func() {
		if mustClose {
			if cerr := w.Close(); err == nil {
				err = cerr
			}
		}
	}()

	c, err := w.Cursor(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

// Timezone returns the location of datetimes read from the database, or nil
// when they are naive or the driver handles time zones itself.
func (w *Wrapper) Timezone() (*time.Location, error) {
	if !w.settings.UseTZ || w.backend.Features().SupportsTimezones {
		return nil, nil
	}
	if w.settings.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(w.settings.TimeZone)
	if err != nil {
		return nil, dberr.Improperlyf(w.alias, "cannot load TIME_ZONE %q: %v", w.settings.TimeZone, err)
	}
	return loc, nil
}

// TimezoneName is the name of the zone the connection uses for naive
// datetimes.
func (w *Wrapper) TimezoneName() string {
	return dialect.TimezoneName(w.settings)
}
