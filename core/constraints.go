package core

import (
	"context"

	"github.com/shrek82/jconn/dialect"
)

// Preparer is implemented by backends that need to check or prepare the
// database before schema changes are applied.
type Preparer interface {
	PrepareDatabase(ctx context.Context, h *dialect.Handle) error
}

// PrepareDatabase runs the backend's preparation hook, if it has one.
func (w *Wrapper) PrepareDatabase(ctx context.Context) error {
	if err := w.ValidateThreadSharing(); err != nil {
		return err
	}
	p, ok := w.backend.(Preparer)
	if !ok {
		return nil
	}
	if err := w.EnsureConnection(ctx); err != nil {
		return err
	}
	return w.wrapError(p.PrepareDatabase(ctx, w.handle))
}

// DisableConstraintChecking turns foreign key checks off. It reports whether
// they were disabled and need to be enabled again.
func (w *Wrapper) DisableConstraintChecking(ctx context.Context) (bool, error) {
	if err := w.ValidateThreadSharing(); err != nil {
		return false, err
	}
	if err := w.EnsureConnection(ctx); err != nil {
		return false, err
	}
	disabled, err := w.backend.DisableConstraintChecking(ctx, w.handle)
	return disabled, w.wrapError(err)
}

// EnableConstraintChecking turns foreign key checks back on.
func (w *Wrapper) EnableConstraintChecking(ctx context.Context) error {
	if err := w.ValidateThreadSharing(); err != nil {
		return err
	}
	if err := w.EnsureConnection(ctx); err != nil {
		return err
	}
	return w.wrapError(w.backend.EnableConstraintChecking(ctx, w.handle))
}

// ConstraintChecksDisabled runs fn with constraint checks disabled, enabling
// them again afterwards if they were disabled.
func (w *Wrapper) ConstraintChecksDisabled(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	disabled, err := w.DisableConstraintChecking(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if !disabled {
			return
		}
		if enableErr := w.EnableConstraintChecking(ctx); err == nil {
			err = enableErr
		}
	}()
	return fn(ctx)
}

// CheckConstraints reports rows violating foreign keys in the given tables,
// or in all tables when none are given. It's meant for data loaded while
// checks were disabled.
func (w *Wrapper) CheckConstraints(ctx context.Context, tables ...string) error {
	if err := w.ValidateThreadSharing(); err != nil {
		return err
	}
	if err := w.EnsureConnection(ctx); err != nil {
		return err
	}
	return w.wrapError(w.backend.CheckConstraints(ctx, w.handle, tables))
}
