package core

import (
	"context"
	"time"

	"github.com/shrek82/jconn/dberr"
)

// TxState is the externally visible state of the transaction state machine.
type TxState int

const (
	StateAutocommit TxState = iota
	// StateManualIdle: autocommit off, no atomic block.
	StateManualIdle
	StateInAtomic
	// StateNeedsRollback overlays the other states until a rollback clears it.
	StateNeedsRollback
)

func (s TxState) String() string {
	switch s {
	case StateAutocommit:
		return "AUTOCOMMIT"
	case StateManualIdle:
		return "MANUAL_TXN_IDLE"
	case StateInAtomic:
		return "IN_ATOMIC"
	case StateNeedsRollback:
		return "NEEDS_ROLLBACK"
	}
	return "UNKNOWN"
}

// State reports the current state without touching the connection.
func (w *Wrapper) State() TxState {
	switch {
	case w.needsRollback:
		return StateNeedsRollback
	case w.inAtomicBlock:
		return StateInAtomic
	case w.autocommit:
		return StateAutocommit
	}
	return StateManualIdle
}

// GetAutocommit returns the autocommit mode, connecting first if needed.
func (w *Wrapper) GetAutocommit(ctx context.Context) (bool, error) {
	if err := w.EnsureConnection(ctx); err != nil {
		return false, err
	}
	return w.autocommit, nil
}

// SetAutocommit enables or disables autocommit.
//
// Turning autocommit off is the usual way to start a transaction. Some
// drivers keep committing every statement anyway; with
// forceBeginUnderBrokenAutocommit set, such backends get an explicit BEGIN
// instead. The flag is ignored for other backends.
func (w *Wrapper) SetAutocommit(ctx context.Context, autocommit, forceBeginUnderBrokenAutocommit bool) error {
	if err := w.ValidateThreadSharing(); err != nil {
		return err
	}
	if err := w.ValidateNoAtomicBlock(); err != nil {
		return err
	}
	if err := w.EnsureConnection(ctx); err != nil {
		return err
	}

	startUnderAutocommit := forceBeginUnderBrokenAutocommit &&
		!autocommit &&
		w.backend.Features().AutocommitsWhenAutocommitIsOff

	var err error
	if startUnderAutocommit {
		start := time.Now()
		err = w.backend.StartTransactionUnderAutocommit(ctx, w.handle)
		w.logSQL("BEGIN", time.Since(start))
	} else {
		err = w.backend.SetAutocommit(ctx, w.handle, autocommit)
	}
	if err != nil {
		return w.wrapError(err)
	}
	w.autocommit = autocommit

	if autocommit && w.runCommitHooksOnAutocommitOn {
		w.runCommitHooksOnAutocommitOn = false
		return w.RunAndClearCommitHooks()
	}
	return nil
}

// GetRollback returns the needs-rollback flag. Only valid inside an atomic
// block.
func (w *Wrapper) GetRollback() (bool, error) {
	if err := w.ValidateThreadSharing(); err != nil {
		return false, err
	}
	if !w.inAtomicBlock {
		return false, dberr.TransactionManagement("the rollback flag doesn't work outside of an 'atomic' block")
	}
	return w.needsRollback, nil
}

// SetRollback forces (or cancels) a rollback when the innermost atomic block
// exits. Only valid inside an atomic block.
func (w *Wrapper) SetRollback(rollback bool) error {
	if err := w.ValidateThreadSharing(); err != nil {
		return err
	}
	if !w.inAtomicBlock {
		return dberr.TransactionManagement("the rollback flag doesn't work outside of an 'atomic' block")
	}
	w.needsRollback = rollback
	return nil
}

// ValidateNoAtomicBlock fails when an atomic block owns the connection.
func (w *Wrapper) ValidateNoAtomicBlock() error {
	if w.inAtomicBlock {
		return dberr.TransactionManagement("this is forbidden when an 'atomic' block is active")
	}
	return nil
}

// ValidateNoBrokenTransaction fails while the transaction needs a rollback.
func (w *Wrapper) ValidateNoBrokenTransaction() error {
	if w.needsRollback {
		return dberr.TransactionManagement("an error occurred in the current transaction. " +
			"You can't execute queries until the end of the 'atomic' block")
	}
	return nil
}

// Commit commits the current transaction.
//
// Commit hooks fire the next time autocommit is turned on. When autocommit
// is already on they fire right away; an ErrCommitHook error then means the
// commit itself succeeded.
func (w *Wrapper) Commit(ctx context.Context) error {
	if err := w.ValidateThreadSharing(); err != nil {
		return err
	}
	if err := w.ValidateNoAtomicBlock(); err != nil {
		return err
	}
	if w.handle != nil {
		start := time.Now()
		err := w.handle.Commit(ctx)
		w.logSQL("COMMIT", time.Since(start))
		if err != nil {
			return w.wrapError(err)
		}
	}
	// A successful commit means that the connection works.
	w.errorsOccurred.Store(false)
	w.runCommitHooksOnAutocommitOn = true

	if w.autocommit {
		w.runCommitHooksOnAutocommitOn = false
		return w.RunAndClearCommitHooks()
	}
	return nil
}

// Rollback rolls back the current transaction and discards every pending
// commit hook.
func (w *Wrapper) Rollback(ctx context.Context) error {
	if err := w.ValidateThreadSharing(); err != nil {
		return err
	}
	if err := w.ValidateNoAtomicBlock(); err != nil {
		return err
	}
	if w.handle != nil {
		start := time.Now()
		err := w.handle.Rollback(ctx)
		w.logSQL("ROLLBACK", time.Since(start))
		if err != nil {
			w.runOnCommit = nil
			return w.wrapError(err)
		}
	}
	// A successful rollback means that the connection works.
	w.errorsOccurred.Store(false)
	w.runOnCommit = nil
	return nil
}
