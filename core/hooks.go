package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/shrek82/jconn/dberr"
)

// ErrCommitHook wraps the error of a failed commit hook. The transaction the
// hook was attached to is committed when it is returned.
var ErrCommitHook = errors.New("commit hook failed")

type commitHook struct {
	// savepoints active when the hook was registered
	sids map[string]struct{}
	fn   func() error
}

// OnCommit registers fn to run after the current transaction commits.
//
// Inside an atomic block the hook is queued together with the active
// savepoints. In autocommit mode there is nothing to wait for and fn runs
// before OnCommit returns. With autocommit off and no atomic block there is
// no defined trigger, which is a TransactionManagementError.
func (w *Wrapper) OnCommit(ctx context.Context, fn func() error) error {
	if err := w.ValidateThreadSharing(); err != nil {
		return err
	}
	if w.inAtomicBlock {
		sids := make(map[string]struct{}, len(w.savepointIDs))
		for _, sid := range w.savepointIDs {
			sids[sid] = struct{}{}
		}
		w.runOnCommit = append(w.runOnCommit, commitHook{sids: sids, fn: fn})
		return nil
	}
	ac, err := w.GetAutocommit(ctx)
	if err != nil {
		return err
	}
	if !ac {
		return dberr.TransactionManagement("OnCommit cannot be used in manual transaction management")
	}
	if err := w.callHook(fn); err != nil {
		return fmt.Errorf("%w: %w", ErrCommitHook, err)
	}
	return nil
}

// PendingCommitHooks returns the number of queued hooks.
func (w *Wrapper) PendingCommitHooks() int { return len(w.runOnCommit) }

// RunAndClearCommitHooks runs the queued hooks in registration order. Every
// hook runs even if an earlier one fails; the first failure is returned and
// the others are logged. The queue is empty afterwards in all cases.
func (w *Wrapper) RunAndClearCommitHooks() error {
	if err := w.ValidateNoAtomicBlock(); err != nil {
		return err
	}
	hooks := w.runOnCommit
	w.runOnCommit = nil

	var first error
	for i, h := range hooks {
		err := w.callHook(h.fn)
		if err == nil {
			continue
		}
		if first == nil {
			first = err
			continue
		}
		w.log.WithFields(w.fields()).Error("commit hook %d of %d failed: %v", i+1, len(hooks), err)
	}
	if first != nil {
		return fmt.Errorf("%w: %w", ErrCommitHook, first)
	}
	return nil
}

func (w *Wrapper) callHook(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
