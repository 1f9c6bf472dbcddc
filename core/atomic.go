package core

import (
	"context"
	"fmt"

	"github.com/shrek82/jconn/dberr"
)

// AtomicOption configures a single Atomic call.
type AtomicOption func(*atomicBlock)

// WithoutSavepoint makes a nested block share the enclosing transaction: an
// error marks the whole transaction for rollback instead of rolling back to
// a savepoint.
func WithoutSavepoint() AtomicOption {
	return func(a *atomicBlock) { a.savepoint = false }
}

type atomicBlock struct {
	savepoint bool
	// nested is set when the block pushed an entry on the savepoint stack,
	// at index depth.
	nested bool
	depth  int
	// adopted is set when the block turned inAtomicBlock on for a manual
	// transaction.
	adopted bool
}

// Atomic runs fn in a transaction.
//
// The outermost block turns autocommit off and commits when fn returns nil,
// or rolls back when fn fails or panics. Nested blocks use a savepoint so an
// inner failure only undoes the inner work. When autocommit is already off,
// the outermost block only uses savepoints and leaves the commit to the
// caller. The error of fn is returned unchanged; a failure to commit is
// returned when fn succeeded.
func (w *Wrapper) Atomic(ctx context.Context, fn func(ctx context.Context) error, opts ...AtomicOption) (err error) {
	a := &atomicBlock{savepoint: true}
	for _, opt := range opts {
		opt(a)
	}
	if err := w.ValidateThreadSharing(); err != nil {
		return err
	}
	if err := w.enterAtomic(ctx, a); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			if exitErr := w.exitAtomic(ctx, a, fmt.Errorf("panic: %v", r)); exitErr != nil {
				w.log.WithFields(w.fields()).Error("failed to leave atomic block after panic: %v", exitErr)
			}
			panic(r)
		}
	}()

	fnErr := fn(ctx)
	exitErr := w.exitAtomic(ctx, a, fnErr)
	if fnErr != nil {
		if exitErr != nil {
			w.log.WithFields(w.fields()).Error("failed to leave atomic block: %v", exitErr)
		}
		return fnErr
	}
	return exitErr
}

func (w *Wrapper) enterAtomic(ctx context.Context, a *atomicBlock) error {
	if !w.inAtomicBlock {
		// Reset state when entering an outermost atomic block.
		w.commitOnExit = true
		w.needsRollback = false
		ac, err := w.GetAutocommit(ctx)
		if err != nil {
			return err
		}
		if !ac {
			// Turning autocommit back on would commit prematurely, so a
			// backend that ignores autocommit=off can't be used here.
			if w.backend.Features().AutocommitsWhenAutocommitIsOff {
				return dberr.TransactionManagement("the database backend doesn't behave properly when " +
					"autocommit is off. Turn it on before using 'atomic'")
			}
			// Only use savepoints and don't commit.
			w.inAtomicBlock = true
			w.commitOnExit = false
			a.adopted = true
		}
	}

	if !w.inAtomicBlock {
		if err := w.SetAutocommit(ctx, false, true); err != nil {
			return err
		}
		w.inAtomicBlock = true
		return nil
	}

	a.nested = true
	a.depth = len(w.savepointIDs)
	if a.savepoint && !w.needsRollback {
		if _, err := w.Savepoint(ctx); err != nil {
			if a.adopted {
				w.inAtomicBlock = false
			}
			return err
		}
	}
	if len(w.savepointIDs) == a.depth {
		w.savepointIDs = append(w.savepointIDs, NoSavepoint)
	}
	return nil
}

func (w *Wrapper) exitAtomic(ctx context.Context, a *atomicBlock, fnErr error) (err error) {
	sid := NoSavepoint
	if a.nested {
		if len(w.savepointIDs) > a.depth {
			sid = w.savepointIDs[a.depth]
			w.savepointIDs = w.savepointIDs[:a.depth]
		}
	} else {
		// Unset early so that Commit and Rollback are allowed.
		w.inAtomicBlock = false
	}

	defer func() {
		switch {
		case !w.inAtomicBlock:
			// Outermost block exit when autocommit was enabled.
			if w.closedInTransaction.Load() {
				w.handle = nil
			} else if acErr := w.SetAutocommit(ctx, true, false); acErr != nil && err == nil {
				err = acErr
			}
		case len(w.savepointIDs) == 0 && !w.commitOnExit:
			// Outermost block exit when autocommit was disabled.
			if w.closedInTransaction.Load() {
				w.handle = nil
			} else {
				w.inAtomicBlock = false
			}
		}
	}()

	switch {
	case w.closedInTransaction.Load():
		// The database rolls back by itself. Wait until the outermost block
		// exits.
		return nil

	case fnErr == nil && !w.needsRollback:
		if w.inAtomicBlock {
			if sid == NoSavepoint {
				return nil
			}
			if cerr := w.SavepointCommit(ctx, sid); cerr != nil {
				if rerr := w.SavepointRollback(ctx, sid); rerr != nil {
					w.needsRollback = true
				} else if rerr := w.SavepointCommit(ctx, sid); rerr != nil {
					w.needsRollback = true
				}
				return cerr
			}
			return nil
		}
		if cerr := w.Commit(ctx); cerr != nil {
			if rerr := w.Rollback(ctx); rerr != nil {
				// Something is wrong with the connection, drop it.
				_ = w.Close()
			}
			return cerr
		}
		return nil

	default:
		// Set again below when there's no savepoint to roll back to.
		w.needsRollback = false
		if w.inAtomicBlock {
			if sid == NoSavepoint {
				w.needsRollback = true
				return nil
			}
			if rerr := w.SavepointRollback(ctx, sid); rerr != nil {
				w.needsRollback = true
			} else if rerr := w.SavepointCommit(ctx, sid); rerr != nil {
				w.needsRollback = true
			}
			return nil
		}
		if rerr := w.Rollback(ctx); rerr != nil {
			_ = w.Close()
		}
		return nil
	}
}
