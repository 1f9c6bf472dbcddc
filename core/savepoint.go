package core

import (
	"context"
	"fmt"

	"github.com/petermattis/goid"
)

// NoSavepoint is returned by Savepoint when no savepoint was created, and is
// accepted as a no-op by SavepointRollback and SavepointCommit.
const NoSavepoint = ""

// Savepoints can't be created outside a transaction.
func (w *Wrapper) savepointAllowed(ctx context.Context) (bool, error) {
	if !w.backend.Features().UsesSavepoints {
		return false, nil
	}
	ac, err := w.GetAutocommit(ctx)
	if err != nil {
		return false, err
	}
	return !ac, nil
}

// Savepoint creates a savepoint inside the current transaction and returns
// its id. The id embeds the calling goroutine's id and a counter, so ids
// never repeat for the lifetime of the connection. It returns NoSavepoint
// when the backend doesn't support savepoints or no transaction is open.
func (w *Wrapper) Savepoint(ctx context.Context) (string, error) {
	if err := w.ValidateThreadSharing(); err != nil {
		return NoSavepoint, err
	}
	allowed, err := w.savepointAllowed(ctx)
	if err != nil || !allowed {
		return NoSavepoint, err
	}

	w.savepointState++
	sid := fmt.Sprintf("s%d_x%d", goid.Get(), w.savepointState)

	if err := w.execInternal(ctx, w.backend.SavepointCreateSQL(sid)); err != nil {
		return NoSavepoint, err
	}
	if w.inAtomicBlock {
		w.savepointIDs = append(w.savepointIDs, sid)
	}
	return sid, nil
}

// SavepointRollback rolls back to sid. Commit hooks registered while sid
// was active are discarded, since the work that justified them is undone.
func (w *Wrapper) SavepointRollback(ctx context.Context, sid string) error {
	if sid == NoSavepoint {
		return nil
	}
	if err := w.ValidateThreadSharing(); err != nil {
		return err
	}
	allowed, err := w.savepointAllowed(ctx)
	if err != nil || !allowed {
		return err
	}
	if err := w.execInternal(ctx, w.backend.SavepointRollbackSQL(sid)); err != nil {
		return err
	}

	kept := w.runOnCommit[:0]
	for _, h := range w.runOnCommit {
		if _, ok := h.sids[sid]; !ok {
			kept = append(kept, h)
		}
	}
	clear(w.runOnCommit[len(kept):])
	w.runOnCommit = kept
	w.popSavepoint(sid)
	return nil
}

// SavepointCommit releases sid. Commit hooks registered under it stay queued
// for the enclosing transaction.
func (w *Wrapper) SavepointCommit(ctx context.Context, sid string) error {
	if sid == NoSavepoint {
		return nil
	}
	if err := w.ValidateThreadSharing(); err != nil {
		return err
	}
	allowed, err := w.savepointAllowed(ctx)
	if err != nil || !allowed {
		return err
	}
	if err := w.execInternal(ctx, w.backend.SavepointCommitSQL(sid)); err != nil {
		return err
	}
	w.popSavepoint(sid)
	return nil
}

// CleanSavepoints resets the counter used to generate savepoint ids.
func (w *Wrapper) CleanSavepoints() {
	w.savepointState = 0
}

// SavepointIDs returns a copy of the savepoint stack, innermost last.
func (w *Wrapper) SavepointIDs() []string {
	return append([]string(nil), w.savepointIDs...)
}

// popSavepoint removes sid and every savepoint taken after it.
func (w *Wrapper) popSavepoint(sid string) {
	for i := len(w.savepointIDs) - 1; i >= 0; i-- {
		if w.savepointIDs[i] == sid {
			w.savepointIDs = w.savepointIDs[:i]
			return
		}
	}
}

func (w *Wrapper) execInternal(ctx context.Context, query string) error {
	c, err := w.Cursor(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	_, err = c.Exec(ctx, query)
	return err
}
