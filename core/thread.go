package core

import (
	"github.com/petermattis/goid"

	"github.com/shrek82/jconn/dberr"
)

// OwnerID returns the id of the goroutine that created the wrapper.
func (w *Wrapper) OwnerID() int64 { return w.ownerID }

// ValidateThreadSharing rejects use from a goroutine other than the owner,
// unless thread sharing is allowed. It doesn't serialize anything.
func (w *Wrapper) ValidateThreadSharing() error {
	if w.allowThreadSharing {
		return nil
	}
	if caller := goid.Get(); caller != w.ownerID {
		return &dberr.ConnectionStateError{Alias: w.alias, OwnerID: w.ownerID, CallerID: caller}
	}
	return nil
}
