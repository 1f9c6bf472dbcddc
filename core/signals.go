package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ConnectionEvent is sent to observers after a connection is established.
type ConnectionEvent struct {
	ID       uuid.UUID `json:"id"`
	Alias    string    `json:"alias"`
	Vendor   string    `json:"vendor"`
	Database string    `json:"database,omitempty"`
	At       time.Time `json:"at"`
}

// ConnectionObserver is notified of new connections. Notifications are fire
// and forget: the return of ConnectionCreated is not awaited for anything
// and a panic is logged and swallowed.
type ConnectionObserver interface {
	ConnectionCreated(ctx context.Context, ev ConnectionEvent)
}

// ObserverFunc adapts a function to ConnectionObserver.
type ObserverFunc func(ctx context.Context, ev ConnectionEvent)

func (f ObserverFunc) ConnectionCreated(ctx context.Context, ev ConnectionEvent) { f(ctx, ev) }

func (w *Wrapper) notifyConnectionCreated(ctx context.Context) {
	if len(w.observers) == 0 {
		return
	}
	ev := ConnectionEvent{
		ID:       uuid.New(),
		Alias:    w.alias,
		Vendor:   w.backend.Vendor(),
		Database: w.settings.Name,
		At:       w.now(),
	}
	for _, o := range w.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.log.WithFields(w.fields()).Error("connection observer panicked: %v", r)
				}
			}()
			o.ConnectionCreated(ctx, ev)
		}()
	}
}
