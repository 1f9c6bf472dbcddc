// Package pool maps database aliases to per-goroutine connection wrappers,
// the way a request-scoped server hands connections to its handlers.
package pool

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/petermattis/goid"

	"github.com/shrek82/jconn/config"
	"github.com/shrek82/jconn/core"
	"github.com/shrek82/jconn/dberr"
)

type key struct {
	gid   int64
	alias string
}

// Handler hands out one wrapper per goroutine and alias. It does not size or
// limit anything; a wrapper lives until CloseAll is called from its goroutine.
type Handler struct {
	cfg  *config.Config
	opts []core.Option

	mu    sync.Mutex
	conns map[key]*core.Wrapper
}

// New creates a handler for the databases in cfg. opts are applied to every
// wrapper it creates.
func New(cfg *config.Config, opts ...core.Option) *Handler {
	return &Handler{
		cfg:   cfg,
		opts:  opts,
		conns: make(map[key]*core.Wrapper),
	}
}

// Aliases returns the configured aliases, sorted.
func (h *Handler) Aliases() []string {
	aliases := make([]string, 0, len(h.cfg.Databases))
	for alias := range h.cfg.Databases {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

// Get returns the calling goroutine's wrapper for alias, creating it on first
// use. The wrapper connects lazily.
func (h *Handler) Get(alias string) (*core.Wrapper, error) {
	if alias == "" {
		alias = config.DefaultAlias
	}
	k := key{gid: goid.Get(), alias: alias}

	h.mu.Lock()
	defer h.mu.Unlock()
	if w, ok := h.conns[k]; ok {
		return w, nil
	}

	s, ok := h.cfg.Databases[alias]
	if !ok {
		return nil, dberr.Improperlyf(alias, "the connection '%s' doesn't exist", alias)
	}
	s.UseTZ = h.cfg.UseTZ
	s.Debug = s.Debug || h.cfg.Debug

	w, err := core.Open(s, alias, h.opts...)
	if err != nil {
		return nil, err
	}
	h.conns[k] = w
	return w, nil
}

func (h *Handler) owned() []*core.Wrapper {
	gid := goid.Get()
	h.mu.Lock()
	defer h.mu.Unlock()
	var ws []*core.Wrapper
	for k, w := range h.conns {
		if k.gid == gid {
			ws = append(ws, w)
		}
	}
	return ws
}

// CloseOld closes the calling goroutine's connections that are broken or past
// their max age. Call it at the start and end of every request.
func (h *Handler) CloseOld(ctx context.Context) error {
	var errs []error
	for _, w := range h.owned() {
		if _, err := w.CloseIfUnusableOrObsolete(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Scope runs fn between two CloseOld passes.
func (h *Handler) Scope(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := h.CloseOld(ctx); err != nil {
		return err
	}
	err := fn(ctx)
	return errors.Join(err, h.CloseOld(ctx))
}

// CloseAll closes and forgets the calling goroutine's wrappers.
func (h *Handler) CloseAll() error {
	gid := goid.Get()
	h.mu.Lock()
	var ws []*core.Wrapper
	for k, w := range h.conns {
		if k.gid == gid {
			ws = append(ws, w)
			delete(h.conns, k)
		}
	}
	h.mu.Unlock()

	var errs []error
	for _, w := range ws {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stat is the health of one wrapper as seen from outside its goroutine.
type Stat struct {
	Alias               string
	OwnerID             int64
	ErrorsOccurred      bool
	ClosedInTransaction bool
	CloseAt             time.Time // zero when the connection never expires
}

// Stats reports every wrapper the handler holds, across goroutines. It only
// reads the fields a wrapper publishes atomically.
func (h *Handler) Stats() []Stat {
	h.mu.Lock()
	defer h.mu.Unlock()
	stats := make([]Stat, 0, len(h.conns))
	for _, w := range h.conns {
		st := Stat{
			Alias:               w.Alias(),
			OwnerID:             w.OwnerID(),
			ErrorsOccurred:      w.ErrorsOccurred(),
			ClosedInTransaction: w.ClosedInTransaction(),
		}
		if t, ok := w.CloseAt(); ok {
			st.CloseAt = t
		}
		stats = append(stats, st)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Alias != stats[j].Alias {
			return stats[i].Alias < stats[j].Alias
		}
		return stats[i].OwnerID < stats[j].OwnerID
	})
	return stats
}
