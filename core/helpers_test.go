package core

import (
	"context"
	"testing"
	"time"

	"github.com/shrek82/jconn/config"
	"github.com/shrek82/jconn/dialect"
	"github.com/shrek82/jconn/logger"
)

// fakeBackend is the SQLite backend with switches for behavior that a real
// in-memory database can't produce on demand.
type fakeBackend struct {
	dialect.Backend
	features    *dialect.Features
	policy      *dialect.BeginPolicy
	usable      bool
	probePanics bool
	opens       int
	prepared    int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{Backend: dialect.NewSQLite3(), usable: true}
}

// newPgLikeBackend behaves like a server database: autocommit off opens a
// transaction before the first statement.
func newPgLikeBackend() *fakeBackend {
	fb := newFakeBackend()
	policy := dialect.BeginOnFirstStatement
	fb.policy = &policy
	fb.features = &dialect.Features{UsesSavepoints: true}
	return fb
}

func (f *fakeBackend) Features() dialect.Features {
	if f.features != nil {
		return *f.features
	}
	return f.Backend.Features()
}

func (f *fakeBackend) Open(ctx context.Context, p dialect.Params) (*dialect.Handle, error) {
	f.opens++
	if f.policy != nil {
		return dialect.OpenHandle(ctx, p.Driver, p.DSN, *f.policy)
	}
	return f.Backend.Open(ctx, p)
}

func (f *fakeBackend) IsUsable(ctx context.Context, h *dialect.Handle) bool {
	if f.probePanics {
		panic("probe exploded")
	}
	return f.usable
}

func (f *fakeBackend) PrepareDatabase(ctx context.Context, h *dialect.Handle) error {
	f.prepared++
	return nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func memorySettings() config.Settings {
	s := config.Defaults()
	s.Name = ":memory:"
	return s
}

// newTestWrapper returns a connected wrapper with an "items" table. It must
// be called from the goroutine that uses the wrapper.
func newTestWrapper(t *testing.T, fb *fakeBackend, s config.Settings, opts ...Option) *Wrapper {
	t.Helper()
	opts = append([]Option{WithLogger(logger.Nop())}, opts...)
	w := New(fb, s, "default", opts...)
	t.Cleanup(func() { _ = w.Close() })
	mustExec(t, w, "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)")
	return w
}

func mustExec(t *testing.T, w *Wrapper, query string, args ...any) {
	t.Helper()
	c, err := w.Cursor(context.Background())
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	defer c.Close()
	if _, err := c.Exec(context.Background(), query, args...); err != nil {
		t.Fatalf("%s: %v", query, err)
	}
}

func exec(w *Wrapper, query string, args ...any) error {
	c, err := w.Cursor(context.Background())
	if err != nil {
		return err
	}
	defer c.Close()
	_, err = c.Exec(context.Background(), query, args...)
	return err
}

func countItems(t *testing.T, w *Wrapper) int {
	t.Helper()
	c, err := w.Cursor(context.Background())
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	defer c.Close()
	var n int
	if err := c.QueryRow(context.Background(), "SELECT count(*) FROM items").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
