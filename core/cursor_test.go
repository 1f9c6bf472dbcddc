package core

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/shrek82/jconn/dberr"
	"github.com/shrek82/jconn/logger"
)

func TestThreadSharing(t *testing.T) {
	ctx := context.Background()

	t.Run("Rejected", func(t *testing.T) {
		w := newTestWrapper(t, newFakeBackend(), memorySettings())
		if w.OwnerID() == 0 {
			t.Fatalf("goroutine id not available on this runtime")
		}
		errc := make(chan error)
		go func() {
			_, err := w.Cursor(ctx)
			errc <- err
		}()
		err := <-errc

		var stateErr *dberr.ConnectionStateError
		if !errors.As(err, &stateErr) {
			t.Fatalf("expected connection state error, got %v", err)
		}
		if stateErr.OwnerID != w.OwnerID() || stateErr.CallerID == w.OwnerID() || stateErr.Alias != "default" {
			t.Errorf("unexpected error details: %+v", stateErr)
		}
		msg := err.Error()
		if !strings.Contains(msg, fmt.Sprint(stateErr.OwnerID)) || !strings.Contains(msg, fmt.Sprint(stateErr.CallerID)) {
			t.Errorf("message must name both goroutines: %s", msg)
		}
		if errors.Is(err, dberr.ErrTransactionManagement) {
			t.Errorf("thread errors are distinct from transaction errors")
		}
	})

	t.Run("EveryEntryPoint", func(t *testing.T) {
		w := newTestWrapper(t, newFakeBackend(), memorySettings())
		errc := make(chan []error)
		go func() {
			_, spErr := w.Savepoint(ctx)
			errc <- []error{
				w.Commit(ctx),
				w.Rollback(ctx),
				w.Close(),
				w.SetAutocommit(ctx, true, false),
				w.OnCommit(ctx, func() error { return nil }),
				w.Atomic(ctx, func(ctx context.Context) error { return nil }),
				spErr,
			}
		}()
		for i, err := range <-errc {
			if !errors.Is(err, dberr.ErrConnectionState) {
				t.Errorf("call %d: expected connection state error, got %v", i, err)
			}
		}
	})

	t.Run("OwnerStateUntouched", func(t *testing.T) {
		fb := newFakeBackend()
		w := newTestWrapper(t, fb, memorySettings())
		err := w.Atomic(ctx, func(ctx context.Context) error {
			sid, err := w.Savepoint(ctx)
			if err != nil {
				return err
			}
			handle := w.Handle()

			errc := make(chan []error)
			go func() {
				_, getErr := w.GetRollback()
				_, acErr := w.GetAutocommit(ctx)
				_, closeErr := w.CloseIfUnusableOrObsolete(ctx)
				errc <- []error{
					w.Connect(ctx),
					w.EnsureConnection(ctx),
					w.SetRollback(true),
					getErr,
					acErr,
					closeErr,
					w.PrepareDatabase(ctx),
				}
			}()
			for i, err := range <-errc {
				if !errors.Is(err, dberr.ErrConnectionState) {
					t.Errorf("call %d: expected connection state error, got %v", i, err)
				}
			}

			if !w.InAtomicBlock() || w.NeedsRollback() {
				t.Errorf("atomic state changed: inAtomic=%v needsRollback=%v", w.InAtomicBlock(), w.NeedsRollback())
			}
			if ids := w.SavepointIDs(); len(ids) != 1 || ids[0] != sid {
				t.Errorf("savepoints changed: %v", ids)
			}
			if w.Handle() != handle || handle.Closed() || fb.opens != 1 || fb.prepared != 0 {
				t.Errorf("handle replaced or touched, opens = %d", fb.opens)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Atomic failed: %v", err)
		}
	})

	t.Run("Allowed", func(t *testing.T) {
		w := newTestWrapper(t, newFakeBackend(), memorySettings(), WithThreadSharing())
		errc := make(chan error)
		go func() {
			errc <- exec(w, "INSERT INTO items (name) VALUES ('a')")
		}()
		if err := <-errc; err != nil {
			t.Fatalf("shared wrapper refused: %v", err)
		}
		if n := countItems(t, w); n != 1 {
			t.Errorf("expected 1 row, got %d", n)
		}
	})
}

func TestCursor(t *testing.T) {
	ctx := context.Background()

	t.Run("QueryRow", func(t *testing.T) {
		w := newTestWrapper(t, newFakeBackend(), memorySettings())
		mustExec(t, w, "INSERT INTO items (name) VALUES (?)", "alpha")
		c, err := w.Cursor(ctx)
		if err != nil {
			t.Fatalf("Cursor failed: %v", err)
		}
		defer c.Close()

		var name string
		if err := c.QueryRow(ctx, "SELECT name FROM items WHERE id = ?", 1).Scan(&name); err != nil || name != "alpha" {
			t.Errorf("got %q, %v", name, err)
		}
		if err := c.QueryRow(ctx, "SELECT name FROM items WHERE id = ?", 99).Scan(&name); !errors.Is(err, sql.ErrNoRows) {
			t.Errorf("expected sql.ErrNoRows, got %v", err)
		}
		row := c.QueryRow(ctx, "SELECT nope FROM items")
		if row.Err() == nil || !errors.Is(row.Scan(&name), dberr.ErrDatabase) {
			t.Errorf("query error must surface through Scan")
		}
	})

	t.Run("Query", func(t *testing.T) {
		w := newTestWrapper(t, newFakeBackend(), memorySettings())
		for _, n := range []string{"a", "b", "c"} {
			mustExec(t, w, "INSERT INTO items (name) VALUES (?)", n)
		}
		c, _ := w.Cursor(ctx)
		defer c.Close()
		rows, err := c.Query(ctx, "SELECT name FROM items ORDER BY id")
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		defer rows.Close()
		var names []string
		for rows.Next() {
			var n string
			if err := rows.Scan(&n); err != nil {
				t.Fatal(err)
			}
			names = append(names, n)
		}
		if strings.Join(names, ",") != "a,b,c" {
			t.Errorf("names = %v", names)
		}
	})

	t.Run("Closed", func(t *testing.T) {
		w := newTestWrapper(t, newFakeBackend(), memorySettings())
		c, _ := w.Cursor(ctx)
		_ = c.Close()
		if _, err := c.Exec(ctx, "SELECT 1"); !errors.Is(err, ErrCursorClosed) || !errors.Is(err, dberr.ErrInterface) {
			t.Errorf("expected cursor closed error, got %v", err)
		}
	})

	t.Run("ErrorKinds", func(t *testing.T) {
		w := newTestWrapper(t, newFakeBackend(), memorySettings())
		err := exec(w, "SELECT * FROM missing")
		var dbErr *dberr.DatabaseError
		if !errors.As(err, &dbErr) || dbErr.Vendor != "sqlite" || dbErr.Code == "" {
			t.Errorf("expected a classified database error, got %v", err)
		}
	})
}

func TestQueryLog(t *testing.T) {
	ctx := context.Background()

	t.Run("Debug", func(t *testing.T) {
		var buf bytes.Buffer
		l := logger.NewStdLogger()
		l.SetOutput(&buf)
		s := memorySettings()
		s.Debug = true
		w := newTestWrapper(t, newFakeBackend(), s, WithLogger(l))

		mustExec(t, w, "INSERT INTO items (name) VALUES (?)", "a")
		qs := w.Queries()
		if len(qs) != 2 {
			t.Fatalf("expected 2 logged queries, got %d", len(qs))
		}
		if qs[1].SQL != "INSERT INTO items (name) VALUES (?)" || len(qs[1].Args) != 1 {
			t.Errorf("unexpected record: %+v", qs[1])
		}
		if !strings.Contains(buf.String(), "INSERT INTO items") {
			t.Errorf("SQL not sent to the logger: %s", buf.String())
		}

		w.ResetQueries()
		if len(w.Queries()) != 0 {
			t.Errorf("ResetQueries did not empty the log")
		}
	})

	t.Run("Disabled", func(t *testing.T) {
		w := newTestWrapper(t, newFakeBackend(), memorySettings())
		mustExec(t, w, "INSERT INTO items (name) VALUES ('a')")
		if len(w.Queries()) != 0 {
			t.Errorf("queries logged outside debug mode")
		}
		w.SetForceDebugCursor(true)
		if err := w.Atomic(ctx, func(ctx context.Context) error {
			return exec(w, "INSERT INTO items (name) VALUES ('b')")
		}); err != nil {
			t.Fatal(err)
		}
		var got []string
		for _, q := range w.Queries() {
			got = append(got, q.SQL)
		}
		want := "BEGIN|INSERT INTO items (name) VALUES ('b')|COMMIT"
		if strings.Join(got, "|") != want {
			t.Errorf("logged %q, want %q", strings.Join(got, "|"), want)
		}
	})

	t.Run("Ring", func(t *testing.T) {
		l := newQueryLog(3)
		for i := 0; i < 5; i++ {
			l.add(QueryRecord{SQL: fmt.Sprint(i)})
		}
		var got []string
		for _, r := range l.snapshot() {
			got = append(got, r.SQL)
		}
		if strings.Join(got, ",") != "2,3,4" || !l.full() {
			t.Errorf("ring = %v", got)
		}
	})
}

type recordingMiddleware struct {
	name   string
	trace  *[]string
	inited bool
}

func (m *recordingMiddleware) Name() string          { return m.name }
func (m *recordingMiddleware) Init(w *Wrapper) error { m.inited = true; return nil }
func (m *recordingMiddleware) Shutdown() error       { return nil }

func (m *recordingMiddleware) Process(ctx context.Context, e *Execution, next ExecFunc) (*Outcome, error) {
	*m.trace = append(*m.trace, m.name+">")
	e.WithFields(map[string]any{m.name: true})
	out, err := next(ctx, e)
	*m.trace = append(*m.trace, "<"+m.name)
	return out, err
}

type rejectingMiddleware struct{ recordingMiddleware }

func (m *rejectingMiddleware) Process(ctx context.Context, e *Execution, next ExecFunc) (*Outcome, error) {
	return nil, errors.New("rejected")
}

func TestMiddlewareChain(t *testing.T) {
	ctx := context.Background()
	w := newTestWrapper(t, newFakeBackend(), memorySettings())

	var trace []string
	outer := &recordingMiddleware{name: "outer", trace: &trace}
	inner := &recordingMiddleware{name: "inner", trace: &trace}
	if err := w.Use(outer, inner); err != nil {
		t.Fatalf("Use failed: %v", err)
	}
	if !outer.inited || !inner.inited {
		t.Errorf("middleware not initialized")
	}

	c, _ := w.Cursor(ctx)
	defer c.Close()
	res, err := c.Exec(ctx, "INSERT INTO items (name) VALUES ('a')")
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Errorf("rows affected = %d", n)
	}
	if strings.Join(trace, " ") != "outer> inner> <inner <outer" {
		t.Errorf("trace = %v", trace)
	}

	if err := w.Use(&rejectingMiddleware{}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Exec(ctx, "SELECT 1"); !errors.Is(err, dberr.ErrDatabase) {
		t.Errorf("middleware errors must be wrapped, got %v", err)
	}
}

func TestConstraintChecks(t *testing.T) {
	ctx := context.Background()
	w := newTestWrapper(t, newFakeBackend(), memorySettings())
	mustExec(t, w, "CREATE TABLE owners (id INTEGER PRIMARY KEY)")
	mustExec(t, w, "CREATE TABLE pets (id INTEGER PRIMARY KEY, owner_id INTEGER REFERENCES owners(id))")

	if err := exec(w, "INSERT INTO pets (owner_id) VALUES (7)"); !errors.Is(err, dberr.ErrIntegrity) {
		t.Fatalf("foreign keys must be enforced, got %v", err)
	}

	err := w.ConstraintChecksDisabled(ctx, func(ctx context.Context) error {
		return exec(w, "INSERT INTO pets (owner_id) VALUES (7)")
	})
	if err != nil {
		t.Fatalf("insert with checks disabled failed: %v", err)
	}
	if err := exec(w, "INSERT INTO pets (owner_id) VALUES (8)"); !errors.Is(err, dberr.ErrIntegrity) {
		t.Errorf("checks not re-enabled, got %v", err)
	}
	if err := w.CheckConstraints(ctx, "pets"); !errors.Is(err, dberr.ErrIntegrity) {
		t.Errorf("dangling row not reported, got %v", err)
	}
	if err := w.CheckConstraints(ctx, "owners"); err != nil {
		t.Errorf("owners is clean, got %v", err)
	}
}
