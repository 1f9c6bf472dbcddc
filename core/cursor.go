package core

import (
	"context"
	"database/sql"
	"time"

	"github.com/shrek82/jconn/dialect"
)

// Cursor executes statements on the wrapper's connection. It must be closed
// on every exit path.
type Cursor struct {
	w      *Wrapper
	q      dialect.Querier
	closed bool
}

// Cursor returns a cursor on a live connection, connecting first if needed.
func (w *Wrapper) Cursor(ctx context.Context) (*Cursor, error) {
	if err := w.ValidateThreadSharing(); err != nil {
		return nil, err
	}
	if err := w.EnsureConnection(ctx); err != nil {
		return nil, err
	}
	q, err := w.backend.CreateCursor(ctx, w.handle)
	if err != nil {
		return nil, w.wrapError(err)
	}
	return &Cursor{w: w, q: q}, nil
}

// Close releases the cursor. It is safe to call more than once.
func (c *Cursor) Close() error {
	c.closed = true
	return nil
}

// Exec executes a statement that doesn't return rows.
func (c *Cursor) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	out, err := c.run(ctx, KindExec, query, args)
	if err != nil {
		return nil, err
	}
	return out.Result, nil
}

// Query executes a statement that returns rows. The caller closes them.
func (c *Cursor) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	out, err := c.run(ctx, KindQuery, query, args)
	if err != nil {
		return nil, err
	}
	return out.Rows, nil
}

// QueryRow executes a statement expected to return at most one row. Errors
// are deferred until Scan.
func (c *Cursor) QueryRow(ctx context.Context, query string, args ...any) *Row {
	rows, err := c.Query(ctx, query, args...)
	return &Row{w: c.w, rows: rows, err: err}
}

func (c *Cursor) run(ctx context.Context, kind ExecKind, query string, args []any) (*Outcome, error) {
	if c.closed {
		return nil, c.w.wrapError(ErrCursorClosed)
	}
	w := c.w
	if err := w.ValidateNoBrokenTransaction(); err != nil {
		return nil, err
	}

	e := &Execution{
		Alias:  w.alias,
		Vendor: w.backend.Vendor(),
		Kind:   kind,
		SQL:    query,
		Args:   args,
	}
	start := time.Now()
	out, err := w.chain(c.execute)(ctx, e)
	if w.QueriesLogged() {
		duration := time.Since(start)
		w.queries.add(QueryRecord{SQL: e.SQL, Args: e.Args, Duration: duration, At: start})
		l := w.log.WithFields(w.fields())
		if len(e.Fields) > 0 {
			l = l.WithFields(e.Fields)
		}
		l.SQL(e.SQL, duration, e.Args...)
	}
	if err != nil {
		return nil, w.wrapError(err)
	}
	return out, nil
}

func (c *Cursor) execute(ctx context.Context, e *Execution) (*Outcome, error) {
	if e.Kind == KindQuery {
		rows, err := c.q.QueryContext(ctx, e.SQL, e.Args...)
		if err != nil {
			return nil, err
		}
		return &Outcome{Rows: rows}, nil
	}
	res, err := c.q.ExecContext(ctx, e.SQL, e.Args...)
	if err != nil {
		return nil, err
	}
	return &Outcome{Result: res}, nil
}

// Row is the result of QueryRow.
type Row struct {
	w    *Wrapper
	rows *sql.Rows
	err  error
}

// Err returns the error of the query, if any.
func (r *Row) Err() error { return r.err }

// Scan copies the columns of the first row into dest. It returns
// sql.ErrNoRows when there is none.
func (r *Row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	defer r.rows.Close()
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return r.w.wrapError(err)
		}
		return sql.ErrNoRows
	}
	if err := r.rows.Scan(dest...); err != nil {
		return err
	}
	return r.rows.Close()
}

// logSQL records statements the wrapper issues itself, outside cursors.
func (w *Wrapper) logSQL(query string, duration time.Duration) {
	if !w.QueriesLogged() {
		return
	}
	w.queries.add(QueryRecord{SQL: query, Duration: duration, At: w.now().Add(-duration)})
	w.log.WithFields(w.fields()).SQL(query, duration)
}
