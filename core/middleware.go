package core

import (
	"context"
	"database/sql"
)

// Component is the base interface for all execution middleware.
type Component interface {
	Name() string
	Init(w *Wrapper) error
	Shutdown() error
}

// ExecKind tells statements that return rows from those that don't.
type ExecKind int

const (
	KindExec ExecKind = iota
	KindQuery
)

// Execution describes one statement sent through a cursor.
type Execution struct {
	Alias  string
	Vendor string
	Kind   ExecKind
	SQL    string
	Args   []any
	Fields map[string]any
}

// WithFields attaches extra fields to the execution's log entries.
func (e *Execution) WithFields(fields map[string]any) {
	if e.Fields == nil {
		e.Fields = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		e.Fields[k] = v
	}
}

// Outcome is the result of an execution: Result for KindExec, Rows for
// KindQuery.
type Outcome struct {
	Result sql.Result
	Rows   *sql.Rows
}

// RowsAffected returns -1 when unknown.
func (o *Outcome) RowsAffected() int64 {
	if o == nil || o.Result == nil {
		return -1
	}
	n, err := o.Result.RowsAffected()
	if err != nil {
		return -1
	}
	return n
}

// ExecFunc is the function type for the next step in the middleware chain.
type ExecFunc func(ctx context.Context, e *Execution) (*Outcome, error)

// ExecMiddleware is the interface for statement interceptors.
type ExecMiddleware interface {
	Component
	Process(ctx context.Context, e *Execution, next ExecFunc) (*Outcome, error)
}

// Use initializes the middleware and appends it to the chain. The first
// middleware added is the outermost.
func (w *Wrapper) Use(mws ...ExecMiddleware) error {
	for _, m := range mws {
		if err := m.Init(w); err != nil {
			return err
		}
		w.middlewares = append(w.middlewares, m)
	}
	return nil
}

func (w *Wrapper) chain(final ExecFunc) ExecFunc {
	next := final
	for i := len(w.middlewares) - 1; i >= 0; i-- {
		m, inner := w.middlewares[i], next
		next = func(ctx context.Context, e *Execution) (*Outcome, error) {
			return m.Process(ctx, e, inner)
		}
	}
	return next
}
