package core

import (
	"time"
)

// queriesLimit bounds the query log.
const queriesLimit = 9000

// QueryRecord is one entry of the query log.
type QueryRecord struct {
	SQL      string        `json:"sql"`
	Args     []any         `json:"args,omitempty"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

// queryLog is a ring buffer keeping the most recent limit records.
type queryLog struct {
	limit   int
	records []QueryRecord
	next    int
}

func newQueryLog(limit int) *queryLog {
	return &queryLog{limit: limit}
}

func (l *queryLog) add(r QueryRecord) {
	if len(l.records) < l.limit {
		l.records = append(l.records, r)
		return
	}
	l.records[l.next] = r
	l.next = (l.next + 1) % l.limit
}

func (l *queryLog) full() bool { return len(l.records) >= l.limit }

// snapshot returns the records oldest first.
func (l *queryLog) snapshot() []QueryRecord {
	out := make([]QueryRecord, 0, len(l.records))
	out = append(out, l.records[l.next:]...)
	return append(out, l.records[:l.next]...)
}

func (l *queryLog) reset() {
	l.records = nil
	l.next = 0
}

// QueriesLogged reports whether executed statements are recorded, which is
// the case in debug mode or when forced with SetForceDebugCursor.
func (w *Wrapper) QueriesLogged() bool {
	return w.forceDebugCursor || w.settings.Debug
}

// SetForceDebugCursor records queries even when debug mode is off.
func (w *Wrapper) SetForceDebugCursor(force bool) { w.forceDebugCursor = force }

// Queries returns the recorded statements, oldest first.
func (w *Wrapper) Queries() []QueryRecord {
	if w.queries.full() {
		w.log.WithFields(w.fields()).Warn("limit for query logging exceeded, only the last %d queries will be returned", w.queries.limit)
	}
	return w.queries.snapshot()
}

// ResetQueries empties the query log.
func (w *Wrapper) ResetQueries() { w.queries.reset() }
