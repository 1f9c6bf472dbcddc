package dialect

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// base carries the behavior shared by the SQL backends. Backends embed it
// and override what differs.
type base struct {
	quote func(string) string
}

func (b base) SavepointCreateSQL(id string) string {
	return "SAVEPOINT " + b.quote(id)
}

func (b base) SavepointRollbackSQL(id string) string {
	return "ROLLBACK TO SAVEPOINT " + b.quote(id)
}

func (b base) SavepointCommitSQL(id string) string {
	return "RELEASE SAVEPOINT " + b.quote(id)
}

func (b base) CreateCursor(ctx context.Context, h *Handle) (Querier, error) {
	if h == nil || h.Closed() {
		return nil, ErrHandleClosed
	}
	return h, nil
}

func (b base) StartTransactionUnderAutocommit(ctx context.Context, h *Handle) error {
	return fmt.Errorf("backend does not need an explicit BEGIN under autocommit")
}

func (b base) DisableConstraintChecking(ctx context.Context, h *Handle) (bool, error) {
	return false, nil
}

func (b base) EnableConstraintChecking(ctx context.Context, h *Handle) error {
	return nil
}

// keyValueDSN renders libpq style "key=value" pairs in a stable order.
func keyValueDSN(pairs map[string]string) string {
	keys := make([]string, 0, len(pairs))
	for k, v := range pairs {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+quoteDSNValue(pairs[k]))
	}
	return strings.Join(parts, " ")
}

func quoteDSNValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// queryString renders options as a sorted URL query.
func queryString(opts map[string]string) string {
	if len(opts) == 0 {
		return ""
	}
	v := url.Values{}
	for k, val := range opts {
		v.Set(k, val)
	}
	return v.Encode()
}
