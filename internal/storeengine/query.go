package storeengine

import (
	"fmt"
	"strings"
	"time"

	"github.com/kotobadb/core/internal/kerr"
)

// PredicateOp names a comparison usable in a Query predicate.
type PredicateOp string

const (
	OpEqual        PredicateOp = "eq"
	OpNotEqual     PredicateOp = "ne"
	OpLessThan     PredicateOp = "lt"
	OpLessEqual    PredicateOp = "lte"
	OpGreaterThan  PredicateOp = "gt"
	OpGreaterEqual PredicateOp = "gte"
)

// Predicate constrains one column of the kv table (§4.3 "conjunctive
// equality/range predicates"). Field is one of "key", "sub_key",
// "version"; predicates are resolved against the row's own columns, not
// the opaque value blob, since only C9's projection layer understands
// value content.
type Predicate struct {
	Field string
	Op    PredicateOp
	Value any
}

// Query describes a scan over a single namespace.
type Query struct {
	Namespace  string
	Predicates []Predicate // ANDed (conjunctive); OR is expressed as separate queries, unioned by the caller
	OrderBy    string      // "key" (default) or "version"
	Descending bool
	Limit      int
	Offset     int
}

// Row is a single matched kv entry.
type Row struct {
	Key     string
	SubKey  string
	Value   []byte
	Version uint64
}

// QueryResult reports the matched page plus execution metadata (§4.3).
type QueryResult struct {
	Rows            []Row
	ExecutionTimeMS int64
	HasMore         bool
}

var fieldColumn = map[string]string{
	"key":     "key",
	"sub_key": "sub_key",
	"version": "version",
}

var opSQL = map[PredicateOp]string{
	OpEqual:        "=",
	OpNotEqual:     "!=",
	OpLessThan:     "<",
	OpLessEqual:    "<=",
	OpGreaterThan:  ">",
	OpGreaterEqual: ">=",
}

// Query runs q against the kv table, returning a stable-sorted page with
// has_more set when additional rows exist beyond the requested window.
func (e *Engine) Query(q Query) (*QueryResult, error) {
	start := time.Now()
	if q.Namespace == "" {
		return nil, kerr.Query("query requires a namespace")
	}
	orderCol := "key"
	if q.OrderBy != "" {
		col, ok := fieldColumn[q.OrderBy]
		if !ok {
			return nil, kerr.Query(fmt.Sprintf("unknown order_by field %q", q.OrderBy))
		}
		orderCol = col
	}

	var sb strings.Builder
	sb.WriteString("SELECT key, sub_key, value, version FROM kv WHERE namespace = ?")
	args := []any{q.Namespace}

	for _, p := range q.Predicates {
		col, ok := fieldColumn[p.Field]
		if !ok {
			return nil, kerr.Query(fmt.Sprintf("unknown predicate field %q", p.Field))
		}
		sqlOp, ok := opSQL[p.Op]
		if !ok {
			return nil, kerr.Query(fmt.Sprintf("unknown predicate op %q", p.Op))
		}
		sb.WriteString(fmt.Sprintf(" AND %s %s ?", col, sqlOp))
		args = append(args, p.Value)
	}

	dir := ""
	if q.Descending {
		dir = " DESC"
	}
	sb.WriteString(fmt.Sprintf(" ORDER BY %s%s, key%s", orderCol, dir, dir))

	limit := q.Limit
	fetchExtra := false
	if limit > 0 {
		fetchExtra = true
		sb.WriteString(" LIMIT ?")
		args = append(args, limit+1)
		if q.Offset > 0 {
			sb.WriteString(" OFFSET ?")
			args = append(args, q.Offset)
		}
	} else if q.Offset > 0 {
		sb.WriteString(" LIMIT -1 OFFSET ?")
		args = append(args, q.Offset)
	}

	e.mu.Lock()
	rows, err := e.db.Query(sb.String(), args...)
	e.mu.Unlock()
	if err != nil {
		return nil, kerr.StorageIO("query failed", err).WithContext("namespace", q.Namespace)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.Key, &r.SubKey, &r.Value, &r.Version); err != nil {
			return nil, kerr.StorageIO("failed to scan query row", err)
		}
		out = append(out, r)
	}

	hasMore := false
	if fetchExtra && len(out) > limit {
		out = out[:limit]
		hasMore = true
	}

	return &QueryResult{
		Rows:            out,
		ExecutionTimeMS: time.Since(start).Milliseconds(),
		HasMore:         hasMore,
	}, nil
}
