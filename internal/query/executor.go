// Executor interprets a compiled Plan: VertexScan/EdgeScan/Join read
// through the projection engine (§4.7), while a trailing Write step
// applies CREATE/UPDATE/DELETE by staging a graph.Delta (the shape
// internal/rewrite's Applicator returns) and committing it through
// mvcc.Manager. internal/rewrite itself commits nothing; its Applicator
// and Scheduler only mutate the host graph they are given.
package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/kotobadb/core/internal/authz"
	"github.com/kotobadb/core/internal/cidkit"
	"github.com/kotobadb/core/internal/graph"
	"github.com/kotobadb/core/internal/kerr"
	"github.com/kotobadb/core/internal/mvcc"
	"github.com/kotobadb/core/internal/obslog"
	"github.com/kotobadb/core/internal/projection"
	"github.com/kotobadb/core/internal/storeplan"
	"go.uber.org/zap"
)

// Binding is one variable's value in a Row: exactly one of Node, Edge,
// or Value is set.
type Binding struct {
	Node  *graph.Node
	Edge  *graph.Edge
	Value cidkit.Value
}

// Row is one intermediate result tuple, keyed by pattern/alias variable.
type Row map[string]Binding

// Executor runs a Plan against a live projection and, for DML, an
// mvcc.Manager to commit the resulting mutation.
type Executor struct {
	proj *projection.Engine
	mgr  *mvcc.Manager
	cat  *Catalog
	log  *obslog.Logger

	gate      *authz.Gate
	principal authz.Principal
}

func NewExecutor(proj *projection.Engine, mgr *mvcc.Manager, cat *Catalog, base *obslog.Logger) *Executor {
	log := base
	if log == nil {
		log = obslog.Noop()
	}
	if cat == nil {
		cat = NewCatalog()
	}
	return &Executor{proj: proj, mgr: mgr, cat: cat, log: log}
}

// WithAuthz arms ex with a C10 precondition check: every Execute call
// runs gate.Check(principal, ...) against a "Graph" resource (action
// "read" or "write", per the plan's own Write step) before touching the
// projection or committing a mutation (§2 data-flow: "the Authorization
// Gate checks capabilities" runs before planning/execution). A nil gate
// (the default) disables the check, matching every call site that does
// not yet have a resolved Principal to enforce against (see the C10
// notes in DESIGN.md). Returns ex for chaining.
func (ex *Executor) WithAuthz(gate *authz.Gate, principal authz.Principal) *Executor {
	ex.gate = gate
	ex.principal = principal
	return ex
}

func (ex *Executor) checkAuthz(action string) error {
	if ex.gate == nil {
		return nil
	}
	return ex.gate.Check(ex.principal, authz.Resource{Type: "Graph", Action: action})
}

// Result is the Executor's output: RETURN rows for a read query, or the
// committed transaction id for a query ending in a Write step.
type Result struct {
	Rows  []Row
	TxID  string
	Wrote bool
}

func (ex *Executor) Execute(ctx context.Context, plan Plan) (Result, error) {
	action := "read"
	for _, step := range plan.Steps {
		if step.Kind == StepWrite {
			action = "write"
			break
		}
	}
	if err := ex.checkAuthz(action); err != nil {
		return Result{}, err
	}

	var rows []Row
	var side []Row

	for _, step := range plan.Steps {
		switch step.Kind {
		case StepVertexScan:
			rel, err := ex.runVertexScan(step.VertexScan)
			if err != nil {
				return Result{}, err
			}
			if rows == nil {
				rows = rel
			} else {
				side = rel
			}

		case StepEdgeScan:
			next, err := ex.runEdgeScan(rows, step.EdgeScan)
			if err != nil {
				return Result{}, err
			}
			rows = next

		case StepJoin:
			rows = ex.runJoin(rows, side, step.Join)
			side = nil

		case StepFilter:
			next := rows[:0:0]
			for _, r := range rows {
				ok, err := evalBool(r, *step.Filter)
				if err != nil {
					return Result{}, err
				}
				if ok {
					next = append(next, r)
				}
			}
			rows = next

		case StepGroupBy:
			rows = groupRows(rows, step.GroupBy)

		case StepDistinct:
			rows = distinctRows(rows)

		case StepOrderBy:
			orderRows(rows, step.OrderBy)

		case StepProject:
			next := make([]Row, len(rows))
			for i, r := range rows {
				out := Row{}
				for _, item := range step.Project {
					if item.Expr.Kind == ExprVarRef {
						b, ok := r[item.Expr.Var]
						if !ok {
							return Result{}, QueryError{Kind: TypeMismatch, Message: "unbound variable " + item.Expr.Var}
						}
						out[item.Alias] = b
						continue
					}
					v, err := evalValue(r, item.Expr)
					if err != nil {
						return Result{}, err
					}
					out[item.Alias] = Binding{Value: v}
				}
				next[i] = out
			}
			rows = next

		case StepLimit:
			if *step.Limit < len(rows) {
				rows = rows[:*step.Limit]
			}

		case StepWrite:
			txID, err := ex.runWrite(ctx, rows, step.Write)
			if err != nil {
				return Result{}, err
			}
			return Result{TxID: txID, Wrote: true}, nil
		}
	}

	ex.log.Debug("query executed", zap.Int("rows", len(rows)))
	return Result{Rows: rows}, nil
}

func (ex *Executor) runVertexScan(vsp *VertexScanPlan) ([]Row, error) {
	if vsp.Kind == IndexScan {
		idx, ok := ex.cat.Lookup(vsp.Label, vsp.IndexProperty)
		if !ok {
			return nil, QueryError{Kind: IndexNotFound, Message: fmt.Sprintf("no index on %s.%s", vsp.Label, vsp.IndexProperty)}
		}
		val, err := evalValue(nil, vsp.IndexValue)
		if err != nil {
			return nil, err
		}
		var rows []Row
		for _, id := range idx.Lookup(val) {
			n, ok := ex.proj.GetNode(id)
			if !ok {
				continue
			}
			rows = append(rows, Row{vsp.Var: Binding{Node: &n}})
		}
		return ex.applyResidual(rows, vsp.Residual)
	}

	nodes := ex.proj.ScanNodes(func(n graph.Node) bool { return vsp.Label == "" || n.Type == vsp.Label })
	rows := make([]Row, 0, len(nodes))
	for _, n := range nodes {
		n := n
		rows = append(rows, Row{vsp.Var: Binding{Node: &n}})
	}
	return ex.applyResidual(rows, vsp.Residual)
}

func (ex *Executor) applyResidual(rows []Row, residual *Expr) ([]Row, error) {
	if residual == nil {
		return rows, nil
	}
	out := rows[:0:0]
	for _, r := range rows {
		ok, err := evalBool(r, *residual)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (ex *Executor) runEdgeScan(rows []Row, ep *EdgeScanPlan) ([]Row, error) {
	var out []Row
	for _, r := range rows {
		from, ok := r[ep.FromVar]
		if !ok || from.Node == nil {
			continue
		}
		for _, inc := range ex.proj.IncidencesOfNode(from.Node.ID) {
			if string(inc.Role) != ep.FromRole {
				continue
			}
			edge, ok := ex.proj.GetEdge(inc.EdgeID)
			if !ok || (ep.Label != "" && string(edge.Kind) != ep.Label) {
				continue
			}
			for _, other := range ex.proj.IncidencesOfEdge(edge.ID) {
				if string(other.Role) != ep.ToRole {
					continue
				}
				toNode, ok := ex.proj.GetNode(other.NodeID)
				if !ok {
					continue
				}
				clone := Row{}
				for k, v := range r {
					clone[k] = v
				}
				toNode := toNode
				edge := edge
				clone[ep.ToVar] = Binding{Node: &toNode}
				if ep.EdgeVar != "" {
					clone[ep.EdgeVar] = Binding{Edge: &edge}
				}
				out = append(out, clone)
			}
		}
	}
	return out, nil
}

// runJoin combines left and right. Both sides currently come from
// independent vertex scans sharing no bound variable (disjoint MATCH
// patterns merged in one query) so this is a cross join; Kind records
// the physical operator the planner chose (hash-join when both sides
// are index-bounded, else nested-loop) without changing the result,
// since a true equality key is absent in this scope (see DESIGN.md C9).
func (ex *Executor) runJoin(left, right []Row, jp *JoinPlan) []Row {
	if jp == nil {
		return left
	}
	out := make([]Row, 0, len(left)*len(right))
	for _, l := range left {
		for _, r := range right {
			merged := Row{}
			for k, v := range l {
				merged[k] = v
			}
			for k, v := range r {
				merged[k] = v
			}
			out = append(out, merged)
		}
	}
	return out
}

func groupRows(rows []Row, keys []Expr) []Row {
	type bucket struct {
		key  string
		rows []Row
	}
	order := []string{}
	buckets := map[string]*bucket{}
	for _, r := range rows {
		parts := make([]cidkit.Value, len(keys))
		for i, k := range keys {
			v, err := evalValue(r, k)
			if err != nil {
				continue
			}
			parts[i] = v
		}
		ck, err := cidkit.Canonicalize(cidkit.Sequence(parts))
		if err != nil {
			continue
		}
		key := string(ck)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{key: key}
			buckets[key] = b
			order = append(order, key)
		}
		b.rows = append(b.rows, r)
	}
	out := make([]Row, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		if len(b.rows) > 0 {
			out = append(out, b.rows[0])
		}
	}
	return out
}

// distinctRows applies DISTINCT by hashing each row's canonical
// serialization. The planner runs it after Project, so column values are
// resolved first and the hash is over the projected tuple; a node or
// edge binding contributes its id.
func distinctRows(rows []Row) []Row {
	seen := map[string]bool{}
	out := rows[:0:0]
	for _, r := range rows {
		keys := make([]string, 0, len(r))
		for k := range r {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := cidkit.NewMap()
		for _, k := range keys {
			if b := r[k]; b.Node != nil {
				m = m.Set(k, cidkit.NewMap().Set("node_id", cidkit.String(b.Node.ID)))
				continue
			} else if b.Edge != nil {
				m = m.Set(k, cidkit.NewMap().Set("edge_id", cidkit.String(b.Edge.ID)))
				continue
			}
			v, err := evalValue(r, VarRef(k))
			if err != nil {
				continue
			}
			m = m.Set(k, v)
		}
		ck, err := cidkit.Canonicalize(m)
		if err != nil {
			out = append(out, r)
			continue
		}
		if !seen[string(ck)] {
			seen[string(ck)] = true
			out = append(out, r)
		}
	}
	return out
}

func orderRows(rows []Row, order []OrderItem) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range order {
			a, errA := evalValue(rows[i], o.Expr)
			b, errB := evalValue(rows[j], o.Expr)
			if errA != nil || errB != nil {
				continue
			}
			cmp := compareValues(a, b)
			if cmp == 0 {
				continue
			}
			if o.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

func (ex *Executor) runWrite(ctx context.Context, rows []Row, w *WriteClause) (string, error) {
	working := graph.New()
	var delta graph.Delta
	var entityID, entityCID string
	var op storeplan.Op

	switch w.Kind {
	case WriteCreate:
		n, err := working.AddNode("entity", w.Label, attrsFromProps(w.Props))
		if err != nil {
			return "", QueryError{Kind: ExecutionError, Message: "create failed", Inner: err}
		}
		root, err := working.ComputeAllCIDs()
		if err != nil {
			return "", QueryError{Kind: ExecutionError, Message: "create failed", Inner: err}
		}
		n, _ = working.Node(n.ID)
		delta = graph.Delta{Changes: []graph.Change{{Kind: graph.ChangeUpsertNode, EntityID: n.ID, Node: &n}}, RootCID: root}
		entityID, entityCID = n.ID, n.CID
		op = storeplan.Put(storeplan.Key{Namespace: "ent", Key: entityID}, []byte(entityCID))

	case WriteUpdate, WriteDelete:
		if len(rows) == 0 {
			return "", QueryError{Kind: ExecutionError, Message: "no bound row to " + string(w.Kind)}
		}
		b, ok := rows[0][w.TargetVar]
		if !ok || b.Node == nil {
			return "", QueryError{Kind: ExecutionError, Message: "write target " + w.TargetVar + " is not a bound node"}
		}
		entityID = b.Node.ID
		if w.Kind == WriteDelete {
			delta = graph.Delta{Changes: []graph.Change{{Kind: graph.ChangeRemoveNode, EntityID: b.Node.ID}}}
			op = storeplan.Delete(storeplan.Key{Namespace: "ent", Key: entityID})
		} else {
			updated := *b.Node
			updated.Attributes = attrsFromProps(w.Props)
			delta = graph.Delta{Changes: []graph.Change{{Kind: graph.ChangeUpsertNode, EntityID: updated.ID, Node: &updated}}}
			op = storeplan.Put(storeplan.Key{Namespace: "ent", Key: entityID}, []byte(updated.CID))
		}
	}

	plan := storeplan.Plan{Ops: []storeplan.Op{op}}
	wt, err := ex.mgr.BeginWrite(plan)
	if err != nil {
		return "", kerr.Execution("failed to begin write").WithContext("cause", err.Error())
	}
	wt.WithGraphMeta(graph.EncodeDelta(delta), "", delta.RootCID, nil, nil)
	txID, err := ex.mgr.Commit(wt)
	if err != nil {
		ex.mgr.Abort(wt)
		return "", err
	}
	return txID, nil
}

func attrsFromProps(props map[string]cidkit.Value) graph.Attrs {
	m := cidkit.NewMap()
	for k, v := range props {
		m = m.Set(k, v)
	}
	return m
}

func evalValue(r Row, e Expr) (cidkit.Value, error) {
	switch e.Kind {
	case ExprLiteral:
		return e.Lit, nil
	case ExprVarRef:
		b, ok := r[e.Var]
		if !ok {
			return nil, QueryError{Kind: TypeMismatch, Message: "unbound variable " + e.Var}
		}
		if b.Value != nil {
			return b.Value, nil
		}
		return nil, QueryError{Kind: TypeMismatch, Message: e.Var + " is not a scalar"}
	case ExprProperty:
		b, ok := r[e.Var]
		if !ok {
			return nil, QueryError{Kind: TypeMismatch, Message: "unbound variable " + e.Var}
		}
		var attrs graph.Attrs
		switch {
		case b.Node != nil:
			attrs = b.Node.Attributes
		case b.Edge != nil:
			attrs = b.Edge.Attributes
		default:
			return nil, QueryError{Kind: TypeMismatch, Message: e.Var + " has no properties"}
		}
		v, ok := attrs.Entries[e.Prop]
		if !ok {
			return nil, QueryError{Kind: TypeMismatch, Message: "no property " + e.Prop + " on " + e.Var}
		}
		return v, nil
	case ExprBinary:
		l, err := evalValue(r, *e.Left)
		if err != nil {
			return nil, err
		}
		rv, err := evalValue(r, *e.Right)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case OpEq:
			return cidkit.Bool(compareValues(l, rv) == 0), nil
		case OpNeq:
			return cidkit.Bool(compareValues(l, rv) != 0), nil
		case OpLt:
			return cidkit.Bool(compareValues(l, rv) < 0), nil
		case OpLte:
			return cidkit.Bool(compareValues(l, rv) <= 0), nil
		case OpGt:
			return cidkit.Bool(compareValues(l, rv) > 0), nil
		case OpGte:
			return cidkit.Bool(compareValues(l, rv) >= 0), nil
		}
		return nil, QueryError{Kind: TypeMismatch, Message: "unsupported operator " + string(e.Op)}
	}
	return nil, QueryError{Kind: TypeMismatch, Message: "unevaluable expression"}
}

func evalBool(r Row, e Expr) (bool, error) {
	if e.Kind == ExprBinary && (e.Op == OpAnd || e.Op == OpOr) {
		l, err := evalBool(r, *e.Left)
		if err != nil {
			return false, err
		}
		if e.Op == OpAnd && !l {
			return false, nil
		}
		if e.Op == OpOr && l {
			return true, nil
		}
		return evalBool(r, *e.Right)
	}
	v, err := evalValue(r, e)
	if err != nil {
		return false, err
	}
	b, ok := v.(cidkit.Bool)
	if !ok {
		return false, QueryError{Kind: TypeMismatch, Message: "expression did not evaluate to a boolean"}
	}
	return bool(b), nil
}

// compareValues orders Numbers numerically and Strings/Bools
// lexicographically by their canonical byte form; mismatched kinds
// compare by that canonical form too, so equality still behaves
// sanely even though ordering across kinds carries no domain meaning.
func compareValues(a, b cidkit.Value) int {
	if an, ok := a.(cidkit.Number); ok {
		if bn, ok := b.(cidkit.Number); ok {
			af, bf := numAsFloat(an), numAsFloat(bn)
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	ab, _ := cidkit.Canonicalize(a)
	bb, _ := cidkit.Canonicalize(b)
	switch {
	case string(ab) < string(bb):
		return -1
	case string(ab) > string(bb):
		return 1
	default:
		return 0
	}
}

func numAsFloat(n cidkit.Number) float64 {
	if n.IsFloat {
		return n.Float
	}
	return float64(n.Int)
}
