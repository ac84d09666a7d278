package query

// ScanKind distinguishes an index-backed lookup from a full scan with a
// residual filter, the choice §8 scenario 4 pins: a MATCH with an
// equality filter on an indexed property selects IndexScan; otherwise
// the planner falls back to FullScan.
type ScanKind string

const (
	FullScan  ScanKind = "FullScan"
	IndexScan ScanKind = "IndexScan"
)

// VertexScanPlan scans nodes of Label, either via a declared property
// index (Kind == IndexScan, looking up IndexProperty == IndexValue) or
// by a full scan with Residual applied as a post-filter.
type VertexScanPlan struct {
	Var           string
	Label         string
	Kind          ScanKind
	IndexProperty string
	IndexValue    Expr
	Residual      *Expr
}

// EdgeScanPlan expands the relation bound on FromVar by following every
// Label edge where FromVar plays FromRole, binding the node on the
// other end as ToVar (and the edge itself as EdgeVar, if named).
type EdgeScanPlan struct {
	EdgeVar  string
	Label    string
	FromVar  string
	FromRole string
	ToVar    string
	ToRole   string
}

// JoinKind is the physical join operator the planner records for
// combining the current relation with an independently-scanned one.
type JoinKind string

const (
	HashJoin       JoinKind = "hash_join"
	NestedLoopJoin JoinKind = "nested_loop_join"
)

// JoinPlan combines the current relation with the one produced by the
// preceding vertex scan step. OnVar is the variable that scan binds; the
// two sides share no variable, and the executor forms their cross product.
type JoinPlan struct {
	Kind  JoinKind
	OnVar string
}

type StepKind string

const (
	StepVertexScan StepKind = "VertexScan"
	StepEdgeScan   StepKind = "EdgeScan"
	StepJoin       StepKind = "Join"
	StepFilter     StepKind = "Filter"
	StepGroupBy    StepKind = "GroupBy"
	StepDistinct   StepKind = "Distinct"
	StepOrderBy    StepKind = "OrderBy"
	StepProject    StepKind = "Project"
	StepLimit      StepKind = "Limit"
	StepWrite      StepKind = "Write"
)

// Step is one node of a linear ExecutionPlan pipeline.
type Step struct {
	Kind       StepKind
	VertexScan *VertexScanPlan
	EdgeScan   *EdgeScanPlan
	Join       *JoinPlan
	Filter     *Expr
	GroupBy    []Expr
	OrderBy    []OrderItem
	Project    []ReturnItem
	Limit      *int
	Write      *WriteClause
}

// Plan is a compiled, ready-to-interpret query.
type Plan struct {
	Steps []Step
}

// Planner compiles a Query AST into a Plan, consulting cat to decide
// IndexScan vs FullScan for each vertex pattern.
type Planner struct {
	cat *Catalog
}

func NewPlanner(cat *Catalog) *Planner {
	return &Planner{cat: cat}
}

// Plan compiles q. Only the first MATCH clause is honored; multiple
// independent MATCH clauses joined implicitly are out of scope (a
// documented simplification — see DESIGN.md C9).
func (p *Planner) Plan(q Query) (Plan, error) {
	var steps []Step

	if len(q.Match) > 0 {
		m := q.Match[0]
		if len(m.Nodes) == 0 {
			return Plan{}, QueryError{Kind: PlanError, Message: "MATCH requires at least one node pattern"}
		}

		bound := map[string]bool{}
		root := m.Nodes[0]
		rootScan := p.planVertexScan(root)
		steps = append(steps, Step{Kind: StepVertexScan, VertexScan: rootScan})
		bound[root.Var] = true

		for _, ep := range m.Edges {
			if !bound[ep.FromVar] {
				return Plan{}, QueryError{Kind: PlanError, Message: "edge pattern references unbound variable " + ep.FromVar}
			}
			steps = append(steps, Step{Kind: StepEdgeScan, EdgeScan: &EdgeScanPlan{
				EdgeVar: ep.EdgeVar, Label: ep.Label,
				FromVar: ep.FromVar, FromRole: ep.FromRole,
				ToVar: ep.ToVar, ToRole: ep.ToRole,
			}})
			bound[ep.ToVar] = true
		}

		// Any remaining node patterns not reached via an edge bind a
		// variable not yet bound; each is an independent relation,
		// cross-joined with what is already bound. Hash-join when both sides
		// come from an index-backed (small, bounded) scan; nested-loop
		// otherwise, since a full scan's cardinality is not known
		// ahead of time.
		for _, np := range m.Nodes[1:] {
			if bound[np.Var] {
				continue
			}
			vsp := p.planVertexScan(np)
			steps = append(steps, Step{Kind: StepVertexScan, VertexScan: vsp})
			kind := NestedLoopJoin
			if vsp.Kind == IndexScan && rootScan.Kind == IndexScan {
				kind = HashJoin
			}
			steps = append(steps, Step{Kind: StepJoin, Join: &JoinPlan{Kind: kind, OnVar: np.Var}})
			bound[np.Var] = true
		}
	}

	if q.Where != nil {
		steps = append(steps, Step{Kind: StepFilter, Filter: q.Where})
	}
	if len(q.GroupBy) > 0 {
		steps = append(steps, Step{Kind: StepGroupBy, GroupBy: q.GroupBy})
	}
	if len(q.OrderBy) > 0 {
		steps = append(steps, Step{Kind: StepOrderBy, OrderBy: q.OrderBy})
	}
	if len(q.Return) > 0 {
		steps = append(steps, Step{Kind: StepProject, Project: q.Return})
	}
	if q.Distinct {
		steps = append(steps, Step{Kind: StepDistinct})
	}
	if q.Limit != nil {
		steps = append(steps, Step{Kind: StepLimit, Limit: q.Limit})
	}
	if q.Write != nil {
		steps = append(steps, Step{Kind: StepWrite, Write: q.Write})
	}

	return Plan{Steps: steps}, nil
}

// planVertexScan selects IndexScan when np carries an equality property
// filter the catalog has an index for, else FullScan with every
// property filter folded into a residual predicate.
func (p *Planner) planVertexScan(np NodePattern) *VertexScanPlan {
	for prop, val := range np.Props {
		if p.cat != nil && p.cat.Has(np.Label, prop) {
			var residual *Expr
			if len(np.Props) > 1 {
				residual = residualForAllBut(np, prop)
			}
			return &VertexScanPlan{
				Var: np.Var, Label: np.Label, Kind: IndexScan,
				IndexProperty: prop, IndexValue: Literal(val), Residual: residual,
			}
		}
	}
	residual := residualForAllBut(np, "")
	return &VertexScanPlan{Var: np.Var, Label: np.Label, Kind: FullScan, Residual: residual}
}

func residualForAllBut(np NodePattern, skip string) *Expr {
	var e *Expr
	for prop, val := range np.Props {
		if prop == skip {
			continue
		}
		cmp := Binary(OpEq, Property(np.Var, prop), Literal(val))
		if e == nil {
			e = &cmp
		} else {
			joined := Binary(OpAnd, *e, cmp)
			e = &joined
		}
	}
	return e
}
