// Package rewrite implements the DPO (double-pushout) graph rewrite
// kernel (§4.6): rule matching over a host graph.Graph, rule
// application via delete/glue/reconnect, a strategy composition algebra,
// and a scheduler enforcing step/time/application bounds while tracking
// per-rule and per-strategy statistics. Grounded on original_source's
// kotoba-rewrite-kernel/src/{kernel,scheduler}.rs `Kernel{rule_registry,
// strategy_registry, stats}` / `Scheduler{queue, history, stats}` shape,
// re-expressed as idiomatic Go rather than ported line for line.
package rewrite

import (
	"sort"

	"github.com/kotobadb/core/internal/cidkit"
	"github.com/kotobadb/core/internal/graph"
)

// PatternNode is one node template within a Pattern. VarID names the
// pattern variable a Match binds to a concrete graph.Node id. Type, when
// non-empty, constrains candidates to that domain label; Attrs, when
// non-empty, requires every listed key to equal-match the candidate's own
// attribute (a subset match, not full equality).
type PatternNode struct {
	VarID string
	Kind  graph.NodeKind
	Type  string
	Attrs map[string]cidkit.Value
}

// PatternEdge is one edge template within a Pattern.
type PatternEdge struct {
	VarID string
	Kind  graph.EdgeKind
	Label *string
}

// PatternIncidence ties a PatternEdge's var to a PatternNode's var under
// a required role.
type PatternIncidence struct {
	EdgeVar string
	NodeVar string
	Role    graph.Role
	Ordinal *int
}

// Pattern is a graph template: the Left, Interface, or Right component
// of a Rule (§3.5).
type Pattern struct {
	Nodes      []PatternNode
	Edges      []PatternEdge
	Incidences []PatternIncidence
}

func (p Pattern) nodeByVar(v string) (PatternNode, bool) {
	for _, n := range p.Nodes {
		if n.VarID == v {
			return n, true
		}
	}
	return PatternNode{}, false
}

func (p Pattern) edgeByVar(v string) (PatternEdge, bool) {
	for _, e := range p.Edges {
		if e.VarID == v {
			return e, true
		}
	}
	return PatternEdge{}, false
}

// incidencesOfNodeVar returns every PatternIncidence whose NodeVar is v,
// in a deterministic (sorted by edge var then role) order.
func (p Pattern) incidencesOfNodeVar(v string) []PatternIncidence {
	var out []PatternIncidence
	for _, inc := range p.Incidences {
		if inc.NodeVar == v {
			out = append(out, inc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EdgeVar != out[j].EdgeVar {
			return out[i].EdgeVar < out[j].EdgeVar
		}
		return out[i].Role < out[j].Role
	})
	return out
}

func (p Pattern) incidencesOfEdgeVar(v string) []PatternIncidence {
	var out []PatternIncidence
	for _, inc := range p.Incidences {
		if inc.EdgeVar == v {
			out = append(out, inc)
		}
	}
	return out
}

// degree counts how many incidences touch a node var within p — the
// "degree in L" factor of §4.6.1's root-selection heuristic.
func (p Pattern) degree(nodeVar string) int {
	return len(p.incidencesOfNodeVar(nodeVar))
}

func (pn PatternNode) canonicalValue() cidkit.Value {
	m := cidkit.NewMap().Set("var", cidkit.String(pn.VarID)).Set("kind", cidkit.String(pn.Kind))
	if pn.Type != "" {
		m = m.Set("type", cidkit.String(pn.Type))
	}
	if len(pn.Attrs) > 0 {
		am := cidkit.NewMap()
		for k, v := range pn.Attrs {
			am = am.Set(k, v)
		}
		m = m.Set("attrs", am)
	}
	return m
}

func (pe PatternEdge) canonicalValue() cidkit.Value {
	m := cidkit.NewMap().Set("var", cidkit.String(pe.VarID)).Set("kind", cidkit.String(pe.Kind))
	if pe.Label != nil {
		m = m.Set("label", cidkit.String(*pe.Label))
	}
	return m
}

func (pi PatternIncidence) canonicalValue() cidkit.Value {
	m := cidkit.NewMap().
		Set("edge_var", cidkit.String(pi.EdgeVar)).
		Set("node_var", cidkit.String(pi.NodeVar)).
		Set("role", cidkit.String(pi.Role))
	if pi.Ordinal != nil {
		m = m.Set("ordinal", cidkit.Int(int64(*pi.Ordinal)))
	}
	return m
}

func (p Pattern) canonicalValue() cidkit.Value {
	nodes := make(cidkit.Sequence, 0, len(p.Nodes))
	for _, n := range sortedNodes(p.Nodes) {
		nodes = append(nodes, n.canonicalValue())
	}
	edges := make(cidkit.Sequence, 0, len(p.Edges))
	for _, e := range sortedEdges(p.Edges) {
		edges = append(edges, e.canonicalValue())
	}
	incs := make(cidkit.Sequence, 0, len(p.Incidences))
	for _, i := range sortedIncidences(p.Incidences) {
		incs = append(incs, i.canonicalValue())
	}
	return cidkit.NewMap().Set("nodes", nodes).Set("edges", edges).Set("incidences", incs)
}

func sortedNodes(ns []PatternNode) []PatternNode {
	out := append([]PatternNode(nil), ns...)
	sort.Slice(out, func(i, j int) bool { return out[i].VarID < out[j].VarID })
	return out
}

func sortedEdges(es []PatternEdge) []PatternEdge {
	out := append([]PatternEdge(nil), es...)
	sort.Slice(out, func(i, j int) bool { return out[i].VarID < out[j].VarID })
	return out
}

func sortedIncidences(is []PatternIncidence) []PatternIncidence {
	out := append([]PatternIncidence(nil), is...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].EdgeVar != out[j].EdgeVar {
			return out[i].EdgeVar < out[j].EdgeVar
		}
		return out[i].NodeVar < out[j].NodeVar
	})
	return out
}
