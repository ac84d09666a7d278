package rewrite

import (
	"sort"

	"github.com/kotobadb/core/internal/cidkit"
	"github.com/kotobadb/core/internal/graph"
	"github.com/kotobadb/core/internal/kerr"
)

// Match binds a Rule's Left pattern variables to concrete host entity
// ids: an injective morphism L -> G (§4.6.1).
type Match struct {
	NodeBinding map[string]string
	EdgeBinding map[string]string
}

// Matcher enumerates matches of a Rule against a host graph.Snapshot via
// filtered backtracking search rooted at the most constrained pattern
// node (highest degree in L times label selectivity in G), tie-broken
// by lowest host entity id for determinism (§4.6.1).
type Matcher struct {
	rule Rule
	host graph.Snapshot
}

func NewMatcher(rule Rule, host graph.Snapshot) *Matcher {
	return &Matcher{rule: rule, host: host}
}

// planVar is one step of the deterministic search order: either a node
// var or an edge var.
type planVar struct {
	isNode bool
	id     string
}

// buildOrder computes a connected BFS order over the pattern's
// node/edge vars, starting at the most-constrained node var, so each
// step after the first is adjacent (via some incidence) to an
// already-ordered var whenever possible.
func (m *Matcher) buildOrder() []planVar {
	left := m.rule.Left
	if len(left.Nodes) == 0 {
		var out []planVar
		for _, e := range sortedEdges(left.Edges) {
			out = append(out, planVar{id: e.VarID})
		}
		return out
	}

	root := m.mostConstrainedNodeVar()
	visitedNode := map[string]bool{}
	visitedEdge := map[string]bool{}
	var order []planVar

	queue := []planVar{{isNode: true, id: root}}
	visitedNode[root] = true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		if cur.isNode {
			for _, inc := range sortedIncidences(left.incidencesOfNodeVar(cur.id)) {
				if !visitedEdge[inc.EdgeVar] {
					visitedEdge[inc.EdgeVar] = true
					queue = append(queue, planVar{isNode: false, id: inc.EdgeVar})
				}
			}
		} else {
			for _, inc := range sortedIncidences(left.incidencesOfEdgeVar(cur.id)) {
				if !visitedNode[inc.NodeVar] {
					visitedNode[inc.NodeVar] = true
					queue = append(queue, planVar{isNode: true, id: inc.NodeVar})
				}
			}
		}
	}

	// Any var left unvisited belongs to a disconnected component;
	// append remaining vars in deterministic (sorted-by-id) order so
	// the overall enumeration is still total and stable.
	for _, n := range sortedNodes(left.Nodes) {
		if !visitedNode[n.VarID] {
			visitedNode[n.VarID] = true
			order = append(order, planVar{isNode: true, id: n.VarID})
		}
	}
	for _, e := range sortedEdges(left.Edges) {
		if !visitedEdge[e.VarID] {
			visitedEdge[e.VarID] = true
			order = append(order, planVar{isNode: false, id: e.VarID})
		}
	}
	return order
}

// mostConstrainedNodeVar picks the Left node var maximizing
// degree(L) * selectivity(G), selectivity being 1/max(1,candidateCount)
// (§4.6.1). Ties break on lowest VarID for determinism.
func (m *Matcher) mostConstrainedNodeVar() string {
	best := ""
	bestScore := -1.0
	for _, n := range sortedNodes(m.rule.Left.Nodes) {
		degree := m.rule.Left.degree(n.VarID)
		candidates := m.candidateNodes(n)
		selectivity := 1.0 / float64(max1(len(candidates)))
		score := float64(degree) * selectivity
		if score > bestScore {
			bestScore = score
			best = n.VarID
		}
	}
	return best
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func (m *Matcher) candidateNodes(pn PatternNode) []graph.Node {
	var out []graph.Node
	for _, n := range m.host.AllNodes() {
		if nodeMatches(pn, n) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func nodeMatches(pn PatternNode, n graph.Node) bool {
	if pn.Kind != "" && pn.Kind != n.Kind {
		return false
	}
	if pn.Type != "" && pn.Type != n.Type {
		return false
	}
	for k, want := range pn.Attrs {
		got, ok := n.Attributes.Entries[k]
		if !ok || !valueEqual(got, want) {
			return false
		}
	}
	return true
}

func valueEqual(a, b cidkit.Value) bool {
	ca, errA := cidkit.Canonicalize(a)
	cb, errB := cidkit.Canonicalize(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ca) == string(cb)
}

func edgeMatches(pe PatternEdge, e graph.Edge) bool {
	if pe.Kind != "" && pe.Kind != e.Kind {
		return false
	}
	if pe.Label != nil {
		if e.Label == nil || *pe.Label != *e.Label {
			return false
		}
	}
	return true
}

// assignment is the mutable backtracking state.
type assignment struct {
	nodes    map[string]string
	edges    map[string]string
	usedNode map[string]bool
	usedEdge map[string]bool
}

func newAssignment() *assignment {
	return &assignment{
		nodes:    map[string]string{},
		edges:    map[string]string{},
		usedNode: map[string]bool{},
		usedEdge: map[string]bool{},
	}
}

func (a *assignment) clone() *assignment {
	n := newAssignment()
	for k, v := range a.nodes {
		n.nodes[k] = v
	}
	for k, v := range a.edges {
		n.edges[k] = v
	}
	for k, v := range a.usedNode {
		n.usedNode[k] = v
	}
	for k, v := range a.usedEdge {
		n.usedEdge[k] = v
	}
	return n
}

// FindMatches enumerates up to limit matches (0 = unlimited) of m's rule
// against its host, in the deterministic order of §4.6.1.
func (m *Matcher) FindMatches(limit int) ([]Match, error) {
	order := m.buildOrder()
	var out []Match

	var step func(idx int, cur *assignment) bool // returns true to stop (limit reached)
	step = func(idx int, cur *assignment) bool {
		if idx == len(order) {
			if match, ok := m.finalize(cur); ok {
				out = append(out, match)
				if limit > 0 && len(out) >= limit {
					return true
				}
			}
			return false
		}
		v := order[idx]
		if v.isNode {
			pn, _ := m.rule.Left.nodeByVar(v.id)
			for _, cand := range m.nodeCandidatesFor(pn, cur) {
				if cur.usedNode[cand.ID] {
					continue
				}
				next := cur.clone()
				next.nodes[v.id] = cand.ID
				next.usedNode[cand.ID] = true
				if step(idx+1, next) {
					return true
				}
			}
			return false
		}
		pe, _ := m.rule.Left.edgeByVar(v.id)
		for _, cand := range m.edgeCandidatesFor(pe, v.id, cur) {
			if cur.usedEdge[cand.ID] {
				continue
			}
			next := cur.clone()
			next.edges[v.id] = cand.ID
			next.usedEdge[cand.ID] = true
			if step(idx+1, next) {
				return true
			}
		}
		return false
	}
	step(0, newAssignment())
	return out, nil
}

func (m *Matcher) nodeCandidatesFor(pn PatternNode, cur *assignment) []graph.Node {
	candidates := m.candidateNodes(pn)
	// Narrow by any already-bound adjacent edge var's incidences.
	for _, inc := range m.rule.Left.incidencesOfNodeVar(pn.VarID) {
		hostEdgeID, bound := cur.edges[inc.EdgeVar]
		if !bound {
			continue
		}
		allowed := map[string]bool{}
		for _, hinc := range m.host.IncidencesOfEdge(hostEdgeID) {
			if hinc.Role == inc.Role && ordinalMatches(inc.Ordinal, hinc.Ordinal) {
				allowed[hinc.NodeID] = true
			}
		}
		filtered := candidates[:0:0]
		for _, c := range candidates {
			if allowed[c.ID] {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
	}
	return candidates
}

func ordinalMatches(want, got *int) bool {
	if want == nil {
		return true
	}
	return got != nil && *want == *got
}

func (m *Matcher) edgeCandidatesFor(pe PatternEdge, edgeVar string, cur *assignment) []graph.Edge {
	incs := m.rule.Left.incidencesOfEdgeVar(edgeVar)
	var boundHostNode string
	haveBound := false
	for _, inc := range incs {
		if hostNodeID, ok := cur.nodes[inc.NodeVar]; ok {
			boundHostNode = hostNodeID
			haveBound = true
			break
		}
	}

	var pool []graph.Edge
	if haveBound {
		seen := map[string]bool{}
		for _, hinc := range m.host.IncidencesOfNode(boundHostNode) {
			if seen[hinc.EdgeID] {
				continue
			}
			seen[hinc.EdgeID] = true
			if e, ok := m.host.Edge(hinc.EdgeID); ok {
				pool = append(pool, e)
			}
		}
	} else {
		pool = m.host.AllEdges()
	}

	var out []graph.Edge
	for _, e := range pool {
		if !edgeMatches(pe, e) {
			continue
		}
		if edgeSatisfiesBoundIncidences(m.host, e.ID, incs, cur) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// edgeSatisfiesBoundIncidences checks that, for every PatternIncidence
// of this edge var whose node var is already bound, the candidate host
// edge actually carries a matching incidence.
func edgeSatisfiesBoundIncidences(host graph.Snapshot, hostEdgeID string, incs []PatternIncidence, cur *assignment) bool {
	hostIncs := host.IncidencesOfEdge(hostEdgeID)
	for _, inc := range incs {
		hostNodeID, bound := cur.nodes[inc.NodeVar]
		if !bound {
			continue
		}
		found := false
		for _, hinc := range hostIncs {
			if hinc.NodeID == hostNodeID && hinc.Role == inc.Role && ordinalMatches(inc.Ordinal, hinc.Ordinal) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// finalize performs the final full-incidence check plus the dangling
// condition (§4.6.1), converting a complete assignment into a Match.
func (m *Matcher) finalize(a *assignment) (Match, bool) {
	for _, inc := range m.rule.Left.Incidences {
		hostEdgeID, ok1 := a.edges[inc.EdgeVar]
		hostNodeID, ok2 := a.nodes[inc.NodeVar]
		if !ok1 || !ok2 {
			return Match{}, false
		}
		found := false
		for _, hinc := range m.host.IncidencesOfEdge(hostEdgeID) {
			if hinc.NodeID == hostNodeID && hinc.Role == inc.Role && ordinalMatches(inc.Ordinal, hinc.Ordinal) {
				found = true
				break
			}
		}
		if !found {
			return Match{}, false
		}
	}

	match := Match{NodeBinding: a.nodes, EdgeBinding: a.edges}
	if !m.satisfiesDangling(match) {
		return Match{}, false
	}
	return match, true
}

// satisfiesDangling enforces §4.6.1's dangling-edge condition: deleting
// m(L\I) must leave no host edge with a missing endpoint. Equivalently,
// every host incidence touching a deleted node must belong to a host
// edge that is itself being deleted.
func (m *Matcher) satisfiesDangling(match Match) bool {
	deletedEdgeHostIDs := map[string]bool{}
	for _, ev := range m.rule.deletedEdgeVars() {
		if id, ok := match.EdgeBinding[ev]; ok {
			deletedEdgeHostIDs[id] = true
		}
	}
	for _, nv := range m.rule.deletedNodeVars() {
		hostNodeID, ok := match.NodeBinding[nv]
		if !ok {
			continue
		}
		for _, hinc := range m.host.IncidencesOfNode(hostNodeID) {
			if !deletedEdgeHostIDs[hinc.EdgeID] {
				return false
			}
		}
	}
	return true
}

// ErrNoMatch is returned by callers that require at least one match and
// find none.
var ErrNoMatch = kerr.Execution("no match found").WithContext("reason", "MatcherFailure")
