package rewrite

import (
	"github.com/kotobadb/core/internal/cidkit"
	"github.com/kotobadb/core/internal/graph"
)

// Application is the outcome of applying a Match: the extended binding
// (covering Right's added vars too) and the Delta describing every
// entity-level change, ready for C8 replay.
type Application struct {
	Match Match
	Delta graph.Delta
}

// Applicator performs the DPO pushout for a single Rule against a
// mutable working copy of the host graph (§4.6.2): delete m(L\I), glue
// in a fresh copy of R\I, reconnect via the interface, recompute CIDs.
type Applicator struct {
	rule Rule
}

func NewApplicator(rule Rule) *Applicator {
	return &Applicator{rule: rule}
}

func patternAttrs(attrs map[string]cidkit.Value) graph.Attrs {
	m := cidkit.NewMap()
	for k, v := range attrs {
		m = m.Set(k, v)
	}
	return m
}

// Apply mutates g in place according to match, returning the resulting
// Application (extended binding + delta). g should be a private working
// copy (e.g. graph.Snapshot.ToGraph()); the caller publishes the result
// through MVCC once satisfied.
func (ap *Applicator) Apply(g *graph.Graph, match Match) (Application, error) {
	var delta graph.Delta

	// 1. Delete L\I edges explicitly (their own incidences cascade).
	for _, ev := range ap.rule.deletedEdgeVars() {
		hostID, ok := match.EdgeBinding[ev]
		if !ok {
			continue
		}
		if _, exists := g.Edge(hostID); exists {
			if err := g.RemoveEdge(hostID); err != nil {
				return Application{}, err
			}
			delta.Changes = append(delta.Changes, graph.Change{Kind: graph.ChangeRemoveEdge, EntityID: hostID})
		}
	}

	// 2. Delete L\I nodes (cascades any edge left with zero incidences,
	// which the dangling condition guarantees is exactly the deletable
	// set and nothing the rule didn't account for).
	for _, nv := range ap.rule.deletedNodeVars() {
		hostID, ok := match.NodeBinding[nv]
		if !ok {
			continue
		}
		if _, exists := g.Node(hostID); exists {
			if err := g.RemoveNode(hostID); err != nil {
				return Application{}, err
			}
			delta.Changes = append(delta.Changes, graph.Change{Kind: graph.ChangeRemoveNode, EntityID: hostID})
		}
	}

	extended := Match{
		NodeBinding: copyStrMap(match.NodeBinding),
		EdgeBinding: copyStrMap(match.EdgeBinding),
	}

	// 3. Glue in R\I nodes.
	for _, nv := range ap.rule.addedNodeVars() {
		pn, _ := ap.rule.Right.nodeByVar(nv)
		n, err := g.AddNode(pn.Kind, pn.Type, patternAttrs(pn.Attrs))
		if err != nil {
			return Application{}, err
		}
		extended.NodeBinding[nv] = n.ID
		delta.Changes = append(delta.Changes, graph.Change{Kind: graph.ChangeUpsertNode, EntityID: n.ID, Node: &n})
	}

	// 4. Glue in R\I edges (as zero-incidence shells; incidences follow).
	for _, ev := range ap.rule.addedEdgeVars() {
		pe, _ := ap.rule.Right.edgeByVar(ev)
		e, err := g.AddEdge(pe.Kind, pe.Label, graph.Attrs{})
		if err != nil {
			return Application{}, err
		}
		extended.EdgeBinding[ev] = e.ID
		delta.Changes = append(delta.Changes, graph.Change{Kind: graph.ChangeUpsertEdge, EntityID: e.ID, Edge: &e})
	}

	// 5. Add every Right incidence not already present via the
	// Interface (i.e. one whose (edge,node,role,ordinal) tuple has no
	// Interface counterpart) — this both wires up freshly glued
	// entities and reconnects surviving Interface entities with new
	// relationships the rule introduces.
	for _, inc := range ap.rule.Right.Incidences {
		if interfaceHasIncidence(ap.rule.Interface, inc) {
			continue
		}
		edgeID, ok := extended.EdgeBinding[inc.EdgeVar]
		if !ok {
			continue
		}
		nodeID, ok := extended.NodeBinding[inc.NodeVar]
		if !ok {
			continue
		}
		newInc, err := g.AddIncidence(edgeID, nodeID, inc.Role, inc.Ordinal, graph.Attrs{})
		if err != nil {
			return Application{}, err
		}
		delta.Changes = append(delta.Changes, graph.Change{Kind: graph.ChangeUpsertIncidence, EntityID: newInc.ID, Incidence: &newInc})
	}

	root, err := g.ComputeAllCIDs()
	if err != nil {
		return Application{}, err
	}
	delta.RootCID = root

	return Application{Match: extended, Delta: delta}, nil
}

func interfaceHasIncidence(iface Pattern, inc PatternIncidence) bool {
	for _, i := range iface.Incidences {
		if i.EdgeVar == inc.EdgeVar && i.NodeVar == inc.NodeVar && i.Role == inc.Role && ordinalEqual(i.Ordinal, inc.Ordinal) {
			return true
		}
	}
	return false
}

func ordinalEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func copyStrMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
