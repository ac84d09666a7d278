package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/kotobadb/core/internal/cidkit"
	"github.com/kotobadb/core/internal/kerr"
)

// Graph is the mutable PIH aggregate. All mutation goes through its
// methods so the invariants of §3.2/§4.2 are enforced in one place; a
// Graph is never exposed to a caller with incidences that dangle.
type Graph struct {
	mu         sync.RWMutex
	nodes      map[string]Node
	edges      map[string]Edge
	incidences map[string]Incidence
	subgraphs  map[string]Subgraph
	// incidencesByEdge and incidencesByNode index incidences for O(1)
	// cascade lookups on remove.
	incidencesByEdge map[string]map[string]struct{}
	incidencesByNode map[string]map[string]struct{}
	rootCID          string
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		nodes:            map[string]Node{},
		edges:            map[string]Edge{},
		incidences:       map[string]Incidence{},
		subgraphs:        map[string]Subgraph{},
		incidencesByEdge: map[string]map[string]struct{}{},
		incidencesByNode: map[string]map[string]struct{}{},
	}
}

func newID() string { return uuid.NewString() }

// AddNode allocates a new Node with a fresh ID, computes its CID, and
// inserts it.
func (g *Graph) AddNode(kind NodeKind, typ string, attrs Attrs) (Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := Node{ID: newID(), Kind: kind, Type: typ, Attributes: ensureAttrs(attrs)}
	cid, err := cidkit.CID(n.canonicalValue())
	if err != nil {
		return Node{}, err
	}
	n.CID = cid
	g.nodes[n.ID] = n
	return n, nil
}

// AddEdge allocates a new zero-incidence Edge shell. Per §4.2 "An edge
// with zero incidences is ill-formed", the edge is not durably valid
// until at least one AddIncidence call succeeds against it; callers must
// add incidences before the edge is considered part of a well-formed
// graph (Graph.Validate enforces this for the whole aggregate).
func (g *Graph) AddEdge(kind EdgeKind, label *string, attrs Attrs) (Edge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := Edge{ID: newID(), Kind: kind, Label: label, Attributes: ensureAttrs(attrs)}
	cid, err := cidkit.CID(e.canonicalValue())
	if err != nil {
		return Edge{}, err
	}
	e.CID = cid
	g.edges[e.ID] = e
	g.incidencesByEdge[e.ID] = map[string]struct{}{}
	return e, nil
}

// AddIncidence links nodeID into edgeID under role, enforcing the
// referential invariant (both must exist), the ordinal-uniqueness
// invariant, and self-incidence is explicitly allowed (§4.2 edge case).
func (g *Graph) AddIncidence(edgeID, nodeID string, role Role, ordinal *int, attrs Attrs) (Incidence, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.edges[edgeID]; !ok {
		return Incidence{}, kerr.GraphInvariant("incidence references a nonexistent edge").WithContext("edge_id", edgeID)
	}
	if _, ok := g.nodes[nodeID]; !ok {
		return Incidence{}, kerr.GraphInvariant("incidence references a nonexistent node").WithContext("node_id", nodeID)
	}
	if ordinal != nil {
		for incID := range g.incidencesByEdge[edgeID] {
			existing := g.incidences[incID]
			if existing.Role == role && existing.Ordinal != nil && *existing.Ordinal == *ordinal {
				return Incidence{}, kerr.GraphInvariant("duplicate (edge, node, role, ordinal)").
					WithContext("edge_id", edgeID).WithContext("role", role).WithContext("ordinal", *ordinal)
			}
		}
	}

	inc := Incidence{ID: newID(), EdgeID: edgeID, NodeID: nodeID, Role: role, Ordinal: ordinal, Attributes: ensureAttrs(attrs)}
	cid, err := cidkit.CID(inc.canonicalValue())
	if err != nil {
		return Incidence{}, err
	}
	inc.CID = cid

	g.incidences[inc.ID] = inc
	if g.incidencesByEdge[edgeID] == nil {
		g.incidencesByEdge[edgeID] = map[string]struct{}{}
	}
	g.incidencesByEdge[edgeID][inc.ID] = struct{}{}
	if g.incidencesByNode[nodeID] == nil {
		g.incidencesByNode[nodeID] = map[string]struct{}{}
	}
	g.incidencesByNode[nodeID][inc.ID] = struct{}{}
	return inc, nil
}

// RemoveNode removes nodeID, cascading: every incidence referencing it is
// removed, and every edge all of whose incidences would thereby vanish is
// removed too (§3.2 Invariants, §4.2 cascades).
func (g *Graph) RemoveNode(nodeID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.removeNodeLocked(nodeID)
}

func (g *Graph) removeNodeLocked(nodeID string) error {
	if _, ok := g.nodes[nodeID]; !ok {
		return kerr.GraphInvariant("remove_node: node does not exist").WithContext("node_id", nodeID)
	}

	affectedEdges := map[string]struct{}{}
	for incID := range g.incidencesByNode[nodeID] {
		inc := g.incidences[incID]
		affectedEdges[inc.EdgeID] = struct{}{}
		delete(g.incidences, incID)
		delete(g.incidencesByEdge[inc.EdgeID], incID)
	}
	delete(g.incidencesByNode, nodeID)
	delete(g.nodes, nodeID)

	for edgeID := range affectedEdges {
		if len(g.incidencesByEdge[edgeID]) == 0 {
			delete(g.edges, edgeID)
			delete(g.incidencesByEdge, edgeID)
		}
	}
	g.pruneSubgraphReferences(nodeID, "")
	return nil
}

// RemoveEdge removes edgeID and every incidence that references it.
func (g *Graph) RemoveEdge(edgeID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.edges[edgeID]; !ok {
		return kerr.GraphInvariant("remove_edge: edge does not exist").WithContext("edge_id", edgeID)
	}
	for incID := range g.incidencesByEdge[edgeID] {
		inc := g.incidences[incID]
		delete(g.incidences, incID)
		delete(g.incidencesByNode[inc.NodeID], incID)
	}
	delete(g.incidencesByEdge, edgeID)
	delete(g.edges, edgeID)
	g.pruneSubgraphReferences("", edgeID)
	return nil
}

func (g *Graph) pruneSubgraphReferences(removedNode, removedEdge string) {
	for id, sg := range g.subgraphs {
		changed := false
		if removedNode != "" {
			sg.NodeIDs, changed = removeString(sg.NodeIDs, removedNode)
		}
		if removedEdge != "" {
			var changed2 bool
			sg.EdgeIDs, changed2 = removeString(sg.EdgeIDs, removedEdge)
			changed = changed || changed2
		}
		if changed {
			g.subgraphs[id] = sg
		}
	}
}

func removeString(xs []string, target string) ([]string, bool) {
	out := xs[:0:0]
	changed := false
	for _, x := range xs {
		if x == target {
			changed = true
			continue
		}
		out = append(out, x)
	}
	return out, changed
}

// ReplaceAttributes replaces a node or edge's Attributes and recomputes
// its CID. kind must be "node" or "edge".
func (g *Graph) ReplaceAttributes(kind, id string, attrs Attrs) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch kind {
	case "node":
		n, ok := g.nodes[id]
		if !ok {
			return kerr.GraphInvariant("replace_attributes: node does not exist").WithContext("node_id", id)
		}
		n.Attributes = ensureAttrs(attrs)
		cid, err := cidkit.CID(n.canonicalValue())
		if err != nil {
			return err
		}
		n.CID = cid
		g.nodes[id] = n
	case "edge":
		e, ok := g.edges[id]
		if !ok {
			return kerr.GraphInvariant("replace_attributes: edge does not exist").WithContext("edge_id", id)
		}
		e.Attributes = ensureAttrs(attrs)
		cid, err := cidkit.CID(e.canonicalValue())
		if err != nil {
			return err
		}
		e.CID = cid
		g.edges[id] = e
	default:
		return kerr.GraphInvariant(fmt.Sprintf("replace_attributes: unknown entity kind %q", kind))
	}
	return nil
}

// AddSubgraph registers a named view over the given members.
func (g *Graph) AddSubgraph(name string, nodeIDs, edgeIDs []string, attrs Attrs) (Subgraph, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range nodeIDs {
		if _, ok := g.nodes[id]; !ok {
			return Subgraph{}, kerr.GraphInvariant("subgraph references a nonexistent node").WithContext("node_id", id)
		}
	}
	for _, id := range edgeIDs {
		if _, ok := g.edges[id]; !ok {
			return Subgraph{}, kerr.GraphInvariant("subgraph references a nonexistent edge").WithContext("edge_id", id)
		}
	}
	sg := Subgraph{ID: newID(), Name: name, NodeIDs: append([]string(nil), nodeIDs...), EdgeIDs: append([]string(nil), edgeIDs...), Attributes: ensureAttrs(attrs)}
	g.subgraphs[sg.ID] = sg
	return sg, nil
}

// RemoveSubgraph removes a named view; it has no cascading effect on
// member nodes/edges, since a Subgraph is a view, not an owner.
func (g *Graph) RemoveSubgraph(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.subgraphs[id]; !ok {
		return kerr.GraphInvariant("remove_subgraph: subgraph does not exist").WithContext("subgraph_id", id)
	}
	delete(g.subgraphs, id)
	return nil
}

// Validate fails if any invariant of §3.2/§4.2 is currently
// violated: an edge with zero incidences, or an incidence whose edge or
// node no longer exists. The mutation methods above never leave an
// incidence dangling, but AddEdge leaves a zero-incidence edge until
// AddIncidence attaches one, and Validate reports such an edge. It also
// checks graphs built by other means (e.g. deserialized from storage).
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for edgeID := range g.edges {
		if len(g.incidencesByEdge[edgeID]) == 0 {
			return kerr.GraphInvariant("edge has zero incidences").WithContext("edge_id", edgeID)
		}
	}
	for _, inc := range g.incidences {
		if _, ok := g.edges[inc.EdgeID]; !ok {
			return kerr.GraphInvariant("incidence references a nonexistent edge").WithContext("edge_id", inc.EdgeID)
		}
		if _, ok := g.nodes[inc.NodeID]; !ok {
			return kerr.GraphInvariant("incidence references a nonexistent node").WithContext("node_id", inc.NodeID)
		}
	}
	return nil
}

// ComputeAllCIDs recomputes every entity's CID and then the graph root
// CID (§4.2), returning the new root.
func (g *Graph) ComputeAllCIDs() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.computeAllCIDsLocked()
}

func (g *Graph) computeAllCIDsLocked() (string, error) {
	all := make([]string, 0, len(g.nodes)+len(g.edges)+len(g.incidences))

	for id, n := range g.nodes {
		cid, err := cidkit.CID(n.canonicalValue())
		if err != nil {
			return "", err
		}
		n.CID = cid
		g.nodes[id] = n
		all = append(all, cid)
	}
	for id, e := range g.edges {
		cid, err := cidkit.CID(e.canonicalValue())
		if err != nil {
			return "", err
		}
		e.CID = cid
		g.edges[id] = e
		all = append(all, cid)
	}
	for id, inc := range g.incidences {
		cid, err := cidkit.CID(inc.canonicalValue())
		if err != nil {
			return "", err
		}
		inc.CID = cid
		g.incidences[id] = inc
		all = append(all, cid)
	}

	sort.Strings(all)
	root, err := cidkit.MerkleRoot(all)
	if err != nil {
		return "", err
	}
	g.rootCID = root
	return root, nil
}

// RootCID returns the last computed graph root CID, empty if
// ComputeAllCIDs has never run.
func (g *Graph) RootCID() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rootCID
}

// Node, Edge, Incidence, Subgraph are read accessors returning a copy.
func (g *Graph) Node(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

func (g *Graph) Edge(id string) (Edge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.edges[id]
	return e, ok
}

func (g *Graph) Incidence(id string) (Incidence, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	i, ok := g.incidences[id]
	return i, ok
}

// IncidencesOfEdge returns all incidences attached to edgeID.
func (g *Graph) IncidencesOfEdge(edgeID string) []Incidence {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Incidence, 0, len(g.incidencesByEdge[edgeID]))
	for id := range g.incidencesByEdge[edgeID] {
		out = append(out, g.incidences[id])
	}
	return out
}

// IncidencesOfNode returns all incidences attached to nodeID.
func (g *Graph) IncidencesOfNode(nodeID string) []Incidence {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Incidence, 0, len(g.incidencesByNode[nodeID]))
	for id := range g.incidencesByNode[nodeID] {
		out = append(out, g.incidences[id])
	}
	return out
}

// AllNodes, AllEdges return copies of every entity, for scanning.
func (g *Graph) AllNodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	return out
}

func (g *Graph) AllEdges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	return out
}

func ensureAttrs(a Attrs) Attrs {
	if a.Entries == nil {
		return cidkit.NewMap()
	}
	return a
}
