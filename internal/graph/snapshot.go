package graph

// Snapshot is an immutable deep copy of a Graph at a point in time,
// grounded on the teacher's copy-on-read idiom in local_graph.go's
// QueryLinks (every read path returns its own slice, never a reference
// into the live table). C6 and C7 open a Snapshot before matching or
// committing so a concurrent mutation of the live Graph cannot be
// observed mid-operation; C9 reads through one for the same reason.
type Snapshot struct {
	nodes      map[string]Node
	edges      map[string]Edge
	incidences map[string]Incidence
	subgraphs  map[string]Subgraph
	rootCID    string
}

// Snapshot returns an immutable handle over g's current state (§4.2
// "snapshot").
func (g *Graph) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s := Snapshot{
		nodes:      make(map[string]Node, len(g.nodes)),
		edges:      make(map[string]Edge, len(g.edges)),
		incidences: make(map[string]Incidence, len(g.incidences)),
		subgraphs:  make(map[string]Subgraph, len(g.subgraphs)),
		rootCID:    g.rootCID,
	}
	for k, v := range g.nodes {
		s.nodes[k] = v
	}
	for k, v := range g.edges {
		s.edges[k] = v
	}
	for k, v := range g.incidences {
		s.incidences[k] = v
	}
	for k, v := range g.subgraphs {
		s.subgraphs[k] = v
	}
	return s
}

func (s Snapshot) Node(id string) (Node, bool)           { n, ok := s.nodes[id]; return n, ok }
func (s Snapshot) Edge(id string) (Edge, bool)            { e, ok := s.edges[id]; return e, ok }
func (s Snapshot) Incidence(id string) (Incidence, bool)  { i, ok := s.incidences[id]; return i, ok }
func (s Snapshot) RootCID() string                        { return s.rootCID }

func (s Snapshot) AllNodes() []Node {
	out := make([]Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	return out
}

func (s Snapshot) AllEdges() []Edge {
	out := make([]Edge, 0, len(s.edges))
	for _, e := range s.edges {
		out = append(out, e)
	}
	return out
}

func (s Snapshot) IncidencesOfEdge(edgeID string) []Incidence {
	var out []Incidence
	for _, inc := range s.incidences {
		if inc.EdgeID == edgeID {
			out = append(out, inc)
		}
	}
	return out
}

func (s Snapshot) IncidencesOfNode(nodeID string) []Incidence {
	var out []Incidence
	for _, inc := range s.incidences {
		if inc.NodeID == nodeID {
			out = append(out, inc)
		}
	}
	return out
}

// SubgraphMembers returns the member node and edge ids of the named
// view, plus whether it exists.
func (s Snapshot) SubgraphMembers(id string) (nodeIDs, edgeIDs []string, ok bool) {
	sg, found := s.subgraphs[id]
	if !found {
		return nil, nil, false
	}
	return append([]string(nil), sg.NodeIDs...), append([]string(nil), sg.EdgeIDs...), true
}

// ToGraph rehydrates a mutable Graph from the snapshot's contents, for
// callers (C7's applicator) that need to stage edits against a private
// working copy before publishing them back through MVCC.
func (s Snapshot) ToGraph() *Graph {
	g := New()
	for id, n := range s.nodes {
		g.nodes[id] = n
	}
	for id, e := range s.edges {
		g.edges[id] = e
		g.incidencesByEdge[id] = map[string]struct{}{}
	}
	for id, inc := range s.incidences {
		g.incidences[id] = inc
		if g.incidencesByEdge[inc.EdgeID] == nil {
			g.incidencesByEdge[inc.EdgeID] = map[string]struct{}{}
		}
		g.incidencesByEdge[inc.EdgeID][id] = struct{}{}
		if g.incidencesByNode[inc.NodeID] == nil {
			g.incidencesByNode[inc.NodeID] = map[string]struct{}{}
		}
		g.incidencesByNode[inc.NodeID][id] = struct{}{}
	}
	for id, sg := range s.subgraphs {
		g.subgraphs[id] = sg
	}
	g.rootCID = s.rootCID
	return g
}
