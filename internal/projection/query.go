package projection

import "github.com/kotobadb/core/internal/graph"

// GetNode returns the materialized node with the given id.
func (e *Engine) GetNode(id string) (graph.Node, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.g.Node(id)
}

// GetEdge returns the materialized edge with the given id.
func (e *Engine) GetEdge(id string) (graph.Edge, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.g.Edge(id)
}

// ScanNodes returns every materialized node for which filter returns
// true; a nil filter returns every node (§4.7 scan_nodes).
func (e *Engine) ScanNodes(filter func(graph.Node) bool) []graph.Node {
	e.mu.RLock()
	defer e.mu.RUnlock()
	all := e.g.AllNodes()
	if filter == nil {
		return all
	}
	out := all[:0:0]
	for _, n := range all {
		if filter(n) {
			out = append(out, n)
		}
	}
	return out
}

// ScanEdges returns every materialized edge for which filter returns
// true; a nil filter returns every edge (§4.7 scan_edges).
func (e *Engine) ScanEdges(filter func(graph.Edge) bool) []graph.Edge {
	e.mu.RLock()
	defer e.mu.RUnlock()
	all := e.g.AllEdges()
	if filter == nil {
		return all
	}
	out := all[:0:0]
	for _, edge := range all {
		if filter(edge) {
			out = append(out, edge)
		}
	}
	return out
}

// IncidencesOfNode returns every incidence touching the given node.
func (e *Engine) IncidencesOfNode(nodeID string) []graph.Incidence {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.g.IncidencesOfNode(nodeID)
}

// IncidencesOfEdge returns every incidence belonging to the given edge.
func (e *Engine) IncidencesOfEdge(edgeID string) []graph.Incidence {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.g.IncidencesOfEdge(edgeID)
}

// TraversalStep is one hop recorded during Traverse: the edge crossed
// and the node landed on.
type TraversalStep struct {
	Edge graph.Edge
	Node graph.Node
}

// Traverse performs a breadth-first walk outward from start up to
// maxDepth hops (0 means start only), returning every node reached
// (start included) and the step that first reached each one. Nodes are
// visited at most once, at their shortest distance from start (§4.7
// traverse).
func (e *Engine) Traverse(start string, maxDepth int) ([]graph.Node, []TraversalStep) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	startNode, ok := e.g.Node(start)
	if !ok {
		return nil, nil
	}

	visited := map[string]bool{start: true}
	nodes := []graph.Node{startNode}
	var steps []TraversalStep

	frontier := []string{start}
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, nodeID := range frontier {
			for _, inc := range e.g.IncidencesOfNode(nodeID) {
				edge, ok := e.g.Edge(inc.EdgeID)
				if !ok {
					continue
				}
				for _, other := range e.g.IncidencesOfEdge(edge.ID) {
					if visited[other.NodeID] {
						continue
					}
					otherNode, ok := e.g.Node(other.NodeID)
					if !ok {
						continue
					}
					visited[other.NodeID] = true
					nodes = append(nodes, otherNode)
					steps = append(steps, TraversalStep{Edge: edge, Node: otherNode})
					next = append(next, other.NodeID)
				}
			}
		}
		frontier = next
	}
	return nodes, steps
}
