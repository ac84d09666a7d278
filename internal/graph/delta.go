package graph

import "github.com/kotobadb/core/internal/cidkit"

// ChangeKind tags one entry of a Delta: which entity kind changed and
// whether it was upserted or removed. Deltas are how C7 (the rewrite
// applicator) and any other graph-mutating caller describe "what
// happened" in a form C8 (the projection engine) can replay from the
// transaction log without re-running the mutation itself.
type ChangeKind string

const (
	ChangeUpsertNode      ChangeKind = "upsert_node"
	ChangeUpsertEdge      ChangeKind = "upsert_edge"
	ChangeUpsertIncidence ChangeKind = "upsert_incidence"
	ChangeRemoveNode      ChangeKind = "remove_node"
	ChangeRemoveEdge      ChangeKind = "remove_edge"
	ChangeRemoveIncidence ChangeKind = "remove_incidence"
)

// Change is a single entity-level mutation. Only the field matching Kind
// is meaningful; removals carry just the EntityID.
type Change struct {
	Kind      ChangeKind
	EntityID  string
	Node      *Node
	Edge      *Edge
	Incidence *Incidence
}

// Delta is an ordered sequence of Changes plus the resulting root CID,
// the unit of replay C8 applies per transaction.
type Delta struct {
	Changes []Change
	RootCID string
}

func (c Change) canonicalValue() cidkit.Value {
	m := cidkit.NewMap().Set("kind", cidkit.String(c.Kind)).Set("entity_id", cidkit.String(c.EntityID))
	switch c.Kind {
	case ChangeUpsertNode:
		m = m.Set("node", c.Node.canonicalValue()).Set("node_id", cidkit.String(c.Node.ID)).Set("cid", cidkit.String(c.Node.CID))
	case ChangeUpsertEdge:
		m = m.Set("edge", c.Edge.canonicalValue()).Set("edge_id", cidkit.String(c.Edge.ID)).Set("cid", cidkit.String(c.Edge.CID))
	case ChangeUpsertIncidence:
		m = m.Set("incidence", c.Incidence.canonicalValue()).Set("incidence_id", cidkit.String(c.Incidence.ID)).Set("cid", cidkit.String(c.Incidence.CID))
	}
	return m
}

// EncodeDelta renders d as a cidkit.Value sequence suitable for
// embedding in a txlog.Transaction's operation payload.
func EncodeDelta(d Delta) cidkit.Value {
	seq := make(cidkit.Sequence, 0, len(d.Changes))
	for _, c := range d.Changes {
		seq = append(seq, c.canonicalValue())
	}
	return cidkit.NewMap().Set("changes", seq).Set("root_cid", cidkit.String(d.RootCID))
}

// DecodeDelta is the inverse of EncodeDelta, tolerant of the JSON
// round-trip through internal/cidkit.FromJSON (maps decode with
// interface{} values, not concrete cidkit types, until re-asserted).
func DecodeDelta(v cidkit.Value) (Delta, error) {
	m, ok := v.(cidkit.Map)
	if !ok {
		return Delta{}, errNotDelta
	}
	var d Delta
	if root, ok := m.Entries["root_cid"].(cidkit.String); ok {
		d.RootCID = string(root)
	}
	seq, ok := m.Entries["changes"].(cidkit.Sequence)
	if !ok {
		return d, nil
	}
	for _, raw := range seq {
		cm, ok := raw.(cidkit.Map)
		if !ok {
			continue
		}
		change, err := decodeChange(cm)
		if err != nil {
			return Delta{}, err
		}
		d.Changes = append(d.Changes, change)
	}
	return d, nil
}

func decodeChange(m cidkit.Map) (Change, error) {
	kind, _ := m.Entries["kind"].(cidkit.String)
	id, _ := m.Entries["entity_id"].(cidkit.String)
	c := Change{Kind: ChangeKind(kind), EntityID: string(id)}
	switch c.Kind {
	case ChangeUpsertNode:
		nodeID, _ := m.Entries["node_id"].(cidkit.String)
		cid, _ := m.Entries["cid"].(cidkit.String)
		nm, _ := m.Entries["node"].(cidkit.Map)
		kind, _ := nm.Entries["kind"].(cidkit.String)
		typ, _ := nm.Entries["type"].(cidkit.String)
		attrs, _ := nm.Entries["attributes"].(cidkit.Map)
		c.Node = &Node{ID: string(nodeID), Kind: NodeKind(kind), Type: string(typ), Attributes: ensureAttrs(attrs), CID: string(cid)}
	case ChangeUpsertEdge:
		edgeID, _ := m.Entries["edge_id"].(cidkit.String)
		cid, _ := m.Entries["cid"].(cidkit.String)
		em, _ := m.Entries["edge"].(cidkit.Map)
		kind, _ := em.Entries["kind"].(cidkit.String)
		attrs, _ := em.Entries["attributes"].(cidkit.Map)
		e := &Edge{ID: string(edgeID), Kind: EdgeKind(kind), Attributes: ensureAttrs(attrs), CID: string(cid)}
		if label, ok := em.Entries["label"].(cidkit.String); ok {
			s := string(label)
			e.Label = &s
		}
		c.Edge = e
	case ChangeUpsertIncidence:
		incID, _ := m.Entries["incidence_id"].(cidkit.String)
		cid, _ := m.Entries["cid"].(cidkit.String)
		im, _ := m.Entries["incidence"].(cidkit.Map)
		edgeID, _ := im.Entries["edge_id"].(cidkit.String)
		nodeID, _ := im.Entries["node_id"].(cidkit.String)
		role, _ := im.Entries["role"].(cidkit.String)
		attrs, _ := im.Entries["attributes"].(cidkit.Map)
		inc := &Incidence{ID: string(incID), EdgeID: string(edgeID), NodeID: string(nodeID), Role: Role(role), Attributes: ensureAttrs(attrs), CID: string(cid)}
		if ord, ok := im.Entries["ordinal"].(cidkit.Number); ok {
			n := int(ord.Int)
			inc.Ordinal = &n
		}
		c.Incidence = inc
	}
	return c, nil
}

var errNotDelta = &deltaErr{"operation payload is not a graph delta"}

type deltaErr struct{ s string }

func (e *deltaErr) Error() string { return e.s }

// ApplyDelta replays d's changes against g in order, used by C8 to fold
// one transaction's effect into the materialized view. Upserts overwrite
// whatever is already at EntityID (insert-or-update); removals are
// best-effort (a change for an entity already gone is a no-op).
func ApplyDelta(g *Graph, d Delta) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range d.Changes {
		switch c.Kind {
		case ChangeUpsertNode:
			g.nodes[c.Node.ID] = *c.Node
		case ChangeUpsertEdge:
			g.edges[c.Edge.ID] = *c.Edge
			if g.incidencesByEdge[c.Edge.ID] == nil {
				g.incidencesByEdge[c.Edge.ID] = map[string]struct{}{}
			}
		case ChangeUpsertIncidence:
			inc := *c.Incidence
			g.incidences[inc.ID] = inc
			if g.incidencesByEdge[inc.EdgeID] == nil {
				g.incidencesByEdge[inc.EdgeID] = map[string]struct{}{}
			}
			g.incidencesByEdge[inc.EdgeID][inc.ID] = struct{}{}
			if g.incidencesByNode[inc.NodeID] == nil {
				g.incidencesByNode[inc.NodeID] = map[string]struct{}{}
			}
			g.incidencesByNode[inc.NodeID][inc.ID] = struct{}{}
		case ChangeRemoveNode:
			for incID := range g.incidencesByNode[c.EntityID] {
				inc := g.incidences[incID]
				delete(g.incidences, incID)
				delete(g.incidencesByEdge[inc.EdgeID], incID)
			}
			delete(g.incidencesByNode, c.EntityID)
			delete(g.nodes, c.EntityID)
		case ChangeRemoveEdge:
			for incID := range g.incidencesByEdge[c.EntityID] {
				inc := g.incidences[incID]
				delete(g.incidences, incID)
				delete(g.incidencesByNode[inc.NodeID], incID)
			}
			delete(g.incidencesByEdge, c.EntityID)
			delete(g.edges, c.EntityID)
		case ChangeRemoveIncidence:
			if inc, ok := g.incidences[c.EntityID]; ok {
				delete(g.incidencesByEdge[inc.EdgeID], c.EntityID)
				delete(g.incidencesByNode[inc.NodeID], c.EntityID)
				delete(g.incidences, c.EntityID)
			}
		}
	}
	g.rootCID = d.RootCID
}
