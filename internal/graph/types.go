// Package graph implements the Program Interaction Hypergraph (PIH): the
// primary content-addressed graph model of nodes, hyperedges, and typed
// incidences (§3.2, §4.2). Grounded on original_source's
// kotoba-vm-gnn/src/cid.rs core types (Node/Edge/Incidence carrying
// kind/type/attributes/cid) and on the teacher's knowledge-graph table
// shape in internal/store/local_core.go (entity_a/relation/entity_b),
// generalized here to genuine hyperedges instead of binary links.
package graph

import "github.com/kotobadb/core/internal/cidkit"

// Attrs is the typed attribute grammar (§9: "Dynamic attribute mappings
// remain a typed value grammar — never arbitrary host-runtime values").
type Attrs = cidkit.Map

// NodeKind is the variant tag distinguishing a node's structural role.
type NodeKind string

// EdgeKind is the variant tag distinguishing an edge's structural role.
type EdgeKind string

// Role is the variant tag an incidence assigns to its node within an
// edge (e.g. "source", "target", "operand", "witness").
type Role string

// Node is a PIH vertex. ID is allocation identity (opaque, stable); CID
// is a pure function of (Kind, Type, Attributes) only, so two nodes with
// identical content share a CID but may carry distinct IDs (§3.2
// invariant).
type Node struct {
	ID         string
	Kind       NodeKind
	Type       string
	Attributes Attrs
	CID        string
}

func (n Node) canonicalValue() cidkit.Value {
	m := cidkit.NewMap().
		Set("kind", cidkit.String(n.Kind)).
		Set("type", cidkit.String(n.Type))
	if len(n.Attributes.Entries) > 0 {
		m = m.Set("attributes", n.Attributes)
	}
	return m
}

// Edge is a PIH hyperedge: a single edge may connect any number of nodes
// via Incidences (§3.2 "Hyperedges"). Label is optional and omitted from
// the canonical form when empty (§3.1 "Absent optional fields are
// omitted entirely").
type Edge struct {
	ID         string
	Kind       EdgeKind
	Label      *string
	Attributes Attrs
	CID        string
}

func (e Edge) canonicalValue() cidkit.Value {
	m := cidkit.NewMap().Set("kind", cidkit.String(e.Kind))
	if e.Label != nil {
		m = m.Set("label", cidkit.String(*e.Label))
	}
	if len(e.Attributes.Entries) > 0 {
		m = m.Set("attributes", e.Attributes)
	}
	return m
}

// Incidence expresses which node plays which role in which edge.
// Ordinal, when present, must be unique among incidences of the same
// edge with the same role (§4.2 edge case).
type Incidence struct {
	ID         string
	EdgeID     string
	NodeID     string
	Role       Role
	Ordinal    *int
	Attributes Attrs
	CID        string
}

func (i Incidence) canonicalValue() cidkit.Value {
	m := cidkit.NewMap().
		Set("edge_id", cidkit.String(i.EdgeID)).
		Set("node_id", cidkit.String(i.NodeID)).
		Set("role", cidkit.String(i.Role))
	if i.Ordinal != nil {
		m = m.Set("ordinal", cidkit.Int(int64(*i.Ordinal)))
	}
	if len(i.Attributes.Entries) > 0 {
		m = m.Set("attributes", i.Attributes)
	}
	return m
}

// Subgraph is a named view over a subset of a Graph's entities (§3.2
// data model table).
type Subgraph struct {
	ID         string
	Name       string
	NodeIDs    []string
	EdgeIDs    []string
	Attributes Attrs
}
