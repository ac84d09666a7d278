package query

import (
	"github.com/kotobadb/core/internal/cidkit"
	"github.com/kotobadb/core/internal/graph"
	"github.com/kotobadb/core/internal/projection"
)

// IndexDef declares one property index: every node of Label carries an
// equality-indexable Property.
type IndexDef struct {
	Label    string
	Property string
}

func (d IndexDef) key() string { return d.Label + "." + d.Property }

// PropertyIndex is a built equality index: Property value (canonically
// serialized) to the ids of every node of Label carrying that value.
type PropertyIndex struct {
	def    IndexDef
	byVal  map[string][]string
}

// Lookup returns the node ids whose Property equals v.
func (p *PropertyIndex) Lookup(v cidkit.Value) []string {
	key, err := cidkit.Canonicalize(v)
	if err != nil {
		return nil
	}
	return p.byVal[string(key)]
}

// Catalog is the Executor's index bookkeeping: which property indexes
// exist and their built contents, keyed by "Label.Property". Grounded
// on the teacher's internal/mangle/engine.go predicateIndex
// map[string]ast.PredicateSym field, which the same way holds a name ->
// declaration index consulted by the planner/executor before falling
// back to a full scan; here the declarations are property indexes
// instead of Datalog predicate symbols.
type Catalog struct {
	defs    map[string]IndexDef
	indexes map[string]*PropertyIndex
}

// NewCatalog returns an empty index catalog.
func NewCatalog() *Catalog {
	return &Catalog{defs: map[string]IndexDef{}, indexes: map[string]*PropertyIndex{}}
}

// Declare registers that Label.Property should be indexed. The index
// itself is (re)built lazily by Build.
func (c *Catalog) Declare(def IndexDef) {
	c.defs[def.key()] = def
}

// Has reports whether an index is declared for label.property, the
// question the Planner asks when choosing IndexScan vs FullScan.
func (c *Catalog) Has(label, property string) bool {
	_, ok := c.defs[IndexDef{Label: label, Property: property}.key()]
	return ok
}

// Build (re)computes every declared index's contents from the current
// materialized graph. Cheap enough to call once per query; a long-lived
// deployment would instead refresh indexes incrementally off
// projection.Engine.Tick, which is out of scope here.
func (c *Catalog) Build(proj *projection.Engine) {
	for key, def := range c.defs {
		idx := &PropertyIndex{def: def, byVal: map[string][]string{}}
		nodes := proj.ScanNodes(func(n graph.Node) bool { return n.Type == def.Label })
		for _, n := range nodes {
			v, ok := n.Attributes.Entries[def.Property]
			if !ok {
				continue
			}
			ck, err := cidkit.Canonicalize(v)
			if err != nil {
				continue
			}
			idx.byVal[string(ck)] = append(idx.byVal[string(ck)], n.ID)
		}
		c.indexes[key] = idx
	}
}

// Lookup returns the built index for label.property, if declared.
func (c *Catalog) Lookup(label, property string) (*PropertyIndex, bool) {
	idx, ok := c.indexes[IndexDef{Label: label, Property: property}.key()]
	return idx, ok
}
