package rewrite

import (
	"github.com/kotobadb/core/internal/cidkit"
	"github.com/kotobadb/core/internal/kerr"
)

// Rule is a DPO rewrite rule: three graph patterns (Left, Interface,
// Right) with the morphisms Left<-Interface->Right expressed implicitly
// by shared VarIDs — every node/edge var that appears in Interface must
// also appear (by VarID) in both Left and Right, which is how this
// package encodes "Interface embeds into both sides" without a separate
// morphism table (§3.5). CID is the hash of the canonical (Left,
// Interface, Right) tuple.
type Rule struct {
	Name      string
	Left      Pattern
	Interface Pattern
	Right     Pattern
	CID       string
}

func (r Rule) canonicalValue() cidkit.Value {
	return cidkit.NewMap().
		Set("name", cidkit.String(r.Name)).
		Set("left", r.Left.canonicalValue()).
		Set("interface", r.Interface.canonicalValue()).
		Set("right", r.Right.canonicalValue())
}

// NewRule validates and CID-stamps a rule: every Interface var must be
// present (by VarID) in both Left and Right.
func NewRule(name string, left, iface, right Pattern) (Rule, error) {
	for _, n := range iface.Nodes {
		if _, ok := left.nodeByVar(n.VarID); !ok {
			return Rule{}, kerr.Execution("interface node var missing from Left").WithContext("var", n.VarID)
		}
		if _, ok := right.nodeByVar(n.VarID); !ok {
			return Rule{}, kerr.Execution("interface node var missing from Right").WithContext("var", n.VarID)
		}
	}
	for _, e := range iface.Edges {
		if _, ok := left.edgeByVar(e.VarID); !ok {
			return Rule{}, kerr.Execution("interface edge var missing from Left").WithContext("var", e.VarID)
		}
		if _, ok := right.edgeByVar(e.VarID); !ok {
			return Rule{}, kerr.Execution("interface edge var missing from Right").WithContext("var", e.VarID)
		}
	}
	r := Rule{Name: name, Left: left, Interface: iface, Right: right}
	cid, err := cidkit.CID(r.canonicalValue())
	if err != nil {
		return Rule{}, err
	}
	r.CID = cid
	return r, nil
}

// deletedNodeVars returns Left node vars not present in Interface — the
// L\I set the applicator deletes.
func (r Rule) deletedNodeVars() []string {
	var out []string
	for _, n := range r.Left.Nodes {
		if _, ok := r.Interface.nodeByVar(n.VarID); !ok {
			out = append(out, n.VarID)
		}
	}
	return out
}

func (r Rule) deletedEdgeVars() []string {
	var out []string
	for _, e := range r.Left.Edges {
		if _, ok := r.Interface.edgeByVar(e.VarID); !ok {
			out = append(out, e.VarID)
		}
	}
	return out
}

// addedNodeVars returns Right node vars not present in Interface — the
// R\I set the applicator glues in as fresh entities.
func (r Rule) addedNodeVars() []string {
	var out []string
	for _, n := range r.Right.Nodes {
		if _, ok := r.Interface.nodeByVar(n.VarID); !ok {
			out = append(out, n.VarID)
		}
	}
	return out
}

func (r Rule) addedEdgeVars() []string {
	var out []string
	for _, e := range r.Right.Edges {
		if _, ok := r.Interface.edgeByVar(e.VarID); !ok {
			out = append(out, e.VarID)
		}
	}
	return out
}
