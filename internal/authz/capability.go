// Package authz implements the Authorization Gate (§4.9, C10): a
// capability-first decision procedure over Principal/Resource pairs,
// with a legacy role/permission fallback per DESIGN.md Open Question 3.
// There is no single teacher file this generalizes (DESIGN.md notes no
// direct analogue); the shape follows §4.9's own vocabulary directly —
// capabilities are delegable and attenuable, and every mutation returns
// a new immutable set rather than touching the caller's value, matching
// the rest of this module's "plan/strategy values are immutable" style
// (storeplan.Plan, rewrite.Strategy).
package authz

import "path"

// Capability is an unforgeable token of authority: it covers every
// Resource of ResourceType on which Action is requested, scoped by a
// glob Scope pattern matched against the resource's optional ID
// ("project/*" covers "project/A" and "project/B"; "project/A" covers
// only itself).
type Capability struct {
	ResourceType string
	Action       string
	Scope        string
}

// covers reports whether c authorizes action on a resource of typ with
// the given optional id.
func (c Capability) covers(typ, action string, id *string) bool {
	if c.ResourceType != typ || c.Action != action {
		return false
	}
	if c.Scope == "" || c.Scope == "*" {
		return true
	}
	if id == nil {
		// A scoped capability says nothing about an unscoped resource;
		// require an explicit wildcard for that case.
		return false
	}
	ok, err := path.Match(c.Scope, *id)
	return err == nil && ok
}

// CapabilitySet is an immutable collection of Capabilities. The zero
// value is an empty set.
type CapabilitySet []Capability

// Grant returns a new CapabilitySet with cap added, leaving the
// receiver untouched (§3.5-style immutability: "granting a capability
// yields a new capability-set value").
func (s CapabilitySet) Grant(cap Capability) CapabilitySet {
	out := make(CapabilitySet, len(s), len(s)+1)
	copy(out, s)
	return append(out, cap)
}

// Attenuate narrows every capability in s matching resourceType+action
// to scope, intersecting restrictions rather than widening them: a
// capability already scoped to a single id is not widened by
// attenuating to a broader pattern. Capabilities on other
// (resourceType, action) pairs pass through unchanged.
func (s CapabilitySet) Attenuate(resourceType, action, scope string) CapabilitySet {
	out := make(CapabilitySet, 0, len(s))
	for _, c := range s {
		if c.ResourceType == resourceType && c.Action == action {
			narrowed, ok := intersectScope(c.Scope, scope)
			if !ok {
				continue // disjoint scopes: attenuation revokes this capability entirely
			}
			c.Scope = narrowed
		}
		out = append(out, c)
	}
	return out
}

// intersectScope returns the narrower of two glob scopes when one is a
// refinement of the other, since the closed-form intersection of two
// arbitrary globs is not generally itself a single glob. "*"/"" is the
// universal scope; a literal id is the narrowest. A pattern that does
// not match the other pattern's literal form is treated as disjoint.
func intersectScope(a, b string) (string, bool) {
	if a == "" || a == "*" {
		return b, true
	}
	if b == "" || b == "*" {
		return a, true
	}
	if ok, err := path.Match(a, b); err == nil && ok {
		return b, true // b is a literal (or narrower) refinement of a
	}
	if ok, err := path.Match(b, a); err == nil && ok {
		return a, true
	}
	if a == b {
		return a, true
	}
	return "", false
}
