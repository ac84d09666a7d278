// Package cidkit implements content-identifier computation: canonical
// byte serialization of the closed value grammar (§3.1, §9), digesting,
// and multibase encoding. It is grounded on original_source's
// kotoba-vm-gnn/src/cid.rs, which pins the three digest functions and
// four multibase prefixes this package implements.
package cidkit

import "sort"

// Value is the closed, tagged-variant grammar canonicalization accepts.
// Nothing outside this grammar is representable — per §9 ("tagged
// variants + static schema"), host-runtime values never escape into the
// canonical form directly; callers convert their domain types into a
// Value tree first.
type Value interface{ isValue() }

type String string

func (String) isValue() {}

// Number is the canonical numeric value. Only one of Int/Float is
// meaningful, selected by IsFloat.
type Number struct {
	Int     int64
	Float   float64
	IsFloat bool
}

func (Number) isValue() {}

func Int(v int64) Number      { return Number{Int: v} }
func Float(v float64) Number  { return Number{Float: v, IsFloat: true} }

type Bool bool

func (Bool) isValue() {}

// Sequence is an ordered array; element order is part of its content.
type Sequence []Value

func (Sequence) isValue() {}

// Set is an unordered array of strings; canonicalization sorts it so two
// Sets with the same members serialize identically regardless of
// construction order (§3.1 "Arrays of strings that represent unordered
// sets are lexicographically sorted").
type Set []string

func (Set) isValue() {}

// Map is an ordered-key mapping; canonicalization always sorts keys
// lexicographically (§3.1) regardless of the order Entries were built in.
type Map struct {
	Entries map[string]Value
}

func (Map) isValue() {}

func NewMap() Map { return Map{Entries: map[string]Value{}} }

func (m Map) Set(key string, v Value) Map {
	m.Entries[key] = v
	return m
}

// sortedKeys returns m's keys in lexicographic order.
func (m Map) sortedKeys() []string {
	keys := make([]string, 0, len(m.Entries))
	for k := range m.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
