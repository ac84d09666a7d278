// Package storeplan is the pure value algebra for storage intents (§4.3,
// §6). A Plan describes what should happen to the key space without
// touching any backend; internal/storeengine is the effectful executor
// that actually applies one. Keeping this split pure mirrors the
// teacher's separation of transaction bodies (pure, serializable) from
// its sqlite executor in internal/store/local_core.go.
package storeplan

import (
	"fmt"
	"strings"

	"github.com/kotobadb/core/internal/kerr"
)

// Key addresses a single storage cell. SubKey is optional and lets a
// namespace hold composite rows (e.g. a node's attributes alongside its
// CID) without a second round trip.
type Key struct {
	Namespace string
	Key       string
	SubKey    *string
}

// String renders "namespace:key" or "namespace:key:sub_key" (§4.3).
func (k Key) String() string {
	if k.SubKey != nil {
		return fmt.Sprintf("%s:%s:%s", k.Namespace, k.Key, *k.SubKey)
	}
	return fmt.Sprintf("%s:%s", k.Namespace, k.Key)
}

// OpKind tags a single storage operation's variant.
type OpKind string

const (
	OpGet    OpKind = "Get"
	OpPut    OpKind = "Put"
	OpDelete OpKind = "Delete"
	OpExists OpKind = "Exists"
	OpList   OpKind = "List"
	OpBatch  OpKind = "Batch"
)

// Op is a single storage intent. Value is meaningful only for Put.
// Prefix is meaningful only for List (it scans every key whose Namespace
// matches and whose Key has Prefix as a string prefix). Ops is meaningful
// only for Batch, which groups a sequence of other ops to apply
// atomically.
type Op struct {
	Kind   OpKind
	Key    Key
	Value  []byte
	Prefix string
	Ops    []Op
}

func Get(k Key) Op             { return Op{Kind: OpGet, Key: k} }
func Put(k Key, value []byte) Op { return Op{Kind: OpPut, Key: k, Value: value} }
func Delete(k Key) Op           { return Op{Kind: OpDelete, Key: k} }
func Exists(k Key) Op           { return Op{Kind: OpExists, Key: k} }
func List(namespace, prefix string) Op {
	return Op{Kind: OpList, Key: Key{Namespace: namespace}, Prefix: prefix}
}
func Batch(ops ...Op) Op { return Op{Kind: OpBatch, Ops: ops} }

// Plan is a complete storage intent: a sequence of Ops plus the
// concurrency-control metadata MVCC attaches (§4.5). ExpectedVersion, if
// set, makes the whole plan a compare-and-swap: every key the plan writes
// must currently carry that per-row version. ReadOnly plans never acquire
// write locks.
type Plan struct {
	Ops             []Op
	ExpectedVersion *uint64
	ReadOnly        bool
}

// Validate rejects structurally malformed plans: an empty Ops list, a Put
// with an empty key, a List with an empty namespace, or a ReadOnly plan
// that contains a mutating op.
func (p Plan) Validate() error {
	if len(p.Ops) == 0 {
		return kerr.StoragePlan("plan has no operations")
	}
	for _, op := range p.Ops {
		if err := validateOp(op, p.ReadOnly); err != nil {
			return err
		}
	}
	return nil
}

func validateOp(op Op, readOnly bool) error {
	switch op.Kind {
	case OpGet, OpExists:
		if op.Key.Key == "" {
			return kerr.StoragePlan(fmt.Sprintf("%s requires a non-empty key", op.Kind))
		}
	case OpPut:
		if readOnly {
			return kerr.StoragePlan("read-only plan may not contain a Put")
		}
		if op.Key.Key == "" {
			return kerr.StoragePlan("Put requires a non-empty key")
		}
	case OpDelete:
		if readOnly {
			return kerr.StoragePlan("read-only plan may not contain a Delete")
		}
		if op.Key.Key == "" {
			return kerr.StoragePlan("Delete requires a non-empty key")
		}
	case OpList:
		if op.Key.Namespace == "" {
			return kerr.StoragePlan("List requires a non-empty namespace")
		}
	case OpBatch:
		if len(op.Ops) == 0 {
			return kerr.StoragePlan("Batch requires at least one operation")
		}
		for _, inner := range op.Ops {
			if inner.Kind == OpBatch {
				return kerr.StoragePlan("Batch may not nest another Batch")
			}
			if err := validateOp(inner, readOnly); err != nil {
				return err
			}
		}
	default:
		return kerr.StoragePlan(fmt.Sprintf("unknown op kind %q", op.Kind))
	}
	return nil
}

// AffectedKeys flattens every concrete key (List's prefix scope excluded,
// since it is not a single key) touched by p, in op order, including
// nested Batch members.
func (p Plan) AffectedKeys() []Key {
	var keys []Key
	var walk func(ops []Op)
	walk = func(ops []Op) {
		for _, op := range ops {
			switch op.Kind {
			case OpBatch:
				walk(op.Ops)
			case OpList:
				// a prefix scan touches no single addressable key
			default:
				keys = append(keys, op.Key)
			}
		}
	}
	walk(p.Ops)
	return keys
}

// WriteKeys returns the subset of AffectedKeys that p actually mutates.
func (p Plan) WriteKeys() []Key {
	var keys []Key
	var walk func(ops []Op)
	walk = func(ops []Op) {
		for _, op := range ops {
			switch op.Kind {
			case OpBatch:
				walk(op.Ops)
			case OpPut, OpDelete:
				keys = append(keys, op.Key)
			}
		}
	}
	walk(p.Ops)
	return keys
}

// ConflictsWith reports whether p and other cannot be applied
// concurrently: false iff both plans are read-only or their affected-key
// sets are disjoint, true otherwise (§4.3).
func (p Plan) ConflictsWith(other Plan) bool {
	if p.ReadOnly && other.ReadOnly {
		return false
	}
	pKeys := keySet(p.AffectedKeys())
	for _, k := range other.AffectedKeys() {
		if pKeys[k.String()] {
			return true
		}
	}
	return false
}

func keySet(keys []Key) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k.String()] = true
	}
	return set
}

// ParseKey splits a "namespace:key" or "namespace:key:sub_key" string
// back into a Key, inverse of Key.String for the two-or-three-part form.
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 {
		return Key{}, kerr.StoragePlan(fmt.Sprintf("malformed key string %q", s))
	}
	k := Key{Namespace: parts[0], Key: parts[1]}
	if len(parts) == 3 {
		sub := parts[2]
		k.SubKey = &sub
	}
	return k, nil
}
