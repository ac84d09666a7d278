// Package txlog implements the append-only transaction log: transactions
// whose parent edges form a Merkle DAG, ordered by a hybrid logical
// clock (§4.4). Persistence generalizes the teacher's
// internal/store/trace_store.go append-only trace table — replacing its
// fixed reasoning-trace schema with a generic, hash-linked transaction
// body — onto the `tx:`/`tx-head:` namespace convention of §6.
package txlog

import "fmt"

// HLC is a hybrid logical clock value: physical time in milliseconds,
// a logical tie-break counter, and the originating node, compared
// lexicographically in that order (§4.4).
type HLC struct {
	PhysicalMS int64
	Logical    uint32
	NodeID     string
}

// Compare returns -1, 0, or 1 as h sorts before, equal to, or after o.
func (h HLC) Compare(o HLC) int {
	if h.PhysicalMS != o.PhysicalMS {
		return cmpInt64(h.PhysicalMS, o.PhysicalMS)
	}
	if h.Logical != o.Logical {
		return cmpUint32(h.Logical, o.Logical)
	}
	if h.NodeID != o.NodeID {
		if h.NodeID < o.NodeID {
			return -1
		}
		return 1
	}
	return 0
}

// Dominates reports whether h is strictly greater than every HLC in
// parents, the requirement PlanAdd enforces on a new transaction's
// timestamp (§4.4).
func (h HLC) Dominates(parents []HLC) bool {
	for _, p := range parents {
		if h.Compare(p) <= 0 {
			return false
		}
	}
	return true
}

func (h HLC) String() string {
	return fmt.Sprintf("%d.%d.%s", h.PhysicalMS, h.Logical, h.NodeID)
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpUint32(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
