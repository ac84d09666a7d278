package txlog

import (
	"sort"

	"github.com/kotobadb/core/internal/kerr"
)

// Log is an immutable value: the set of transactions committed so far
// plus the DAG structure among them. ApplyAdditionPlan never mutates an
// existing Log in place; it returns a new one (§4.4 "TxLog′").
type Log struct {
	txs      map[string]Transaction
	children map[string]map[string]struct{} // parent id -> set of child ids
}

// Empty returns a Log with no transactions.
func Empty() *Log {
	return &Log{txs: map[string]Transaction{}, children: map[string]map[string]struct{}{}}
}

// Contains reports whether id names a transaction already in the log.
func (l *Log) Contains(id string) bool {
	_, ok := l.txs[id]
	return ok
}

// Get returns the transaction with the given id.
func (l *Log) Get(id string) (Transaction, bool) {
	tx, ok := l.txs[id]
	return tx, ok
}

// Heads returns the ids of transactions with no descendant (§4.4).
func (l *Log) Heads() []string {
	var heads []string
	for id := range l.txs {
		if len(l.children[id]) == 0 {
			heads = append(heads, id)
		}
	}
	sort.Strings(heads)
	return heads
}

// All returns every transaction currently in the log, in no particular
// order. Callers that need a replay order should sort by HLC: PlanAdd's
// Dominates check guarantees every transaction's HLC compares greater
// than all of its parents', so an HLC-ascending sort is always a valid
// topological order (§4.4, §4.7 "HLC-topological order").
func (l *Log) All() []Transaction {
	out := make([]Transaction, 0, len(l.txs))
	for _, tx := range l.txs {
		out = append(out, tx)
	}
	return out
}

// Ancestors returns every transaction reachable by following Parents
// from id, id itself excluded.
func (l *Log) Ancestors(id string) []string {
	seen := map[string]struct{}{}
	var walk func(string)
	walk = func(cur string) {
		tx, ok := l.txs[cur]
		if !ok {
			return
		}
		for _, p := range tx.Parents {
			if _, visited := seen[p]; visited {
				continue
			}
			seen[p] = struct{}{}
			walk(p)
		}
	}
	walk(id)
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Descendants returns every transaction reachable by following child
// edges from id, id itself excluded.
func (l *Log) Descendants(id string) []string {
	seen := map[string]struct{}{}
	var walk func(string)
	walk = func(cur string) {
		for child := range l.children[cur] {
			if _, visited := seen[child]; visited {
				continue
			}
			seen[child] = struct{}{}
			walk(child)
		}
	}
	walk(id)
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// clone returns a shallow copy sufficient for copy-on-write extension:
// the maps are new, their contents are shared (Transaction is never
// mutated once created).
func (l *Log) clone() *Log {
	next := &Log{
		txs:      make(map[string]Transaction, len(l.txs)+1),
		children: make(map[string]map[string]struct{}, len(l.children)+1),
	}
	for id, tx := range l.txs {
		next.txs[id] = tx
	}
	for id, childSet := range l.children {
		cp := make(map[string]struct{}, len(childSet))
		for c := range childSet {
			cp[c] = struct{}{}
		}
		next.children[id] = cp
	}
	return next
}

// AdditionPlan is the pure, validated intent to add one transaction to a
// Log (§4.4 plan_add).
type AdditionPlan struct {
	tx Transaction
}

// PlanAdd validates tx against l: its id must equal its recomputed
// canonical hash, every parent must already exist in l, its HLC must
// dominate every parent's HLC, and its serialized size must not exceed
// maxBodyBytes. verify, if non-nil, is called to check tx.Signature;
// a nil verify accepts any signature, which is the documented default
// when no signing key material has been configured (see DESIGN.md).
func PlanAdd(l *Log, tx Transaction, maxBodyBytes int, verify func(Transaction) bool) (*AdditionPlan, error) {
	wantID, err := RecomputeID(tx)
	if err != nil {
		return nil, kerr.InvalidTransaction("failed to compute canonical id").WithContext("cause", err.Error())
	}
	if tx.ID != wantID {
		return nil, kerr.InvalidTransaction("transaction id does not match its canonical hash").
			WithContext("given", tx.ID).WithContext("computed", wantID)
	}

	var parentHLCs []HLC
	for _, p := range tx.Parents {
		parent, ok := l.txs[p]
		if !ok {
			return nil, kerr.InvalidTransaction("parent transaction does not exist").WithContext("parent_id", p)
		}
		parentHLCs = append(parentHLCs, parent.HLC)
	}
	if !tx.HLC.Dominates(parentHLCs) {
		return nil, kerr.InvalidTransaction("transaction HLC does not dominate all parents")
	}

	if maxBodyBytes > 0 && tx.Size > maxBodyBytes {
		return nil, kerr.InvalidTransaction("transaction body exceeds the configured size bound").
			WithContext("size", tx.Size).WithContext("max", maxBodyBytes)
	}

	if verify != nil && !verify(tx) {
		return nil, kerr.InvalidTransaction("signature verification failed")
	}

	return &AdditionPlan{tx: tx}, nil
}

// ApplyAdditionPlan returns a new Log containing plan's transaction,
// leaving l unchanged (§8 invariant 4).
func ApplyAdditionPlan(l *Log, plan *AdditionPlan) *Log {
	next := l.clone()
	next.txs[plan.tx.ID] = plan.tx
	if next.children[plan.tx.ID] == nil {
		next.children[plan.tx.ID] = map[string]struct{}{}
	}
	for _, p := range plan.tx.Parents {
		if next.children[p] == nil {
			next.children[p] = map[string]struct{}{}
		}
		next.children[p][plan.tx.ID] = struct{}{}
	}
	return next
}
