// Package mvcc implements the multiversion concurrency control manager
// (§4.5): snapshot isolation for readers, staged commits for writers,
// and conflict detection against the transaction log. It sits directly
// atop internal/txlog (for the commit record) and internal/storeplan
// (for the write's own key-level intent), generalizing the teacher's
// buffered-transaction-then-commit idiom in internal/types/transaction.go
// from a single in-process buffer to a durable, conflict-checked one.
package mvcc

import (
	"strings"
	"sync"
	"time"

	"github.com/kotobadb/core/internal/cidkit"
	"github.com/kotobadb/core/internal/dbconfig"
	"github.com/kotobadb/core/internal/kerr"
	"github.com/kotobadb/core/internal/storeengine"
	"github.com/kotobadb/core/internal/storeplan"
	"github.com/kotobadb/core/internal/txlog"
)

// Snapshot is a frozen read view: every transaction that was a head (or
// an ancestor of a head) at acquisition time is visible; nothing
// committed afterward is.
type Snapshot struct {
	heads    []string
	asOfHLC  txlog.HLC
	acquired time.Time
}

// AsOf returns the HLC boundary the snapshot froze on; transactions with
// a strictly greater HLC were committed after this snapshot was taken.
func (s Snapshot) AsOf() txlog.HLC { return s.asOfHLC }

// WriteTxn is a staged write, not yet visible to any reader until Commit
// succeeds.
type WriteTxn struct {
	snapshot Snapshot
	plan     storeplan.Plan
	done     bool

	// graphDelta, inputCID, outputCID, ruleCID, strategyCID are set by
	// WithGraphMeta when this write originates from C7's rewrite
	// applicator (or any other graph-level mutation), so the commit
	// record carries enough to let C8 replay the change without
	// re-running the mutation (§4.7).
	graphDelta  cidkit.Value
	inputCID    string
	outputCID   string
	ruleCID     *string
	strategyCID *string
}

// WithGraphMeta attaches graph-level provenance to wt: the encoded
// Delta (see internal/graph.EncodeDelta) plus the input/output graph
// root CIDs and, when the write resulted from a rule application, the
// rule/strategy CIDs (§3.3 "optional rule and strategy CIDs"). Returns
// wt for chaining.
func (wt *WriteTxn) WithGraphMeta(delta cidkit.Value, inputCID, outputCID string, ruleCID, strategyCID *string) *WriteTxn {
	wt.graphDelta = delta
	wt.inputCID = inputCID
	wt.outputCID = outputCID
	wt.ruleCID = ruleCID
	wt.strategyCID = strategyCID
	return wt
}

// Manager coordinates snapshot acquisition and commit conflict detection
// against a single transaction log and storage engine (§4.5, §4.4).
type Manager struct {
	mu      sync.Mutex
	log     *txlog.Log
	store   *txlog.Store
	engine  *storeengine.Engine
	nodeID  string
	cfg     dbconfig.MVCCConfig
	maxBody int
	logical uint32
}

// NewManager rehydrates its in-memory log view from store and returns a
// ready Manager. maxBodyBytes bounds each commit record the same way
// dbconfig.TxLogConfig.MaxBodyBytes bounds every transaction (§4.4).
func NewManager(engine *storeengine.Engine, store *txlog.Store, nodeID string, cfg dbconfig.MVCCConfig, maxBodyBytes int) (*Manager, error) {
	log, err := store.LoadAll()
	if err != nil {
		return nil, err
	}
	return &Manager{log: log, store: store, engine: engine, nodeID: nodeID, cfg: cfg, maxBody: maxBodyBytes}, nil
}

// Log returns the Manager's current in-memory transaction log view, for
// readers (C8's projection engine) that replay committed transactions
// rather than going through snapshot/write APIs.
func (m *Manager) Log() *txlog.Log {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.log
}

func (m *Manager) headHLCs() []txlog.HLC {
	var out []txlog.HLC
	for _, id := range m.log.Heads() {
		tx, ok := m.log.Get(id)
		if !ok {
			continue
		}
		out = append(out, tx.HLC)
	}
	return out
}

func maxHLC(hlcs []txlog.HLC, nodeID string) txlog.HLC {
	max := txlog.HLC{NodeID: nodeID}
	for _, h := range hlcs {
		if h.Compare(max) > 0 {
			max = h
		}
	}
	return max
}

// BeginRead acquires a read snapshot frozen at the log's current heads.
func (m *Manager) BeginRead() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		heads:    append([]string(nil), m.log.Heads()...),
		asOfHLC:  maxHLC(m.headHLCs(), m.nodeID),
		acquired: time.Now(),
	}
}

// BeginWrite stages plan against a fresh snapshot. The plan's own
// AffectedKeys/WriteKeys become the write transaction's read/write set
// for conflict detection at Commit.
func (m *Manager) BeginWrite(plan storeplan.Plan) (*WriteTxn, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &WriteTxn{snapshot: m.BeginRead(), plan: plan}, nil
}

// nextHLC returns a clock value strictly dominating every given parent.
func (m *Manager) nextHLC(parents []txlog.HLC) txlog.HLC {
	m.logical++
	h := txlog.HLC{PhysicalMS: time.Now().UnixMilli(), Logical: m.logical, NodeID: m.nodeID}
	for !h.Dominates(parents) {
		m.logical++
		h.Logical = m.logical
	}
	return h
}

// writeKeySet serializes a plan's write keys into the Set persisted on
// the commit transaction's payload, so a later snapshot's conflict check
// can compare against it without replaying the plan.
func writeKeySet(p storeplan.Plan) cidkit.Set {
	keys := p.WriteKeys()
	set := make(cidkit.Set, len(keys))
	for i, k := range keys {
		set[i] = k.String()
	}
	return set
}

func readKeySet(p storeplan.Plan) cidkit.Set {
	keys := p.AffectedKeys()
	set := make(cidkit.Set, len(keys))
	for i, k := range keys {
		set[i] = k.String()
	}
	return set
}

// Commit finalizes wt: detects conflicts against every transaction
// committed after wt's snapshot was acquired, and on success applies the
// plan and appends a GraphTransformation commit record atomically.
func (m *Manager) Commit(wt *WriteTxn) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if wt.done {
		return "", kerr.InvalidTransaction("write transaction already finalized")
	}

	for _, id := range m.log.Heads() {
		if err := m.checkLineageForConflict(id, wt.snapshot.asOfHLC, wt.plan); err != nil {
			return "", err
		}
	}

	parentIDs := m.log.Heads()
	var parentHLCs []txlog.HLC
	for _, id := range parentIDs {
		if tx, ok := m.log.Get(id); ok {
			parentHLCs = append(parentHLCs, tx.HLC)
		}
	}
	hlc := m.nextHLC(parentHLCs)

	payload := cidkit.NewMap().
		Set("write_keys", writeKeySet(wt.plan)).
		Set("read_keys", readKeySet(wt.plan))
	if wt.graphDelta != nil {
		payload = payload.Set("graph_delta", wt.graphDelta)
	}

	tx := txlog.Transaction{
		Parents:        parentIDs,
		HLC:            hlc,
		Operation:      txlog.Operation{Kind: txlog.OpGraphTransformation, Payload: payload},
		InputGraphCID:  wt.inputCID,
		OutputGraphCID: wt.outputCID,
		RuleCID:        wt.ruleCID,
		StrategyCID:    wt.strategyCID,
		Size:           estimateSize(wt.plan),
	}
	id, err := txlog.RecomputeID(tx)
	if err != nil {
		return "", err
	}
	tx.ID = id

	addPlan, err := txlog.PlanAdd(m.log, tx, m.maxBody, nil)
	if err != nil {
		return "", err
	}

	if _, err := m.engine.Execute(wt.plan); err != nil {
		return "", err
	}
	if err := m.store.Append(tx, m.nodeID); err != nil {
		return "", err
	}

	m.log = txlog.ApplyAdditionPlan(m.log, addPlan)
	wt.done = true
	return tx.ID, nil
}

// Abort discards wt without applying any effect.
func (m *Manager) Abort(wt *WriteTxn) {
	wt.done = true
}

// keyFromString reconstructs a storeplan.Key from its String() encoding
// ("namespace:key" or "namespace:key:sub_key"), so a commit record's
// persisted write-key set can be replayed back into a comparable Plan.
// Namespaces and keys in this system (CIDs, fixed literals) never
// contain ':', so the split is unambiguous.
func keyFromString(s string) storeplan.Key {
	parts := strings.SplitN(s, ":", 3)
	k := storeplan.Key{}
	if len(parts) > 0 {
		k.Namespace = parts[0]
	}
	if len(parts) > 1 {
		k.Key = parts[1]
	}
	if len(parts) > 2 {
		sub := parts[2]
		k.SubKey = &sub
	}
	return k
}

// planFromWriteKeys rebuilds a minimal write-only Plan from a commit
// record's persisted write-key set, so its conflict against the
// currently-committing plan can be decided with the same
// storeplan.Plan.ConflictsWith predicate the rest of the system uses
// (§4.3, §4.5).
func planFromWriteKeys(keys cidkit.Set) storeplan.Plan {
	ops := make([]storeplan.Op, 0, len(keys))
	for _, k := range keys {
		ops = append(ops, storeplan.Put(keyFromString(k), nil))
	}
	return storeplan.Plan{Ops: ops}
}

// checkLineageForConflict walks back from a head transaction, checking
// any transaction committed after asOf (i.e. with a dominating HLC) for
// a conflict between its write set and plan's affected keys. It stops
// descending once it reaches transactions at or before asOf, since those
// were already visible to the snapshot.
func (m *Manager) checkLineageForConflict(id string, asOf txlog.HLC, plan storeplan.Plan) error {
	tx, ok := m.log.Get(id)
	if !ok {
		return nil
	}
	if tx.HLC.Compare(asOf) <= 0 {
		return nil
	}

	payload, _ := tx.Operation.Payload.(cidkit.Map)
	if ws, ok := payload.Entries["write_keys"].(cidkit.Set); ok {
		historical := planFromWriteKeys(ws)
		if historical.ConflictsWith(plan) {
			return kerr.Conflict(tx.ID)
		}
	}

	for _, parent := range tx.Parents {
		if err := m.checkLineageForConflict(parent, asOf, plan); err != nil {
			return err
		}
	}
	return nil
}

func estimateSize(p storeplan.Plan) int {
	size := 0
	for _, k := range p.AffectedKeys() {
		size += len(k.String())
	}
	return size + 1
}
