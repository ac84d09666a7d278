package mvcc

import (
	"time"

	"github.com/kotobadb/core/internal/cidkit"
	"github.com/kotobadb/core/internal/kerr"
	"github.com/kotobadb/core/internal/storeplan"
	"github.com/kotobadb/core/internal/txlog"
)

// CommitWithRetry makes up to cfg.MaxCommitRetries attempts at Commit (at
// least one), retrying only on a ConflictError and rebuilding the write
// transaction against a fresh snapshot each time via rebuild (§7
// propagation policy: conflict errors retry inside the MVCC loop up to a
// bounded number of attempts). Retries follow immediately, without
// backoff; any other error is returned at once.
func (m *Manager) CommitWithRetry(rebuild func(Snapshot) (storeplan.Plan, error)) (string, error) {
	attempts := m.cfg.MaxCommitRetries
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		snap := m.BeginRead()
		plan, err := rebuild(snap)
		if err != nil {
			return "", err
		}
		wt := &WriteTxn{snapshot: snap, plan: plan}
		id, err := m.Commit(wt)
		if err == nil {
			return id, nil
		}
		if !kerr.MatchKind(err, kerr.KindConflict) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

// Compact marks transactions strictly older than the retention window
// and unreachable from any live snapshot as garbage, recording the
// decision as a Compaction-tagged transaction so history stays
// verifiable (§4.5 "Garbage" — compaction itself runs as a transaction).
// liveSnapshots is the caller's current set of outstanding Snapshot
// boundaries; a transaction is eligible only if none of them can see
// it, i.e. its HLC is later than every snapshot's boundary.
func (m *Manager) Compact(liveSnapshots []Snapshot) (string, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-m.cfg.RetentionWindow)
	var eligible []string

	for id, tx := range allTransactions(m.log) {
		if tx.Operation.Kind == txlog.OpCompaction {
			continue
		}
		committedAt := time.UnixMilli(tx.HLC.PhysicalMS)
		if committedAt.After(cutoff) {
			continue
		}
		if visibleToAnySnapshot(tx.HLC, liveSnapshots) {
			continue
		}
		eligible = append(eligible, id)
	}

	if len(eligible) == 0 {
		return "", nil, nil
	}

	compactedSet := make(cidkit.Set, len(eligible))
	copy(compactedSet, eligible)

	parentIDs := m.log.Heads()
	var parentHLCs []txlog.HLC
	for _, id := range parentIDs {
		if tx, ok := m.log.Get(id); ok {
			parentHLCs = append(parentHLCs, tx.HLC)
		}
	}
	hlc := m.nextHLC(parentHLCs)

	tx := txlog.Transaction{
		Parents:   parentIDs,
		HLC:       hlc,
		Operation: txlog.Operation{Kind: txlog.OpCompaction, Payload: cidkit.NewMap().Set("compacted", compactedSet)},
		Size:      len(eligible) * 8,
	}
	id, err := txlog.RecomputeID(tx)
	if err != nil {
		return "", nil, err
	}
	tx.ID = id

	addPlan, err := txlog.PlanAdd(m.log, tx, m.maxBody, nil)
	if err != nil {
		return "", nil, err
	}
	if err := m.store.Append(tx, m.nodeID); err != nil {
		return "", nil, err
	}
	m.log = txlog.ApplyAdditionPlan(m.log, addPlan)

	return tx.ID, eligible, nil
}

func allTransactions(l *txlog.Log) map[string]txlog.Transaction {
	out := map[string]txlog.Transaction{}
	for _, headID := range l.Heads() {
		collectLineage(l, headID, out)
	}
	return out
}

func collectLineage(l *txlog.Log, id string, out map[string]txlog.Transaction) {
	if _, ok := out[id]; ok {
		return
	}
	tx, ok := l.Get(id)
	if !ok {
		return
	}
	out[id] = tx
	for _, p := range tx.Parents {
		collectLineage(l, p, out)
	}
}

func visibleToAnySnapshot(hlc txlog.HLC, snapshots []Snapshot) bool {
	for _, s := range snapshots {
		if hlc.Compare(s.asOfHLC) <= 0 {
			return true
		}
	}
	return false
}
