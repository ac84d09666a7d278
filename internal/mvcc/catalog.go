package mvcc

import (
	"github.com/kotobadb/core/internal/cidkit"
	"github.com/kotobadb/core/internal/kerr"
	"github.com/kotobadb/core/internal/txlog"
)

// CommitConfiguration finalizes wt the same way Commit does — conflict
// check against every transaction committed since wt's snapshot, then an
// atomic plan-execute-and-append — but tags the resulting commit record
// Configuration rather than GraphTransformation and uses payload as the
// operation body instead of a write/read key set (§6 "registration is
// itself a transaction", e.g. C7's rule/strategy catalog).
func (m *Manager) CommitConfiguration(wt *WriteTxn, payload cidkit.Value) (string, error) {
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

	body := cidkit.NewMap().
		Set("write_keys", writeKeySet(wt.plan)).
		Set("read_keys", readKeySet(wt.plan))
	if payload != nil {
		body = body.Set("catalog", payload)
	}

	tx := txlog.Transaction{
		Parents:   parentIDs,
		HLC:       hlc,
		Operation: txlog.Operation{Kind: txlog.OpConfiguration, Payload: body},
		Size:      estimateSize(wt.plan),
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
