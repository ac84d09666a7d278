package txlog

import (
	"path/filepath"
	"testing"

	"github.com/kotobadb/core/internal/cidkit"
	"github.com/kotobadb/core/internal/kerr"
	"github.com/kotobadb/core/internal/storeengine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rootTx(hlc HLC) Transaction {
	tx := Transaction{
		Parents:        nil,
		HLC:            hlc,
		Operation:      Operation{Kind: OpGraphTransformation, Payload: cidkit.NewMap().Set("note", cidkit.String("root"))},
		InputGraphCID:  "u-empty",
		OutputGraphCID: "u-genesis",
		Size:           64,
	}
	id, err := RecomputeID(tx)
	if err != nil {
		panic(err)
	}
	tx.ID = id
	return tx
}

func childTx(parent Transaction, hlc HLC) Transaction {
	tx := Transaction{
		Parents:        []string{parent.ID},
		HLC:            hlc,
		Operation:      Operation{Kind: OpGraphTransformation, Payload: cidkit.NewMap().Set("note", cidkit.String("child"))},
		InputGraphCID:  parent.OutputGraphCID,
		OutputGraphCID: "u-next",
		Size:           64,
	}
	id, err := RecomputeID(tx)
	if err != nil {
		panic(err)
	}
	tx.ID = id
	return tx
}

func TestHLCCompareLexicographic(t *testing.T) {
	a := HLC{PhysicalMS: 100, Logical: 0, NodeID: "n1"}
	b := HLC{PhysicalMS: 100, Logical: 1, NodeID: "n1"}
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))

	c := HLC{PhysicalMS: 100, Logical: 1, NodeID: "n0"}
	assert.Equal(t, -1, c.Compare(b), "same physical/logical ties break by node_id")
}

func TestPlanAddRejectsTamperedID(t *testing.T) {
	log := Empty()
	tx := rootTx(HLC{PhysicalMS: 1, NodeID: "n1"})
	tx.ID = "u-wrong"
	_, err := PlanAdd(log, tx, 0, nil)
	require.Error(t, err)
	assert.True(t, kerr.MatchKind(err, kerr.KindInvalidTx))
}

func TestPlanAddRejectsMissingParent(t *testing.T) {
	log := Empty()
	root := rootTx(HLC{PhysicalMS: 1, NodeID: "n1"})
	dangling := childTx(root, HLC{PhysicalMS: 2, NodeID: "n1"})
	_, err := PlanAdd(log, dangling, 0, nil)
	require.Error(t, err)
}

func TestPlanAddRejectsNonDominatingHLC(t *testing.T) {
	log := Empty()
	root := rootTx(HLC{PhysicalMS: 10, NodeID: "n1"})
	plan, err := PlanAdd(log, root, 0, nil)
	require.NoError(t, err)
	log = ApplyAdditionPlan(log, plan)

	child := childTx(root, HLC{PhysicalMS: 5, NodeID: "n1"})
	_, err = PlanAdd(log, child, 0, nil)
	require.Error(t, err, "child HLC must be strictly greater than its parent's")
}

// TestApplyAdditionPlanLeavesOldLogUnchanged pins §8 invariant 4.
func TestApplyAdditionPlanLeavesOldLogUnchanged(t *testing.T) {
	log := Empty()
	root := rootTx(HLC{PhysicalMS: 1, NodeID: "n1"})
	plan, err := PlanAdd(log, root, 0, nil)
	require.NoError(t, err)

	next := ApplyAdditionPlan(log, plan)
	assert.False(t, log.Contains(root.ID))
	assert.True(t, next.Contains(root.ID))
}

func TestHeadsAncestorsDescendants(t *testing.T) {
	log := Empty()
	root := rootTx(HLC{PhysicalMS: 1, NodeID: "n1"})
	p1, err := PlanAdd(log, root, 0, nil)
	require.NoError(t, err)
	log = ApplyAdditionPlan(log, p1)

	child := childTx(root, HLC{PhysicalMS: 2, NodeID: "n1"})
	p2, err := PlanAdd(log, child, 0, nil)
	require.NoError(t, err)
	log = ApplyAdditionPlan(log, p2)

	assert.Equal(t, []string{child.ID}, log.Heads())
	assert.Contains(t, log.Ancestors(child.ID), root.ID)
	assert.Contains(t, log.Descendants(root.ID), child.ID)
}

func TestPlanAddRejectsOversizedBody(t *testing.T) {
	log := Empty()
	root := rootTx(HLC{PhysicalMS: 1, NodeID: "n1"})
	_, err := PlanAdd(log, root, 8, nil)
	require.Error(t, err)
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txlog.sqlite")
	engine, err := storeengine.Open(path, nil)
	require.NoError(t, err)
	defer engine.Close()

	store := NewStore(engine)
	root := rootTx(HLC{PhysicalMS: 1, NodeID: "n1"})
	require.NoError(t, store.Append(root, "n1"))

	loaded, ok, err := store.Load(root.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, root.ID, loaded.ID)
	assert.Equal(t, root.OutputGraphCID, loaded.OutputGraphCID)

	head, ok, err := store.Head("n1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, root.ID, head)

	rehydrated, err := store.LoadAll()
	require.NoError(t, err)
	assert.True(t, rehydrated.Contains(root.ID))
}
