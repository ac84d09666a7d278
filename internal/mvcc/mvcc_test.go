package mvcc

import (
	"path/filepath"
	"testing"

	"github.com/kotobadb/core/internal/dbconfig"
	"github.com/kotobadb/core/internal/kerr"
	"github.com/kotobadb/core/internal/storeengine"
	"github.com/kotobadb/core/internal/storeplan"
	"github.com/kotobadb/core/internal/txlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mvcc.sqlite")
	engine, err := storeengine.Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	store := txlog.NewStore(engine)
	cfg := dbconfig.MVCCConfig{MaxCommitRetries: 3}
	mgr, err := NewManager(engine, store, "node-test", cfg, 0)
	require.NoError(t, err)
	return mgr
}

func putPlan(ns, key, value string) storeplan.Plan {
	return storeplan.Plan{Ops: []storeplan.Op{storeplan.Put(storeplan.Key{Namespace: ns, Key: key}, []byte(value))}}
}

func TestCommitAppendsTransaction(t *testing.T) {
	mgr := newTestManager(t)
	wt, err := mgr.BeginWrite(putPlan("graph", "n1", "v1"))
	require.NoError(t, err)
	id, err := mgr.Commit(wt)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Contains(t, mgr.log.Heads(), id)
}

// TestConcurrentWriteConflict pins scenario 3 from §8: two writers open
// snapshots before either commits; the second writer's commit, touching
// the same key the first already wrote, fails with ConflictError.
func TestConcurrentWriteConflict(t *testing.T) {
	mgr := newTestManager(t)

	wt1, err := mgr.BeginWrite(putPlan("graph", "n1", "v1"))
	require.NoError(t, err)
	wt2, err := mgr.BeginWrite(putPlan("graph", "n1", "v2"))
	require.NoError(t, err)

	_, err = mgr.Commit(wt1)
	require.NoError(t, err)

	_, err = mgr.Commit(wt2)
	require.Error(t, err)
	assert.True(t, kerr.MatchKind(err, kerr.KindConflict))
}

func TestDisjointKeysDoNotConflict(t *testing.T) {
	mgr := newTestManager(t)

	wt1, err := mgr.BeginWrite(putPlan("graph", "n1", "v1"))
	require.NoError(t, err)
	wt2, err := mgr.BeginWrite(putPlan("graph", "n2", "v1"))
	require.NoError(t, err)

	_, err = mgr.Commit(wt1)
	require.NoError(t, err)
	_, err = mgr.Commit(wt2)
	require.NoError(t, err)
}

func TestCommitWithRetryRecoversFromConflict(t *testing.T) {
	mgr := newTestManager(t)

	wt1, err := mgr.BeginWrite(putPlan("graph", "n1", "v1"))
	require.NoError(t, err)

	attempt := 0
	id, err := mgr.CommitWithRetry(func(snap Snapshot) (storeplan.Plan, error) {
		attempt++
		if attempt == 1 {
			_, commitErr := mgr.Commit(wt1)
			require.NoError(t, commitErr)
		}
		return putPlan("graph", "n1", "v2"), nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.GreaterOrEqual(t, attempt, 2, "the second rebuild should succeed against the post-conflict snapshot")
}

func TestBeginReadSnapshotIsolation(t *testing.T) {
	mgr := newTestManager(t)
	snap := mgr.BeginRead()

	wt, err := mgr.BeginWrite(putPlan("graph", "n1", "v1"))
	require.NoError(t, err)
	_, err = mgr.Commit(wt)
	require.NoError(t, err)

	laterSnap := mgr.BeginRead()
	assert.Equal(t, 1, laterSnap.AsOf().Compare(snap.AsOf()), "a snapshot taken after a commit freezes a strictly later HLC")
}
