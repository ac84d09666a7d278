package projection

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kotobadb/core/internal/dbconfig"
	"github.com/kotobadb/core/internal/graph"
	"github.com/kotobadb/core/internal/mvcc"
	"github.com/kotobadb/core/internal/storeengine"
	"github.com/kotobadb/core/internal/storeplan"
	"github.com/kotobadb/core/internal/txlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *mvcc.Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "projection.sqlite")
	engine, err := storeengine.Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	store := txlog.NewStore(engine)
	mgr, err := mvcc.NewManager(engine, store, "node-test", dbconfig.MVCCConfig{MaxCommitRetries: 3}, 0)
	require.NoError(t, err)
	return mgr
}

func TestTickReplaysGraphDelta(t *testing.T) {
	mgr := newTestManager(t)
	eng := NewEngine(mgr, nil)
	assert.Empty(t, eng.LastApplied())

	working := graph.New()
	n, err := working.AddNode("entity", "thing", graph.Attrs{})
	require.NoError(t, err)
	root, err := working.ComputeAllCIDs()
	require.NoError(t, err)
	n, _ = working.Node(n.ID)

	delta := graph.Delta{
		Changes: []graph.Change{{Kind: graph.ChangeUpsertNode, EntityID: n.ID, Node: &n}},
		RootCID: root,
	}
	plan := storeplan.Plan{Ops: []storeplan.Op{
		storeplan.Put(storeplan.Key{Namespace: "graph", Key: n.ID}, []byte(n.CID)),
	}}
	wt, err := mgr.BeginWrite(plan)
	require.NoError(t, err)
	wt.WithGraphMeta(graph.EncodeDelta(delta), "", root, nil, nil)
	txID, err := mgr.Commit(wt)
	require.NoError(t, err)

	require.NoError(t, eng.Tick(context.Background()))
	assert.Equal(t, txID, eng.LastApplied())

	got, ok := eng.GetNode(n.ID)
	require.True(t, ok)
	assert.Equal(t, n.CID, got.CID)

	// A second Tick with nothing new committed is a no-op.
	require.NoError(t, eng.Tick(context.Background()))
	assert.Equal(t, txID, eng.LastApplied())
}

func TestTraverseReachesNeighbors(t *testing.T) {
	mgr := newTestManager(t)
	eng := NewEngine(mgr, nil)

	working := graph.New()
	a, err := working.AddNode("entity", "thing", graph.Attrs{})
	require.NoError(t, err)
	b, err := working.AddNode("entity", "thing", graph.Attrs{})
	require.NoError(t, err)
	e, err := working.AddEdge("link", nil, graph.Attrs{})
	require.NoError(t, err)
	inc1, err := working.AddIncidence(e.ID, a.ID, "source", nil, graph.Attrs{})
	require.NoError(t, err)
	inc2, err := working.AddIncidence(e.ID, b.ID, "target", nil, graph.Attrs{})
	require.NoError(t, err)
	root, err := working.ComputeAllCIDs()
	require.NoError(t, err)
	a, _ = working.Node(a.ID)
	b, _ = working.Node(b.ID)
	e, _ = working.Edge(e.ID)
	inc1, _ = working.Incidence(inc1.ID)
	inc2, _ = working.Incidence(inc2.ID)

	delta := graph.Delta{
		Changes: []graph.Change{
			{Kind: graph.ChangeUpsertNode, EntityID: a.ID, Node: &a},
			{Kind: graph.ChangeUpsertNode, EntityID: b.ID, Node: &b},
			{Kind: graph.ChangeUpsertEdge, EntityID: e.ID, Edge: &e},
			{Kind: graph.ChangeUpsertIncidence, EntityID: inc1.ID, Incidence: &inc1},
			{Kind: graph.ChangeUpsertIncidence, EntityID: inc2.ID, Incidence: &inc2},
		},
		RootCID: root,
	}
	wt, err := mgr.BeginWrite(storeplan.Plan{Ops: []storeplan.Op{
		storeplan.Put(storeplan.Key{Namespace: "graph", Key: "root"}, []byte(root)),
	}})
	require.NoError(t, err)
	wt.WithGraphMeta(graph.EncodeDelta(delta), "", root, nil, nil)
	_, err = mgr.Commit(wt)
	require.NoError(t, err)

	require.NoError(t, eng.Tick(context.Background()))

	nodes, steps := eng.Traverse(a.ID, 1)
	require.Len(t, nodes, 2)
	require.Len(t, steps, 1)
	assert.Equal(t, b.ID, steps[0].Node.ID)
}
