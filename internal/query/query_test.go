package query

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kotobadb/core/internal/authz"
	"github.com/kotobadb/core/internal/cidkit"
	"github.com/kotobadb/core/internal/dbconfig"
	"github.com/kotobadb/core/internal/graph"
	"github.com/kotobadb/core/internal/kerr"
	"github.com/kotobadb/core/internal/mvcc"
	"github.com/kotobadb/core/internal/projection"
	"github.com/kotobadb/core/internal/storeengine"
	"github.com/kotobadb/core/internal/storeplan"
	"github.com/kotobadb/core/internal/txlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEnv(t *testing.T) (*mvcc.Manager, *projection.Engine) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "query.sqlite")
	engine, err := storeengine.Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	store := txlog.NewStore(engine)
	mgr, err := mvcc.NewManager(engine, store, "node-test", dbconfig.MVCCConfig{MaxCommitRetries: 3}, 0)
	require.NoError(t, err)
	return mgr, projection.NewEngine(mgr, nil)
}

// commitPeople seeds two Person nodes, one with email "a@x", via a
// hand-built delta and a direct mvcc commit (mirroring how
// internal/projection's tests seed state).
func commitPeople(t *testing.T, mgr *mvcc.Manager) {
	t.Helper()
	working := graph.New()
	a, err := working.AddNode("entity", "Person", cidkit.NewMap().Set("email", cidkit.String("a@x")))
	require.NoError(t, err)
	b, err := working.AddNode("entity", "Person", cidkit.NewMap().Set("email", cidkit.String("b@x")))
	require.NoError(t, err)
	root, err := working.ComputeAllCIDs()
	require.NoError(t, err)
	a, _ = working.Node(a.ID)
	b, _ = working.Node(b.ID)

	delta := graph.Delta{Changes: []graph.Change{
		{Kind: graph.ChangeUpsertNode, EntityID: a.ID, Node: &a},
		{Kind: graph.ChangeUpsertNode, EntityID: b.ID, Node: &b},
	}, RootCID: root}

	wt, err := mgr.BeginWrite(storeplan.Plan{Ops: []storeplan.Op{
		storeplan.Put(storeplan.Key{Namespace: "ent", Key: a.ID}, []byte(a.CID)),
	}})
	require.NoError(t, err)
	wt.WithGraphMeta(graph.EncodeDelta(delta), "", root, nil, nil)
	_, err = mgr.Commit(wt)
	require.NoError(t, err)
}

// TestPlannerSelectsIndexScanWhenIndexed pins §8 scenario 4: the same
// MATCH (p:Person {email: "a@x"}) selects IndexScan when an index on
// Person.email is declared, FullScan otherwise, and both return the
// identical row.
func TestPlannerSelectsIndexScanWhenIndexed(t *testing.T) {
	mgr, proj := newTestEnv(t)
	commitPeople(t, mgr)
	require.NoError(t, proj.Tick(context.Background()))

	q := Query{
		Match: []MatchClause{{Nodes: []NodePattern{{
			Var: "p", Label: "Person",
			Props: map[string]cidkit.Value{"email": cidkit.String("a@x")},
		}}}},
		Return: []ReturnItem{{Alias: "p", Expr: VarRef("p")}},
	}

	cat := NewCatalog()
	cat.Declare(IndexDef{Label: "Person", Property: "email"})
	cat.Build(proj)

	withIndex, err := NewPlanner(cat).Plan(q)
	require.NoError(t, err)
	require.Equal(t, StepVertexScan, withIndex.Steps[0].Kind)
	assert.Equal(t, IndexScan, withIndex.Steps[0].VertexScan.Kind)

	withoutIndex, err := NewPlanner(NewCatalog()).Plan(q)
	require.NoError(t, err)
	assert.Equal(t, FullScan, withoutIndex.Steps[0].VertexScan.Kind)

	exec := NewExecutor(proj, mgr, cat, nil)
	res, err := exec.Execute(context.Background(), withIndex)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)

	res2, err := NewExecutor(proj, mgr, NewCatalog(), nil).Execute(context.Background(), withoutIndex)
	require.NoError(t, err)
	require.Len(t, res2.Rows, 1)
	require.NotNil(t, res.Rows[0]["p"].Node)
	require.NotNil(t, res2.Rows[0]["p"].Node)
	assert.Equal(t, res.Rows[0]["p"].Node.ID, res2.Rows[0]["p"].Node.ID)
}

func TestExecutorCreateCommitsNode(t *testing.T) {
	mgr, proj := newTestEnv(t)
	cat := NewCatalog()
	exec := NewExecutor(proj, mgr, cat, nil)

	q := Query{Write: &WriteClause{Kind: WriteCreate, Label: "Person", Props: map[string]cidkit.Value{
		"email": cidkit.String("c@x"),
	}}}
	plan, err := NewPlanner(cat).Plan(q)
	require.NoError(t, err)

	res, err := exec.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.True(t, res.Wrote)
	assert.NotEmpty(t, res.TxID)

	require.NoError(t, proj.Tick(context.Background()))
	people := proj.ScanNodes(func(n graph.Node) bool { return n.Type == "Person" })
	found := false
	for _, p := range people {
		if v, ok := p.Attributes.Entries["email"]; ok {
			if s, ok := v.(cidkit.String); ok && s == "c@x" {
				found = true
			}
		}
	}
	assert.True(t, found)
}

func TestEdgeScanTraversesChain(t *testing.T) {
	mgr, proj := newTestEnv(t)

	working := graph.New()
	a, err := working.AddNode("entity", "Person", cidkit.NewMap())
	require.NoError(t, err)
	b, err := working.AddNode("entity", "Person", cidkit.NewMap())
	require.NoError(t, err)
	e, err := working.AddEdge("knows", nil, cidkit.NewMap())
	require.NoError(t, err)
	inc1, err := working.AddIncidence(e.ID, a.ID, "source", nil, cidkit.NewMap())
	require.NoError(t, err)
	inc2, err := working.AddIncidence(e.ID, b.ID, "target", nil, cidkit.NewMap())
	require.NoError(t, err)
	root, err := working.ComputeAllCIDs()
	require.NoError(t, err)
	a, _ = working.Node(a.ID)
	b, _ = working.Node(b.ID)
	e, _ = working.Edge(e.ID)
	inc1, _ = working.Incidence(inc1.ID)
	inc2, _ = working.Incidence(inc2.ID)

	delta := graph.Delta{Changes: []graph.Change{
		{Kind: graph.ChangeUpsertNode, EntityID: a.ID, Node: &a},
		{Kind: graph.ChangeUpsertNode, EntityID: b.ID, Node: &b},
		{Kind: graph.ChangeUpsertEdge, EntityID: e.ID, Edge: &e},
		{Kind: graph.ChangeUpsertIncidence, EntityID: inc1.ID, Incidence: &inc1},
		{Kind: graph.ChangeUpsertIncidence, EntityID: inc2.ID, Incidence: &inc2},
	}, RootCID: root}
	wt, err := mgr.BeginWrite(storeplan.Plan{Ops: []storeplan.Op{
		storeplan.Put(storeplan.Key{Namespace: "ent", Key: "root"}, []byte(root)),
	}})
	require.NoError(t, err)
	wt.WithGraphMeta(graph.EncodeDelta(delta), "", root, nil, nil)
	_, err = mgr.Commit(wt)
	require.NoError(t, err)
	require.NoError(t, proj.Tick(context.Background()))

	q := Query{
		Match: []MatchClause{{
			Nodes: []NodePattern{{Var: "a", Label: "Person"}},
			Edges: []EdgePattern{{Label: "knows", FromVar: "a", FromRole: "source", ToVar: "b", ToRole: "target"}},
		}},
		Return: []ReturnItem{{Alias: "b", Expr: VarRef("b")}},
	}
	cat := NewCatalog()
	plan, err := NewPlanner(cat).Plan(q)
	require.NoError(t, err)

	res, err := NewExecutor(proj, mgr, cat, nil).Execute(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
}

// TestExecutorEnforcesAuthzGate pins the C10 precondition wired via
// WithAuthz: a principal lacking a matching capability is denied before
// the plan touches the projection, and granting the capability lets the
// identical plan through (§8 invariant 8, "granting capabilities can
// only turn denies into allows").
func TestExecutorEnforcesAuthzGate(t *testing.T) {
	mgr, proj := newTestEnv(t)
	commitPeople(t, mgr)
	require.NoError(t, proj.Tick(context.Background()))

	cat := NewCatalog()
	q := Query{
		Match:  []MatchClause{{Nodes: []NodePattern{{Var: "p", Label: "Person"}}}},
		Return: []ReturnItem{{Alias: "p", Expr: VarRef("p")}},
	}
	plan, err := NewPlanner(cat).Plan(q)
	require.NoError(t, err)

	gate := authz.NewGate("", nil)
	denied := authz.Principal{UserID: "u1"}
	exec := NewExecutor(proj, mgr, cat, nil).WithAuthz(gate, denied)
	_, err = exec.Execute(context.Background(), plan)
	require.Error(t, err)
	assert.True(t, kerr.MatchKind(err, kerr.KindAuthzDenied))

	allowed := authz.Principal{
		UserID:       "u1",
		Capabilities: authz.CapabilitySet{}.Grant(authz.Capability{ResourceType: "Graph", Action: "read", Scope: "*"}),
	}
	exec2 := NewExecutor(proj, mgr, cat, nil).WithAuthz(gate, allowed)
	res, err := exec2.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Len(t, res.Rows, 2)
}
