package rewrite

import (
	"context"
	"testing"
	"time"

	"github.com/kotobadb/core/internal/authz"
	"github.com/kotobadb/core/internal/dbconfig"
	"github.com/kotobadb/core/internal/graph"
	"github.com/kotobadb/core/internal/kerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildChain constructs a -[link]-> b -[link]-> c and returns the host
// graph plus the three node ids, in creation order.
func buildChain(t *testing.T) (*graph.Graph, string, string, string) {
	t.Helper()
	g := graph.New()
	a, err := g.AddNode("entity", "thing", graph.Attrs{})
	require.NoError(t, err)
	b, err := g.AddNode("entity", "thing", graph.Attrs{})
	require.NoError(t, err)
	c, err := g.AddNode("entity", "thing", graph.Attrs{})
	require.NoError(t, err)

	e1, err := g.AddEdge("link", nil, graph.Attrs{})
	require.NoError(t, err)
	_, err = g.AddIncidence(e1.ID, a.ID, "source", nil, graph.Attrs{})
	require.NoError(t, err)
	_, err = g.AddIncidence(e1.ID, b.ID, "target", nil, graph.Attrs{})
	require.NoError(t, err)

	e2, err := g.AddEdge("link", nil, graph.Attrs{})
	require.NoError(t, err)
	_, err = g.AddIncidence(e2.ID, b.ID, "source", nil, graph.Attrs{})
	require.NoError(t, err)
	_, err = g.AddIncidence(e2.ID, c.ID, "target", nil, graph.Attrs{})
	require.NoError(t, err)

	_, err = g.ComputeAllCIDs()
	require.NoError(t, err)
	return g, a.ID, b.ID, c.ID
}

// shortcutRule rewrites a -[link]-> b -[link]-> c into a -[link]-> c,
// dropping b and its two incident edges — §8 scenario 2's "shortcut"
// example.
func shortcutRule(t *testing.T) Rule {
	t.Helper()
	left := Pattern{
		Nodes: []PatternNode{{VarID: "a", Kind: "entity"}, {VarID: "b", Kind: "entity"}, {VarID: "c", Kind: "entity"}},
		Edges: []PatternEdge{{VarID: "e1", Kind: "link"}, {VarID: "e2", Kind: "link"}},
		Incidences: []PatternIncidence{
			{EdgeVar: "e1", NodeVar: "a", Role: "source"},
			{EdgeVar: "e1", NodeVar: "b", Role: "target"},
			{EdgeVar: "e2", NodeVar: "b", Role: "source"},
			{EdgeVar: "e2", NodeVar: "c", Role: "target"},
		},
	}
	iface := Pattern{
		Nodes: []PatternNode{{VarID: "a", Kind: "entity"}, {VarID: "c", Kind: "entity"}},
	}
	right := Pattern{
		Nodes: []PatternNode{{VarID: "a", Kind: "entity"}, {VarID: "c", Kind: "entity"}},
		Edges: []PatternEdge{{VarID: "e3", Kind: "link"}},
		Incidences: []PatternIncidence{
			{EdgeVar: "e3", NodeVar: "a", Role: "source"},
			{EdgeVar: "e3", NodeVar: "c", Role: "target"},
		},
	}
	rule, err := NewRule("shortcut", left, iface, right)
	require.NoError(t, err)
	return rule
}

func TestMatcherFindsShortcut(t *testing.T) {
	g, a, b, c := buildChain(t)
	rule := shortcutRule(t)

	matches, err := NewMatcher(rule, g.Snapshot()).FindMatches(0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, a, matches[0].NodeBinding["a"])
	assert.Equal(t, b, matches[0].NodeBinding["b"])
	assert.Equal(t, c, matches[0].NodeBinding["c"])
}

func TestApplyShortcutDeletesMiddleAndGluesDirectEdge(t *testing.T) {
	g, a, b, c := buildChain(t)
	rule := shortcutRule(t)

	matches, err := NewMatcher(rule, g.Snapshot()).FindMatches(1)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	app, err := NewApplicator(rule).Apply(g, matches[0])
	require.NoError(t, err)
	assert.NotEmpty(t, app.Delta.RootCID)

	_, stillThere := g.Node(b)
	assert.False(t, stillThere, "the middle node must be deleted")

	newEdgeID, ok := app.Match.EdgeBinding["e3"]
	require.True(t, ok)
	incs := g.IncidencesOfEdge(newEdgeID)
	require.Len(t, incs, 2)
	ends := map[string]string{}
	for _, inc := range incs {
		ends[string(inc.Role)] = inc.NodeID
	}
	assert.Equal(t, a, ends["source"])
	assert.Equal(t, c, ends["target"])

	// Applying the same rule again should find nothing left to shortcut.
	more, err := NewMatcher(rule, g.Snapshot()).FindMatches(0)
	require.NoError(t, err)
	assert.Empty(t, more)
}

func newTestKernel() *Kernel {
	return NewKernel(dbconfig.RewriteConfig{StepCap: 1000, MaxApplications: 1000, ParWorkers: 4})
}

func TestFixRunsRuleToQuiescence(t *testing.T) {
	// Two independent chains so Fix(Rule(shortcut)) must fire twice before
	// it finds no further match.
	g, a1, b1, c1 := buildChain(t)
	n2, err := g.AddNode("entity", "thing", graph.Attrs{})
	require.NoError(t, err)
	n3, err := g.AddNode("entity", "thing", graph.Attrs{})
	require.NoError(t, err)
	n4, err := g.AddNode("entity", "thing", graph.Attrs{})
	require.NoError(t, err)
	e1, err := g.AddEdge("link", nil, graph.Attrs{})
	require.NoError(t, err)
	_, err = g.AddIncidence(e1.ID, n2.ID, "source", nil, graph.Attrs{})
	require.NoError(t, err)
	_, err = g.AddIncidence(e1.ID, n3.ID, "target", nil, graph.Attrs{})
	require.NoError(t, err)
	e2, err := g.AddEdge("link", nil, graph.Attrs{})
	require.NoError(t, err)
	_, err = g.AddIncidence(e2.ID, n3.ID, "source", nil, graph.Attrs{})
	require.NoError(t, err)
	_, err = g.AddIncidence(e2.ID, n4.ID, "target", nil, graph.Attrs{})
	require.NoError(t, err)
	_, err = g.ComputeAllCIDs()
	require.NoError(t, err)

	rule := shortcutRule(t)
	kernel := newTestKernel()
	kernel.RegisterRule(rule)

	sched := NewScheduler(kernel, dbconfig.RewriteConfig{StepCap: 1000, MaxApplications: 1000}, nil)
	strat := Fix(Rule(rule.CID))
	kernel.RegisterStrategy("shortcut-to-quiescence", strat)

	result, err := sched.Run(context.Background(), "shortcut-to-quiescence", g)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Len(t, result.Applied, 2)

	_, ok := g.Node(b1)
	assert.False(t, ok)
	_, ok = g.Node(n3.ID)
	assert.False(t, ok)
	_ = a1
	_ = c1
}

func TestChoiceFallsBackWhenFirstBranchHasNoMatch(t *testing.T) {
	g, _, _, _ := buildChain(t)
	rule := shortcutRule(t)
	noop, err := NewRule("noop", Pattern{Nodes: []PatternNode{{VarID: "x", Kind: "nonexistent-kind"}}},
		Pattern{Nodes: []PatternNode{{VarID: "x", Kind: "nonexistent-kind"}}},
		Pattern{Nodes: []PatternNode{{VarID: "x", Kind: "nonexistent-kind"}}})
	require.NoError(t, err)

	kernel := newTestKernel()
	kernel.RegisterRule(rule)
	kernel.RegisterRule(noop)
	sched := NewScheduler(kernel, dbconfig.RewriteConfig{StepCap: 100, MaxApplications: 100}, nil)

	strat := Choice(Rule(noop.CID), Rule(rule.CID))
	kernel.RegisterStrategy("choice", strat)

	result, err := sched.Run(context.Background(), "choice", g)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Len(t, result.Applied, 1)
}

func TestStepCapStopsRunaway(t *testing.T) {
	g, _, _, _ := buildChain(t)
	rule := shortcutRule(t)
	kernel := newTestKernel()
	kernel.RegisterRule(rule)

	sched := NewScheduler(kernel, dbconfig.RewriteConfig{StepCap: 1, MaxApplications: 1000, WallClockBudget: time.Minute}, nil)
	strat := Fix(Rule(rule.CID))
	kernel.RegisterStrategy("capped", strat)

	_, err := sched.Run(context.Background(), "capped", g)
	require.Error(t, err)
}

// TestParAppliesBothIndependentMatches pins §8 scenario 5: two disjoint
// instances of the same rule are independent, so Par(r, r) applies both
// in one execution rather than failing or picking only one.
func TestParAppliesBothIndependentMatches(t *testing.T) {
	g1, _, b1, _ := buildChain(t)
	// Graft a second, disjoint chain onto the same graph.
	n2, err := g1.AddNode("entity", "thing", graph.Attrs{})
	require.NoError(t, err)
	n3, err := g1.AddNode("entity", "thing", graph.Attrs{})
	require.NoError(t, err)
	n4, err := g1.AddNode("entity", "thing", graph.Attrs{})
	require.NoError(t, err)
	e1, err := g1.AddEdge("link", nil, graph.Attrs{})
	require.NoError(t, err)
	_, err = g1.AddIncidence(e1.ID, n2.ID, "source", nil, graph.Attrs{})
	require.NoError(t, err)
	_, err = g1.AddIncidence(e1.ID, n3.ID, "target", nil, graph.Attrs{})
	require.NoError(t, err)
	e2, err := g1.AddEdge("link", nil, graph.Attrs{})
	require.NoError(t, err)
	_, err = g1.AddIncidence(e2.ID, n3.ID, "source", nil, graph.Attrs{})
	require.NoError(t, err)
	_, err = g1.AddIncidence(e2.ID, n4.ID, "target", nil, graph.Attrs{})
	require.NoError(t, err)
	_, err = g1.ComputeAllCIDs()
	require.NoError(t, err)

	rule := shortcutRule(t)
	kernel := newTestKernel()
	kernel.RegisterRule(rule)
	sched := NewScheduler(kernel, dbconfig.RewriteConfig{StepCap: 100, MaxApplications: 100, ParWorkers: 4}, nil)

	strat := Par(Rule(rule.CID), Rule(rule.CID))
	kernel.RegisterStrategy("par-shortcut", strat)

	result, err := sched.Run(context.Background(), "par-shortcut", g1)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Len(t, result.Applied, 2)

	_, ok := g1.Node(b1)
	assert.False(t, ok, "first chain's middle node should be gone")
	_, ok = g1.Node(n3.ID)
	assert.False(t, ok, "second chain's middle node should be gone")
}

// TestSchedulerEnforcesAuthzGate pins the C10 precondition wired via
// Scheduler.WithAuthz: a principal without the Strategy/execute
// capability is denied before any match is attempted, and granting it
// lets the identical run through.
func TestSchedulerEnforcesAuthzGate(t *testing.T) {
	g, _, _, _ := buildChain(t)
	rule := shortcutRule(t)
	kernel := newTestKernel()
	kernel.RegisterRule(rule)
	kernel.RegisterStrategy("shortcut-once", Once(Rule(rule.CID)))

	gate := authz.NewGate("", nil)
	sched := NewScheduler(kernel, dbconfig.RewriteConfig{StepCap: 100, MaxApplications: 10}, nil).
		WithAuthz(gate, authz.Principal{UserID: "u1"})

	_, err := sched.Run(context.Background(), "shortcut-once", g)
	require.Error(t, err)
	assert.True(t, kerr.MatchKind(err, kerr.KindAuthzDenied))

	allowed := authz.Principal{
		UserID:       "u1",
		Capabilities: authz.CapabilitySet{}.Grant(authz.Capability{ResourceType: "Strategy", Action: "execute", Scope: "*"}),
	}
	sched2 := NewScheduler(kernel, dbconfig.RewriteConfig{StepCap: 100, MaxApplications: 10}, nil).
		WithAuthz(gate, allowed)
	result, err := sched2.Run(context.Background(), "shortcut-once", g)
	require.NoError(t, err)
	assert.True(t, result.Success)
}
