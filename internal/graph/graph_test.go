package graph

import (
	"testing"

	"github.com/kotobadb/core/internal/cidkit"
	"github.com/kotobadb/core/internal/kerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attrs(name string) Attrs {
	return cidkit.NewMap().Set("name", cidkit.String(name))
}

func TestAddNodeAssignsCID(t *testing.T) {
	g := New()
	n, err := g.AddNode(NodeKind("Process"), "compute", attrs("A"))
	require.NoError(t, err)
	assert.NotEmpty(t, n.ID)
	assert.NotEmpty(t, n.CID)
}

func TestAddIncidenceRejectsMissingReferent(t *testing.T) {
	g := New()
	n, err := g.AddNode(NodeKind("Process"), "compute", attrs("A"))
	require.NoError(t, err)

	_, err = g.AddIncidence("missing-edge", n.ID, Role("source"), nil, cidkit.Map{})
	require.Error(t, err)
	assert.True(t, kerr.MatchKind(err, kerr.KindGraphInvariant))
}

// TestRemoveNodeCascades pins spec invariant 2 (§8): for any graph G,
// removing node n leaves no incidence referencing n, and an edge
// stripped of all its incidences by the cascade is itself removed.
func TestRemoveNodeCascades(t *testing.T) {
	g := New()
	a, err := g.AddNode(NodeKind("Process"), "compute", attrs("A"))
	require.NoError(t, err)
	b, err := g.AddNode(NodeKind("Process"), "compute", attrs("B"))
	require.NoError(t, err)
	e, err := g.AddEdge(EdgeKind("Flow"), nil, cidkit.Map{})
	require.NoError(t, err)

	_, err = g.AddIncidence(e.ID, a.ID, Role("source"), nil, cidkit.Map{})
	require.NoError(t, err)
	_, err = g.AddIncidence(e.ID, b.ID, Role("target"), nil, cidkit.Map{})
	require.NoError(t, err)

	require.NoError(t, g.RemoveNode(a.ID))

	for _, inc := range g.IncidencesOfEdge(e.ID) {
		assert.NotEqual(t, a.ID, inc.NodeID, "no incidence should reference the removed node")
	}
	_, stillHasEdge := g.Edge(e.ID)
	assert.True(t, stillHasEdge, "edge retains an incidence via b, so it survives")

	require.NoError(t, g.RemoveNode(b.ID))
	_, hasEdge := g.Edge(e.ID)
	assert.False(t, hasEdge, "an edge with zero incidences must not survive a cascade")
}

func TestSelfIncidenceAllowed(t *testing.T) {
	g := New()
	n, err := g.AddNode(NodeKind("Process"), "compute", attrs("A"))
	require.NoError(t, err)
	e, err := g.AddEdge(EdgeKind("Loop"), nil, cidkit.Map{})
	require.NoError(t, err)

	_, err = g.AddIncidence(e.ID, n.ID, Role("source"), nil, cidkit.Map{})
	require.NoError(t, err)
	_, err = g.AddIncidence(e.ID, n.ID, Role("target"), nil, cidkit.Map{})
	require.NoError(t, err, "a node incident on the same edge twice under different roles is allowed")
}

func TestDuplicateOrdinalRejected(t *testing.T) {
	g := New()
	n, err := g.AddNode(NodeKind("Process"), "compute", attrs("A"))
	require.NoError(t, err)
	e, err := g.AddEdge(EdgeKind("Seq"), nil, cidkit.Map{})
	require.NoError(t, err)

	first := 0
	_, err = g.AddIncidence(e.ID, n.ID, Role("operand"), &first, cidkit.Map{})
	require.NoError(t, err)

	n2, err := g.AddNode(NodeKind("Process"), "compute", attrs("B"))
	require.NoError(t, err)
	dup := 0
	_, err = g.AddIncidence(e.ID, n2.ID, Role("operand"), &dup, cidkit.Map{})
	require.Error(t, err)
	assert.True(t, kerr.MatchKind(err, kerr.KindGraphInvariant))
}

func TestDuplicateOrdinalAllowedAcrossDifferentRoles(t *testing.T) {
	g := New()
	n, err := g.AddNode(NodeKind("Process"), "compute", attrs("A"))
	require.NoError(t, err)
	e, err := g.AddEdge(EdgeKind("Seq"), nil, cidkit.Map{})
	require.NoError(t, err)

	zero := 0
	_, err = g.AddIncidence(e.ID, n.ID, Role("operand"), &zero, cidkit.Map{})
	require.NoError(t, err)
	_, err = g.AddIncidence(e.ID, n.ID, Role("witness"), &zero, cidkit.Map{})
	require.NoError(t, err, "ordinal uniqueness is scoped to (edge, role), not edge alone")
}

func TestRemoveEdgeRemovesItsIncidences(t *testing.T) {
	g := New()
	n, err := g.AddNode(NodeKind("Process"), "compute", attrs("A"))
	require.NoError(t, err)
	e, err := g.AddEdge(EdgeKind("Flow"), nil, cidkit.Map{})
	require.NoError(t, err)
	inc, err := g.AddIncidence(e.ID, n.ID, Role("source"), nil, cidkit.Map{})
	require.NoError(t, err)

	require.NoError(t, g.RemoveEdge(e.ID))
	_, ok := g.Incidence(inc.ID)
	assert.False(t, ok)
	assert.Empty(t, g.IncidencesOfNode(n.ID))
}

func TestReplaceAttributesChangesCID(t *testing.T) {
	g := New()
	n, err := g.AddNode(NodeKind("Process"), "compute", attrs("A"))
	require.NoError(t, err)
	before := n.CID

	require.NoError(t, g.ReplaceAttributes("node", n.ID, attrs("B")))
	after, _ := g.Node(n.ID)
	assert.NotEqual(t, before, after.CID)
}

func TestComputeAllCIDsIsDeterministic(t *testing.T) {
	g := New()
	_, err := g.AddNode(NodeKind("Process"), "compute", attrs("A"))
	require.NoError(t, err)
	_, err = g.AddNode(NodeKind("Process"), "compute", attrs("B"))
	require.NoError(t, err)

	root1, err := g.ComputeAllCIDs()
	require.NoError(t, err)
	root2, err := g.ComputeAllCIDs()
	require.NoError(t, err)
	assert.Equal(t, root1, root2)
	assert.Equal(t, root1, g.RootCID())
}

func TestValidateCatchesZeroIncidenceEdge(t *testing.T) {
	g := New()
	_, err := g.AddEdge(EdgeKind("Flow"), nil, cidkit.Map{})
	require.NoError(t, err)
	err = g.Validate()
	require.Error(t, err)
	assert.True(t, kerr.MatchKind(err, kerr.KindGraphInvariant))
}

func TestSubgraphPrunedOnNodeRemoval(t *testing.T) {
	g := New()
	n, err := g.AddNode(NodeKind("Process"), "compute", attrs("A"))
	require.NoError(t, err)
	sg, err := g.AddSubgraph("view", []string{n.ID}, nil, cidkit.Map{})
	require.NoError(t, err)

	require.NoError(t, g.RemoveNode(n.ID))

	refreshed, ok := g.subgraphs[sg.ID]
	require.True(t, ok)
	assert.Empty(t, refreshed.NodeIDs)
}
