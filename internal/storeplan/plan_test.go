package storeplan

import (
	"testing"

	"github.com/kotobadb/core/internal/kerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func k(ns, key string) Key { return Key{Namespace: ns, Key: key} }

func TestKeyString(t *testing.T) {
	assert.Equal(t, "graph:node-1", k("graph", "node-1").String())
	sub := "attrs"
	withSub := Key{Namespace: "graph", Key: "node-1", SubKey: &sub}
	assert.Equal(t, "graph:node-1:attrs", withSub.String())
}

func TestParseKeyRoundTrips(t *testing.T) {
	parsed, err := ParseKey("graph:node-1:attrs")
	require.NoError(t, err)
	require.NotNil(t, parsed.SubKey)
	assert.Equal(t, "graph:node-1:attrs", parsed.String())
}

func TestValidateRejectsEmptyPlan(t *testing.T) {
	err := Plan{}.Validate()
	require.Error(t, err)
	assert.True(t, kerr.MatchKind(err, kerr.KindStoragePlan))
}

func TestValidateRejectsWriteOnReadOnlyPlan(t *testing.T) {
	p := Plan{Ops: []Op{Put(k("graph", "n1"), []byte("x"))}, ReadOnly: true}
	require.Error(t, p.Validate())
}

func TestValidateRejectsNestedBatch(t *testing.T) {
	p := Plan{Ops: []Op{Batch(Batch(Get(k("graph", "n1"))))}}
	require.Error(t, p.Validate())
}

func TestAffectedKeysFlattensBatchAndSkipsList(t *testing.T) {
	p := Plan{Ops: []Op{
		List("graph", "node-"),
		Batch(Put(k("graph", "n1"), []byte("x")), Get(k("graph", "n2"))),
	}}
	keys := p.AffectedKeys()
	require.Len(t, keys, 2)
	assert.Equal(t, "graph:n1", keys[0].String())
	assert.Equal(t, "graph:n2", keys[1].String())
}

func TestConflictsWithWriteWriteOverlap(t *testing.T) {
	a := Plan{Ops: []Op{Put(k("graph", "n1"), []byte("a"))}}
	b := Plan{Ops: []Op{Put(k("graph", "n1"), []byte("b"))}}
	assert.True(t, a.ConflictsWith(b))
}

func TestConflictsWithReadWriteOverlap(t *testing.T) {
	a := Plan{Ops: []Op{Get(k("graph", "n1"))}, ReadOnly: true}
	b := Plan{Ops: []Op{Put(k("graph", "n1"), []byte("b"))}}
	assert.True(t, a.ConflictsWith(b))
}

func TestConflictsWithDisjointKeysDoNotConflict(t *testing.T) {
	a := Plan{Ops: []Op{Put(k("graph", "n1"), []byte("a"))}}
	b := Plan{Ops: []Op{Put(k("graph", "n2"), []byte("b"))}}
	assert.False(t, a.ConflictsWith(b))
}

// TestConflictsWithBothReadOnlyNeverConflict pins §8 invariant 5: two
// read-only plans never conflict, even when they touch the same key.
func TestConflictsWithBothReadOnlyNeverConflict(t *testing.T) {
	a := Plan{Ops: []Op{Get(k("graph", "n1"))}, ReadOnly: true}
	b := Plan{Ops: []Op{Get(k("graph", "n1"))}, ReadOnly: true}
	assert.False(t, a.ConflictsWith(b))
}
