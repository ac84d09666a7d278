package rewrite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kotobadb/core/internal/dbconfig"
	"github.com/kotobadb/core/internal/mvcc"
	"github.com/kotobadb/core/internal/storeengine"
	"github.com/kotobadb/core/internal/txlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCatalogTestManager(t *testing.T) *mvcc.Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.sqlite")
	engine, err := storeengine.Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	store := txlog.NewStore(engine)
	mgr, err := mvcc.NewManager(engine, store, "node-test", dbconfig.MVCCConfig{MaxCommitRetries: 3}, 0)
	require.NoError(t, err)
	return mgr
}

const shortcutCatalogYAML = `
rules:
  - name: shortcut
    left:
      nodes:
        - {var: a, kind: entity}
        - {var: b, kind: entity}
        - {var: c, kind: entity}
      edges:
        - {var: e1, kind: link}
        - {var: e2, kind: link}
      incidences:
        - {edge_var: e1, node_var: a, role: source}
        - {edge_var: e1, node_var: b, role: target}
        - {edge_var: e2, node_var: b, role: source}
        - {edge_var: e2, node_var: c, role: target}
    interface:
      nodes:
        - {var: a, kind: entity}
        - {var: c, kind: entity}
    right:
      nodes:
        - {var: a, kind: entity}
        - {var: c, kind: entity}
      edges:
        - {var: e3, kind: link}
      incidences:
        - {edge_var: e3, node_var: a, role: source}
        - {edge_var: e3, node_var: c, role: target}

strategies:
  - name: shortcut-once
    kind: Once
    a:
      kind: Rule
      rule_ref: shortcut
`

func writeCatalogFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(shortcutCatalogYAML), 0o644))
	return path
}

func TestLoadCatalogFileParsesRulesAndStrategies(t *testing.T) {
	path := writeCatalogFile(t)
	cf, err := LoadCatalogFile(path)
	require.NoError(t, err)
	require.Len(t, cf.Rules, 1)
	require.Len(t, cf.Strategies, 1)
	assert.Equal(t, "shortcut", cf.Rules[0].Name)
	assert.Equal(t, StratOnce, cf.Strategies[0].Kind)
}

func TestRegisterCatalogRegistersAndCommitsConfiguration(t *testing.T) {
	path := writeCatalogFile(t)
	cf, err := LoadCatalogFile(path)
	require.NoError(t, err)

	kernel := NewKernel(dbconfig.RewriteConfig{ParWorkers: 2})
	mgr := newCatalogTestManager(t)

	txID, err := RegisterCatalog(kernel, mgr, cf)
	require.NoError(t, err)
	assert.NotEmpty(t, txID)

	rule, ok := kernel.Rule("shortcut")
	require.True(t, ok)
	assert.Equal(t, "shortcut", rule.Name)

	strategy, ok := kernel.Strategy("shortcut-once")
	require.True(t, ok)
	assert.Equal(t, StratOnce, strategy.Kind)

	tx, ok := mgr.Log().Get(txID)
	require.True(t, ok)
	assert.Equal(t, txlog.OpConfiguration, tx.Operation.Kind)

	// The rule is usable end to end through the registered strategy.
	g, _, _, _ := buildChain(t)
	sched := NewScheduler(kernel, dbconfig.RewriteConfig{StepCap: 100, MaxApplications: 10}, nil)
	result, err := sched.Run(context.Background(), "shortcut-once", g)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Len(t, result.Applied, 1)
}

func TestRegisterCatalogRejectsEmptyCatalog(t *testing.T) {
	kernel := NewKernel(dbconfig.RewriteConfig{})
	mgr := newCatalogTestManager(t)
	_, err := RegisterCatalog(kernel, mgr, &CatalogFile{})
	assert.Error(t, err)
}
