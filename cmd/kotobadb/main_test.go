package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/kotobadb/core/internal/kerr"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

func testCmd(t *testing.T) *cobra.Command {
	t.Helper()
	logger = zap.NewNop()
	dbPath = filepath.Join(t.TempDir(), "test.sqlite")
	opTimeout = 5 * time.Second
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	return cmd
}

func TestNodeCreateThenList(t *testing.T) {
	cmd := testCmd(t)

	nodeCreateLabel = "Process"
	nodeCreateAttrs = []string{"name=A", "cost=3"}
	if err := runNodeCreate(cmd, nil); err != nil {
		t.Fatalf("runNodeCreate failed: %v", err)
	}

	nodeListLabel = ""
	if err := runNodeList(cmd, nil); err != nil {
		t.Fatalf("runNodeList failed: %v", err)
	}
}

func TestNodeGetMissing(t *testing.T) {
	cmd := testCmd(t)
	if err := runNodeGet(cmd, []string{"does-not-exist"}); err != nil {
		t.Fatalf("runNodeGet should not error on a missing id: %v", err)
	}
}

func TestStatusCmd(t *testing.T) {
	cmd := testCmd(t)
	if err := runStatus(cmd, nil); err != nil {
		t.Fatalf("runStatus failed: %v", err)
	}
}

func TestTxHeadsEmptyLog(t *testing.T) {
	cmd := testCmd(t)
	if err := runTxHeads(cmd, nil); err != nil {
		t.Fatalf("runTxHeads failed: %v", err)
	}
}

func TestAuthzCheckCLIDeny(t *testing.T) {
	authzCapabilities = nil
	authzRoles = nil
	authzResourceType = "Graph"
	authzAction = "Read"
	authzResourceID = ""

	cmd := &cobra.Command{}
	err := runAuthzCheck(cmd, nil)
	if err == nil {
		t.Fatal("expected a denial error with no capabilities or roles")
	}
	if !kerr.MatchKind(err, kerr.KindAuthzDenied) {
		t.Fatalf("expected AuthorizationDenied, got %v", err)
	}
}

func TestAuthzCheckCLIAllow(t *testing.T) {
	authzCapabilities = []string{"Graph:Read:project/*"}
	authzRoles = nil
	authzResourceType = "Graph"
	authzAction = "Read"
	authzResourceID = "project/A"

	cmd := &cobra.Command{}
	if err := runAuthzCheck(cmd, nil); err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
}

func TestExitCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{kerr.Timeout("slow"), exitTimeout},
		{kerr.Conflict("tx-1"), exitConflict},
		{kerr.StorageIO("disk full", nil), exitIO},
		{kerr.GraphInvariant("bad cascade"), exitValidation},
	}
	for _, c := range cases {
		if got := exitCodeFor(c.err); got != c.want {
			t.Errorf("exitCodeFor(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
