// Package projection implements the Projection Engine (§4.7): a
// materialized graph.Graph view built by replaying committed
// transactions, in HLC-topological order, out of the transaction log.
// Grounded on the teacher's internal/retrieval read-model idiom (a
// derived, periodically-refreshed view over the durable log) and on
// original_source's kotoba-vm-gnn projection notion of folding deltas
// into a live graph rather than re-deriving it from scratch each read.
package projection

import (
	"context"
	"sort"
	"sync"

	"github.com/kotobadb/core/internal/cidkit"
	"github.com/kotobadb/core/internal/graph"
	"github.com/kotobadb/core/internal/kerr"
	"github.com/kotobadb/core/internal/mvcc"
	"github.com/kotobadb/core/internal/obslog"
	"github.com/kotobadb/core/internal/txlog"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine owns one materialized graph.Graph, kept current by Tick
// replaying transactions from a mvcc.Manager's log.
type Engine struct {
	mu          sync.RWMutex
	g           *graph.Graph
	mgr         *mvcc.Manager
	applied     map[string]struct{}
	lastApplied string
	log         *obslog.Logger
}

// NewEngine returns an Engine with an empty materialized graph; call
// Tick to catch it up to the log's current state.
func NewEngine(mgr *mvcc.Manager, base *obslog.Logger) *Engine {
	log := base
	if log == nil {
		log = obslog.Noop()
	}
	return &Engine{
		g:       graph.New(),
		mgr:     mgr,
		applied: map[string]struct{}{},
		log:     log,
	}
}

// LastApplied returns the id of the most recently processed transaction,
// including one Tick skipped for carrying no graph delta; empty if Tick
// has never processed one.
func (e *Engine) LastApplied() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastApplied
}

// decoded pairs a pending transaction with its pre-decoded delta, so
// Tick can parallelize the pure decode step across goroutines (via
// errgroup.Group) before folding sequentially in HLC order — decoding
// is embarrassingly parallel, but ApplyDelta mutates shared state and
// must run in order.
type decoded struct {
	tx    txlog.Transaction
	delta graph.Delta
	has   bool
}

// Tick folds every transaction committed since the last call into the
// materialized graph, in ascending HLC order (a valid topological
// order, since PlanAdd guarantees a transaction's HLC dominates every
// parent's). Transactions whose Operation is not a GraphTransformation,
// or that carry no graph_delta (e.g. a bare key/value write with no
// graph-level effect), are skipped.
func (e *Engine) Tick(ctx context.Context) error {
	e.mu.Lock()
	pending := e.pendingLocked()
	e.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	results := make([]decoded, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	for i, tx := range pending {
		i, tx := i, tx
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			delta, has, err := decodeGraphDelta(tx)
			if err != nil {
				return err
			}
			results[i] = decoded{tx: tx, delta: delta, has: has}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range results {
		if r.has {
			graph.ApplyDelta(e.g, r.delta)
		}
		e.applied[r.tx.ID] = struct{}{}
		e.lastApplied = r.tx.ID
	}
	e.log.Info("projection tick applied transactions", zap.Int("count", len(results)))
	return nil
}

// pendingLocked returns every not-yet-applied transaction from the
// manager's log, sorted ascending by HLC. Caller must hold e.mu.
func (e *Engine) pendingLocked() []txlog.Transaction {
	all := e.mgr.Log().All()
	out := make([]txlog.Transaction, 0, len(all))
	for _, tx := range all {
		if _, done := e.applied[tx.ID]; done {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HLC.Compare(out[j].HLC) < 0 })
	return out
}

func decodeGraphDelta(tx txlog.Transaction) (graph.Delta, bool, error) {
	if tx.Operation.Kind != txlog.OpGraphTransformation {
		return graph.Delta{}, false, nil
	}
	cm, ok := tx.Operation.Payload.(cidkit.Map)
	if !ok {
		return graph.Delta{}, false, nil
	}
	raw, ok := cm.Entries["graph_delta"]
	if !ok {
		return graph.Delta{}, false, nil
	}
	delta, err := graph.DecodeDelta(raw)
	if err != nil {
		return graph.Delta{}, false, kerr.InvalidTransaction("failed to decode graph delta").
			WithContext("tx_id", tx.ID).WithContext("cause", err.Error())
	}
	return delta, true, nil
}
