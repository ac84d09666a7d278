package rewrite

import (
	"context"
	"sync"
	"time"

	"github.com/kotobadb/core/internal/authz"
	"github.com/kotobadb/core/internal/dbconfig"
	"github.com/kotobadb/core/internal/graph"
	"github.com/kotobadb/core/internal/kerr"
	"github.com/kotobadb/core/internal/obslog"
	"go.uber.org/zap"
)

// RuleStats accumulates per-rule execution statistics, grounded on the
// Rust kernel's RuleStats{call_count, applications, total_time,
// success_count, failure_count}.
type RuleStats struct {
	CallCount      int64
	Applications   int64
	TotalTime      time.Duration
	SuccessCount   int64
	FailureCount   int64
}

func (s RuleStats) SuccessRate() float64 {
	if s.CallCount == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.CallCount)
}

func (s RuleStats) AverageTime() time.Duration {
	if s.CallCount == 0 {
		return 0
	}
	return s.TotalTime / time.Duration(s.CallCount)
}

// StrategyStats mirrors RuleStats at the strategy (whole-execution)
// granularity.
type StrategyStats struct {
	Invocations  int64
	RulesApplied int64
	SuccessCount int64
	FailureCount int64
	TotalTime    time.Duration
}

func (s StrategyStats) SuccessRate() float64 {
	if s.Invocations == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.Invocations)
}

func (s StrategyStats) AverageTime() time.Duration {
	if s.Invocations == 0 {
		return 0
	}
	return s.TotalTime / time.Duration(s.Invocations)
}

// Kernel owns the rule and strategy catalogs plus accumulated
// statistics — the Go re-expression of the Rust kernel's
// Kernel{rule_registry, strategy_registry, stats}.
type Kernel struct {
	mu sync.Mutex

	rules      map[string]Rule
	strategies map[string]*Strategy
	predicates map[string]func(graph.Snapshot) bool

	parWorkers int64

	ruleStats     map[string]*RuleStats
	strategyStats map[string]*StrategyStats
}

// NewKernel builds an empty Kernel configured from cfg's ParWorkers
// bound (§5 "Par admits independent matches onto a bounded work queue
// gated by golang.org/x/sync/semaphore.Weighted").
func NewKernel(cfg dbconfig.RewriteConfig) *Kernel {
	workers := cfg.ParWorkers
	if workers <= 0 {
		workers = 1
	}
	return &Kernel{
		rules:         map[string]Rule{},
		strategies:    map[string]*Strategy{},
		predicates:    map[string]func(graph.Snapshot) bool{},
		parWorkers:    workers,
		ruleStats:     map[string]*RuleStats{},
		strategyStats: map[string]*StrategyStats{},
	}
}

// RegisterRule adds rule to the catalog, keyed by both its CID and its
// Name. Callers that
// want the registration itself recorded as a C5 transaction should wrap
// this with their own txlog append — the Kernel's catalog is purely
// in-memory bookkeeping over content-addressed values.
func (k *Kernel) RegisterRule(rule Rule) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.rules[rule.CID] = rule
	k.rules[rule.Name] = rule
}

// RegisterStrategy adds s to the catalog under both its CID and, if
// distinct, a caller-given name.
func (k *Kernel) RegisterStrategy(name string, s *Strategy) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.strategies[s.CID] = s
	if name != "" {
		k.strategies[name] = s
	}
}

// RegisterPredicate names a host-predicate function for use by If
// strategies. Predicates are host-side code, not content-addressed
// data, so they're looked up by name rather than carried inside the
// Strategy value.
func (k *Kernel) RegisterPredicate(name string, pred func(graph.Snapshot) bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.predicates[name] = pred
}

func (k *Kernel) Rule(ref string) (Rule, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	r, ok := k.rules[ref]
	return r, ok
}

func (k *Kernel) Strategy(ref string) (*Strategy, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.strategies[ref]
	return s, ok
}

func (k *Kernel) recordRule(ruleCID string, applications int, dur time.Duration, success bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	st, ok := k.ruleStats[ruleCID]
	if !ok {
		st = &RuleStats{}
		k.ruleStats[ruleCID] = st
	}
	st.CallCount++
	st.Applications += int64(applications)
	st.TotalTime += dur
	if success {
		st.SuccessCount++
	} else {
		st.FailureCount++
	}
}

func (k *Kernel) recordStrategy(strategyRef string, rulesApplied int, dur time.Duration, success bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	st, ok := k.strategyStats[strategyRef]
	if !ok {
		st = &StrategyStats{}
		k.strategyStats[strategyRef] = st
	}
	st.Invocations++
	st.RulesApplied += int64(rulesApplied)
	st.TotalTime += dur
	if success {
		st.SuccessCount++
	} else {
		st.FailureCount++
	}
}

// RuleStatsSnapshot returns a copy of the accumulated per-rule stats.
func (k *Kernel) RuleStatsSnapshot() map[string]RuleStats {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make(map[string]RuleStats, len(k.ruleStats))
	for k2, v := range k.ruleStats {
		out[k2] = *v
	}
	return out
}

// StrategyStatsSnapshot returns a copy of the accumulated per-strategy
// stats.
func (k *Kernel) StrategyStatsSnapshot() map[string]StrategyStats {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make(map[string]StrategyStats, len(k.strategyStats))
	for k2, v := range k.strategyStats {
		out[k2] = *v
	}
	return out
}

// Scheduler drives one top-level strategy execution against a working
// copy of the host graph, enforcing the step/time/application bounds
// from dbconfig.RewriteConfig and logging under obslog.CategoryRewrite.
// Grounded on the Rust scheduler's queue/history/stats shape, minus the
// multi-tenant queue (a single caller-driven Run replaces it here).
type Scheduler struct {
	kernel *Kernel
	cfg    dbconfig.RewriteConfig
	log    *obslog.Logger

	gate      *authz.Gate
	principal authz.Principal
}

func NewScheduler(kernel *Kernel, cfg dbconfig.RewriteConfig, base *obslog.Logger) *Scheduler {
	log := base
	if log == nil {
		log = obslog.Noop()
	}
	return &Scheduler{kernel: kernel, cfg: cfg, log: log}
}

// WithAuthz arms s with a C10 precondition check: every Run call checks
// gate.Check(principal, {"Strategy", "execute"}) before dispatching the
// strategy (§2 data-flow: the Authorization Gate runs before the Rewrite
// Kernel executes). A nil gate (the default) disables the check. Returns
// s for chaining.
func (s *Scheduler) WithAuthz(gate *authz.Gate, principal authz.Principal) *Scheduler {
	s.gate = gate
	s.principal = principal
	return s
}

// RunResult reports the outcome of a scheduled strategy execution.
type RunResult struct {
	Success    bool
	Applied    []Application
	FinalCID   string
}

// Run executes strategyRef against host (mutated in place) under the
// Scheduler's configured bounds, returning the applications produced.
// A nil error with Success=false means the strategy found nothing to
// do; a non-nil error means an authorization denial from the configured
// gate, a registry miss, a budget breach, or an Apply failure (§4.6.4
// ExecutionError taxonomy).
func (s *Scheduler) Run(ctx context.Context, strategyRef string, host *graph.Graph) (RunResult, error) {
	if s.gate != nil {
		if err := s.gate.Check(s.principal, authz.Resource{Type: "Strategy", Action: "execute"}); err != nil {
			return RunResult{}, err
		}
	}

	strategy, ok := s.kernel.Strategy(strategyRef)
	if !ok {
		return RunResult{}, kerr.Execution("strategy not registered").
			WithContext("reason", "StrategyNotFound").WithContext("strategy_ref", strategyRef)
	}

	budget := NewBudget(ctx, int(s.cfg.StepCap), int(s.cfg.MaxApplications), s.cfg.WallClockBudget)
	start := time.Now()
	result, err := s.kernel.executeStrategy(strategy, host, budget)
	dur := time.Since(start)
	s.kernel.recordStrategy(strategyRef, len(result.Applied), dur, err == nil && result.Success)

	if err != nil {
		s.log.Error("strategy execution failed",
			zap.String("strategy_ref", strategyRef), zap.Error(err))
		return RunResult{Applied: result.Applied}, err
	}
	s.log.Info("strategy execution finished",
		zap.String("strategy_ref", strategyRef), zap.Bool("success", result.Success),
		zap.Int("applications", len(result.Applied)), zap.Duration("duration", dur))

	final := ""
	if len(result.Applied) > 0 {
		final = result.Applied[len(result.Applied)-1].Delta.RootCID
	}
	return RunResult{Success: result.Success, Applied: result.Applied, FinalCID: final}, nil
}
