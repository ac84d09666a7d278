package rewrite

import (
	"context"
	"time"

	"github.com/kotobadb/core/internal/cidkit"
	"github.com/kotobadb/core/internal/graph"
	"github.com/kotobadb/core/internal/kerr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// StrategyKind tags a Strategy's variant in the composition algebra of
// §3.5.
type StrategyKind string

const (
	StratRule    StrategyKind = "Rule"
	StratSeq     StrategyKind = "Seq"
	StratPar     StrategyKind = "Par"
	StratChoice  StrategyKind = "Choice"
	StratFix     StrategyKind = "Fix"
	StratOnce    StrategyKind = "Once"
	StratIf      StrategyKind = "If"
	StratLayered StrategyKind = "Layered"
)

// Strategy is a first-class, content-addressed program over rewrite
// rules (§3.5). PredRef names a predicate registered on the Kernel
// rather than carrying an inline closure, so the value stays a pure,
// serializable tuple instead of smuggling host-runtime code into the
// canonical grammar (§9 "tagged variants + static schema").
type Strategy struct {
	Kind    StrategyKind
	RuleRef string
	PredRef string
	A, B    *Strategy
	Phases  []*Strategy
	CID     string
}

func Rule(ruleRef string) *Strategy { return stamp(&Strategy{Kind: StratRule, RuleRef: ruleRef}) }
func Seq(s, t *Strategy) *Strategy   { return stamp(&Strategy{Kind: StratSeq, A: s, B: t}) }
func Par(s, t *Strategy) *Strategy   { return stamp(&Strategy{Kind: StratPar, A: s, B: t}) }
func Choice(s, t *Strategy) *Strategy { return stamp(&Strategy{Kind: StratChoice, A: s, B: t}) }
func Fix(s *Strategy) *Strategy      { return stamp(&Strategy{Kind: StratFix, A: s}) }
func Once(s *Strategy) *Strategy     { return stamp(&Strategy{Kind: StratOnce, A: s}) }
func If(predRef string, then, els *Strategy) *Strategy {
	return stamp(&Strategy{Kind: StratIf, PredRef: predRef, A: then, B: els})
}
func Layered(phases ...*Strategy) *Strategy {
	return stamp(&Strategy{Kind: StratLayered, Phases: phases})
}

func (s *Strategy) canonicalValue() cidkit.Value {
	if s == nil {
		return cidkit.NewMap()
	}
	m := cidkit.NewMap().Set("kind", cidkit.String(s.Kind))
	if s.RuleRef != "" {
		m = m.Set("rule_ref", cidkit.String(s.RuleRef))
	}
	if s.PredRef != "" {
		m = m.Set("pred_ref", cidkit.String(s.PredRef))
	}
	if s.A != nil {
		m = m.Set("a", s.A.canonicalValue())
	}
	if s.B != nil {
		m = m.Set("b", s.B.canonicalValue())
	}
	if len(s.Phases) > 0 {
		seq := make(cidkit.Sequence, len(s.Phases))
		for i, p := range s.Phases {
			seq[i] = p.canonicalValue()
		}
		m = m.Set("phases", seq)
	}
	return m
}

func stamp(s *Strategy) *Strategy {
	cid, err := cidkit.CID(s.canonicalValue())
	if err == nil {
		s.CID = cid
	}
	return s
}

// Budget bounds a single top-level strategy execution (§4.6.4): a step
// cap (every strategy-tree descent and Rule-leaf attempt consumes one
// step), a wall-clock deadline, and a maximum-applications bound.
type Budget struct {
	stepCap         int
	maxApplications int
	deadline        time.Time
	steps           int
	applications    int
	cancel          context.Context
}

// NewBudget builds a Budget from the configured bounds. A zero stepCap
// or maxApplications means unlimited; a zero timeout means no deadline.
func NewBudget(ctx context.Context, stepCap, maxApplications int, timeout time.Duration) *Budget {
	b := &Budget{stepCap: stepCap, maxApplications: maxApplications, cancel: ctx}
	if timeout > 0 {
		b.deadline = time.Now().Add(timeout)
	}
	return b
}

func (b *Budget) consumeStep() error {
	if b.cancel != nil && b.cancel.Err() != nil {
		return kerr.Timeout("execution cancelled").WithContext("reason", "Timeout")
	}
	b.steps++
	if b.stepCap > 0 && b.steps > b.stepCap {
		return kerr.Execution("step cap exceeded").WithContext("reason", "ResourceLimit")
	}
	if !b.deadline.IsZero() && time.Now().After(b.deadline) {
		return kerr.Timeout("wall-clock budget exceeded").WithContext("reason", "Timeout")
	}
	return nil
}

func (b *Budget) consumeApplication() error {
	b.applications++
	if b.maxApplications > 0 && b.applications > b.maxApplications {
		return kerr.Execution("maximum applications exceeded").WithContext("reason", "ResourceLimit")
	}
	return nil
}

// StrategyResult reports the applications a strategy execution produced
// and whether it succeeded (§4.6.3 semantics of Seq/Choice/Fix hinge on
// this).
type StrategyResult struct {
	Success bool
	Applied []Application
}

// executeStrategy interprets s against host (mutated in place), per the
// semantics of §4.6.3. Only infrastructure errors (rule/strategy not
// found, budget exhaustion, an Apply failure) are returned as error; a
// strategy finding no applicable rewrite is a non-error Success=false.
func (k *Kernel) executeStrategy(s *Strategy, host *graph.Graph, budget *Budget) (StrategyResult, error) {
	if err := budget.consumeStep(); err != nil {
		return StrategyResult{}, err
	}

	switch s.Kind {
	case StratRule:
		return k.executeRuleLeaf(s, host, budget)

	case StratSeq:
		r1, err := k.executeStrategy(s.A, host, budget)
		if err != nil {
			return StrategyResult{}, err
		}
		if !r1.Success {
			return StrategyResult{Success: false}, nil
		}
		r2, err := k.executeStrategy(s.B, host, budget)
		if err != nil {
			return StrategyResult{Applied: r1.Applied}, err
		}
		return StrategyResult{Success: r2.Success, Applied: append(r1.Applied, r2.Applied...)}, nil

	case StratChoice:
		r1, err := k.executeStrategy(s.A, host, budget)
		if err != nil {
			return StrategyResult{}, err
		}
		if r1.Success {
			return r1, nil
		}
		return k.executeStrategy(s.B, host, budget)

	case StratFix:
		var all []Application
		for {
			r, err := k.executeStrategy(s.A, host, budget)
			if err != nil {
				return StrategyResult{Applied: all}, err
			}
			if !r.Success {
				break
			}
			all = append(all, r.Applied...)
		}
		return StrategyResult{Success: true, Applied: all}, nil

	case StratOnce:
		return k.executeStrategy(s.A, host, budget)

	case StratIf:
		pred, ok := k.predicates[s.PredRef]
		if !ok {
			return StrategyResult{}, kerr.Execution("predicate not registered").
				WithContext("reason", "StrategyNotFound").WithContext("pred_ref", s.PredRef)
		}
		if pred(host.Snapshot()) {
			return k.executeStrategy(s.A, host, budget)
		}
		return k.executeStrategy(s.B, host, budget)

	case StratLayered:
		var all []Application
		for _, phase := range s.Phases {
			for {
				r, err := k.executeStrategy(phase, host, budget)
				if err != nil {
					return StrategyResult{Applied: all}, err
				}
				if !r.Success {
					break
				}
				all = append(all, r.Applied...)
			}
		}
		return StrategyResult{Success: true, Applied: all}, nil

	case StratPar:
		return k.executePar(s, host, budget)

	default:
		return StrategyResult{}, kerr.Execution("unknown strategy kind").WithContext("kind", s.Kind)
	}
}

func (k *Kernel) executeRuleLeaf(s *Strategy, host *graph.Graph, budget *Budget) (StrategyResult, error) {
	rule, ok := k.rules[s.RuleRef]
	if !ok {
		return StrategyResult{}, kerr.Execution("rule not registered").
			WithContext("reason", "RuleNotFound").WithContext("rule_ref", s.RuleRef)
	}
	start := time.Now()
	matches, err := NewMatcher(rule, host.Snapshot()).FindMatches(1)
	if err != nil {
		return StrategyResult{}, err
	}
	if len(matches) == 0 {
		k.recordRule(rule.CID, 0, time.Since(start), false)
		return StrategyResult{Success: false}, nil
	}
	if err := budget.consumeApplication(); err != nil {
		return StrategyResult{}, err
	}
	app, err := NewApplicator(rule).Apply(host, matches[0])
	if err != nil {
		k.recordRule(rule.CID, 0, time.Since(start), false)
		return StrategyResult{}, err
	}
	k.recordRule(rule.CID, 1, time.Since(start), true)
	return StrategyResult{Success: true, Applied: []Application{app}}, nil
}

// executePar implements §4.6.3 Par: both branches must be Rule leaves
// (a documented scope decision — see DESIGN.md); it searches their
// match spaces for the first mutually independent pair (deterministic
// lexicographic order) and applies both concurrently on a bounded
// admission queue, failing (not erroring) if no independent pair
// exists.
func (k *Kernel) executePar(s *Strategy, host *graph.Graph, budget *Budget) (StrategyResult, error) {
	if s.A.Kind != StratRule || s.B.Kind != StratRule {
		return StrategyResult{}, kerr.Execution("Par requires both branches to be Rule leaves").
			WithContext("reason", "MatcherFailure")
	}
	ruleA, ok := k.rules[s.A.RuleRef]
	if !ok {
		return StrategyResult{}, kerr.Execution("rule not registered").WithContext("reason", "RuleNotFound").WithContext("rule_ref", s.A.RuleRef)
	}
	ruleB, ok := k.rules[s.B.RuleRef]
	if !ok {
		return StrategyResult{}, kerr.Execution("rule not registered").WithContext("reason", "RuleNotFound").WithContext("rule_ref", s.B.RuleRef)
	}

	snap := host.Snapshot()
	matchesA, err := NewMatcher(ruleA, snap).FindMatches(0)
	if err != nil {
		return StrategyResult{}, err
	}
	matchesB, err := NewMatcher(ruleB, snap).FindMatches(0)
	if err != nil {
		return StrategyResult{}, err
	}

	sameRule := ruleA.CID == ruleB.CID
	var chosenA, chosenB *Match
outer:
	for i := range matchesA {
		for j := range matchesB {
			if sameRule && i == j {
				continue
			}
			if independentMatches(matchesA[i], matchesB[j]) {
				chosenA, chosenB = &matchesA[i], &matchesB[j]
				break outer
			}
		}
	}
	if chosenA == nil {
		return StrategyResult{Success: false}, nil
	}
	if err := budget.consumeApplication(); err != nil {
		return StrategyResult{}, err
	}
	if err := budget.consumeApplication(); err != nil {
		return StrategyResult{}, err
	}

	sem := semaphore.NewWeighted(max64(k.parWorkers, 1))
	g, ctx := errgroup.WithContext(context.Background())
	var appA, appB Application
	g.Go(func() error {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer sem.Release(1)
		a, err := NewApplicator(ruleA).Apply(host, *chosenA)
		if err != nil {
			return err
		}
		appA = a
		return nil
	})
	g.Go(func() error {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer sem.Release(1)
		b, err := NewApplicator(ruleB).Apply(host, *chosenB)
		if err != nil {
			return err
		}
		appB = b
		return nil
	})
	if err := g.Wait(); err != nil {
		return StrategyResult{}, err
	}
	k.recordRule(ruleA.CID, 1, 0, true)
	k.recordRule(ruleB.CID, 1, 0, true)
	return StrategyResult{Success: true, Applied: []Application{appA, appB}}, nil
}

func max64(n int64, min int64) int64 {
	if n < min {
		return min
	}
	return n
}

// independentMatches implements the §4.6.3 independence predicate as a
// conservative over-approximation: two matches are independent when the
// entire set of host entities either touches — any node or edge var's
// bound id — is disjoint, which entails both the deleted-set-disjoint
// and glued/read-only-boundary-disjoint conditions DPO parallel
// independence requires.
func independentMatches(a, b Match) bool {
	touched := func(m Match) map[string]bool {
		set := make(map[string]bool, len(m.NodeBinding)+len(m.EdgeBinding))
		for _, id := range m.NodeBinding {
			set["n:"+id] = true
		}
		for _, id := range m.EdgeBinding {
			set["e:"+id] = true
		}
		return set
	}
	ta, tb := touched(a), touched(b)
	for k := range ta {
		if tb[k] {
			return false
		}
	}
	return true
}
