package rewrite

import (
	"fmt"
	"os"

	"github.com/kotobadb/core/internal/cidkit"
	"github.com/kotobadb/core/internal/graph"
	"github.com/kotobadb/core/internal/kerr"
	"github.com/kotobadb/core/internal/mvcc"
	"github.com/kotobadb/core/internal/storeplan"
	"gopkg.in/yaml.v3"
)

// CatalogFile is the YAML-addressable rule/strategy catalog format (§6
// "Rule catalog ... a set of rule definitions and a set of strategy
// definitions, each addressed by CID; registration is itself a
// transaction"), generalizing the teacher's gopkg.in/yaml.v3 config
// idiom (internal/dbconfig) to catalog data instead of engine settings.
type CatalogFile struct {
	Rules      []RuleDef     `yaml:"rules"`
	Strategies []StrategyDef `yaml:"strategies"`
}

// RuleDef is the YAML shape of a Rule (§3.5): three named patterns plus
// the rule's own name.
type RuleDef struct {
	Name      string     `yaml:"name"`
	Left      PatternDef `yaml:"left"`
	Interface PatternDef `yaml:"interface"`
	Right     PatternDef `yaml:"right"`
}

// PatternDef is the YAML shape of a Pattern.
type PatternDef struct {
	Nodes      []PatternNodeDef      `yaml:"nodes"`
	Edges      []PatternEdgeDef      `yaml:"edges"`
	Incidences []PatternIncidenceDef `yaml:"incidences"`
}

type PatternNodeDef struct {
	Var   string                 `yaml:"var"`
	Kind  string                 `yaml:"kind"`
	Type  string                 `yaml:"type"`
	Attrs map[string]interface{} `yaml:"attrs"`
}

type PatternEdgeDef struct {
	Var   string `yaml:"var"`
	Kind  string `yaml:"kind"`
	Label string `yaml:"label"`
}

type PatternIncidenceDef struct {
	EdgeVar string `yaml:"edge_var"`
	NodeVar string `yaml:"node_var"`
	Role    string `yaml:"role"`
	Ordinal *int   `yaml:"ordinal"`
}

// StrategyDef is the YAML shape of a Strategy (§3.5): a tagged variant
// over the composition algebra, named so the catalog can reference it by
// Name when registering with a Kernel.
type StrategyDef struct {
	Name    string        `yaml:"name"`
	Kind    StrategyKind  `yaml:"kind"`
	RuleRef string        `yaml:"rule_ref"`
	PredRef string        `yaml:"pred_ref"`
	A       *StrategyDef  `yaml:"a"`
	B       *StrategyDef  `yaml:"b"`
	Phases  []StrategyDef `yaml:"phases"`
}

// LoadCatalogFile reads and parses a YAML rule/strategy catalog.
func LoadCatalogFile(path string) (*CatalogFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kerr.Execution("read catalog file").WithContext("path", path).WithContext("cause", err.Error())
	}
	var cf CatalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, kerr.Execution("parse catalog file").WithContext("path", path).WithContext("cause", err.Error())
	}
	return &cf, nil
}

func buildPattern(def PatternDef) (Pattern, error) {
	p := Pattern{}
	for _, n := range def.Nodes {
		attrs := map[string]cidkit.Value{}
		for k, v := range n.Attrs {
			cv, err := valueFromYAML(v)
			if err != nil {
				return Pattern{}, err
			}
			attrs[k] = cv
		}
		p.Nodes = append(p.Nodes, PatternNode{VarID: n.Var, Kind: graph.NodeKind(n.Kind), Type: n.Type, Attrs: attrs})
	}
	for _, e := range def.Edges {
		pe := PatternEdge{VarID: e.Var, Kind: graph.EdgeKind(e.Kind)}
		if e.Label != "" {
			label := e.Label
			pe.Label = &label
		}
		p.Edges = append(p.Edges, pe)
	}
	for _, i := range def.Incidences {
		p.Incidences = append(p.Incidences, PatternIncidence{
			EdgeVar: i.EdgeVar, NodeVar: i.NodeVar, Role: graph.Role(i.Role), Ordinal: i.Ordinal,
		})
	}
	return p, nil
}

// valueFromYAML converts a yaml.v3-decoded scalar/collection into a
// cidkit.Value. yaml.v3 decodes plain integers as int (unlike
// encoding/json's float64), so this does not reuse cidkit.FromJSON.
func valueFromYAML(raw interface{}) (cidkit.Value, error) {
	switch t := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return cidkit.String(t), nil
	case bool:
		return cidkit.Bool(t), nil
	case int:
		return cidkit.Int(int64(t)), nil
	case int64:
		return cidkit.Int(t), nil
	case float64:
		return cidkit.Float(t), nil
	case []interface{}:
		seq := make(cidkit.Sequence, len(t))
		for i, el := range t {
			v, err := valueFromYAML(el)
			if err != nil {
				return nil, err
			}
			seq[i] = v
		}
		return seq, nil
	case map[string]interface{}:
		m := cidkit.NewMap()
		for k, el := range t {
			v, err := valueFromYAML(el)
			if err != nil {
				return nil, err
			}
			m = m.Set(k, v)
		}
		return m, nil
	default:
		return nil, kerr.Canonicalization(fmt.Sprintf("catalog attribute has unsupported YAML type %T", raw))
	}
}

// buildStrategy resolves a StrategyDef against a ruleByName lookup (rule
// names are resolved to their CID-stamped RuleRef at load time, since
// Strategy.canonicalValue hashes RuleRef and the catalog author writes
// human names, not CIDs).
func buildStrategy(def StrategyDef, ruleCIDByName map[string]string) (*Strategy, error) {
	resolveRuleRef := func(ref string) string {
		if cid, ok := ruleCIDByName[ref]; ok {
			return cid
		}
		return ref
	}
	needsA := map[StrategyKind]bool{StratSeq: true, StratPar: true, StratChoice: true, StratFix: true, StratOnce: true, StratIf: true}
	needsB := map[StrategyKind]bool{StratSeq: true, StratPar: true, StratChoice: true, StratIf: true}
	if needsA[def.Kind] && def.A == nil {
		return nil, kerr.Execution("strategy definition missing required field 'a'").WithContext("kind", string(def.Kind))
	}
	if needsB[def.Kind] && def.B == nil {
		return nil, kerr.Execution("strategy definition missing required field 'b'").WithContext("kind", string(def.Kind))
	}

	switch def.Kind {
	case StratRule:
		return Rule(resolveRuleRef(def.RuleRef)), nil
	case StratSeq, StratPar, StratChoice:
		a, err := buildStrategy(*def.A, ruleCIDByName)
		if err != nil {
			return nil, err
		}
		b, err := buildStrategy(*def.B, ruleCIDByName)
		if err != nil {
			return nil, err
		}
		switch def.Kind {
		case StratSeq:
			return Seq(a, b), nil
		case StratPar:
			return Par(a, b), nil
		default:
			return Choice(a, b), nil
		}
	case StratFix:
		a, err := buildStrategy(*def.A, ruleCIDByName)
		if err != nil {
			return nil, err
		}
		return Fix(a), nil
	case StratOnce:
		a, err := buildStrategy(*def.A, ruleCIDByName)
		if err != nil {
			return nil, err
		}
		return Once(a), nil
	case StratIf:
		then, err := buildStrategy(*def.A, ruleCIDByName)
		if err != nil {
			return nil, err
		}
		els, err := buildStrategy(*def.B, ruleCIDByName)
		if err != nil {
			return nil, err
		}
		return If(def.PredRef, then, els), nil
	case StratLayered:
		phases := make([]*Strategy, 0, len(def.Phases))
		for _, p := range def.Phases {
			s, err := buildStrategy(p, ruleCIDByName)
			if err != nil {
				return nil, err
			}
			phases = append(phases, s)
		}
		return Layered(phases...), nil
	default:
		return nil, kerr.Execution("unknown strategy kind in catalog").WithContext("kind", string(def.Kind))
	}
}

// RegisterCatalog builds every rule and strategy in cf, registers them
// on kernel under both their name and CID, persists each under the
// `rulecat:<cid>` namespace (§6 persisted-state layout extended with a
// catalog namespace the same way `ent:<cid>` holds graph entities), and
// commits the whole registration as one Configuration transaction
// through mgr (§6 "registration is itself a transaction"). Returns the
// commit's transaction id.
func RegisterCatalog(kernel *Kernel, mgr *mvcc.Manager, cf *CatalogFile) (string, error) {
	ruleCIDByName := map[string]string{}
	var ops []storeplan.Op
	catalogEntries := cidkit.NewMap()
	ruleEntries := cidkit.Sequence{}

	for _, rd := range cf.Rules {
		left, err := buildPattern(rd.Left)
		if err != nil {
			return "", err
		}
		iface, err := buildPattern(rd.Interface)
		if err != nil {
			return "", err
		}
		right, err := buildPattern(rd.Right)
		if err != nil {
			return "", err
		}
		rule, err := NewRule(rd.Name, left, iface, right)
		if err != nil {
			return "", err
		}
		kernel.RegisterRule(rule)
		ruleCIDByName[rd.Name] = rule.CID
		ops = append(ops, storeplan.Put(storeplan.Key{Namespace: "rulecat", Key: rule.CID}, []byte(rule.Name)))
		ruleEntries = append(ruleEntries, cidkit.NewMap().Set("name", cidkit.String(rule.Name)).Set("cid", cidkit.String(rule.CID)))
	}
	catalogEntries = catalogEntries.Set("rules", ruleEntries)

	strategyEntries := cidkit.Sequence{}
	for _, sd := range cf.Strategies {
		s, err := buildStrategy(sd, ruleCIDByName)
		if err != nil {
			return "", err
		}
		kernel.RegisterStrategy(sd.Name, s)
		ops = append(ops, storeplan.Put(storeplan.Key{Namespace: "rulecat", Key: s.CID}, []byte(sd.Name)))
		strategyEntries = append(strategyEntries, cidkit.NewMap().Set("name", cidkit.String(sd.Name)).Set("cid", cidkit.String(s.CID)))
	}
	catalogEntries = catalogEntries.Set("strategies", strategyEntries)

	if len(ops) == 0 {
		return "", kerr.Execution("catalog contains no rules or strategies")
	}

	plan := storeplan.Plan{Ops: ops}
	wt, err := mgr.BeginWrite(plan)
	if err != nil {
		return "", err
	}
	id, err := mgr.CommitConfiguration(wt, catalogEntries)
	if err != nil {
		mgr.Abort(wt)
		return "", err
	}
	return id, nil
}
