package txlog

import (
	"github.com/kotobadb/core/internal/cidkit"
)

// OperationKind tags what a Transaction's body represents.
type OperationKind string

const (
	OpGraphTransformation OperationKind = "GraphTransformation"
	OpSchemaChange        OperationKind = "SchemaChange"
	OpConfiguration       OperationKind = "Configuration"
	OpCompaction          OperationKind = "Compaction"
)

// Operation is the tagged payload a Transaction carries. Payload is a
// typed cidkit.Value so it participates in canonicalization the same
// way graph attributes do (§9 closed value grammar).
type Operation struct {
	Kind    OperationKind
	Payload cidkit.Value
}

func (o Operation) canonicalValue() cidkit.Value {
	m := cidkit.NewMap().Set("kind", cidkit.String(o.Kind))
	if o.Payload != nil {
		m = m.Set("payload", o.Payload)
	}
	return m
}

// Transaction is a single node of the Merkle DAG transaction log.
// ID is the CID of the canonical body with Signature cleared (§8
// invariant 3); Parents are the ids of the transactions this one
// extends. RuleCID/StrategyCID are set only when Operation is a
// GraphTransformation produced by C7.
type Transaction struct {
	ID             string
	Parents        []string
	HLC            HLC
	Operation      Operation
	InputGraphCID  string
	OutputGraphCID string
	RuleCID        *string
	StrategyCID    *string
	Signature      []byte
	Size           int
}

// canonicalValue builds the value hashed into ID. Signature is
// deliberately excluded — it signs the rest of the body, so including it
// would make ID depend on itself.
func (t Transaction) canonicalValue() cidkit.Value {
	parents := make(cidkit.Set, len(t.Parents))
	copy(parents, t.Parents)

	m := cidkit.NewMap().
		Set("parents", parents).
		Set("hlc", cidkit.NewMap().
			Set("physical_ms", cidkit.Int(t.HLC.PhysicalMS)).
			Set("logical", cidkit.Int(int64(t.HLC.Logical))).
			Set("node_id", cidkit.String(t.HLC.NodeID))).
		Set("operation", t.Operation.canonicalValue()).
		Set("input_graph_cid", cidkit.String(t.InputGraphCID)).
		Set("output_graph_cid", cidkit.String(t.OutputGraphCID)).
		Set("size", cidkit.Int(int64(t.Size)))

	if t.RuleCID != nil {
		m = m.Set("rule_cid", cidkit.String(*t.RuleCID))
	}
	if t.StrategyCID != nil {
		m = m.Set("strategy_cid", cidkit.String(*t.StrategyCID))
	}
	return m
}

// RecomputeID returns the CID the transaction's body should have,
// independent of whatever t.ID currently holds.
func RecomputeID(t Transaction) (string, error) {
	return cidkit.CID(t.canonicalValue())
}
