package txlog

import (
	"encoding/json"

	"github.com/kotobadb/core/internal/cidkit"
	"github.com/kotobadb/core/internal/kerr"
	"github.com/kotobadb/core/internal/storeengine"
	"github.com/kotobadb/core/internal/storeplan"
)

const namespace = "tx"
const headNamespace = "tx-head"

// persisted mirrors Transaction for JSON encoding, matching the
// teacher's trace_store.go idiom of marshaling a struct to a TEXT/BLOB
// column rather than hand-rolling a binary format.
type persisted struct {
	ID             string
	Parents        []string
	HLC            HLC
	OperationKind  OperationKind
	OperationValue json.RawMessage
	InputGraphCID  string
	OutputGraphCID string
	RuleCID        *string
	StrategyCID    *string
	Signature      []byte
	Size           int
}

// Store is the effectful persistence layer for the transaction log,
// backing the in-memory Log with the `tx:`/`tx-head:` namespace
// convention of §6.
type Store struct {
	engine *storeengine.Engine
}

func NewStore(engine *storeengine.Engine) *Store {
	return &Store{engine: engine}
}

// Append persists tx and advances the given appender's head pointer.
// Callers are expected to have already run PlanAdd/ApplyAdditionPlan
// against their in-memory Log; Append is the durable mirror of that
// pure step.
func (s *Store) Append(tx Transaction, appenderNodeID string) error {
	body, err := encodeTransaction(tx)
	if err != nil {
		return err
	}
	plan := storeplan.Plan{Ops: []storeplan.Op{
		storeplan.Batch(
			storeplan.Put(storeplan.Key{Namespace: namespace, Key: tx.ID}, body),
			storeplan.Put(storeplan.Key{Namespace: headNamespace, Key: appenderNodeID}, []byte(tx.ID)),
		),
	}}
	if _, err := s.engine.Execute(plan); err != nil {
		return err
	}
	return nil
}

// Load reads a single persisted transaction by id.
func (s *Store) Load(id string) (Transaction, bool, error) {
	res, err := s.engine.Execute(storeplan.Plan{
		Ops:      []storeplan.Op{storeplan.Get(storeplan.Key{Namespace: namespace, Key: id})},
		ReadOnly: true,
	})
	if err != nil {
		return Transaction{}, false, err
	}
	if !res.Ops[0].Found {
		return Transaction{}, false, nil
	}
	tx, err := decodeTransaction(res.Ops[0].Value)
	if err != nil {
		return Transaction{}, false, err
	}
	return tx, true, nil
}

// Head returns the latest transaction id appended by the given node.
func (s *Store) Head(appenderNodeID string) (string, bool, error) {
	res, err := s.engine.Execute(storeplan.Plan{
		Ops:      []storeplan.Op{storeplan.Get(storeplan.Key{Namespace: headNamespace, Key: appenderNodeID})},
		ReadOnly: true,
	})
	if err != nil {
		return "", false, err
	}
	if !res.Ops[0].Found {
		return "", false, nil
	}
	return string(res.Ops[0].Value), true, nil
}

// LoadAll rehydrates an in-memory Log from every persisted transaction,
// for process startup.
func (s *Store) LoadAll() (*Log, error) {
	res, err := s.engine.Execute(storeplan.Plan{
		Ops:      []storeplan.Op{storeplan.List(namespace, "")},
		ReadOnly: true,
	})
	if err != nil {
		return nil, err
	}

	log := Empty()
	for _, key := range res.Ops[0].Listed {
		get, err := s.engine.Execute(storeplan.Plan{
			Ops:      []storeplan.Op{storeplan.Get(storeplan.Key{Namespace: namespace, Key: key})},
			ReadOnly: true,
		})
		if err != nil {
			return nil, err
		}
		if !get.Ops[0].Found {
			continue
		}
		tx, err := decodeTransaction(get.Ops[0].Value)
		if err != nil {
			return nil, err
		}
		plan, err := PlanAdd(log, tx, 0, nil)
		if err != nil {
			return nil, err
		}
		log = ApplyAdditionPlan(log, plan)
	}
	return log, nil
}

func encodeTransaction(tx Transaction) ([]byte, error) {
	jsonPayload, err := cidkit.ToJSON(tx.Operation.Payload)
	if err != nil {
		return nil, kerr.InvalidTransaction("failed to encode operation payload").WithContext("cause", err.Error())
	}
	payload, err := json.Marshal(jsonPayload)
	if err != nil {
		return nil, kerr.InvalidTransaction("failed to encode operation payload").WithContext("cause", err.Error())
	}
	p := persisted{
		ID:             tx.ID,
		Parents:        tx.Parents,
		HLC:            tx.HLC,
		OperationKind:  tx.Operation.Kind,
		OperationValue: payload,
		InputGraphCID:  tx.InputGraphCID,
		OutputGraphCID: tx.OutputGraphCID,
		RuleCID:        tx.RuleCID,
		StrategyCID:    tx.StrategyCID,
		Signature:      tx.Signature,
		Size:           tx.Size,
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, kerr.InvalidTransaction("failed to encode transaction").WithContext("cause", err.Error())
	}
	return body, nil
}

func decodeTransaction(body []byte) (Transaction, error) {
	var p persisted
	if err := json.Unmarshal(body, &p); err != nil {
		return Transaction{}, kerr.InvalidTransaction("failed to decode transaction").WithContext("cause", err.Error())
	}
	var rawPayload any
	if len(p.OperationValue) > 0 {
		if err := json.Unmarshal(p.OperationValue, &rawPayload); err != nil {
			return Transaction{}, kerr.InvalidTransaction("failed to decode operation payload").WithContext("cause", err.Error())
		}
	}
	payload, err := cidkit.FromJSON(rawPayload)
	if err != nil {
		return Transaction{}, err
	}
	return Transaction{
		ID:             p.ID,
		Parents:        p.Parents,
		HLC:            p.HLC,
		Operation:      Operation{Kind: p.OperationKind, Payload: payload},
		InputGraphCID:  p.InputGraphCID,
		OutputGraphCID: p.OutputGraphCID,
		RuleCID:        p.RuleCID,
		StrategyCID:    p.StrategyCID,
		Signature:      p.Signature,
		Size:           p.Size,
	}, nil
}
