package storeengine

import (
	"database/sql"
	"strings"

	"github.com/kotobadb/core/internal/kerr"
	"github.com/kotobadb/core/internal/storeplan"
)

// OpResult carries the outcome of a single storeplan.Op, in the same
// position it appeared in the (flattened) Plan.Ops.
type OpResult struct {
	Kind   storeplan.OpKind
	Key    storeplan.Key
	Value  []byte
	Found  bool
	Listed []string
}

// Result is the full outcome of executing a Plan, one OpResult per
// flattened op. When the plan set ExpectedVersion, Version is the version
// every key the plan put now carries (ExpectedVersion+1); otherwise it is
// 0, and each put key's own version was bumped by one.
type Result struct {
	Ops     []OpResult
	Version uint64
}

// Execute runs plan atomically (§4.3 "all-or-nothing"). expected_version,
// if set on the plan, is checked against every key the plan writes: all
// must currently carry that version, or the whole plan fails with
// VersionConflict and no observable state changes (Open Question
// resolution, see DESIGN.md: version is tracked per-row and a
// multi-key plan requires every written row to share the same expected
// version, which is how MVCC's WriteTxn always uses it — one logical
// version per transaction's write set).
func (e *Engine) Execute(plan storeplan.Plan) (*Result, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.Begin()
	if err != nil {
		return nil, kerr.StorageIO("failed to begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if plan.ExpectedVersion != nil {
		for _, key := range plan.WriteKeys() {
			cur, ok, verr := currentVersion(tx, key)
			if verr != nil {
				return nil, verr
			}
			if !ok {
				cur = 0
			}
			if cur != *plan.ExpectedVersion {
				return nil, kerr.VersionConflict("expected_version mismatch").
					WithContext("key", key.String()).
					WithContext("expected", *plan.ExpectedVersion).
					WithContext("actual", cur)
			}
		}
	}

	var results []OpResult
	nextVersion := uint64(0)
	if plan.ExpectedVersion != nil {
		nextVersion = *plan.ExpectedVersion + 1
	}

	var apply func(ops []storeplan.Op) error
	apply = func(ops []storeplan.Op) error {
		for _, op := range ops {
			switch op.Kind {
			case storeplan.OpBatch:
				if err := apply(op.Ops); err != nil {
					return err
				}
			case storeplan.OpGet:
				val, found, err := get(tx, op.Key)
				if err != nil {
					return err
				}
				results = append(results, OpResult{Kind: op.Kind, Key: op.Key, Value: val, Found: found})
			case storeplan.OpExists:
				_, found, err := get(tx, op.Key)
				if err != nil {
					return err
				}
				results = append(results, OpResult{Kind: op.Kind, Key: op.Key, Found: found})
			case storeplan.OpPut:
				ver := nextVersion
				if plan.ExpectedVersion == nil {
					cur, ok, verr := currentVersion(tx, op.Key)
					if verr != nil {
						return verr
					}
					if ok {
						ver = cur + 1
					} else {
						ver = 1
					}
				}
				if err := put(tx, op.Key, op.Value, ver); err != nil {
					return err
				}
				results = append(results, OpResult{Kind: op.Kind, Key: op.Key, Found: true})
			case storeplan.OpDelete:
				if err := del(tx, op.Key); err != nil {
					return err
				}
				results = append(results, OpResult{Kind: op.Kind, Key: op.Key, Found: true})
			case storeplan.OpList:
				keys, err := list(tx, op.Key.Namespace, op.Prefix)
				if err != nil {
					return err
				}
				results = append(results, OpResult{Kind: op.Kind, Key: op.Key, Listed: keys})
			}
		}
		return nil
	}

	if err := apply(plan.Ops); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, kerr.StorageIO("failed to commit transaction", err)
	}
	committed = true

	return &Result{Ops: results, Version: nextVersion}, nil
}

func currentVersion(tx *sql.Tx, key storeplan.Key) (uint64, bool, error) {
	var version uint64
	err := tx.QueryRow(
		"SELECT version FROM kv WHERE namespace = ? AND key = ? AND sub_key = ?",
		key.Namespace, key.Key, subKeyOf(key.SubKey),
	).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, kerr.StorageIO("failed to read version", err).WithContext("key", key.String())
	}
	return version, true, nil
}

func get(tx *sql.Tx, key storeplan.Key) ([]byte, bool, error) {
	var value []byte
	err := tx.QueryRow(
		"SELECT value FROM kv WHERE namespace = ? AND key = ? AND sub_key = ?",
		key.Namespace, key.Key, subKeyOf(key.SubKey),
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, kerr.StorageIO("failed to read key", err).WithContext("key", key.String())
	}
	return value, true, nil
}

func put(tx *sql.Tx, key storeplan.Key, value []byte, version uint64) error {
	_, err := tx.Exec(
		`INSERT INTO kv(namespace, key, sub_key, value, version) VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(namespace, key, sub_key) DO UPDATE SET value = excluded.value, version = excluded.version`,
		key.Namespace, key.Key, subKeyOf(key.SubKey), value, version,
	)
	if err != nil {
		return kerr.StorageIO("failed to write key", err).WithContext("key", key.String())
	}
	return nil
}

func del(tx *sql.Tx, key storeplan.Key) error {
	_, err := tx.Exec(
		"DELETE FROM kv WHERE namespace = ? AND key = ? AND sub_key = ?",
		key.Namespace, key.Key, subKeyOf(key.SubKey),
	)
	if err != nil {
		return kerr.StorageIO("failed to delete key", err).WithContext("key", key.String())
	}
	return nil
}

func list(tx *sql.Tx, namespace, prefix string) ([]string, error) {
	rows, err := tx.Query(
		"SELECT key FROM kv WHERE namespace = ? AND key LIKE ? ESCAPE '\\' ORDER BY key",
		namespace, escapeLikePrefix(prefix)+"%",
	)
	if err != nil {
		return nil, kerr.StorageIO("failed to list namespace", err).WithContext("namespace", namespace)
	}
	defer rows.Close()

	seen := map[string]struct{}{}
	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, kerr.StorageIO("failed to scan list row", err)
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out, nil
}

// escapeLikePrefix escapes SQLite LIKE wildcards so a literal prefix never
// behaves like a pattern.
func escapeLikePrefix(prefix string) string {
	r := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_")
	return r.Replace(prefix)
}
