package cidkit

import (
	"sort"

	"github.com/kotobadb/core/internal/kerr"
)

// ToJSON converts v into a plain Go value (map[string]any, []any, string,
// int64, float64, bool, nil) suitable for encoding/json, for components
// (e.g. internal/txlog) that need to persist a Value without going
// through the canonical byte form. Number round-trips as a JSON number;
// FromJSON decodes every integral number as an int Number, so the
// int/float tag of a whole-valued Float is not preserved. A Set is written
// in sorted order and FromJSON reads it back as a Sequence, which
// canonicalizes to the same bytes.
func ToJSON(v Value) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case String:
		return string(t), nil
	case Number:
		if t.IsFloat {
			return t.Float, nil
		}
		return t.Int, nil
	case Bool:
		return bool(t), nil
	case Sequence:
		out := make([]any, len(t))
		for i, el := range t {
			j, err := ToJSON(el)
			if err != nil {
				return nil, err
			}
			out[i] = j
		}
		return out, nil
	case Set:
		sorted := append([]string(nil), t...)
		sort.Strings(sorted)
		out := make([]any, len(t))
		for i, el := range sorted {
			out[i] = el
		}
		return out, nil
	case Map:
		out := make(map[string]any, len(t.Entries))
		for k, el := range t.Entries {
			j, err := ToJSON(el)
			if err != nil {
				return nil, err
			}
			out[k] = j
		}
		return out, nil
	default:
		return nil, kerr.Canonicalization("value not representable as JSON")
	}
}

// FromJSON converts a previously-ToJSON-encoded value (as decoded by
// encoding/json, so maps are map[string]any and numbers are float64)
// back into a Value tree. Integral float64s are decoded as an int
// Number so a round trip through storage does not flip a whole number
// into float canonical form.
func FromJSON(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		if t == float64(int64(t)) {
			return Int(int64(t)), nil
		}
		return Float(t), nil
	case []any:
		seq := make(Sequence, len(t))
		for i, el := range t {
			v, err := FromJSON(el)
			if err != nil {
				return nil, err
			}
			seq[i] = v
		}
		return seq, nil
	case map[string]any:
		m := NewMap()
		for k, el := range t {
			v, err := FromJSON(el)
			if err != nil {
				return nil, err
			}
			m = m.Set(k, v)
		}
		return m, nil
	default:
		return nil, kerr.Canonicalization("unrecognized JSON-decoded type")
	}
}
