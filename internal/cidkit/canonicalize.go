package cidkit

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kotobadb/core/internal/kerr"
)

// Canonicalize serializes v into the canonical byte form: mapping keys in
// lexicographic order, unordered sets sorted, sequences left in their
// declared order, absent optional fields simply never present in the
// tree, and numbers normalized to a single textual form (Open Question 1,
// resolved in DESIGN.md: FormatFloat(-1, 64) when fractional, plain
// decimal integer otherwise — so canonicalizing 3 and 3.0 yields "3").
func Canonicalize(v Value) ([]byte, error) {
	var b strings.Builder
	if err := writeValue(&b, v); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func writeValue(b *strings.Builder, v Value) error {
	switch t := v.(type) {
	case nil:
		return kerr.Canonicalization("nil value is not representable; omit the field instead")
	case String:
		writeQuotedString(b, string(t))
		return nil
	case Number:
		b.WriteString(formatNumber(t))
		return nil
	case Bool:
		if t {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
		return nil
	case Sequence:
		return writeSequence(b, t)
	case Set:
		return writeSet(b, t)
	case Map:
		return writeMap(b, t)
	default:
		return kerr.Canonicalization(fmt.Sprintf("type %T is not representable in the canonical grammar", v))
	}
}

func writeSequence(b *strings.Builder, seq Sequence) error {
	b.WriteByte('[')
	for i, el := range seq {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := writeValue(b, el); err != nil {
			return err
		}
	}
	b.WriteByte(']')
	return nil
}

func writeSet(b *strings.Builder, s Set) error {
	sorted := append([]string(nil), s...)
	sort.Strings(sorted)
	b.WriteByte('[')
	for i, el := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		writeQuotedString(b, el)
	}
	b.WriteByte(']')
	return nil
}

func writeMap(b *strings.Builder, m Map) error {
	keys := m.sortedKeys()
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		writeQuotedString(b, k)
		b.WriteByte(':')
		if err := writeValue(b, m.Entries[k]); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

// writeQuotedString writes s as a minimally-escaped JSON-like string
// literal. Canonical form only needs to be stable and unambiguous across
// implementations of this spec, not JSON-interoperable, so escaping is
// limited to the characters that would otherwise break the grammar.
func writeQuotedString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
}

// formatNumber renders n in the single textual form the determinism
// contract requires: no trailing zeros, no exponent for integers.
func formatNumber(n Number) string {
	if !n.IsFloat {
		return strconv.FormatInt(n.Int, 10)
	}
	if n.Float == float64(int64(n.Float)) {
		return strconv.FormatInt(int64(n.Float), 10)
	}
	return strconv.FormatFloat(n.Float, 'f', -1, 64)
}
