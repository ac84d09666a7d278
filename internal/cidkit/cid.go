package cidkit

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/kotobadb/core/internal/kerr"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/sha3"
	"lukechampine.com/blake3"
)

// Digest selects one of the three supported 256-bit digest functions
// (§3.1), pinned by original_source/cid.rs: BLAKE3 (preferred, fast),
// SHA-256 (standard), SHA3-256 (alternative).
type Digest int

const (
	DigestBlake3 Digest = iota
	DigestSHA256
	DigestSHA3_256
)

// Multibase selects one of the four supported prefixes (§3.1).
type Multibase int

const (
	MultibaseBase64URL Multibase = iota // 'u'
	MultibaseBase58BTC                  // 'z'
	MultibaseBase32                     // 'b'
	MultibaseBase16                     // 'f'
)

// Options configures CID/MerkleRoot computation. The zero value selects
// BLAKE3 + base64url, matching the teacher's CidSystem::new() default.
type Options struct {
	Digest    Digest
	Multibase Multibase
}

// Option mutates Options.
type Option func(*Options)

func WithDigest(d Digest) Option       { return func(o *Options) { o.Digest = d } }
func WithMultibase(m Multibase) Option { return func(o *Options) { o.Multibase = m } }

func resolve(opts []Option) Options {
	var o Options // BLAKE3 + base64url by default
	for _, apply := range opts {
		apply(&o)
	}
	return o
}

func digest(d Digest, payload []byte) []byte {
	switch d {
	case DigestSHA256:
		sum := sha256.Sum256(payload)
		return sum[:]
	case DigestSHA3_256:
		sum := sha3.Sum256(payload)
		return sum[:]
	default: // DigestBlake3
		sum := blake3.Sum256(payload)
		return sum[:]
	}
}

func encodeMultibase(mb Multibase, data []byte) string {
	switch mb {
	case MultibaseBase58BTC:
		return "z" + base58.Encode(data)
	case MultibaseBase32:
		return "b" + strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(data))
	case MultibaseBase16:
		return "f" + strings.ToLower(hex.EncodeToString(data))
	default: // MultibaseBase64URL
		return "u" + base64.RawURLEncoding.EncodeToString(data)
	}
}

// CID canonicalizes v and returns the multibase-encoded digest of its
// canonical byte serialization (§4.1 cid(entity)).
func CID(v Value, opts ...Option) (string, error) {
	payload, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	o := resolve(opts)
	return encodeMultibase(o.Multibase, digest(o.Digest, payload)), nil
}

// MerkleRoot sorts cids ascending, concatenates them, digests, and
// multibase-encodes the result (§4.1 merkle_root). An empty input yields
// the digest of the empty string, which is a well-defined root for an
// empty entity set.
func MerkleRoot(cids []string, opts ...Option) (string, error) {
	sorted := append([]string(nil), cids...)
	sort.Strings(sorted)
	o := resolve(opts)
	return encodeMultibase(o.Multibase, digest(o.Digest, []byte(strings.Join(sorted, "")))), nil
}

// ErrCanonicalization is returned (wrapped in *kerr.Error) whenever a
// Value contains a type outside the canonical grammar.
var ErrCanonicalization = kerr.Canonicalization("value not representable")
