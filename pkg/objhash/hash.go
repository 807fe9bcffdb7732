// Package objhash implements boxfs's content-address: a 20-byte SHA-1
// digest computed over an object's canonical serialized form, matching
// the Git-compatible on-disk object format named in spec.md §6.
package objhash

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Size is the digest length in bytes.
const Size = 20

// Hash is a 20-byte object identifier. Equality is hash equality; a
// Hash never changes once an object is stored.
type Hash [Size]byte

// Zero is the all-zero hash, used as a sentinel for "no object" (e.g. an
// absent box head).
var Zero Hash

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool { return h == Zero }

// String returns the lowercase hex encoding of h.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Short returns a short hex prefix, for logging.
func (h Hash) Short() string {
	s := h.String()
	if len(s) > 10 {
		return s[:10]
	}
	return s
}

// Parse decodes a hex string into a Hash.
func Parse(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("objhash: parse %q: %w", s, err)
	}
	if len(b) != Size {
		return h, fmt.Errorf("objhash: parse %q: want %d bytes, got %d", s, Size, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// MustParse is Parse but panics on error; for tests and constants.
func MustParse(s string) Hash {
	h, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return h
}

func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *Hash) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*h = Zero
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Kind identifies the canonical type tag used in the on-disk object
// envelope, matching Git's "blob"/"tree"/"commit" vocabulary.
type Kind string

const (
	KindBlob   Kind = "blob"
	KindTree   Kind = "tree"
	KindCommit Kind = "commit"
)

// Of computes the content hash of an object envelope "<kind> <len>\0<data>",
// the same canonical form used to address Git loose objects.
func Of(kind Kind, data []byte) Hash {
	header := fmt.Sprintf("%s %d\x00", kind, len(data))
	h := sha1.New()
	h.Write([]byte(header))
	h.Write(data)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}
