// Package odb implements the content-addressed object store: loose,
// zlib-compressed, Git-compatible blob/tree/commit objects keyed by a
// 20-byte SHA-1, plus the ref namespace mapping names to hashes.
//
// put is idempotent and preserves canonical serialization (same bytes,
// same hash); get on a local miss returns ErrNotExist and leaves remote
// fallback to the caller (pkg/storage), never performing network I/O
// itself.
package odb

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"

	"github.com/boxfs/boxfs/pkg/boxerr"
	"github.com/boxfs/boxfs/pkg/objhash"
)

// ErrNotExist is returned by Get/Read when an object is absent locally.
var ErrNotExist = fmt.Errorf("odb: object not found")

// Store is a content-addressed, zlib-compressed loose object store
// rooted at a directory, with a two-character fan-out layout:
// objects/ab/cdef0123..., plus the ref namespace rooted at the same
// directory's refs/ subtree.
type Store struct {
	root string
	refs *Refs
}

// NewStore creates a Store rooted at root. The objects/ and refs/
// subdirectories are created lazily on first write.
func NewStore(root string) *Store {
	return &Store{root: root, refs: newRefs(root)}
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// Refs returns the store's ref submap (get/set/set-if-equals/enumerate).
func (s *Store) Refs() *Refs { return s.refs }

func (s *Store) objectPath(h objhash.Hash) string {
	hex := h.String()
	return filepath.Join(s.root, "objects", hex[:2], hex[2:])
}

// Has reports whether the store contains an object with the given hash.
func (s *Store) Has(h objhash.Hash) bool {
	_, err := os.Stat(s.objectPath(h))
	return err == nil
}

// Put stores a canonical object envelope "<kind> <len>\0<data>" under
// its content hash, zlib-compressed. It is idempotent: writing the same
// (kind, data) twice is a no-op on the second call.
func (s *Store) Put(kind objhash.Kind, data []byte) (objhash.Hash, error) {
	h := objhash.Of(kind, data)
	if s.Has(h) {
		return h, nil
	}

	dir := filepath.Join(s.root, "objects", h.String()[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return h, fmt.Errorf("odb: put mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return h, fmt.Errorf("odb: put tmpfile: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	zw := zlib.NewWriter(tmp)
	fmt.Fprintf(zw, "%s %d\x00", kind, len(data))
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		tmp.Close()
		return h, fmt.Errorf("odb: put write: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return h, fmt.Errorf("odb: put flush: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return h, fmt.Errorf("odb: put close: %w", err)
	}

	dest := s.objectPath(h)
	if err := os.Rename(tmpName, dest); err != nil {
		return h, fmt.Errorf("odb: put rename: %w", err)
	}
	return h, nil
}

// Get retrieves an object's kind and raw content by hash. It returns
// ErrNotExist, never a network error, on a local miss.
func (s *Store) Get(h objhash.Hash) (objhash.Kind, []byte, error) {
	f, err := os.Open(s.objectPath(h))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, ErrNotExist
		}
		return "", nil, fmt.Errorf("odb: get %s: %w", h, err)
	}
	defer f.Close()

	zr, err := zlib.NewReader(f)
	if err != nil {
		return "", nil, fmt.Errorf("odb: get %s: zlib: %w", h, err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return "", nil, fmt.Errorf("odb: get %s: read: %w", h, err)
	}

	nul := bytes.IndexByte(raw, 0)
	if nul < 0 {
		return "", nil, fmt.Errorf("odb: get %s: invalid envelope (no NUL)", h)
	}
	header := string(raw[:nul])
	content := raw[nul+1:]

	kind, lenStr, ok := strings.Cut(header, " ")
	if !ok {
		return "", nil, fmt.Errorf("odb: get %s: invalid header %q", h, header)
	}
	n, err := strconv.Atoi(lenStr)
	if err != nil {
		return "", nil, fmt.Errorf("odb: get %s: invalid length %q: %w", h, lenStr, err)
	}
	if n != len(content) {
		return "", nil, fmt.Errorf("odb: get %s: length mismatch (header=%d, actual=%d)", h, n, len(content))
	}
	return objhash.Kind(kind), content, nil
}

// ---------------------------------------------------------------------
// Typed convenience wrappers
// ---------------------------------------------------------------------

func (s *Store) PutBlob(b *Blob) (objhash.Hash, error) {
	return s.Put(objhash.KindBlob, MarshalBlob(b))
}

func (s *Store) GetBlob(h objhash.Hash) (*Blob, error) {
	kind, data, err := s.Get(h)
	if err != nil {
		return nil, err
	}
	if kind != objhash.KindBlob {
		return nil, fmt.Errorf("odb: %s: %w (got %s, want blob)", h, boxerr.ErrBadObjectType, kind)
	}
	return UnmarshalBlob(data), nil
}

func (s *Store) PutTree(t *Tree) (objhash.Hash, error) {
	return s.Put(objhash.KindTree, MarshalTree(t))
}

func (s *Store) GetTree(h objhash.Hash) (*Tree, error) {
	kind, data, err := s.Get(h)
	if err != nil {
		return nil, err
	}
	if kind != objhash.KindTree {
		return nil, fmt.Errorf("odb: %s: %w (got %s, want tree)", h, boxerr.ErrBadObjectType, kind)
	}
	return UnmarshalTree(data)
}

func (s *Store) PutCommit(c *Commit) (objhash.Hash, error) {
	return s.Put(objhash.KindCommit, MarshalCommit(c))
}

func (s *Store) GetCommit(h objhash.Hash) (*Commit, error) {
	kind, data, err := s.Get(h)
	if err != nil {
		return nil, err
	}
	if kind != objhash.KindCommit {
		return nil, fmt.Errorf("odb: %s: %w (got %s, want commit)", h, boxerr.ErrBadObjectType, kind)
	}
	return UnmarshalCommit(data)
}
