package odb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/boxfs/boxfs/pkg/objhash"
)

// ErrRefCASMismatch is returned by Refs.SetIfEquals when the ref's
// current value does not match the caller's expectation.
var ErrRefCASMismatch = errors.New("odb: ref compare-and-swap mismatch")

// Refs is the ref submap of a Store: a filesystem tree under refs/
// mapping a ref name to a hex hash, with a per-process mutex so
// SetIfEquals is atomic against concurrent updaters in this process
// (spec.md §4.1).
//
// Reserved prefixes (spec.md §3): refs/storages/<id>/<box>,
// refs/blobs/<hash>, refs/tags/config, refs/tags/id.
type Refs struct {
	root string
	mu   sync.Mutex
}

func newRefs(root string) *Refs {
	return &Refs{root: root}
}

func (r *Refs) path(name string) string {
	return filepath.Join(r.root, "refs", filepath.FromSlash(name))
}

// Get reads the hash a ref currently points to. ok is false if the ref
// does not exist.
func (r *Refs) Get(name string) (h objhash.Hash, ok bool, err error) {
	data, err := os.ReadFile(r.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return objhash.Zero, false, nil
		}
		return objhash.Zero, false, fmt.Errorf("odb: refs: get %q: %w", name, err)
	}
	h, err = objhash.Parse(strings.TrimSpace(string(data)))
	if err != nil {
		return objhash.Zero, false, fmt.Errorf("odb: refs: get %q: %w", name, err)
	}
	return h, true, nil
}

// Set unconditionally points a ref at h, creating parent directories
// and the ref file atomically (temp file + rename, fsync'd before the
// write is considered durable).
func (r *Refs) Set(name string, h objhash.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeLocked(name, h)
}

func (r *Refs) writeLocked(name string, h objhash.Hash) error {
	path := r.path(name)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("odb: refs: set %q: mkdir: %w", name, err)
	}
	tmp, err := os.CreateTemp(dir, ".ref-tmp-*")
	if err != nil {
		return fmt.Errorf("odb: refs: set %q: tmpfile: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(h.String() + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("odb: refs: set %q: write: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("odb: refs: set %q: sync: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("odb: refs: set %q: close: %w", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("odb: refs: set %q: rename: %w", name, err)
	}
	return nil
}

// SetIfEquals atomically updates a ref to newHash only if its current
// value equals expectedOld (expectedOld may be objhash.Zero to mean
// "the ref must not currently exist"). It is the compare-and-swap
// primitive the box head-setter relies on.
func (r *Refs) SetIfEquals(name string, expectedOld, newHash objhash.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok, err := r.Get(name)
	if err != nil {
		return err
	}
	if ok && current != expectedOld {
		return fmt.Errorf("odb: refs: set-if-equals %q: %w (expected %s, found %s)",
			name, ErrRefCASMismatch, expectedOld, current)
	}
	if !ok && !expectedOld.IsZero() {
		return fmt.Errorf("odb: refs: set-if-equals %q: %w (expected %s, found none)",
			name, ErrRefCASMismatch, expectedOld)
	}
	return r.writeLocked(name, newHash)
}

// Delete removes a ref if it exists.
func (r *Refs) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.Remove(r.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("odb: refs: delete %q: %w", name, err)
	}
	return nil
}

// EnumeratePrefix returns every ref whose name starts with prefix,
// mapping ref name (relative to "refs/") to its hash.
func (r *Refs) EnumeratePrefix(prefix string) (map[string]objhash.Hash, error) {
	root := filepath.Join(r.root, "refs")
	dir := filepath.Join(root, filepath.FromSlash(prefix))

	out := make(map[string]objhash.Hash)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			// A concurrent Set's temp file (".ref-tmp-*") can transiently
			// exist alongside the ref it's about to replace; it is never a
			// committed ref itself.
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		h, err := objhash.Parse(strings.TrimSpace(string(data)))
		if err != nil {
			return fmt.Errorf("odb: refs: enumerate %q: %w", name, err)
		}
		out[name] = h
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("odb: refs: enumerate %q: %w", prefix, err)
	}
	return out, nil
}
