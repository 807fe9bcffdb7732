// Package bxdir implements the Directory object: a base Tree plus an
// in-memory overlay of locally added, modified or deleted entries,
// matching the base/overlay split original_source's Directory class
// keeps as local_tree on top of self.object (spec §4.4).
package bxdir

import (
	"fmt"
	"time"

	"github.com/boxfs/boxfs/pkg/boxerr"
	"github.com/boxfs/boxfs/pkg/bxfile"
	"github.com/boxfs/boxfs/pkg/objhash"
	"github.com/boxfs/boxfs/pkg/odb"
)

// Entry is one named child of a Directory: its Git-compatible mode and
// the hash of the underlying Blob (file/symlink content, or a file's
// manifest blob) or Tree (subdirectory) object.
type Entry struct {
	Mode uint32
	Hash objhash.Hash
}

func (e Entry) IsDir() bool { return e.Mode == odb.ModeDir }

// tombstone marks an overlay slot as deleted: present in the base tree
// but removed locally, so flush must omit it from the new tree.
type tombstone struct{}

// overlayEntry is either a live Entry or a tombstone, plus the order in
// which it was first inserted (iteration order for overlay entries is
// insertion order, per spec §4.4).
type overlayEntry struct {
	entry  Entry
	dir    *Directory // non-nil when entry is itself a loaded subdirectory
	tomb   bool
	seqNum int
}

// Directory is the base-tree-plus-overlay view of one directory level.
type Directory struct {
	store    *odb.Store
	base     *odb.Tree // may be nil for a brand-new directory
	overlay  map[string]*overlayEntry
	order    []string
	nextSeq  int
	mtime    time.Time
}

// New creates an empty Directory with no base tree.
func New(store *odb.Store) *Directory {
	return &Directory{store: store, overlay: map[string]*overlayEntry{}, mtime: time.Now()}
}

// Open reconstructs a Directory from a stored Tree.
func Open(store *odb.Store, base *odb.Tree) *Directory {
	return &Directory{store: store, base: base, overlay: map[string]*overlayEntry{}, mtime: time.Now()}
}

func (d *Directory) baseLookup(name string) (Entry, bool) {
	if d.base == nil {
		return Entry{}, false
	}
	for _, e := range d.base.Entries {
		if e.Name == name {
			return Entry{Mode: e.Mode, Hash: e.Hash}, true
		}
	}
	return Entry{}, false
}

// getLocal resolves a single path component, memoizing a base-tree hit
// into the overlay the way original_source's __getitem__ does.
func (d *Directory) getLocal(name string) (*overlayEntry, bool) {
	if oe, ok := d.overlay[name]; ok {
		return oe, !oe.tomb
	}
	base, ok := d.baseLookup(name)
	if !ok {
		return nil, false
	}
	oe := &overlayEntry{entry: base, seqNum: d.nextSeq}
	d.nextSeq++
	d.overlay[name] = oe
	d.order = append(d.order, name)
	return oe, true
}

// Get resolves a slash-free path (components already split) relative
// to d, returning the final entry and, if it is a directory, the
// Directory object to recurse into.
func (d *Directory) Get(path []string) (Entry, *Directory, error) {
	if len(path) == 0 {
		return Entry{Mode: odb.ModeDir}, d, nil
	}
	name := path[0]
	oe, ok := d.getLocal(name)
	if !ok {
		return Entry{}, nil, fmt.Errorf("bxdir: %q: %w", name, boxerr.ErrNoSuchChild)
	}
	if len(path) == 1 {
		if oe.entry.IsDir() {
			sub, err := d.loadSubdir(name, oe)
			if err != nil {
				return Entry{}, nil, err
			}
			return oe.entry, sub, nil
		}
		return oe.entry, nil, nil
	}
	if !oe.entry.IsDir() {
		return Entry{}, nil, fmt.Errorf("bxdir: %q: %w", name, boxerr.ErrNotADirectory)
	}
	sub, err := d.loadSubdir(name, oe)
	if err != nil {
		return Entry{}, nil, err
	}
	return sub.Get(path[1:])
}

func (d *Directory) loadSubdir(name string, oe *overlayEntry) (*Directory, error) {
	if oe.dir != nil {
		return oe.dir, nil
	}
	if oe.entry.Hash.IsZero() {
		oe.dir = New(d.store)
		return oe.dir, nil
	}
	tree, err := d.store.GetTree(oe.entry.Hash)
	if err != nil {
		return nil, fmt.Errorf("bxdir: load subdir %q: %w", name, err)
	}
	oe.dir = Open(d.store, tree)
	return oe.dir, nil
}

// Set overwrites (or creates, with mkdir -p of any missing parents) the
// entry at path.
func (d *Directory) Set(path []string, e Entry) error {
	if len(path) == 0 {
		return fmt.Errorf("bxdir: cannot set the root entry itself")
	}
	parent, err := d.Mkdir(path[:len(path)-1])
	if err != nil {
		return err
	}
	parent.setLocal(path[len(path)-1], e, nil)
	parent.mtime = time.Now()
	return nil
}

// SetSubdir is like Set but installs an already-constructed Directory
// as the child, avoiding a round trip through the store for a
// subdirectory still under construction.
func (d *Directory) SetSubdir(path []string, sub *Directory) error {
	if len(path) == 0 {
		return fmt.Errorf("bxdir: cannot set the root entry itself")
	}
	parent, err := d.Mkdir(path[:len(path)-1])
	if err != nil {
		return err
	}
	parent.setLocal(path[len(path)-1], Entry{Mode: odb.ModeDir}, sub)
	parent.mtime = time.Now()
	return nil
}

func (d *Directory) setLocal(name string, e Entry, sub *Directory) {
	if oe, ok := d.overlay[name]; ok {
		oe.entry = e
		oe.dir = sub
		oe.tomb = false
		return
	}
	oe := &overlayEntry{entry: e, dir: sub, seqNum: d.nextSeq}
	d.nextSeq++
	d.overlay[name] = oe
	d.order = append(d.order, name)
}

// Mkdir ensures every directory named along path exists, creating any
// that are missing, and returns the final one.
func (d *Directory) Mkdir(path []string) (*Directory, error) {
	cur := d
	for _, name := range path {
		oe, ok := cur.getLocal(name)
		if !ok {
			sub := New(cur.store)
			cur.setLocal(name, Entry{Mode: odb.ModeDir}, sub)
			cur = sub
			continue
		}
		if !oe.entry.IsDir() {
			return nil, fmt.Errorf("bxdir: %q: %w", name, boxerr.ErrNotADirectory)
		}
		sub, err := cur.loadSubdir(name, oe)
		if err != nil {
			return nil, err
		}
		cur = sub
	}
	return cur, nil
}

// Del removes the entry at path from the overlay and records a
// tombstone if a base-tree entry of the same name exists, so flush
// records the absence.
func (d *Directory) Del(path []string) error {
	if len(path) == 0 {
		return fmt.Errorf("bxdir: cannot delete the root")
	}
	parent, err := d.resolveDirOnly(path[:len(path)-1])
	if err != nil {
		return err
	}
	name := path[len(path)-1]
	if _, ok := parent.getLocal(name); !ok {
		return fmt.Errorf("bxdir: %q: %w", name, boxerr.ErrNoSuchChild)
	}
	if _, hasBase := parent.baseLookup(name); hasBase {
		parent.overlay[name] = &overlayEntry{tomb: true, seqNum: parent.overlay[name].seqNum}
	} else {
		delete(parent.overlay, name)
		parent.removeFromOrder(name)
	}
	parent.mtime = time.Now()
	return nil
}

func (d *Directory) removeFromOrder(name string) {
	for i, n := range d.order {
		if n == name {
			d.order = append(d.order[:i], d.order[i+1:]...)
			return
		}
	}
}

func (d *Directory) resolveDirOnly(path []string) (*Directory, error) {
	if len(path) == 0 {
		return d, nil
	}
	_, sub, err := d.Get(path)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("bxdir: %w", boxerr.ErrNotADirectory)
	}
	return sub, nil
}

// Child is one result of Iterate: the entry's name, mode, hash and (for
// a directory) the loaded subdirectory.
type Child struct {
	Name  string
	Entry Entry
	Dir   *Directory
}

// Iterate yields the directory's live entries: overlay entries in
// insertion order first, then untouched base-tree entries in the
// base tree's own sort order.
func (d *Directory) Iterate() ([]Child, error) {
	var out []Child
	seen := map[string]bool{}

	for _, name := range d.order {
		oe := d.overlay[name]
		seen[name] = true
		if oe.tomb {
			continue
		}
		c := Child{Name: name, Entry: oe.entry}
		if oe.entry.IsDir() {
			sub, err := d.loadSubdir(name, oe)
			if err != nil {
				return nil, err
			}
			c.Dir = sub
		}
		out = append(out, c)
	}

	if d.base != nil {
		for _, e := range d.base.Entries {
			if seen[e.Name] {
				continue
			}
			c := Child{Name: e.Name, Entry: Entry{Mode: e.Mode, Hash: e.Hash}}
			if c.Entry.IsDir() {
				oe, _ := d.getLocal(e.Name)
				sub, err := d.loadSubdir(e.Name, oe)
				if err != nil {
					return nil, err
				}
				c.Dir = sub
			}
			out = append(out, c)
		}
	}
	return out, nil
}

// blobsForEntry returns the blob hashes a non-directory entry
// contributes: a file's manifest is parsed for its content block
// hashes, while a symlink's entry hash is already its raw target blob.
func (d *Directory) blobsForEntry(e Entry) ([]objhash.Hash, error) {
	if e.Mode != odb.ModeFile && e.Mode != odb.ModeExecutable {
		return []objhash.Hash{e.Hash}, nil
	}
	blob, err := d.store.GetBlob(e.Hash)
	if err != nil {
		return nil, fmt.Errorf("bxdir: list blobs: load manifest %s: %w", e.Hash, err)
	}
	m, err := bxfile.UnmarshalManifest(blob.Data)
	if err != nil {
		return nil, fmt.Errorf("bxdir: list blobs: parse manifest %s: %w", e.Hash, err)
	}
	out := make([]objhash.Hash, len(m.Blocks))
	for i, b := range m.Blocks {
		out[i] = b.Hash
	}
	return out, nil
}

// ListBlobs returns the content blob hashes of files directly contained
// in d (not recursing into subdirectories), each file's manifest
// expanded into the block hashes it lists.
func (d *Directory) ListBlobs() ([]objhash.Hash, error) {
	children, err := d.Iterate()
	if err != nil {
		return nil, err
	}
	var out []objhash.Hash
	for _, c := range children {
		if c.Entry.IsDir() {
			continue
		}
		blobs, err := d.blobsForEntry(c.Entry)
		if err != nil {
			return nil, err
		}
		out = append(out, blobs...)
	}
	return out, nil
}

// ListBlobsRecursive returns the content blob hashes reachable through
// files in this subtree, including subdirectories, with each file's
// manifest expanded into the block hashes it lists.
func (d *Directory) ListBlobsRecursive() ([]objhash.Hash, error) {
	children, err := d.Iterate()
	if err != nil {
		return nil, err
	}
	var out []objhash.Hash
	for _, c := range children {
		if c.Entry.IsDir() {
			sub := c.Dir
			nested, err := sub.ListBlobsRecursive()
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
			continue
		}
		blobs, err := d.blobsForEntry(c.Entry)
		if err != nil {
			return nil, err
		}
		out = append(out, blobs...)
	}
	return out, nil
}

// Flush produces a new Tree combining the overlay's (recursively
// flushed) entries with untouched base-tree entries, and stores it.
func (d *Directory) Flush() (objhash.Hash, error) {
	tree := &odb.Tree{}
	seen := map[string]bool{}

	for name, oe := range d.overlay {
		seen[name] = true
		if oe.tomb {
			continue
		}
		entry := oe.entry
		if oe.dir != nil {
			h, err := oe.dir.Flush()
			if err != nil {
				return objhash.Zero, fmt.Errorf("bxdir: flush %q: %w", name, err)
			}
			entry.Hash = h
		}
		tree.Entries = append(tree.Entries, odb.TreeEntry{Name: name, Mode: entry.Mode, Hash: entry.Hash})
	}

	if d.base != nil {
		for _, e := range d.base.Entries {
			if seen[e.Name] {
				continue
			}
			tree.Entries = append(tree.Entries, e)
		}
	}

	h, err := d.store.PutTree(tree)
	if err != nil {
		return objhash.Zero, fmt.Errorf("bxdir: flush: store tree: %w", err)
	}
	return h, nil
}

// Mtime returns the time of the most recent mutation at this level.
func (d *Directory) Mtime() time.Time { return d.mtime }
