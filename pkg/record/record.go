// Package record implements the Record (commit) object: ancestor
// history, common-ancestor search with criss-cross handling, and merge
// via a rename-aware tree diff applied through merge-tree-changes
// (spec §4.5, ported from original_source/nodlehs/objects.py's Record
// class).
package record

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/boxfs/boxfs/pkg/boxerr"
	"github.com/boxfs/boxfs/pkg/bxdir"
	"github.com/boxfs/boxfs/pkg/bxfile"
	"github.com/boxfs/boxfs/pkg/objhash"
	"github.com/boxfs/boxfs/pkg/odb"
	"github.com/boxfs/boxfs/pkg/textmerge"
)

// Record is the in-memory, mutable view of a commit: a root Directory
// plus metadata, with a hash only once it has been Stored.
type Record struct {
	store   *odb.Store
	hash    objhash.Hash
	parents []objhash.Hash
	root    *bxdir.Directory

	Author            string
	AuthorTime        int64
	AuthorTimezone    string
	Committer         string
	CommitterTime     int64
	CommitterTimezone string
	Message           string
}

// New creates a brand-new, parentless Record over an empty root
// directory.
func New(store *odb.Store) *Record {
	return &Record{store: store, root: bxdir.New(store)}
}

// Open loads an existing stored commit. The root directory is loaded
// eagerly at the tree level (its children remain lazy, per bxdir).
func Open(store *odb.Store, hash objhash.Hash) (*Record, error) {
	c, err := store.GetCommit(hash)
	if err != nil {
		return nil, fmt.Errorf("record: open %s: %w", hash, err)
	}
	var root *bxdir.Directory
	if c.Tree.IsZero() {
		root = bxdir.New(store)
	} else {
		tree, err := store.GetTree(c.Tree)
		if err != nil {
			return nil, fmt.Errorf("record: open %s: tree: %w", hash, err)
		}
		root = bxdir.Open(store, tree)
	}
	return &Record{
		store:             store,
		hash:              hash,
		parents:           append([]objhash.Hash(nil), c.Parents...),
		root:              root,
		Author:            c.Author,
		AuthorTime:        c.AuthorTime,
		AuthorTimezone:    c.AuthorTimezone,
		Committer:         c.Committer,
		CommitterTime:     c.CommitterTime,
		CommitterTimezone: c.CommitterTimezone,
		Message:           c.Message,
	}, nil
}

// OpenWorking loads the commit at hash and returns it as a fresh,
// unstored working Record whose sole parent is hash itself: the
// starting point for a new commit built on top of it (ported from
// original_source/nodlehs/storage.py's Storage.next_record, which
// copies the head record and resets its parent list to [head.id]).
func OpenWorking(store *odb.Store, hash objhash.Hash) (*Record, error) {
	r, err := Open(store, hash)
	if err != nil {
		return nil, err
	}
	r.hash = objhash.Zero
	r.parents = []objhash.Hash{hash}
	return r, nil
}

// Hash returns the Record's commit hash, or objhash.Zero if it has not
// yet been Stored.
func (r *Record) Hash() objhash.Hash { return r.hash }

// Root returns the Record's root Directory.
func (r *Record) Root() *bxdir.Directory { return r.root }

// Parents returns the Record's parent commit hashes.
func (r *Record) Parents() []objhash.Hash { return append([]objhash.Hash(nil), r.parents...) }

// AddParent appends another parent commit hash (used when building a
// merge commit).
func (r *Record) AddParent(h objhash.Hash) { r.parents = append(r.parents, h) }

// Store flushes the root directory to a Tree, builds and stores a
// Commit, and caches the resulting hash on the Record.
func (r *Record) Store() (objhash.Hash, error) {
	treeHash, err := r.root.Flush()
	if err != nil {
		return objhash.Zero, fmt.Errorf("record: store: flush root: %w", err)
	}
	now := time.Now()
	if r.AuthorTime == 0 {
		r.AuthorTime = now.Unix()
	}
	if r.CommitterTime == 0 {
		r.CommitterTime = now.Unix()
	}
	c := &odb.Commit{
		Tree:              treeHash,
		Parents:           r.parents,
		Author:            r.Author,
		AuthorTime:        r.AuthorTime,
		AuthorTimezone:    r.AuthorTimezone,
		Committer:         r.Committer,
		CommitterTime:     r.CommitterTime,
		CommitterTimezone: r.CommitterTimezone,
		Message:           r.Message,
	}
	h, err := r.store.PutCommit(c)
	if err != nil {
		return objhash.Zero, fmt.Errorf("record: store: put commit: %w", err)
	}
	r.hash = h
	return h, nil
}

// HistoryIter is a lazy, restartable breadth-first walk of a Record's
// ancestor levels. Each call to Record.History returns an independent
// iterator starting over from the Record's immediate parents.
type HistoryIter struct {
	store    *odb.Store
	frontier []objhash.Hash
}

// History begins a fresh breadth-first traversal of r's ancestors, one
// level (parent set) at a time.
func (r *Record) History() *HistoryIter {
	return &HistoryIter{store: r.store, frontier: append([]objhash.Hash(nil), r.parents...)}
}

// Next returns the next BFS level's commit hashes, or io.EOF once the
// entire ancestor graph has been exhausted.
func (it *HistoryIter) Next() ([]objhash.Hash, error) {
	if len(it.frontier) == 0 {
		return nil, io.EOF
	}
	level := it.frontier
	seen := map[objhash.Hash]bool{}
	var next []objhash.Hash
	for _, h := range level {
		c, err := it.store.GetCommit(h)
		if err != nil {
			return nil, fmt.Errorf("record: history: %w", err)
		}
		for _, p := range c.Parents {
			if !seen[p] {
				seen[p] = true
				next = append(next, p)
			}
		}
	}
	it.frontier = next
	return level, nil
}

// ancestorSet computes the full set of commit hashes reachable from
// start via parent edges (start itself excluded unless also reachable
// through a cycle-free cousin path, which cannot happen in a DAG).
func ancestorSet(store *odb.Store, start []objhash.Hash) (map[objhash.Hash]bool, error) {
	visited := map[objhash.Hash]bool{}
	queue := append([]objhash.Hash(nil), start...)
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if visited[h] {
			continue
		}
		visited[h] = true
		c, err := store.GetCommit(h)
		if err != nil {
			return nil, fmt.Errorf("record: ancestors: %w", err)
		}
		queue = append(queue, c.Parents...)
	}
	return visited, nil
}

// IsAncestorOf reports whether r is reachable from other by following
// parent edges.
func (r *Record) IsAncestorOf(other *Record) (bool, error) {
	ancestors, err := ancestorSet(r.store, other.parents)
	if err != nil {
		return false, err
	}
	return ancestors[r.hash], nil
}

// FindCommonAncestors walks other's parents level by level, testing
// each level's membership against r's full ancestor set, and returns
// the first non-empty intersection. A criss-cross merge yields more
// than one hash.
func (r *Record) FindCommonAncestors(other *Record) ([]objhash.Hash, error) {
	selfAncestors, err := ancestorSet(r.store, r.parents)
	if err != nil {
		return nil, err
	}

	it := other.History()
	for {
		level, err := it.Next()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		var common []objhash.Hash
		for _, h := range level {
			if selfAncestors[h] {
				common = append(common, h)
			}
		}
		if len(common) > 0 {
			return common, nil
		}
	}
}

// Merge produces a merge of other into r: it mutates r's root
// directory in place (matching the working-record semantics of
// original_source's Record.merge_commit) and appends other's hash to
// r's parent list. The caller stores r once satisfied with the result.
func (r *Record) Merge(other *Record) error {
	common, err := r.FindCommonAncestors(other)
	if err != nil {
		return err
	}
	if len(common) == 0 {
		return boxerr.ErrUnrelatedHistories
	}

	var baseHash objhash.Hash
	if len(common) == 1 {
		baseHash = common[0]
	} else {
		baseRecord, err := Open(r.store, common[0])
		if err != nil {
			return err
		}
		for _, ancestorHash := range common[1:] {
			ancestor, err := Open(r.store, ancestorHash)
			if err != nil {
				return err
			}
			if err := baseRecord.Merge(ancestor); err != nil {
				return fmt.Errorf("record: merge: synthesize virtual base: %w", err)
			}
		}
		baseHash, err = baseRecord.Store()
		if err != nil {
			return fmt.Errorf("record: merge: store virtual base: %w", err)
		}
	}

	base, err := Open(r.store, baseHash)
	if err != nil {
		return err
	}
	baseTree, err := base.Root().Flush()
	if err != nil {
		return fmt.Errorf("record: merge: flush base tree: %w", err)
	}
	otherTree, err := other.Root().Flush()
	if err != nil {
		return fmt.Errorf("record: merge: flush incoming tree: %w", err)
	}

	changes, err := Diff(r.store, baseTree, otherTree)
	if err != nil {
		return fmt.Errorf("record: merge: diff: %w", err)
	}
	if err := ApplyChanges(r.store, r.root, changes); err != nil {
		return fmt.Errorf("record: merge: apply: %w", err)
	}

	r.parents = append(r.parents, other.hash)
	return nil
}

func splitPath(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func siblingPath(p string, h objhash.Hash) []string {
	parts := splitPath(p)
	parts[len(parts)-1] = parts[len(parts)-1] + "." + h.String()
	return parts
}

func readFileContent(store *odb.Store, manifestHash objhash.Hash) ([]byte, error) {
	blob, err := store.GetBlob(manifestHash)
	if err != nil {
		return nil, fmt.Errorf("record: read file %s: %w", manifestHash, err)
	}
	manifest, err := bxfile.UnmarshalManifest(blob.Data)
	if err != nil {
		return nil, fmt.Errorf("record: read file %s: %w", manifestHash, err)
	}
	f := bxfile.Open(store, manifest)
	var out []byte
	buf := make([]byte, 64*1024)
	for {
		n, err := f.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
	}
	return out, nil
}

func writeFileContent(store *odb.Store, content []byte) (objhash.Hash, error) {
	f := bxfile.New(store)
	if _, err := f.Write(content); err != nil {
		return objhash.Zero, err
	}
	h, _, err := f.Flush()
	return h, err
}

func notFound(err error) bool {
	return errors.Is(err, boxerr.ErrNoSuchChild) || errors.Is(err, boxerr.ErrNotADirectory)
}

// ApplyChanges applies a rename-aware tree diff onto dir, following
// the per-change-type rules of spec §4.5.1: deletes only take effect
// if the local copy matches the base version, modifies attempt a
// three-way text merge when both sides changed, and unresolvable
// collisions are stored as "<path>.<hash>" siblings alongside the
// untouched local version.
func ApplyChanges(store *odb.Store, dir *bxdir.Directory, changes []Change) error {
	for _, ch := range changes {
		switch ch.Type {
		case ChangeUnchanged:
			// nothing to do

		case ChangeDelete:
			path := splitPath(ch.Old.Path)
			entry, _, err := dir.Get(path)
			if notFound(err) {
				continue // already gone locally
			}
			if err != nil {
				return err
			}
			if entry.Hash == ch.Old.Hash {
				if err := dir.Del(path); err != nil && !notFound(err) {
					return err
				}
			}
			// else: locally modified since base, keep local.

		case ChangeModify:
			if err := applyModify(store, dir, ch); err != nil {
				return err
			}

		case ChangeAdd, ChangeCopy:
			if err := applyAddOrCopy(dir, ch.New); err != nil {
				return err
			}

		case ChangeRename:
			if err := applyAddOrCopy(dir, ch.New); err != nil {
				return err
			}
			oldPath := splitPath(ch.Old.Path)
			entry, _, err := dir.Get(oldPath)
			if notFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			if entry.Hash == ch.Old.Hash {
				if err := dir.Del(oldPath); err != nil && !notFound(err) {
					return err
				}
			}

		default:
			return fmt.Errorf("record: %w", boxerr.ErrUnknownChangeType)
		}
	}
	return nil
}

func applyAddOrCopy(dir *bxdir.Directory, newEntry *PathEntry) error {
	path := splitPath(newEntry.Path)
	entry, _, err := dir.Get(path)
	if notFound(err) {
		return dir.Set(path, bxdir.Entry{Mode: newEntry.Mode, Hash: newEntry.Hash})
	}
	if err != nil {
		return err
	}
	if entry.Hash == newEntry.Hash {
		return nil // already present
	}
	return dir.Set(siblingPath(newEntry.Path, newEntry.Hash), bxdir.Entry{Mode: newEntry.Mode, Hash: newEntry.Hash})
}

func applyModify(store *odb.Store, dir *bxdir.Directory, ch Change) error {
	path := splitPath(ch.New.Path)
	entry, _, err := dir.Get(path)
	if notFound(err) {
		return dir.Set(path, bxdir.Entry{Mode: ch.New.Mode, Hash: ch.New.Hash})
	}
	if err != nil {
		return err
	}
	if entry.Hash == ch.Old.Hash {
		return dir.Set(path, bxdir.Entry{Mode: ch.New.Mode, Hash: ch.New.Hash})
	}
	if entry.Hash == ch.New.Hash {
		return nil // local already matches incoming
	}

	localContent, err := readFileContent(store, entry.Hash)
	if err != nil {
		return err
	}
	baseContent, err := readFileContent(store, ch.Old.Hash)
	if err != nil {
		return err
	}
	incomingContent, err := readFileContent(store, ch.New.Hash)
	if err != nil {
		return err
	}

	merged, mergeErr := textmerge.Merge(baseContent, localContent, incomingContent)
	if mergeErr == nil {
		newHash, err := writeFileContent(store, merged)
		if err != nil {
			return err
		}
		return dir.Set(path, bxdir.Entry{Mode: entry.Mode, Hash: newHash})
	}

	if err := dir.Set(siblingPath(ch.Old.Path, ch.Old.Hash), bxdir.Entry{Mode: ch.Old.Mode, Hash: ch.Old.Hash}); err != nil {
		return err
	}
	if err := dir.Set(siblingPath(ch.New.Path, ch.New.Hash), bxdir.Entry{Mode: ch.New.Mode, Hash: ch.New.Hash}); err != nil {
		return err
	}
	return nil
}
