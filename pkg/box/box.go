// Package box implements a named branch head: a single in-flight
// working record, a head lock guarding commit transitions, and the
// open-file-handle table that goes stale on fast-forward (spec.md
// §4.6, ported from original_source/nodlehs/storage.py's
// Storage.next_record/commit and the Storage class's head property).
package box

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/boxfs/boxfs/pkg/boxerr"
	"github.com/boxfs/boxfs/pkg/bxdir"
	"github.com/boxfs/boxfs/pkg/bxfile"
	"github.com/boxfs/boxfs/pkg/objhash"
	"github.com/boxfs/boxfs/pkg/odb"
	"github.com/boxfs/boxfs/pkg/record"
)

// Handle is an open file descriptor inside a box's working tree, keyed
// by a monotonically allocated integer.
type Handle struct {
	ID   int
	Path []string
	File *bxfile.File
}

// Box is a named branch: head ref, lazily-created working record, and
// the table of handles opened against the current working tree.
type Box struct {
	store     *odb.Store
	storageID string
	name      string

	mu      sync.Mutex
	working *record.Record

	handles map[int]*Handle
	nextHID int

	log *slog.Logger
}

// New creates a Box bound to store, identified by storageID (this
// process's own storage UUID) and name (the branch name).
func New(store *odb.Store, storageID, name string) *Box {
	return &Box{
		store:     store,
		storageID: storageID,
		name:      name,
		handles:   make(map[int]*Handle),
		log:       slog.Default().With("component", "box", "box", name),
	}
}

// Name returns the box's branch name.
func (b *Box) Name() string { return b.name }

// Store returns the object store this box's working tree and handles
// are backed by.
func (b *Box) Store() *odb.Store { return b.store }

func (b *Box) headRefName() string {
	return "storages/" + b.storageID + "/" + b.name
}

// Head returns the box's current committed head, or ok=false if the
// box has never been committed to.
func (b *Box) Head() (h objhash.Hash, ok bool, err error) {
	return b.store.Refs().Get(b.headRefName())
}

// ensureWorking returns the current working record, lazily creating it
// as a copy of head (parent set {head}) or a fresh empty record if the
// box has no head yet. Must be called with b.mu held.
func (b *Box) ensureWorking() (*record.Record, error) {
	if b.working != nil {
		return b.working, nil
	}
	head, ok, err := b.Head()
	if err != nil {
		return nil, fmt.Errorf("box: %s: head: %w", b.name, err)
	}
	if !ok {
		b.working = record.New(b.store)
		return b.working, nil
	}
	w, err := record.OpenWorking(b.store, head)
	if err != nil {
		return nil, fmt.Errorf("box: %s: open head %s: %w", b.name, head, err)
	}
	b.working = w
	return b.working, nil
}

// Root returns the root directory of the box's working tree, creating
// the working record if needed.
func (b *Box) Root() (*bxdir.Directory, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, err := b.ensureWorking()
	if err != nil {
		return nil, err
	}
	return w.Root(), nil
}

// OpenFile allocates a new handle over f at path, returning its id.
func (b *Box) OpenFile(path []string, f *bxfile.File) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextHID++
	id := b.nextHID
	b.handles[id] = &Handle{ID: id, Path: path, File: f}
	return id
}

// Handle returns the open handle with the given id, if any.
func (b *Box) Handle(id int) (*Handle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.handles[id]
	return h, ok
}

// CloseFile releases a handle.
func (b *Box) CloseFile(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handles, id)
}

// resetHandles discards every open handle; their cached state refers
// to a root tree that is no longer head. Must be called with b.mu held.
func (b *Box) resetHandles() {
	b.handles = make(map[int]*Handle)
}

// Commit seals the working record if it actually diverges from head
// and from every one of its declared parents, advances the head ref
// via the head setter, and discards the working record either way.
// An empty box with no pending writes is a no-op (spec.md scenario S1).
func (b *Box) Commit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.working == nil {
		return nil
	}
	working := b.working

	workingTree, err := working.Root().Flush()
	if err != nil {
		return fmt.Errorf("box: %s: commit: flush working tree: %w", b.name, err)
	}

	unchanged, err := b.matchesHeadOrParent(working, workingTree)
	if err != nil {
		return err
	}
	if unchanged {
		b.working = nil
		return nil
	}

	newHash, err := working.Store()
	if err != nil {
		return fmt.Errorf("box: %s: commit: store: %w", b.name, err)
	}
	b.working = nil

	if err := b.setHeadLocked(newHash); err != nil {
		return fmt.Errorf("box: %s: commit: %w", b.name, err)
	}
	return nil
}

// matchesHeadOrParent reports whether workingTree equals the root tree
// of the current head or of any of working's declared parents, meaning
// the working record carries no new content worth committing.
func (b *Box) matchesHeadOrParent(working *record.Record, workingTree objhash.Hash) (bool, error) {
	head, ok, err := b.Head()
	if err != nil {
		return false, fmt.Errorf("box: %s: head: %w", b.name, err)
	}
	if ok {
		headTree, err := treeOf(b.store, head)
		if err != nil {
			return false, err
		}
		if headTree == workingTree {
			return true, nil
		}
	}
	for _, p := range working.Parents() {
		pTree, err := treeOf(b.store, p)
		if err != nil {
			return false, err
		}
		if pTree == workingTree {
			return true, nil
		}
	}
	return false, nil
}

func treeOf(store *odb.Store, commitHash objhash.Hash) (objhash.Hash, error) {
	c, err := store.GetCommit(commitHash)
	if err != nil {
		return objhash.Zero, fmt.Errorf("box: tree of %s: %w", commitHash, err)
	}
	return c.Tree, nil
}

// SetHead runs the head-setter state machine (spec.md §4.6) against
// candidate v, retrying once on a ref compare-and-swap race.
func (b *Box) SetHead(v objhash.Hash) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.setHeadLocked(v)
}

func (b *Box) setHeadLocked(v objhash.Hash) error {
	err := b.trySetHead(v)
	if errors.Is(err, odb.ErrRefCASMismatch) {
		err = b.trySetHead(v)
	}
	return err
}

// trySetHead implements one attempt at head-setter steps 1-6.
func (b *Box) trySetHead(v objhash.Hash) error {
	head, ok, err := b.Head()
	if err != nil {
		return fmt.Errorf("head: %w", err)
	}

	// 1. No current head: adopt v outright.
	if !ok {
		if err := b.store.Refs().SetIfEquals(b.headRefName(), objhash.Zero, v); err != nil {
			return err
		}
		b.resetHandles()
		return nil
	}

	// 2. No-op.
	if head == v {
		return nil
	}

	vRec, err := record.Open(b.store, v)
	if err != nil {
		return fmt.Errorf("open candidate %s: %w", v, err)
	}
	headRec, err := record.Open(b.store, head)
	if err != nil {
		return fmt.Errorf("open head %s: %w", head, err)
	}

	// 3. v descends from head: fast-forward.
	isDescendant, err := headRec.IsAncestorOf(vRec)
	if err != nil {
		return err
	}
	if isDescendant {
		if err := b.store.Refs().SetIfEquals(b.headRefName(), head, v); err != nil {
			return err
		}
		b.resetHandles()
		return nil
	}

	// 4. head descends from v: refuse to go back in time.
	isAncestorOfHead, err := vRec.IsAncestorOf(headRec)
	if err != nil {
		return err
	}
	if isAncestorOfHead {
		return boxerr.ErrCannotGoBackInTime
	}

	// 5. Divergent with a common ancestor: synthesize a merge record.
	common, err := headRec.FindCommonAncestors(vRec)
	if err != nil {
		return err
	}
	if len(common) == 0 {
		// 6. Unrelated histories.
		return boxerr.ErrUnrelatedHistories
	}

	merged, err := record.OpenWorking(b.store, head)
	if err != nil {
		return fmt.Errorf("open head for merge %s: %w", head, err)
	}
	if err := merged.Merge(vRec); err != nil {
		return fmt.Errorf("merge %s into %s: %w", v, head, err)
	}
	mergedHash, err := merged.Store()
	if err != nil {
		return fmt.Errorf("store merge commit: %w", err)
	}
	if err := b.store.Refs().SetIfEquals(b.headRefName(), head, mergedHash); err != nil {
		return err
	}
	b.log.Info("synthesized merge record", "head", head.Short(), "incoming", v.Short(), "merged", mergedHash.Short())
	b.resetHandles()
	return nil
}

// UpdateFromRemotes picks the candidate among candidates whose record
// has the greatest CommitterTime and runs the head setter against it,
// absorbing cannot-go-back-in-time and unrelated-histories as no-ops
// (spec.md §4.6's update-from-remotes).
func (b *Box) UpdateFromRemotes(candidates []objhash.Hash) error {
	if len(candidates) == 0 {
		return nil
	}
	var best objhash.Hash
	var bestTime int64
	found := false
	for _, h := range candidates {
		c, err := b.store.GetCommit(h)
		if err != nil {
			return fmt.Errorf("box: %s: update-from-remotes: %w", b.name, err)
		}
		if !found || c.CommitterTime > bestTime {
			best = h
			bestTime = c.CommitterTime
			found = true
		}
	}
	if !found {
		return nil
	}
	err := b.SetHead(best)
	if errors.Is(err, boxerr.ErrCannotGoBackInTime) || errors.Is(err, boxerr.ErrUnrelatedHistories) {
		return nil
	}
	return err
}
