// Package storage implements spec.md §4.7: the top-level handle that
// owns the object store and refs, indexes remotes, creates boxes on
// demand, and resolves object misses by querying remotes in weight
// order. Grounded on original_source/nodlehs/storage.py's Storage
// class (self/head/next_record ownership) generalized to the
// multi-box, multi-remote model SPEC_FULL.md describes.
package storage

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/boxfs/boxfs/pkg/boxerr"
	"github.com/boxfs/boxfs/pkg/box"
	"github.com/boxfs/boxfs/pkg/objhash"
	"github.com/boxfs/boxfs/pkg/odb"
	"github.com/boxfs/boxfs/pkg/remote"
	"github.com/boxfs/boxfs/pkg/transport"
)

// selfIDRef is the local-only ref under which this storage's own
// identity UUID is cached. It is distinct from the per-remote identity
// blob pkg/remote anchors at "tags/id" on a peer: this one never
// leaves the local store, it only seeds the "storages/<self-id>/..."
// prefix this storage publishes its box heads under.
const selfIDRef = "local/id"

// Storage owns the object database, the box registry and the set of
// configured remotes for one local repository.
type Storage struct {
	store *odb.Store

	mu      sync.Mutex
	boxes   map[string]*box.Box
	remotes map[string]*remote.Remote
	log     *slog.Logger
}

// Open opens (creating if necessary) a Storage rooted at dir.
func Open(dir string) (*Storage, error) {
	s := &Storage{
		store:   odb.NewStore(dir),
		boxes:   make(map[string]*box.Box),
		remotes: make(map[string]*remote.Remote),
		log:     slog.Default().With("component", "storage", "dir", dir),
	}
	if _, err := s.ID(); err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	return s, nil
}

// Store returns the underlying object database.
func (s *Storage) Store() *odb.Store { return s.store }

// ID returns this storage's identity UUID, generating and persisting
// it locally on first access.
func (s *Storage) ID() (string, error) {
	h, ok, err := s.store.Refs().Get(selfIDRef)
	if err != nil {
		return "", fmt.Errorf("storage: id: %w", err)
	}
	if ok {
		b, err := s.store.GetBlob(h)
		if err != nil {
			return "", fmt.Errorf("storage: id: %w", err)
		}
		return string(b.Data), nil
	}

	id := uuid.New().String()
	blobHash, err := s.store.PutBlob(&odb.Blob{Data: []byte(id)})
	if err != nil {
		return "", fmt.Errorf("storage: id: %w", err)
	}
	if err := s.store.Refs().SetIfEquals(selfIDRef, objhash.Zero, blobHash); err != nil {
		return "", fmt.Errorf("storage: id: %w", err)
	}
	return id, nil
}

// Box returns the named box, creating it on first reference.
func (s *Storage) Box(name string) (*box.Box, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.boxes[name]; ok {
		return b, nil
	}
	id, err := s.ID()
	if err != nil {
		return nil, err
	}
	b := box.New(s.store, id, name)
	s.boxes[name] = b
	return b, nil
}

// Boxes returns the names of every box referenced so far in this
// process; a box only exists once it has been opened via Box.
func (s *Storage) Boxes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.boxes))
	for name := range s.boxes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddRemote registers a named remote reachable over tr.
func (s *Storage) AddRemote(name, url string, weight int, tr transport.Transport) *remote.Remote {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := remote.New(s.store, name, url, weight, tr)
	s.remotes[name] = r
	return r
}

// RemoveRemote drops a previously registered remote, closing its
// transport.
func (s *Storage) RemoveRemote(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.remotes[name]
	if !ok {
		return nil
	}
	delete(s.remotes, name)
	return r.Close()
}

// Remotes returns every registered remote ordered by descending weight
// (spec.md §4.7: "Selection order across remotes is descending by
// weight").
func (s *Storage) Remotes() []*remote.Remote {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*remote.Remote, 0, len(s.remotes))
	for _, r := range s.remotes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[j].Less(out[i]) })
	return out
}

// blobRefName is the ref name (relative to "refs/") that anchors a
// fetched blob so a future gc pass can see it is in use.
func blobRefName(h objhash.Hash) string { return "blobs/" + h.String() }

// Get resolves hash from the local store, falling back to each
// configured remote in descending weight order on a local miss. A
// blob resolved via a remote is anchored locally under
// refs/blobs/<hash> (spec.md §4.7).
func (s *Storage) Get(h objhash.Hash) (objhash.Kind, []byte, error) {
	kind, data, err := s.store.Get(h)
	if err == nil {
		return kind, data, nil
	}

	var lastErr error = err
	for _, r := range s.Remotes() {
		fetchErr := r.Fetch(func(map[string]objhash.Hash) []objhash.Hash {
			return []objhash.Hash{h}
		})
		if fetchErr != nil {
			lastErr = fetchErr
			continue
		}
		kind, data, err = s.store.Get(h)
		if err != nil {
			lastErr = err
			continue
		}
		if kind == objhash.KindBlob {
			if err := s.store.Refs().Set(blobRefName(h), h); err != nil {
				return "", nil, fmt.Errorf("storage: get %s: anchor blob: %w", h, err)
			}
		}
		return kind, data, nil
	}
	return "", nil, &boxerr.FetchError{Hash: h, Err: lastErr}
}

// ownHeadRefs returns this storage's own box heads, keyed by their
// full "storages/<self-id>/<box>" ref name.
func (s *Storage) ownHeadRefs() (map[string]objhash.Hash, error) {
	id, err := s.ID()
	if err != nil {
		return nil, err
	}
	return s.store.Refs().EnumeratePrefix("storages/" + id + "/")
}

// Push republishes this storage's own box heads, passes through every
// other ref already on the remote, and includes a refs/blobs/<hash>
// entry for every blob this storage anchors that is reachable from the
// exported heads (spec.md §4.7's push determine-wants).
func (s *Storage) Push() error {
	own, err := s.ownHeadRefs()
	if err != nil {
		return fmt.Errorf("storage: push: %w", err)
	}
	anchored, err := s.store.Refs().EnumeratePrefix("blobs/")
	if err != nil {
		return fmt.Errorf("storage: push: %w", err)
	}

	var roots []objhash.Hash
	for _, h := range own {
		roots = append(roots, h)
	}
	reachableBlobs, err := odb.ReachableBlobs(s.store, roots)
	if err != nil {
		return fmt.Errorf("storage: push: %w", err)
	}
	reachableSet := make(map[objhash.Hash]bool, len(reachableBlobs))
	for _, h := range reachableBlobs {
		reachableSet[h] = true
	}

	// Per spec.md §7, an update-refs-error on one remote is logged and
	// that remote's push is abandoned; it never blocks the others, so
	// every remote is pushed to concurrently.
	var g errgroup.Group
	for _, r := range s.Remotes() {
		r := r
		g.Go(func() error {
			err := r.Push(func(peerRefs map[string]objhash.Hash) map[string]objhash.Hash {
				next := make(map[string]objhash.Hash, len(peerRefs)+len(own))
				for name, h := range peerRefs {
					next[name] = h
				}
				for name, h := range own {
					next[name] = h
				}
				for blobRef, h := range anchored {
					if reachableSet[h] {
						next[blobRef] = h
					}
				}
				return next
			})
			if err != nil {
				s.log.Error("push to remote failed", "remote", r.Name(), "error", err)
			}
			return err
		})
	}
	return g.Wait()
}

// Fetch pulls every peer's "storages/..." refs (other than this
// storage's own) into the local ref namespace under the same names
// (spec.md §4.7's fetch).
func (s *Storage) Fetch() error {
	id, err := s.ID()
	if err != nil {
		return fmt.Errorf("storage: fetch: %w", err)
	}
	ownPrefix := "storages/" + id + "/"

	var g errgroup.Group
	for _, r := range s.Remotes() {
		r := r
		g.Go(func() error {
			peerRefs, err := r.Refs()
			if err != nil {
				return err
			}

			var wants []objhash.Hash
			toRecord := make(map[string]objhash.Hash)
			for name, h := range peerRefs {
				if !isStorageHeadRef(name) || hasPrefix(name, ownPrefix) {
					continue
				}
				wants = append(wants, h)
				toRecord[name] = h
			}
			if len(wants) == 0 {
				return nil
			}

			if err := r.Fetch(func(map[string]objhash.Hash) []objhash.Hash { return wants }); err != nil {
				return err
			}
			for name, h := range toRecord {
				if err := s.store.Refs().Set(name, h); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// RemoteHeadsForBox returns every fetched head recorded for box name
// under some other storage's "storages/<id>/<name>" ref, excluding this
// storage's own. This is the candidate set Box.UpdateFromRemotes
// expects (spec.md §4.6's update-from-remotes).
func (s *Storage) RemoteHeadsForBox(name string) ([]objhash.Hash, error) {
	id, err := s.ID()
	if err != nil {
		return nil, fmt.Errorf("storage: remote heads for %s: %w", name, err)
	}
	all, err := s.store.Refs().EnumeratePrefix("storages/")
	if err != nil {
		return nil, fmt.Errorf("storage: remote heads for %s: %w", name, err)
	}
	ownRef := "storages/" + id + "/" + name

	var out []objhash.Hash
	for refName, h := range all {
		if refName == ownRef || !hasSuffix(refName, "/"+name) {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func isStorageHeadRef(name string) bool { return hasPrefix(name, "storages/") }

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// FetchBlobs walks every known remote box head's full object graph —
// trees, file manifests and content blocks alike — resolving anything
// not yet present locally through Get's remote fallback (spec.md
// §4.7's fetch-blobs). Fetch only moves ref pointers to the head
// commit hash itself; this is what actually pulls the tree, manifest
// and block objects a fetched record needs before it can be read or
// merged. Passing s (rather than s.store) to odb.Reachable is what
// makes the walk cross a local miss instead of failing on one: odb's
// Getter interface is satisfied by either, but only Storage.Get falls
// back to a remote.
func (s *Storage) FetchBlobs() error {
	heads, err := s.store.Refs().EnumeratePrefix("storages/")
	if err != nil {
		return fmt.Errorf("storage: fetch-blobs: %w", err)
	}

	var firstErr error
	for _, h := range heads {
		if _, err := odb.Reachable(s, []objhash.Hash{h}); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ListRefs, FetchObjects and ApplyPush implement transport.ObjectStore
// so a Storage can be served directly to peers over pkg/transport.
func (s *Storage) ListRefs() (map[string]objhash.Hash, error) {
	return s.store.Refs().EnumeratePrefix("")
}

func (s *Storage) FetchObjects(wants []objhash.Hash) ([]transport.Object, error) {
	out := make([]transport.Object, 0, len(wants))
	for _, h := range wants {
		kind, data, err := s.store.Get(h)
		if err != nil {
			return nil, fmt.Errorf("storage: fetch objects %s: %w", h, err)
		}
		out = append(out, transport.Object{Hash: h, Kind: kind, Data: data})
	}
	return out, nil
}

func (s *Storage) ApplyPush(objects []transport.Object, updates []transport.RefUpdate) error {
	for _, o := range objects {
		if _, err := s.store.Put(o.Kind, o.Data); err != nil {
			return fmt.Errorf("storage: apply push: store %s: %w", o.Hash, err)
		}
	}
	perRef := make(map[string]error)
	for _, u := range updates {
		if err := s.store.Refs().SetIfEquals(u.Name, u.Old, u.New); err != nil {
			perRef[u.Name] = err
		}
	}
	if len(perRef) > 0 {
		return &boxerr.UpdateRefsError{PerRef: perRef}
	}
	return nil
}

var _ transport.ObjectStore = (*Storage)(nil)
