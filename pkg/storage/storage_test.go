package storage

import (
	"testing"

	"github.com/boxfs/boxfs/pkg/bxdir"
	"github.com/boxfs/boxfs/pkg/bxfile"
	"github.com/boxfs/boxfs/pkg/objhash"
	"github.com/boxfs/boxfs/pkg/odb"
	"github.com/boxfs/boxfs/pkg/transport"
)

// writeFile writes content through a bxfile.File and records it in dir,
// matching pkg/box's test helper for the same operation.
func writeFile(t *testing.T, store *odb.Store, dir *bxdir.Directory, path []string, content string) {
	t.Helper()
	f := bxfile.New(store)
	if _, err := f.Write([]byte(content)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	manifestHash, _, err := f.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := dir.Set(path, bxdir.Entry{Mode: odb.ModeFile, Hash: manifestHash}); err != nil {
		t.Fatalf("Set: %v", err)
	}
}

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func link(t *testing.T, from, to *Storage, name string, weight int) {
	t.Helper()
	from.AddRemote(name, "local://"+name, weight, transport.NewLocal(to))
}

func TestStorageIDIsStableAcrossCalls(t *testing.T) {
	s := newTestStorage(t)
	id1, err := s.ID()
	if err != nil {
		t.Fatalf("ID: %v", err)
	}
	id2, err := s.ID()
	if err != nil {
		t.Fatalf("ID: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("id changed: %s != %s", id1, id2)
	}
}

func TestStorageFastForwardSync(t *testing.T) {
	s1 := newTestStorage(t)
	s2 := newTestStorage(t)
	link(t, s1, s2, "peer", 100)

	b1, err := s1.Box("main")
	if err != nil {
		t.Fatalf("Box: %v", err)
	}
	root, err := b1.Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	writeFile(t, s1.store, root, []string{"x"}, "1")
	if err := b1.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := s1.Push(); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if err := s2.Fetch(); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	b2, err := s2.Box("main")
	if err != nil {
		t.Fatalf("Box: %v", err)
	}
	candidates, err := s2.RemoteHeadsForBox("main")
	if err != nil {
		t.Fatalf("RemoteHeadsForBox: %v", err)
	}
	if err := b2.UpdateFromRemotes(candidates); err != nil {
		t.Fatalf("UpdateFromRemotes: %v", err)
	}

	h1, ok1, err := b1.Head()
	if err != nil || !ok1 {
		t.Fatalf("b1.Head: ok=%v err=%v", ok1, err)
	}
	h2, ok2, err := b2.Head()
	if err != nil || !ok2 {
		t.Fatalf("b2.Head: ok=%v err=%v", ok2, err)
	}
	if h1 != h2 {
		t.Fatalf("heads diverged: %s != %s", h1, h2)
	}

	if err := s1.FetchBlobs(); err != nil {
		t.Fatalf("FetchBlobs: %v", err)
	}
}

// TestStorageFetchBlobsHydratesDivergentMergeInputs reproduces the
// conflicting-edit-after-fetch scenario: two storages share a common
// ancestor commit, then each commits a conflicting edit to the same
// file independently. s2 never sees s1's commit through Push (only
// s2.Fetch, which lands just the ref's commit hash), so its tree,
// manifest and content block are absent from s2's store until
// FetchBlobs walks and hydrates them. Without that walk,
// UpdateFromRemotes's merge would fail reading the incoming file's
// content with a not-found error instead of producing a conflict
// sibling.
func TestStorageFetchBlobsHydratesDivergentMergeInputs(t *testing.T) {
	s1 := newTestStorage(t)
	s2 := newTestStorage(t)
	link(t, s2, s1, "origin", 100)

	b1, err := s1.Box("main")
	if err != nil {
		t.Fatalf("Box: %v", err)
	}
	root1, err := b1.Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	writeFile(t, s1.store, root1, []string{"f"}, "base")
	if err := b1.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := s2.Fetch(); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	b2, err := s2.Box("main")
	if err != nil {
		t.Fatalf("Box: %v", err)
	}
	candidates, err := s2.RemoteHeadsForBox("main")
	if err != nil {
		t.Fatalf("RemoteHeadsForBox: %v", err)
	}
	if err := b2.UpdateFromRemotes(candidates); err != nil {
		t.Fatalf("UpdateFromRemotes (initial adopt): %v", err)
	}

	root1, err = b1.Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	writeFile(t, s1.store, root1, []string{"f"}, "s1-edit")
	if err := b1.Commit(); err != nil {
		t.Fatalf("Commit (s1 divergent): %v", err)
	}

	root2, err := b2.Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	writeFile(t, s2.store, root2, []string{"f"}, "s2-edit")
	if err := b2.Commit(); err != nil {
		t.Fatalf("Commit (s2 divergent): %v", err)
	}

	if err := s2.Fetch(); err != nil {
		t.Fatalf("Fetch (divergent): %v", err)
	}
	if err := s2.FetchBlobs(); err != nil {
		t.Fatalf("FetchBlobs (divergent): %v", err)
	}

	candidates, err = s2.RemoteHeadsForBox("main")
	if err != nil {
		t.Fatalf("RemoteHeadsForBox (divergent): %v", err)
	}
	if err := b2.UpdateFromRemotes(candidates); err != nil {
		t.Fatalf("UpdateFromRemotes (merge): %v", err)
	}

	if _, ok, err := b2.Head(); err != nil || !ok {
		t.Fatalf("b2.Head after merge: ok=%v err=%v", ok, err)
	}
	root, err := b2.Root()
	if err != nil {
		t.Fatalf("Root after merge: %v", err)
	}
	children, err := root.Iterate()
	if err != nil {
		t.Fatalf("Iterate after merge: %v", err)
	}
	if len(children) < 2 {
		t.Fatalf("expected a conflict sibling alongside f, got %d entries: %v", len(children), children)
	}
}

func TestStorageGetResolvesFromRemoteAndAnchorsBlob(t *testing.T) {
	s1 := newTestStorage(t)
	s2 := newTestStorage(t)
	link(t, s2, s1, "origin", 50)

	blobHash, err := s1.store.PutBlob(&odb.Blob{Data: []byte("remote payload")})
	if err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	if err := s1.store.Refs().Set("tags/known", blobHash); err != nil {
		t.Fatalf("Set ref: %v", err)
	}

	kind, data, err := s2.Get(blobHash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if kind != objhash.KindBlob || string(data) != "remote payload" {
		t.Fatalf("Get returned kind=%s data=%q", kind, data)
	}

	h, ok, err := s2.store.Refs().Get(blobRefName(blobHash))
	if err != nil {
		t.Fatalf("Refs().Get: %v", err)
	}
	if !ok || h != blobHash {
		t.Fatalf("expected anchored blob ref, ok=%v h=%s", ok, h)
	}
}

func TestStorageGetFailsWhenNoRemoteHasObject(t *testing.T) {
	s1 := newTestStorage(t)
	s2 := newTestStorage(t)
	link(t, s2, s1, "origin", 50)

	missing := objhash.Of(objhash.KindBlob, []byte("never stored"))
	if _, _, err := s2.Get(missing); err == nil {
		t.Fatal("expected fetch error")
	}
}

func TestStoragePushIsNoOpWithoutRemotes(t *testing.T) {
	s := newTestStorage(t)
	if err := s.Push(); err != nil {
		t.Fatalf("Push: %v", err)
	}
}
