package remote

import (
	"testing"

	"github.com/boxfs/boxfs/pkg/bxfile"
	"github.com/boxfs/boxfs/pkg/objhash"
	"github.com/boxfs/boxfs/pkg/odb"
	"github.com/boxfs/boxfs/pkg/transport"
)

// storeAdapter exposes an odb.Store as a transport.ObjectStore so tests
// can drive a Remote against a real peer store over transport.Local,
// the way pkg/storage will in production.
type storeAdapter struct {
	store *odb.Store
}

func (a *storeAdapter) ListRefs() (map[string]objhash.Hash, error) {
	return a.store.Refs().EnumeratePrefix("")
}

func (a *storeAdapter) FetchObjects(wants []objhash.Hash) ([]transport.Object, error) {
	out := make([]transport.Object, 0, len(wants))
	for _, h := range wants {
		kind, data, err := a.store.Get(h)
		if err != nil {
			return nil, err
		}
		out = append(out, transport.Object{Hash: h, Kind: kind, Data: data})
	}
	return out, nil
}

func (a *storeAdapter) ApplyPush(objects []transport.Object, updates []transport.RefUpdate) error {
	for _, o := range objects {
		if _, err := a.store.Put(o.Kind, o.Data); err != nil {
			return err
		}
	}
	for _, u := range updates {
		if err := a.store.Refs().SetIfEquals(u.Name, u.Old, u.New); err != nil {
			return err
		}
	}
	return nil
}

func newTestRemote(t *testing.T) (*Remote, *odb.Store) {
	t.Helper()
	localStore := odb.NewStore(t.TempDir())
	peerStore := odb.NewStore(t.TempDir())
	tr := transport.NewLocal(&storeAdapter{store: peerStore})
	return New(localStore, "origin", "local://peer", 10, tr), peerStore
}

func TestRemoteLessOrdersByWeight(t *testing.T) {
	localStore := odb.NewStore(t.TempDir())
	low := New(localStore, "low", "local://low", 1, transport.NewLocal(&storeAdapter{store: odb.NewStore(t.TempDir())}))
	high := New(localStore, "high", "local://high", 10, transport.NewLocal(&storeAdapter{store: odb.NewStore(t.TempDir())}))

	if !low.Less(high) {
		t.Fatal("expected low.Less(high) to be true")
	}
	if high.Less(low) {
		t.Fatal("expected high.Less(low) to be false")
	}
}

func TestRemoteIDIsCreatedOnceAndCached(t *testing.T) {
	r, peerStore := newTestRemote(t)

	id1, err := r.ID()
	if err != nil {
		t.Fatalf("ID: %v", err)
	}
	if id1 == "" {
		t.Fatal("expected non-empty id")
	}

	refs, err := peerStore.Refs().EnumeratePrefix("")
	if err != nil {
		t.Fatalf("EnumeratePrefix: %v", err)
	}
	if _, ok := refs[idRef]; !ok {
		t.Fatalf("expected %s to be set on peer, refs = %v", idRef, refs)
	}

	id2, err := r.ID()
	if err != nil {
		t.Fatalf("ID (second call): %v", err)
	}
	if id1 != id2 {
		t.Fatalf("id changed across calls: %s != %s", id1, id2)
	}
}

func TestRemotePushThenFetch(t *testing.T) {
	r, peerStore := newTestRemote(t)

	f := bxfile.New(r.store)
	if _, err := f.Write([]byte("payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	manifestHash, _, err := f.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	blockHashes := f.BlockHashes()
	if len(blockHashes) != 1 {
		t.Fatalf("block hashes = %v, want 1", blockHashes)
	}
	blockHash := blockHashes[0]
	treeHash, err := r.store.PutTree(&odb.Tree{Entries: []odb.TreeEntry{
		{Name: "f", Mode: odb.ModeFile, Hash: manifestHash},
	}})
	if err != nil {
		t.Fatalf("PutTree: %v", err)
	}
	commitHash, err := r.store.PutCommit(&odb.Commit{Tree: treeHash})
	if err != nil {
		t.Fatalf("PutCommit: %v", err)
	}

	err = r.Push(func(peerRefs map[string]objhash.Hash) map[string]objhash.Hash {
		next := map[string]objhash.Hash{}
		for k, v := range peerRefs {
			next[k] = v
		}
		next["storages/s1/main"] = commitHash
		return next
	})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	if _, _, err := peerStore.Get(commitHash); err != nil {
		t.Fatalf("peer missing commit: %v", err)
	}
	if _, _, err := peerStore.Get(treeHash); err != nil {
		t.Fatalf("peer missing tree: %v", err)
	}
	if _, _, err := peerStore.Get(manifestHash); err != nil {
		t.Fatalf("peer missing manifest: %v", err)
	}
	if _, _, err := peerStore.Get(blockHash); err != nil {
		t.Fatalf("peer missing content block: %v", err)
	}

	localStore2 := odb.NewStore(t.TempDir())
	r2 := New(localStore2, "origin", "local://peer", 10, transport.NewLocal(&storeAdapter{store: peerStore}))
	err = r2.Fetch(func(peerRefs map[string]objhash.Hash) []objhash.Hash {
		h, ok := peerRefs["storages/s1/main"]
		if !ok {
			return nil
		}
		return []objhash.Hash{h}
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if _, _, err := localStore2.Get(commitHash); err != nil {
		t.Fatalf("local missing fetched commit: %v", err)
	}
}

func TestRemotePushIsNoOpWhenRefUnchanged(t *testing.T) {
	r, _ := newTestRemote(t)

	err := r.Push(func(peerRefs map[string]objhash.Hash) map[string]objhash.Hash {
		return peerRefs
	})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
}
