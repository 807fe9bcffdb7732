package odb

import (
	"fmt"
	"testing"

	"github.com/boxfs/boxfs/pkg/objhash"
)

// putManifest stores a block as a blob and wraps its hash in a file
// manifest blob, matching the JSON shape pkg/bxfile.Manifest writes.
func putManifest(t *testing.T, store *Store, content string) (manifestHash, blockHash objhash.Hash) {
	t.Helper()
	blockHash, err := store.PutBlob(&Blob{Data: []byte(content)})
	if err != nil {
		t.Fatalf("PutBlob block: %v", err)
	}
	raw := fmt.Sprintf(`{"blocks":[{"size":%d,"hash":%q}]}`, len(content), blockHash.String())
	manifestHash, err = store.PutBlob(&Blob{Data: []byte(raw)})
	if err != nil {
		t.Fatalf("PutBlob manifest: %v", err)
	}
	return manifestHash, blockHash
}

func TestReachableWalksCommitTreeBlob(t *testing.T) {
	store := NewStore(t.TempDir())

	manifestHash, blockHash := putManifest(t, store, "hello")
	treeHash, err := store.PutTree(&Tree{Entries: []TreeEntry{
		{Name: "a", Mode: ModeFile, Hash: manifestHash},
	}})
	if err != nil {
		t.Fatalf("PutTree: %v", err)
	}
	rootCommit, err := store.PutCommit(&Commit{Tree: treeHash})
	if err != nil {
		t.Fatalf("PutCommit: %v", err)
	}
	childCommit, err := store.PutCommit(&Commit{Tree: treeHash, Parents: []objhash.Hash{rootCommit}})
	if err != nil {
		t.Fatalf("PutCommit child: %v", err)
	}

	all, err := Reachable(store, []objhash.Hash{childCommit})
	if err != nil {
		t.Fatalf("Reachable: %v", err)
	}
	for _, h := range []objhash.Hash{childCommit, rootCommit, treeHash, manifestHash, blockHash} {
		if _, ok := all[h]; !ok {
			t.Fatalf("expected %s to be reachable", h)
		}
	}
	if len(all) != 5 {
		t.Fatalf("reachable set = %d objects, want 5", len(all))
	}

	blobs, err := ReachableBlobs(store, []objhash.Hash{childCommit})
	if err != nil {
		t.Fatalf("ReachableBlobs: %v", err)
	}
	if len(blobs) != 2 {
		t.Fatalf("blobs = %v, want 2 (manifest + block)", blobs)
	}
}

// TestReachableSkipsManifestParseForSymlinks confirms a symlink entry's
// blob is treated as raw content, not a manifest to descend into.
func TestReachableSkipsManifestParseForSymlinks(t *testing.T) {
	store := NewStore(t.TempDir())
	targetHash, err := store.PutBlob(&Blob{Data: []byte("../elsewhere")})
	if err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	treeHash, err := store.PutTree(&Tree{Entries: []TreeEntry{
		{Name: "link", Mode: ModeSymlink, Hash: targetHash},
	}})
	if err != nil {
		t.Fatalf("PutTree: %v", err)
	}
	commitHash, err := store.PutCommit(&Commit{Tree: treeHash})
	if err != nil {
		t.Fatalf("PutCommit: %v", err)
	}

	all, err := Reachable(store, []objhash.Hash{commitHash})
	if err != nil {
		t.Fatalf("Reachable: %v", err)
	}
	if _, ok := all[targetHash]; !ok {
		t.Fatalf("expected symlink target %s to be reachable", targetHash)
	}
}

func TestReachableStopsAtMissingZeroHash(t *testing.T) {
	store := NewStore(t.TempDir())
	treeHash, _ := store.PutTree(&Tree{})
	commitHash, err := store.PutCommit(&Commit{Tree: treeHash})
	if err != nil {
		t.Fatalf("PutCommit: %v", err)
	}

	all, err := Reachable(store, []objhash.Hash{commitHash})
	if err != nil {
		t.Fatalf("Reachable: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("reachable set = %d objects, want 2 (commit+empty tree)", len(all))
	}
}
