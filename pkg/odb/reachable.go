package odb

import (
	"encoding/json"
	"fmt"

	"github.com/boxfs/boxfs/pkg/boxerr"
	"github.com/boxfs/boxfs/pkg/objhash"
)

// Getter resolves a single object by hash. *Store satisfies it for a
// purely local walk; pkg/storage.Storage also satisfies it, and its
// Get falls back to configured remotes on a local miss, so passing a
// *Storage in here turns the same walk into a fetch that pulls
// whatever it doesn't already have (spec.md §4.7's fetch-blobs).
type Getter interface {
	Get(h objhash.Hash) (objhash.Kind, []byte, error)
}

// Reachable walks commit parents, trees and blobs from roots and
// returns every object reached, tagged by kind. A tree entry with a
// file mode is descended into as a manifest, so the content blocks it
// lists are included alongside the manifest blob itself. It is the
// storage-side counterpart to spec.md §4.7's "blob hashes reachable
// from the exported heads" and §4.7's fetch-blobs: push/fetch use it
// to decide which objects a peer transfer must carry.
func Reachable(store Getter, roots []objhash.Hash) (map[objhash.Hash]objhash.Kind, error) {
	seen := make(map[objhash.Hash]objhash.Kind)
	for _, h := range roots {
		if err := walkReachable(store, h, seen); err != nil {
			return nil, err
		}
	}
	return seen, nil
}

func walkReachable(store Getter, h objhash.Hash, seen map[objhash.Hash]objhash.Kind) error {
	if h.IsZero() {
		return nil
	}
	if _, ok := seen[h]; ok {
		return nil
	}

	kind, data, err := store.Get(h)
	if err != nil {
		return fmt.Errorf("odb: reachable %s: %w", h, err)
	}
	seen[h] = kind

	switch kind {
	case objhash.KindCommit:
		c, err := UnmarshalCommit(data)
		if err != nil {
			return fmt.Errorf("odb: reachable %s: %w", h, err)
		}
		if err := walkReachable(store, c.Tree, seen); err != nil {
			return err
		}
		for _, p := range c.Parents {
			if err := walkReachable(store, p, seen); err != nil {
				return err
			}
		}
	case objhash.KindTree:
		t, err := UnmarshalTree(data)
		if err != nil {
			return fmt.Errorf("odb: reachable %s: %w", h, err)
		}
		for _, e := range t.Entries {
			if err := walkReachable(store, e.Hash, seen); err != nil {
				return err
			}
			// A file entry's blob is its manifest, not its content: descend
			// into it so the content blocks it lists are reachable too.
			// Symlink entries point straight at a content blob and have no
			// manifest to parse.
			if e.Mode == ModeFile || e.Mode == ModeExecutable {
				if err := walkManifestBlocks(store, e.Hash, seen); err != nil {
					return err
				}
			}
		}
	case objhash.KindBlob:
		// Leaf, nothing further to walk.
	default:
		return fmt.Errorf("odb: reachable %s: %w (%s)", h, boxerr.ErrBadObjectType, kind)
	}
	return nil
}

// blockManifest mirrors the JSON shape of pkg/bxfile.Manifest, trimmed to
// the fields reachability needs. It is redeclared here rather than
// imported because pkg/bxfile imports pkg/odb, and odb importing bxfile
// back would be a cycle.
type blockManifest struct {
	Blocks []struct {
		Hash objhash.Hash `json:"hash"`
	} `json:"blocks"`
}

// walkManifestBlocks loads the blob at manifestHash as a file manifest
// and marks every block hash it lists as reachable.
func walkManifestBlocks(store Getter, manifestHash objhash.Hash, seen map[objhash.Hash]objhash.Kind) error {
	_, data, err := store.Get(manifestHash)
	if err != nil {
		return fmt.Errorf("odb: reachable: load manifest %s: %w", manifestHash, err)
	}
	var m blockManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("odb: reachable: parse manifest %s: %w", manifestHash, err)
	}
	for _, b := range m.Blocks {
		if err := walkReachable(store, b.Hash, seen); err != nil {
			return err
		}
	}
	return nil
}

// ReachableBlobs is Reachable filtered to blob hashes only.
func ReachableBlobs(store Getter, roots []objhash.Hash) ([]objhash.Hash, error) {
	all, err := Reachable(store, roots)
	if err != nil {
		return nil, err
	}
	var blobs []objhash.Hash
	for h, kind := range all {
		if kind == objhash.KindBlob {
			blobs = append(blobs, h)
		}
	}
	return blobs, nil
}
