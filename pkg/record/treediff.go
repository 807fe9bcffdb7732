package record

import (
	"sort"

	"github.com/boxfs/boxfs/pkg/objhash"
	"github.com/boxfs/boxfs/pkg/odb"
)

// ChangeType classifies one path's transition between a base tree and
// an incoming tree (spec §4.5.1).
type ChangeType int

const (
	ChangeUnchanged ChangeType = iota
	ChangeAdd
	ChangeDelete
	ChangeModify
	ChangeRename
	ChangeCopy
)

// PathEntry is one leaf (non-directory) entry of a flattened tree.
type PathEntry struct {
	Path string
	Mode uint32
	Hash objhash.Hash
}

// Change is one path-level change between a base tree and an incoming
// tree. Old is nil for Add; New is nil for Delete.
type Change struct {
	Type ChangeType
	Old  *PathEntry
	New  *PathEntry
}

// flattenTree walks a Tree recursively, collecting every non-directory
// entry keyed by its full slash-joined path.
func flattenTree(store *odb.Store, h objhash.Hash, prefix string, out map[string]PathEntry) error {
	if h.IsZero() {
		return nil
	}
	tree, err := store.GetTree(h)
	if err != nil {
		return err
	}
	for _, e := range tree.Entries {
		path := e.Name
		if prefix != "" {
			path = prefix + "/" + e.Name
		}
		if e.IsDir() {
			if err := flattenTree(store, e.Hash, path, out); err != nil {
				return err
			}
			continue
		}
		out[path] = PathEntry{Path: path, Mode: e.Mode, Hash: e.Hash}
	}
	return nil
}

// Diff computes a rename-aware, path-level diff between a base tree and
// an incoming tree: paths present only in base are deletions (unless
// matched to an addition with identical content, which becomes a
// rename); paths present only in incoming are additions; paths in both
// with differing content are modifications.
func Diff(store *odb.Store, baseTree, incomingTree objhash.Hash) ([]Change, error) {
	baseEntries := map[string]PathEntry{}
	if err := flattenTree(store, baseTree, "", baseEntries); err != nil {
		return nil, err
	}
	incomingEntries := map[string]PathEntry{}
	if err := flattenTree(store, incomingTree, "", incomingEntries); err != nil {
		return nil, err
	}

	deletedOnly := map[string]PathEntry{}
	for path, e := range baseEntries {
		if _, ok := incomingEntries[path]; !ok {
			deletedOnly[path] = e
		}
	}
	addedOnly := map[string]PathEntry{}
	for path, e := range incomingEntries {
		if _, ok := baseEntries[path]; !ok {
			addedOnly[path] = e
		}
	}

	// Exact-content rename detection: an added path whose hash matches
	// an unclaimed deleted path's hash is a rename rather than an
	// independent add+delete pair.
	byHash := map[objhash.Hash][]string{}
	for path, e := range deletedOnly {
		byHash[e.Hash] = append(byHash[e.Hash], path)
	}
	for k := range byHash {
		sort.Strings(byHash[k])
	}

	var changes []Change
	claimedDeletes := map[string]bool{}

	var addedPaths []string
	for path := range addedOnly {
		addedPaths = append(addedPaths, path)
	}
	sort.Strings(addedPaths)

	for _, path := range addedPaths {
		newEntry := addedOnly[path]
		candidates := byHash[newEntry.Hash]
		matched := ""
		for _, c := range candidates {
			if !claimedDeletes[c] {
				matched = c
				break
			}
		}
		if matched != "" {
			claimedDeletes[matched] = true
			oldEntry := deletedOnly[matched]
			changes = append(changes, Change{Type: ChangeRename, Old: &oldEntry, New: &newEntry})
		} else {
			changes = append(changes, Change{Type: ChangeAdd, New: &newEntry})
		}
	}

	var deletedPaths []string
	for path := range deletedOnly {
		deletedPaths = append(deletedPaths, path)
	}
	sort.Strings(deletedPaths)
	for _, path := range deletedPaths {
		if claimedDeletes[path] {
			continue
		}
		e := deletedOnly[path]
		changes = append(changes, Change{Type: ChangeDelete, Old: &e})
	}

	var commonPaths []string
	for path := range baseEntries {
		if _, ok := incomingEntries[path]; ok {
			commonPaths = append(commonPaths, path)
		}
	}
	sort.Strings(commonPaths)
	for _, path := range commonPaths {
		oldEntry := baseEntries[path]
		newEntry := incomingEntries[path]
		if oldEntry.Hash == newEntry.Hash && oldEntry.Mode == newEntry.Mode {
			changes = append(changes, Change{Type: ChangeUnchanged, Old: &oldEntry, New: &newEntry})
			continue
		}
		changes = append(changes, Change{Type: ChangeModify, Old: &oldEntry, New: &newEntry})
	}

	return changes, nil
}
