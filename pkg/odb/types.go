package odb

import "github.com/boxfs/boxfs/pkg/objhash"

// Git-compatible file modes, used as the Mode field of a TreeEntry.
const (
	ModeDir        = 0o40000
	ModeFile       = 0o100644
	ModeExecutable = 0o100755
	ModeSymlink    = 0o120000
)

// Blob is an opaque byte string: one block of a file, or a file manifest.
type Blob struct {
	Data []byte
}

// TreeEntry is one entry of a Tree: a name, a Git-compatible mode, and
// the hash of the child object (a Blob or another Tree).
type TreeEntry struct {
	Name string
	Mode uint32
	Hash objhash.Hash
}

// IsDir reports whether the entry's mode denotes a directory.
func (e TreeEntry) IsDir() bool { return e.Mode == ModeDir }

// Tree is a sorted sequence of (name, mode, child-hash) entries.
type Tree struct {
	Entries []TreeEntry
}

// Commit is a root-tree reference, an ordered parent set, and metadata.
type Commit struct {
	Tree              objhash.Hash
	Parents           []objhash.Hash
	Author            string
	AuthorTime        int64
	AuthorTimezone    string
	Committer         string
	CommitterTime     int64
	CommitterTimezone string
	Message           string
}
