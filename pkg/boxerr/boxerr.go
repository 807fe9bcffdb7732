// Package boxerr defines the abstract error taxonomy shared by every
// boxfs component: lookup errors, content/merge errors, IO/transport
// errors and policy errors. Callers use errors.Is/errors.As against the
// sentinels below; the VFS adapter boundary is the only place that
// translates these into numeric errno-shaped codes.
package boxerr

import (
	"errors"
	"fmt"

	"github.com/boxfs/boxfs/pkg/objhash"
)

// Lookup errors.
var (
	ErrNoSuchChild        = errors.New("no such child")
	ErrNotADirectory      = errors.New("not a directory")
	ErrNotFastForward     = errors.New("not a fast-forward")
	ErrNoRecord           = errors.New("box has no record")
	ErrCannotGoBackInTime = errors.New("cannot go back in time")
	ErrUnrelatedHistories = errors.New("unrelated histories")
)

// Content errors.
var (
	ErrMergeBinary       = errors.New("cannot merge binary content")
	ErrUnknownChangeType = errors.New("unknown tree change type")
	ErrBadObjectType     = errors.New("unexpected object type")
)

// Policy errors.
var (
	ErrReadOnly     = errors.New("storage is read-only")
	ErrAccessDenied = errors.New("access denied")
)

// MergeConflictError reports a textual three-way merge that produced one
// or more conflict hunks. Merged holds the content with conflict markers
// inserted; the caller (pkg/record) decides whether to keep that content
// or materialize conflict siblings instead.
type MergeConflictError struct {
	Count  int
	Merged []byte
}

func (e *MergeConflictError) Error() string {
	if e.Count == 1 {
		return "1 merge conflict"
	}
	return fmt.Sprintf("%d merge conflicts", e.Count)
}

// FetchError reports that an object could not be retrieved from any
// configured remote.
type FetchError struct {
	Hash objhash.Hash
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.Hash, e.Err)
	}
	return fmt.Sprintf("fetch %s: object not found on any remote", e.Hash)
}

func (e *FetchError) Unwrap() error { return e.Err }

// UpdateRefsError reports a partial failure updating refs on a remote
// during push; PerRef carries the per-ref-name status.
type UpdateRefsError struct {
	PerRef map[string]error
}

func (e *UpdateRefsError) Error() string {
	return fmt.Sprintf("update-refs failed for %d ref(s)", len(e.PerRef))
}
