// Package transport defines the pluggable wire protocol a Storage uses
// to talk to a remote peer's object store and ref namespace (spec.md
// §6 "Wire protocol"). The tcp and ssh implementations frame requests
// with the length-prefixed envelope in frame.go, while Local calls the
// peer's ObjectStore directly; pkg/storage drives the
// interface without caring which concrete transport is in play.
package transport

import (
	"github.com/boxfs/boxfs/pkg/objhash"
)

// Object is one object payload crossing the wire, tagged with its kind
// so the receiving side can re-derive and verify its hash on arrival.
type Object struct {
	Hash objhash.Hash
	Kind objhash.Kind
	Data []byte
}

// RefUpdate is one atomic ref rewrite requested by a push.
type RefUpdate struct {
	Name string
	Old  objhash.Hash // objhash.Zero means "must not currently exist"
	New  objhash.Hash
}

// Transport is the narrow surface a remote peer exposes: enumerate its
// refs, pull objects it has that the caller wants, and push objects
// plus ref updates atomically. Every method may do network I/O and
// should be called with a context via the concrete implementation's own
// constructor-bound timeout (the interface itself is left context-free
// to match how pkg/storage calls it from inside an errgroup goroutine
// per remote).
type Transport interface {
	// ListRefs returns every ref the peer currently holds, name to hash.
	ListRefs() (map[string]objhash.Hash, error)

	// Fetch returns the requested objects by hash, in no particular
	// order. A missing hash fails the whole call with an error naming
	// the first hash found absent; callers that need partial results
	// should request one hash at a time.
	Fetch(wants []objhash.Hash) ([]Object, error)

	// Push uploads objects (which must already be self-contained: the
	// caller resolves reachability before calling Push) and then applies
	// updates as a single atomic ref-update request. A peer backed by
	// pkg/storage reports rejected ref updates as a
	// *boxerr.UpdateRefsError, which over tcp and ssh reaches the caller
	// only as a plain remote-error message; objects already uploaded
	// are not rolled back, matching Git's own push semantics.
	Push(objects []Object, updates []RefUpdate) error

	// Close releases any held connection. Idempotent.
	Close() error
}
