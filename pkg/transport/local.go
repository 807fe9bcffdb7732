package transport

import (
	"github.com/boxfs/boxfs/pkg/objhash"
)

// Local is a same-process transport bound directly to a peer's
// ObjectStore, with no framing or network I/O: the path-based remote
// spec.md §6 names for same-host peers, and the transport integration
// tests use to exercise push/fetch/sync end to end without sockets.
type Local struct {
	peer ObjectStore
}

// NewLocal wraps peer as a Transport.
func NewLocal(peer ObjectStore) *Local {
	return &Local{peer: peer}
}

func (l *Local) ListRefs() (map[string]objhash.Hash, error) {
	return l.peer.ListRefs()
}

func (l *Local) Fetch(wants []objhash.Hash) ([]Object, error) {
	return l.peer.FetchObjects(wants)
}

func (l *Local) Push(objects []Object, updates []RefUpdate) error {
	return l.peer.ApplyPush(objects, updates)
}

func (l *Local) Close() error { return nil }

var _ Transport = (*Local)(nil)
