// Package remote implements a named peer connection: a weighted handle
// over a pkg/transport.Transport, lazy peer identity, and the
// fetch/push primitives spec.md §4.8 describes in terms of a
// "want-selector"/"want-builder" callback contract (ported from
// original_source/nodlehs/remote.py's Remote class).
package remote

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/boxfs/boxfs/pkg/objhash"
	"github.com/boxfs/boxfs/pkg/odb"
	"github.com/boxfs/boxfs/pkg/transport"
)

// idRef is the ref name (relative to "refs/", see pkg/odb.Refs) under
// which a peer's self-identity blob is anchored, per spec.md §4.8.
const idRef = "tags/id"

// Retry parameters for the transport round-trips in Fetch/Push: a
// dropped connection mid-sync is far more common than a permanently
// broken peer, so a handful of quick retries absorbs it.
const (
	transferMaxAttempts = 3
	transferBaseDelay   = 200 * time.Millisecond
)

// Remote is a named, weighted connection to a peer storage, backed by a
// concrete pkg/transport.Transport and the local object store used to
// stage objects for push and land objects from fetch.
type Remote struct {
	name   string
	url    string
	weight int
	store  *odb.Store
	tr     transport.Transport
	log    *slog.Logger
}

// New creates a Remote named name at url with the given weight
// (selection priority, descending, per spec.md §4.7), talking over tr.
func New(store *odb.Store, name, url string, weight int, tr transport.Transport) *Remote {
	return &Remote{
		name: name, url: url, weight: weight, store: store, tr: tr,
		log: slog.Default().With("component", "remote", "remote", name),
	}
}

func (r *Remote) Name() string { return r.name }
func (r *Remote) URL() string  { return r.url }
func (r *Remote) Weight() int  { return r.weight }
func (r *Remote) Close() error { return r.tr.Close() }

// Less orders remotes for descending-weight selection (spec.md §4.7:
// "Selection order across remotes is descending by weight").
func (r *Remote) Less(other *Remote) bool { return r.weight < other.weight }

// Refs enumerates the peer's current refs.
func (r *Remote) Refs() (map[string]objhash.Hash, error) {
	return r.tr.ListRefs()
}

// ID returns the peer's self-reported identity, a UUID persisted once
// under refs/tags/id on the peer (spec.md §4.8's "per-remote identity
// blob"). If the peer has none yet, one is generated and pushed.
func (r *Remote) ID() (string, error) {
	refs, err := r.Refs()
	if err != nil {
		return "", fmt.Errorf("remote %s: id: %w", r.name, err)
	}
	if h, ok := refs[idRef]; ok {
		objs, err := r.tr.Fetch([]objhash.Hash{h})
		if err != nil {
			return "", fmt.Errorf("remote %s: id: fetch: %w", r.name, err)
		}
		if len(objs) == 1 {
			return string(objs[0].Data), nil
		}
	}

	id := uuid.New().String()
	blobHash, err := r.store.PutBlob(&odb.Blob{Data: []byte(id)})
	if err != nil {
		return "", fmt.Errorf("remote %s: id: stage blob: %w", r.name, err)
	}
	obj := transport.Object{Hash: blobHash, Kind: objhash.KindBlob, Data: []byte(id)}
	update := transport.RefUpdate{Name: idRef, Old: objhash.Zero, New: blobHash}
	if err := r.tr.Push([]transport.Object{obj}, []transport.RefUpdate{update}); err != nil {
		return "", fmt.Errorf("remote %s: id: push: %w", r.name, err)
	}
	return id, nil
}

// WantSelector receives the peer's refs and returns the hashes to pull.
type WantSelector func(peerRefs map[string]objhash.Hash) []objhash.Hash

// Fetch pulls the objects selected by sel from the peer into the local
// store. Objects already present locally are still requested (the
// transport has no "have" negotiation in this module's scope, see
// DESIGN.md); odb.Store.Put is idempotent so this is safe, just not
// bandwidth-optimal.
func (r *Remote) Fetch(sel WantSelector) error {
	refs, err := r.Refs()
	if err != nil {
		return fmt.Errorf("remote %s: fetch: %w", r.name, err)
	}
	wants := sel(refs)
	if len(wants) == 0 {
		return nil
	}
	var objects []transport.Object
	attempt := 0
	err = retryOp(transferMaxAttempts, transferBaseDelay, func() error {
		attempt++
		var fetchErr error
		objects, fetchErr = r.tr.Fetch(wants)
		if fetchErr != nil && attempt < transferMaxAttempts {
			r.log.Warn("fetch attempt failed, retrying", "attempt", attempt, "error", fetchErr)
		}
		return fetchErr
	})
	if err != nil {
		return fmt.Errorf("remote %s: fetch: %w", r.name, err)
	}
	for _, o := range objects {
		if _, err := r.store.Put(o.Kind, stripEnvelope(o)); err != nil {
			return fmt.Errorf("remote %s: fetch: store %s: %w", r.name, o.Hash, err)
		}
	}
	return nil
}

// stripEnvelope returns the raw content store.Put expects: wire Objects
// already carry decoded content (wire.go's wireObject.Data mirrors
// odb.Store.Get's content, not the zlib envelope), so this is an
// identity passthrough kept as a named step for clarity at the
// transport/store boundary.
func stripEnvelope(o transport.Object) []byte { return o.Data }

// WantBuilder receives the peer's current refs and returns the desired
// post-push ref map.
type WantBuilder func(peerRefs map[string]objhash.Hash) map[string]objhash.Hash

// Push computes the refs build wants, transfers every object reachable
// from the new ref values that isn't already reachable from the peer's
// current ref values, and applies the ref updates atomically on the
// peer.
func (r *Remote) Push(build WantBuilder) error {
	peerRefs, err := r.Refs()
	if err != nil {
		return fmt.Errorf("remote %s: push: %w", r.name, err)
	}
	newRefs := build(peerRefs)

	var oldRoots, newRoots []objhash.Hash
	for _, h := range peerRefs {
		oldRoots = append(oldRoots, h)
	}
	var updates []transport.RefUpdate
	for name, h := range newRefs {
		old := peerRefs[name]
		if old == h {
			continue
		}
		newRoots = append(newRoots, h)
		updates = append(updates, transport.RefUpdate{Name: name, Old: old, New: h})
	}
	if len(updates) == 0 {
		return nil
	}

	have, err := odb.Reachable(r.store, oldRoots)
	if err != nil {
		return fmt.Errorf("remote %s: push: reachable(have): %w", r.name, err)
	}
	want, err := odb.Reachable(r.store, newRoots)
	if err != nil {
		return fmt.Errorf("remote %s: push: reachable(want): %w", r.name, err)
	}

	var objects []transport.Object
	for h, kind := range want {
		if _, ok := have[h]; ok {
			continue
		}
		_, data, err := r.store.Get(h)
		if err != nil {
			return fmt.Errorf("remote %s: push: load %s: %w", r.name, h, err)
		}
		objects = append(objects, transport.Object{Hash: h, Kind: kind, Data: data})
	}

	attempt := 0
	err = retryOp(transferMaxAttempts, transferBaseDelay, func() error {
		attempt++
		pushErr := r.tr.Push(objects, updates)
		if pushErr != nil && attempt < transferMaxAttempts {
			r.log.Warn("push attempt failed, retrying", "attempt", attempt, "error", pushErr)
		}
		return pushErr
	})
	if err != nil {
		return fmt.Errorf("remote %s: push: %w", r.name, err)
	}
	return nil
}
