package transport

import (
	"fmt"
	"io"
	"sync"

	"github.com/boxfs/boxfs/pkg/objhash"
)

// session drives the request/response frame protocol over any
// io.ReadWriteCloser, shared by the tcp and ssh transports so each only
// has to supply the underlying connection.
type session struct {
	rw   io.ReadWriteCloser
	mu   sync.Mutex // one request in flight at a time per connection
	addr string
}

func newSession(rw io.ReadWriteCloser, addr string) *session {
	return &session{rw: rw, addr: addr}
}

func (s *session) roundTrip(reqKind frameKind, reqPayload []byte, wantKind frameKind) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFrame(s.rw, reqKind, reqPayload); err != nil {
		return nil, fmt.Errorf("transport %s: %w", s.addr, err)
	}
	kind, payload, err := readFrame(s.rw)
	if err != nil {
		return nil, fmt.Errorf("transport %s: %w", s.addr, err)
	}
	if kind == frameError {
		var e errorResp
		if decErr := decode(payload, &e); decErr != nil {
			return nil, fmt.Errorf("transport %s: remote error (undecodable): %w", s.addr, decErr)
		}
		return nil, fmt.Errorf("transport %s: remote error: %s", s.addr, e.Message)
	}
	if kind != wantKind {
		return nil, fmt.Errorf("transport %s: unexpected response frame %d, want %d", s.addr, kind, wantKind)
	}
	return payload, nil
}

func (s *session) ListRefs() (map[string]objhash.Hash, error) {
	payload, err := s.roundTrip(frameListRefsReq, nil, frameListRefsResp)
	if err != nil {
		return nil, err
	}
	var resp listRefsResp
	if err := decode(payload, &resp); err != nil {
		return nil, err
	}
	return resp.Refs, nil
}

func (s *session) Fetch(wants []objhash.Hash) ([]Object, error) {
	payload, err := s.roundTrip(frameFetchReq, encode(fetchReq{Wants: wants}), frameFetchResp)
	if err != nil {
		return nil, err
	}
	var resp fetchResp
	if err := decode(payload, &resp); err != nil {
		return nil, err
	}
	return fromWireObjects(resp.Objects), nil
}

func (s *session) Push(objects []Object, updates []RefUpdate) error {
	req := pushReq{Objects: toWireObjects(objects), Updates: toWireUpdates(updates)}
	_, err := s.roundTrip(framePushReq, encode(req), framePushResp)
	return err
}

func (s *session) Close() error {
	return s.rw.Close()
}

// ObjectStore is the peer-side surface a transport serves: the peer's
// refs, object lookup by hash, and push application.
type ObjectStore interface {
	ListRefs() (map[string]objhash.Hash, error)
	FetchObjects(wants []objhash.Hash) ([]Object, error)
	ApplyPush(objects []Object, updates []RefUpdate) error
}

// serveOne answers a single request frame against store; Serve calls
// it in a loop for the tcp and ssh server sides.
func serveOne(rw io.ReadWriter, store ObjectStore) error {
	kind, payload, err := readFrame(rw)
	if err != nil {
		return err
	}
	switch kind {
	case frameListRefsReq:
		refs, err := store.ListRefs()
		if err != nil {
			return writeFrame(rw, frameError, encode(errorResp{Message: err.Error()}))
		}
		return writeFrame(rw, frameListRefsResp, encode(listRefsResp{Refs: refs}))

	case frameFetchReq:
		var req fetchReq
		if err := decode(payload, &req); err != nil {
			return writeFrame(rw, frameError, encode(errorResp{Message: err.Error()}))
		}
		objects, err := store.FetchObjects(req.Wants)
		if err != nil {
			return writeFrame(rw, frameError, encode(errorResp{Message: err.Error()}))
		}
		return writeFrame(rw, frameFetchResp, encode(fetchResp{Objects: toWireObjects(objects)}))

	case framePushReq:
		var req pushReq
		if err := decode(payload, &req); err != nil {
			return writeFrame(rw, frameError, encode(errorResp{Message: err.Error()}))
		}
		updates := make([]RefUpdate, len(req.Updates))
		for i, u := range req.Updates {
			updates[i] = RefUpdate{Name: u.Name, Old: u.Old, New: u.New}
		}
		if err := store.ApplyPush(fromWireObjects(req.Objects), updates); err != nil {
			return writeFrame(rw, frameError, encode(errorResp{Message: err.Error()}))
		}
		return writeFrame(rw, framePushResp, nil)

	default:
		return writeFrame(rw, frameError, encode(errorResp{Message: fmt.Sprintf("unknown request frame %d", kind)}))
	}
}

// Serve answers requests on rw in a loop until the peer disconnects
// (io.EOF) or an unrecoverable framing error occurs.
func Serve(rw io.ReadWriteCloser, store ObjectStore) error {
	defer rw.Close()
	for {
		if err := serveOne(rw, store); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
