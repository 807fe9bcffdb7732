package transport

import (
	"fmt"
	"net"
	"testing"

	"github.com/boxfs/boxfs/pkg/objhash"
)

// memStore is a minimal in-memory ObjectStore used to exercise the
// frame protocol without a real pkg/storage.Storage.
type memStore struct {
	refs    map[string]objhash.Hash
	objects map[objhash.Hash]Object
}

func newMemStore() *memStore {
	return &memStore{refs: map[string]objhash.Hash{}, objects: map[objhash.Hash]Object{}}
}

func (m *memStore) ListRefs() (map[string]objhash.Hash, error) {
	out := make(map[string]objhash.Hash, len(m.refs))
	for k, v := range m.refs {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) FetchObjects(wants []objhash.Hash) ([]Object, error) {
	out := make([]Object, 0, len(wants))
	for _, h := range wants {
		o, ok := m.objects[h]
		if !ok {
			return nil, fmt.Errorf("memstore: missing object %s", h)
		}
		out = append(out, o)
	}
	return out, nil
}

func (m *memStore) ApplyPush(objects []Object, updates []RefUpdate) error {
	for _, o := range objects {
		m.objects[o.Hash] = o
	}
	for _, u := range updates {
		current := m.refs[u.Name]
		if current != u.Old {
			return fmt.Errorf("memstore: cas mismatch on %s", u.Name)
		}
		m.refs[u.Name] = u.New
	}
	return nil
}

func testObject(content string) Object {
	data := []byte(content)
	return Object{Hash: objhash.Of(objhash.KindBlob, data), Kind: objhash.KindBlob, Data: data}
}

func TestLocalRoundTrip(t *testing.T) {
	peer := newMemStore()
	tr := NewLocal(peer)

	obj := testObject("hello")
	if err := tr.Push([]Object{obj}, []RefUpdate{{Name: "storages/s1/main", Old: objhash.Zero, New: obj.Hash}}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	refs, err := tr.ListRefs()
	if err != nil {
		t.Fatalf("ListRefs: %v", err)
	}
	if refs["storages/s1/main"] != obj.Hash {
		t.Fatalf("refs = %v", refs)
	}

	fetched, err := tr.Fetch([]objhash.Hash{obj.Hash})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(fetched) != 1 || string(fetched[0].Data) != "hello" {
		t.Fatalf("fetched = %+v", fetched)
	}
}

func TestTCPRoundTrip(t *testing.T) {
	peer := newMemStore()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_ = Serve(conn, peer)
	}()

	tr, err := DialTCP(ln.Addr().String())
	if err != nil {
		t.Fatalf("DialTCP: %v", err)
	}
	defer tr.Close()

	obj := testObject("over tcp")
	if err := tr.Push([]Object{obj}, []RefUpdate{{Name: "storages/s1/main", Old: objhash.Zero, New: obj.Hash}}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	refs, err := tr.ListRefs()
	if err != nil {
		t.Fatalf("ListRefs: %v", err)
	}
	if refs["storages/s1/main"] != obj.Hash {
		t.Fatalf("refs = %v", refs)
	}

	fetched, err := tr.Fetch([]objhash.Hash{obj.Hash})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(fetched) != 1 || string(fetched[0].Data) != "over tcp" {
		t.Fatalf("fetched = %+v", fetched)
	}
}

func TestTCPPushRejectsCASMismatch(t *testing.T) {
	peer := newMemStore()
	peer.refs["storages/s1/main"] = objhash.Of(objhash.KindCommit, []byte("seed"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_ = Serve(conn, peer)
	}()

	tr, err := DialTCP(ln.Addr().String())
	if err != nil {
		t.Fatalf("DialTCP: %v", err)
	}
	defer tr.Close()

	obj := testObject("conflicting")
	err = tr.Push([]Object{obj}, []RefUpdate{{Name: "storages/s1/main", Old: objhash.Zero, New: obj.Hash}})
	if err == nil {
		t.Fatal("expected CAS mismatch error")
	}
}
