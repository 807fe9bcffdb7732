package odb

import (
	"errors"
	"testing"

	"github.com/boxfs/boxfs/pkg/objhash"
)

func TestRefsGetMissingIsNotOK(t *testing.T) {
	r := newRefs(t.TempDir())
	_, ok, err := r.Get("storages/s1/main")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("Get on missing ref reported ok=true")
	}
}

func TestRefsSetGetRoundTrip(t *testing.T) {
	r := newRefs(t.TempDir())
	h := objhash.Of(objhash.KindCommit, []byte("x"))

	if err := r.Set("storages/s1/main", h); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := r.Get("storages/s1/main")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || got != h {
		t.Fatalf("Get = (%s, %v), want (%s, true)", got, ok, h)
	}
}

func TestRefsSetIfEqualsSucceedsOnMatch(t *testing.T) {
	r := newRefs(t.TempDir())
	h1 := objhash.Of(objhash.KindCommit, []byte("1"))
	h2 := objhash.Of(objhash.KindCommit, []byte("2"))

	if err := r.Set("storages/s1/main", h1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := r.SetIfEquals("storages/s1/main", h1, h2); err != nil {
		t.Fatalf("SetIfEquals: %v", err)
	}
	got, _, _ := r.Get("storages/s1/main")
	if got != h2 {
		t.Fatalf("ref = %s, want %s", got, h2)
	}
}

func TestRefsSetIfEqualsFailsOnMismatch(t *testing.T) {
	r := newRefs(t.TempDir())
	h1 := objhash.Of(objhash.KindCommit, []byte("1"))
	h2 := objhash.Of(objhash.KindCommit, []byte("2"))
	wrong := objhash.Of(objhash.KindCommit, []byte("wrong"))

	if err := r.Set("storages/s1/main", h1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	err := r.SetIfEquals("storages/s1/main", wrong, h2)
	if !errors.Is(err, ErrRefCASMismatch) {
		t.Fatalf("SetIfEquals mismatch: got %v, want ErrRefCASMismatch", err)
	}
	got, _, _ := r.Get("storages/s1/main")
	if got != h1 {
		t.Fatalf("ref changed despite CAS failure: got %s, want unchanged %s", got, h1)
	}
}

func TestRefsSetIfEqualsCreateRequiresZero(t *testing.T) {
	r := newRefs(t.TempDir())
	h := objhash.Of(objhash.KindCommit, []byte("new"))

	// Creating a brand-new ref must present Zero as the expected old value.
	if err := r.SetIfEquals("storages/s1/main", objhash.Zero, h); err != nil {
		t.Fatalf("SetIfEquals create: %v", err)
	}
	got, ok, _ := r.Get("storages/s1/main")
	if !ok || got != h {
		t.Fatalf("ref not created: (%s, %v)", got, ok)
	}

	// A second "create" with the same expectation must now fail: the ref exists.
	other := objhash.Of(objhash.KindCommit, []byte("other"))
	err := r.SetIfEquals("storages/s1/main", objhash.Zero, other)
	if !errors.Is(err, ErrRefCASMismatch) {
		t.Fatalf("double-create: got %v, want ErrRefCASMismatch", err)
	}
}

func TestRefsDelete(t *testing.T) {
	r := newRefs(t.TempDir())
	h := objhash.Of(objhash.KindCommit, []byte("x"))
	if err := r.Set("storages/s1/main", h); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := r.Delete("storages/s1/main"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := r.Get("storages/s1/main"); ok {
		t.Fatal("ref still present after Delete")
	}
	// Deleting an absent ref is not an error.
	if err := r.Delete("storages/s1/main"); err != nil {
		t.Fatalf("Delete on missing ref: %v", err)
	}
}

func TestRefsEnumeratePrefix(t *testing.T) {
	r := newRefs(t.TempDir())
	h1 := objhash.Of(objhash.KindCommit, []byte("1"))
	h2 := objhash.Of(objhash.KindCommit, []byte("2"))
	h3 := objhash.Of(objhash.KindCommit, []byte("3"))

	mustSet := func(name string, h objhash.Hash) {
		t.Helper()
		if err := r.Set(name, h); err != nil {
			t.Fatalf("Set %q: %v", name, err)
		}
	}
	mustSet("storages/s1/main", h1)
	mustSet("storages/s1/feature", h2)
	mustSet("storages/s2/main", h3)

	got, err := r.EnumeratePrefix("storages/s1")
	if err != nil {
		t.Fatalf("EnumeratePrefix: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d refs, want 2: %v", len(got), got)
	}
	if got["storages/s1/main"] != h1 || got["storages/s1/feature"] != h2 {
		t.Fatalf("unexpected contents: %v", got)
	}
}

func TestRefsEnumeratePrefixOnMissingDirIsEmpty(t *testing.T) {
	r := newRefs(t.TempDir())
	got, err := r.EnumeratePrefix("storages/none")
	if err != nil {
		t.Fatalf("EnumeratePrefix: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %v, want empty", got)
	}
}
