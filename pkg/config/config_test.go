package config

import (
	"encoding/json"
	"testing"

	"github.com/boxfs/boxfs/pkg/odb"
)

func TestLoadDefaultsWhenNoConfigStored(t *testing.T) {
	store := odb.NewStore(t.TempDir())
	c, err := Load(store)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := c.Box("main"); got != (BoxOptions{}) {
		t.Fatalf("Box(main) = %+v, want zero value", got)
	}
}

func TestSetBoxPersistsAndRoundTrips(t *testing.T) {
	store := odb.NewStore(t.TempDir())
	c, err := Load(store)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := c.SetBox("main", BoxOptions{Prefetch: true}); err != nil {
		t.Fatalf("SetBox: %v", err)
	}

	c2, err := Load(store)
	if err != nil {
		t.Fatalf("Load (reopen): %v", err)
	}
	if got := c2.Box("main"); !got.Prefetch {
		t.Fatalf("Box(main) = %+v, want Prefetch=true", got)
	}
}

func TestUnrecognizedKeysRoundTrip(t *testing.T) {
	store := odb.NewStore(t.TempDir())
	c, err := Load(store)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := c.Set("custom", json.RawMessage(`{"nested":true}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	c2, err := Load(store)
	if err != nil {
		t.Fatalf("Load (reopen): %v", err)
	}
	raw, ok := c2.Get("custom")
	if !ok {
		t.Fatal("expected custom key to round-trip")
	}
	if string(raw) != `{"nested":true}` {
		t.Fatalf("custom = %s", raw)
	}
}

func TestWatchIsCalledOnSave(t *testing.T) {
	store := odb.NewStore(t.TempDir())
	c, err := Load(store)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	calls := 0
	c.Watch(func(*Config) { calls++ })

	if err := c.SetBox("main", BoxOptions{Prefetch: true}); err != nil {
		t.Fatalf("SetBox: %v", err)
	}
	if calls != 1 {
		t.Fatalf("watcher calls = %d, want 1", calls)
	}
}
