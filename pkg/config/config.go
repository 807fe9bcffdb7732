// Package config implements the JSON configuration document spec.md
// §6 describes: a blob persisted at refs/tags/config with a
// recognized "boxes" key and otherwise-preserved unknown keys. Ported
// from original_source/nodlehs/config.py's Config class (default
// document, write-on-set, on_store callback) with the D-Bus signal
// dropped for a plain in-process watcher list.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/boxfs/boxfs/pkg/odb"
)

// ref is the ref name (relative to "refs/") the config document is
// persisted under (spec.md §6: "A JSON document persisted as a blob at
// refs/tags/config").
const ref = "tags/config"

// BoxOptions holds the per-box options nested under the "boxes" key.
type BoxOptions struct {
	Prefetch bool `json:"prefetch"`
}

// Config is the live, in-memory configuration document for one
// storage. Unrecognized top-level keys round-trip through raw.
type Config struct {
	store *odb.Store

	mu       sync.Mutex
	boxes    map[string]BoxOptions
	raw      map[string]json.RawMessage
	watchers []func(*Config)
}

// Load reads the configuration blob from store, returning the default
// document ({"boxes": {}}) if none has been stored yet.
func Load(store *odb.Store) (*Config, error) {
	c := &Config{store: store, boxes: map[string]BoxOptions{}, raw: map[string]json.RawMessage{}}

	h, ok, err := store.Refs().Get(ref)
	if err != nil {
		return nil, fmt.Errorf("config: load: %w", err)
	}
	if !ok {
		return c, nil
	}

	b, err := store.GetBlob(h)
	if err != nil {
		return nil, fmt.Errorf("config: load: %w", err)
	}
	if err := c.unmarshal(b.Data); err != nil {
		return nil, fmt.Errorf("config: load: %w", err)
	}
	return c, nil
}

func (c *Config) unmarshal(data []byte) error {
	if err := json.Unmarshal(data, &c.raw); err != nil {
		return err
	}
	if boxesRaw, ok := c.raw["boxes"]; ok {
		if err := json.Unmarshal(boxesRaw, &c.boxes); err != nil {
			return fmt.Errorf("boxes: %w", err)
		}
	}
	return nil
}

// Watch registers fn to be invoked, with the Config as its argument and
// the config lock released, every time Save persists a new document (the
// on_store callback in the original).
func (c *Config) Watch(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

// Box returns the options for the named box, or the zero value if
// unset.
func (c *Config) Box(name string) BoxOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boxes[name]
}

// SetBox sets the options for the named box and persists the document.
func (c *Config) SetBox(name string, opts BoxOptions) error {
	c.mu.Lock()
	c.boxes[name] = opts
	c.mu.Unlock()
	return c.Save()
}

// Get returns the raw JSON for an unrecognized top-level key, if
// present, so callers can round-trip keys this package doesn't model.
func (c *Config) Get(key string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.raw[key]
	return v, ok
}

// Set stores a raw top-level key and persists the document.
func (c *Config) Set(key string, value json.RawMessage) error {
	c.mu.Lock()
	c.raw[key] = value
	c.mu.Unlock()
	return c.Save()
}

// Save serializes the document (recognized "boxes" key plus every
// preserved unknown key), stores it as a blob, advances refs/tags/config
// to point at it, and notifies every registered watcher.
func (c *Config) Save() error {
	c.mu.Lock()
	boxesJSON, err := json.Marshal(c.boxes)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("config: save: marshal boxes: %w", err)
	}
	c.raw["boxes"] = boxesJSON
	data, err := json.MarshalIndent(c.raw, "", "  ")
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("config: save: marshal: %w", err)
	}

	h, err := c.store.PutBlob(&odb.Blob{Data: data})
	if err != nil {
		return fmt.Errorf("config: save: %w", err)
	}
	old, _, err := c.store.Refs().Get(ref)
	if err != nil {
		return fmt.Errorf("config: save: %w", err)
	}
	if err := c.store.Refs().SetIfEquals(ref, old, h); err != nil {
		if !errors.Is(err, odb.ErrRefCASMismatch) {
			return fmt.Errorf("config: save: %w", err)
		}
		// Racing writer already advanced the ref; fall back to a plain
		// set so this save still lands.
		if err := c.store.Refs().Set(ref, h); err != nil {
			return fmt.Errorf("config: save: %w", err)
		}
	}

	c.mu.Lock()
	watchers := append([]func(*Config){}, c.watchers...)
	c.mu.Unlock()
	for _, w := range watchers {
		w(c)
	}
	return nil
}
