// Package ctl implements the control-plane surface spec.md §6 names:
// enumerate/create/mount boxes, list records on a box, manage remotes,
// read/write configuration, request an immediate commit. Grounded on
// the teacher's cmd_branch.go/cmd_remote.go/cmd_commit.go (captured
// before deletion, see DESIGN.md): each operation here is the same
// "resolve a name against the owning registry, perform one action,
// return a plain error" shape those RunE closures used against
// *repo.Repo, re-targeted at *storage.Storage/*box.Box.
package ctl

import (
	"fmt"
	"log/slog"
	"net/url"

	"github.com/boxfs/boxfs/pkg/box"
	"github.com/boxfs/boxfs/pkg/config"
	"github.com/boxfs/boxfs/pkg/objhash"
	"github.com/boxfs/boxfs/pkg/storage"
	"github.com/boxfs/boxfs/pkg/transport"
	"github.com/boxfs/boxfs/pkg/vfsadapter"
)

// Controller is the single entry point external callers (the CLI, a
// mount daemon) drive; it owns one storage and its loaded config.
type Controller struct {
	storage *storage.Storage
	config  *config.Config
	log     *slog.Logger
}

// Open opens the storage rooted at dir and loads its configuration.
func Open(dir string) (*Controller, error) {
	s, err := storage.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("ctl: open: %w", err)
	}
	cfg, err := config.Load(s.Store())
	if err != nil {
		return nil, fmt.Errorf("ctl: open: %w", err)
	}
	c := &Controller{storage: s, config: cfg, log: slog.Default().With("component", "ctl", "storage", dir)}
	cfg.Watch(func(*config.Config) {
		c.log.Info("configuration updated")
	})
	return c, nil
}

// Storage returns the underlying storage handle.
func (c *Controller) Storage() *storage.Storage { return c.storage }

// Boxes enumerates every box name this storage has touched so far.
func (c *Controller) Boxes() []string { return c.storage.Boxes() }

// CreateBox creates (or returns, if it already exists) the named box.
func (c *Controller) CreateBox(name string) (*box.Box, error) {
	return c.storage.Box(name)
}

// Mount returns a FileSystem view of the named box's working tree.
func (c *Controller) Mount(name string) (vfsadapter.FileSystem, error) {
	b, err := c.storage.Box(name)
	if err != nil {
		return nil, fmt.Errorf("ctl: mount %s: %w", name, err)
	}
	return vfsadapter.New(b), nil
}

// RecordInfo summarizes one commit in a box's history for listing.
type RecordInfo struct {
	Hash          objhash.Hash
	ParentCount   int
	CommitterTime int64
}

// ListRecords walks the named box's head and its ancestors, most
// recent first.
func (c *Controller) ListRecords(name string) ([]RecordInfo, error) {
	b, err := c.storage.Box(name)
	if err != nil {
		return nil, fmt.Errorf("ctl: list records %s: %w", name, err)
	}
	head, ok, err := b.Head()
	if err != nil {
		return nil, fmt.Errorf("ctl: list records %s: %w", name, err)
	}
	if !ok {
		return nil, nil
	}

	store := c.storage.Store()
	var out []RecordInfo
	frontier := []objhash.Hash{head}
	seen := map[objhash.Hash]bool{}
	for len(frontier) > 0 {
		var next []objhash.Hash
		for _, h := range frontier {
			if seen[h] {
				continue
			}
			seen[h] = true
			commit, err := store.GetCommit(h)
			if err != nil {
				return nil, fmt.Errorf("ctl: list records %s: %w", name, err)
			}
			out = append(out, RecordInfo{Hash: h, ParentCount: len(commit.Parents), CommitterTime: commit.CommitterTime})
			next = append(next, commit.Parents...)
		}
		frontier = next
	}
	return out, nil
}

// Commit requests an immediate commit on the named box.
func (c *Controller) Commit(name string) error {
	b, err := c.storage.Box(name)
	if err != nil {
		return fmt.Errorf("ctl: commit %s: %w", name, err)
	}
	return b.Commit()
}

// RemoteInfo summarizes one configured remote for listing.
type RemoteInfo struct {
	Name   string
	URL    string
	Weight int
}

// ListRemotes lists every configured remote, weight-descending.
func (c *Controller) ListRemotes() []RemoteInfo {
	remotes := c.storage.Remotes()
	out := make([]RemoteInfo, 0, len(remotes))
	for _, r := range remotes {
		out = append(out, RemoteInfo{Name: r.Name(), URL: r.URL(), Weight: r.Weight()})
	}
	return out
}

// AddRemote dials rawURL (scheme tcp://, ssh://user@host?key=path, or
// local:///path-to-another-storage) and registers it under name with
// the given weight.
func (c *Controller) AddRemote(name, rawURL string, weight int) error {
	tr, err := dialRemote(rawURL)
	if err != nil {
		return fmt.Errorf("ctl: add remote %s: %w", name, err)
	}
	c.storage.AddRemote(name, rawURL, weight, tr)
	return nil
}

// RemoveRemote closes and forgets the named remote.
func (c *Controller) RemoveRemote(name string) error {
	return c.storage.RemoveRemote(name)
}

func dialRemote(rawURL string) (transport.Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "tcp":
		return transport.DialTCP(u.Host)
	case "ssh":
		user := u.User.Username()
		key := u.Query().Get("key")
		return transport.DialSSH(u.Host, user, key)
	case "local":
		peer, err := storage.Open(u.Path)
		if err != nil {
			return nil, fmt.Errorf("open local peer %s: %w", u.Path, err)
		}
		return transport.NewLocal(peer), nil
	default:
		return nil, fmt.Errorf("unsupported remote scheme %q", u.Scheme)
	}
}

// Push runs an immediate push to every configured remote.
func (c *Controller) Push() error { return c.storage.Push() }

// Fetch runs an immediate fetch from every configured remote.
func (c *Controller) Fetch() error { return c.storage.Fetch() }

// Config returns the loaded configuration document.
func (c *Controller) Config() *config.Config { return c.config }

// SetBoxConfig sets per-box options and persists the document.
func (c *Controller) SetBoxConfig(name string, opts config.BoxOptions) error {
	return c.config.SetBox(name, opts)
}
