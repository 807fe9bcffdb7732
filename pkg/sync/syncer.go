// Package sync implements spec.md §4.9's background syncer: a single
// task per storage that pushes on a "must-sync" signal and otherwise
// falls back to a periodic fetch-and-update-from-remotes. Ported from
// original_source/nodlehs/remote.py's Syncer(threading.Thread), whose
// must_be_sync.wait(30) loop is replaced here with the channel-plus-
// timer shape spec.md §9's design note calls for in place of a shared
// mutexed flag.
package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/boxfs/boxfs/pkg/storage"
)

// DefaultInterval is the syncer's periodic fetch interval absent a
// must-sync signal (spec.md §4.9: "a periodic timer (default 30 s)").
const DefaultInterval = 30 * time.Second

// Syncer drives one storage's background push/fetch loop.
type Syncer struct {
	storage  *storage.Storage
	interval time.Duration
	mustSync chan struct{}
	log      *slog.Logger
}

// New creates a Syncer for s using interval as its periodic timeout. A
// non-positive interval is replaced with DefaultInterval.
func New(s *storage.Storage, interval time.Duration) *Syncer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Syncer{
		storage:  s,
		interval: interval,
		mustSync: make(chan struct{}, 1),
		log:      slog.Default().With("component", "sync"),
	}
}

// MarkMustSync signals that a push is due; it is non-blocking and
// coalesces with any already-pending signal.
func (s *Syncer) MarkMustSync() {
	select {
	case s.mustSync <- struct{}{}:
	default:
	}
}

// Run blocks, driving the sync loop until ctx is cancelled. On each
// must-sync signal it pushes; if the timer expires without a signal it
// fetches and then runs update-from-remotes for every box opened so
// far on this storage.
func (s *Syncer) Run(ctx context.Context) error {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-s.mustSync:
			if !timer.Stop() {
				<-timer.C
			}
			if err := s.storage.Push(); err != nil {
				s.log.Error("push failed", "error", err)
			}
			timer.Reset(s.interval)

		case <-timer.C:
			s.onTimeout()
			timer.Reset(s.interval)
		}
	}
}

func (s *Syncer) onTimeout() {
	if err := s.storage.Fetch(); err != nil {
		s.log.Error("fetch failed", "error", err)
		return
	}
	if err := s.storage.FetchBlobs(); err != nil {
		// Fetch already landed the head commits; a box whose tree touches
		// an object this failed to pull will surface it when read, so this
		// is logged and not fatal to the sync pass.
		s.log.Error("fetch-blobs failed", "error", err)
	}
	for _, name := range s.storage.Boxes() {
		log := s.log.With("box", name)
		b, err := s.storage.Box(name)
		if err != nil {
			log.Error("open box failed", "error", err)
			continue
		}
		candidates, err := s.storage.RemoteHeadsForBox(name)
		if err != nil {
			log.Error("remote heads lookup failed", "error", err)
			continue
		}
		if err := b.UpdateFromRemotes(candidates); err != nil {
			// Box head-setter errors are fatal for this call but caught
			// here as a skip, per spec.md §7.
			log.Error("update from remotes failed", "error", err)
		}
	}
}
