package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mmynk/pouch/internal/metrics"
	"github.com/mmynk/pouch/internal/storage"
)

// Prober checks whether the remote store is reachable right now.
// Satisfied by (*remote.Client).Health.
type Prober func(ctx context.Context) error

// probeTimeout bounds a single connectivity probe.
const probeTimeout = 3 * time.Second

// defaultProbeTTL is how long a probe result is trusted before the
// next Online() call probes again.
const defaultProbeTTL = 2 * time.Second

// Checker answers the synchronous "is online" question consulted
// before each mutation. Probe results are cached briefly so a burst of
// mutations costs one round trip, not one per mutation.
type Checker struct {
	probe Prober
	ttl   time.Duration

	mu      sync.Mutex
	online  bool
	checked time.Time
}

// NewChecker creates a Checker around the given probe.
func NewChecker(probe Prober) *Checker {
	return &Checker{probe: probe, ttl: defaultProbeTTL}
}

// Online reports whether the remote store is currently reachable.
func (c *Checker) Online() bool {
	c.mu.Lock()
	if time.Since(c.checked) < c.ttl {
		online := c.online
		c.mu.Unlock()
		return online
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	online := c.probe(ctx) == nil

	c.mu.Lock()
	c.online = online
	c.checked = time.Now()
	c.mu.Unlock()

	if online {
		metrics.Online.Set(1)
	} else {
		metrics.Online.Set(0)
	}
	return online
}

// Watcher polls connectivity and fires a callback whenever a drain is
// due: on each offline to online transition, and on any poll that
// finds the store reachable while operations are still queued.
type Watcher struct {
	checker  *Checker
	interval time.Duration
	queue    storage.OpQueue
	onOnline func(ctx context.Context)
	logger   *slog.Logger
}

// NewWatcher creates a Watcher. onOnline runs on the watcher's
// goroutine; long work inside it delays the next poll, which is fine
// for a drain. queue may be nil, which disables the pending-ops
// trigger.
func NewWatcher(checker *Checker, interval time.Duration, queue storage.OpQueue, onOnline func(ctx context.Context), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		checker:  checker,
		interval: interval,
		queue:    queue,
		onOnline: onOnline,
		logger:   logger,
	}
}

// Run polls until ctx is cancelled. The first poll fires onOnline if
// the store is already reachable, which covers draining a queue left
// over from a previous run at startup. Polls that find the store
// online with a non-empty queue also fire: ops that fell back to the
// queue during a blip too short for the checker to observe as offline
// would otherwise wait for a transition that may never come.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	wasOnline := false
	for {
		online := w.checker.Online()
		switch {
		case online && !wasOnline:
			w.logger.Info("connectivity regained")
			w.onOnline(ctx)
		case online && w.hasPending(ctx):
			w.onOnline(ctx)
		case !online && wasOnline:
			w.logger.Info("connectivity lost, mutations will queue locally")
		}
		wasOnline = online

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Watcher) hasPending(ctx context.Context) bool {
	if w.queue == nil {
		return false
	}
	n, err := w.queue.Len(ctx)
	return err == nil && n > 0
}
