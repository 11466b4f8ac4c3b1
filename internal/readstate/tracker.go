// Package readstate batches read transitions so rapid conversation
// switches collapse into a single remote update.
package readstate

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Flusher performs the batched remote update for a set of ids.
type Flusher func(ctx context.Context, ids []string) error

type Config struct {
	Window time.Duration
	Cap    int
	Flush  Flusher
	Log    *zap.SugaredLogger
}

const flushTimeout = 10 * time.Second

// Tracker accumulates ids for one table's read updates. Marking an
// already-marked id again is a no-op both locally and remotely.
type Tracker struct {
	mu      sync.Mutex
	cfg     Config
	pending map[string]struct{}
	seen    map[string]struct{}
	timer   *time.Timer
	closed  bool
}

func New(cfg Config) *Tracker {
	if cfg.Window == 0 {
		cfg.Window = 250 * time.Millisecond
	}
	if cfg.Cap == 0 {
		cfg.Cap = 64
	}
	return &Tracker{
		cfg:     cfg,
		pending: make(map[string]struct{}),
		seen:    make(map[string]struct{}),
	}
}

// MarkRead enqueues ids for the next flush. Ids that were already flushed
// or are already queued are dropped.
func (t *Tracker) MarkRead(ids ...string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	added := false
	for _, id := range ids {
		if _, ok := t.seen[id]; ok {
			continue
		}
		t.seen[id] = struct{}{}
		t.pending[id] = struct{}{}
		added = true
	}
	if !added {
		t.mu.Unlock()
		return
	}
	if len(t.pending) >= t.cfg.Cap {
		batch := t.takeLocked()
		t.mu.Unlock()
		t.flush(batch)
		return
	}
	if t.timer == nil {
		t.timer = time.AfterFunc(t.cfg.Window, t.flushTimer)
	}
	t.mu.Unlock()
}

// Observe records ids that are already read remotely (seen in inbound
// events), so a later MarkRead for them stays a no-op.
func (t *Tracker) Observe(ids ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		if _, queued := t.pending[id]; queued {
			continue
		}
		t.seen[id] = struct{}{}
	}
}

func (t *Tracker) flushTimer() {
	t.mu.Lock()
	batch := t.takeLocked()
	t.mu.Unlock()
	t.flush(batch)
}

func (t *Tracker) takeLocked() []string {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if len(t.pending) == 0 {
		return nil
	}
	batch := make([]string, 0, len(t.pending))
	for id := range t.pending {
		batch = append(batch, id)
	}
	t.pending = make(map[string]struct{})
	return batch
}

// flush runs the remote update. Failure is logged, never rolled back:
// re-showing seen messages as unread is worse than a rare missed persist.
func (t *Tracker) flush(ids []string) {
	if len(ids) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := t.cfg.Flush(ctx, ids); err != nil {
		t.cfg.Log.Warnw("read-state flush failed", "count", len(ids), "error", err)
	}
}

// Close flushes whatever is queued and stops the tracker.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	batch := t.takeLocked()
	t.mu.Unlock()
	t.flush(batch)
}
