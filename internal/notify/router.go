// Package notify routes logical notifications to their delivery surfaces:
// the in-app toast, the persisted inbox row, and the push-token broadcast.
// Whatever order the create call and its feed echo arrive in, a given id
// is visible exactly once.
package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/sync-service/internal/metrics"
	"github.com/fathima-sithara/sync-service/internal/model"
	"github.com/fathima-sithara/sync-service/internal/readstate"
)

// Pusher sends one notification to one token.
type Pusher interface {
	Deliver(ctx context.Context, token string, n model.Notification) error
}

// TokenSource lists the delivery tokens registered for a user.
type TokenSource interface {
	TokensFor(userID string) []string
}

// Surface shows a notification in the app immediately (toast).
type Surface interface {
	Toast(userID string, n model.Notification)
}

// Persister is the slice of the data-access collaborator the router needs.
type Persister interface {
	InsertNotification(ctx context.Context, n model.Notification) (model.Notification, error)
}

type state int

const (
	stateCreated state = iota
	statePersisted
	statePushed
)

type record struct {
	n     model.Notification
	state state
}

type Config struct {
	UserID  string
	Store   Persister
	Tokens  TokenSource
	Push    Pusher
	Surface Surface
	Reads   *readstate.Tracker
	Log     *zap.SugaredLogger
	Now     func() time.Time
}

const persistTimeout = 10 * time.Second

// Router owns the local notification set for one user's session.
type Router struct {
	mu     sync.Mutex
	cfg    Config
	byID   map[string]*record
	closed bool
}

func NewRouter(cfg Config) *Router {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Router{cfg: cfg, byID: make(map[string]*record)}
}

// Seed installs already-persisted notifications at session start. No
// toasts, no pushes.
func (r *Router) Seed(notifs []model.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range notifs {
		if _, ok := r.byID[n.ID]; ok {
			continue
		}
		r.byID[n.ID] = &record{n: n, state: statePersisted}
	}
}

// Create appends a self-triggered notification synchronously, then
// persists and fans out in the background. The returned copy carries the
// assigned id.
func (r *Router) Create(n model.Notification) model.Notification {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.UserID = r.cfg.UserID
	n.CreatedAt = r.cfg.Now()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return n
	}
	if _, ok := r.byID[n.ID]; ok {
		r.mu.Unlock()
		metrics.DuplicateDrops.WithLabelValues("notification").Inc()
		return n
	}
	r.byID[n.ID] = &record{n: n, state: stateCreated}
	r.mu.Unlock()

	if r.cfg.Surface != nil {
		r.cfg.Surface.Toast(n.UserID, n)
	}
	go r.persist(n)
	return n
}

func (r *Router) persist(n model.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	saved, err := r.cfg.Store.InsertNotification(ctx, n)
	if err != nil {
		r.cfg.Log.Warnw("notification persist failed", "notification", n.ID, "error", err)
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	rec, ok := r.byID[saved.ID]
	if ok && rec.state < statePersisted {
		rec.state = statePersisted
	}
	r.mu.Unlock()

	r.DispatchPush(ctx, saved)
}

// DispatchPush attempts delivery to every registered token. Fan-out is
// independent per token: one failure does not stop the others.
func (r *Router) DispatchPush(ctx context.Context, n model.Notification) {
	toks := r.cfg.Tokens.TokensFor(n.UserID)
	if len(toks) == 0 {
		return
	}
	delivered := 0
	for _, tok := range toks {
		if err := r.cfg.Push.Deliver(ctx, tok, n); err != nil {
			r.cfg.Log.Warnw("push delivery failed",
				"notification", n.ID, "token", tok, "error", err)
			continue
		}
		delivered++
	}

	r.mu.Lock()
	if rec, ok := r.byID[n.ID]; ok && delivered > 0 && rec.state == statePersisted {
		rec.state = statePushed
	}
	r.mu.Unlock()
}

// Ingest applies a change-feed event for the notification table. An INSERT
// whose id is already present, whether from a prior Create or a duplicate
// delivery, is dropped.
func (r *Router) Ingest(op model.Op, n model.Notification) {
	switch op {
	case model.OpInsert:
		r.ingestInsert(n)
	case model.OpUpdate:
		r.ingestUpdate(n)
	}
}

func (r *Router) ingestInsert(n model.Notification) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if rec, ok := r.byID[n.ID]; ok {
		// echo of our own create, or a duplicate delivery
		if n.Read {
			rec.n.Read = true
		}
		if rec.state < statePersisted {
			rec.state = statePersisted
		}
		r.mu.Unlock()
		metrics.DuplicateDrops.WithLabelValues("notification").Inc()
		return
	}
	r.byID[n.ID] = &record{n: n, state: statePersisted}
	r.mu.Unlock()

	if n.Read && r.cfg.Reads != nil {
		r.cfg.Reads.Observe(n.ID)
	}
	if r.cfg.Surface != nil {
		r.cfg.Surface.Toast(n.UserID, n)
	}
}

func (r *Router) ingestUpdate(n model.Notification) {
	if !n.Read {
		return
	}
	r.mu.Lock()
	if rec, ok := r.byID[n.ID]; ok {
		rec.n.Read = true
	}
	r.mu.Unlock()
	if r.cfg.Reads != nil {
		r.cfg.Reads.Observe(n.ID)
	}
}

// MarkRead flips read locally and hands the ids to the batched remote
// update. Read only ever moves false to true.
func (r *Router) MarkRead(ids ...string) {
	flipped := make([]string, 0, len(ids))
	r.mu.Lock()
	for _, id := range ids {
		rec, ok := r.byID[id]
		if !ok || rec.n.Read {
			continue
		}
		rec.n.Read = true
		flipped = append(flipped, id)
	}
	r.mu.Unlock()
	if len(flipped) > 0 && r.cfg.Reads != nil {
		r.cfg.Reads.MarkRead(flipped...)
	}
}

// List returns the visible set, newest first.
func (r *Router) List() []model.Notification {
	r.mu.Lock()
	out := make([]model.Notification, 0, len(r.byID))
	for _, rec := range r.byID {
		out = append(out, rec.n)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Unread counts notifications not yet read.
func (r *Router) Unread() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.byID {
		if !rec.n.Read {
			n++
		}
	}
	return n
}

// Close retires the router; late persist callbacks become no-ops.
func (r *Router) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}
