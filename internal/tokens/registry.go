// Package tokens owns the set of push delivery tokens known for this
// session. The in-memory set is the source of truth; persistence is
// write-through.
package tokens

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/fathima-sithara/sync-service/internal/model"
)

type Persister interface {
	UpsertPushToken(ctx context.Context, userID, token string) error
	ListPushTokens(ctx context.Context, userID string) ([]model.PushToken, error)
}

type Registry struct {
	mu    sync.RWMutex
	byUsr map[string]map[string]struct{}
	store Persister
	log   *zap.SugaredLogger
}

func NewRegistry(store Persister, log *zap.SugaredLogger) *Registry {
	return &Registry{
		byUsr: make(map[string]map[string]struct{}),
		store: store,
		log:   log,
	}
}

// Seed loads the already-registered tokens for a user.
func (r *Registry) Seed(ctx context.Context, userID string) error {
	toks, err := r.store.ListPushTokens(ctx, userID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.byUsr[userID]
	if set == nil {
		set = make(map[string]struct{})
		r.byUsr[userID] = set
	}
	for _, t := range toks {
		set[t.Token] = struct{}{}
	}
	return nil
}

// Register stores a (user, token) pair. A pair that is already known is a
// no-op; no write is issued.
func (r *Registry) Register(ctx context.Context, userID, token string) error {
	if token == "" {
		return nil
	}
	r.mu.RLock()
	_, known := r.byUsr[userID][token]
	r.mu.RUnlock()
	if known {
		return nil
	}

	if err := r.store.UpsertPushToken(ctx, userID, token); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.byUsr[userID]
	if set == nil {
		set = make(map[string]struct{})
		r.byUsr[userID] = set
	}
	set[token] = struct{}{}
	return nil
}

// TokensFor returns the known tokens for userID, possibly empty. An empty
// result just means no fan-out happens.
func (r *Registry) TokensFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUsr[userID]
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
