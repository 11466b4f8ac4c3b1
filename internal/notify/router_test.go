package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fathima-sithara/sync-service/internal/model"
	"github.com/fathima-sithara/sync-service/internal/readstate"
)

type fakeStore struct {
	mu       sync.Mutex
	inserted []model.Notification
	err      error
}

func (s *fakeStore) InsertNotification(_ context.Context, n model.Notification) (model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return model.Notification{}, s.err
	}
	s.inserted = append(s.inserted, n)
	return n, nil
}

func (s *fakeStore) insertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserted)
}

type fakeTokens struct{ tokens []string }

func (f *fakeTokens) TokensFor(string) []string { return f.tokens }

type fakePusher struct {
	mu       sync.Mutex
	attempts []string
	failOn   map[string]bool
}

func (p *fakePusher) Deliver(_ context.Context, token string, _ model.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts = append(p.attempts, token)
	if p.failOn[token] {
		return errors.New("provider rejected")
	}
	return nil
}

func (p *fakePusher) attempted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.attempts))
	copy(out, p.attempts)
	return out
}

type fakeSurface struct {
	mu     sync.Mutex
	toasts []model.Notification
}

func (s *fakeSurface) Toast(_ string, n model.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toasts = append(s.toasts, n)
}

func (s *fakeSurface) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.toasts)
}

func newTestRouter(t *testing.T, cfg Config) *Router {
	t.Helper()
	if cfg.UserID == "" {
		cfg.UserID = "alice"
	}
	if cfg.Store == nil {
		cfg.Store = &fakeStore{}
	}
	if cfg.Tokens == nil {
		cfg.Tokens = &fakeTokens{}
	}
	if cfg.Push == nil {
		cfg.Push = &fakePusher{}
	}
	cfg.Log = zap.NewNop().Sugar()
	return NewRouter(cfg)
}

func TestCreateThenEchoYieldsOne(t *testing.T) {
	t.Parallel()
	st := &fakeStore{}
	r := newTestRouter(t, Config{Store: st})

	n := r.Create(model.Notification{ID: "n1", Title: "gig completed"})
	require.Equal(t, "n1", n.ID)
	require.Eventually(t, func() bool { return st.insertCount() == 1 }, time.Second, 10*time.Millisecond)

	// the feed echoes our own insert back
	r.Ingest(model.OpInsert, n)
	require.Len(t, r.List(), 1)
}

func TestEchoThenCreateYieldsOne(t *testing.T) {
	t.Parallel()
	st := &fakeStore{}
	r := newTestRouter(t, Config{Store: st})

	n := model.Notification{ID: "n1", UserID: "alice", Title: "gig completed", CreatedAt: time.Now()}
	r.Ingest(model.OpInsert, n)
	r.Create(model.Notification{ID: "n1", Title: "gig completed"})

	require.Len(t, r.List(), 1)
	// the create was deduped, so nothing extra is persisted
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, st.insertCount())
}

func TestDuplicateIngestDropped(t *testing.T) {
	t.Parallel()
	surface := &fakeSurface{}
	r := newTestRouter(t, Config{Surface: surface})

	n := model.Notification{ID: "n1", UserID: "alice", Title: "new message"}
	r.Ingest(model.OpInsert, n)
	r.Ingest(model.OpInsert, n)

	require.Len(t, r.List(), 1)
	require.Equal(t, 1, surface.count())
}

func TestPushFanOutIsolation(t *testing.T) {
	t.Parallel()
	pusher := &fakePusher{failOn: map[string]bool{"tok2": true}}
	r := newTestRouter(t, Config{
		Tokens: &fakeTokens{tokens: []string{"tok1", "tok2", "tok3"}},
		Push:   pusher,
	})

	r.DispatchPush(context.Background(), model.Notification{ID: "n1", UserID: "alice"})

	// the failure on tok2 must not stop tok1 or tok3
	require.Equal(t, []string{"tok1", "tok2", "tok3"}, pusher.attempted())
}

func TestCreatePersistsThenPushes(t *testing.T) {
	t.Parallel()
	st := &fakeStore{}
	pusher := &fakePusher{}
	surface := &fakeSurface{}
	r := newTestRouter(t, Config{
		Store:   st,
		Tokens:  &fakeTokens{tokens: []string{"tokA"}},
		Push:    pusher,
		Surface: surface,
	})

	r.Create(model.Notification{Title: "review received"})

	// toast is synchronous, persistence and push follow
	require.Equal(t, 1, surface.count())
	require.Eventually(t, func() bool {
		return st.insertCount() == 1 && len(pusher.attempted()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPersistFailureSkipsPush(t *testing.T) {
	t.Parallel()
	st := &fakeStore{err: errors.New("db down")}
	pusher := &fakePusher{}
	r := newTestRouter(t, Config{
		Store:  st,
		Tokens: &fakeTokens{tokens: []string{"tokA"}},
		Push:   pusher,
	})

	r.Create(model.Notification{Title: "will not persist"})
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, pusher.attempted())
	// still visible locally; worst case is a stale view, never a loss
	require.Len(t, r.List(), 1)
}

func TestNoTokensMeansNoFanOut(t *testing.T) {
	t.Parallel()
	pusher := &fakePusher{}
	r := newTestRouter(t, Config{Push: pusher})
	r.DispatchPush(context.Background(), model.Notification{ID: "n1", UserID: "alice"})
	require.Empty(t, pusher.attempted())
}

func TestMarkReadIsMonotonic(t *testing.T) {
	t.Parallel()
	flushed := make(chan []string, 4)
	tracker := readstate.New(readstate.Config{
		Window: 10 * time.Millisecond,
		Flush: func(_ context.Context, ids []string) error {
			flushed <- ids
			return nil
		},
		Log: zap.NewNop().Sugar(),
	})
	r := newTestRouter(t, Config{Reads: tracker})

	r.Ingest(model.OpInsert, model.Notification{ID: "n1", UserID: "alice", Title: "x"})
	require.Equal(t, 1, r.Unread())

	r.MarkRead("n1")
	require.Equal(t, 0, r.Unread())

	select {
	case ids := <-flushed:
		require.Equal(t, []string{"n1"}, ids)
	case <-time.After(time.Second):
		t.Fatal("expected a read-state flush")
	}

	// an update carrying read=false must not revert
	r.Ingest(model.OpUpdate, model.Notification{ID: "n1", Read: false})
	require.Equal(t, 0, r.Unread())

	// marking again is a local and remote no-op
	r.MarkRead("n1")
	select {
	case <-flushed:
		t.Fatal("unexpected second flush")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestIngestUpdateFlipsRead(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, Config{})
	r.Ingest(model.OpInsert, model.Notification{ID: "n1", UserID: "alice"})
	r.Ingest(model.OpUpdate, model.Notification{ID: "n1", Read: true})
	require.Equal(t, 0, r.Unread())
}

func TestListNewestFirst(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, Config{})
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	r.Ingest(model.OpInsert, model.Notification{ID: "n1", UserID: "alice", CreatedAt: base})
	r.Ingest(model.OpInsert, model.Notification{ID: "n2", UserID: "alice", CreatedAt: base.Add(time.Minute)})

	list := r.List()
	require.Equal(t, "n2", list[0].ID)
	require.Equal(t, "n1", list[1].ID)
}

func TestSeedDoesNotToast(t *testing.T) {
	t.Parallel()
	surface := &fakeSurface{}
	r := newTestRouter(t, Config{Surface: surface})
	r.Seed([]model.Notification{{ID: "n1", UserID: "alice"}})
	require.Len(t, r.List(), 1)
	require.Equal(t, 0, surface.count())
}

func TestClosedRouterIgnoresLatePersist(t *testing.T) {
	t.Parallel()
	st := &fakeStore{}
	pusher := &fakePusher{}
	r := newTestRouter(t, Config{
		Store:  st,
		Tokens: &fakeTokens{tokens: []string{"tokA"}},
		Push:   pusher,
	})

	r.Create(model.Notification{Title: "racing close"})
	r.Close()

	time.Sleep(50 * time.Millisecond)
	// persist may have run, but closed state is never mutated further
	require.NotPanics(t, func() { r.Ingest(model.OpInsert, model.Notification{ID: "x", UserID: "alice"}) })
	require.Len(t, r.List(), 1)
}
