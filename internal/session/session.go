// Package session ties the sync engine together for one authenticated
// user: streams, conversation index, notification router, read batching
// and feed subscriptions, with a lifecycle that starts and ends with the
// user's session instead of process-global state.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/fathima-sithara/sync-service/internal/config"
	"github.com/fathima-sithara/sync-service/internal/conversations"
	"github.com/fathima-sithara/sync-service/internal/errs"
	"github.com/fathima-sithara/sync-service/internal/events"
	"github.com/fathima-sithara/sync-service/internal/metrics"
	"github.com/fathima-sithara/sync-service/internal/model"
	"github.com/fathima-sithara/sync-service/internal/notify"
	"github.com/fathima-sithara/sync-service/internal/readstate"
	"github.com/fathima-sithara/sync-service/internal/store"
	"github.com/fathima-sithara/sync-service/internal/stream"
	"github.com/fathima-sithara/sync-service/internal/tokens"
	"github.com/fathima-sithara/sync-service/internal/ws"
)

// Deps are the service-wide collaborators a session draws on.
type Deps struct {
	Store    store.Store
	Source   events.Source
	Hub      *ws.Hub
	Push     notify.Pusher
	Registry *tokens.Registry
	Log      *zap.SugaredLogger
	Sync     config.Sync
}

// Session is the single access point for one user's synchronized state.
type Session struct {
	userID string
	deps   Deps

	router    *notify.Router
	msgReads  *readstate.Tracker
	noteReads *readstate.Tracker

	mu      sync.Mutex
	streams map[string]*stream.Stream
	// read updates whose row carried no routable peer and whose insert no
	// stream has seen yet, id -> held-since
	orphans map[string]time.Time
	subs    []*events.Subscription
	closed  bool

	orphanTTL time.Duration
	orphanCap int
}

func newSession(userID string, deps Deps) *Session {
	s := &Session{
		userID:    userID,
		deps:      deps,
		streams:   make(map[string]*stream.Stream),
		orphans:   make(map[string]time.Time),
		orphanTTL: deps.Sync.OrphanTTL(),
		orphanCap: deps.Sync.OrphanCap,
	}
	if s.orphanTTL == 0 {
		s.orphanTTL = 5 * time.Minute
	}
	if s.orphanCap == 0 {
		s.orphanCap = 256
	}
	s.msgReads = readstate.New(readstate.Config{
		Window: deps.Sync.ReadFlushWindow(),
		Cap:    deps.Sync.ReadFlushCap,
		Flush:  deps.Store.UpdateMessagesRead,
		Log:    deps.Log,
	})
	s.noteReads = readstate.New(readstate.Config{
		Window: deps.Sync.ReadFlushWindow(),
		Cap:    deps.Sync.ReadFlushCap,
		Flush:  deps.Store.UpdateNotificationsRead,
		Log:    deps.Log,
	})
	var surface notify.Surface
	if deps.Hub != nil {
		surface = deps.Hub
	}
	s.router = notify.NewRouter(notify.Config{
		UserID:  userID,
		Store:   deps.Store,
		Tokens:  deps.Registry,
		Push:    deps.Push,
		Surface: surface,
		Reads:   s.noteReads,
		Log:     deps.Log,
	})
	return s
}

// start seeds local state from the store and subscribes to the two feed
// topics.
func (s *Session) start(ctx context.Context) error {
	if err := s.deps.Registry.Seed(ctx, s.userID); err != nil {
		return fmt.Errorf("seed push tokens: %w", err)
	}

	msgs, err := s.deps.Store.ListMessages(ctx, s.userID)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	s.applyMessages(msgs)

	notifs, err := s.deps.Store.ListNotifications(ctx, s.userID)
	if err != nil {
		return fmt.Errorf("load notifications: %w", err)
	}
	s.router.Seed(notifs)

	msgSub, err := s.deps.Source.Subscribe(
		events.Topic{Table: model.TableMessages, UserID: s.userID},
		s.handleMessageEvent,
	)
	if err != nil {
		return err
	}
	noteSub, err := s.deps.Source.Subscribe(
		events.Topic{Table: model.TableNotifications, UserID: s.userID},
		s.handleNotificationEvent,
	)
	if err != nil {
		_ = msgSub.Close()
		return err
	}

	s.mu.Lock()
	s.subs = append(s.subs, msgSub, noteSub)
	s.mu.Unlock()
	return nil
}

func (s *Session) handleMessageEvent(ev *model.ChangeEvent) {
	m, err := ev.MessageRow()
	if err != nil {
		metrics.InvalidEvents.Inc()
		s.deps.Log.Warnw("bad message row", "error", err)
		return
	}
	if m.Read {
		// remote already reflects the read; a local mark for this id must
		// not write again
		s.msgReads.Observe(m.ID)
	}
	if ev.Op == model.OpUpdate {
		// an update row may carry only {id, read}; routing it by
		// counterparty would misplace it, so find the row instead
		s.applyReadUpdate(m)
		return
	}
	s.getStream(m.Counterparty(s.userID)).Ingest(ev.Op, s.claimOrphan(m))
}

// applyReadUpdate locates the stream holding the row and flips read there.
// While the insert is still in flight the update is parked session-wide so
// whichever stream eventually ingests the row picks it up.
func (s *Session) applyReadUpdate(m model.Message) {
	if !m.Read {
		return
	}
	for _, st := range s.allStreams() {
		if st.ApplyRead(m.ID) {
			return
		}
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	cutoff := time.Now().Add(-s.orphanTTL)
	for id, held := range s.orphans {
		if held.Before(cutoff) {
			delete(s.orphans, id)
		}
	}
	if len(s.orphans) < s.orphanCap {
		s.orphans[m.ID] = time.Now()
	}
	s.mu.Unlock()
}

// claimOrphan folds a parked read update into the row it was waiting for.
func (s *Session) claimOrphan(m model.Message) model.Message {
	s.mu.Lock()
	if _, ok := s.orphans[m.ID]; ok {
		m.Read = true
		delete(s.orphans, m.ID)
	}
	s.mu.Unlock()
	return m
}

func (s *Session) allStreams() []*stream.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*stream.Stream, 0, len(s.streams))
	for _, st := range s.streams {
		out = append(out, st)
	}
	return out
}

func (s *Session) handleNotificationEvent(ev *model.ChangeEvent) {
	n, err := ev.NotificationRow()
	if err != nil {
		metrics.InvalidEvents.Inc()
		s.deps.Log.Warnw("bad notification row", "error", err)
		return
	}
	if n.UserID != s.userID {
		return
	}
	s.router.Ingest(ev.Op, n)
}

// getStream returns the stream for a counterparty, creating it on first
// contact.
func (s *Session) getStream(peer string) *stream.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.streams[peer]; ok {
		return st
	}
	st := stream.New(stream.Config{
		Self:      s.userID,
		Peer:      peer,
		Writer:    s.deps.Store,
		Reads:     s.msgReads,
		OnChange:  s.broadcast,
		Log:       s.deps.Log,
		OrphanTTL: s.deps.Sync.OrphanTTL(),
		OrphanCap: s.deps.Sync.OrphanCap,
	})
	s.streams[peer] = st
	return st
}

func (s *Session) applyMessages(msgs []model.Message) {
	byPeer := map[string][]model.Message{}
	for _, m := range msgs {
		peer := m.Counterparty(s.userID)
		byPeer[peer] = append(byPeer[peer], s.claimOrphan(m))
	}
	// streams with no rows in the fetch still need the empty resync: the
	// fetch is ground truth
	s.mu.Lock()
	known := make([]string, 0, len(s.streams))
	for peer := range s.streams {
		known = append(known, peer)
	}
	s.mu.Unlock()
	for _, peer := range known {
		if _, ok := byPeer[peer]; !ok {
			byPeer[peer] = nil
		}
	}
	for peer, pm := range byPeer {
		s.getStream(peer).Resync(pm)
	}
}

// Resync re-fetches current state after a feed gap; the event stream is
// not trusted as ground truth across a reconnect.
func (s *Session) Resync(ctx context.Context) error {
	op := func() error {
		if s.isClosed() {
			return backoff.Permanent(errs.ErrClosed)
		}
		msgs, err := s.deps.Store.ListMessages(ctx, s.userID)
		if err != nil {
			return err
		}
		notifs, err := s.deps.Store.ListNotifications(ctx, s.userID)
		if err != nil {
			return err
		}
		s.applyMessages(msgs)
		s.router.Seed(notifs)
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		s.deps.Log.Warnw("resync failed", "user", s.userID, "error", err)
		return err
	}
	metrics.Resyncs.Inc()
	s.broadcast()
	return nil
}

// Send appends an optimistic message for peer and fires the remote write.
func (s *Session) Send(peer, content string) stream.Entry {
	return s.getStream(peer).Send(content)
}

// RetrySend re-issues a failed optimistic send.
func (s *Session) RetrySend(peer, localID string) bool {
	return s.getStream(peer).Retry(localID)
}

// Messages returns the ordered entries for one conversation.
func (s *Session) Messages(peer string) []stream.Entry {
	return s.getStream(peer).Snapshot()
}

// MarkMessagesRead flips read for the given ids in peer's conversation.
func (s *Session) MarkMessagesRead(peer string, ids []string) {
	s.getStream(peer).MarkRead(ids...)
}

// Conversations folds all streams into the conversation list.
func (s *Session) Conversations() []conversations.Conversation {
	var entries []stream.Entry
	for _, st := range s.allStreams() {
		entries = append(entries, st.Snapshot()...)
	}
	return conversations.Fold(s.userID, entries)
}

// CreateNotification records a self-triggered notification and fans out.
func (s *Session) CreateNotification(n model.Notification) model.Notification {
	return s.router.Create(n)
}

// Notifications returns the visible set, newest first.
func (s *Session) Notifications() []model.Notification {
	return s.router.List()
}

func (s *Session) UnreadNotifications() int {
	return s.router.Unread()
}

// MarkNotificationsRead flips read for the given notification ids.
func (s *Session) MarkNotificationsRead(ids []string) {
	s.router.MarkRead(ids...)
}

// RegisterToken records a device token handed over by the permission flow.
func (s *Session) RegisterToken(ctx context.Context, token string) error {
	return s.deps.Registry.Register(ctx, s.userID, token)
}

// broadcast pushes the refreshed conversation list to connected clients.
func (s *Session) broadcast() {
	if s.isClosed() || s.deps.Hub == nil {
		return
	}
	s.deps.Hub.Send(s.userID, ws.Envelope{
		Type:    ws.TypeConversations,
		Payload: s.Conversations(),
	})
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close tears the session down. Safe to call more than once and safe to
// race with a transport error that already severed the subscriptions.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	streams := make([]*stream.Stream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			s.deps.Log.Warnw("unsubscribe failed", "user", s.userID, "error", err)
		}
	}
	for _, st := range streams {
		st.Close()
	}
	s.router.Close()
	s.msgReads.Close()
	s.noteReads.Close()
}
