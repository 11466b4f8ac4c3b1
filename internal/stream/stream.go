// Package stream owns the optimistic/confirmed merge state for a single
// conversation. All mutation goes through Stream methods; everything else
// sees copies.
package stream

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/sync-service/internal/metrics"
	"github.com/fathima-sithara/sync-service/internal/model"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Entry is one visible message in the conversation: either a confirmed row
// or a local shadow waiting for its server echo.
type Entry struct {
	Message    model.Message `json:"message"`
	Status     Status        `json:"status"`
	LocalID    string        `json:"local_id,omitempty"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
}

func (e Entry) effectiveTime() time.Time {
	if e.Status == StatusConfirmed {
		return e.Message.CreatedAt
	}
	return e.EnqueuedAt
}

func (e Entry) sortID() string {
	if e.Status == StatusConfirmed {
		return e.Message.ID
	}
	return e.LocalID
}

// Writer is the slice of the data-access collaborator a stream needs.
type Writer interface {
	InsertMessage(ctx context.Context, m model.Message) (model.Message, error)
}

// ReadSink receives ids whose read flag flipped locally and owes them a
// batched remote update.
type ReadSink interface {
	MarkRead(ids ...string)
}

type Config struct {
	Self      string
	Peer      string
	Writer    Writer
	Reads     ReadSink
	OnChange  func()
	Log       *zap.SugaredLogger
	Now       func() time.Time
	OrphanTTL time.Duration
	OrphanCap int
}

const writeTimeout = 10 * time.Second

// Stream keeps the ordered entry sequence for one conversation and
// reconciles local sends against the change feed.
type Stream struct {
	mu      sync.Mutex
	cfg     Config
	entries []Entry
	// read updates that arrived before their insert, id -> held-since
	orphans map[string]time.Time
	closed  bool
}

func New(cfg Config) *Stream {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.OrphanTTL == 0 {
		cfg.OrphanTTL = 5 * time.Minute
	}
	if cfg.OrphanCap == 0 {
		cfg.OrphanCap = 256
	}
	return &Stream{cfg: cfg, orphans: make(map[string]time.Time)}
}

// Send appends a pending entry and issues the remote write in the
// background. It never blocks on I/O.
func (s *Stream) Send(content string) Entry {
	now := s.cfg.Now()
	e := Entry{
		Message: model.Message{
			SenderID:      s.cfg.Self,
			ReceiverID:    s.cfg.Peer,
			Content:       content,
			CorrelationID: uuid.NewString(),
			CreatedAt:     now,
		},
		Status:     StatusPending,
		LocalID:    "local-" + uuid.NewString(),
		EnqueuedAt: now,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return e
	}
	s.entries = append(s.entries, e)
	s.sortLocked()
	s.mu.Unlock()
	s.notify()

	go s.write(e)
	return e
}

// Retry re-issues the write for a failed entry.
func (s *Stream) Retry(localID string) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	var retry *Entry
	for i := range s.entries {
		if s.entries[i].LocalID == localID && s.entries[i].Status == StatusFailed {
			s.entries[i].Status = StatusPending
			e := s.entries[i]
			retry = &e
			break
		}
	}
	s.mu.Unlock()
	if retry == nil {
		return false
	}
	s.notify()
	go s.write(*retry)
	return true
}

func (s *Stream) write(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	saved, err := s.cfg.Writer.InsertMessage(ctx, e.Message)

	s.mu.Lock()
	if s.closed {
		// the conversation view is gone; nothing to reconcile into
		s.mu.Unlock()
		return
	}
	idx := s.findLocalLocked(e.LocalID)
	if idx < 0 || s.entries[idx].Status == StatusConfirmed {
		// the feed echo already promoted this entry
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.entries[idx].Status = StatusFailed
		s.mu.Unlock()
		s.cfg.Log.Warnw("message send failed", "peer", s.cfg.Peer, "error", err)
		s.notify()
		return
	}
	read := s.entries[idx].Message.Read
	s.entries[idx].Status = StatusConfirmed
	s.entries[idx].Message = saved
	s.entries[idx].Message.Read = s.entries[idx].Message.Read || read
	s.applyOrphanLocked(idx)
	s.sortLocked()
	s.mu.Unlock()
	s.notify()
}

// Ingest applies a change-feed event for this conversation.
func (s *Stream) Ingest(op model.Op, m model.Message) {
	switch op {
	case model.OpInsert:
		s.ingestInsert(m)
	case model.OpUpdate:
		s.ingestUpdate(m)
	default:
		// deletes never happen for messages; ignore
	}
}

func (s *Stream) ingestInsert(m model.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	// already confirmed under this id: duplicate delivery
	for i := range s.entries {
		if s.entries[i].Status == StatusConfirmed && s.entries[i].Message.ID == m.ID {
			if m.Read {
				s.entries[i].Message.Read = true
			}
			s.mu.Unlock()
			metrics.DuplicateDrops.WithLabelValues("message").Inc()
			s.notify()
			return
		}
	}

	if idx := s.matchPendingLocked(m); idx >= 0 {
		read := s.entries[idx].Message.Read
		s.entries[idx].Status = StatusConfirmed
		s.entries[idx].Message = m
		s.entries[idx].Message.Read = m.Read || read
		s.applyOrphanLocked(idx)
		s.sortLocked()
		s.mu.Unlock()
		s.notify()
		return
	}

	s.entries = append(s.entries, Entry{Message: m, Status: StatusConfirmed})
	s.applyOrphanLocked(len(s.entries) - 1)
	s.sortLocked()
	s.mu.Unlock()
	s.notify()
}

// matchPendingLocked finds the entry a confirmed row reconciles into:
// exact correlation-id match first, otherwise the first unreconciled
// pending entry with the same (sender, receiver, content) in enqueue order.
func (s *Stream) matchPendingLocked(m model.Message) int {
	if m.CorrelationID != "" {
		for i := range s.entries {
			if s.entries[i].Status != StatusConfirmed &&
				s.entries[i].Message.CorrelationID == m.CorrelationID {
				return i
			}
		}
	}
	best := -1
	for i := range s.entries {
		e := &s.entries[i]
		if e.Status == StatusConfirmed {
			continue
		}
		if e.Message.SenderID != m.SenderID ||
			e.Message.ReceiverID != m.ReceiverID ||
			e.Message.Content != m.Content {
			continue
		}
		if best < 0 || e.EnqueuedAt.Before(s.entries[best].EnqueuedAt) {
			best = i
		}
	}
	return best
}

func (s *Stream) ingestUpdate(m model.Message) {
	if !m.Read {
		// read is the only mutable field and it only moves false -> true
		return
	}
	if s.ApplyRead(m.ID) {
		return
	}
	// insert not seen yet (feed gap); hold the update for a while
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.sweepOrphansLocked()
	if len(s.orphans) < s.cfg.OrphanCap {
		s.orphans[m.ID] = s.cfg.Now()
		metrics.OrphanUpdates.Set(float64(len(s.orphans)))
	}
	s.mu.Unlock()
}

// ApplyRead flips read for id if the row is visible here. Reports whether
// the id was found, so callers can route an update that carries no peer
// information.
func (s *Stream) ApplyRead(id string) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	for i := range s.entries {
		if s.entries[i].Message.ID == id {
			s.entries[i].Message.Read = true
			s.mu.Unlock()
			s.notify()
			return true
		}
	}
	s.mu.Unlock()
	return false
}

func (s *Stream) applyOrphanLocked(idx int) {
	id := s.entries[idx].Message.ID
	if _, ok := s.orphans[id]; ok {
		s.entries[idx].Message.Read = true
		delete(s.orphans, id)
		metrics.OrphanUpdates.Set(float64(len(s.orphans)))
	}
}

func (s *Stream) sweepOrphansLocked() {
	cutoff := s.cfg.Now().Add(-s.cfg.OrphanTTL)
	for id, held := range s.orphans {
		if held.Before(cutoff) {
			delete(s.orphans, id)
		}
	}
	metrics.OrphanUpdates.Set(float64(len(s.orphans)))
}

// MarkRead flips read locally for the given ids and hands the transition
// to the batched read sink. Local state is not rolled back if the remote
// write later fails; un-reading a seen message is worse than a rare
// missed persist.
func (s *Stream) MarkRead(ids ...string) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	flipped := make([]string, 0, len(ids))
	for i := range s.entries {
		e := &s.entries[i]
		if !want[e.Message.ID] || e.Message.Read || e.Message.ReceiverID != s.cfg.Self {
			continue
		}
		e.Message.Read = true
		flipped = append(flipped, e.Message.ID)
	}
	s.mu.Unlock()

	if len(flipped) == 0 {
		return
	}
	if s.cfg.Reads != nil {
		s.cfg.Reads.MarkRead(flipped...)
	}
	s.notify()
}

// Resync replaces confirmed state with a fresh fetch after a feed gap.
// Unreconciled pending and failed entries survive unless the fetch shows
// their write actually landed.
func (s *Stream) Resync(msgs []model.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	prevRead := make(map[string]bool)
	prevIDs := make(map[string]bool)
	for _, e := range s.entries {
		if e.Status == StatusConfirmed {
			prevIDs[e.Message.ID] = true
			if e.Message.Read {
				prevRead[e.Message.ID] = true
			}
		}
	}

	next := make([]Entry, 0, len(msgs))
	claimed := make(map[int]bool)
	for _, m := range msgs {
		if prevRead[m.ID] {
			m.Read = true
		}
		next = append(next, Entry{Message: m, Status: StatusConfirmed})
	}

	for _, e := range s.entries {
		if e.Status == StatusConfirmed {
			continue
		}
		if i := matchFetched(msgs, prevIDs, claimed, e.Message); i >= 0 {
			claimed[i] = true
			continue // landed during the gap; confirmed copy is in next
		}
		next = append(next, e)
	}

	s.entries = next
	for i := range s.entries {
		s.applyOrphanLocked(i)
	}
	s.sortLocked()
	s.mu.Unlock()
	s.notify()
}

// matchFetched pairs a local pending entry against rows that are new since
// the last known confirmed set. Each row absorbs at most one entry.
func matchFetched(msgs []model.Message, prevIDs map[string]bool, claimed map[int]bool, m model.Message) int {
	for i, row := range msgs {
		if claimed[i] || prevIDs[row.ID] {
			continue
		}
		if m.CorrelationID != "" && row.CorrelationID == m.CorrelationID {
			return i
		}
		if row.SenderID == m.SenderID && row.ReceiverID == m.ReceiverID && row.Content == m.Content {
			return i
		}
	}
	return -1
}

// Snapshot returns a copy of the visible entries in display order.
func (s *Stream) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Stream) Peer() string { return s.cfg.Peer }

// Close retires the stream. Late write callbacks and feed events become
// no-ops.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Stream) findLocalLocked(localID string) int {
	for i := range s.entries {
		if s.entries[i].LocalID == localID {
			return i
		}
	}
	return -1
}

// Order: effective creation time ascending; at equal times confirmed
// entries come before pending ones; final tie broken by id string.
func (s *Stream) sortLocked() {
	sort.SliceStable(s.entries, func(i, j int) bool {
		a, b := s.entries[i], s.entries[j]
		ta, tb := a.effectiveTime(), b.effectiveTime()
		if !ta.Equal(tb) {
			return ta.Before(tb)
		}
		ac, bc := a.Status == StatusConfirmed, b.Status == StatusConfirmed
		if ac != bc {
			return ac
		}
		return a.sortID() < b.sortID()
	})
}

func (s *Stream) notify() {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange()
	}
}
