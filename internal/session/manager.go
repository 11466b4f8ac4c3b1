package session

import (
	"context"
	"sync"
	"time"
)

const reapInterval = time.Minute

// Manager holds the live sessions, resyncs all of them when the change
// feed comes back after a gap, and reaps sessions nobody has touched
// for a while so their subscriptions and streams do not pile up.
type Manager struct {
	deps Deps
	ttl  time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	touched  map[string]time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

func NewManager(deps Deps) *Manager {
	ttl := deps.Sync.SessionTTL()
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	m := &Manager{
		deps:     deps,
		ttl:      ttl,
		sessions: make(map[string]*Session),
		touched:  make(map[string]time.Time),
		stop:     make(chan struct{}),
	}
	if deps.Source != nil {
		deps.Source.OnReconnect(m.resyncAll)
	}
	go m.reap()
	return m
}

// Get returns the live session for userID, or nil.
func (m *Manager) Get(userID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[userID]
	if s != nil {
		m.touched[userID] = time.Now()
	}
	return s
}

// GetOrCreate returns the live session for userID, starting one if needed.
func (m *Manager) GetOrCreate(ctx context.Context, userID string) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[userID]; ok {
		m.touched[userID] = time.Now()
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	s := newSession(userID, m.deps)
	if err := s.start(ctx); err != nil {
		s.Close()
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched[userID] = time.Now()
	if existing, ok := m.sessions[userID]; ok {
		// lost the race; keep the one that won
		go s.Close()
		return existing, nil
	}
	m.sessions[userID] = s
	return s, nil
}

// Close ends one user's session.
func (m *Manager) Close(userID string) {
	m.mu.Lock()
	s := m.sessions[userID]
	delete(m.sessions, userID)
	delete(m.touched, userID)
	m.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

// CloseAll ends every session and stops the reaper, for shutdown.
func (m *Manager) CloseAll() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.touched = make(map[string]time.Time)
	m.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}

func (m *Manager) reap() {
	t := time.NewTicker(reapInterval)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case now := <-t.C:
			m.closeIdle(now)
		}
	}
}

// closeIdle ends sessions untouched for longer than the TTL. A user with
// a live websocket is never idle; their deadline is pushed forward instead.
func (m *Manager) closeIdle(now time.Time) {
	m.mu.Lock()
	var idle []*Session
	for userID, s := range m.sessions {
		if m.deps.Hub != nil && m.deps.Hub.Connected(userID) {
			m.touched[userID] = now
			continue
		}
		if now.Sub(m.touched[userID]) < m.ttl {
			continue
		}
		idle = append(idle, s)
		delete(m.sessions, userID)
		delete(m.touched, userID)
	}
	m.mu.Unlock()

	for _, s := range idle {
		m.deps.Log.Infow("reaping idle session", "user", s.userID)
		s.Close()
	}
}

func (m *Manager) resyncAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()
	for _, s := range all {
		go func(s *Session) { _ = s.Resync(context.Background()) }(s)
	}
}
