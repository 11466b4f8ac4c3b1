package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fathima-sithara/sync-service/internal/metrics"
	"github.com/fathima-sithara/sync-service/internal/model"
)

const (
	subjectPrefix    = "changes"
	reconnectWaitMin = 500 * time.Millisecond
	reconnectWaitMax = 30 * time.Second
)

// NATSSource delivers change events from per-table NATS subjects. Core NATS
// gives exactly the channel contract we need: at-least-once per event, no
// cross-subject ordering, no replay of anything missed while disconnected.
type NATSSource struct {
	conn *nats.Conn
	log  *zap.SugaredLogger

	mu     sync.Mutex
	onBack []func()
}

func NewNATSSource(url string, log *zap.SugaredLogger) (*NATSSource, error) {
	s := &NATSSource{log: log}

	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.CustomReconnectDelay(reconnectDelay),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warnw("change feed disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			metrics.Reconnects.Inc()
			log.Infow("change feed reconnected")
			s.fireReconnect()
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect change feed: %w", err)
	}
	s.conn = conn
	return s, nil
}

// reconnectDelay doubles from reconnectWaitMin up to reconnectWaitMax.
func reconnectDelay(attempts int) time.Duration {
	d := reconnectWaitMin
	for i := 0; i < attempts && d < reconnectWaitMax; i++ {
		d *= 2
	}
	if d > reconnectWaitMax {
		d = reconnectWaitMax
	}
	return d
}

func (s *NATSSource) Subscribe(t Topic, h Handler) (*Subscription, error) {
	subject := fmt.Sprintf("%s.%s.%s", subjectPrefix, t.Table, t.UserID)
	sub, err := s.conn.Subscribe(subject, func(m *nats.Msg) {
		ev, err := model.ParseChangeEvent(m.Data)
		if err != nil {
			metrics.InvalidEvents.Inc()
			s.log.Warnw("dropping malformed change event", "subject", subject, "error", err)
			return
		}
		metrics.EventsConsumed.WithLabelValues(ev.Table).Inc()
		h(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return NewSubscription(func() error {
		if !sub.IsValid() {
			return nil
		}
		return sub.Unsubscribe()
	}), nil
}

func (s *NATSSource) OnReconnect(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onBack = append(s.onBack, fn)
}

func (s *NATSSource) fireReconnect() {
	s.mu.Lock()
	hooks := make([]func(), len(s.onBack))
	copy(hooks, s.onBack)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (s *NATSSource) Close() {
	s.conn.Close()
}
