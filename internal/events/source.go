// Package events adapts the push channel into validated, tagged change
// events. Consumers subscribe per topic and get a managed handle whose
// release is idempotent.
package events

import (
	"sync"

	"github.com/fathima-sithara/sync-service/internal/model"
)

// Handler is invoked once per received change event. At-least-once
// delivery: the same event may be seen twice, and no ordering is
// guaranteed across topics or against the write that caused the event.
type Handler func(ev *model.ChangeEvent)

// Topic identifies a table scoped to one user's rows.
type Topic struct {
	Table  string
	UserID string
}

// Source is the change feed. Reconnection is owned by the implementation;
// missed events are not replayed, so consumers register a resync hook and
// re-fetch state when the feed comes back.
type Source interface {
	Subscribe(t Topic, h Handler) (*Subscription, error)
	OnReconnect(fn func())
}

// Subscription is a scoped handle on one topic subscription. Close is safe
// to call any number of times, including after the transport already
// severed the subscription.
type Subscription struct {
	once sync.Once
	stop func() error
}

func NewSubscription(stop func() error) *Subscription {
	return &Subscription{stop: stop}
}

func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		if s.stop != nil {
			err = s.stop()
		}
	})
	return err
}
