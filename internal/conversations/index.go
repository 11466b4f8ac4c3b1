// Package conversations derives the conversation list from the message
// entries of all streams. Everything here is recomputable; nothing is
// authoritative.
package conversations

import (
	"sort"
	"time"

	"github.com/fathima-sithara/sync-service/internal/stream"
)

// Conversation is one row of the list: a counterparty plus preview state.
type Conversation struct {
	PeerID      string    `json:"peer_id"`
	LastContent string    `json:"last_content"`
	LastAt      time.Time `json:"last_at"`
	Unread      int       `json:"unread"`
	Pending     bool      `json:"pending"`
}

// Fold groups entries by counterparty and computes preview, unread count
// and pending flag in one O(n) pass. Entries may come from any number of
// streams; ordering inside the input does not matter.
func Fold(self string, entries []stream.Entry) []Conversation {
	byPeer := map[string]*Conversation{}

	for _, e := range entries {
		m := e.Message
		peer := m.Counterparty(self)
		c, ok := byPeer[peer]
		if !ok {
			c = &Conversation{PeerID: peer}
			byPeer[peer] = c
		}
		if at := entryTime(e); !at.Before(c.LastAt) {
			c.LastAt = at
			c.LastContent = m.Content
		}
		if m.ReceiverID == self && m.SenderID == peer && !m.Read {
			c.Unread++
		}
		if e.Status == stream.StatusPending || e.Status == stream.StatusFailed {
			c.Pending = true
		}
	}

	out := make([]Conversation, 0, len(byPeer))
	for _, c := range byPeer {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastAt.Equal(out[j].LastAt) {
			return out[i].LastAt.After(out[j].LastAt)
		}
		return out[i].PeerID < out[j].PeerID
	})
	return out
}

func entryTime(e stream.Entry) time.Time {
	if e.Status == stream.StatusConfirmed {
		return e.Message.CreatedAt
	}
	return e.EnqueuedAt
}
