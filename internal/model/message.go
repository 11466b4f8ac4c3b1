package model

import "time"

// Message is a confirmed chat message row as stored by the backend.
// Once a message carries a server-assigned id and created_at, that pairing
// never changes; only Read may transition, and only false -> true.
type Message struct {
	ID            string    `json:"id" bson:"_id,omitempty"`
	SenderID      string    `json:"sender_id" bson:"sender_id"`
	ReceiverID    string    `json:"receiver_id" bson:"receiver_id"`
	Content       string    `json:"content" bson:"content"`
	CorrelationID string    `json:"correlation_id,omitempty" bson:"correlation_id,omitempty"`
	Read          bool      `json:"read" bson:"read"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
}

// Counterparty returns the other participant of the message relative to self.
func (m Message) Counterparty(self string) string {
	if m.SenderID == self {
		return m.ReceiverID
	}
	return m.SenderID
}
