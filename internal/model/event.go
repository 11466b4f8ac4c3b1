package model

import (
	"encoding/json"
	"fmt"
)

// Op tags a change-event with the row operation that produced it.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Tables the sync engine subscribes to.
const (
	TableMessages      = "messages"
	TableNotifications = "notifications"
)

// ChangeEvent is the wire envelope for a single row change pushed over the
// change feed. Payloads are validated here, at the boundary, so the core
// only ever sees well-formed tagged events.
type ChangeEvent struct {
	Op    Op              `json:"operation"`
	Table string          `json:"table"`
	Row   json.RawMessage `json:"row"`
}

// ParseChangeEvent decodes and validates an envelope from the feed.
func ParseChangeEvent(data []byte) (*ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode change event: %w", err)
	}
	switch ev.Op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return nil, fmt.Errorf("change event: unknown operation %q", ev.Op)
	}
	if ev.Table == "" {
		return nil, fmt.Errorf("change event: missing table")
	}
	if len(ev.Row) == 0 {
		return nil, fmt.Errorf("change event: missing row")
	}
	return &ev, nil
}

// MessageRow decodes the event row as a Message.
func (e *ChangeEvent) MessageRow() (Message, error) {
	var m Message
	if err := json.Unmarshal(e.Row, &m); err != nil {
		return Message{}, fmt.Errorf("decode message row: %w", err)
	}
	if m.ID == "" {
		return Message{}, fmt.Errorf("message row: missing id")
	}
	return m, nil
}

// NotificationRow decodes the event row as a Notification.
func (e *ChangeEvent) NotificationRow() (Notification, error) {
	var n Notification
	if err := json.Unmarshal(e.Row, &n); err != nil {
		return Notification{}, fmt.Errorf("decode notification row: %w", err)
	}
	if n.ID == "" {
		return Notification{}, fmt.Errorf("notification row: missing id")
	}
	return n, nil
}
