// Package store is the data-access collaborator for the sync engine. All
// durable state lives behind it; the engine itself keeps only derived or
// in-flight state.
package store

import (
	"context"

	"github.com/fathima-sithara/sync-service/internal/model"
)

type Store interface {
	// InsertMessage persists a message and returns the stored row with the
	// server-assigned id and created_at.
	InsertMessage(ctx context.Context, m model.Message) (model.Message, error)
	UpdateMessagesRead(ctx context.Context, ids []string) error
	// ListMessages returns every message where userID is sender or receiver,
	// ordered by created_at ascending.
	ListMessages(ctx context.Context, userID string) ([]model.Message, error)

	InsertNotification(ctx context.Context, n model.Notification) (model.Notification, error)
	UpdateNotificationsRead(ctx context.Context, ids []string) error
	ListNotifications(ctx context.Context, userID string) ([]model.Notification, error)

	UpsertPushToken(ctx context.Context, userID, token string) error
	ListPushTokens(ctx context.Context, userID string) ([]model.PushToken, error)
}
