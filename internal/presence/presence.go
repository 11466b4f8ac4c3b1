// Package presence records which users currently hold a live websocket
// connection, in Redis so other instances can see it.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const ttl = 90 * time.Second

type Store struct {
	client *redis.Client
	prefix string
}

func NewStore(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(userID string) string {
	return fmt.Sprintf("%s:presence:%s", s.prefix, userID)
}

// Online marks the user connected. Call again periodically to refresh.
func (s *Store) Online(ctx context.Context, userID string) error {
	return s.client.Set(ctx, s.key(userID), time.Now().Unix(), ttl).Err()
}

func (s *Store) Offline(ctx context.Context, userID string) error {
	return s.client.Del(ctx, s.key(userID)).Err()
}

func (s *Store) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
