// Package dedup remembers already handled broker messages in Redis so that
// at-least-once delivery does not apply the same event twice.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewStore(rdb redis.Cmdable, prefix string, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl, prefix: prefix}
}

// Key identifies a message by its position in the log.
func (s *Store) Key(topic string, partition int, offset int64) string {
	return fmt.Sprintf("%s:%s:%d:%d", s.prefix, topic, partition, offset)
}

// EventKey identifies a message by the producer assigned event id, which
// survives re-publishing of the same outbox row.
func (s *Store) EventKey(eventID string) string {
	return fmt.Sprintf("%s:event:%s", s.prefix, eventID)
}

// Seen marks key as handled and reports whether it already was.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, "1", s.ttl).Result()
	if err != nil {
		return false, err
	}

	return !ok, nil
}

// Forget drops key so that a message whose handling failed is retried on
// redelivery.
func (s *Store) Forget(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
