package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shopchat/internal/redis"
)

// ErrNotFound is returned when no conversation is stored under an id.
var ErrNotFound = errors.New("conversation not found")

// Store persists conversations between turns.
type Store interface {
	Load(ctx context.Context, id string) (*Conversation, error)
	Save(ctx context.Context, c *Conversation) error
	Delete(ctx context.Context, id string) error
}

// RedisStore keeps each conversation as a JSON document with a sliding TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func key(id string) string {
	return "conversation:" + id
}

func (s *RedisStore) Load(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	if err := s.client.GetJSON(ctx, key(id), &c); err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	return &c, nil
}

func (s *RedisStore) Save(ctx context.Context, c *Conversation) error {
	if c == nil || c.ID == "" {
		return errors.New("conversation id is required")
	}
	if err := s.client.SetJSON(ctx, key(c.ID), c, s.ttl); err != nil {
		return fmt.Errorf("save conversation %s: %w", c.ID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, key(id)); err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	return nil
}
