package worker

import (
	"context"
	"encoding/json"
	"log"

	"shopchat/internal/redis"
)

const redisInvalidateChannel = "shopchat:invalidate"

type invalidateMessage struct {
	Key string `json:"key"`
}

// Invalidator broadcasts ended sessions to every instance so that their
// queued turns are dropped everywhere.
type Invalidator struct {
	client *redis.Client
}

func NewInvalidator(client *redis.Client) *Invalidator {
	return &Invalidator{client: client}
}

// Listen cancels queued jobs on d whenever a key is invalidated. It returns
// once the subscription is active; the listener stops when ctx ends.
func (r *Invalidator) Listen(ctx context.Context, d *Dispatcher) error {
	if r == nil || r.client == nil || d == nil {
		return nil
	}
	raw := r.client.Raw()
	if raw == nil {
		return nil
	}
	pubsub := raw.Subscribe(ctx, redisInvalidateChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var inv invalidateMessage
				if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil || inv.Key == "" {
					log.Printf("worker invalidation decode failed: %v", err)
					continue
				}
				debugLog("[invalidator] key %s invalidated", inv.Key)
				d.CancelKey(inv.Key)
			}
		}
	}()
	return nil
}

// Publish broadcasts that key has ended.
func (r *Invalidator) Publish(ctx context.Context, key string) {
	if r == nil || r.client == nil {
		return
	}
	raw := r.client.Raw()
	if raw == nil {
		return
	}
	payload, err := json.Marshal(invalidateMessage{Key: key})
	if err != nil {
		log.Printf("worker invalidation marshal failed: %v", err)
		return
	}
	if err := raw.Publish(ctx, redisInvalidateChannel, payload).Err(); err != nil {
		log.Printf("worker publish invalidation failed: %v", err)
	}
}
