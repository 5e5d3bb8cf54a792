package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestJSONRoundTripAndMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewFromAddr(mr.Addr())
	defer client.Close()
	ctx := context.Background()

	type payload struct {
		Email string `json:"email"`
	}
	if err := client.SetJSON(ctx, "k", payload{Email: "alice@example.com"}, time.Minute); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	var got payload
	if err := client.GetJSON(ctx, "k", &got); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if got.Email != "alice@example.com" {
		t.Fatalf("unexpected payload %+v", got)
	}
	ttl, err := client.TTL(ctx, "k")
	if err != nil || ttl <= 0 {
		t.Fatalf("expected ttl, got %v err=%v", ttl, err)
	}

	if err := client.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if err := client.GetJSON(ctx, "k", &got); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}
}

func TestNilClient(t *testing.T) {
	var c *Client
	if err := c.Set(context.Background(), "k", "v", 0); err == nil {
		t.Fatalf("expected error on nil client")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close on nil client: %v", err)
	}
}
