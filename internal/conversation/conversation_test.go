package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"shopchat/internal/config"
	"shopchat/internal/models"
	"shopchat/internal/redis"
	"shopchat/internal/service/identity"

	"github.com/alicebob/miniredis/v2"
)

var alice = identity.Session{Email: "alice@example.com"}

func TestNewRendersSystemPrompt(t *testing.T) {
	c := New("c1", alice, config.DefaultSystemPrompt)
	if c.Len() != 1 || c.Messages[0].Role != models.RoleSystem {
		t.Fatalf("expected a single system message, got %#v", c.Messages)
	}
	if !strings.Contains(c.Messages[0].Content, "The current user is alice@example.com.") {
		t.Fatalf("system prompt does not name the user: %q", c.Messages[0].Content)
	}
}

func TestAppendPairing(t *testing.T) {
	c := New("c1", alice, config.DefaultSystemPrompt)

	if err := c.Append(models.Message{Role: models.RoleFunction, ToolName: "view_balance", Content: "{}"}); !errors.Is(err, ErrUnpairedFunction) {
		t.Fatalf("expected ErrUnpairedFunction, got %v", err)
	}
	if err := c.Append(models.Message{Role: models.RoleUser, Content: "balance?"}); err != nil {
		t.Fatalf("append user: %v", err)
	}
	call := &models.ToolCall{ID: "call_1", Name: "view_balance", Arguments: "{}"}
	if err := c.Append(models.Message{Role: models.RoleAssistant, ToolCall: call}); err != nil {
		t.Fatalf("append tool call: %v", err)
	}
	if err := c.Append(models.Message{Role: models.RoleAssistant, ToolCall: call}); !errors.Is(err, ErrUnpairedFunction) {
		t.Fatalf("expected second unanswered tool call to fail, got %v", err)
	}
	if err := c.Append(models.Message{Role: models.RoleFunction, ToolName: "view_orders", Content: "{}"}); !errors.Is(err, ErrUnpairedFunction) {
		t.Fatalf("expected name mismatch to fail, got %v", err)
	}
	if err := c.Append(models.Message{Role: models.RoleFunction, ToolName: "view_balance", Content: `{"balance":1.00}`}); err != nil {
		t.Fatalf("append function: %v", err)
	}
	if got := c.Messages[c.Len()-1].ToolCallID; got != "call_1" {
		t.Fatalf("function message must inherit the call id, got %q", got)
	}
	if err := c.Append(models.Message{Role: models.RoleFunction, ToolName: "view_balance", Content: "{}"}); !errors.Is(err, ErrUnpairedFunction) {
		t.Fatalf("expected a second answer to fail, got %v", err)
	}
	if err := c.Append(models.Message{Role: "robot"}); err == nil {
		t.Fatalf("expected unknown role error")
	}
	if c.Len() != 4 {
		t.Fatalf("rejected appends must not change the history, len=%d", c.Len())
	}
	if got := c.Since(2); len(got) != 2 || got[0].Role != models.RoleAssistant {
		t.Fatalf("unexpected Since result %#v", got)
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewFromAddr(mr.Addr())
	defer client.Close()
	store := NewRedisStore(client, time.Hour)
	ctx := context.Background()

	if _, err := store.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	c := New("sid-1", identity.Session{Email: "bob@example.com", RLSEnabled: true}, config.DefaultSystemPrompt)
	if err := c.Append(models.Message{Role: models.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Save(ctx, c); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ttl := mr.TTL("conversation:sid-1"); ttl != time.Hour {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	loaded, err := store.Load(ctx, "sid-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Len() != 2 || !loaded.Session.RLSEnabled || loaded.Messages[1].Content != "hi" {
		t.Fatalf("unexpected loaded conversation %#v", loaded)
	}

	if err := store.Delete(ctx, "sid-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Load(ctx, "sid-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
