package conversation

import (
	"errors"
	"fmt"
	"time"

	"shopchat/internal/models"
	"shopchat/internal/service/identity"
)

// ErrUnpairedFunction is returned when an append would break tool call pairing.
var ErrUnpairedFunction = errors.New("function message does not answer a preceding tool call")

// Conversation is the ordered, append-only message history of one session.
type Conversation struct {
	ID        string           `json:"id"`
	Session   identity.Session `json:"session"`
	Messages  []models.Message `json:"messages"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// New starts a conversation with the system prompt rendered for the session user.
func New(id string, session identity.Session, systemPrompt string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:      id,
		Session: session,
		Messages: []models.Message{{
			Role:      models.RoleSystem,
			Content:   fmt.Sprintf(systemPrompt, session.Email),
			CreatedAt: now,
		}},
		UpdatedAt: now,
	}
}

// Append adds msg at the end. A function message must directly follow the
// assistant message whose tool call it answers, and an assistant tool call
// cannot be issued while the previous one is still unanswered.
func (c *Conversation) Append(msg models.Message) error {
	var last *models.Message
	if n := len(c.Messages); n > 0 {
		last = &c.Messages[n-1]
	}

	switch msg.Role {
	case models.RoleFunction:
		if !last.RequestsTool() {
			return fmt.Errorf("%w: %s", ErrUnpairedFunction, msg.ToolName)
		}
		if last.ToolCall.Name != msg.ToolName {
			return fmt.Errorf("%w: got %s, expected %s", ErrUnpairedFunction, msg.ToolName, last.ToolCall.Name)
		}
		if msg.ToolCallID == "" {
			msg.ToolCallID = last.ToolCall.ID
		}
	case models.RoleAssistant:
		if msg.ToolCall != nil && last.RequestsTool() {
			return fmt.Errorf("%w: tool call %s still unanswered", ErrUnpairedFunction, last.ToolCall.Name)
		}
	case models.RoleUser, models.RoleSystem:
	default:
		return fmt.Errorf("unknown role %q", msg.Role)
	}

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = msg.CreatedAt
	return nil
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.Messages)
}

// Since returns a copy of the messages appended at or after index i.
func (c *Conversation) Since(i int) []models.Message {
	if i < 0 {
		i = 0
	}
	if i >= len(c.Messages) {
		return nil
	}
	out := make([]models.Message, len(c.Messages)-i)
	copy(out, c.Messages[i:])
	return out
}
