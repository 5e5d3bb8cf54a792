package ai

import (
	"context"
	"errors"
	"fmt"

	"shopchat/internal/models"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Completion is one model answer: either text, tool calls, or both.
type Completion struct {
	Content   string
	ToolCalls []models.ToolCall
}

// Client issues a single chat completion over a conversation.
// A nil tools slice means the model must answer in natural language.
type Client interface {
	Complete(ctx context.Context, messages []models.Message, tools []*schema.ToolInfo) (*Completion, error)
}

// ChatClient adapts an eino tool calling chat model.
type ChatClient struct {
	model model.ToolCallingChatModel
}

func NewChatClient(chatModel model.ToolCallingChatModel) *ChatClient {
	return &ChatClient{model: chatModel}
}

func (c *ChatClient) Complete(ctx context.Context, messages []models.Message, tools []*schema.ToolInfo) (*Completion, error) {
	if c == nil || c.model == nil {
		return nil, errors.New("chat model not configured")
	}
	chatModel := c.model
	if len(tools) > 0 {
		withTools, err := c.model.WithTools(tools)
		if err != nil {
			return nil, fmt.Errorf("bind tools: %w", err)
		}
		chatModel = withTools
	}

	resp, err := chatModel.Generate(ctx, ToSchema(messages))
	if err != nil {
		return nil, fmt.Errorf("generate completion: %w", err)
	}
	if resp == nil {
		return nil, errors.New("generate completion: empty response")
	}

	out := &Completion{Content: resp.Content}
	for _, tc := range resp.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

// ToSchema converts conversation messages into eino messages. An assistant
// tool call that was never answered is sent without the call, since providers
// reject unanswered calls; it is dropped entirely when it has no text.
func ToSchema(messages []models.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			out = append(out, &schema.Message{Role: schema.System, Content: msg.Content})
		case models.RoleUser:
			out = append(out, &schema.Message{Role: schema.User, Content: msg.Content})
		case models.RoleAssistant:
			m := &schema.Message{Role: schema.Assistant, Content: msg.Content}
			if msg.ToolCall != nil && answered(messages, i) {
				m.ToolCalls = []schema.ToolCall{{
					ID:   msg.ToolCall.ID,
					Type: "function",
					Function: schema.FunctionCall{
						Name:      msg.ToolCall.Name,
						Arguments: msg.ToolCall.Arguments,
					},
				}}
			}
			if m.Content == "" && len(m.ToolCalls) == 0 {
				continue
			}
			out = append(out, m)
		case models.RoleFunction:
			out = append(out, &schema.Message{
				Role:       schema.Tool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
				ToolName:   msg.ToolName,
			})
		}
	}
	return out
}

func answered(messages []models.Message, i int) bool {
	if i+1 >= len(messages) {
		return false
	}
	next := messages[i+1]
	return next.Role == models.RoleFunction && next.ToolName == messages[i].ToolCall.Name
}
