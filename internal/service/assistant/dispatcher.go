package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"

	"shopchat/internal/conversation"
	"shopchat/internal/format"
	"shopchat/internal/models"
	"shopchat/internal/service/ai"
	"shopchat/internal/service/identity"
	"shopchat/internal/service/shop"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
)

var (
	// ErrArgumentParse is returned when the model's tool arguments are not valid JSON.
	ErrArgumentParse = errors.New("invalid tool arguments")

	// ErrCompletion wraps failures of the language model call.
	ErrCompletion = errors.New("completion failed")

	ErrEmptyMessage = errors.New("message content cannot be empty")
)

// State is a step of a user turn.
type State string

const (
	StateIdle                    State = "idle"
	StateFirstCompletionPending  State = "first_completion_pending"
	StateNoToolRequested         State = "no_tool_requested"
	StateToolRequested           State = "tool_requested"
	StateToolExecuting           State = "tool_executing"
	StateSecondCompletionPending State = "second_completion_pending"
)

// Operations are the backend operations a tool call can reach.
type Operations interface {
	Balance(ctx context.Context, session identity.Session, requested string) (shop.ToolResult, error)
	Orders(ctx context.Context, session identity.Session, requested string) (shop.ToolResult, error)
	MakeOrder(ctx context.Context, session identity.Session, req shop.OrderRequest) (shop.ToolResult, error)
}

// ToolOutcome describes the tool call serviced during a turn.
type ToolOutcome struct {
	Call    models.ToolCall `json:"call"`
	Result  shop.ToolResult `json:"-"`
	Content string          `json:"content"`
	Text    string          `json:"text"`
}

// Turn is everything one user message produced.
type Turn struct {
	Appended []models.Message `json:"messages"`
	Tool     *ToolOutcome     `json:"tool,omitempty"`
	Reply    models.Message   `json:"-"`
	Text     string           `json:"reply"`
	States   []State          `json:"-"`
}

// Dispatcher drives the two-phase completion loop. At most one tool call is
// serviced per user turn.
type Dispatcher struct {
	client ai.Client
	ops    Operations
	tools  []*schema.ToolInfo
}

func NewDispatcher(client ai.Client, ops Operations) *Dispatcher {
	return &Dispatcher{client: client, ops: ops, tools: ai.ShopTools()}
}

type turnRun struct {
	conv  *conversation.Conversation
	start int
	turn  *Turn
}

func (r *turnRun) enter(s State) {
	r.turn.States = append(r.turn.States, s)
	debugLog("[dispatcher] conversation=%s state=%s", r.conv.ID, s)
}

func (r *turnRun) append(msg models.Message) error {
	if err := r.conv.Append(msg); err != nil {
		return err
	}
	r.turn.Appended = r.conv.Since(r.start)
	return nil
}

// HandleTurn appends content as a user message and runs it to the final
// assistant answer. On error the conversation keeps what was appended so far.
func (d *Dispatcher) HandleTurn(ctx context.Context, conv *conversation.Conversation, content string) (*Turn, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	run := &turnRun{conv: conv, start: conv.Len(), turn: &Turn{}}
	run.enter(StateIdle)

	if err := run.append(models.Message{Role: models.RoleUser, Content: content}); err != nil {
		return nil, err
	}

	run.enter(StateFirstCompletionPending)
	first, err := d.client.Complete(ctx, conv.Messages, d.tools)
	if err != nil {
		return run.turn, fmt.Errorf("%w: %w", ErrCompletion, err)
	}

	if len(first.ToolCalls) == 0 {
		run.enter(StateNoToolRequested)
		if err := d.finish(run, first.Content); err != nil {
			return run.turn, err
		}
		return run.turn, nil
	}

	run.enter(StateToolRequested)
	call := first.ToolCalls[0]
	if len(first.ToolCalls) > 1 {
		log.Printf("assistant: conversation=%s model requested %d tool calls, servicing %s only", conv.ID, len(first.ToolCalls), call.Name)
	}
	if call.ID == "" {
		call.ID = "call_" + uuid.NewString()
	}
	args, err := parseArgs(call)
	if err != nil {
		return run.turn, err
	}
	if err := run.append(models.Message{Role: models.RoleAssistant, Content: first.Content, ToolCall: &call}); err != nil {
		return run.turn, err
	}

	run.enter(StateToolExecuting)
	log.Printf("assistant: conversation=%s tool=%s rls=%t", conv.ID, call.Name, conv.Session.RLSEnabled)
	result, err := d.execute(ctx, conv.Session, call.Name, args)
	if err != nil {
		log.Printf("assistant: conversation=%s tool=%s failed: %v", conv.ID, call.Name, err)
		return run.turn, err
	}
	encoded, err := shop.Encode(result)
	if err != nil {
		return run.turn, err
	}
	if err := run.append(models.Message{
		Role:       models.RoleFunction,
		ToolName:   call.Name,
		ToolCallID: call.ID,
		Content:    encoded,
	}); err != nil {
		return run.turn, err
	}
	run.turn.Tool = &ToolOutcome{Call: call, Result: result, Content: encoded, Text: format.Result(result)}

	run.enter(StateSecondCompletionPending)
	second, err := d.client.Complete(ctx, conv.Messages, nil)
	if err != nil {
		return run.turn, fmt.Errorf("%w: %w", ErrCompletion, err)
	}
	if len(second.ToolCalls) > 0 {
		log.Printf("assistant: conversation=%s dropped %d tool call(s) from the final answer", conv.ID, len(second.ToolCalls))
	}
	if err := d.finish(run, second.Content); err != nil {
		return run.turn, err
	}
	return run.turn, nil
}

func (d *Dispatcher) finish(run *turnRun, content string) error {
	reply := models.Message{Role: models.RoleAssistant, Content: content}
	if err := run.append(reply); err != nil {
		return err
	}
	run.turn.Reply = run.conv.Messages[run.conv.Len()-1]
	run.turn.Text = format.Content(content)
	run.enter(StateIdle)
	return nil
}

// toolArgs holds the decoded arguments of a call. invalid is set when the
// JSON was well formed but a field had the wrong type.
type toolArgs struct {
	Email    string
	Item     string
	Quantity json.Number
	Price    json.Number
	invalid  *shop.Error
}

// parseArgs fails only on text that is not a JSON object.
func parseArgs(call models.ToolCall) (toolArgs, error) {
	var args toolArgs
	raw := strings.TrimSpace(call.Arguments)
	if raw == "" {
		return args, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return args, fmt.Errorf("%w: %s: %w", ErrArgumentParse, call.Name, err)
	}

	decode := func(name string, dst any, message string) {
		v, ok := fields[name]
		if !ok || args.invalid != nil || string(v) == "null" {
			return
		}
		if err := json.Unmarshal(v, dst); err != nil {
			args.invalid = &shop.Error{Message: message}
		}
	}
	decode("email", &args.Email, "email must be a string")
	decode("item", &args.Item, "item must be a string")
	decode("quantity", &args.Quantity, "quantity must be a positive integer")
	decode("price", &args.Price, "price must be a number")
	return args, nil
}

// execute dispatches a parsed call. Failures the model can explain come back
// as shop.Error data; only store faults are returned as errors.
func (d *Dispatcher) execute(ctx context.Context, session identity.Session, name string, args toolArgs) (shop.ToolResult, error) {
	switch name {
	case ai.ToolViewBalance, ai.ToolViewOrders, ai.ToolMakeOrder:
	default:
		return shop.Error{Message: "Unknown function: " + name}, nil
	}
	if args.invalid != nil {
		return *args.invalid, nil
	}

	var (
		result shop.ToolResult
		err    error
	)
	switch name {
	case ai.ToolViewBalance:
		result, err = d.ops.Balance(ctx, session, args.Email)
	case ai.ToolViewOrders:
		result, err = d.ops.Orders(ctx, session, args.Email)
	case ai.ToolMakeOrder:
		req, invalid := orderRequest(args)
		if invalid != nil {
			return *invalid, nil
		}
		result, err = d.ops.MakeOrder(ctx, session, req)
	}
	if errors.Is(err, identity.ErrIdentityRequired) {
		return shop.Error{Message: err.Error()}, nil
	}
	return result, err
}

func orderRequest(args toolArgs) (shop.OrderRequest, *shop.Error) {
	req := shop.OrderRequest{Item: args.Item, Email: args.Email}

	if args.Quantity == "" {
		return req, &shop.Error{Message: "quantity is required"}
	}
	q, err := args.Quantity.Int64()
	if err != nil {
		f, ferr := args.Quantity.Float64()
		if ferr != nil || f != math.Trunc(f) || math.Abs(f) >= math.MaxInt64 {
			return req, &shop.Error{Message: "quantity must be a positive integer"}
		}
		q = int64(f)
	}
	req.Quantity = q

	if args.Price == "" {
		return req, &shop.Error{Message: "price is required"}
	}
	p, err := args.Price.Float64()
	if err != nil || math.IsNaN(p) || math.IsInf(p, 0) {
		return req, &shop.Error{Message: "price must be a number"}
	}
	if p < 0 {
		// saturated; validation reports the sign
		req.Price = models.FromFloat(p)
		return req, nil
	}
	price, err := models.ParseFloat(p)
	if err != nil {
		return req, &shop.Error{Message: "price is too large"}
	}
	req.Price = price
	return req, nil
}
