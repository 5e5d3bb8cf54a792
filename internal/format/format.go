// Package format turns assistant and tool output into display text.
package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"shopchat/internal/models"
	"shopchat/internal/service/shop"
)

// Reply is decoded message content. It is one of Text, OrderTable,
// BalanceLine, Confirmation or Passthrough.
type Reply interface {
	isReply()
}

// Text is echoed as is.
type Text struct {
	Value string
}

type OrderRow struct {
	ID        string
	Item      string
	Quantity  string
	Price     float64
	CreatedAt string
}

type OrderTable struct {
	Rows []OrderRow
}

type BalanceLine struct {
	Amount float64
}

type Confirmation struct {
	OrderID    string
	HasTotals  bool
	TotalCost  float64
	NewBalance float64
}

// Passthrough is content that is not a recognised JSON object.
type Passthrough struct {
	Content string
}

func (Text) isReply()         {}
func (OrderTable) isReply()   {}
func (BalanceLine) isReply()  {}
func (Confirmation) isReply() {}
func (Passthrough) isReply()  {}

const orderTableHeader = "| ID | Item | Quantity | Price | Created At |\n|---|---|---|---|---|\n"

// Decode classifies content. The first key present wins, in the order
// response, orders, balance, order_id, message.
func Decode(content string) Reply {
	fallback := Passthrough{Content: content}

	dec := json.NewDecoder(strings.NewReader(content))
	dec.UseNumber()
	var obj map[string]json.RawMessage
	if err := dec.Decode(&obj); err != nil || obj == nil || dec.More() {
		return fallback
	}

	if raw, ok := obj["response"]; ok {
		return Text{Value: text(raw)}
	}
	if raw, ok := obj["orders"]; ok {
		table, err := decodeOrders(raw)
		if err != nil {
			return fallback
		}
		return table
	}
	if raw, ok := obj["balance"]; ok {
		amount, err := number(raw)
		if err != nil {
			return fallback
		}
		return BalanceLine{Amount: amount}
	}
	if raw, ok := obj["order_id"]; ok {
		c := Confirmation{OrderID: text(raw)}
		costRaw, hasCost := obj["total_cost"]
		balRaw, hasBal := obj["new_balance"]
		if hasCost && hasBal {
			cost, err1 := number(costRaw)
			bal, err2 := number(balRaw)
			if err1 != nil || err2 != nil {
				return fallback
			}
			c.HasTotals, c.TotalCost, c.NewBalance = true, cost, bal
		}
		return c
	}
	if raw, ok := obj["message"]; ok {
		return Text{Value: text(raw)}
	}
	return fallback
}

func decodeOrders(raw json.RawMessage) (OrderTable, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var items []map[string]json.RawMessage
	if err := dec.Decode(&items); err != nil {
		return OrderTable{}, err
	}
	table := OrderTable{Rows: make([]OrderRow, 0, len(items))}
	for _, o := range items {
		price, err := number(o["price"])
		if err != nil {
			return OrderTable{}, fmt.Errorf("order price: %w", err)
		}
		table.Rows = append(table.Rows, OrderRow{
			ID:        text(o["id"]),
			Item:      text(o["item"]),
			Quantity:  text(o["quantity"]),
			Price:     price,
			CreatedAt: text(o["created_at"]),
		})
	}
	return table, nil
}

// text returns a JSON string's value, or the raw JSON of any other value.
func text(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func number(raw json.RawMessage) (float64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	return n.Float64()
}

// Render turns a decoded reply into display text.
func Render(r Reply) string {
	switch v := r.(type) {
	case Text:
		return v.Value
	case OrderTable:
		rows := make([]string, 0, len(v.Rows))
		for _, o := range v.Rows {
			rows = append(rows, fmt.Sprintf("| %s | %s | %s | $%.2f | %s |", o.ID, o.Item, o.Quantity, o.Price, o.CreatedAt))
		}
		return orderTableHeader + strings.Join(rows, "\n")
	case BalanceLine:
		return fmt.Sprintf("Your current balance is $%.2f.", v.Amount)
	case Confirmation:
		msg := "Your order has been created! Order ID: " + v.OrderID
		if v.HasTotals {
			msg += fmt.Sprintf("\nTotal cost: $%.2f", v.TotalCost)
			msg += fmt.Sprintf("\nRemaining balance: $%.2f", v.NewBalance)
		}
		return msg
	case Passthrough:
		return v.Content
	default:
		return ""
	}
}

// Content decodes and renders message content in one step.
func Content(content string) string {
	return Render(Decode(content))
}

// Result renders a tool result without going through JSON.
func Result(r shop.ToolResult) string {
	switch v := r.(type) {
	case shop.Balance:
		return Render(BalanceLine{Amount: v.Amount.Float()})
	case shop.OrderList:
		table := OrderTable{Rows: make([]OrderRow, 0, len(v.Orders))}
		for _, o := range v.Orders {
			table.Rows = append(table.Rows, OrderRow{
				ID:        fmt.Sprint(o.ID),
				Item:      o.Item,
				Quantity:  fmt.Sprint(o.Quantity),
				Price:     o.Price.Float(),
				CreatedAt: o.CreatedAt,
			})
		}
		return Render(table)
	case shop.OrderConfirmation:
		return Render(Confirmation{
			OrderID:    fmt.Sprint(v.OrderID),
			HasTotals:  true,
			TotalCost:  v.TotalCost.Float(),
			NewBalance: v.NewBalance.Float(),
		})
	case shop.Error:
		return v.Message
	default:
		return ""
	}
}

// Line is one rendered entry of a conversation transcript.
type Line struct {
	Role models.Role `json:"role"`
	Text string      `json:"text"`
}

// Transcript renders a conversation for display. Function messages and
// messages without content are skipped; assistant content is formatted.
func Transcript(messages []models.Message) []Line {
	lines := make([]Line, 0, len(messages))
	for _, m := range messages {
		if m.Role == models.RoleFunction || m.Content == "" {
			continue
		}
		display := m.Content
		if m.Role == models.RoleAssistant {
			display = Content(m.Content)
		}
		lines = append(lines, Line{Role: m.Role, Text: display})
	}
	return lines
}
