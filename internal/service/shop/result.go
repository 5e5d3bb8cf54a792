package shop

import (
	"encoding/json"
	"fmt"
	"time"

	"shopchat/internal/models"
)

// ToolResult is the outcome of a backend operation. It is one of Balance,
// OrderList, OrderConfirmation or Error, each encoding to a JSON object with
// a single discriminant key.
type ToolResult interface {
	isToolResult()
}

type Balance struct {
	Amount models.Cents `json:"balance"`
}

type OrderEntry struct {
	ID        int64        `json:"id"`
	Item      string       `json:"item"`
	Quantity  int64        `json:"quantity"`
	Price     models.Cents `json:"price"`
	CreatedAt string       `json:"created_at"`
}

func entryFor(o models.Order) OrderEntry {
	return OrderEntry{
		ID:        o.ID,
		Item:      o.Item,
		Quantity:  o.Quantity,
		Price:     o.Price,
		CreatedAt: o.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type OrderList struct {
	Orders []OrderEntry `json:"orders"`
}

type OrderConfirmation struct {
	OrderID    int64        `json:"order_id"`
	TotalCost  models.Cents `json:"total_cost"`
	NewBalance models.Cents `json:"new_balance"`
}

// Error is a failure reported back to the model as data.
type Error struct {
	Message string `json:"error"`
}

func (Balance) isToolResult()           {}
func (OrderList) isToolResult()         {}
func (OrderConfirmation) isToolResult() {}
func (Error) isToolResult()             {}

var errUserNotFound = Error{Message: "User not found"}

func insufficientBalance(required, available models.Cents) Error {
	return Error{Message: fmt.Sprintf("Insufficient balance. Required: %s, Available: %s", required.Dollars(), available.Dollars())}
}

// Encode serializes a result into the function message content.
func Encode(r ToolResult) (string, error) {
	if r == nil {
		return "", fmt.Errorf("encode tool result: nil result")
	}
	if list, ok := r.(OrderList); ok && list.Orders == nil {
		r = OrderList{Orders: []OrderEntry{}}
	}
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode tool result: %w", err)
	}
	return string(data), nil
}
