package format

import (
	"strings"
	"testing"

	"shopchat/internal/models"
	"shopchat/internal/service/shop"
)

func TestContentExamples(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"balance", `{"balance": 12.5}`, "Your current balance is $12.50."},
		{"empty orders", `{"orders": []}`, "| ID | Item | Quantity | Price | Created At |\n|---|---|---|---|---|\n"},
		{"plain text", "hello", "hello"},
		{"response wins", `{"response": "Hi there", "balance": 3}`, "Hi there"},
		{"message", `{"message": "done"}`, "done"},
		{"confirmation only", `{"order_id": 3}`, "Your order has been created! Order ID: 3"},
		{"unknown keys", `{"foo": 1}`, `{"foo": 1}`},
		{"array", `[1, 2]`, `[1, 2]`},
		{"bad balance", `{"balance": "lots"}`, `{"balance": "lots"}`},
		{"error result", `{"error":"User not found"}`, `{"error":"User not found"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Content(tc.in); got != tc.want {
				t.Fatalf("Content(%q)=%q want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestConfirmationWithTotals(t *testing.T) {
	got := Content(`{"order_id": 7, "total_cost": 9.99, "new_balance": 40.01}`)
	for _, want := range []string{"Order ID: 7", "$9.99", "$40.01"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in %q", want, got)
		}
	}
	if got != "Your order has been created! Order ID: 7\nTotal cost: $9.99\nRemaining balance: $40.01" {
		t.Fatalf("unexpected confirmation %q", got)
	}
}

func TestOrderTable(t *testing.T) {
	in := `{"orders": [{"id": 1, "item": "pen", "quantity": 2, "price": 1.5, "created_at": "2024-05-01T12:00:00Z"},
		{"id": 2, "item": "ink", "quantity": 1, "price": 10, "created_at": "2024-05-02T12:00:00Z"}]}`
	want := "| ID | Item | Quantity | Price | Created At |\n|---|---|---|---|---|\n" +
		"| 1 | pen | 2 | $1.50 | 2024-05-01T12:00:00Z |\n" +
		"| 2 | ink | 1 | $10.00 | 2024-05-02T12:00:00Z |"
	if got := Content(in); got != want {
		t.Fatalf("unexpected table:\n%s", got)
	}
}

func TestDecodeVariants(t *testing.T) {
	if _, ok := Decode(`{"balance": 1}`).(BalanceLine); !ok {
		t.Fatalf("expected BalanceLine")
	}
	if _, ok := Decode(`{"orders": [], "balance": 1}`).(OrderTable); !ok {
		t.Fatalf("orders must win over balance")
	}
	if _, ok := Decode(`not json`).(Passthrough); !ok {
		t.Fatalf("expected Passthrough")
	}
	if _, ok := Decode(`{"a":1} {"b":2}`).(Passthrough); !ok {
		t.Fatalf("trailing data must pass through")
	}
}

func TestResultMatchesContent(t *testing.T) {
	results := []shop.ToolResult{
		shop.Balance{Amount: 1250},
		shop.OrderConfirmation{OrderID: 7, TotalCost: 999, NewBalance: 4001},
		shop.OrderList{Orders: []shop.OrderEntry{{ID: 1, Item: "pen", Quantity: 2, Price: 150, CreatedAt: "2024-05-01T12:00:00Z"}}},
	}
	for _, r := range results {
		encoded, err := shop.Encode(r)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		if Result(r) != Content(encoded) {
			t.Fatalf("typed and decoded renderings differ:\n%q\n%q", Result(r), Content(encoded))
		}
	}
	if got := Result(shop.Error{Message: "User not found"}); got != "User not found" {
		t.Fatalf("unexpected error rendering %q", got)
	}
}

func TestTranscriptSkipsInternalMessages(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleSystem, Content: "prompt"},
		{Role: models.RoleUser, Content: `{"balance": 1}`},
		{Role: models.RoleAssistant, ToolCall: &models.ToolCall{Name: "view_balance", Arguments: "{}"}},
		{Role: models.RoleFunction, ToolName: "view_balance", Content: `{"balance":1.00}`},
		{Role: models.RoleAssistant, Content: `{"balance": 1}`},
	}
	lines := Transcript(msgs)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %#v", lines)
	}
	if lines[1].Text != `{"balance": 1}` {
		t.Fatalf("user content must not be formatted: %q", lines[1].Text)
	}
	if lines[2].Text != "Your current balance is $1.00." {
		t.Fatalf("assistant content must be formatted: %q", lines[2].Text)
	}
}
