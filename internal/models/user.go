package models

import "time"

// User is a shop customer.
type User struct {
	ID      int64  `json:"id"`
	Email   string `json:"email"`
	Balance Cents  `json:"balance"`
}

// Order is a purchase of Quantity units of Item at Price per unit.
type Order struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Item      string    `json:"item"`
	Quantity  int64     `json:"quantity"`
	Price     Cents     `json:"price"`
	CreatedAt time.Time `json:"created_at"`
}

// Total is Price*Quantity.
func (o Order) Total() Cents {
	return o.Price.Mul(o.Quantity)
}
