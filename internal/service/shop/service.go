package shop

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"shopchat/internal/events"
	"shopchat/internal/models"
	"shopchat/internal/service/identity"
	"shopchat/internal/storage"
)

// ErrStore wraps every connection, query or transaction failure.
var ErrStore = errors.New("store error")

// Service runs the backend operations the assistant can call.
type Service struct {
	db        *sql.DB
	dialect   storage.Dialect
	publisher events.Publisher
	now       func() time.Time
}

// NewService builds a shop service. A nil publisher drops order events.
func NewService(db *sql.DB, dialect storage.Dialect, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{db: db, dialect: dialect, publisher: publisher, now: time.Now}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}

// withScope runs fn on a connection scoped for the session and releases it afterwards.
func (s *Service) withScope(ctx context.Context, session identity.Session, fn func(*storage.Scope) error) error {
	scope, err := storage.Scoped(ctx, s.db, s.dialect, session.Scope())
	if err != nil {
		return storeErr("scope", err)
	}
	defer func() {
		if err := scope.Release(ctx); err != nil {
			log.Printf("shop: release connection scope=%q: %v", scope.Email(), err)
		}
	}()
	return fn(scope)
}

// UserExists reports whether a user with the email is present.
func (s *Service) UserExists(ctx context.Context, email string) (bool, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return false, identity.ErrIdentityRequired
	}
	var count int
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`SELECT COUNT(1) FROM users WHERE email = ?`), email).Scan(&count)
	if err != nil {
		return false, storeErr("lookup user", err)
	}
	return count > 0, nil
}

// Balance returns the resolved user's balance.
func (s *Service) Balance(ctx context.Context, session identity.Session, requested string) (ToolResult, error) {
	email, err := identity.Resolve(session, requested)
	if err != nil {
		return nil, err
	}

	var result ToolResult
	err = s.withScope(ctx, session, func(scope *storage.Scope) error {
		var balance float64
		err := scope.Conn.QueryRowContext(ctx, scope.Dialect().Rebind(`SELECT balance FROM users WHERE email = ?`), email).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			result = errUserNotFound
			return nil
		}
		if err != nil {
			return storeErr("query balance", err)
		}
		result = Balance{Amount: models.FromFloat(balance)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Orders lists the resolved user's orders in id order. An unknown user has no orders.
func (s *Service) Orders(ctx context.Context, session identity.Session, requested string) (ToolResult, error) {
	email, err := identity.Resolve(session, requested)
	if err != nil {
		return nil, err
	}

	list := OrderList{Orders: []OrderEntry{}}
	err = s.withScope(ctx, session, func(scope *storage.Scope) error {
		rows, err := scope.Conn.QueryContext(ctx, scope.Dialect().Rebind(
			`SELECT o.id, o.item, o.quantity, o.price, o.created_at
			 FROM orders o
			 JOIN users u ON o.user_id = u.id
			 WHERE u.email = ?
			 ORDER BY o.id`), email)
		if err != nil {
			return storeErr("query orders", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				order models.Order
				price float64
			)
			if err := rows.Scan(&order.ID, &order.Item, &order.Quantity, &price, &order.CreatedAt); err != nil {
				return storeErr("scan order", err)
			}
			order.Price = models.FromFloat(price)
			list.Orders = append(list.Orders, entryFor(order))
		}
		if err := rows.Err(); err != nil {
			return storeErr("iterate orders", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// OrderRequest carries the make_order arguments.
type OrderRequest struct {
	Item     string
	Quantity int64
	Price    models.Cents
	Email    string
}

func (r OrderRequest) validate() *Error {
	switch {
	case strings.TrimSpace(r.Item) == "":
		return &Error{Message: "item is required"}
	case r.Quantity <= 0:
		return &Error{Message: "quantity must be a positive integer"}
	case r.Price < 0:
		return &Error{Message: "price must not be negative"}
	case r.Price > 0 && r.Quantity > math.MaxInt64/int64(r.Price):
		return &Error{Message: "order total is too large"}
	}
	return nil
}

// MakeOrder debits the user and records the order in one transaction. Either
// both the order row and the new balance are committed or neither is.
func (s *Service) MakeOrder(ctx context.Context, session identity.Session, req OrderRequest) (ToolResult, error) {
	email, err := identity.Resolve(session, req.Email)
	if err != nil {
		return nil, err
	}
	if invalid := req.validate(); invalid != nil {
		return *invalid, nil
	}
	order := models.Order{
		Item:     strings.TrimSpace(req.Item),
		Quantity: req.Quantity,
		Price:    req.Price,
	}
	total := order.Total()

	var (
		result    ToolResult
		committed *events.OrderCreated
	)
	err = s.withScope(ctx, session, func(scope *storage.Scope) error {
		tx, err := scope.Conn.BeginTx(ctx, nil)
		if err != nil {
			return storeErr("begin order", err)
		}
		done := false
		defer func() {
			if !done {
				_ = tx.Rollback()
			}
		}()

		dialect := scope.Dialect()
		user := models.User{Email: email}
		var balance float64
		err = tx.QueryRowContext(ctx,
			dialect.Rebind(`SELECT id, balance FROM users WHERE email = ?`)+dialect.LockClause(),
			email,
		).Scan(&user.ID, &balance)
		if errors.Is(err, sql.ErrNoRows) {
			result = errUserNotFound
			return nil
		}
		if err != nil {
			return storeErr("lock user", err)
		}

		user.Balance = models.FromFloat(balance)
		if user.Balance < total {
			result = insufficientBalance(total, user.Balance)
			return nil
		}

		order.UserID = user.ID
		order.CreatedAt = s.now().UTC()
		order.ID, err = dialect.InsertID(ctx, tx,
			`INSERT INTO orders (user_id, item, quantity, price, created_at) VALUES (?, ?, ?, ?, ?)`,
			order.UserID, order.Item, order.Quantity, order.Price.Float(), order.CreatedAt,
		)
		if err != nil {
			return storeErr("insert order", err)
		}

		user.Balance -= total
		if _, err := tx.ExecContext(ctx,
			dialect.Rebind(`UPDATE users SET balance = ? WHERE id = ?`),
			user.Balance.Float(), user.ID,
		); err != nil {
			return storeErr("update balance", err)
		}
		if err := tx.Commit(); err != nil {
			return storeErr("commit order", err)
		}
		done = true

		result = OrderConfirmation{OrderID: order.ID, TotalCost: total, NewBalance: user.Balance}
		committed = &events.OrderCreated{
			OrderID:    order.ID,
			Email:      email,
			Item:       order.Item,
			Quantity:   order.Quantity,
			TotalCost:  total,
			NewBalance: user.Balance,
			CreatedAt:  order.CreatedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if committed != nil {
		log.Printf("shop: order created id=%d email=%s total=%s", committed.OrderID, email, total)
		if err := s.publisher.PublishOrderCreated(ctx, *committed); err != nil {
			log.Printf("shop: publish order.created id=%d failed: %v", committed.OrderID, err)
		}
	}
	return result, nil
}
