package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vinylhaus/storefront/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Prices are stored as NUMERIC for exact decimal precision; external product
// IDs as TEXT in their canonical decimal form.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Carts ---

func (s *PostgresStore) CreateCart(ctx context.Context, c *model.Cart) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO carts (id, user_id, guest_id, created_at, updated_at)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5)`,
		c.ID, c.UserID, c.GuestID, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetCartByUser(ctx context.Context, userID string) (*model.Cart, error) {
	return s.getCart(ctx, `SELECT id, COALESCE(user_id, ''), COALESCE(guest_id, ''), created_at, updated_at
		 FROM carts WHERE user_id = $1`, userID)
}

func (s *PostgresStore) GetCartByGuest(ctx context.Context, guestID string) (*model.Cart, error) {
	return s.getCart(ctx, `SELECT id, COALESCE(user_id, ''), COALESCE(guest_id, ''), created_at, updated_at
		 FROM carts WHERE guest_id = $1`, guestID)
}

func (s *PostgresStore) getCart(ctx context.Context, query, owner string) (*model.Cart, error) {
	var c model.Cart
	err := s.pool.QueryRow(ctx, query, owner).
		Scan(&c.ID, &c.UserID, &c.GuestID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}

	items, err := s.cartItems(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	c.Items = items
	return &c, nil
}

func (s *PostgresStore) cartItems(ctx context.Context, cartID string) ([]model.CartItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, cart_id, product_id, title, price::TEXT, quantity,
		        quantity_available, condition, weight_grams, image_url, added_at
		 FROM cart_items WHERE cart_id = $1 ORDER BY added_at`, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.CartItem
	for rows.Next() {
		var it model.CartItem
		var productID, priceS string
		if err := rows.Scan(&it.ID, &it.CartID, &productID, &it.Title, &priceS,
			&it.Quantity, &it.QuantityAvailable, &it.Condition,
			&it.WeightGrams, &it.ImageURL, &it.AddedAt); err != nil {
			return nil, err
		}
		it.ProductID, _ = model.ParseProductID(productID)
		it.Price, _ = decimal.NewFromString(priceS)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *PostgresStore) DeleteCart(ctx context.Context, cartID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM carts WHERE id = $1`, cartID)
	return err
}

// --- Cart items ---

func (s *PostgresStore) InsertItem(ctx context.Context, it *model.CartItem) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cart_items (id, cart_id, product_id, title, price, quantity,
		                         quantity_available, condition, weight_grams, image_url, added_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8, $9, $10, $11)`,
		it.ID, it.CartID, it.ProductID.String(), it.Title, it.Price.String(),
		it.Quantity, it.QuantityAvailable, it.Condition, it.WeightGrams,
		it.ImageURL, it.AddedAt,
	)
	return err
}

func (s *PostgresStore) UpdateItemQuantity(ctx context.Context, itemID string, quantity int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE cart_items SET quantity = $2 WHERE id = $1`, itemID, quantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteItem(ctx context.Context, itemID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM cart_items WHERE id = $1`, itemID)
	return err
}

func (s *PostgresStore) ClearItems(ctx context.Context, cartID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
	return err
}

// --- Orders ---

func (s *PostgresStore) CreateOrder(ctx context.Context, o *model.Order) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO orders (id, session_id, user_id, email, status, total, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8)
		 ON CONFLICT (session_id) DO NOTHING`,
		o.ID, o.SessionID, o.UserID, o.Email, o.Status, o.Total.String(),
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateOrder
	}

	for _, it := range o.Items {
		if _, err := tx.Exec(ctx,
			`INSERT INTO order_items (id, order_id, product_id, title, price, quantity, condition)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7)`,
			it.ID, o.ID, it.ProductID.String(), it.Title, it.Price.String(),
			it.Quantity, it.Condition,
		); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.getOrder(ctx,
		`SELECT id, session_id, user_id, email, status, total::TEXT, created_at, updated_at
		 FROM orders WHERE id = $1`, id)
}

func (s *PostgresStore) GetOrderBySession(ctx context.Context, sessionID string) (*model.Order, error) {
	return s.getOrder(ctx,
		`SELECT id, session_id, user_id, email, status, total::TEXT, created_at, updated_at
		 FROM orders WHERE session_id = $1`, sessionID)
}

func (s *PostgresStore) getOrder(ctx context.Context, query, arg string) (*model.Order, error) {
	var o model.Order
	var totalS string
	err := s.pool.QueryRow(ctx, query, arg).
		Scan(&o.ID, &o.SessionID, &o.UserID, &o.Email, &o.Status, &totalS,
			&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	o.Total, _ = decimal.NewFromString(totalS)

	items, err := s.orderItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return &o, nil
}

func (s *PostgresStore) orderItems(ctx context.Context, orderID string) ([]model.OrderItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, order_id, product_id, title, price::TEXT, quantity, condition
		 FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.OrderItem
	for rows.Next() {
		var it model.OrderItem
		var productID, priceS string
		if err := rows.Scan(&it.ID, &it.OrderID, &productID, &it.Title,
			&priceS, &it.Quantity, &it.Condition); err != nil {
			return nil, err
		}
		it.ProductID, _ = model.ParseProductID(productID)
		it.Price, _ = decimal.NewFromString(priceS)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, user_id, email, status, total::TEXT, created_at, updated_at
		 FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		var totalS string
		if err := rows.Scan(&o.ID, &o.SessionID, &o.UserID, &o.Email, &o.Status,
			&totalS, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.Total, _ = decimal.NewFromString(totalS)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		items, err := s.orderItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, id, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
