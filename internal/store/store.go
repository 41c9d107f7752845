// Package store defines the persistence interface for carts and orders.
// Implementations include PostgreSQL (source of truth) and in-memory
// (for testing).
package store

import (
	"context"
	"errors"

	"github.com/vinylhaus/storefront/internal/model"
)

var (
	// ErrNotFound is returned when a cart, item, or order does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateOrder is returned when an order already exists for a
	// payment session ID. Webhook redelivery hits this and is a no-op.
	ErrDuplicateOrder = errors.New("store: order already exists for session")
)

// Store is the persistence interface. Every mutation is an independent
// implicit transaction; there is no multi-statement transactional grouping
// for cart mutations.
type Store interface {
	// --- Cart operations ---

	// CreateCart persists a new cart (user- or guest-owned).
	CreateCart(ctx context.Context, cart *model.Cart) error

	// GetCartByUser loads a user's cart with items in insertion order.
	GetCartByUser(ctx context.Context, userID string) (*model.Cart, error)

	// GetCartByGuest loads a guest cart with items in insertion order.
	GetCartByGuest(ctx context.Context, guestID string) (*model.Cart, error)

	// DeleteCart removes a cart and its items.
	DeleteCart(ctx context.Context, cartID string) error

	// --- Cart item operations ---

	// InsertItem adds an item to a cart.
	InsertItem(ctx context.Context, item *model.CartItem) error

	// UpdateItemQuantity sets an item's quantity.
	UpdateItemQuantity(ctx context.Context, itemID string, quantity int) error

	// DeleteItem removes one item.
	DeleteItem(ctx context.Context, itemID string) error

	// ClearItems removes every item from a cart.
	ClearItems(ctx context.Context, cartID string) error

	// --- Order operations ---

	// CreateOrder persists an order with its item snapshot. Returns
	// ErrDuplicateOrder if one already exists for the same session ID.
	CreateOrder(ctx context.Context, order *model.Order) error

	// GetOrder loads an order by its ID.
	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// GetOrderBySession loads an order by payment session ID.
	GetOrderBySession(ctx context.Context, sessionID string) (*model.Order, error)

	// ListOrdersByUser returns a user's orders, newest first.
	ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error)

	// UpdateOrderStatus sets an order's status.
	UpdateOrderStatus(ctx context.Context, id, status string) error
}
