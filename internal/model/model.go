// Package model defines the core domain types shared across the storefront.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// ProductID is an external marketplace identifier. Marketplace IDs exceed
// 2^53, so they must never pass through a float; ProductID wraps a big.Int
// and all equality comparisons go through its canonical decimal String form.
type ProductID struct {
	v big.Int
}

// ParseProductID parses a canonical decimal string into a ProductID.
func ParseProductID(s string) (ProductID, error) {
	var id ProductID
	if _, ok := id.v.SetString(s, 10); !ok {
		return ProductID{}, fmt.Errorf("model: invalid product id %q", s)
	}
	return id, nil
}

// ProductIDFromInt64 builds a ProductID from an int64.
func ProductIDFromInt64(n int64) ProductID {
	var id ProductID
	id.v.SetInt64(n)
	return id
}

// String returns the canonical decimal serialization. This is the only
// representation used for equality, map keys, and wire/storage round trips.
func (id ProductID) String() string { return id.v.String() }

// Equal reports whether two product IDs are the same identifier.
func (id ProductID) Equal(other ProductID) bool { return id.v.Cmp(&other.v) == 0 }

// IsZero reports whether the ID is unset.
func (id ProductID) IsZero() bool { return id.v.Sign() == 0 }

// MarshalJSON encodes the ID as a JSON string to survive JS number precision.
func (id ProductID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.v.String() + `"`), nil
}

// UnmarshalJSON accepts either a JSON string or a bare number literal.
func (id *ProductID) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if _, ok := id.v.SetString(s, 10); !ok {
		return fmt.Errorf("model: invalid product id %q", s)
	}
	return nil
}

// Cart is owned by exactly one of an authenticated user or a guest session.
// Exactly one of UserID / GuestID is non-empty. A guest cart is deleted once
// merged into a user cart.
type Cart struct {
	ID        string     `json:"id" db:"id"`
	UserID    string     `json:"user_id,omitempty" db:"user_id"`
	GuestID   string     `json:"guest_id,omitempty" db:"guest_id"`
	Items     []CartItem `json:"items"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// IsEmpty reports whether the cart holds no items.
func (c *Cart) IsEmpty() bool { return len(c.Items) == 0 }

// FindItem returns the item matching the given product ID, or nil.
func (c *Cart) FindItem(id ProductID) *CartItem {
	for i := range c.Items {
		if c.Items[i].ProductID.Equal(id) {
			return &c.Items[i]
		}
	}
	return nil
}

// CartItem belongs to exactly one Cart. Quantity is clamped to
// [0, QuantityAvailable] on every mutation; a quantity that clamps to zero
// removes the item rather than being stored.
type CartItem struct {
	ID                string          `json:"id" db:"id"`
	CartID            string          `json:"cart_id" db:"cart_id"`
	ProductID         ProductID       `json:"product_id" db:"product_id"`
	Title             string          `json:"title" db:"title"`
	Price             decimal.Decimal `json:"price" db:"price"`
	Quantity          int             `json:"quantity" db:"quantity"`
	QuantityAvailable int             `json:"quantity_available" db:"quantity_available"`
	Condition         string          `json:"condition" db:"condition"`
	WeightGrams       int             `json:"weight_grams" db:"weight_grams"`
	ImageURL          string          `json:"image_url" db:"image_url"`
	AddedAt           time.Time       `json:"added_at" db:"added_at"`
}

// ClampQuantity bounds q to [0, QuantityAvailable]. A sold-out item
// (zero available) clamps everything to zero.
func (it *CartItem) ClampQuantity(q int) int {
	if q < 0 {
		return 0
	}
	if q > it.QuantityAvailable {
		return it.QuantityAvailable
	}
	return q
}

// Order statuses. Orders are immutable after creation except for Status,
// which moves pending → paid → one of the terminal states.
const (
	OrderPending  = "pending"
	OrderPaid     = "paid"
	OrderShipped  = "shipped"
	OrderRefunded = "refunded"
	OrderFailed   = "failed"
	OrderExpired  = "expired"
)

var validTransitions = map[string][]string{
	OrderPending: {OrderPaid, OrderFailed, OrderExpired},
	OrderPaid:    {OrderShipped, OrderRefunded},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Order is created exactly once per payment-provider session ID. The session
// ID is the idempotency key; webhook redelivery never re-creates an order.
// Items are a snapshot frozen at purchase time, not live catalog references.
type Order struct {
	ID        string          `json:"id" db:"id"`
	SessionID string          `json:"session_id" db:"session_id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Email     string          `json:"email" db:"email"`
	Status    string          `json:"status" db:"status"`
	Total     decimal.Decimal `json:"total" db:"total"`
	Items     []OrderItem     `json:"items"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// OrderItem is a purchase-time snapshot of one line item.
type OrderItem struct {
	ID        string          `json:"id" db:"id"`
	OrderID   string          `json:"order_id" db:"order_id"`
	ProductID ProductID       `json:"product_id" db:"product_id"`
	Title     string          `json:"title" db:"title"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Quantity  int             `json:"quantity" db:"quantity"`
	Condition string          `json:"condition" db:"condition"`
}

// Listing statuses as reported by the marketplace.
const (
	ListingForSale = "For Sale"
	ListingSold    = "Sold"
	ListingRemoved = "Removed"
)

// Listing mirrors a marketplace listing transiently. The marketplace owns
// this entity; it can disappear (404) or change between any two reads.
type Listing struct {
	ID        ProductID       `json:"id"`
	ReleaseID ProductID       `json:"release_id"`
	Quantity  int             `json:"quantity"`
	Status    string          `json:"status"`
	Condition string          `json:"condition"`
	Price     decimal.Decimal `json:"price"`
}
