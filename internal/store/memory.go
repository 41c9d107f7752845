package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vinylhaus/storefront/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	carts  map[string]*model.Cart     // cart ID → cart (items inline)
	orders map[string]*model.Order    // order ID → order
	bySess map[string]string          // session ID → order ID
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		carts:  make(map[string]*model.Cart),
		orders: make(map[string]*model.Order),
		bySess: make(map[string]string),
	}
}

// --- Carts ---

func (s *MemoryStore) CreateCart(_ context.Context, c *model.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *c
	copy.Items = append([]model.CartItem(nil), c.Items...)
	s.carts[c.ID] = &copy
	return nil
}

func (s *MemoryStore) GetCartByUser(_ context.Context, userID string) (*model.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.carts {
		if c.UserID == userID && userID != "" {
			return cloneCart(c), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetCartByGuest(_ context.Context, guestID string) (*model.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.carts {
		if c.GuestID == guestID && guestID != "" {
			return cloneCart(c), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) DeleteCart(_ context.Context, cartID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.carts, cartID)
	return nil
}

// --- Cart items ---

func (s *MemoryStore) InsertItem(_ context.Context, it *model.CartItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[it.CartID]
	if !ok {
		return ErrNotFound
	}
	c.Items = append(c.Items, *it)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpdateItemQuantity(_ context.Context, itemID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.carts {
		for i := range c.Items {
			if c.Items[i].ID == itemID {
				c.Items[i].Quantity = quantity
				c.UpdatedAt = time.Now().UTC()
				return nil
			}
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) DeleteItem(_ context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.carts {
		for i := range c.Items {
			if c.Items[i].ID == itemID {
				c.Items = append(c.Items[:i], c.Items[i+1:]...)
				c.UpdatedAt = time.Now().UTC()
				return nil
			}
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) ClearItems(_ context.Context, cartID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[cartID]
	if !ok {
		return ErrNotFound
	}
	c.Items = nil
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Orders ---

func (s *MemoryStore) CreateOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bySess[o.SessionID]; exists {
		return ErrDuplicateOrder
	}
	copy := *o
	copy.Items = append([]model.OrderItem(nil), o.Items...)
	s.orders[o.ID] = &copy
	s.bySess[o.SessionID] = o.ID
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *MemoryStore) GetOrderBySession(_ context.Context, sessionID string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bySess[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(s.orders[id]), nil
}

func (s *MemoryStore) ListOrdersByUser(_ context.Context, userID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []model.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			orders = append(orders, *cloneOrder(o))
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

func (s *MemoryStore) UpdateOrderStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneCart(c *model.Cart) *model.Cart {
	copy := *c
	copy.Items = append([]model.CartItem(nil), c.Items...)
	return &copy
}

func cloneOrder(o *model.Order) *model.Order {
	copy := *o
	copy.Items = append([]model.OrderItem(nil), o.Items...)
	return &copy
}
