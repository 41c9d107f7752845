// Package cart implements cart mutations and the guest-to-user merge engine.
//
// Every quantity mutation clamps to [0, quantity_available]; a quantity that
// clamps to zero removes the item instead of storing a non-positive value.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vinylhaus/storefront/internal/metrics"
	"github.com/vinylhaus/storefront/internal/model"
	"github.com/vinylhaus/storefront/internal/store"
)

// ErrNoOwner is returned when a request carries neither a user nor a guest
// identity.
var ErrNoOwner = errors.New("cart: no owner identity")

// Owner identifies who a cart belongs to. Exactly one field is set.
type Owner struct {
	UserID  string
	GuestID string
}

func (o Owner) valid() bool {
	return (o.UserID != "") != (o.GuestID != "")
}

// Service handles cart operations against the store.
type Service struct {
	store store.Store
}

// NewService creates a cart service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// Get loads the owner's cart, or returns an empty unsaved cart if none
// exists yet. Carts are created lazily on first add.
func (s *Service) Get(ctx context.Context, owner Owner) (*model.Cart, error) {
	if !owner.valid() {
		return nil, ErrNoOwner
	}
	c, err := s.load(ctx, owner)
	if errors.Is(err, store.ErrNotFound) {
		return &model.Cart{UserID: owner.UserID, GuestID: owner.GuestID}, nil
	}
	return c, err
}

// AddInput is the snapshot captured when an item enters a cart. Price,
// condition and availability come from the marketplace at add time and are
// not re-fetched later.
type AddInput struct {
	ProductID         model.ProductID
	Title             string
	Price             decimal.Decimal
	Quantity          int
	QuantityAvailable int
	Condition         string
	WeightGrams       int
	ImageURL          string
}

// Add puts an item in the owner's cart, creating the cart if needed. Adding
// a product already present accumulates quantity, clamped to availability.
func (s *Service) Add(ctx context.Context, owner Owner, in AddInput) (*model.Cart, error) {
	if !owner.valid() {
		return nil, ErrNoOwner
	}
	if in.Quantity < 1 {
		in.Quantity = 1
	}

	c, err := s.loadOrCreate(ctx, owner)
	if err != nil {
		return nil, err
	}

	if existing := c.FindItem(in.ProductID); existing != nil {
		newQty := existing.ClampQuantity(existing.Quantity + in.Quantity)
		if err := s.store.UpdateItemQuantity(ctx, existing.ID, newQty); err != nil {
			return nil, err
		}
		existing.Quantity = newQty
		return c, nil
	}

	item := model.CartItem{
		ID:                uuid.New().String(),
		CartID:            c.ID,
		ProductID:         in.ProductID,
		Title:             in.Title,
		Price:             in.Price,
		QuantityAvailable: in.QuantityAvailable,
		Condition:         in.Condition,
		WeightGrams:       in.WeightGrams,
		ImageURL:          in.ImageURL,
		AddedAt:           time.Now().UTC(),
	}
	item.Quantity = item.ClampQuantity(in.Quantity)
	if item.Quantity == 0 {
		return c, fmt.Errorf("cart: product %s is unavailable", in.ProductID)
	}

	if err := s.store.InsertItem(ctx, &item); err != nil {
		return nil, err
	}
	c.Items = append(c.Items, item)
	return c, nil
}

// SetQuantity updates one item's quantity, clamped to availability. A
// requested quantity of zero or below removes the item.
func (s *Service) SetQuantity(ctx context.Context, owner Owner, itemID string, quantity int) (*model.Cart, error) {
	if !owner.valid() {
		return nil, ErrNoOwner
	}
	c, err := s.load(ctx, owner)
	if err != nil {
		return nil, err
	}

	var item *model.CartItem
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			item = &c.Items[i]
			break
		}
	}
	if item == nil {
		return nil, store.ErrNotFound
	}

	clamped := item.ClampQuantity(quantity)
	if clamped == 0 {
		if err := s.store.DeleteItem(ctx, itemID); err != nil {
			return nil, err
		}
		return s.load(ctx, owner)
	}

	if err := s.store.UpdateItemQuantity(ctx, itemID, clamped); err != nil {
		return nil, err
	}
	item.Quantity = clamped
	return c, nil
}

// Remove deletes one item from the owner's cart.
func (s *Service) Remove(ctx context.Context, owner Owner, itemID string) (*model.Cart, error) {
	if !owner.valid() {
		return nil, ErrNoOwner
	}
	if err := s.store.DeleteItem(ctx, itemID); err != nil {
		return nil, err
	}
	return s.load(ctx, owner)
}

// Clear removes every item from the owner's cart.
func (s *Service) Clear(ctx context.Context, owner Owner) error {
	if !owner.valid() {
		return ErrNoOwner
	}
	c, err := s.load(ctx, owner)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.store.ClearItems(ctx, c.ID)
}

func (s *Service) load(ctx context.Context, owner Owner) (*model.Cart, error) {
	if owner.UserID != "" {
		return s.store.GetCartByUser(ctx, owner.UserID)
	}
	return s.store.GetCartByGuest(ctx, owner.GuestID)
}

func (s *Service) loadOrCreate(ctx context.Context, owner Owner) (*model.Cart, error) {
	c, err := s.load(ctx, owner)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	c = &model.Cart{
		ID:        uuid.New().String(),
		UserID:    owner.UserID,
		GuestID:   owner.GuestID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateCart(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// MergeResult summarizes a guest-to-user merge. Failed counts items that
// could not be added or updated; they never abort the rest of the merge.
type MergeResult struct {
	Added   int  `json:"added"`
	Updated int  `json:"updated"`
	Failed  int  `json:"failed"`
	Merged  bool `json:"merged"` // false when there was nothing to merge
}

// MergeGuestCart reconciles a guest cart into a just-authenticated user's
// cart. Matching is by canonical product-ID string. On a quantity conflict
// the result is min(user+guest, guest availability): the guest's view of
// availability wins as the ceiling since it is presumed more recent.
//
// Re-invocation after the guest cart is deleted is a safe no-op, which is
// the only guard against duplicate login events racing the merge.
func (s *Service) MergeGuestCart(ctx context.Context, guestID, userID string) (*MergeResult, error) {
	guest, err := s.store.GetCartByGuest(ctx, guestID)
	if errors.Is(err, store.ErrNotFound) {
		metrics.CartMerges.WithLabelValues("noop").Inc()
		return &MergeResult{}, nil
	}
	if err != nil {
		return nil, err
	}
	if guest.IsEmpty() {
		metrics.CartMerges.WithLabelValues("noop").Inc()
		return &MergeResult{}, nil
	}

	user, err := s.loadOrCreate(ctx, Owner{UserID: userID})
	if err != nil {
		return nil, err
	}

	res := &MergeResult{Merged: true}
	for _, gi := range foldDuplicates(guest.Items) {
		updated, err := s.mergeItem(ctx, user, gi)
		if err != nil {
			slog.Warn("cart merge: item failed",
				"product", gi.ProductID.String(), "user", userID, "err", err)
			res.Failed++
			continue
		}
		if updated {
			res.Updated++
		} else {
			res.Added++
		}
	}

	// Cleanup failure is logged, never propagated: the merge itself is not
	// rolled back for guest-cart tidiness.
	if err := s.store.DeleteCart(ctx, guest.ID); err != nil {
		slog.Warn("cart merge: guest cart delete failed", "guest", guestID, "err", err)
	}

	metrics.CartMerges.WithLabelValues("merged").Inc()
	slog.Info("guest cart merged",
		"guest", guestID, "user", userID,
		"added", res.Added, "updated", res.Updated, "failed", res.Failed)
	return res, nil
}

// mergeItem merges one folded guest item into the user cart. Reports
// whether an existing item was updated (vs a new one added).
func (s *Service) mergeItem(ctx context.Context, user *model.Cart, gi model.CartItem) (bool, error) {
	if existing := user.FindItem(gi.ProductID); existing != nil {
		newQty := existing.Quantity + gi.Quantity
		if gi.QuantityAvailable > 0 && newQty > gi.QuantityAvailable {
			newQty = gi.QuantityAvailable
		}
		if err := s.store.UpdateItemQuantity(ctx, existing.ID, newQty); err != nil {
			return true, err
		}
		existing.Quantity = newQty
		return true, nil
	}

	// Copy the guest item verbatim: same price/condition/weight snapshot, no
	// re-fetch from the catalog at merge time.
	item := gi
	item.ID = uuid.New().String()
	item.CartID = user.ID
	item.AddedAt = time.Now().UTC()
	if err := s.store.InsertItem(ctx, &item); err != nil {
		return false, err
	}
	user.Items = append(user.Items, item)
	return false, nil
}

// foldDuplicates collapses repeated product IDs within one guest cart,
// taking the max quantity. Add-to-cart dedup should prevent this, but the
// merge must not double-count if it happens.
func foldDuplicates(items []model.CartItem) []model.CartItem {
	seen := make(map[string]int, len(items)) // canonical ID → index in out
	var out []model.CartItem
	for _, it := range items {
		key := it.ProductID.String()
		if i, ok := seen[key]; ok {
			if it.Quantity > out[i].Quantity {
				out[i].Quantity = it.Quantity
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, it)
	}
	return out
}
