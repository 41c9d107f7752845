package cart_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vinylhaus/storefront/internal/cart"
	"github.com/vinylhaus/storefront/internal/model"
	"github.com/vinylhaus/storefront/internal/store"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestService() (*cart.Service, *store.MemoryStore) {
	ms := store.NewMemoryStore()
	return cart.NewService(ms), ms
}

func addInput(id int64, qty, available int) cart.AddInput {
	return cart.AddInput{
		ProductID:         model.ProductIDFromInt64(id),
		Title:             "Test Record",
		Price:             d("24.99"),
		Quantity:          qty,
		QuantityAvailable: available,
		Condition:         "Near Mint (NM or M-)",
		WeightGrams:       180,
	}
}

// seedGuestCart creates a guest cart directly in the store with the given
// items, bypassing the service's dedup.
func seedGuestCart(t *testing.T, ms *store.MemoryStore, guestID string, items ...model.CartItem) *model.Cart {
	t.Helper()
	c := &model.Cart{
		ID:        "guest-cart-" + guestID,
		GuestID:   guestID,
		CreatedAt: time.Now().UTC(),
	}
	for i := range items {
		items[i].CartID = c.ID
		if items[i].ID == "" {
			items[i].ID = c.ID + "-item-" + items[i].ProductID.String()
		}
	}
	c.Items = items
	if err := ms.CreateCart(context.Background(), c); err != nil {
		t.Fatalf("failed to seed guest cart: %v", err)
	}
	return c
}

func guestItem(id int64, qty, available int) model.CartItem {
	return model.CartItem{
		ProductID:         model.ProductIDFromInt64(id),
		Title:             "Guest Record",
		Price:             d("10.00"),
		Quantity:          qty,
		QuantityAvailable: available,
		AddedAt:           time.Now().UTC(),
	}
}

var user = cart.Owner{UserID: "user1"}

// --- Basic mutations ---

func TestAdd_CreatesCartLazily(t *testing.T) {
	svc, _ := newTestService()

	c, err := svc.Add(context.Background(), user, addInput(555, 2, 5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ID == "" {
		t.Error("expected cart to be created on first add")
	}
	if len(c.Items) != 1 || c.Items[0].Quantity != 2 {
		t.Errorf("unexpected items: %+v", c.Items)
	}
}

func TestAdd_AccumulatesAndClamps(t *testing.T) {
	svc, _ := newTestService()

	svc.Add(context.Background(), user, addInput(555, 3, 4))
	c, err := svc.Add(context.Background(), user, addInput(555, 3, 4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 3 + 3 = 6, clamped to the 4 available.
	if len(c.Items) != 1 {
		t.Fatalf("expected a single line item, got %d", len(c.Items))
	}
	if c.Items[0].Quantity != 4 {
		t.Errorf("expected quantity clamped to 4, got %d", c.Items[0].Quantity)
	}
}

func TestAdd_SoldOutRejected(t *testing.T) {
	svc, _ := newTestService()

	c, err := svc.Add(context.Background(), user, addInput(555, 1, 0))
	if err == nil {
		t.Fatal("expected error adding a sold-out product")
	}
	if c != nil && len(c.Items) != 0 {
		t.Errorf("sold-out product must not be stored: %+v", c.Items)
	}
}

func TestAdd_RequiresOwner(t *testing.T) {
	svc, _ := newTestService()

	for _, owner := range []cart.Owner{{}, {UserID: "u", GuestID: "g"}} {
		if _, err := svc.Add(context.Background(), owner, addInput(555, 1, 5)); !errors.Is(err, cart.ErrNoOwner) {
			t.Errorf("owner %+v: expected ErrNoOwner, got %v", owner, err)
		}
	}
}

func TestGet_AbsentCartIsEmpty(t *testing.T) {
	svc, _ := newTestService()

	c, err := svc.Get(context.Background(), user)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.IsEmpty() {
		t.Errorf("expected empty cart, got %d items", len(c.Items))
	}
}

func TestSetQuantity_Clamps(t *testing.T) {
	svc, _ := newTestService()

	c, _ := svc.Add(context.Background(), user, addInput(555, 1, 5))
	itemID := c.Items[0].ID

	c, err := svc.SetQuantity(context.Background(), user, itemID, 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Items[0].Quantity != 5 {
		t.Errorf("expected clamp to 5, got %d", c.Items[0].Quantity)
	}
}

func TestSetQuantity_ZeroRemovesItem(t *testing.T) {
	svc, _ := newTestService()

	c, _ := svc.Add(context.Background(), user, addInput(555, 2, 5))
	itemID := c.Items[0].ID

	for _, q := range []int{0, -3} {
		c, err := svc.SetQuantity(context.Background(), user, itemID, q)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue // already removed by the previous iteration
			}
			t.Fatalf("unexpected error: %v", err)
		}
		if !c.IsEmpty() {
			t.Errorf("quantity %d should remove the item, cart has %d items", q, len(c.Items))
		}
	}
}

func TestSetQuantity_UnknownItem(t *testing.T) {
	svc, _ := newTestService()
	svc.Add(context.Background(), user, addInput(555, 1, 5))

	if _, err := svc.SetQuantity(context.Background(), user, "nope", 2); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestClear_EmptiesCart(t *testing.T) {
	svc, _ := newTestService()
	svc.Add(context.Background(), user, addInput(555, 1, 5))
	svc.Add(context.Background(), user, addInput(666, 1, 5))

	if err := svc.Clear(context.Background(), user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, _ := svc.Get(context.Background(), user)
	if !c.IsEmpty() {
		t.Errorf("expected empty cart, got %d items", len(c.Items))
	}
}

// --- Guest-to-user merge ---

func TestMerge_QuantityConflictUsesGuestAvailability(t *testing.T) {
	svc, ms := newTestService()

	// User already has 2 of the product; the guest cart has 3 more but saw
	// only 4 available. min(2+3, 4) = 4.
	svc.Add(context.Background(), user, addInput(555, 2, 10))
	seedGuestCart(t, ms, "g1", guestItem(555, 3, 4))

	res, err := svc.MergeGuestCart(context.Background(), "g1", "user1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Merged || res.Updated != 1 || res.Added != 0 || res.Failed != 0 {
		t.Errorf("unexpected result: %+v", res)
	}

	c, _ := svc.Get(context.Background(), user)
	if c.Items[0].Quantity != 4 {
		t.Errorf("expected merged quantity 4, got %d", c.Items[0].Quantity)
	}
}

func TestMerge_NewItemsCopiedVerbatim(t *testing.T) {
	svc, ms := newTestService()
	seedGuestCart(t, ms, "g1", guestItem(777, 2, 9))

	res, err := svc.MergeGuestCart(context.Background(), "g1", "user1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Added != 1 || res.Updated != 0 {
		t.Errorf("unexpected result: %+v", res)
	}

	c, _ := svc.Get(context.Background(), user)
	if len(c.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(c.Items))
	}
	it := c.Items[0]
	// Price and availability are the guest's snapshot, not re-fetched.
	if !it.Price.Equal(d("10.00")) || it.QuantityAvailable != 9 || it.Quantity != 2 {
		t.Errorf("guest snapshot not preserved: %+v", it)
	}
}

func TestMerge_AbsentGuestCartIsNoop(t *testing.T) {
	svc, _ := newTestService()

	res, err := svc.MergeGuestCart(context.Background(), "ghost", "user1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Merged {
		t.Error("nothing to merge should report Merged=false")
	}
}

func TestMerge_EmptyGuestCartIsNoop(t *testing.T) {
	svc, ms := newTestService()
	seedGuestCart(t, ms, "g1")

	res, err := svc.MergeGuestCart(context.Background(), "g1", "user1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Merged {
		t.Error("empty guest cart should report Merged=false")
	}
}

func TestMerge_DeletesGuestCart(t *testing.T) {
	svc, ms := newTestService()
	seedGuestCart(t, ms, "g1", guestItem(555, 1, 5))

	if _, err := svc.MergeGuestCart(context.Background(), "g1", "user1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ms.GetCartByGuest(context.Background(), "g1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("guest cart should be deleted after merge, got %v", err)
	}
}

func TestMerge_SecondInvocationIsNoop(t *testing.T) {
	svc, ms := newTestService()
	seedGuestCart(t, ms, "g1", guestItem(555, 2, 5))

	svc.MergeGuestCart(context.Background(), "g1", "user1")
	res, err := svc.MergeGuestCart(context.Background(), "g1", "user1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Merged {
		t.Error("re-merge after guest cart deletion should be a no-op")
	}

	// Quantity must not double.
	c, _ := svc.Get(context.Background(), user)
	if c.Items[0].Quantity != 2 {
		t.Errorf("expected quantity 2 after duplicate merge, got %d", c.Items[0].Quantity)
	}
}

func TestMerge_FoldsDuplicateGuestItems(t *testing.T) {
	svc, ms := newTestService()

	// Two rows for the same product: the merge takes the max quantity, it
	// never sums duplicates.
	a := guestItem(555, 2, 10)
	a.ID = "dup-a"
	b := guestItem(555, 3, 10)
	b.ID = "dup-b"
	seedGuestCart(t, ms, "g1", a, b)

	res, err := svc.MergeGuestCart(context.Background(), "g1", "user1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Added != 1 {
		t.Errorf("duplicates should fold into one added item, got %+v", res)
	}

	c, _ := svc.Get(context.Background(), user)
	if len(c.Items) != 1 || c.Items[0].Quantity != 3 {
		t.Errorf("expected one item with max quantity 3, got %+v", c.Items)
	}
}

// failingStore wraps a MemoryStore and fails inserts for one product.
type failingStore struct {
	*store.MemoryStore
	failProduct model.ProductID
}

func (f *failingStore) InsertItem(ctx context.Context, it *model.CartItem) error {
	if it.ProductID.Equal(f.failProduct) {
		return errors.New("insert rejected")
	}
	return f.MemoryStore.InsertItem(ctx, it)
}

func TestMerge_ItemFailureDoesNotAbortMerge(t *testing.T) {
	ms := store.NewMemoryStore()
	fs := &failingStore{MemoryStore: ms, failProduct: model.ProductIDFromInt64(666)}
	svc := cart.NewService(fs)

	seedGuestCart(t, ms, "g1", guestItem(555, 1, 5), guestItem(666, 1, 5), guestItem(777, 1, 5))

	res, err := svc.MergeGuestCart(context.Background(), "g1", "user1")
	if err != nil {
		t.Fatalf("merge should not fail outright: %v", err)
	}
	if res.Added != 2 || res.Failed != 1 {
		t.Errorf("expected 2 added / 1 failed, got %+v", res)
	}

	c, _ := svc.Get(context.Background(), cart.Owner{UserID: "user1"})
	if len(c.Items) != 2 {
		t.Errorf("expected the two healthy items to land, got %d", len(c.Items))
	}
}
