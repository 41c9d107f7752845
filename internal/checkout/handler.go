package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vinylhaus/storefront/internal/metrics"
	"github.com/vinylhaus/storefront/internal/model"
	"github.com/vinylhaus/storefront/internal/store"
)

// Reconciler removes sold units from the marketplace after a sale.
// Satisfied by reconcile.Reconciler.
type Reconciler interface {
	Reconcile(ctx context.Context, listingID model.ProductID, quantityPurchased int) bool
}

// Service handles the payment webhook and the order read API.
type Service struct {
	store      store.Store
	reconciler Reconciler
	secret     string
	now        func() time.Time
}

// NewService creates a checkout service. secret is the webhook signing
// secret shared with the payment provider.
func NewService(st store.Store, rec Reconciler, secret string) *Service {
	return &Service{
		store:      st,
		reconciler: rec,
		secret:     secret,
		now:        time.Now,
	}
}

// maxWebhookBody bounds webhook payload reads.
const maxWebhookBody = 1 << 20

// HandleWebhook handles POST /webhooks/payment, the single reconciliation
// entry point. Verification failures get a 4xx so the provider retries a
// transient clock issue but not a forged payload; processing failures after
// verification return 200, because redelivery cannot fix them and order
// creation is already idempotent.
func (s *Service) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}

	ev, err := VerifyAndParse(payload, r.Header.Get("Signature"), s.secret, s.now())
	if err != nil {
		slog.Warn("webhook rejected", "err", err)
		http.Error(w, "signature verification failed", http.StatusBadRequest)
		return
	}

	metrics.WebhookEvents.WithLabelValues(ev.Type).Inc()

	switch ev.Type {
	case EventSessionCompleted:
		s.handleSessionCompleted(r.Context(), ev)
	case EventPaymentSucceeded:
		s.transitionBySession(r.Context(), ev.Data.Object.ID, model.OrderPaid)
	case EventPaymentFailed, EventPaymentCanceled:
		s.transitionBySession(r.Context(), ev.Data.Object.ID, model.OrderFailed)
	case EventSessionExpired:
		s.transitionBySession(r.Context(), ev.Data.Object.ID, model.OrderExpired)
	case EventChargeRefunded:
		s.transitionBySession(r.Context(), ev.Data.Object.ID, model.OrderRefunded)
	default:
		slog.Debug("ignoring webhook event", "type", ev.Type)
	}

	w.WriteHeader(http.StatusOK)
}

// handleSessionCompleted creates the order exactly once and reconciles
// marketplace inventory for each purchased item. A reconciliation failure
// never blocks order creation: the customer has paid.
func (s *Service) handleSessionCompleted(ctx context.Context, ev *Event) {
	md, err := ParseMetadata(ev.Data.Object.Metadata)
	if err != nil {
		slog.Error("webhook metadata rejected", "session", ev.Data.Object.ID, "err", err)
		return
	}

	order := buildOrder(ev.Data.Object.ID, md)
	err = s.store.CreateOrder(ctx, order)
	if errors.Is(err, store.ErrDuplicateOrder) {
		// Webhook redelivery: the order exists and inventory was already
		// reconciled (or is being reconciled) by the first delivery.
		slog.Info("duplicate session delivery ignored", "session", ev.Data.Object.ID)
		return
	}
	if err != nil {
		slog.Error("order creation failed", "session", ev.Data.Object.ID, "err", err)
		return
	}

	slog.Info("order created",
		"order", order.ID, "session", order.SessionID,
		"items", len(order.Items), "total", order.Total.String())

	for _, it := range order.Items {
		if ok := s.reconciler.Reconcile(ctx, it.ProductID, it.Quantity); !ok {
			// Inventory drift is monitored, not customer-facing.
			slog.Error("inventory reconciliation failed for sold item",
				"order", order.ID, "listing", it.ProductID.String(), "qty", it.Quantity)
		}
	}
}

// buildOrder freezes the metadata item list into an immutable order
// snapshot. Later catalog changes never alter historical orders.
func buildOrder(sessionID string, md *Metadata) *model.Order {
	now := time.Now().UTC()
	order := &model.Order{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		UserID:    md.Customer.UserID,
		Email:     md.Customer.Email,
		Status:    model.OrderPaid,
		CreatedAt: now,
		UpdatedAt: now,
	}

	total := decimal.Zero
	for _, it := range md.Items {
		price, err := decimal.NewFromString(it.Price)
		if err != nil {
			slog.Warn("unparseable item price in metadata, storing zero",
				"session", sessionID, "listing", it.ListingID.String(), "price", it.Price)
			price = decimal.Zero
		}
		order.Items = append(order.Items, model.OrderItem{
			ID:        uuid.New().String(),
			OrderID:   order.ID,
			ProductID: it.ListingID,
			Title:     it.Title,
			Price:     price,
			Quantity:  it.Quantity,
			Condition: it.Condition,
		})
		total = total.Add(price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	order.Total = total
	return order
}

// transitionBySession moves an order's status, enforcing the pending →
// paid → terminal state machine. Unknown sessions and invalid transitions
// are logged and dropped.
func (s *Service) transitionBySession(ctx context.Context, sessionID, to string) {
	order, err := s.store.GetOrderBySession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("webhook for unknown session", "session", sessionID, "status", to)
		return
	}
	if err != nil {
		slog.Error("order lookup failed", "session", sessionID, "err", err)
		return
	}

	if !model.CanTransition(order.Status, to) {
		slog.Warn("invalid order status transition ignored",
			"order", order.ID, "from", order.Status, "to", to)
		return
	}
	if err := s.store.UpdateOrderStatus(ctx, order.ID, to); err != nil {
		slog.Error("order status update failed", "order", order.ID, "err", err)
		return
	}
	slog.Info("order status updated", "order", order.ID, "from", order.Status, "to", to)
}

// HandleGetOrder handles GET /api/v1/orders/{orderID}
func (s *Service) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.store.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if errors.Is(err, store.ErrNotFound) {
		writeErrorMsg(w, "order not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeErrorMsg(w, "something went wrong, please try again", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// HandleListOrders handles GET /api/v1/orders for the authenticated user.
func (s *Service) HandleListOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeErrorMsg(w, "authentication required", http.StatusUnauthorized)
		return
	}

	orders, err := s.store.ListOrdersByUser(r.Context(), userID)
	if err != nil {
		writeErrorMsg(w, "something went wrong, please try again", http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErrorMsg(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
