package cart

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/vinylhaus/storefront/internal/model"
	"github.com/vinylhaus/storefront/internal/store"
)

// ownerFromRequest extracts the cart owner identity set by the auth layer.
func ownerFromRequest(r *http.Request) Owner {
	return Owner{
		UserID:  r.Header.Get("X-User-ID"),
		GuestID: r.Header.Get("X-Guest-ID"),
	}
}

// HandleGet handles GET /api/v1/cart
func (s *Service) HandleGet(w http.ResponseWriter, r *http.Request) {
	c, err := s.Get(r.Context(), ownerFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// AddItemRequest is the JSON body for POST /api/v1/cart/items.
type AddItemRequest struct {
	ProductID         model.ProductID `json:"product_id"`
	Title             string          `json:"title"`
	Price             decimal.Decimal `json:"price"`
	Quantity          int             `json:"quantity"`
	QuantityAvailable int             `json:"quantity_available"`
	Condition         string          `json:"condition"`
	WeightGrams       int             `json:"weight_grams"`
	ImageURL          string          `json:"image_url"`
}

// HandleAddItem handles POST /api/v1/cart/items
func (s *Service) HandleAddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMsg(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ProductID.IsZero() {
		writeErrorMsg(w, "product_id is required", http.StatusBadRequest)
		return
	}

	c, err := s.Add(r.Context(), ownerFromRequest(r), AddInput(req))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// UpdateItemRequest is the JSON body for PATCH /api/v1/cart/items/{itemID}.
type UpdateItemRequest struct {
	Quantity int `json:"quantity"`
}

// HandleUpdateItem handles PATCH /api/v1/cart/items/{itemID}
func (s *Service) HandleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var req UpdateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMsg(w, "invalid request body", http.StatusBadRequest)
		return
	}

	c, err := s.SetQuantity(r.Context(), ownerFromRequest(r), chi.URLParam(r, "itemID"), req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleRemoveItem handles DELETE /api/v1/cart/items/{itemID}
func (s *Service) HandleRemoveItem(w http.ResponseWriter, r *http.Request) {
	c, err := s.Remove(r.Context(), ownerFromRequest(r), chi.URLParam(r, "itemID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleClear handles DELETE /api/v1/cart
func (s *Service) HandleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.Clear(r.Context(), ownerFromRequest(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MergeRequest is the JSON body for POST /api/v1/cart/merge.
type MergeRequest struct {
	GuestID string `json:"guest_id"`
}

// HandleMerge handles POST /api/v1/cart/merge, the single merge entry
// point, invoked once on the login transition.
func (s *Service) HandleMerge(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeErrorMsg(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req MergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMsg(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.GuestID == "" {
		writeErrorMsg(w, "guest_id is required", http.StatusBadRequest)
		return
	}

	res, err := s.MergeGuestCart(r.Context(), req.GuestID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps service errors to HTTP statuses without leaking internal
// detail to end users.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNoOwner):
		writeErrorMsg(w, "cart owner identity required", http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		writeErrorMsg(w, "not found", http.StatusNotFound)
	default:
		writeErrorMsg(w, "something went wrong, please try again", http.StatusInternalServerError)
	}
}

func writeErrorMsg(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
