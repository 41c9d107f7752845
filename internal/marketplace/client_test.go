package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vinylhaus/storefront/internal/model"
	"github.com/vinylhaus/storefront/internal/transport"
)

// fastTransport returns a transport client that never sleeps between retries.
func fastTransport() *transport.Client {
	return transport.NewClient(nil, transport.Config{
		MaxRetries: 0,
		BaseDelay:  time.Millisecond,
		MaxDelay:   time.Millisecond,
	}, nil)
}

func TestGetListing_DecodesPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/listing/555" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token: %q", r.Header.Get("Authorization"))
		}
		io.WriteString(w, `{
			"quantity": 3,
			"status": "For Sale",
			"condition": "Very Good Plus (VG+)",
			"release": {"id": 28044913572901437},
			"price": {"value": "19.50"}
		}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", fastTransport())
	l, err := c.GetListing(context.Background(), model.ProductIDFromInt64(555))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if l.Quantity != 3 {
		t.Errorf("expected quantity 3, got %d", l.Quantity)
	}
	if l.Status != model.ListingForSale {
		t.Errorf("expected For Sale, got %s", l.Status)
	}
	if l.ReleaseID.String() != "28044913572901437" {
		t.Errorf("release ID lost precision: %s", l.ReleaseID)
	}
	if !l.Price.Equal(decimal.RequireFromString("19.50")) {
		t.Errorf("expected price 19.50, got %s", l.Price)
	}
}

func TestGetListing_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", fastTransport())
	_, err := c.GetListing(context.Background(), model.ProductIDFromInt64(555))
	if !errors.Is(err, ErrListingNotFound) {
		t.Errorf("expected ErrListingNotFound, got %v", err)
	}
}

func TestGetListing_NoToken(t *testing.T) {
	c := NewClient("http://unused", "", fastTransport())
	if _, err := c.GetListing(context.Background(), model.ProductIDFromInt64(1)); !errors.Is(err, ErrNoToken) {
		t.Errorf("expected ErrNoToken, got %v", err)
	}
}

func TestUpdateListing_SendsPreservedFields(t *testing.T) {
	var got updatePayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	l := &model.Listing{
		ID:        model.ProductIDFromInt64(555),
		ReleaseID: model.ProductIDFromInt64(777),
		Quantity:  5,
		Status:    model.ListingForSale,
		Condition: "Mint (M)",
		Price:     decimal.RequireFromString("42.00"),
	}

	c := NewClient(srv.URL, "tok", fastTransport())
	if err := c.UpdateListing(context.Background(), l, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Quantity != 3 {
		t.Errorf("expected quantity 3, got %d", got.Quantity)
	}
	if got.ReleaseID.String() != "777" {
		t.Errorf("expected release 777, got %s", got.ReleaseID)
	}
	if got.Condition != "Mint (M)" {
		t.Errorf("condition not preserved: %s", got.Condition)
	}
	if !got.Price.Equal(decimal.RequireFromString("42.00")) {
		t.Errorf("price not preserved: %s", got.Price)
	}
	if got.Status != model.ListingForSale {
		t.Errorf("status not preserved: %s", got.Status)
	}
}

func TestDeleteListing_404IsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", fastTransport())
	if err := c.DeleteListing(context.Background(), model.ProductIDFromInt64(555)); err != nil {
		t.Errorf("deleting an already-gone listing should succeed, got %v", err)
	}
}

func TestDeleteListing_ServerErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", fastTransport())
	err := c.DeleteListing(context.Background(), model.ProductIDFromInt64(555))
	var te *transport.Error
	if !errors.As(err, &te) || te.Status != http.StatusInternalServerError {
		t.Errorf("expected transport error with status 500, got %v", err)
	}
}

func TestDeleteListingSigned_SignsRequest(t *testing.T) {
	cred := SellerCredential{Key: "seller-key", Secret: "seller-secret"}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		if r.Header.Get("X-Seller-Key") != "seller-key" {
			t.Errorf("missing seller key header")
		}
		ts := r.Header.Get("X-Seller-Timestamp")
		want := cred.sign(http.MethodDelete, r.URL.Path, ts)
		if got := r.Header.Get("X-Seller-Signature"); got != want {
			t.Errorf("signature mismatch: got %s, want %s", got, want)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", fastTransport())
	c.now = func() time.Time { return time.Unix(1700000000, 0) }

	if err := c.DeleteListingSigned(context.Background(), model.ProductIDFromInt64(555), cred); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDeleteListingSigned_RequiresCredential(t *testing.T) {
	c := NewClient("http://unused", "tok", fastTransport())
	err := c.DeleteListingSigned(context.Background(), model.ProductIDFromInt64(1), SellerCredential{})
	if err == nil {
		t.Error("expected error for empty credential")
	}
}
