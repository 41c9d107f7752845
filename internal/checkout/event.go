// Package checkout handles signed payment-provider webhooks: event
// verification, metadata parsing, idempotent order creation, and the
// inventory reconciliation that follows a sale.
package checkout

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/vinylhaus/storefront/internal/model"
)

// Event types consumed from the payment provider.
const (
	EventSessionCompleted = "checkout.session.completed"
	EventSessionExpired   = "checkout.session.expired"
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
	EventPaymentCanceled  = "payment_intent.canceled"
	EventChargeRefunded   = "charge.refunded"
)

var (
	// ErrBadSignature reports a webhook payload whose signature does not
	// verify against the shared secret.
	ErrBadSignature = errors.New("checkout: webhook signature verification failed")

	// ErrStaleTimestamp reports a signed timestamp outside the tolerance
	// window (replay protection).
	ErrStaleTimestamp = errors.New("checkout: webhook timestamp outside tolerance")
)

// MetadataError is the typed parse failure for a malformed metadata bag.
// Malformed payloads are rejected at the boundary instead of propagating
// missing fields downstream.
type MetadataError struct {
	Field string
	Err   error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("checkout: invalid webhook metadata (%s): %v", e.Field, e.Err)
}

func (e *MetadataError) Unwrap() error { return e.Err }

// Event is a verified webhook delivery.
type Event struct {
	ID      string  `json:"id"`
	Type    string  `json:"type"`
	Created int64   `json:"created"`
	Data    struct {
		Object Session `json:"object"`
	} `json:"data"`
}

// Session is the provider's checkout-session (or payment-intent) object.
// The metadata bag carries the authoritative purchased-items record, not
// the live cart, which may have changed since checkout started.
type Session struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
}

// MetadataItem is one purchased line item as encoded into the session
// metadata at checkout time.
type MetadataItem struct {
	ListingID model.ProductID `json:"listing_id" validate:"required"`
	Title     string          `json:"title" validate:"required"`
	Price     string          `json:"price" validate:"required"`
	Quantity  int             `json:"quantity" validate:"required,min=1"`
	Condition string          `json:"condition"`
}

// MetadataCustomer is the buyer snapshot from the session metadata.
type MetadataCustomer struct {
	Email  string `json:"email" validate:"required,email"`
	UserID string `json:"user_id"`
}

// Metadata is the validated, decoded metadata contract.
type Metadata struct {
	Items    []MetadataItem `validate:"required,min=1,dive"`
	Customer MetadataCustomer
}

var validate = validator.New()

// ParseMetadata decodes and validates the JSON blobs stuffed into the
// session metadata bag.
func ParseMetadata(raw map[string]string) (*Metadata, error) {
	itemsJSON, ok := raw["items"]
	if !ok {
		return nil, &MetadataError{Field: "items", Err: errors.New("missing")}
	}
	var md Metadata
	if err := json.Unmarshal([]byte(itemsJSON), &md.Items); err != nil {
		return nil, &MetadataError{Field: "items", Err: err}
	}

	if customerJSON, ok := raw["customer"]; ok {
		if err := json.Unmarshal([]byte(customerJSON), &md.Customer); err != nil {
			return nil, &MetadataError{Field: "customer", Err: err}
		}
	}

	if err := validate.Struct(&md); err != nil {
		return nil, &MetadataError{Field: "metadata", Err: err}
	}
	for i, it := range md.Items {
		if it.ListingID.IsZero() {
			return nil, &MetadataError{Field: fmt.Sprintf("items[%d].listing_id", i), Err: errors.New("missing")}
		}
	}
	return &md, nil
}

// signatureTolerance bounds how old a signed timestamp may be.
const signatureTolerance = 5 * time.Minute

// VerifyAndParse checks the `t=<unix>,v1=<hex hmac>` signature header over
// "<t>.<payload>" and decodes the event. now is injectable for tests.
func VerifyAndParse(payload []byte, sigHeader, secret string, now time.Time) (*Event, error) {
	ts, sig, err := splitSignature(sigHeader)
	if err != nil {
		return nil, err
	}

	t, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, ErrBadSignature
	}
	age := now.Sub(time.Unix(t, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return nil, ErrStaleTimestamp
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return nil, ErrBadSignature
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("checkout: decode event: %w", err)
	}
	return &ev, nil
}

// splitSignature extracts the t and v1 parts of the signature header.
func splitSignature(header string) (ts, sig string, err error) {
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return "", "", ErrBadSignature
	}
	return ts, sig, nil
}
