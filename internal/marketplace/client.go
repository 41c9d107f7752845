// Package marketplace is the client for the remote record marketplace API:
// listing reads and writes, signed per-seller deletes, and shipping quotes.
// All calls go through the retrying transport, so 429s are absorbed before
// an operation is deemed failed.
package marketplace

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vinylhaus/storefront/internal/model"
	"github.com/vinylhaus/storefront/internal/transport"
)

// ErrListingNotFound reports a 404 for a listing. Callers that expect the
// listing to exist treat this as "already gone", not as a failure.
var ErrListingNotFound = errors.New("marketplace: listing not found")

// ErrNoToken reports a missing API credential. This is a configuration
// error: fatal, never retried.
var ErrNoToken = errors.New("marketplace: API token not configured")

// SellerCredential is the per-seller signed-request credential used for
// privileged listing writes.
type SellerCredential struct {
	Key    string
	Secret string
}

// sign produces the request signature over method, path and timestamp.
func (c SellerCredential) sign(method, path, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(c.Secret))
	mac.Write([]byte(method + "\n" + path + "\n" + timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}

// Client talks to the marketplace API.
type Client struct {
	baseURL string
	token   string
	http    *transport.Client
	now     func() time.Time
}

// NewClient creates a marketplace client. token may be empty; operations
// requiring it return ErrNoToken.
func NewClient(baseURL, token string, tc *transport.Client) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    tc,
		now:     time.Now,
	}
}

// Configured reports whether the required API credential is present.
func (c *Client) Configured() bool { return c.token != "" }

// listingPayload is the wire shape of GET /listing/{id}.
type listingPayload struct {
	Quantity  int    `json:"quantity"`
	Status    string `json:"status"`
	Condition string `json:"condition"`
	Release   struct {
		ID model.ProductID `json:"id"`
	} `json:"release"`
	Price struct {
		Value decimal.Decimal `json:"value"`
	} `json:"price"`
}

// GetListing fetches the current state of a listing by ID.
func (c *Client) GetListing(ctx context.Context, id model.ProductID) (*model.Listing, error) {
	if c.token == "" {
		return nil, ErrNoToken
	}

	url := fmt.Sprintf("%s/listing/%s", c.baseURL, id)
	resp, err := c.http.Do(ctx, http.MethodGet, url, nil, c.authHeader())
	if err != nil {
		return nil, mapNotFound(err)
	}
	defer resp.Body.Close()

	var payload listingPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("marketplace: decode listing %s: %w", id, err)
	}

	return &model.Listing{
		ID:        id,
		ReleaseID: payload.Release.ID,
		Quantity:  payload.Quantity,
		Status:    payload.Status,
		Condition: payload.Condition,
		Price:     payload.Price.Value,
	}, nil
}

// updatePayload is the wire shape of POST /listing/{id}.
type updatePayload struct {
	ReleaseID model.ProductID `json:"release_id"`
	Condition string          `json:"condition"`
	Price     decimal.Decimal `json:"price"`
	Status    string          `json:"status"`
	Quantity  int             `json:"quantity"`
}

// UpdateListing writes a new quantity for a listing, preserving every other
// field from the supplied (freshly read) listing so concurrent edits to
// price or condition are never clobbered by stale local state.
func (c *Client) UpdateListing(ctx context.Context, l *model.Listing, quantity int) error {
	if c.token == "" {
		return ErrNoToken
	}

	body, err := json.Marshal(updatePayload{
		ReleaseID: l.ReleaseID,
		Condition: l.Condition,
		Price:     l.Price,
		Status:    l.Status,
		Quantity:  quantity,
	})
	if err != nil {
		return fmt.Errorf("marketplace: encode listing update: %w", err)
	}

	url := fmt.Sprintf("%s/listing/%s", c.baseURL, l.ID)
	h := c.authHeader()
	h.Set("Content-Type", "application/json")
	resp, err := c.http.Do(ctx, http.MethodPost, url, body, h)
	if err != nil {
		return mapNotFound(err)
	}
	resp.Body.Close()
	return nil
}

// DeleteListing removes a listing. A 404 is success-equivalent: a listing
// already removed by a concurrent buyer is the desired end state.
func (c *Client) DeleteListing(ctx context.Context, id model.ProductID) error {
	if c.token == "" {
		return ErrNoToken
	}

	url := fmt.Sprintf("%s/listing/%s", c.baseURL, id)
	resp, err := c.http.Do(ctx, http.MethodDelete, url, nil, c.authHeader())
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	resp.Body.Close()
	return nil
}

// DeleteListingSigned removes a listing using the per-seller signed-request
// credential instead of the bearer token.
func (c *Client) DeleteListingSigned(ctx context.Context, id model.ProductID, cred SellerCredential) error {
	if cred.Key == "" || cred.Secret == "" {
		return errors.New("marketplace: seller credential not configured")
	}

	path := fmt.Sprintf("/listing/%s", id)
	ts := strconv.FormatInt(c.now().Unix(), 10)
	h := http.Header{}
	h.Set("X-Seller-Key", cred.Key)
	h.Set("X-Seller-Timestamp", ts)
	h.Set("X-Seller-Signature", cred.sign(http.MethodDelete, path, ts))

	resp, err := c.http.Do(ctx, http.MethodDelete, c.baseURL+path, nil, h)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) authHeader() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	h.Set("Accept", "application/json")
	return h
}

// mapNotFound converts an exhausted-retries 404 into ErrListingNotFound.
func mapNotFound(err error) error {
	if isNotFound(err) {
		return ErrListingNotFound
	}
	return err
}

func isNotFound(err error) bool {
	var te *transport.Error
	return errors.As(err, &te) && te.Status == http.StatusNotFound
}
