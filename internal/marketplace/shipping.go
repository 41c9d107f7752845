package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vinylhaus/storefront/internal/batch"
	"github.com/vinylhaus/storefront/internal/cache"
	"github.com/vinylhaus/storefront/internal/model"
)

// quoteKey identifies one shipping-fee lookup.
type quoteKey struct {
	listingID string
	country   string
}

// ShippingQuoter answers per-listing shipping-fee lookups. Lookups issued
// within the batch window are folded into one marketplace call, and results
// are cached for ShippingTTL since carriers reprice rarely.
type ShippingQuoter struct {
	client *Client
	cache  *cache.Cache
	proc   *batch.Processor[quoteKey, decimal.Decimal]
}

// NewShippingQuoter creates a quoter batching up to maxBatchSize lookups per
// call, waiting at most maxWait for a batch to fill.
func NewShippingQuoter(client *Client, c *cache.Cache, maxBatchSize int, maxWait time.Duration) *ShippingQuoter {
	q := &ShippingQuoter{client: client, cache: c}
	q.proc = batch.New(q.fetchQuotes, maxBatchSize, maxWait)
	return q
}

// Quote returns the shipping fee for one listing to one country.
func (q *ShippingQuoter) Quote(ctx context.Context, listingID model.ProductID, country string) (decimal.Decimal, error) {
	key := cache.ShippingKey(listingID.String(), country)
	if cached, ok := q.cache.Get(ctx, key); ok {
		if fee, err := decimal.NewFromString(cached); err == nil {
			return fee, nil
		}
	}

	fee, err := q.proc.Add(ctx, quoteKey{listingID: listingID.String(), country: country})
	if err != nil {
		return decimal.Zero, err
	}

	q.cache.Set(ctx, key, fee.String(), cache.ShippingTTL)
	return fee, nil
}

// feesPayload is the wire shape of GET /shipping/fees.
type feesPayload struct {
	Fees []struct {
		Value decimal.Decimal `json:"value"`
	} `json:"fees"`
}

// fetchQuotes resolves one batch of fee lookups in a single round trip.
// Order is preserved: fees[i] answers keys[i].
func (q *ShippingQuoter) fetchQuotes(ctx context.Context, keys []quoteKey) ([]decimal.Decimal, error) {
	if q.client.token == "" {
		return nil, ErrNoToken
	}

	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = k.listingID
	}
	// All keys in one batch share a destination country in practice (one
	// inventory pass quotes for one buyer); use the first.
	country := keys[0].country

	url := fmt.Sprintf("%s/shipping/fees?listings=%s&country=%s",
		q.client.baseURL, strings.Join(ids, ","), country)
	resp, err := q.client.http.Do(ctx, http.MethodGet, url, nil, q.client.authHeader())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload feesPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("marketplace: decode shipping fees: %w", err)
	}
	if len(payload.Fees) != len(keys) {
		return nil, fmt.Errorf("marketplace: got %d fees for %d listings", len(payload.Fees), len(keys))
	}

	fees := make([]decimal.Decimal, len(payload.Fees))
	for i, f := range payload.Fees {
		fees[i] = f.Value
	}
	return fees, nil
}
