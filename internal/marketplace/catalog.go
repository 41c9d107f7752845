package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/vinylhaus/storefront/internal/cache"
	"github.com/vinylhaus/storefront/internal/model"
)

// Catalog serves storefront browse reads (seller inventory pages, release
// metadata) from the cache, falling back to live marketplace fetches. Browse
// data tolerates staleness; a degraded cache only costs extra round trips.
type Catalog struct {
	client *Client
	cache  *cache.Cache
}

// NewCatalog creates a catalog reader over the marketplace client.
func NewCatalog(client *Client, c *cache.Cache) *Catalog {
	return &Catalog{client: client, cache: c}
}

// InventoryOptions controls one inventory page read.
type InventoryOptions struct {
	Page    int
	PerPage int
	Sort    string

	// SkipCache bypasses the cache read entirely.
	SkipCache bool
	// Bust stores the result with the short freshness TTL instead of the
	// standard inventory TTL.
	Bust bool
}

// InventoryItem is one listing row on a seller's inventory page.
type InventoryItem struct {
	ListingID model.ProductID `json:"listing_id"`
	ReleaseID model.ProductID `json:"release_id"`
	Title     string          `json:"title"`
	Condition string          `json:"condition"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Status    string          `json:"status"`
}

// InventoryPage is one page of a seller's live inventory.
type InventoryPage struct {
	Seller  string          `json:"seller"`
	Page    int             `json:"page"`
	Pages   int             `json:"pages"`
	PerPage int             `json:"per_page"`
	Items   []InventoryItem `json:"items"`
}

// inventoryPayload is the wire shape of GET /users/{seller}/inventory.
type inventoryPayload struct {
	Pagination struct {
		Page  int `json:"page"`
		Pages int `json:"pages"`
	} `json:"pagination"`
	Listings []struct {
		ID        model.ProductID `json:"id"`
		Status    string          `json:"status"`
		Quantity  int             `json:"quantity"`
		Condition string          `json:"condition"`
		Price     struct {
			Value decimal.Decimal `json:"value"`
		} `json:"price"`
		Release struct {
			ID          model.ProductID `json:"id"`
			Description string          `json:"description"`
		} `json:"release"`
	} `json:"listings"`
}

// SellerInventory returns one page of the seller's inventory, cached for
// InventoryTTL (or InventoryBustTTL when opts.Bust is set).
func (c *Catalog) SellerInventory(ctx context.Context, seller string, opts InventoryOptions) (*InventoryPage, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PerPage < 1 {
		opts.PerPage = 50
	}
	if opts.Sort == "" {
		opts.Sort = "listed"
	}

	key := cache.InventoryKey(seller, opts.Page, opts.PerPage, opts.Sort)
	if !opts.SkipCache {
		if cached, ok := c.cache.Get(ctx, key); ok {
			var page InventoryPage
			if err := json.Unmarshal([]byte(cached), &page); err == nil {
				return &page, nil
			}
		}
	}

	url := fmt.Sprintf("%s/users/%s/inventory?page=%d&per_page=%d&sort=%s",
		c.client.baseURL, seller, opts.Page, opts.PerPage, opts.Sort)
	resp, err := c.client.http.Do(ctx, http.MethodGet, url, nil, c.client.authHeader())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload inventoryPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("marketplace: decode inventory for %s: %w", seller, err)
	}

	page := &InventoryPage{
		Seller:  seller,
		Page:    payload.Pagination.Page,
		Pages:   payload.Pagination.Pages,
		PerPage: opts.PerPage,
	}
	for _, l := range payload.Listings {
		page.Items = append(page.Items, InventoryItem{
			ListingID: l.ID,
			ReleaseID: l.Release.ID,
			Title:     l.Release.Description,
			Condition: l.Condition,
			Price:     l.Price.Value,
			Quantity:  l.Quantity,
			Status:    l.Status,
		})
	}

	ttl := cache.InventoryTTL
	if opts.Bust {
		ttl = cache.InventoryBustTTL
	}
	if data, err := json.Marshal(page); err == nil {
		c.cache.Set(ctx, key, string(data), ttl)
	}
	return page, nil
}

// Release is catalog metadata for one record.
type Release struct {
	ID      model.ProductID `json:"id"`
	Title   string          `json:"title"`
	Artists []string        `json:"artists"`
	Year    int             `json:"year"`
	Genres  []string        `json:"genres"`
	Thumb   string          `json:"thumb"`
}

// releasePayload is the wire shape of GET /releases/{id}.
type releasePayload struct {
	ID      model.ProductID `json:"id"`
	Title   string          `json:"title"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Year   int      `json:"year"`
	Genres []string `json:"genres"`
	Thumb  string   `json:"thumb"`
}

// Release returns catalog metadata for a record, cached for RecordTTL.
// Catalog metadata barely changes, so this is the longest-lived tier.
func (c *Catalog) Release(ctx context.Context, id model.ProductID) (*Release, error) {
	key := cache.RecordKey(id.String())
	if cached, ok := c.cache.Get(ctx, key); ok {
		var r Release
		if err := json.Unmarshal([]byte(cached), &r); err == nil {
			return &r, nil
		}
	}

	url := fmt.Sprintf("%s/releases/%s", c.client.baseURL, id)
	resp, err := c.client.http.Do(ctx, http.MethodGet, url, nil, c.client.authHeader())
	if err != nil {
		return nil, mapNotFound(err)
	}
	defer resp.Body.Close()

	var payload releasePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("marketplace: decode release %s: %w", id, err)
	}

	r := &Release{
		ID:     payload.ID,
		Title:  payload.Title,
		Year:   payload.Year,
		Genres: payload.Genres,
		Thumb:  payload.Thumb,
	}
	for _, a := range payload.Artists {
		r.Artists = append(r.Artists, a.Name)
	}

	if data, err := json.Marshal(r); err == nil {
		c.cache.Set(ctx, key, string(data), cache.RecordTTL)
	}
	return r, nil
}

// --- HTTP handlers ---

// HandleSellerInventory handles GET /api/v1/catalog/sellers/{seller}/inventory
func (c *Catalog) HandleSellerInventory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := InventoryOptions{
		Sort:      q.Get("sort"),
		SkipCache: q.Get("skip_cache") == "1",
		Bust:      q.Get("fresh") == "1",
	}
	opts.Page, _ = strconv.Atoi(q.Get("page"))
	opts.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	page, err := c.SellerInventory(r.Context(), chi.URLParam(r, "seller"), opts)
	if err != nil {
		writeCatalogError(w, "inventory unavailable, please try again", http.StatusBadGateway)
		return
	}
	if page.Items == nil {
		page.Items = []InventoryItem{}
	}
	writeCatalogJSON(w, http.StatusOK, page)
}

// HandleGetRelease handles GET /api/v1/catalog/releases/{releaseID}
func (c *Catalog) HandleGetRelease(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseProductID(chi.URLParam(r, "releaseID"))
	if err != nil {
		writeCatalogError(w, "invalid release id", http.StatusBadRequest)
		return
	}

	rel, err := c.Release(r.Context(), id)
	if errors.Is(err, ErrListingNotFound) {
		writeCatalogError(w, "release not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeCatalogError(w, "release unavailable, please try again", http.StatusBadGateway)
		return
	}
	writeCatalogJSON(w, http.StatusOK, rel)
}

func writeCatalogJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeCatalogError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
