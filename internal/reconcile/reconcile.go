// Package reconcile keeps marketplace listings consistent with local sales.
// After a purchase, the sold units must stop being advertised remotely. An
// ordered chain of strategies is tried in priority order; each reports a
// tagged outcome and the driver advances only on a retryable failure.
//
// Reconciliation never blocks order completion: the caller logs a failure
// and moves on. Inventory drift is a monitored failure mode, not one that
// interrupts the customer-facing transaction.
package reconcile

import (
	"context"
	"errors"
	"log/slog"

	"github.com/vinylhaus/storefront/internal/marketplace"
	"github.com/vinylhaus/storefront/internal/metrics"
	"github.com/vinylhaus/storefront/internal/model"
)

// Outcome tags a strategy result.
type Outcome int

const (
	// Success: the listing no longer advertises the sold units. Short-circuits
	// the chain; no further strategies run.
	Success Outcome = iota
	// Retryable: this strategy failed but the next one may succeed.
	Retryable
	// Fatal: stop the chain; reconciliation failed.
	Fatal
)

// Result is a strategy's tagged outcome. Remaining is the quantity the
// listing still advertises after a Success (0 when deleted), -1 when the
// strategy cannot know.
type Result struct {
	Outcome   Outcome
	Remaining int
	Err       error
}

// ListingAPI is the slice of the marketplace client the strategies need.
type ListingAPI interface {
	Configured() bool
	GetListing(ctx context.Context, id model.ProductID) (*model.Listing, error)
	UpdateListing(ctx context.Context, l *model.Listing, quantity int) error
	DeleteListing(ctx context.Context, id model.ProductID) error
	DeleteListingSigned(ctx context.Context, id model.ProductID, cred marketplace.SellerCredential) error
}

// Strategy is one way of removing sold units from a listing.
type Strategy interface {
	Name() string
	Apply(ctx context.Context, listingID model.ProductID, quantityPurchased int) Result
}

// Notifier receives stock changes after a successful reconciliation.
type Notifier interface {
	StockChanged(listingID string, remaining int)
}

// Invalidator drops cached reads that a reconciliation made stale.
// Satisfied by cache.Cache.
type Invalidator interface {
	Clear(ctx context.Context, pattern string) int
}

// Reconciler drives the strategy chain.
type Reconciler struct {
	api        ListingAPI
	strategies []Strategy
	notifier   Notifier
	inv        Invalidator
}

// New builds the standard chain: signed-credential delete, bearer-token
// read-then-decide, fallback direct delete. notifier and inv may be nil.
func New(api ListingAPI, cred marketplace.SellerCredential, notifier Notifier, inv Invalidator) *Reconciler {
	return &Reconciler{
		api: api,
		strategies: []Strategy{
			&signedDelete{api: api, cred: cred},
			&readThenDecide{api: api},
			&fallbackDelete{api: api},
		},
		notifier: notifier,
		inv:      inv,
	}
}

// Reconcile ensures the listing no longer advertises quantityPurchased sold
// units. Returns true on success. Calling it twice with the same arguments
// is safe: a second pass sees 404 and reports success without writing.
func (r *Reconciler) Reconcile(ctx context.Context, listingID model.ProductID, quantityPurchased int) bool {
	// Missing API credential is a configuration error: fail fast, no chain.
	if !r.api.Configured() {
		slog.Error("inventory reconciliation misconfigured", "err", marketplace.ErrNoToken)
		metrics.ReconcileOutcomes.WithLabelValues("none", "config_error").Inc()
		return false
	}

	for _, s := range r.strategies {
		res := s.Apply(ctx, listingID, quantityPurchased)
		switch res.Outcome {
		case Success:
			metrics.ReconcileOutcomes.WithLabelValues(s.Name(), "success").Inc()
			slog.Info("inventory reconciled",
				"listing", listingID.String(), "strategy", s.Name(), "remaining", res.Remaining)
			if r.notifier != nil && res.Remaining >= 0 {
				r.notifier.StockChanged(listingID.String(), res.Remaining)
			}
			// Cached inventory pages now advertise stale quantities.
			if r.inv != nil {
				r.inv.Clear(ctx, "inventory:*")
			}
			return true
		case Retryable:
			metrics.ReconcileOutcomes.WithLabelValues(s.Name(), "retryable").Inc()
			slog.Warn("reconcile strategy failed, trying next",
				"listing", listingID.String(), "strategy", s.Name(), "err", res.Err)
		case Fatal:
			metrics.ReconcileOutcomes.WithLabelValues(s.Name(), "fatal").Inc()
			slog.Error("inventory reconciliation failed",
				"listing", listingID.String(), "strategy", s.Name(), "err", res.Err)
			return false
		}
	}

	slog.Error("inventory reconciliation exhausted all strategies", "listing", listingID.String())
	return false
}

// signedDelete deletes the listing outright using the per-seller signed
// credential. Highest priority; success short-circuits the chain.
type signedDelete struct {
	api  ListingAPI
	cred marketplace.SellerCredential
}

func (s *signedDelete) Name() string { return "signed_delete" }

func (s *signedDelete) Apply(ctx context.Context, listingID model.ProductID, _ int) Result {
	if s.cred.Key == "" || s.cred.Secret == "" {
		return Result{Outcome: Retryable, Remaining: -1, Err: errors.New("no seller credential")}
	}
	if err := s.api.DeleteListingSigned(ctx, listingID, s.cred); err != nil {
		return Result{Outcome: Retryable, Remaining: -1, Err: err}
	}
	return Result{Outcome: Success, Remaining: 0}
}

// readThenDecide fetches the live listing and either decrements its quantity
// or deletes it. The update preserves every field from the fresh read, never
// from stale local state, so concurrent price/condition edits survive.
type readThenDecide struct {
	api ListingAPI
}

func (s *readThenDecide) Name() string { return "read_then_decide" }

func (s *readThenDecide) Apply(ctx context.Context, listingID model.ProductID, quantityPurchased int) Result {
	listing, err := s.api.GetListing(ctx, listingID)
	if errors.Is(err, marketplace.ErrListingNotFound) {
		// Already removed, likely by a concurrent purchase of the last unit.
		// That is the desired end state.
		return Result{Outcome: Success, Remaining: 0}
	}
	if err != nil {
		return Result{Outcome: Retryable, Remaining: -1, Err: err}
	}

	if listing.Quantity <= quantityPurchased {
		if err := s.api.DeleteListing(ctx, listingID); err != nil {
			return Result{Outcome: Retryable, Remaining: -1, Err: err}
		}
		return Result{Outcome: Success, Remaining: 0}
	}

	remaining := listing.Quantity - quantityPurchased
	if err := s.api.UpdateListing(ctx, listing, remaining); err != nil {
		return Result{Outcome: Retryable, Remaining: -1, Err: err}
	}
	return Result{Outcome: Success, Remaining: remaining}
}

// fallbackDelete is the last resort: an unconditional delete. If this also
// fails the chain reports failure.
type fallbackDelete struct {
	api ListingAPI
}

func (s *fallbackDelete) Name() string { return "fallback_delete" }

func (s *fallbackDelete) Apply(ctx context.Context, listingID model.ProductID, _ int) Result {
	if err := s.api.DeleteListing(ctx, listingID); err != nil {
		return Result{Outcome: Fatal, Remaining: -1, Err: err}
	}
	return Result{Outcome: Success, Remaining: 0}
}
