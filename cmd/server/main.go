package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vinylhaus/storefront/internal/cache"
	"github.com/vinylhaus/storefront/internal/cart"
	"github.com/vinylhaus/storefront/internal/checkout"
	"github.com/vinylhaus/storefront/internal/marketplace"
	"github.com/vinylhaus/storefront/internal/metrics"
	"github.com/vinylhaus/storefront/internal/reconcile"
	"github.com/vinylhaus/storefront/internal/stock"
	"github.com/vinylhaus/storefront/internal/store"
	"github.com/vinylhaus/storefront/internal/transport"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Cache (best-effort, lazily connected) ---
	c := cache.New(os.Getenv("REDIS_URL"))
	cleanup = append(cleanup, c.Close)

	// --- Marketplace client with retrying transport ---
	rateLimit := 55 // marketplace allows 60 authenticated requests/minute
	if v := os.Getenv("MARKETPLACE_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			rateLimit = n
		}
	}
	governor := transport.NewGovernor(rateLimit, time.Minute)
	tc := transport.NewClient(nil, transport.DefaultConfig, governor)
	mkt := marketplace.NewClient(
		os.Getenv("MARKETPLACE_URL"),
		os.Getenv("MARKETPLACE_TOKEN"),
		tc,
	)
	if !mkt.Configured() {
		slog.Warn("MARKETPLACE_TOKEN not set, inventory reconciliation will fail")
	}

	// --- Stock-update hub ---
	hub := stock.NewHub()
	go hub.Run()

	// --- Inventory reconciler ---
	cred := marketplace.SellerCredential{
		Key:    os.Getenv("SELLER_KEY"),
		Secret: os.Getenv("SELLER_SECRET"),
	}
	reconciler := reconcile.New(mkt, cred, hub, c)

	// --- Services ---
	catalog := marketplace.NewCatalog(mkt, c)
	cartSvc := cart.NewService(st)
	checkoutSvc := checkout.NewService(st, reconciler, os.Getenv("WEBHOOK_SECRET"))

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"storefront"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	// Payment provider webhook (signed payloads, no auth middleware).
	r.Post("/webhooks/payment", checkoutSvc.HandleWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		// Live stock updates for product pages.
		r.Get("/stock/ws", hub.HandleWS)

		// Catalog browse (cached marketplace reads).
		r.Get("/catalog/sellers/{seller}/inventory", catalog.HandleSellerInventory)
		r.Get("/catalog/releases/{releaseID}", catalog.HandleGetRelease)

		// Cart.
		r.Get("/cart", cartSvc.HandleGet)
		r.Delete("/cart", cartSvc.HandleClear)
		r.Post("/cart/items", cartSvc.HandleAddItem)
		r.Patch("/cart/items/{itemID}", cartSvc.HandleUpdateItem)
		r.Delete("/cart/items/{itemID}", cartSvc.HandleRemoveItem)
		r.Post("/cart/merge", cartSvc.HandleMerge)

		// Orders.
		r.Get("/orders", checkoutSvc.HandleListOrders)
		r.Get("/orders/{orderID}", checkoutSvc.HandleGetOrder)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("storefront listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down storefront...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("storefront stopped")
}
