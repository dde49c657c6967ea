package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/adilv/go-checkout-store/internal/config"
	"github.com/adilv/go-checkout-store/internal/database"
	"github.com/adilv/go-checkout-store/internal/events"
)

type api struct {
	db       *sql.DB
	bus      *events.Bus
	logger   *zap.Logger
	checkout config.CheckoutConfig
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		logger.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("connected to database")

	bus := events.NewBus(logger)
	defer bus.Close()

	// Placeholder seller delivery: real notification transport plugs in
	// here by subscribing to the bus.
	go func() {
		for ev := range bus.Subscribe(64) {
			logger.Info("seller notification",
				zap.String("type", string(ev.Type)),
				zap.Int64("order_id", ev.OrderID),
				zap.Int64("seller_id", ev.SellerID),
				zap.String("status", ev.Status))
		}
	}()

	a := &api{db: db, bus: bus, logger: logger, checkout: cfg.Checkout}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(withIdentity)

	a.routes(r)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
			return nil, err
		}
	}
	return cfg.Build()
}

func (a *api) routes(r chi.Router) {
	r.Post("/users", a.handleCreateUser)
	r.Get("/users/{id}", a.handleGetUser)

	r.Post("/products", a.handleCreateProduct)
	r.Get("/products", a.handleListProducts)
	r.Get("/products/{id}", a.handleGetProduct)

	r.Route("/cart", func(r chi.Router) {
		r.Get("/", a.handleGetCart)
		r.Post("/", a.handleAddCartItem)
		r.Put("/", a.handleSetCartItem)
		r.Delete("/", a.handleClearCart)
		r.Delete("/items/{productID}", a.handleRemoveCartItem)
	})

	r.Route("/guest-cart", func(r chi.Router) {
		r.Get("/", a.handleGetCart)
		r.Post("/", a.handleAddCartItem)
		r.Put("/", a.handleSetCartItem)
		r.Delete("/", a.handleClearCart)
		r.Delete("/items/{productID}", a.handleRemoveCartItem)
		r.Post("/merge", a.handleMergeGuestCart)
	})

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", a.handlePlaceOrder)
		r.Get("/", a.handleListOrders)
		r.Get("/{id}", a.handleGetOrder)
		r.Patch("/{id}/status", a.handleUpdateOrderStatus)
		r.Get("/seller/{sellerID}", a.handleListSellerOrders)
	})

	r.Post("/coupons/validate", a.handleValidateCoupon)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/orders", a.handleAdminListOrders)
		r.Delete("/orders/{id}", a.handleSoftDeleteOrder)
		r.Post("/orders/{id}/restore", a.handleRestoreOrder)
		r.Post("/coupons", a.handleCreateCoupon)
	})
}
