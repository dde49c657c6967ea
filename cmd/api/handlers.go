package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/adilv/go-checkout-store/internal/database"
	"github.com/adilv/go-checkout-store/internal/models"
	"github.com/adilv/go-checkout-store/internal/store"
)

func (a *api) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Error("encode response", zap.Error(err))
	}
}

func (a *api) respondError(w http.ResponseWriter, status int, message string) {
	a.respondJSON(w, status, map[string]string{"error": message})
}

// writeError maps the business error taxonomy onto HTTP statuses. Anything
// unrecognized is an infrastructure failure: logged, opaque 500.
func (a *api) writeError(w http.ResponseWriter, err error) {
	if cerr, ok := database.AsCouponError(err); ok {
		a.respondJSON(w, http.StatusBadRequest, map[string]any{
			"error":  cerr.Error(),
			"code":   cerr.Code,
			"reason": string(cerr.Reason),
		})
		return
	}

	switch {
	case errors.Is(err, database.ErrEmptyCart),
		errors.Is(err, database.ErrInvalidQuantity):
		a.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrAccessDenied):
		a.respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, database.ErrUserNotFound),
		errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrCartNotFound):
		a.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrInsufficientStock),
		errors.Is(err, database.ErrInvalidStatusTransition),
		errors.Is(err, database.ErrOrderDeleted):
		a.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		a.respondError(w, http.StatusServiceUnavailable, "operation timed out, retry")
	default:
		a.logger.Error("internal error", zap.Error(err))
		a.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *api) requireIdentity(w http.ResponseWriter, r *http.Request) (identity, bool) {
	id, ok := identityFrom(r)
	if !ok {
		a.respondError(w, http.StatusUnauthorized, "authentication required")
	}
	return id, ok
}

func (a *api) requireAdmin(w http.ResponseWriter, r *http.Request) (identity, bool) {
	id, ok := a.requireIdentity(w, r)
	if !ok {
		return id, false
	}
	if id.Role != models.RoleAdmin {
		a.respondError(w, http.StatusForbidden, "admin role required")
		return id, false
	}
	return id, true
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func (a *api) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Name  string `json:"name"`
		Role  string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := store.CreateUser(r.Context(), a.db, req.Email, req.Name, req.Role)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.respondJSON(w, http.StatusCreated, user)
}

func (a *api) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	user, err := store.GetUser(r.Context(), a.db, id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, user)
}

func (a *api) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := a.requireIdentity(w, r)
	if !ok {
		return
	}

	var req struct {
		SKU         string  `json:"sku"`
		Name        string  `json:"name"`
		Description string  `json:"description"`
		Price       float64 `json:"price"`
		Stock       int     `json:"stock"`
		SellerID    int64   `json:"seller_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sellerID := id.UserID
	if id.Role == models.RoleAdmin && req.SellerID > 0 {
		sellerID = req.SellerID
	}

	price := decimal.NewFromFloat(req.Price)
	product, err := store.CreateProduct(r.Context(), a.db, req.SKU, req.Name, req.Description, price, req.Stock, sellerID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.respondJSON(w, http.StatusCreated, product)
}

func (a *api) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid product ID")
		return
	}

	product, err := store.GetProduct(r.Context(), a.db, id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, product)
}

func (a *api) handleListProducts(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r)
	result, err := store.ListProducts(r.Context(), a.db, page, pageSize)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, result)
}

func pagination(r *http.Request) (page, pageSize int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

// cartOwner resolves who the cart request is for. /guest-cart routes key the
// cart by the opaque Session-Id bearer token; /cart routes need an
// authenticated account.
func (a *api) cartOwner(w http.ResponseWriter, r *http.Request) (store.CartOwner, bool) {
	if strings.HasPrefix(r.URL.Path, "/guest-cart") {
		token := r.Header.Get(headerSession)
		if token == "" {
			if r.Method == http.MethodPost && !strings.HasSuffix(r.URL.Path, "/merge") {
				// First guest interaction: mint the session token.
				token = uuid.NewString()
				w.Header().Set(headerSession, token)
			} else {
				a.respondError(w, http.StatusBadRequest, "missing Session-Id header")
				return store.CartOwner{}, false
			}
		}
		return store.CartOwner{SessionToken: token}, true
	}

	id, ok := a.requireIdentity(w, r)
	if !ok {
		return store.CartOwner{}, false
	}
	return store.CartOwner{UserID: id.UserID}, true
}

func (a *api) handleGetCart(w http.ResponseWriter, r *http.Request) {
	owner, ok := a.cartOwner(w, r)
	if !ok {
		return
	}

	cart, err := store.GetCart(r.Context(), a.db, owner)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, cart)
}

func (a *api) handleAddCartItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := a.cartOwner(w, r)
	if !ok {
		return
	}

	var req struct {
		ProductID int64 `json:"product_id"`
		Quantity  int   `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cart, err := store.AddCartItem(r.Context(), a.db, owner, req.ProductID, req.Quantity)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, cart)
}

func (a *api) handleSetCartItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := a.cartOwner(w, r)
	if !ok {
		return
	}

	var req struct {
		ProductID int64 `json:"product_id"`
		Quantity  int   `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cart, err := store.SetCartItemQuantity(r.Context(), a.db, owner, req.ProductID, req.Quantity)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, cart)
}

func (a *api) handleRemoveCartItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := a.cartOwner(w, r)
	if !ok {
		return
	}

	productID, err := pathID(r, "productID")
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid product ID")
		return
	}

	cart, err := store.RemoveCartItem(r.Context(), a.db, owner, productID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, cart)
}

func (a *api) handleClearCart(w http.ResponseWriter, r *http.Request) {
	owner, ok := a.cartOwner(w, r)
	if !ok {
		return
	}

	if err := store.ClearCart(r.Context(), a.db, owner); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMergeGuestCart folds the presented guest session's cart into the
// authenticated account's cart. The auth layer calls this once on the
// anonymous-to-authenticated edge; repeated calls are harmless no-ops.
func (a *api) handleMergeGuestCart(w http.ResponseWriter, r *http.Request) {
	id, ok := a.requireIdentity(w, r)
	if !ok {
		return
	}

	token := r.Header.Get(headerSession)
	if token == "" {
		a.respondError(w, http.StatusBadRequest, "missing Session-Id header")
		return
	}

	if err := store.MergeGuestCart(r.Context(), a.db, token, id.UserID); err != nil {
		a.writeError(w, err)
		return
	}

	cart, err := store.GetCart(r.Context(), a.db, store.CartOwner{UserID: id.UserID})
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, cart)
}

func (a *api) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := a.requireIdentity(w, r)
	if !ok {
		return
	}

	var req struct {
		Coupons []string `json:"coupons"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.checkout.Timeout)
	defer cancel()

	order, err := store.PlaceOrder(ctx, a.db, a.bus, a.logger, store.PlaceOrderRequest{
		UserID:      id.UserID,
		CouponCodes: req.Coupons,
		MaxRetries:  a.checkout.MaxRetries,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.respondJSON(w, http.StatusCreated, order)
}

func (a *api) handleListOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := a.requireIdentity(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	result, err := store.ListOrdersCursor(r.Context(), a.db, id.UserID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, result)
}

func (a *api) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := a.requireIdentity(w, r)
	if !ok {
		return
	}

	orderID, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid order ID")
		return
	}

	order, err := store.GetOrder(r.Context(), a.db, orderID)
	if err != nil {
		a.writeError(w, err)
		return
	}

	// Orders are buyer-owned for reads; soft-deleted ones are hidden from
	// everyone but admins.
	if id.Role != models.RoleAdmin && (order.UserID != id.UserID || order.DeletedAt != nil) {
		a.writeError(w, database.ErrOrderNotFound)
		return
	}
	a.respondJSON(w, http.StatusOK, order)
}

func (a *api) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := a.requireIdentity(w, r)
	if !ok {
		return
	}

	orderID, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid order ID")
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.checkout.Timeout)
	defer cancel()

	order, err := store.UpdateOrderStatus(ctx, a.db, a.bus, a.logger, orderID, req.Status,
		store.Actor{UserID: id.UserID, Role: id.Role})
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, order)
}

func (a *api) handleListSellerOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := a.requireIdentity(w, r)
	if !ok {
		return
	}

	sellerID, err := pathID(r, "sellerID")
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid seller ID")
		return
	}

	if id.Role != models.RoleAdmin && !(id.Role == models.RoleSeller && id.UserID == sellerID) {
		a.respondError(w, http.StatusForbidden, "access denied")
		return
	}

	orders, err := store.ListSellerOrders(r.Context(), a.db, sellerID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, map[string]any{"items": orders})
}

func (a *api) handleValidateCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := a.requireIdentity(w, r)
	if !ok {
		return
	}

	var req struct {
		Code           string  `json:"code"`
		PurchaseAmount float64 `json:"purchase_amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	_, discount, err := store.ValidateCoupon(r.Context(), a.db, req.Code,
		decimal.NewFromFloat(req.PurchaseAmount), id.UserID)
	if err != nil {
		if cerr, ok := database.AsCouponError(err); ok {
			a.respondJSON(w, http.StatusBadRequest, map[string]any{
				"valid":  false,
				"code":   cerr.Code,
				"reason": string(cerr.Reason),
			})
			return
		}
		a.writeError(w, err)
		return
	}

	a.respondJSON(w, http.StatusOK, map[string]any{
		"valid":           true,
		"discount_amount": discount,
	})
}

func (a *api) handleAdminListOrders(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}

	page, pageSize := pagination(r)
	result, err := store.ListAllOrders(r.Context(), a.db, page, pageSize)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, result)
}

func (a *api) handleSoftDeleteOrder(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}

	orderID, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid order ID")
		return
	}

	if err := store.SoftDeleteOrder(r.Context(), a.db, orderID); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleRestoreOrder(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}

	orderID, err := pathID(r, "id")
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid order ID")
		return
	}

	if err := store.RestoreOrder(r.Context(), a.db, orderID); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleCreateCoupon(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}

	var req struct {
		Code            string    `json:"code"`
		Type            string    `json:"type"`
		Value           float64   `json:"value"`
		MinimumPurchase float64   `json:"minimum_purchase"`
		StartsAt        time.Time `json:"starts_at"`
		ExpiresAt       time.Time `json:"expires_at"`
		MaxUsage        *int      `json:"max_usage"`
		MaxUsagePerUser int       `json:"max_usage_per_user"`
		Active          bool      `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	coupon, err := store.CreateCoupon(r.Context(), a.db, models.Coupon{
		Code:            req.Code,
		Type:            req.Type,
		Value:           decimal.NewFromFloat(req.Value),
		MinimumPurchase: decimal.NewFromFloat(req.MinimumPurchase),
		StartsAt:        req.StartsAt,
		ExpiresAt:       req.ExpiresAt,
		MaxUsage:        req.MaxUsage,
		MaxUsagePerUser: req.MaxUsagePerUser,
		Active:          req.Active,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.respondJSON(w, http.StatusCreated, coupon)
}
