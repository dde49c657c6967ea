package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/adilv/go-checkout-store/internal/database"
	"github.com/adilv/go-checkout-store/internal/events"
	"github.com/adilv/go-checkout-store/internal/models"
)

type PlaceOrderRequest struct {
	UserID      int64
	CouponCodes []string
	MaxRetries  int
}

func generateOrderNumber() string {
	return "ORD-" + uuid.NewString()
}

func dedupeCodes(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	var out []string
	for _, code := range codes {
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}

// PlaceOrder converts the buyer's cart into a pending order: read cart,
// validate coupons, freeze prices, write the order, record coupon usage and
// clear the cart, all in one serializable transaction. Stock is not touched
// here; it is adjusted when the order is fulfilled. After commit one
// newOrder event is published per distinct seller, best-effort.
func PlaceOrder(ctx context.Context, db *sql.DB, bus *events.Bus, logger *zap.Logger, req PlaceOrderRequest) (*models.Order, error) {
	if req.MaxRetries <= 0 {
		req.MaxRetries = 3
	}
	codes := dedupeCodes(req.CouponCodes)

	var (
		order   *models.Order
		sellers map[int64]struct{}
	)

	err := database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     req.MaxRetries,
	}, func(tx *sql.Tx) error {
		order = nil
		sellers = make(map[int64]struct{})

		var cartID int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM carts WHERE user_id = $1 FOR UPDATE`,
			req.UserID).Scan(&cartID)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrEmptyCart
			}
			return fmt.Errorf("lock cart: %w", err)
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT product_id, quantity FROM cart_items WHERE cart_id = $1 ORDER BY id`,
			cartID)
		if err != nil {
			return fmt.Errorf("read cart items: %w", err)
		}

		type cartLine struct {
			productID int64
			quantity  int
		}
		var lines []cartLine
		for rows.Next() {
			var line cartLine
			if err := rows.Scan(&line.productID, &line.quantity); err != nil {
				rows.Close()
				return fmt.Errorf("scan cart item: %w", err)
			}
			lines = append(lines, line)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		if len(lines) == 0 {
			return database.ErrEmptyCart
		}

		totalAmount := decimal.Zero
		unitPrices := make(map[int64]decimal.Decimal, len(lines))
		for _, line := range lines {
			price, sellerID, err := lookupCatalog(ctx, tx, line.productID)
			if err != nil {
				return err
			}
			unitPrices[line.productID] = price
			sellers[sellerID] = struct{}{}
			totalAmount = totalAmount.Add(price.Mul(decimal.NewFromInt(int64(line.quantity))))
		}

		// Any invalid code fails the whole checkout; coupons are never
		// partially applied.
		type appliedCoupon struct {
			coupon   *models.Coupon
			discount decimal.Decimal
		}
		var applied []appliedCoupon
		totalDiscount := decimal.Zero
		for _, code := range codes {
			coupon, discount, err := ValidateCoupon(ctx, tx, code, totalAmount, req.UserID)
			if err != nil {
				return err
			}
			applied = append(applied, appliedCoupon{coupon: coupon, discount: discount})
			totalDiscount = totalDiscount.Add(discount)
		}

		finalAmount := totalAmount.Sub(totalDiscount)
		if finalAmount.IsNegative() {
			finalAmount = decimal.Zero
		}

		var orderID int64
		err = tx.QueryRowContext(ctx,
			`INSERT INTO orders (order_number, user_id, status, total_amount, final_amount,
			                     stock_applied, created_at, updated_at, version)
			 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW(), 1)
			 RETURNING id`,
			generateOrderNumber(), req.UserID, models.OrderStatusPending,
			totalAmount, finalAmount, models.StockAppliedNone).Scan(&orderID)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for _, line := range lines {
			unitPrice := unitPrices[line.productID]
			subtotal := unitPrice.Mul(decimal.NewFromInt(int64(line.quantity)))

			_, err = tx.ExecContext(ctx,
				`INSERT INTO order_items (order_id, product_id, quantity, unit_price, subtotal, created_at)
				 VALUES ($1, $2, $3, $4, $5, NOW())`,
				orderID, line.productID, line.quantity, unitPrice, subtotal)
			if err != nil {
				return fmt.Errorf("create order item: %w", err)
			}
		}

		for _, ac := range applied {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO order_coupons (order_id, coupon_id, code, discount_amount)
				 VALUES ($1, $2, $3, $4)`,
				orderID, ac.coupon.ID, ac.coupon.Code, ac.discount)
			if err != nil {
				return fmt.Errorf("record applied coupon: %w", err)
			}

			if err := RecordCouponUsage(ctx, tx, ac.coupon.ID, req.UserID, orderID); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}

		order, err = fetchOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	// The order has committed; seller notification is best-effort.
	if bus != nil {
		for sellerID := range sellers {
			bus.Publish(events.Event{
				Type:     events.TypeNewOrder,
				OrderID:  order.ID,
				BuyerID:  order.UserID,
				SellerID: sellerID,
			})
		}
	}
	if logger != nil {
		logger.Info("order placed",
			zap.Int64("order_id", order.ID),
			zap.Int64("user_id", order.UserID),
			zap.String("total", order.TotalAmount.String()),
			zap.String("final", order.FinalAmount.String()))
	}

	return order, nil
}

func fetchOrder(ctx context.Context, q Querier, id int64) (*models.Order, error) {
	order := &models.Order{}

	query := `
		SELECT id, order_number, user_id, status, total_amount, final_amount,
		       deleted_at, created_at, updated_at, version
		FROM orders
		WHERE id = $1`

	err := q.QueryRowContext(ctx, query, id).Scan(
		&order.ID,
		&order.OrderNumber,
		&order.UserID,
		&order.Status,
		&order.TotalAmount,
		&order.FinalAmount,
		&order.DeletedAt,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, order_id, product_id, quantity, unit_price, subtotal, created_at
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		id)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	couponRows, err := q.QueryContext(ctx,
		`SELECT order_id, coupon_id, code, discount_amount
		 FROM order_coupons
		 WHERE order_id = $1
		 ORDER BY coupon_id`,
		id)
	if err != nil {
		return nil, fmt.Errorf("get order coupons: %w", err)
	}
	defer couponRows.Close()

	for couponRows.Next() {
		var ac models.AppliedCoupon
		err := couponRows.Scan(&ac.OrderID, &ac.CouponID, &ac.Code, &ac.DiscountAmount)
		if err != nil {
			return nil, fmt.Errorf("scan order coupon: %w", err)
		}
		order.Coupons = append(order.Coupons, ac)
	}
	if err := couponRows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return order, nil
}

// GetOrder loads an order with its lines and applied coupons. Soft-deleted
// orders are returned with DeletedAt set; visibility is the caller's policy.
func GetOrder(ctx context.Context, db *sql.DB, id int64) (*models.Order, error) {
	return fetchOrder(ctx, db, id)
}

// ListOrdersCursor pages a buyer's non-deleted orders, newest first.
func ListOrdersCursor(ctx context.Context, db *sql.DB, userID int64, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT id, order_number, user_id, status, total_amount, final_amount, created_at, updated_at, version
		FROM orders
		WHERE user_id = $1
		  AND deleted_at IS NULL
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		err := rows.Scan(
			&order.ID,
			&order.OrderNumber,
			&order.UserID,
			&order.Status,
			&order.TotalAmount,
			&order.FinalAmount,
			&order.CreatedAt,
			&order.UpdatedAt,
			&order.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// ListAllOrders is the admin view: offset-paginated, soft-deleted included.
func ListAllOrders(ctx context.Context, db *sql.DB, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT id, order_number, user_id, status, total_amount, final_amount, deleted_at, created_at, updated_at, version
		FROM orders
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`

	rows, err := db.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		err := rows.Scan(
			&order.ID,
			&order.OrderNumber,
			&order.UserID,
			&order.Status,
			&order.TotalAmount,
			&order.FinalAmount,
			&order.DeletedAt,
			&order.CreatedAt,
			&order.UpdatedAt,
			&order.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	return &OffsetPage{
		Items:      orders,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// ListSellerOrders returns each non-deleted order containing the seller's
// products, restricted to that seller's lines, with their combined subtotal.
func ListSellerOrders(ctx context.Context, db *sql.DB, sellerID int64) ([]models.SellerOrder, error) {
	query := `
		SELECT o.id, o.order_number, o.user_id, o.status, o.created_at,
		       oi.id, oi.order_id, oi.product_id, oi.quantity, oi.unit_price, oi.subtotal, oi.created_at
		FROM orders o
		JOIN order_items oi ON oi.order_id = o.id
		JOIN products p ON p.id = oi.product_id
		WHERE p.seller_id = $1
		  AND o.deleted_at IS NULL
		ORDER BY o.created_at DESC, o.id DESC, oi.id`

	rows, err := db.QueryContext(ctx, query, sellerID)
	if err != nil {
		return nil, fmt.Errorf("list seller orders: %w", err)
	}
	defer rows.Close()

	var (
		result []models.SellerOrder
		byID   = make(map[int64]int)
	)
	for rows.Next() {
		var (
			so   models.SellerOrder
			item models.OrderItem
		)
		err := rows.Scan(
			&so.OrderID,
			&so.OrderNumber,
			&so.BuyerID,
			&so.Status,
			&so.CreatedAt,
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan seller order: %w", err)
		}

		idx, ok := byID[so.OrderID]
		if !ok {
			so.SellerTotal = decimal.Zero
			result = append(result, so)
			idx = len(result) - 1
			byID[so.OrderID] = idx
		}
		result[idx].Items = append(result[idx].Items, item)
		result[idx].SellerTotal = result[idx].SellerTotal.Add(item.Subtotal)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return result, nil
}
