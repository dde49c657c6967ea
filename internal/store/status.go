package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/adilv/go-checkout-store/internal/database"
	"github.com/adilv/go-checkout-store/internal/events"
	"github.com/adilv/go-checkout-store/internal/models"
)

// Actor is the verified identity performing a status change, as supplied by
// the authentication layer.
type Actor struct {
	UserID int64
	Role   string
}

// UpdateOrderStatus moves an order along the transition table and applies
// the paired stock effects in the same transaction: the first entry into
// shipped/delivered decreases stock per line exactly once, and entering
// cancelled restores it exactly once if it had been decreased. Buyers may
// only cancel their own orders; sellers must own at least one line; admins
// are unrestricted. Soft-deleted orders refuse all transitions.
func UpdateOrderStatus(ctx context.Context, db *sql.DB, bus *events.Bus, logger *zap.Logger, orderID int64, newStatus string, actor Actor) (*models.Order, error) {
	if !models.ValidStatus(newStatus) {
		return nil, database.ErrInvalidStatusTransition
	}

	var (
		order   *models.Order
		sellers map[int64]struct{}
	)

	err := database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		order = nil
		sellers = nil

		var (
			buyerID      int64
			status       string
			stockApplied string
			deleted      sql.NullTime
		)
		err := tx.QueryRowContext(ctx,
			`SELECT user_id, status, stock_applied, deleted_at
			 FROM orders
			 WHERE id = $1
			 FOR UPDATE`,
			orderID).Scan(&buyerID, &status, &stockApplied, &deleted)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}

		if deleted.Valid {
			return database.ErrOrderDeleted
		}

		switch actor.Role {
		case models.RoleAdmin:
		case models.RoleSeller:
			var owns bool
			err := tx.QueryRowContext(ctx,
				`SELECT EXISTS(
					SELECT 1 FROM order_items oi
					JOIN products p ON p.id = oi.product_id
					WHERE oi.order_id = $1 AND p.seller_id = $2)`,
				orderID, actor.UserID).Scan(&owns)
			if err != nil {
				return fmt.Errorf("check seller ownership: %w", err)
			}
			if !owns {
				return database.ErrAccessDenied
			}
		default:
			// Buyers may cancel their own pending-side orders, nothing else.
			if actor.UserID != buyerID || newStatus != models.OrderStatusCancelled {
				return database.ErrAccessDenied
			}
		}

		if !models.CanTransition(status, newStatus) {
			return database.ErrInvalidStatusTransition
		}

		items, err := orderLines(ctx, tx, orderID)
		if err != nil {
			return err
		}

		fulfilling := newStatus == models.OrderStatusShipped || newStatus == models.OrderStatusDelivered
		if fulfilling && stockApplied == models.StockAppliedNone {
			for _, item := range items {
				if err := DecreaseStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
					return err
				}
			}
			stockApplied = models.StockAppliedDecreased
		}

		if newStatus == models.OrderStatusCancelled && stockApplied == models.StockAppliedDecreased {
			for _, item := range items {
				if err := IncreaseStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
					return err
				}
			}
			stockApplied = models.StockAppliedRestored
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE orders
			 SET status = $1, stock_applied = $2, updated_at = NOW(), version = version + 1
			 WHERE id = $3`,
			newStatus, stockApplied, orderID)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}

		if newStatus == models.OrderStatusCancelled {
			sellers, err = orderSellers(ctx, tx, orderID)
			if err != nil {
				return err
			}
		}

		order, err = fetchOrder(ctx, tx, orderID)
		return err
	})

	if err != nil {
		return nil, err
	}

	if bus != nil && newStatus == models.OrderStatusCancelled {
		for sellerID := range sellers {
			bus.Publish(events.Event{
				Type:     events.TypeOrderDeleted,
				OrderID:  order.ID,
				BuyerID:  order.UserID,
				SellerID: sellerID,
				Status:   order.Status,
			})
		}
	}
	if logger != nil {
		logger.Info("order status updated",
			zap.Int64("order_id", orderID),
			zap.String("status", newStatus),
			zap.Int64("actor_id", actor.UserID),
			zap.String("actor_role", actor.Role))
	}

	return order, nil
}

func orderLines(ctx context.Context, tx *sql.Tx, orderID int64) ([]models.OrderItem, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT product_id, quantity FROM order_items WHERE order_id = $1 ORDER BY id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("get order lines: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Quantity); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return items, nil
}

func orderSellers(ctx context.Context, tx *sql.Tx, orderID int64) (map[int64]struct{}, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT DISTINCT p.seller_id
		 FROM order_items oi
		 JOIN products p ON p.id = oi.product_id
		 WHERE oi.order_id = $1`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("get order sellers: %w", err)
	}
	defer rows.Close()

	sellers := make(map[int64]struct{})
	for rows.Next() {
		var sellerID int64
		if err := rows.Scan(&sellerID); err != nil {
			return nil, fmt.Errorf("scan seller: %w", err)
		}
		sellers[sellerID] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return sellers, nil
}

// SoftDeleteOrder hides an order without destroying it. Admin only;
// enforced by the caller.
func SoftDeleteOrder(ctx context.Context, db *sql.DB, orderID int64) error {
	result, err := db.ExecContext(ctx,
		`UPDATE orders SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`,
		orderID)
	if err != nil {
		return fmt.Errorf("soft delete order: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrOrderNotFound
	}
	return nil
}

func RestoreOrder(ctx context.Context, db *sql.DB, orderID int64) error {
	result, err := db.ExecContext(ctx,
		`UPDATE orders SET deleted_at = NULL, updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NOT NULL`,
		orderID)
	if err != nil {
		return fmt.Errorf("restore order: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrOrderNotFound
	}
	return nil
}
