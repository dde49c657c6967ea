package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/adilv/go-checkout-store/internal/database"
)

// DecreaseStock atomically takes qty units off a product's available stock.
// The guard makes the operation fail rather than drive stock negative; it is
// never clamped. Must run inside the transaction that records the reason for
// the adjustment so partial multi-line effects roll back together.
func DecreaseStock(ctx context.Context, tx *sql.Tx, productID int64, qty int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity - $1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND stock_quantity >= $1`,
		qty, productID)
	if err != nil {
		return fmt.Errorf("decrease stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`,
			productID).Scan(&exists); err != nil {
			return fmt.Errorf("check product exists: %w", err)
		}
		if !exists {
			return database.ErrProductNotFound
		}
		return database.ErrInsufficientStock
	}

	return nil
}

// IncreaseStock puts qty units back, used when a cancelled order had already
// been fulfilled.
func IncreaseStock(ctx context.Context, tx *sql.Tx, productID int64, qty int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity + $1,
		     updated_at = NOW()
		 WHERE id = $2`,
		qty, productID)
	if err != nil {
		return fmt.Errorf("increase stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrProductNotFound
	}

	return nil
}
