package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/adilv/go-checkout-store/internal/database"
	"github.com/adilv/go-checkout-store/internal/models"
)

// CartOwner identifies whose cart is being touched: an authenticated account
// (UserID) or a guest session (SessionToken). Exactly one must be set.
type CartOwner struct {
	UserID       int64
	SessionToken string
}

func (o CartOwner) guest() bool {
	return o.UserID == 0
}

func findCartID(ctx context.Context, q Querier, owner CartOwner) (int64, error) {
	var (
		id  int64
		err error
	)
	if owner.guest() {
		err = q.QueryRowContext(ctx,
			`SELECT id FROM carts WHERE session_token = $1`,
			owner.SessionToken).Scan(&id)
	} else {
		err = q.QueryRowContext(ctx,
			`SELECT id FROM carts WHERE user_id = $1`,
			owner.UserID).Scan(&id)
	}
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, database.ErrCartNotFound
		}
		return 0, fmt.Errorf("find cart: %w", err)
	}
	return id, nil
}

// getOrCreateCart creates the owner's cart lazily on first use.
func getOrCreateCart(ctx context.Context, tx *sql.Tx, owner CartOwner) (int64, error) {
	id, err := findCartID(ctx, tx, owner)
	if err == nil {
		return id, nil
	}
	if err != database.ErrCartNotFound {
		return 0, err
	}

	if owner.guest() {
		err = tx.QueryRowContext(ctx,
			`INSERT INTO carts (session_token, created_at, updated_at)
			 VALUES ($1, NOW(), NOW())
			 RETURNING id`,
			owner.SessionToken).Scan(&id)
	} else {
		err = tx.QueryRowContext(ctx,
			`INSERT INTO carts (user_id, created_at, updated_at)
			 VALUES ($1, NOW(), NOW())
			 RETURNING id`,
			owner.UserID).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("create cart: %w", err)
	}
	return id, nil
}

// AddCartItem adds qty units of a product, summing with any existing line.
func AddCartItem(ctx context.Context, db *sql.DB, owner CartOwner, productID int64, qty int) (*models.Cart, error) {
	if qty <= 0 {
		return nil, database.ErrInvalidQuantity
	}

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`,
			productID).Scan(&exists); err != nil {
			return fmt.Errorf("check product exists: %w", err)
		}
		if !exists {
			return database.ErrProductNotFound
		}

		cartID, err := getOrCreateCart(ctx, tx, owner)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO cart_items (cart_id, product_id, quantity, created_at, updated_at)
			 VALUES ($1, $2, $3, NOW(), NOW())
			 ON CONFLICT (cart_id, product_id)
			 DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity,
			               updated_at = NOW()`,
			cartID, productID, qty)
		if err != nil {
			return fmt.Errorf("upsert cart item: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return GetCart(ctx, db, owner)
}

// SetCartItemQuantity replaces a line's quantity; qty <= 0 removes the line.
func SetCartItemQuantity(ctx context.Context, db *sql.DB, owner CartOwner, productID int64, qty int) (*models.Cart, error) {
	if qty <= 0 {
		return RemoveCartItem(ctx, db, owner, productID)
	}

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`,
			productID).Scan(&exists); err != nil {
			return fmt.Errorf("check product exists: %w", err)
		}
		if !exists {
			return database.ErrProductNotFound
		}

		cartID, err := getOrCreateCart(ctx, tx, owner)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO cart_items (cart_id, product_id, quantity, created_at, updated_at)
			 VALUES ($1, $2, $3, NOW(), NOW())
			 ON CONFLICT (cart_id, product_id)
			 DO UPDATE SET quantity = EXCLUDED.quantity,
			               updated_at = NOW()`,
			cartID, productID, qty)
		if err != nil {
			return fmt.Errorf("set cart item quantity: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return GetCart(ctx, db, owner)
}

func RemoveCartItem(ctx context.Context, db *sql.DB, owner CartOwner, productID int64) (*models.Cart, error) {
	cartID, err := findCartID(ctx, db, owner)
	if err != nil {
		if err == database.ErrCartNotFound {
			return GetCart(ctx, db, owner)
		}
		return nil, err
	}

	_, err = db.ExecContext(ctx,
		`DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`,
		cartID, productID)
	if err != nil {
		return nil, fmt.Errorf("remove cart item: %w", err)
	}

	return GetCart(ctx, db, owner)
}

// ClearCart empties the owner's cart. Clearing an absent or already-empty
// cart is a no-op.
func ClearCart(ctx context.Context, db *sql.DB, owner CartOwner) error {
	cartID, err := findCartID(ctx, db, owner)
	if err != nil {
		if err == database.ErrCartNotFound {
			return nil
		}
		return err
	}

	_, err = db.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// GetCart reads the owner's cart, lines in insertion order. An owner without
// a cart row gets an empty cart back.
func GetCart(ctx context.Context, db *sql.DB, owner CartOwner) (*models.Cart, error) {
	cart := &models.Cart{}
	if owner.guest() {
		token := owner.SessionToken
		cart.SessionToken = &token
	} else {
		uid := owner.UserID
		cart.UserID = &uid
	}

	cartID, err := findCartID(ctx, db, owner)
	if err != nil {
		if err == database.ErrCartNotFound {
			return cart, nil
		}
		return nil, err
	}
	cart.ID = cartID

	rows, err := db.QueryContext(ctx,
		`SELECT id, cart_id, product_id, quantity, created_at, updated_at
		 FROM cart_items
		 WHERE cart_id = $1
		 ORDER BY id`,
		cartID)
	if err != nil {
		return nil, fmt.Errorf("get cart items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.CartItem
		err := rows.Scan(
			&item.ID,
			&item.CartID,
			&item.ProductID,
			&item.Quantity,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		cart.Items = append(cart.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return cart, nil
}

// MergeGuestCart folds a guest cart into the account cart, summing
// quantities per product, then deletes the guest cart. The advisory lock
// serializes merges per account, so a concurrent duplicate call either waits
// and finds no guest cart left or runs after the first completed; both are
// no-ops.
func MergeGuestCart(ctx context.Context, db *sql.DB, sessionToken string, accountID int64) error {
	return database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`SELECT pg_advisory_xact_lock($1)`, accountID); err != nil {
			return fmt.Errorf("acquire merge lock: %w", err)
		}

		var guestCartID int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM carts WHERE session_token = $1`,
			sessionToken).Scan(&guestCartID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return fmt.Errorf("find guest cart: %w", err)
		}

		accountCartID, err := getOrCreateCart(ctx, tx, CartOwner{UserID: accountID})
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO cart_items (cart_id, product_id, quantity, created_at, updated_at)
			 SELECT $1, product_id, quantity, NOW(), NOW()
			 FROM cart_items
			 WHERE cart_id = $2
			 ON CONFLICT (cart_id, product_id)
			 DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity,
			               updated_at = NOW()`,
			accountCartID, guestCartID)
		if err != nil {
			return fmt.Errorf("merge cart items: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM carts WHERE id = $1`, guestCartID); err != nil {
			return fmt.Errorf("delete guest cart: %w", err)
		}
		return nil
	})
}
