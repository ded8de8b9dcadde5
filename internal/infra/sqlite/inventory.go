package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/focusquest/focusquest/internal/domain"
)

// ─── Inventory ──────────────────────────────────────────────────────────────

// AddInventory grants qty units of an item and returns the new quantity.
func (d *DB) AddInventory(ctx context.Context, userID, itemID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, fmt.Errorf("inventory quantity must be positive, got %d", qty)
	}
	var owned int
	err := d.db.QueryRowContext(ctx,
		`INSERT INTO inventory (user_id, item_id, quantity) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, item_id) DO UPDATE SET quantity = quantity + excluded.quantity
		 RETURNING quantity`,
		userID, itemID, qty,
	).Scan(&owned)
	return owned, err
}

// ConsumeInventory removes one unit of an item and returns what is left.
func (d *DB) ConsumeInventory(ctx context.Context, userID, itemID string) (int, error) {
	var left int
	err := d.db.QueryRowContext(ctx,
		`UPDATE inventory SET quantity = quantity - 1
		 WHERE user_id = ? AND item_id = ? AND quantity > 0
		 RETURNING quantity`,
		userID, itemID,
	).Scan(&left)
	if err == sql.ErrNoRows {
		return 0, domain.ErrItemNotOwned
	}
	return left, err
}

// ListInventory returns the items a user holds.
func (d *DB) ListInventory(ctx context.Context, userID string) ([]domain.InventoryItem, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT user_id, item_id, quantity FROM inventory
		 WHERE user_id = ? AND quantity > 0 ORDER BY item_id`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.InventoryItem
	for rows.Next() {
		var it domain.InventoryItem
		if err := rows.Scan(&it.UserID, &it.ItemID, &it.Quantity); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
