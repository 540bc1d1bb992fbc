package record

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hermonbest/my-money-sub001/internal/ident"
	"github.com/hermonbest/my-money-sub001/internal/payload"
	"github.com/hermonbest/my-money-sub001/internal/queue"
	"github.com/hermonbest/my-money-sub001/internal/store"
)

// InventoryItem is a stocked product.
type InventoryItem struct {
	ID        ident.ID
	TempID    string // id the item was created under, kept for resolution
	UserID    string
	StoreID   string
	Name      string
	Quantity  int
	UnitCost  float64
	UnitPrice float64
	Synced    bool
	IsOffline bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (i *InventoryItem) validate() error {
	if i.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if strings.TrimSpace(i.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if i.Quantity < 0 {
		return fmt.Errorf("%w: quantity cannot be negative", ErrValidation)
	}
	if i.UnitCost < 0 || i.UnitPrice < 0 {
		return fmt.Errorf("%w: prices cannot be negative", ErrValidation)
	}
	return nil
}

func (i *InventoryItem) wire() *payload.Inventory {
	return &payload.Inventory{
		ID:        i.ID.String(),
		UserID:    i.UserID,
		StoreID:   i.StoreID,
		Name:      i.Name,
		Quantity:  i.Quantity,
		UnitCost:  i.UnitCost,
		UnitPrice: i.UnitPrice,
	}
}

// CreateInventoryItem mints a temporary identifier, stores the item, and
// queues it for sync, all in one transaction. The item is updated in place
// with the minted id and timestamps.
func (r *Repo) CreateInventoryItem(ctx context.Context, item *InventoryItem) error {
	if err := item.validate(); err != nil {
		return err
	}

	if item.ID.IsZero() {
		item.ID = ident.NewTemporary()
		item.IsOffline = true
	}
	if item.TempID == "" {
		item.TempID = item.ID.String()
	}
	item.Synced = false
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now

	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO inventory (
				id, temp_id, user_id, store_id, name, quantity,
				unit_cost, unit_price, synced, is_offline, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
		`, item.ID.String(), item.TempID, item.UserID, item.StoreID, item.Name,
			item.Quantity, item.UnitCost, item.UnitPrice, boolInt(item.IsOffline),
			store.FormatTime(now), store.FormatTime(now))
		if err != nil {
			return fmt.Errorf("failed to insert inventory item: %w", err)
		}
		return r.enqueueTx(ctx, tx, TableInventory, item.ID.String(), queue.OpInsert, payload.NewInventory(item.wire()))
	})
}

// UpdateInventoryItem writes the item's current state back. Any local edit
// invalidates sync status until the backend re-confirms it.
func (r *Repo) UpdateInventoryItem(ctx context.Context, item *InventoryItem) error {
	if item.ID.IsZero() {
		return fmt.Errorf("%w: item id is required", ErrValidation)
	}
	if err := item.validate(); err != nil {
		return err
	}

	item.Synced = false
	item.UpdatedAt = time.Now().UTC()
	id := item.ID.String()

	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE inventory
			SET name = ?, store_id = ?, quantity = ?, unit_cost = ?,
			    unit_price = ?, synced = 0, updated_at = ?
			WHERE id = ? OR temp_id = ?
		`, item.Name, item.StoreID, item.Quantity, item.UnitCost, item.UnitPrice,
			store.FormatTime(item.UpdatedAt), id, id)
		if err != nil {
			return fmt.Errorf("failed to update inventory item: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: inventory item %s", ErrNotFound, id)
		}
		return r.enqueueTx(ctx, tx, TableInventory, id, queue.OpUpdate, payload.NewInventory(item.wire()))
	})
}

// DeleteInventoryItem removes an item and queues the remote delete. Items
// referenced by a sale that has not synced yet cannot be deleted; the sale
// replay still needs them for resolution.
func (r *Repo) DeleteInventoryItem(ctx context.Context, id string) error {
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		var canonical string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM inventory WHERE id = ? OR temp_id = ?`, id, id).Scan(&canonical)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: inventory item %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to look up inventory item: %w", err)
		}

		var refs int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*)
			FROM sale_items si
			JOIN sales s ON s.id = si.sale_id
			WHERE (si.inventory_id = ? OR si.inventory_id = ?) AND s.synced = 0
		`, canonical, id).Scan(&refs)
		if err != nil {
			return fmt.Errorf("failed to check sale references: %w", err)
		}
		if refs > 0 {
			return fmt.Errorf("%w: %s (%d pending)", ErrItemReferenced, canonical, refs)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM inventory WHERE id = ?`, canonical); err != nil {
			return fmt.Errorf("failed to delete inventory item: %w", err)
		}
		return r.enqueueTx(ctx, tx, TableInventory, canonical, queue.OpDelete,
			payload.NewInventory(&payload.Inventory{ID: canonical}))
	})
}

const inventoryColumns = `id, temp_id, user_id, store_id, name, quantity,
	unit_cost, unit_price, synced, is_offline, created_at, updated_at`

// GetInventoryItem fetches an item by either its current id or the
// temporary id it was created under.
func (r *Repo) GetInventoryItem(ctx context.Context, id string) (*InventoryItem, error) {
	row := r.store.DB().QueryRowContext(ctx,
		`SELECT `+inventoryColumns+` FROM inventory WHERE id = ? OR temp_id = ?`, id, id)

	item, err := scanInventoryItem(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: inventory item %s", ErrNotFound, id)
	}
	return item, err
}

// FindInventoryItemByTempID looks an item up by the id it was created
// under. Returns nil without error when nothing matches: during sync
// resolution that means "not resolvable yet", which is a retry, not a
// failure.
func (r *Repo) FindInventoryItemByTempID(ctx context.Context, tempID string) (*InventoryItem, error) {
	row := r.store.DB().QueryRowContext(ctx,
		`SELECT `+inventoryColumns+` FROM inventory WHERE temp_id = ?`, tempID)

	item, err := scanInventoryItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

// InventoryFilter narrows ListInventory.
type InventoryFilter struct {
	UserID       string
	StoreID      string
	NameContains string
	OnlyUnsynced bool
	Limit        int
}

// ListInventory returns items matching the filter, newest first.
func (r *Repo) ListInventory(ctx context.Context, filter InventoryFilter) ([]*InventoryItem, error) {
	conditions := []string{"1=1"}
	args := []any{}

	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.StoreID != "" {
		conditions = append(conditions, "store_id = ?")
		args = append(args, filter.StoreID)
	}
	if filter.NameContains != "" {
		conditions = append(conditions, "name LIKE ?")
		args = append(args, "%"+filter.NameContains+"%")
	}
	if filter.OnlyUnsynced {
		conditions = append(conditions, "synced = 0")
	}

	query := `SELECT ` + inventoryColumns + ` FROM inventory WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := r.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list inventory: %w", err)
	}
	defer rows.Close()

	var items []*InventoryItem
	for rows.Next() {
		item, err := scanInventoryItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// AdoptInventoryID swaps a temporary id for the server-assigned one. The
// temp_id column keeps the old value so pending sales that reference it
// can still resolve, and local sale lines are rewritten to the new id.
func (r *Repo) AdoptInventoryID(ctx context.Context, tempID, persistentID string) error {
	if tempID == "" || persistentID == "" {
		return fmt.Errorf("%w: both ids are required for adoption", ErrValidation)
	}
	now := store.FormatTime(time.Now().UTC())

	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE inventory
			SET id = ?, synced = 1, is_offline = 0, updated_at = ?
			WHERE id = ? OR temp_id = ?
		`, persistentID, now, tempID, tempID)
		if err != nil {
			return fmt.Errorf("failed to adopt inventory id: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: inventory item %s", ErrNotFound, tempID)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE sale_items SET inventory_id = ? WHERE inventory_id = ?`, persistentID, tempID); err != nil {
			return fmt.Errorf("failed to rewrite sale line references: %w", err)
		}
		return nil
	})
}

func scanInventoryItem(row scanner) (*InventoryItem, error) {
	var (
		item      InventoryItem
		id        string
		tempID    sql.NullString
		synced    int
		isOffline int
		createdAt string
		updatedAt string
	)
	err := row.Scan(&id, &tempID, &item.UserID, &item.StoreID, &item.Name,
		&item.Quantity, &item.UnitCost, &item.UnitPrice, &synced, &isOffline,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	item.ID = ident.Parse(id)
	item.TempID = store.StringOrEmpty(tempID)
	item.Synced = synced == 1
	item.IsOffline = isOffline == 1
	if item.CreatedAt, err = store.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if item.UpdatedAt, err = store.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &item, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
