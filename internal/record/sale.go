package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hermonbest/my-money-sub001/internal/ident"
	"github.com/hermonbest/my-money-sub001/internal/payload"
	"github.com/hermonbest/my-money-sub001/internal/queue"
	"github.com/hermonbest/my-money-sub001/internal/store"
)

// Sale is a completed sale with its line items.
type Sale struct {
	ID            ident.ID
	TempID        string
	UserID        string
	StoreID       string
	Total         float64
	PaymentMethod string
	SoldAt        time.Time
	Synced        bool
	IsOffline     bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Items         []SaleItem
}

// SaleItem is one line of a sale. Its id derives from the sale id plus the
// line index, so regenerating lines for the same sale is idempotent.
type SaleItem struct {
	ID          string
	SaleID      string
	InventoryID ident.ID
	Name        string
	Quantity    int
	UnitPrice   float64
	LineTotal   float64
	CreatedAt   time.Time
}

// SaleInput describes a sale to process. ID is normally empty; a caller
// replaying a request supplies the id it used the first time and gets the
// stored sale back instead of a duplicate.
type SaleInput struct {
	ID            string
	UserID        string
	StoreID       string
	PaymentMethod string
	SoldAt        time.Time
	Lines         []SaleLineInput
}

// SaleLineInput references inventory by current or temporary id.
// UnitPrice zero means sell at the item's listed price.
type SaleLineInput struct {
	InventoryID string
	Quantity    int
	UnitPrice   float64
}

func validateSaleInput(in SaleInput) error {
	if in.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if len(in.Lines) == 0 {
		return fmt.Errorf("%w: a sale needs at least one line", ErrValidation)
	}
	for i, line := range in.Lines {
		if line.InventoryID == "" {
			return fmt.Errorf("%w: line %d: inventory id is required", ErrValidation, i)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: line %d: quantity must be positive", ErrValidation, i)
		}
		if line.UnitPrice < 0 {
			return fmt.Errorf("%w: line %d: unit price cannot be negative", ErrValidation, i)
		}
	}
	return nil
}

// resolvedLine is a sale line after the referenced inventory row was
// fetched and the stock check passed.
type resolvedLine struct {
	inventoryID string // as currently stored locally
	name        string
	quantity    int
	unitPrice   float64
	lineTotal   float64
}

// resolveLines fetches each referenced inventory row and checks stock.
// Works against the pool (pre-check) or inside a transaction.
func resolveLines(ctx context.Context, q querier, lines []SaleLineInput) ([]resolvedLine, error) {
	resolved := make([]resolvedLine, 0, len(lines))
	for i, line := range lines {
		var (
			id        string
			name      string
			quantity  int
			unitPrice float64
		)
		err := q.QueryRowContext(ctx, `
			SELECT id, name, quantity, unit_price FROM inventory
			WHERE id = ? OR temp_id = ?
		`, line.InventoryID, line.InventoryID).Scan(&id, &name, &quantity, &unitPrice)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("line %d: %w: inventory item %s", i, ErrNotFound, line.InventoryID)
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: failed to fetch inventory item: %w", i, err)
		}

		if quantity < line.Quantity {
			return nil, fmt.Errorf("line %d (%s): %w: have %d, requested %d",
				i, name, ErrInsufficientStock, quantity, line.Quantity)
		}

		price := line.UnitPrice
		if price == 0 {
			price = unitPrice
		}
		resolved = append(resolved, resolvedLine{
			inventoryID: id,
			name:        name,
			quantity:    line.Quantity,
			unitPrice:   price,
			lineTotal:   float64(line.Quantity) * price,
		})
	}
	return resolved, nil
}

// ValidateStock checks every requested line against current inventory
// without writing anything. ProcessSale runs the same check again inside
// its transaction; this standalone form lets callers reject a sale early.
func (r *Repo) ValidateStock(ctx context.Context, lines []SaleLineInput) error {
	_, err := resolveLines(ctx, r.store.DB(), lines)
	return err
}

// ProcessSale records a sale: the sale row, its line items, the inventory
// decrements, and the sync queue entry, all in one local transaction.
//
// Only one sale may be mid-flight at a time. A second call waits briefly
// for the lock and then fails with ErrBusy. If a sale with the requested
// id already exists the stored sale is returned as-is; replaying a request
// must not sell the goods twice.
func (r *Repo) ProcessSale(ctx context.Context, in SaleInput) (*Sale, error) {
	if err := validateSaleInput(in); err != nil {
		return nil, err
	}

	if err := r.acquireSaleLock(ctx); err != nil {
		return nil, err
	}
	defer r.releaseSaleLock()

	if in.ID != "" {
		existing, err := r.GetSale(ctx, in.ID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	saleID := in.ID
	if saleID == "" {
		saleID = ident.NewTemporary().String()
	}
	soldAt := in.SoldAt
	if soldAt.IsZero() {
		soldAt = time.Now().UTC()
	}
	paymentMethod := in.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = "cash"
	}
	now := time.Now().UTC()

	sale := &Sale{
		ID:            ident.Parse(saleID),
		TempID:        saleID,
		UserID:        in.UserID,
		StoreID:       in.StoreID,
		PaymentMethod: paymentMethod,
		SoldAt:        soldAt,
		IsOffline:     true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		lines, err := resolveLines(ctx, tx, in.Lines)
		if err != nil {
			return err
		}
		for _, line := range lines {
			sale.Total += line.lineTotal
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sales (
				id, temp_id, user_id, store_id, total, payment_method,
				sold_at, synced, is_offline, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, 0, 1, ?, ?)
		`, saleID, saleID, sale.UserID, sale.StoreID, sale.Total, sale.PaymentMethod,
			store.FormatTime(soldAt), store.FormatTime(now), store.FormatTime(now))
		if err != nil {
			return fmt.Errorf("failed to insert sale: %w", err)
		}

		for i, line := range lines {
			item := SaleItem{
				ID:          fmt.Sprintf("%s_item_%d", saleID, i),
				SaleID:      saleID,
				InventoryID: ident.Parse(line.inventoryID),
				Name:        line.name,
				Quantity:    line.quantity,
				UnitPrice:   line.unitPrice,
				LineTotal:   line.lineTotal,
				CreatedAt:   now,
			}
			// OR IGNORE: a line that already exists under this derived id
			// was written by an earlier partial attempt; keep it.
			_, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO sale_items (
					id, sale_id, inventory_id, name, quantity,
					unit_price, line_total, created_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, item.ID, item.SaleID, item.InventoryID.String(), item.Name,
				item.Quantity, item.UnitPrice, item.LineTotal, store.FormatTime(now))
			if err != nil {
				return fmt.Errorf("failed to insert sale line %d: %w", i, err)
			}
			sale.Items = append(sale.Items, item)
		}

		for i, line := range lines {
			res, err := tx.ExecContext(ctx, `
				UPDATE inventory
				SET quantity = quantity - ?, synced = 0, updated_at = ?
				WHERE id = ? AND quantity >= ?
			`, line.quantity, store.FormatTime(now), line.inventoryID, line.quantity)
			if err != nil {
				return fmt.Errorf("failed to decrement inventory for line %d: %w", i, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				// Guard against the stock moving between the check and
				// here; rolls back the whole sale.
				return fmt.Errorf("line %d (%s): %w", i, line.name, ErrInsufficientStock)
			}
		}

		return r.enqueueTx(ctx, tx, TableSales, saleID, queue.OpInsert, payload.NewSale(sale.wire()))
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *Sale) wire() *payload.Sale {
	p := &payload.Sale{
		ID:            s.ID.String(),
		UserID:        s.UserID,
		StoreID:       s.StoreID,
		Total:         s.Total,
		PaymentMethod: s.PaymentMethod,
		SoldAt:        s.SoldAt,
	}
	for _, item := range s.Items {
		p.Lines = append(p.Lines, payload.SaleLine{
			ID:          item.ID,
			InventoryID: item.InventoryID.String(),
			Name:        item.Name,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal,
		})
	}
	return p
}

const saleColumns = `id, temp_id, user_id, store_id, total, payment_method,
	sold_at, synced, is_offline, created_at, updated_at`

// GetSale fetches a sale with its line items, by current or temporary id.
func (r *Repo) GetSale(ctx context.Context, id string) (*Sale, error) {
	row := r.store.DB().QueryRowContext(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE id = ? OR temp_id = ?`, id, id)

	sale, err := scanSale(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: sale %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	sale.Items, err = r.loadSaleItems(ctx, sale.ID.String())
	if err != nil {
		return nil, err
	}
	return sale, nil
}

func (r *Repo) loadSaleItems(ctx context.Context, saleID string) ([]SaleItem, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT id, sale_id, inventory_id, name, quantity, unit_price, line_total, created_at
		FROM sale_items WHERE sale_id = ? ORDER BY rowid
	`, saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sale items: %w", err)
	}
	defer rows.Close()

	var items []SaleItem
	for rows.Next() {
		var (
			item        SaleItem
			inventoryID string
			createdAt   string
		)
		if err := rows.Scan(&item.ID, &item.SaleID, &inventoryID, &item.Name,
			&item.Quantity, &item.UnitPrice, &item.LineTotal, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan sale item: %w", err)
		}
		item.InventoryID = ident.Parse(inventoryID)
		if item.CreatedAt, err = store.ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SaleFilter narrows ListSales.
type SaleFilter struct {
	UserID       string
	StoreID      string
	Since        time.Time
	Until        time.Time
	OnlyUnsynced bool
	Limit        int
}

// ListSales returns matching sales, newest first, without line items;
// use GetSale for the full record.
func (r *Repo) ListSales(ctx context.Context, filter SaleFilter) ([]*Sale, error) {
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
	if !filter.Since.IsZero() {
		conditions = append(conditions, "sold_at >= ?")
		args = append(args, store.FormatTime(filter.Since))
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "sold_at < ?")
		args = append(args, store.FormatTime(filter.Until))
	}
	if filter.OnlyUnsynced {
		conditions = append(conditions, "synced = 0")
	}

	query := `SELECT ` + saleColumns + ` FROM sales WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY sold_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := r.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sales: %w", err)
	}
	defer rows.Close()

	var sales []*Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

// AdoptSaleID swaps a temporary sale id for the server-assigned one. Line
// items follow through the foreign key cascade; their own derived ids are
// left alone because the backend already knows them as client keys.
func (r *Repo) AdoptSaleID(ctx context.Context, tempID, persistentID string) error {
	if tempID == "" || persistentID == "" {
		return fmt.Errorf("%w: both ids are required for adoption", ErrValidation)
	}
	now := store.FormatTime(time.Now().UTC())

	res, err := r.store.DB().ExecContext(ctx, `
		UPDATE sales
		SET id = ?, synced = 1, is_offline = 0, updated_at = ?
		WHERE id = ? OR temp_id = ?
	`, persistentID, now, tempID, tempID)
	if err != nil {
		return fmt.Errorf("failed to adopt sale id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: sale %s", ErrNotFound, tempID)
	}
	return nil
}

func scanSale(row scanner) (*Sale, error) {
	var (
		sale      Sale
		id        string
		tempID    sql.NullString
		soldAt    string
		synced    int
		isOffline int
		createdAt string
		updatedAt string
	)
	err := row.Scan(&id, &tempID, &sale.UserID, &sale.StoreID, &sale.Total,
		&sale.PaymentMethod, &soldAt, &synced, &isOffline, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	sale.ID = ident.Parse(id)
	sale.TempID = store.StringOrEmpty(tempID)
	sale.Synced = synced == 1
	sale.IsOffline = isOffline == 1
	if sale.SoldAt, err = store.ParseTime(soldAt); err != nil {
		return nil, fmt.Errorf("failed to parse sold_at: %w", err)
	}
	if sale.CreatedAt, err = store.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if sale.UpdatedAt, err = store.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &sale, nil
}
