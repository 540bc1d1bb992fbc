package migrate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hermonbest/my-money-sub001/internal/payload"
	"github.com/hermonbest/my-money-sub001/internal/queue"
	"github.com/hermonbest/my-money-sub001/internal/record"
	"github.com/hermonbest/my-money-sub001/internal/store"
)

// ImportOptions configures Import.
type ImportOptions struct {
	// Path of the JSONL file to read.
	Path string

	// DryRun reports what would change without writing.
	DryRun bool

	// Backup snapshots the database file before the first write.
	Backup bool
}

// ImportResult reports what Import did.
type ImportResult struct {
	Imported      int            `json:"imported"`
	Skipped       int            `json:"skipped"`
	Requeued      int            `json:"requeued"`
	ByTable       map[string]int `json:"by_table"`
	Errors        []string       `json:"errors,omitempty"`
	BackupCreated string         `json:"backup_created,omitempty"`
}

// Import replays an exported JSONL file into the store. Records that
// already exist are skipped, so re-importing the same file is harmless.
// Records the source device had not synced yet are queued for sync here;
// this device owns that work now.
//
// Each record commits in its own transaction. A malformed or conflicting
// line lands in Errors and the rest of the file still imports.
func Import(ctx context.Context, st *store.Store, q *queue.Queue, opts ImportOptions) (*ImportResult, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("import path is required")
	}

	f, err := os.Open(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()

	result := &ImportResult{ByTable: make(map[string]int)}

	if opts.Backup && !opts.DryRun {
		backupPath := st.Path() + ".backup." + time.Now().Format("20060102-150405")
		if _, err := st.DB().ExecContext(ctx, `VACUUM INTO ?`, backupPath); err != nil {
			return nil, fmt.Errorf("failed to back up database: %w", err)
		}
		result.BackupCreated = backupPath
	}

	dec := json.NewDecoder(f)
	lineNum := 0
	for {
		var line Line
		if err := dec.Decode(&line); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return result, fmt.Errorf("invalid JSON at line %d: %w", lineNum+1, err)
		}
		lineNum++

		if err := line.validate(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", lineNum, err))
			continue
		}
		if err := importLine(ctx, st, q, &line, opts.DryRun, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", lineNum, err))
		}
	}

	return result, nil
}

func importLine(ctx context.Context, st *store.Store, q *queue.Queue, line *Line, dryRun bool, result *ImportResult) error {
	exists, err := recordExists(ctx, st, line)
	if err != nil {
		return err
	}
	if exists {
		result.Skipped++
		return nil
	}
	if dryRun {
		result.Imported++
		result.ByTable[line.Table]++
		return nil
	}

	err = st.WithTx(ctx, func(tx *sql.Tx) error {
		switch line.Table {
		case record.TableInventory:
			return insertInventory(ctx, tx, q, line.Inventory, result)
		case record.TableSales:
			return insertSale(ctx, tx, q, line.Sale, result)
		case record.TableExpenses:
			return insertExpense(ctx, tx, q, line.Expense, result)
		case record.TableProfiles:
			return insertProfile(ctx, tx, q, line.Profile, result)
		}
		return fmt.Errorf("unknown table %q", line.Table)
	})
	if err != nil {
		return err
	}

	result.Imported++
	result.ByTable[line.Table]++
	return nil
}

func recordExists(ctx context.Context, st *store.Store, line *Line) (bool, error) {
	var (
		query string
		arg   string
	)
	switch line.Table {
	case record.TableInventory:
		query, arg = `SELECT 1 FROM inventory WHERE id = ?`, line.Inventory.ID
	case record.TableSales:
		query, arg = `SELECT 1 FROM sales WHERE id = ?`, line.Sale.ID
	case record.TableExpenses:
		query, arg = `SELECT 1 FROM expenses WHERE id = ?`, line.Expense.ID
	case record.TableProfiles:
		// One profile per user; the row's id may differ across devices.
		query, arg = `SELECT 1 FROM profiles WHERE user_id = ?`, line.Profile.UserID
	default:
		return false, fmt.Errorf("unknown table %q", line.Table)
	}

	var one int
	err := st.DB().QueryRowContext(ctx, query, arg).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check for existing record: %w", err)
	}
	return true, nil
}

func insertInventory(ctx context.Context, tx *sql.Tx, q *queue.Queue, rec *InventoryRecord, result *ImportResult) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO inventory (id, temp_id, user_id, store_id, name, quantity,
			unit_cost, unit_price, synced, is_offline, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, store.NullString(rec.TempID), rec.UserID, rec.StoreID, rec.Name, rec.Quantity,
		rec.UnitCost, rec.UnitPrice, syncedInt(rec.Synced), syncedInt(!rec.Synced),
		store.FormatTime(rec.CreatedAt), store.FormatTime(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert inventory item: %w", err)
	}
	if rec.Synced {
		return nil
	}

	env := payload.NewInventory(&payload.Inventory{
		ID:        rec.ID,
		UserID:    rec.UserID,
		StoreID:   rec.StoreID,
		Name:      rec.Name,
		Quantity:  rec.Quantity,
		UnitCost:  rec.UnitCost,
		UnitPrice: rec.UnitPrice,
	})
	return requeue(ctx, tx, q, record.TableInventory, rec.ID, env, result)
}

func insertSale(ctx context.Context, tx *sql.Tx, q *queue.Queue, rec *SaleRecord, result *ImportResult) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sales (id, temp_id, user_id, store_id, total, payment_method,
			sold_at, synced, is_offline, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, store.NullString(rec.TempID), rec.UserID, rec.StoreID, rec.Total, rec.PaymentMethod,
		store.FormatTime(rec.SoldAt), syncedInt(rec.Synced), syncedInt(!rec.Synced),
		store.FormatTime(rec.CreatedAt), store.FormatTime(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert sale: %w", err)
	}

	wireLines := make([]payload.SaleLine, 0, len(rec.Lines))
	for _, item := range rec.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, inventory_id, name, quantity,
				unit_price, line_total, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, item.ID, rec.ID, item.InventoryID, item.Name, item.Quantity,
			item.UnitPrice, item.LineTotal, store.FormatTime(item.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert sale item %s: %w", item.ID, err)
		}
		wireLines = append(wireLines, payload.SaleLine{
			ID:          item.ID,
			InventoryID: item.InventoryID,
			Name:        item.Name,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal,
		})
	}
	if rec.Synced {
		return nil
	}

	env := payload.NewSale(&payload.Sale{
		ID:            rec.ID,
		UserID:        rec.UserID,
		StoreID:       rec.StoreID,
		Total:         rec.Total,
		PaymentMethod: rec.PaymentMethod,
		SoldAt:        rec.SoldAt,
		Lines:         wireLines,
	})
	return requeue(ctx, tx, q, record.TableSales, rec.ID, env, result)
}

func insertExpense(ctx context.Context, tx *sql.Tx, q *queue.Queue, rec *ExpenseRecord, result *ImportResult) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO expenses (id, temp_id, user_id, store_id, category, amount,
			note, spent_at, synced, is_offline, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, store.NullString(rec.TempID), rec.UserID, rec.StoreID, rec.Category, rec.Amount,
		rec.Note, store.FormatTime(rec.SpentAt), syncedInt(rec.Synced), syncedInt(!rec.Synced),
		store.FormatTime(rec.CreatedAt), store.FormatTime(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert expense: %w", err)
	}
	if rec.Synced {
		return nil
	}

	env := payload.NewExpense(&payload.Expense{
		ID:       rec.ID,
		UserID:   rec.UserID,
		StoreID:  rec.StoreID,
		Category: rec.Category,
		Amount:   rec.Amount,
		Note:     rec.Note,
		SpentAt:  rec.SpentAt,
	})
	return requeue(ctx, tx, q, record.TableExpenses, rec.ID, env, result)
}

func insertProfile(ctx context.Context, tx *sql.Tx, q *queue.Queue, rec *ProfileRecord, result *ImportResult) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO profiles (id, user_id, store_name, currency, synced, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.UserID, rec.StoreName, rec.Currency, syncedInt(rec.Synced),
		store.FormatTime(rec.CreatedAt), store.FormatTime(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	if rec.Synced {
		return nil
	}

	env := payload.NewProfile(&payload.Profile{
		ID:        rec.ID,
		UserID:    rec.UserID,
		StoreName: rec.StoreName,
		Currency:  rec.Currency,
	})
	return requeue(ctx, tx, q, record.TableProfiles, rec.ID, env, result)
}

func requeue(ctx context.Context, tx *sql.Tx, q *queue.Queue, table, recordID string, env payload.Envelope, result *ImportResult) error {
	data, err := payload.Encode(env)
	if err != nil {
		return fmt.Errorf("failed to encode sync payload: %w", err)
	}
	err = q.EnqueueTx(ctx, tx, queue.Entry{
		TableName: table,
		RecordID:  recordID,
		Operation: queue.OpInsert,
		Data:      data,
	})
	if err != nil {
		return err
	}
	result.Requeued++
	return nil
}

func syncedInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
