package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hermonbest/my-money-sub001/internal/record"
)

// ExportOptions configures Export.
type ExportOptions struct {
	// Path of the JSONL file to write.
	Path string

	// UserID limits the export to one user's records. Empty exports all.
	UserID string

	// Tables limits the export to a subset. Nil exports every table.
	Tables []string
}

// ExportResult reports what Export wrote.
type ExportResult struct {
	Path    string         `json:"path"`
	Records int            `json:"records"`
	ByTable map[string]int `json:"by_table"`
}

// Export writes the ledger's records to a JSONL file, profiles first so an
// import can replay the file top to bottom. The file appears atomically:
// it is written to a temp path and renamed into place.
func Export(ctx context.Context, repo *record.Repo, opts ExportOptions) (*ExportResult, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("export path is required")
	}

	wanted := func(table string) bool {
		if len(opts.Tables) == 0 {
			return true
		}
		for _, t := range opts.Tables {
			if t == table {
				return true
			}
		}
		return false
	}

	var lines []Line

	if wanted(record.TableProfiles) {
		profiles, err := repo.ListProfiles(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range profiles {
			if opts.UserID != "" && p.UserID != opts.UserID {
				continue
			}
			lines = append(lines, Line{Table: record.TableProfiles, Profile: profileRecord(p)})
		}
	}

	if wanted(record.TableInventory) {
		items, err := repo.ListInventory(ctx, record.InventoryFilter{UserID: opts.UserID})
		if err != nil {
			return nil, err
		}
		for _, i := range items {
			lines = append(lines, Line{Table: record.TableInventory, Inventory: inventoryRecord(i)})
		}
	}

	if wanted(record.TableSales) {
		sales, err := repo.ListSales(ctx, record.SaleFilter{UserID: opts.UserID})
		if err != nil {
			return nil, err
		}
		for _, s := range sales {
			// ListSales omits line items; fetch the full record.
			full, err := repo.GetSale(ctx, s.ID.String())
			if err != nil {
				return nil, fmt.Errorf("failed to load sale %s: %w", s.ID, err)
			}
			lines = append(lines, Line{Table: record.TableSales, Sale: saleRecord(full)})
		}
	}

	if wanted(record.TableExpenses) {
		expenses, err := repo.ListExpenses(ctx, record.ExpenseFilter{UserID: opts.UserID})
		if err != nil {
			return nil, err
		}
		for _, e := range expenses {
			lines = append(lines, Line{Table: record.TableExpenses, Expense: expenseRecord(e)})
		}
	}

	result := &ExportResult{Path: opts.Path, ByTable: make(map[string]int)}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	tmpPath := opts.Path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create export file: %w", err)
	}

	enc := json.NewEncoder(f)
	for i := range lines {
		if err := enc.Encode(&lines[i]); err != nil {
			f.Close()
			_ = os.Remove(tmpPath)
			return nil, fmt.Errorf("failed to encode record: %w", err)
		}
		result.Records++
		result.ByTable[lines[i].Table]++
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to close export file: %w", err)
	}
	if err := os.Rename(tmpPath, opts.Path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename export file: %w", err)
	}

	return result, nil
}
