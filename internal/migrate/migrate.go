// Package migrate moves ledger data in and out of the local store: JSONL
// export for device transfer, JSONL import on the receiving side, and
// TOML/YAML seed files for first-run setup.
//
// The transfer format is one JSON object per line, each tagged with the
// table it belongs to. Records keep their identifiers, timestamps, and
// synced state across the transfer, so work queued on the old device is
// re-queued on the new one instead of being lost.
package migrate

import (
	"fmt"
	"time"

	"github.com/hermonbest/my-money-sub001/internal/record"
)

// Line is one exported record. Table tags the populated branch, mirroring
// how the sync queue envelopes its payloads.
type Line struct {
	Table     string           `json:"table"`
	Inventory *InventoryRecord `json:"inventory,omitempty"`
	Sale      *SaleRecord      `json:"sale,omitempty"`
	Expense   *ExpenseRecord   `json:"expense,omitempty"`
	Profile   *ProfileRecord   `json:"profile,omitempty"`
}

func (l *Line) validate() error {
	switch l.Table {
	case record.TableInventory:
		if l.Inventory == nil {
			return fmt.Errorf("inventory line without inventory record")
		}
	case record.TableSales:
		if l.Sale == nil {
			return fmt.Errorf("sale line without sale record")
		}
	case record.TableExpenses:
		if l.Expense == nil {
			return fmt.Errorf("expense line without expense record")
		}
	case record.TableProfiles:
		if l.Profile == nil {
			return fmt.Errorf("profile line without profile record")
		}
	default:
		return fmt.Errorf("unknown table %q", l.Table)
	}
	return nil
}

// InventoryRecord is the full-fidelity transfer form of an inventory item.
type InventoryRecord struct {
	ID        string    `json:"id"`
	TempID    string    `json:"temp_id,omitempty"`
	UserID    string    `json:"user_id"`
	StoreID   string    `json:"store_id,omitempty"`
	Name      string    `json:"name"`
	Quantity  int       `json:"quantity"`
	UnitCost  float64   `json:"unit_cost"`
	UnitPrice float64   `json:"unit_price"`
	Synced    bool      `json:"synced"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SaleLineRecord is one line item inside an exported sale.
type SaleLineRecord struct {
	ID          string    `json:"id"`
	InventoryID string    `json:"inventory_id"`
	Name        string    `json:"name,omitempty"`
	Quantity    int       `json:"quantity"`
	UnitPrice   float64   `json:"unit_price"`
	LineTotal   float64   `json:"line_total"`
	CreatedAt   time.Time `json:"created_at"`
}

// SaleRecord is the transfer form of a sale and its line items.
type SaleRecord struct {
	ID            string           `json:"id"`
	TempID        string           `json:"temp_id,omitempty"`
	UserID        string           `json:"user_id"`
	StoreID       string           `json:"store_id,omitempty"`
	Total         float64          `json:"total"`
	PaymentMethod string           `json:"payment_method"`
	SoldAt        time.Time        `json:"sold_at"`
	Synced        bool             `json:"synced"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	Lines         []SaleLineRecord `json:"lines"`
}

// ExpenseRecord is the transfer form of an expense.
type ExpenseRecord struct {
	ID        string    `json:"id"`
	TempID    string    `json:"temp_id,omitempty"`
	UserID    string    `json:"user_id"`
	StoreID   string    `json:"store_id,omitempty"`
	Category  string    `json:"category"`
	Amount    float64   `json:"amount"`
	Note      string    `json:"note,omitempty"`
	SpentAt   time.Time `json:"spent_at"`
	Synced    bool      `json:"synced"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileRecord is the transfer form of a store profile.
type ProfileRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	StoreName string    `json:"store_name"`
	Currency  string    `json:"currency"`
	Synced    bool      `json:"synced"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func inventoryRecord(i *record.InventoryItem) *InventoryRecord {
	return &InventoryRecord{
		ID:        i.ID.String(),
		TempID:    i.TempID,
		UserID:    i.UserID,
		StoreID:   i.StoreID,
		Name:      i.Name,
		Quantity:  i.Quantity,
		UnitCost:  i.UnitCost,
		UnitPrice: i.UnitPrice,
		Synced:    i.Synced,
		CreatedAt: i.CreatedAt,
		UpdatedAt: i.UpdatedAt,
	}
}

func saleRecord(s *record.Sale) *SaleRecord {
	out := &SaleRecord{
		ID:            s.ID.String(),
		TempID:        s.TempID,
		UserID:        s.UserID,
		StoreID:       s.StoreID,
		Total:         s.Total,
		PaymentMethod: s.PaymentMethod,
		SoldAt:        s.SoldAt,
		Synced:        s.Synced,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
	for _, item := range s.Items {
		out.Lines = append(out.Lines, SaleLineRecord{
			ID:          item.ID,
			InventoryID: item.InventoryID.String(),
			Name:        item.Name,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal,
			CreatedAt:   item.CreatedAt,
		})
	}
	return out
}

func expenseRecord(e *record.Expense) *ExpenseRecord {
	return &ExpenseRecord{
		ID:        e.ID.String(),
		TempID:    e.TempID,
		UserID:    e.UserID,
		StoreID:   e.StoreID,
		Category:  e.Category,
		Amount:    e.Amount,
		Note:      e.Note,
		SpentAt:   e.SpentAt,
		Synced:    e.Synced,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func profileRecord(p *record.Profile) *ProfileRecord {
	return &ProfileRecord{
		ID:        p.ID.String(),
		UserID:    p.UserID,
		StoreName: p.StoreName,
		Currency:  p.Currency,
		Synced:    p.Synced,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}
