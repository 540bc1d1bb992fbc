package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hermonbest/my-money-sub001/internal/ident"
	"github.com/hermonbest/my-money-sub001/internal/payload"
	"github.com/hermonbest/my-money-sub001/internal/queue"
	"github.com/hermonbest/my-money-sub001/internal/record"
	"github.com/hermonbest/my-money-sub001/internal/remote"
)

// replay routes one queue entry to its handler. The payload kind must
// match the entry's table; a mismatch means the entry can never be
// replayed and is parked.
func (d *Dispatcher) replay(ctx context.Context, e *queue.Entry) error {
	env, err := payload.Decode(e.Data)
	if err != nil {
		return err
	}

	switch {
	case e.TableName == record.TableInventory && env.Inventory != nil:
		return d.replayInventory(ctx, e.Operation, env.Inventory)
	case e.TableName == record.TableSales && env.Sale != nil:
		return d.replaySale(ctx, e.Operation, env.Sale)
	case e.TableName == record.TableExpenses && env.Expense != nil:
		return d.replayExpense(ctx, e.Operation, env.Expense)
	case e.TableName == record.TableProfiles && env.Profile != nil:
		return d.replayProfile(ctx, e.Operation, env.Profile)
	default:
		return fmt.Errorf("%w: %s %s carrying %q payload", errUnroutable, e.Operation, e.TableName, env.Kind)
	}
}

func (d *Dispatcher) replayInventory(ctx context.Context, op queue.Operation, p *payload.Inventory) error {
	switch op {
	case queue.OpInsert, queue.OpUpdate:
		row := remote.Row{
			"user_id":    p.UserID,
			"name":       p.Name,
			"quantity":   p.Quantity,
			"unit_cost":  p.UnitCost,
			"unit_price": p.UnitPrice,
		}
		if p.StoreID != "" {
			row["store_id"] = p.StoreID
		}
		stored, err := d.upsertKeyed(ctx, record.TableInventory, p.ID, row)
		if err != nil {
			return err
		}
		return d.adopt(ctx, record.TableInventory, p.ID, stored.ID())
	case queue.OpDelete:
		return d.backend.Delete(ctx, record.TableInventory, p.ID)
	default:
		return fmt.Errorf("%w: %s %s", errUnroutable, op, record.TableInventory)
	}
}

// replaySale runs the ordered sale protocol: the sale row first, then its
// line items, then the remote stock decrements. The sale and its lines are
// keyed for idempotent replay, so a retry after a partial failure merges
// into what the earlier attempt already created. The decrements are
// at-least-once by design; the sale record is the source of truth, stock
// counts are derived.
func (d *Dispatcher) replaySale(ctx context.Context, op queue.Operation, p *payload.Sale) error {
	switch op {
	case queue.OpInsert, queue.OpUpdate:
	case queue.OpDelete:
		return d.backend.Delete(ctx, record.TableSales, p.ID)
	default:
		return fmt.Errorf("%w: %s %s", errUnroutable, op, record.TableSales)
	}

	saleRow := remote.Row{
		"user_id":        p.UserID,
		"total":          p.Total,
		"payment_method": p.PaymentMethod,
		"sold_at":        p.SoldAt.UTC().Format(time.RFC3339Nano),
	}
	if p.StoreID != "" {
		saleRow["store_id"] = p.StoreID
	}
	stored, err := d.upsertKeyed(ctx, record.TableSales, p.ID, saleRow)
	if err != nil {
		return err
	}
	saleID := stored.ID()
	if saleID == "" {
		return fmt.Errorf("backend returned no id for sale %s", p.ID)
	}

	// Every line must point at a persistent inventory id before any line
	// is written. A reference that cannot be resolved fails the whole
	// operation; the inventory insert sits earlier in the queue and will
	// usually have been adopted by the next drain.
	resolved := make([]string, len(p.Lines))
	for i, line := range p.Lines {
		id, err := d.resolveInventoryRef(ctx, line.InventoryID)
		if err != nil {
			return fmt.Errorf("sale %s line %d (%s): %w", p.ID, i, line.InventoryID, err)
		}
		resolved[i] = id
	}

	rows := make([]remote.Row, len(p.Lines))
	for i, line := range p.Lines {
		rows[i] = remote.Row{
			"client_key":   line.ID,
			"sale_id":      saleID,
			"inventory_id": resolved[i],
			"quantity":     line.Quantity,
			"unit_price":   line.UnitPrice,
			"line_total":   line.LineTotal,
		}
		if line.Name != "" {
			rows[i]["name"] = line.Name
		}
	}
	if len(rows) > 0 {
		if _, err := d.backend.UpsertMany(ctx, record.TableSaleItems, rows); err != nil {
			return fmt.Errorf("failed to create sale items for %s: %w", p.ID, err)
		}
	}

	if op == queue.OpInsert {
		d.decrementRemoteStock(ctx, p.Lines, resolved)
	}

	return d.adopt(ctx, record.TableSales, p.ID, saleID)
}

func (d *Dispatcher) replayExpense(ctx context.Context, op queue.Operation, p *payload.Expense) error {
	switch op {
	case queue.OpInsert, queue.OpUpdate:
		row := remote.Row{
			"user_id":  p.UserID,
			"category": p.Category,
			"amount":   p.Amount,
			"spent_at": p.SpentAt.UTC().Format(time.RFC3339Nano),
		}
		if p.StoreID != "" {
			row["store_id"] = p.StoreID
		}
		if p.Note != "" {
			row["note"] = p.Note
		}
		stored, err := d.upsertKeyed(ctx, record.TableExpenses, p.ID, row)
		if err != nil {
			return err
		}
		return d.adopt(ctx, record.TableExpenses, p.ID, stored.ID())
	case queue.OpDelete:
		return d.backend.Delete(ctx, record.TableExpenses, p.ID)
	default:
		return fmt.Errorf("%w: %s %s", errUnroutable, op, record.TableExpenses)
	}
}

func (d *Dispatcher) replayProfile(ctx context.Context, op queue.Operation, p *payload.Profile) error {
	switch op {
	case queue.OpInsert, queue.OpUpdate:
		row := remote.Row{
			"user_id":    p.UserID,
			"store_name": p.StoreName,
			"currency":   p.Currency,
		}
		stored, err := d.upsertKeyed(ctx, record.TableProfiles, p.ID, row)
		if err != nil {
			return err
		}
		return d.adopt(ctx, record.TableProfiles, p.ID, stored.ID())
	case queue.OpDelete:
		return d.backend.Delete(ctx, record.TableProfiles, p.ID)
	default:
		return fmt.Errorf("%w: %s %s", errUnroutable, op, record.TableProfiles)
	}
}

// upsertKeyed sends a row keyed for idempotent replay: a temporary local
// id travels as client_key so a second attempt merges into the row the
// first one created, while a persistent id addresses its row directly.
func (d *Dispatcher) upsertKeyed(ctx context.Context, table, localID string, row remote.Row) (remote.Row, error) {
	if ident.Parse(localID).IsTemporary() {
		row["client_key"] = localID
	} else {
		row["id"] = localID
	}
	return d.backend.Upsert(ctx, table, row)
}

// adopt merges the server-assigned id into the local record, or just
// flags it synced when the id did not change. A record that vanished
// locally mid-replay is logged and skipped: the remote write stands, and
// any follow-up the local change queued replays on its own.
func (d *Dispatcher) adopt(ctx context.Context, table, localID, remoteID string) error {
	if remoteID == "" {
		return fmt.Errorf("backend returned no id for %s/%s", table, localID)
	}

	var err error
	if remoteID == localID {
		err = d.repo.MarkRecordSynced(ctx, table, localID)
	} else {
		switch table {
		case record.TableInventory:
			err = d.repo.AdoptInventoryID(ctx, localID, remoteID)
		case record.TableSales:
			err = d.repo.AdoptSaleID(ctx, localID, remoteID)
		case record.TableExpenses:
			err = d.repo.AdoptExpenseID(ctx, localID, remoteID)
		case record.TableProfiles:
			err = d.repo.AdoptProfileID(ctx, localID, remoteID)
		default:
			return fmt.Errorf("%w: adopt %s", errUnroutable, table)
		}
	}

	if errors.Is(err, record.ErrNotFound) {
		d.logger.Printf("%s/%s vanished locally before adoption, skipping", table, localID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to adopt %s id %s as %s: %w", table, localID, remoteID, err)
	}
	if remoteID != localID {
		d.logger.Printf("%s %s adopted server id %s", table, localID, remoteID)
	}
	return nil
}

// resolveInventoryRef maps a sale line's inventory reference to its
// persistent id, consulting the local record when the payload still
// carries a temporary one.
func (d *Dispatcher) resolveInventoryRef(ctx context.Context, ref string) (string, error) {
	if !ident.Parse(ref).IsTemporary() {
		return ref, nil
	}

	item, err := d.repo.FindInventoryItemByTempID(ctx, ref)
	if err != nil {
		return "", err
	}
	if item == nil || item.ID.IsTemporary() {
		return "", ErrUnresolvableReference
	}
	return item.ID.String(), nil
}

// decrementRemoteStock applies a sale's quantities to the backend's
// inventory rows, clamped at zero. Best effort: a line that cannot be
// read or written is logged and skipped, the sale itself stands.
func (d *Dispatcher) decrementRemoteStock(ctx context.Context, lines []payload.SaleLine, ids []string) {
	for i, line := range lines {
		current, err := d.backend.Get(ctx, record.TableInventory, ids[i])
		if err != nil {
			d.logger.Printf("skipping stock decrement for %s: %v", ids[i], err)
			continue
		}

		qty, _ := current.Int("quantity")
		qty -= line.Quantity
		if qty < 0 {
			qty = 0
		}

		if _, err := d.backend.Update(ctx, record.TableInventory, ids[i], remote.Row{"quantity": qty}); err != nil {
			d.logger.Printf("skipping stock decrement for %s: %v", ids[i], err)
		}
	}
}
