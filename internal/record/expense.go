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

// Expense is a business expense. Plain CRUD, no dependents.
type Expense struct {
	ID        ident.ID
	TempID    string
	UserID    string
	StoreID   string
	Category  string
	Amount    float64
	Note      string
	SpentAt   time.Time
	Synced    bool
	IsOffline bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (e *Expense) validate() error {
	if e.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if strings.TrimSpace(e.Category) == "" {
		return fmt.Errorf("%w: category is required", ErrValidation)
	}
	if e.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	return nil
}

func (e *Expense) wire() *payload.Expense {
	return &payload.Expense{
		ID:       e.ID.String(),
		UserID:   e.UserID,
		StoreID:  e.StoreID,
		Category: e.Category,
		Amount:   e.Amount,
		Note:     e.Note,
		SpentAt:  e.SpentAt,
	}
}

// CreateExpense stores an expense and queues it for sync.
func (r *Repo) CreateExpense(ctx context.Context, e *Expense) error {
	if err := e.validate(); err != nil {
		return err
	}

	if e.ID.IsZero() {
		e.ID = ident.NewTemporary()
		e.IsOffline = true
	}
	if e.TempID == "" {
		e.TempID = e.ID.String()
	}
	if e.SpentAt.IsZero() {
		e.SpentAt = time.Now().UTC()
	}
	e.Synced = false
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO expenses (
				id, temp_id, user_id, store_id, category, amount, note,
				spent_at, synced, is_offline, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
		`, e.ID.String(), e.TempID, e.UserID, e.StoreID, e.Category, e.Amount,
			e.Note, store.FormatTime(e.SpentAt), boolInt(e.IsOffline),
			store.FormatTime(now), store.FormatTime(now))
		if err != nil {
			return fmt.Errorf("failed to insert expense: %w", err)
		}
		return r.enqueueTx(ctx, tx, TableExpenses, e.ID.String(), queue.OpInsert, payload.NewExpense(e.wire()))
	})
}

// UpdateExpense writes the expense's current state back and re-queues it.
func (r *Repo) UpdateExpense(ctx context.Context, e *Expense) error {
	if e.ID.IsZero() {
		return fmt.Errorf("%w: expense id is required", ErrValidation)
	}
	if err := e.validate(); err != nil {
		return err
	}

	e.Synced = false
	e.UpdatedAt = time.Now().UTC()
	id := e.ID.String()

	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE expenses
			SET category = ?, amount = ?, note = ?, store_id = ?,
			    spent_at = ?, synced = 0, updated_at = ?
			WHERE id = ? OR temp_id = ?
		`, e.Category, e.Amount, e.Note, e.StoreID, store.FormatTime(e.SpentAt),
			store.FormatTime(e.UpdatedAt), id, id)
		if err != nil {
			return fmt.Errorf("failed to update expense: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: expense %s", ErrNotFound, id)
		}
		return r.enqueueTx(ctx, tx, TableExpenses, id, queue.OpUpdate, payload.NewExpense(e.wire()))
	})
}

// DeleteExpense removes an expense and queues the remote delete.
func (r *Repo) DeleteExpense(ctx context.Context, id string) error {
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		var canonical string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM expenses WHERE id = ? OR temp_id = ?`, id, id).Scan(&canonical)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: expense %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to look up expense: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM expenses WHERE id = ?`, canonical); err != nil {
			return fmt.Errorf("failed to delete expense: %w", err)
		}
		return r.enqueueTx(ctx, tx, TableExpenses, canonical, queue.OpDelete,
			payload.NewExpense(&payload.Expense{ID: canonical}))
	})
}

const expenseColumns = `id, temp_id, user_id, store_id, category, amount,
	note, spent_at, synced, is_offline, created_at, updated_at`

// GetExpense fetches an expense by current or temporary id.
func (r *Repo) GetExpense(ctx context.Context, id string) (*Expense, error) {
	row := r.store.DB().QueryRowContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE id = ? OR temp_id = ?`, id, id)

	e, err := scanExpense(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: expense %s", ErrNotFound, id)
	}
	return e, err
}

// ExpenseFilter narrows ListExpenses.
type ExpenseFilter struct {
	UserID   string
	StoreID  string
	Category string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// ListExpenses returns matching expenses, newest first.
func (r *Repo) ListExpenses(ctx context.Context, filter ExpenseFilter) ([]*Expense, error) {
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
	if filter.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, filter.Category)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "spent_at >= ?")
		args = append(args, store.FormatTime(filter.Since))
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "spent_at < ?")
		args = append(args, store.FormatTime(filter.Until))
	}

	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY spent_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := r.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []*Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

// AdoptExpenseID swaps a temporary expense id for the server-assigned one.
func (r *Repo) AdoptExpenseID(ctx context.Context, tempID, persistentID string) error {
	if tempID == "" || persistentID == "" {
		return fmt.Errorf("%w: both ids are required for adoption", ErrValidation)
	}
	now := store.FormatTime(time.Now().UTC())

	res, err := r.store.DB().ExecContext(ctx, `
		UPDATE expenses
		SET id = ?, synced = 1, is_offline = 0, updated_at = ?
		WHERE id = ? OR temp_id = ?
	`, persistentID, now, tempID, tempID)
	if err != nil {
		return fmt.Errorf("failed to adopt expense id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: expense %s", ErrNotFound, tempID)
	}
	return nil
}

func scanExpense(row scanner) (*Expense, error) {
	var (
		e         Expense
		id        string
		tempID    sql.NullString
		spentAt   string
		synced    int
		isOffline int
		createdAt string
		updatedAt string
	)
	err := row.Scan(&id, &tempID, &e.UserID, &e.StoreID, &e.Category, &e.Amount,
		&e.Note, &spentAt, &synced, &isOffline, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	e.ID = ident.Parse(id)
	e.TempID = store.StringOrEmpty(tempID)
	e.Synced = synced == 1
	e.IsOffline = isOffline == 1
	if e.SpentAt, err = store.ParseTime(spentAt); err != nil {
		return nil, fmt.Errorf("failed to parse spent_at: %w", err)
	}
	if e.CreatedAt, err = store.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if e.UpdatedAt, err = store.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &e, nil
}
