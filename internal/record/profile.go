package record

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hermonbest/my-money-sub001/internal/ident"
	"github.com/hermonbest/my-money-sub001/internal/payload"
	"github.com/hermonbest/my-money-sub001/internal/queue"
	"github.com/hermonbest/my-money-sub001/internal/store"
)

// Profile is the store profile, one per user.
type Profile struct {
	ID        ident.ID
	UserID    string
	StoreName string
	Currency  string
	Synced    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p *Profile) wire() *payload.Profile {
	return &payload.Profile{
		ID:        p.ID.String(),
		UserID:    p.UserID,
		StoreName: p.StoreName,
		Currency:  p.Currency,
	}
}

// UpsertProfile creates or updates the user's profile and queues the sync.
func (r *Repo) UpsertProfile(ctx context.Context, p *Profile) error {
	if p.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if p.Currency == "" {
		p.Currency = "USD"
	}

	now := time.Now().UTC()
	p.Synced = false
	p.UpdatedAt = now

	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		var existingID string
		var createdAt string
		err := tx.QueryRowContext(ctx,
			`SELECT id, created_at FROM profiles WHERE user_id = ?`, p.UserID).Scan(&existingID, &createdAt)

		switch {
		case err == sql.ErrNoRows:
			p.ID = ident.NewTemporary()
			p.CreatedAt = now
			_, err := tx.ExecContext(ctx, `
				INSERT INTO profiles (id, user_id, store_name, currency, synced, created_at, updated_at)
				VALUES (?, ?, ?, ?, 0, ?, ?)
			`, p.ID.String(), p.UserID, p.StoreName, p.Currency,
				store.FormatTime(now), store.FormatTime(now))
			if err != nil {
				return fmt.Errorf("failed to insert profile: %w", err)
			}
			return r.enqueueTx(ctx, tx, TableProfiles, p.ID.String(), queue.OpInsert, payload.NewProfile(p.wire()))

		case err != nil:
			return fmt.Errorf("failed to look up profile: %w", err)

		default:
			p.ID = ident.Parse(existingID)
			if p.CreatedAt, err = store.ParseTime(createdAt); err != nil {
				return fmt.Errorf("failed to parse created_at: %w", err)
			}
			_, err := tx.ExecContext(ctx, `
				UPDATE profiles
				SET store_name = ?, currency = ?, synced = 0, updated_at = ?
				WHERE user_id = ?
			`, p.StoreName, p.Currency, store.FormatTime(now), p.UserID)
			if err != nil {
				return fmt.Errorf("failed to update profile: %w", err)
			}
			return r.enqueueTx(ctx, tx, TableProfiles, existingID, queue.OpUpdate, payload.NewProfile(p.wire()))
		}
	})
}

// GetProfile fetches the profile for a user.
func (r *Repo) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var (
		p         Profile
		id        string
		synced    int
		createdAt string
		updatedAt string
	)
	err := r.store.DB().QueryRowContext(ctx, `
		SELECT id, user_id, store_name, currency, synced, created_at, updated_at
		FROM profiles WHERE user_id = ?
	`, userID).Scan(&id, &p.UserID, &p.StoreName, &p.Currency, &synced, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: profile for user %s", ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}

	p.ID = ident.Parse(id)
	p.Synced = synced == 1
	if p.CreatedAt, err = store.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if p.UpdatedAt, err = store.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &p, nil
}

// ListProfiles returns every stored profile.
func (r *Repo) ListProfiles(ctx context.Context) ([]*Profile, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT id, user_id, store_name, currency, synced, created_at, updated_at
		FROM profiles ORDER BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*Profile
	for rows.Next() {
		var (
			p         Profile
			id        string
			synced    int
			createdAt string
			updatedAt string
		)
		if err := rows.Scan(&id, &p.UserID, &p.StoreName, &p.Currency, &synced, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		p.ID = ident.Parse(id)
		p.Synced = synced == 1
		if p.CreatedAt, err = store.ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		if p.UpdatedAt, err = store.ParseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("failed to parse updated_at: %w", err)
		}
		profiles = append(profiles, &p)
	}
	return profiles, rows.Err()
}

// AdoptProfileID swaps a temporary profile id for the server-assigned one.
// Profiles are keyed by user id, so no temp_id column is kept.
func (r *Repo) AdoptProfileID(ctx context.Context, tempID, persistentID string) error {
	if tempID == "" || persistentID == "" {
		return fmt.Errorf("%w: both ids are required for adoption", ErrValidation)
	}

	res, err := r.store.DB().ExecContext(ctx, `
		UPDATE profiles SET id = ?, synced = 1, updated_at = ? WHERE id = ?
	`, persistentID, store.FormatTime(time.Now().UTC()), tempID)
	if err != nil {
		return fmt.Errorf("failed to adopt profile id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: profile %s", ErrNotFound, tempID)
	}
	return nil
}
