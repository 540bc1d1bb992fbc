package migrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/hermonbest/my-money-sub001/internal/record"
)

// Seed describes a first-run dataset: the store profile and the starting
// inventory. Seeds are idempotent per item name, so running the same file
// twice creates nothing new.
type Seed struct {
	Profile   *SeedProfile `toml:"profile" yaml:"profile"`
	Inventory []SeedItem   `toml:"inventory" yaml:"inventory"`
}

// SeedProfile is the store profile section of a seed file.
type SeedProfile struct {
	UserID    string `toml:"user_id" yaml:"user_id"`
	StoreName string `toml:"store_name" yaml:"store_name"`
	Currency  string `toml:"currency" yaml:"currency"`
}

// SeedItem is one starting inventory item.
type SeedItem struct {
	Name      string  `toml:"name" yaml:"name"`
	Quantity  int     `toml:"quantity" yaml:"quantity"`
	UnitCost  float64 `toml:"unit_cost" yaml:"unit_cost"`
	UnitPrice float64 `toml:"unit_price" yaml:"unit_price"`
}

// LoadSeed parses a seed file, picking the decoder by extension.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed Seed
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &seed); err != nil {
			return nil, fmt.Errorf("failed to parse TOML seed: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &seed); err != nil {
			return nil, fmt.Errorf("failed to parse YAML seed: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported seed format %q (want .toml, .yaml, or .yml)", filepath.Ext(path))
	}
	return &seed, nil
}

// SeedOptions configures ApplySeed.
type SeedOptions struct {
	// UserID overrides the seed's profile user. Required when the seed
	// has no profile section.
	UserID string

	// DryRun reports what would change without writing.
	DryRun bool
}

// SeedResult reports what ApplySeed did.
type SeedResult struct {
	ProfileApplied bool `json:"profile_applied"`
	ItemsCreated   int  `json:"items_created"`
	ItemsSkipped   int  `json:"items_skipped"`
}

// ApplySeed writes the seed through the repository, so every created
// record is queued for sync like any other local mutation. Items the user
// already stocks, matched by name, are left alone.
func ApplySeed(ctx context.Context, repo *record.Repo, seed *Seed, opts SeedOptions) (*SeedResult, error) {
	if seed == nil {
		return nil, fmt.Errorf("seed is required")
	}

	userID := opts.UserID
	if userID == "" && seed.Profile != nil {
		userID = seed.Profile.UserID
	}
	if userID == "" {
		return nil, fmt.Errorf("seed has no user: set profile.user_id or pass one explicitly")
	}

	result := &SeedResult{}

	if seed.Profile != nil {
		if !opts.DryRun {
			err := repo.UpsertProfile(ctx, &record.Profile{
				UserID:    userID,
				StoreName: seed.Profile.StoreName,
				Currency:  seed.Profile.Currency,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to seed profile: %w", err)
			}
		}
		result.ProfileApplied = true
	}

	for _, item := range seed.Inventory {
		exists, err := itemNameExists(ctx, repo, userID, item.Name)
		if err != nil {
			return nil, err
		}
		if exists {
			result.ItemsSkipped++
			continue
		}
		if !opts.DryRun {
			err := repo.CreateInventoryItem(ctx, &record.InventoryItem{
				UserID:    userID,
				Name:      item.Name,
				Quantity:  item.Quantity,
				UnitCost:  item.UnitCost,
				UnitPrice: item.UnitPrice,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to seed item %q: %w", item.Name, err)
			}
		}
		result.ItemsCreated++
	}

	return result, nil
}

func itemNameExists(ctx context.Context, repo *record.Repo, userID, name string) (bool, error) {
	matches, err := repo.ListInventory(ctx, record.InventoryFilter{UserID: userID, NameContains: name})
	if err != nil {
		return false, err
	}
	for _, m := range matches {
		if m.Name == name {
			return true, nil
		}
	}
	return false, nil
}
