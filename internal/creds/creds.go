// Package creds persists the backend credential between runs.
//
// The token lives in one JSON file next to the database, written
// atomically through a temp file and kept at mode 0600. Losing the file
// is not fatal: the app keeps working offline and the queue holds every
// write until someone logs in again.
package creds

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNoCredentials is returned by Load when nothing has been saved yet.
var ErrNoCredentials = errors.New("no stored credentials")

// Credentials is what a login leaves behind.
type Credentials struct {
	Token   string    `json:"token"`
	UserID  string    `json:"user_id,omitempty"`
	StoreID string    `json:"store_id,omitempty"`
	SavedAt time.Time `json:"saved_at"`
}

// Store reads and writes one credentials file.
type Store struct {
	path string
}

// NewStore creates a store over the given file path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("credentials path is required")
	}
	return &Store{path: path}, nil
}

// Path returns the credentials file location.
func (s *Store) Path() string { return s.path }

// Save writes the credentials atomically, stamping SavedAt.
func (s *Store) Save(c Credentials) error {
	if strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("token is required")
	}
	c.SavedAt = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Load reads the saved credentials.
func (s *Store) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if c.Token == "" {
		return nil, ErrNoCredentials
	}
	return &c, nil
}

// Clear removes the stored credentials. Clearing an empty store succeeds.
func (s *Store) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	return nil
}
