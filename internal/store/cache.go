package store

import (
	"fmt"
	"os"

	"github.com/ncruces/go-sqlite3"
	"github.com/tetratelabs/wazero"
)

// EnableCompilationCache persists the compiled SQLite wasm module under
// dir so short-lived CLI runs skip recompiling it on every start. Call it
// before the first Open; later calls rebind the cache for new connections
// only.
func EnableCompilationCache(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	cache, err := wazero.NewCompilationCacheWithDir(dir)
	if err != nil {
		return fmt.Errorf("failed to open compilation cache: %w", err)
	}
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
	return nil
}
