// Command mym is an offline-first ledger for small shops. Every write
// lands in a local SQLite database first and is queued for sync; the
// daemon (or an explicit 'mym sync now') pushes the queue whenever the
// backend is reachable.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/hermonbest/my-money-sub001/internal/config"
	"github.com/hermonbest/my-money-sub001/internal/ledger"
	"github.com/hermonbest/my-money-sub001/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "mym",
	Short: "Offline-first ledger for small shops",
	Long: `mym keeps a shop's inventory, sales, and expenses in a local SQLite
database and syncs them to the backend whenever the network allows.

Writes never wait for the network: each one is stored locally and queued.
Records created offline carry temporary ids until the backend assigns real
ones; sales stay atomic across the sale, its line items, and the stock
decrements.

Run 'mym daemon' to sync continuously in the background, or 'mym sync now'
to push the queue once.`,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default: <data-dir>/config.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (default: ~/.mym)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log component activity to stderr")

	rootCmd.AddGroup(
		&cobra.Group{ID: "records", Title: "Record keeping:"},
		&cobra.Group{ID: "sync", Title: "Synchronization:"},
		&cobra.Group{ID: "tools", Title: "Tools:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves configuration from flags, environment, and the
// config file, in that order of precedence.
func loadConfig(cmd *cobra.Command) *config.Config {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.Data.Dir = dir
	}
	return cfg
}

// componentLogger is where internal components write. Quiet unless the
// user asked for --verbose; long-running commands pass their own.
func componentLogger(cmd *cobra.Command) *log.Logger {
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		return log.New(os.Stderr, "", log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}

// openLedger opens the local ledger for a one-shot command.
func openLedger(cmd *cobra.Command) *ledger.Ledger {
	return openLedgerWith(loadConfig(cmd), componentLogger(cmd))
}

func openLedgerWith(cfg *config.Config, logger *log.Logger) *ledger.Ledger {
	// Reusing compiled SQLite across runs keeps one-shot commands quick.
	if err := store.EnableCompilationCache(cfg.Data.CachePath()); err != nil {
		logger.Printf("compilation cache unavailable: %v", err)
	}

	led, err := ledger.Open(ledger.Options{Config: cfg, Logger: logger})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening ledger: %v\n", err)
		os.Exit(1)
	}
	return led
}

// currentUser resolves the acting user: the explicit flag when given,
// stored credentials when logged in, a local placeholder otherwise.
func currentUser(cmd *cobra.Command, led *ledger.Ledger) string {
	if user, _ := cmd.Flags().GetString("user"); user != "" {
		return user
	}
	if c, err := led.Credentials().Load(); err == nil && c.UserID != "" {
		return c.UserID
	}
	return "local"
}

// currentStore resolves the acting store id, if any.
func currentStore(cmd *cobra.Command, led *ledger.Ledger) string {
	if storeID, _ := cmd.Flags().GetString("store"); storeID != "" {
		return storeID
	}
	if c, err := led.Credentials().Load(); err == nil {
		return c.StoreID
	}
	return ""
}
