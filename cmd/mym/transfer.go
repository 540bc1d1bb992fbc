package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hermonbest/my-money-sub001/internal/migrate"
)

var exportCmd = &cobra.Command{
	Use:     "export <file>",
	GroupID: "tools",
	Short:   "Export records to a JSONL file",
	Long: `Export the ledger's records to a JSONL file, one record per line.

The file carries full sync state, so importing it elsewhere re-queues
whatever this device had not pushed yet.

Examples:
  mym export shop.jsonl
  mym export shop.jsonl --table inventory --table sales
  mym export shop.jsonl --user u1`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		tables, _ := cmd.Flags().GetStringSlice("table")
		user, _ := cmd.Flags().GetString("user")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		led := openLedger(cmd)
		defer led.Close()

		res, err := migrate.Export(context.Background(), led.Repo(), migrate.ExportOptions{
			Path:   args[0],
			UserID: user,
			Tables: tables,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error exporting: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			printJSON(res)
			return
		}

		fmt.Printf("Exported %d records to %s\n", res.Records, res.Path)
		for table, n := range res.ByTable {
			fmt.Printf("  %s: %d\n", table, n)
		}
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "tools",
	Short:   "Import records from a JSONL export",
	Long: `Import records from a JSONL export into this ledger.

Records that already exist here are skipped, so importing the same file
twice is harmless. Records the source device had not synced are queued
for sync on this device. The daemon does the same thing automatically
for files dropped into <data-dir>/ingest.

Examples:
  mym import shop.jsonl --dry-run
  mym import shop.jsonl --backup`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backup, _ := cmd.Flags().GetBool("backup")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		led := openLedger(cmd)
		defer led.Close()

		res, err := migrate.Import(context.Background(), led.Store(), led.Queue(), migrate.ImportOptions{
			Path:   args[0],
			DryRun: dryRun,
			Backup: backup,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error importing: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			printJSON(res)
			return
		}

		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		fmt.Printf("%s %d records (%d skipped, %d queued for sync)\n",
			verb, res.Imported, res.Skipped, res.Requeued)
		if res.BackupCreated != "" {
			fmt.Printf("Backup: %s\n", res.BackupCreated)
		}
		for _, msg := range res.Errors {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", msg)
		}
		if len(res.Errors) > 0 {
			os.Exit(1)
		}
	},
}

var seedCmd = &cobra.Command{
	Use:     "seed <file>",
	GroupID: "tools",
	Short:   "Apply a starter profile and stock list",
	Long: `Apply a seed file (TOML or YAML) with a shop profile and starting
stock. Seeding is idempotent: items the shop already has, by name, are
skipped, so re-running a seed never duplicates stock.

A seed file looks like:

  [profile]
  user_id = "u1"
  store_name = "Corner Shop"
  currency = "ETB"

  [[inventory]]
  name = "Rice 5kg"
  quantity = 40
  unit_cost = 3.2
  unit_price = 4.5

Examples:
  mym seed starter.toml
  mym seed starter.yaml --user u2 --dry-run`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		user, _ := cmd.Flags().GetString("user")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		seed, err := migrate.LoadSeed(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading seed: %v\n", err)
			os.Exit(1)
		}

		led := openLedger(cmd)
		defer led.Close()

		res, err := migrate.ApplySeed(context.Background(), led.Repo(), seed, migrate.SeedOptions{
			UserID: user,
			DryRun: dryRun,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error applying seed: %v\n", err)
			os.Exit(1)
		}

		verb := "Applied"
		if dryRun {
			verb = "Would apply"
		}
		fmt.Printf("%s seed: profile=%v, %d items created, %d skipped\n",
			verb, res.ProfileApplied, res.ItemsCreated, res.ItemsSkipped)
	},
}

func init() {
	exportCmd.Flags().StringSlice("table", nil, "Limit to a table (repeatable: inventory, sales, expenses, profiles)")
	exportCmd.Flags().String("user", "", "Limit to one user's records")
	exportCmd.Flags().Bool("json", false, "Output summary as JSON")

	importCmd.Flags().Bool("dry-run", false, "Report what would change without writing")
	importCmd.Flags().Bool("backup", false, "Snapshot the database file before writing")
	importCmd.Flags().Bool("json", false, "Output summary as JSON")

	seedCmd.Flags().String("user", "", "User to seed records under")
	seedCmd.Flags().Bool("dry-run", false, "Report what would change without writing")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(seedCmd)
}
