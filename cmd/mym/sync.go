package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hermonbest/my-money-sub001/internal/dispatch"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Push queued writes to the backend",
	Long: `Inspect and drain the sync queue.

Every local write sits in the queue until a drain pushes it to the
backend. Drains happen continuously under 'mym daemon'; 'mym sync now'
runs a single drain by hand.`,
}

var syncNowCmd = &cobra.Command{
	Use:   "now",
	Short: "Drain the queue once",
	Run: func(cmd *cobra.Command, args []string) {
		jsonOutput, _ := cmd.Flags().GetBool("json")

		led := openLedger(cmd)
		defer led.Close()

		res, err := led.Sync(context.Background())
		if err != nil {
			if errors.Is(err, dispatch.ErrDrainInProgress) {
				fmt.Fprintf(os.Stderr, "Error: a drain is already running (daemon?)\n")
			} else {
				fmt.Fprintf(os.Stderr, "Error draining queue: %v\n", err)
			}
			os.Exit(1)
		}

		if jsonOutput {
			printJSON(res)
			return
		}

		if res.Processed == 0 {
			fmt.Println("Queue is empty, nothing to sync")
			return
		}

		fmt.Printf("Processed %d operations: %d succeeded, %d failed\n",
			res.Processed, res.Succeeded, res.Failed)
		for _, opErr := range res.Errors {
			state := "will retry"
			if opErr.Exhausted {
				state = "gave up"
			}
			fmt.Printf("  %s: %s (%s, attempt %d)\n",
				opErr.OperationKey, opErr.Message, state, opErr.Attempts)
		}
		if backoff := res.Backoff(); backoff > 0 {
			fmt.Printf("Next retry advised in %v\n", backoff)
		}
	},
}

var syncStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue statistics",
	Run: func(cmd *cobra.Command, args []string) {
		jsonOutput, _ := cmd.Flags().GetBool("json")

		led := openLedger(cmd)
		defer led.Close()

		stats, err := led.SyncStats(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error collecting stats: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			printJSON(stats)
			return
		}

		fmt.Printf("Pending:   %d\n", stats.Pending)
		fmt.Printf("Retryable: %d\n", stats.Retryable)
		fmt.Printf("Failed:    %d\n", stats.Failed)
		fmt.Printf("Synced:    %d\n", stats.Synced)
		if len(stats.ByTable) > 0 {
			fmt.Println("\nPending by table:")
			w := newTable()
			for table, n := range stats.ByTable {
				fmt.Fprintf(w, "  %s\t%d\n", table, n)
			}
			w.Flush()
		}
		if !stats.LastProcessed.IsZero() {
			fmt.Printf("\nLast drain: %s\n", displayTime(stats.LastProcessed))
		}
		if stats.IsProcessing {
			fmt.Println("A drain is running right now")
		}
	},
}

var syncClearFailedCmd = &cobra.Command{
	Use:   "clear-failed",
	Short: "Drop operations that ran out of retry attempts",
	Long: `Drop queue entries that exhausted their retry attempts.

The local records stay; only the queued operations are removed. Use this
after fixing whatever the backend kept rejecting, then re-edit the
records to queue them again.`,
	Run: func(cmd *cobra.Command, args []string) {
		led := openLedger(cmd)
		defer led.Close()

		n, err := led.ClearFailedOperations(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error clearing failed operations: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Cleared %d failed operations\n", n)
	},
}

var syncPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old synced queue entries",
	Run: func(cmd *cobra.Command, args []string) {
		olderThan, _ := cmd.Flags().GetDuration("older-than")

		led := openLedger(cmd)
		defer led.Close()

		n, err := led.PruneSyncHistory(context.Background(), olderThan)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error pruning sync history: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Pruned %d synced entries older than %v\n", n, olderThan)
	},
}

func init() {
	syncNowCmd.Flags().Bool("json", false, "Output as JSON")
	syncStatsCmd.Flags().Bool("json", false, "Output as JSON")
	syncPruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "Age threshold for synced entries")

	syncCmd.AddCommand(syncNowCmd)
	syncCmd.AddCommand(syncStatsCmd)
	syncCmd.AddCommand(syncClearFailedCmd)
	syncCmd.AddCommand(syncPruneCmd)
	rootCmd.AddCommand(syncCmd)
}
