package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/hermonbest/my-money-sub001/internal/loadtest"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "tools",
	Short:   "Run a concurrent-sale load test",
	Long: `Run a load test against a throwaway ledger with an in-memory backend.

Concurrent workers record sales while the queue drains in the
background, measuring sale and drain latency and verifying that every
operation reaches the backend exactly once.

Examples:
  mym bench
  mym bench --workers 16 --sales 50
  mym bench --json`,
	Run: func(cmd *cobra.Command, args []string) {
		items, _ := cmd.Flags().GetInt("items")
		workers, _ := cmd.Flags().GetInt("workers")
		sales, _ := cmd.Flags().GetInt("sales")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		if workers <= 0 {
			fmt.Fprintf(os.Stderr, "Error: --workers must be positive\n")
			os.Exit(1)
		}
		if sales <= 0 {
			fmt.Fprintf(os.Stderr, "Error: --sales must be positive\n")
			os.Exit(1)
		}

		dir, err := os.MkdirTemp("", "mym-bench-*")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating temp directory: %v\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(dir)

		// Progress goes to stderr so --json output stays clean.
		logger := log.New(io.Discard, "", 0)
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			logger = log.New(os.Stderr, "", log.LstdFlags)
		} else if !jsonOutput {
			logger = log.New(os.Stderr, "", 0)
		}

		res, err := loadtest.Run(context.Background(), loadtest.Options{
			Items:          items,
			Workers:        workers,
			SalesPerWorker: sales,
			DataDir:        dir,
			Logger:         logger,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			printJSON(map[string]interface{}{
				"sales_recorded": res.SalesRecorded,
				"ops_synced":     res.OpsSynced,
				"remote_sales":   res.RemoteSales,
				"busy_retries":   res.BusyRetries,
				"elapsed_ms":     res.Elapsed.Milliseconds(),
				"sale_latency": map[string]interface{}{
					"min_us":  res.Sales.Min.Microseconds(),
					"p50_us":  res.Sales.P50.Microseconds(),
					"mean_us": res.Sales.Mean.Microseconds(),
					"p95_us":  res.Sales.P95.Microseconds(),
					"p99_us":  res.Sales.P99.Microseconds(),
					"max_us":  res.Sales.Max.Microseconds(),
					"count":   res.Sales.Count,
					"errors":  res.Sales.Errors,
				},
				"drain_latency": map[string]interface{}{
					"min_us":  res.Drains.Min.Microseconds(),
					"p50_us":  res.Drains.P50.Microseconds(),
					"mean_us": res.Drains.Mean.Microseconds(),
					"p95_us":  res.Drains.P95.Microseconds(),
					"p99_us":  res.Drains.P99.Microseconds(),
					"max_us":  res.Drains.Max.Microseconds(),
					"count":   res.Drains.Count,
				},
			})
			return
		}

		res.Fprint(os.Stdout)

		// A lost operation is a correctness failure, not a slow run.
		expected := workers * sales
		if res.SalesRecorded != expected || res.RemoteSales != expected {
			fmt.Fprintf(os.Stderr, "WARNING: expected %d sales locally and remotely, got %d/%d\n",
				expected, res.SalesRecorded, res.RemoteSales)
			os.Exit(1)
		}
	},
}

func init() {
	benchCmd.Flags().Int("items", 25, "Inventory items to seed")
	benchCmd.Flags().Int("workers", 8, "Concurrent cashiers")
	benchCmd.Flags().Int("sales", 20, "Sales per cashier")
	benchCmd.Flags().Bool("json", false, "Output results as JSON")
	benchCmd.Flags().Bool("verbose", false, "Log each drain as it happens")

	rootCmd.AddCommand(benchCmd)
}
