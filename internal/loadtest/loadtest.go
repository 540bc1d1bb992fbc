// Package loadtest exercises a ledger under concurrent write load.
//
// It simulates many cashiers recording sales against one local ledger while
// the dispatcher drains the queue in the background, validating that the
// sale lock, the queue, and the dispatcher hold up under contention: every
// sale lands locally exactly once and every queued operation reaches the
// backend.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hermonbest/my-money-sub001/internal/config"
	"github.com/hermonbest/my-money-sub001/internal/ledger"
	"github.com/hermonbest/my-money-sub001/internal/record"
	"github.com/hermonbest/my-money-sub001/internal/remote/memory"
)

// Options controls the shape of a load test run.
type Options struct {
	// Items is the number of inventory items to seed (default: 25).
	Items int

	// Workers is the number of concurrent cashiers (default: 8).
	Workers int

	// SalesPerWorker is how many sales each cashier records (default: 20).
	SalesPerWorker int

	// BatchSize is the dispatcher batch size (default: 50).
	BatchSize int

	// DataDir is where the throwaway ledger lives. Required; the caller
	// owns cleanup.
	DataDir string

	// Logger for run progress (default: stderr logger).
	Logger *log.Logger
}

// LatencyStats captures latency percentiles for one operation class.
type LatencyStats struct {
	Min    time.Duration
	Max    time.Duration
	Mean   time.Duration
	P50    time.Duration
	P95    time.Duration
	P99    time.Duration
	Count  int
	Errors int
}

// Result summarizes a completed load test.
type Result struct {
	// Sales holds ProcessSale latencies, including lock waits and busy
	// retries.
	Sales *LatencyStats

	// Drains holds queue drain latencies.
	Drains *LatencyStats

	// BusyRetries counts sales that hit the sale lock timeout and were
	// retried.
	BusyRetries int64

	// SalesRecorded is the number of sales in the local database after
	// the run.
	SalesRecorded int

	// OpsSynced is the number of queue operations confirmed by the
	// backend.
	OpsSynced int

	// RemoteSales is the number of sale rows the backend received.
	RemoteSales int

	// Elapsed is the wall-clock duration of the whole run.
	Elapsed time.Duration
}

const (
	testUserID  = "loadtest"
	testStoreID = "store-loadtest"
)

// Run seeds a throwaway ledger, hammers it with concurrent sales while a
// background drainer pushes the queue, then drains to empty and verifies
// the backend saw everything.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if opts.Items <= 0 {
		opts.Items = 25
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.SalesPerWorker <= 0 {
		opts.SalesPerWorker = 20
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	cfg := &config.Config{
		Data:    config.DataConfig{Dir: opts.DataDir},
		Backend: config.BackendConfig{Driver: "memory"},
		Sync: config.SyncConfig{
			Interval:      time.Hour,
			BatchSize:     opts.BatchSize,
			ProbeInterval: time.Hour,
		},
	}

	backend := memory.New()
	led, err := ledger.Open(ledger.Options{
		Config:  cfg,
		Backend: backend,
		Logger:  opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer led.Close()

	start := time.Now()

	itemIDs, err := seedInventory(ctx, led.Repo(), opts)
	if err != nil {
		return nil, err
	}
	opts.Logger.Printf("Seeded %d inventory items", len(itemIDs))

	var (
		wg          sync.WaitGroup
		busyRetries int64
	)
	resultsChan := make(chan []time.Duration, opts.Workers)
	errorsChan := make(chan error, opts.Workers)

	// Background drainer overlaps drains with live writes so the drain
	// single-flight guard sees real contention.
	drainStop := make(chan struct{})
	drainDone := make(chan []time.Duration, 1)
	go backgroundDrainer(ctx, led, drainStop, drainDone)

	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			// Deterministic per-worker source for reproducibility
			rng := rand.New(rand.NewSource(int64(workerID) + 1))
			durations := make([]time.Duration, 0, opts.SalesPerWorker)

			for j := 0; j < opts.SalesPerWorker; j++ {
				input := record.SaleInput{
					UserID:  testUserID,
					StoreID: testStoreID,
					Lines: []record.SaleLineInput{{
						InventoryID: itemIDs[rng.Intn(len(itemIDs))],
						Quantity:    1,
					}},
				}

				saleStart := time.Now()
				for {
					_, err := led.Repo().ProcessSale(ctx, input)
					if errors.Is(err, record.ErrBusy) {
						atomic.AddInt64(&busyRetries, 1)
						time.Sleep(time.Millisecond)
						continue
					}
					if err != nil {
						errorsChan <- fmt.Errorf("worker %d sale %d failed: %w", workerID, j, err)
						return
					}
					break
				}
				durations = append(durations, time.Since(saleStart))
			}

			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	close(drainStop)
	liveDrains := <-drainDone

	var saleErrors int
	for err := range errorsChan {
		saleErrors++
		opts.Logger.Printf("Worker error: %v", err)
	}

	var saleDurations []time.Duration
	for durations := range resultsChan {
		saleDurations = append(saleDurations, durations...)
	}
	if len(saleDurations) == 0 {
		return nil, fmt.Errorf("no sales completed (%d worker errors)", saleErrors)
	}

	// Drain whatever the background drainer did not get to.
	finalDrains, err := drainToEmpty(ctx, led)
	if err != nil {
		return nil, err
	}
	drainDurations := append(liveDrains, finalDrains...)

	res := &Result{
		Sales:       computeLatencyStats(saleDurations),
		Drains:      computeLatencyStats(drainDurations),
		BusyRetries: atomic.LoadInt64(&busyRetries),
		Elapsed:     time.Since(start),
	}
	res.Sales.Errors = saleErrors

	sales, err := led.Repo().ListSales(ctx, record.SaleFilter{UserID: testUserID})
	if err != nil {
		return nil, fmt.Errorf("failed to count sales: %w", err)
	}
	res.SalesRecorded = len(sales)

	queueStats, err := led.Queue().Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect queue stats: %w", err)
	}
	res.OpsSynced = queueStats.Synced
	res.RemoteSales = backend.Count(record.TableSales)

	opts.Logger.Printf("Run complete: %d sales, %d ops synced, %d busy retries in %v",
		res.SalesRecorded, res.OpsSynced, res.BusyRetries, res.Elapsed)

	return res, nil
}

// seedInventory creates the item pool with enough stock that no worker can
// run an item dry mid-test.
func seedInventory(ctx context.Context, repo *record.Repo, opts Options) ([]string, error) {
	stock := opts.Workers * opts.SalesPerWorker * 2

	itemIDs := make([]string, 0, opts.Items)
	for i := 0; i < opts.Items; i++ {
		item := &record.InventoryItem{
			UserID:    testUserID,
			StoreID:   testStoreID,
			Name:      fmt.Sprintf("Load item %03d", i),
			Quantity:  stock,
			UnitCost:  2.50,
			UnitPrice: 4.00,
		}
		if err := repo.CreateInventoryItem(ctx, item); err != nil {
			return nil, fmt.Errorf("failed to seed item %d: %w", i, err)
		}
		itemIDs = append(itemIDs, item.ID.String())
	}
	return itemIDs, nil
}

// backgroundDrainer drains the queue every 25ms until told to stop, then
// reports the latency of each drain that did work.
func backgroundDrainer(ctx context.Context, led *ledger.Ledger, stop <-chan struct{}, done chan<- []time.Duration) {
	var durations []time.Duration
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			done <- durations
			return
		case <-ctx.Done():
			done <- durations
			return
		case <-ticker.C:
			start := time.Now()
			res, err := led.Sync(ctx)
			if err != nil {
				// Overlapping drains land here; anything else will
				// surface again in the final drain.
				continue
			}
			if res.Processed > 0 {
				durations = append(durations, time.Since(start))
			}
		}
	}
}

// drainToEmpty keeps draining until a pass finds nothing to do.
func drainToEmpty(ctx context.Context, led *ledger.Ledger) ([]time.Duration, error) {
	var durations []time.Duration
	for {
		start := time.Now()
		res, err := led.Sync(ctx)
		if err != nil {
			return nil, fmt.Errorf("drain failed: %w", err)
		}
		if res.Processed == 0 {
			return durations, nil
		}
		durations = append(durations, time.Since(start))
	}
}

// computeLatencyStats calculates percentiles from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return &LatencyStats{
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / time.Duration(len(sorted)),
		P50:   sorted[len(sorted)*50/100],
		P95:   sorted[len(sorted)*95/100],
		P99:   sorted[len(sorted)*99/100],
		Count: len(sorted),
	}
}

// Fprint writes a human-readable report.
func (r *Result) Fprint(w io.Writer) {
	fmt.Fprintf(w, "Load test finished in %v\n", r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  Sales recorded: %d (busy retries: %d)\n", r.SalesRecorded, r.BusyRetries)
	fmt.Fprintf(w, "  Ops synced:     %d\n", r.OpsSynced)
	fmt.Fprintf(w, "  Remote sales:   %d\n", r.RemoteSales)
	fprintLatency(w, "Sale latency", r.Sales)
	fprintLatency(w, "Drain latency", r.Drains)
}

func fprintLatency(w io.Writer, label string, s *LatencyStats) {
	if s == nil || s.Count == 0 {
		fmt.Fprintf(w, "%s: no samples\n", label)
		return
	}
	fmt.Fprintf(w, "%s (%d samples):\n", label, s.Count)
	fmt.Fprintf(w, "  Min:  %v\n", s.Min)
	fmt.Fprintf(w, "  P50:  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean: %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:  %v\n", s.P95)
	fmt.Fprintf(w, "  P99:  %v\n", s.P99)
	fmt.Fprintf(w, "  Max:  %v\n", s.Max)
	if s.Errors > 0 {
		fmt.Fprintf(w, "  Errors: %d\n", s.Errors)
	}
}
