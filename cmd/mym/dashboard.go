package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hermonbest/my-money-sub001/internal/dashboard"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "tools",
	Short:   "Serve the sync dashboard on its own",
	Long: `Serve the WebSocket sync dashboard without running the daemon.

Clients connecting to /ws receive queue statistics on an interval; the
/stats endpoint returns them on demand. Drain results and connectivity
edges are only broadcast when the dashboard runs inside the daemon
('mym daemon --dashboard').

Example usage:
  mym dashboard              # Serve on the configured port (default 4280)
  mym dashboard --port 9000  # Serve on a custom port

Connect with a WebSocket client:
  ws://localhost:4280/ws`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")
		refresh, _ := cmd.Flags().GetDuration("refresh")

		cfg := loadConfig(cmd)
		if port == 0 {
			port = cfg.Dashboard.Port
		}

		led := openLedgerWith(cfg, componentLogger(cmd))
		defer led.Close()

		logger := log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
		server := dashboard.NewServer(&dashboard.Config{
			Port:   port,
			Stats:  led.SyncStats,
			Logger: logger,
		})

		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start dashboard: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Dashboard server started on http://localhost:%d\n", port)
		fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", port)
		fmt.Printf("Health check: http://localhost:%d/health\n", port)
		if isTTY(os.Stdout) {
			fmt.Println("\nPress Ctrl+C to stop...")
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// Poll queue statistics so connected clients stay current even
		// without a daemon feeding events.
		handler := dashboard.NewHandler(server, logger)
		ticker := time.NewTicker(refresh)
		defer ticker.Stop()

	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-ticker.C:
				stats, err := led.SyncStats(ctx)
				if err != nil {
					logger.Printf("Failed to collect stats: %v", err)
					continue
				}
				handler.StatsUpdated(stats)
			}
		}

		fmt.Println("\nShutting down dashboard server...")
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("Dashboard server stopped")
	},
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 0, "Port to listen on (default: config dashboard.port)")
	dashboardCmd.Flags().Duration("refresh", 5*time.Second, "Stats broadcast interval")

	rootCmd.AddCommand(dashboardCmd)
}
