package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hermonbest/my-money-sub001/internal/daemon"
	"github.com/hermonbest/my-money-sub001/internal/dashboard"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the sync daemon",
	Long: `Run the sync daemon.

The daemon drains the queue on an interval while the backend is up,
drains immediately when connectivity comes back, and imports record
files dropped into the ingest directory. A lock file keeps a second
daemon from starting against the same data directory.

Logs rotate in <data-dir>/logs/daemon.log; --foreground logs to stderr
instead, for debugging. Backgrounding is left to a process manager:

  mym daemon                 # log to rotating file
  mym daemon --foreground    # log to stderr
  mym daemon --dashboard     # also serve the WebSocket dashboard`,
	Run: func(cmd *cobra.Command, args []string) {
		foreground, _ := cmd.Flags().GetBool("foreground")
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		dashboardPort, _ := cmd.Flags().GetInt("dashboard-port")

		cfg := loadConfig(cmd)

		var logWriter io.Writer = os.Stderr
		if !foreground {
			w, err := daemon.NewRotatingWriter(cfg.Data.LogPath(),
				cfg.Daemon.LogMaxSizeMB, cfg.Daemon.LogMaxBackups, cfg.Daemon.LogMaxAgeDays)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
				os.Exit(1)
			}
			defer w.Close()
			logWriter = w
		}

		led := openLedgerWith(cfg, log.New(logWriter, "", log.LstdFlags))
		defer led.Close()

		dcfg := daemon.DefaultConfig()
		dcfg.SyncInterval = cfg.Sync.Interval
		dcfg.WatchIngest = cfg.Daemon.WatchIngest
		dcfg.IngestDir = cfg.Data.IngestPath()
		dcfg.LockPath = cfg.Data.LockPath()
		dcfg.Logger = log.New(logWriter, "[daemon] ", log.LstdFlags)

		if withDashboard {
			if dashboardPort == 0 {
				dashboardPort = cfg.Dashboard.Port
			}
			dashLogger := log.New(logWriter, "[dashboard] ", log.LstdFlags)
			server := dashboard.NewServer(&dashboard.Config{
				Port:   dashboardPort,
				Stats:  led.SyncStats,
				Logger: dashLogger,
			})
			if err := server.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error starting dashboard: %v\n", err)
				os.Exit(1)
			}
			defer server.Stop()
			dcfg.Notifier = dashboard.NewHandler(server, dashLogger)

			fmt.Printf("Dashboard: http://localhost:%d (ws://localhost:%d/ws)\n",
				dashboardPort, dashboardPort)
		}

		d, err := daemon.NewWithConfig(led, dcfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Sync daemon started (data: %s, interval: %v)\n",
			cfg.Data.Dir, cfg.Sync.Interval)
		if isTTY(os.Stdout) {
			fmt.Println("Press Ctrl+C to stop")
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// Start blocks until the context is cancelled
		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("Sync daemon stopped")
	},
}

func init() {
	daemonCmd.Flags().Bool("foreground", false, "Log to stderr instead of the rotating file")
	daemonCmd.Flags().Bool("dashboard", false, "Serve the WebSocket dashboard alongside the daemon")
	daemonCmd.Flags().Int("dashboard-port", 0, "Dashboard port (default: config dashboard.port)")

	rootCmd.AddCommand(daemonCmd)
}
