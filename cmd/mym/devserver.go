package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hermonbest/my-money-sub001/internal/remote/devserver"
)

var devserverCmd = &cobra.Command{
	Use:     "devserver",
	GroupID: "tools",
	Short:   "Run a throwaway backend for local development",
	Long: `Run an in-memory backend speaking the sync REST protocol.

Rows live in memory and vanish on exit. Point a ledger at it to watch
the full sync cycle without a real backend:

  mym devserver --port 8090 --token dev
  MYM_BACKEND_URL=http://localhost:8090 mym sync now`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")
		token, _ := cmd.Flags().GetString("token")

		cfg := loadConfig(cmd)
		if port == 0 {
			port = cfg.DevServer.Port
		}
		if token == "" {
			token = cfg.DevServer.Token
		}

		server := devserver.NewServer(&devserver.Config{
			Port:    port,
			Version: cfg.DevServer.Version,
			Token:   token,
			Logger:  log.New(os.Stderr, "[devserver] ", log.LstdFlags),
		})

		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start dev server: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Dev server listening on %s\n", server.URL())
		fmt.Printf("Point a ledger at it with MYM_BACKEND_URL=%s\n", server.URL())
		if token != "" {
			fmt.Println("Requests must carry the configured token")
		}
		if isTTY(os.Stdout) {
			fmt.Println("\nPress Ctrl+C to stop...")
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		<-ctx.Done()

		fmt.Println("\nShutting down dev server...")
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("Dev server stopped")
	},
}

func init() {
	devserverCmd.Flags().IntP("port", "p", 0, "Port to listen on (default: config devserver.port)")
	devserverCmd.Flags().String("token", "", "Require this API token (default: config devserver.token)")

	rootCmd.AddCommand(devserverCmd)
}
