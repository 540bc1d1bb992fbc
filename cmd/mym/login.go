package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hermonbest/my-money-sub001/internal/creds"
)

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "sync",
	Short:   "Store backend credentials",
	Long: `Store the backend API token locally.

The token is prompted for (hidden) when stdin is a terminal, or read
from stdin otherwise:

  mym login --user u1 --store s1
  echo "$TOKEN" | mym login --user u1

Nothing is sent anywhere during login; the token is used on the next
sync. Queued work is never lost by logging in or out.`,
	Run: func(cmd *cobra.Command, args []string) {
		user, _ := cmd.Flags().GetString("user")
		storeID, _ := cmd.Flags().GetString("store")
		token, _ := cmd.Flags().GetString("token")

		if user == "" {
			fmt.Fprintf(os.Stderr, "Error: --user is required\n")
			os.Exit(1)
		}

		if token == "" {
			var err error
			token, err = readToken()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading token: %v\n", err)
				os.Exit(1)
			}
		}
		if token == "" {
			fmt.Fprintf(os.Stderr, "Error: empty token\n")
			os.Exit(1)
		}

		led := openLedger(cmd)
		defer led.Close()

		err := led.Login(creds.Credentials{
			Token:   token,
			UserID:  user,
			StoreID: storeID,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error saving credentials: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Logged in as %s; the token applies on the next sync\n", user)
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "sync",
	Short:   "Remove stored credentials",
	Run: func(cmd *cobra.Command, args []string) {
		led := openLedger(cmd)
		defer led.Close()

		if err := led.Logout(); err != nil {
			fmt.Fprintf(os.Stderr, "Error removing credentials: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("Logged out; queued work stays put")
	},
}

var whoamiCmd = &cobra.Command{
	Use:     "whoami",
	GroupID: "sync",
	Short:   "Show the stored identity",
	Run: func(cmd *cobra.Command, args []string) {
		led := openLedger(cmd)
		defer led.Close()

		c, err := led.Credentials().Load()
		if errors.Is(err, creds.ErrNoCredentials) {
			fmt.Println("Not logged in (records are kept under the local user)")
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading credentials: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("User:  %s\n", c.UserID)
		if c.StoreID != "" {
			fmt.Printf("Store: %s\n", c.StoreID)
		}
		fmt.Printf("Token: %s\n", maskToken(c.Token))
		fmt.Printf("Saved: %s\n", displayTime(c.SavedAt))
	},
}

// readToken prompts on a terminal, reads a line otherwise.
func readToken() (string, error) {
	if isTTY(os.Stdin) {
		fmt.Fprint(os.Stderr, "Token: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func init() {
	loginCmd.Flags().String("user", "", "Backend user id (required)")
	loginCmd.Flags().String("store", "", "Backend store id")
	loginCmd.Flags().String("token", "", "API token (prompted when omitted)")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
}
