package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hermonbest/my-money-sub001/internal/record"
)

var profileCmd = &cobra.Command{
	Use:     "profile",
	GroupID: "records",
	Short:   "Manage the shop profile",
}

var profileSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Create or update the shop profile",
	Long: `Create or update the shop profile for the acting user.

Only the flags you pass change; an existing profile keeps its other
fields. The change is queued for sync.`,
	Run: func(cmd *cobra.Command, args []string) {
		led := openLedger(cmd)
		defer led.Close()

		ctx := context.Background()
		userID := currentUser(cmd, led)

		profile, err := led.Repo().GetProfile(ctx, userID)
		if errors.Is(err, record.ErrNotFound) {
			profile = &record.Profile{UserID: userID}
		} else if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if cmd.Flags().Changed("store-name") {
			profile.StoreName, _ = cmd.Flags().GetString("store-name")
		}
		if cmd.Flags().Changed("currency") {
			profile.Currency, _ = cmd.Flags().GetString("currency")
		}

		if err := led.Repo().UpsertProfile(ctx, profile); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving profile: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Profile for %s saved, queued for sync\n", userID)
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the shop profile",
	Run: func(cmd *cobra.Command, args []string) {
		jsonOutput, _ := cmd.Flags().GetBool("json")

		led := openLedger(cmd)
		defer led.Close()

		userID := currentUser(cmd, led)
		profile, err := led.Repo().GetProfile(context.Background(), userID)
		if errors.Is(err, record.ErrNotFound) {
			fmt.Printf("No profile for %s yet; run 'mym profile set'\n", userID)
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			printJSON(profile)
			return
		}

		fmt.Printf("User:       %s\n", profile.UserID)
		fmt.Printf("Store name: %s\n", profile.StoreName)
		fmt.Printf("Currency:   %s\n", profile.Currency)
		fmt.Printf("Sync:       %s\n", syncMark(profile.Synced))
		fmt.Printf("Updated:    %s\n", displayTime(profile.UpdatedAt))
	},
}

func init() {
	profileSetCmd.Flags().String("store-name", "", "Shop display name")
	profileSetCmd.Flags().String("currency", "", "Currency code, e.g. USD or ETB")
	profileSetCmd.Flags().String("user", "", "Acting user id")

	profileShowCmd.Flags().Bool("json", false, "Output as JSON")
	profileShowCmd.Flags().String("user", "", "Acting user id")

	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileShowCmd)
	rootCmd.AddCommand(profileCmd)
}
