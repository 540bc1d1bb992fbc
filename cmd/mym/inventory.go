package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hermonbest/my-money-sub001/internal/record"
)

var inventoryCmd = &cobra.Command{
	Use:     "inventory",
	Aliases: []string{"inv"},
	GroupID: "records",
	Short:   "Manage stock items",
	Long: `Manage the shop's stock.

Items are stored locally and queued for sync. An item created while
offline gets a temporary id (temp_...) that is swapped for the backend's
id on first successful sync; commands accept either form.`,
}

var inventoryAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a stock item",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		qty, _ := cmd.Flags().GetInt("qty")
		cost, _ := cmd.Flags().GetFloat64("cost")
		price, _ := cmd.Flags().GetFloat64("price")

		led := openLedger(cmd)
		defer led.Close()

		item := &record.InventoryItem{
			UserID:    currentUser(cmd, led),
			StoreID:   currentStore(cmd, led),
			Name:      args[0],
			Quantity:  qty,
			UnitCost:  cost,
			UnitPrice: price,
		}

		if err := led.Repo().CreateInventoryItem(context.Background(), item); err != nil {
			fmt.Fprintf(os.Stderr, "Error adding item: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Added %s (%s), queued for sync\n", item.Name, item.ID)
	},
}

var inventoryListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List stock items",
	Run: func(cmd *cobra.Command, args []string) {
		search, _ := cmd.Flags().GetString("search")
		unsynced, _ := cmd.Flags().GetBool("unsynced")
		limit, _ := cmd.Flags().GetInt("limit")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		led := openLedger(cmd)
		defer led.Close()

		items, err := led.Repo().ListInventory(context.Background(), record.InventoryFilter{
			UserID:       currentUser(cmd, led),
			StoreID:      currentStore(cmd, led),
			NameContains: search,
			OnlyUnsynced: unsynced,
			Limit:        limit,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing inventory: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			printJSON(items)
			return
		}

		if len(items) == 0 {
			fmt.Println("No items found")
			return
		}

		w := newTable()
		fmt.Fprintln(w, "ID\tNAME\tQTY\tCOST\tPRICE\tSYNC")
		for _, item := range items {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
				item.ID, item.Name, item.Quantity,
				money(item.UnitCost), money(item.UnitPrice), syncMark(item.Synced))
		}
		w.Flush()
	},
}

var inventoryUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a stock item",
	Long: `Update a stock item by id or temporary id.

Only the flags you pass change; everything else keeps its stored value.
The update is queued for sync like any other write.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		led := openLedger(cmd)
		defer led.Close()

		ctx := context.Background()
		item, err := led.Repo().GetInventoryItem(ctx, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if cmd.Flags().Changed("name") {
			item.Name, _ = cmd.Flags().GetString("name")
		}
		if cmd.Flags().Changed("qty") {
			item.Quantity, _ = cmd.Flags().GetInt("qty")
		}
		if cmd.Flags().Changed("cost") {
			item.UnitCost, _ = cmd.Flags().GetFloat64("cost")
		}
		if cmd.Flags().Changed("price") {
			item.UnitPrice, _ = cmd.Flags().GetFloat64("price")
		}

		if err := led.Repo().UpdateInventoryItem(ctx, item); err != nil {
			fmt.Fprintf(os.Stderr, "Error updating item: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Updated %s (%s), queued for sync\n", item.Name, item.ID)
	},
}

var inventoryRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a stock item",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		led := openLedger(cmd)
		defer led.Close()

		if err := led.Repo().DeleteInventoryItem(context.Background(), args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error deleting item: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Deleted %s, queued for sync\n", args[0])
	},
}

func init() {
	inventoryAddCmd.Flags().Int("qty", 0, "Initial quantity")
	inventoryAddCmd.Flags().Float64("cost", 0, "Unit cost")
	inventoryAddCmd.Flags().Float64("price", 0, "Unit selling price")
	inventoryAddCmd.Flags().String("user", "", "Acting user id")
	inventoryAddCmd.Flags().String("store", "", "Acting store id")

	inventoryListCmd.Flags().String("search", "", "Filter by name substring")
	inventoryListCmd.Flags().Bool("unsynced", false, "Only items not yet synced")
	inventoryListCmd.Flags().Int("limit", 0, "Maximum items to show (0 = all)")
	inventoryListCmd.Flags().Bool("json", false, "Output as JSON")
	inventoryListCmd.Flags().String("user", "", "Acting user id")
	inventoryListCmd.Flags().String("store", "", "Acting store id")

	inventoryUpdateCmd.Flags().String("name", "", "New name")
	inventoryUpdateCmd.Flags().Int("qty", 0, "New quantity")
	inventoryUpdateCmd.Flags().Float64("cost", 0, "New unit cost")
	inventoryUpdateCmd.Flags().Float64("price", 0, "New unit selling price")

	inventoryCmd.AddCommand(inventoryAddCmd)
	inventoryCmd.AddCommand(inventoryListCmd)
	inventoryCmd.AddCommand(inventoryUpdateCmd)
	inventoryCmd.AddCommand(inventoryRmCmd)
	rootCmd.AddCommand(inventoryCmd)
}
