package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hermonbest/my-money-sub001/internal/record"
)

var saleCmd = &cobra.Command{
	Use:     "sale",
	GroupID: "records",
	Short:   "Record and inspect sales",
	Long: `Record and inspect sales.

A sale writes the sale row, its line items, and the stock decrements in
one local transaction, then queues a single sync operation carrying the
whole sale. If any line would oversell an item the sale is rejected and
nothing changes.`,
}

var saleNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Record a sale",
	Long: `Record a sale of one or more items.

Each --item takes id:qty or id:qty:price; omitting the price sells at
the item's listed price. Ids may be temporary (temp_...) for stock that
has not synced yet.

Examples:
  mym sale new --item a1b2:2
  mym sale new --item a1b2:2 --item temp_01hx9:1:9.50 --payment mobile`,
	Run: func(cmd *cobra.Command, args []string) {
		itemSpecs, _ := cmd.Flags().GetStringArray("item")
		payment, _ := cmd.Flags().GetString("payment")

		if len(itemSpecs) == 0 {
			fmt.Fprintf(os.Stderr, "Error: at least one --item is required\n")
			os.Exit(1)
		}

		lines := make([]record.SaleLineInput, 0, len(itemSpecs))
		for _, spec := range itemSpecs {
			line, err := parseSaleLine(spec)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			lines = append(lines, line)
		}

		led := openLedger(cmd)
		defer led.Close()

		sale, err := led.Repo().ProcessSale(context.Background(), record.SaleInput{
			UserID:        currentUser(cmd, led),
			StoreID:       currentStore(cmd, led),
			PaymentMethod: payment,
			Lines:         lines,
		})
		if err != nil {
			switch {
			case errors.Is(err, record.ErrBusy):
				fmt.Fprintf(os.Stderr, "Error: another sale is being processed, try again\n")
			case record.IsValidation(err):
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			default:
				fmt.Fprintf(os.Stderr, "Error recording sale: %v\n", err)
			}
			os.Exit(1)
		}

		fmt.Printf("Sale %s recorded, queued for sync\n\n", sale.ID)
		printSale(sale)
	},
}

var saleListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List sales",
	Run: func(cmd *cobra.Command, args []string) {
		unsynced, _ := cmd.Flags().GetBool("unsynced")
		limit, _ := cmd.Flags().GetInt("limit")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		led := openLedger(cmd)
		defer led.Close()

		filter := record.SaleFilter{
			UserID:       currentUser(cmd, led),
			StoreID:      currentStore(cmd, led),
			OnlyUnsynced: unsynced,
			Limit:        limit,
		}
		if since, _ := cmd.Flags().GetString("since"); since != "" {
			t, err := parseDate(since)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			filter.Since = t
		}
		if until, _ := cmd.Flags().GetString("until"); until != "" {
			t, err := parseDate(until)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			filter.Until = t
		}

		sales, err := led.Repo().ListSales(context.Background(), filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing sales: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			printJSON(sales)
			return
		}

		if len(sales) == 0 {
			fmt.Println("No sales found")
			return
		}

		var total float64
		w := newTable()
		fmt.Fprintln(w, "ID\tSOLD AT\tTOTAL\tPAYMENT\tSYNC")
		for _, sale := range sales {
			total += sale.Total
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				sale.ID, displayTime(sale.SoldAt), money(sale.Total),
				sale.PaymentMethod, syncMark(sale.Synced))
		}
		w.Flush()
		fmt.Printf("\n%d sales, %s total\n", len(sales), money(total))
	},
}

var saleShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a sale with its line items",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jsonOutput, _ := cmd.Flags().GetBool("json")

		led := openLedger(cmd)
		defer led.Close()

		sale, err := led.Repo().GetSale(context.Background(), args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			printJSON(sale)
			return
		}

		fmt.Printf("Sale %s\n", sale.ID)
		fmt.Printf("Sold at:  %s\n", displayTime(sale.SoldAt))
		fmt.Printf("Payment:  %s\n", sale.PaymentMethod)
		fmt.Printf("Sync:     %s\n\n", syncMark(sale.Synced))
		printSale(sale)
	},
}

// parseSaleLine decodes an id:qty or id:qty:price spec.
func parseSaleLine(spec string) (record.SaleLineInput, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return record.SaleLineInput{}, fmt.Errorf("invalid item spec %q (want id:qty or id:qty:price)", spec)
	}

	qty, err := strconv.Atoi(parts[1])
	if err != nil || qty <= 0 {
		return record.SaleLineInput{}, fmt.Errorf("invalid quantity in %q", spec)
	}

	line := record.SaleLineInput{InventoryID: parts[0], Quantity: qty}
	if len(parts) == 3 {
		price, err := strconv.ParseFloat(parts[2], 64)
		if err != nil || price < 0 {
			return record.SaleLineInput{}, fmt.Errorf("invalid price in %q", spec)
		}
		line.UnitPrice = price
	}
	return line, nil
}

func printSale(sale *record.Sale) {
	w := newTable()
	fmt.Fprintln(w, "ITEM\tQTY\tPRICE\tLINE TOTAL")
	for _, item := range sale.Items {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
			item.Name, item.Quantity, money(item.UnitPrice), money(item.LineTotal))
	}
	fmt.Fprintf(w, "\tTOTAL\t\t%s\n", money(sale.Total))
	w.Flush()
}

func init() {
	saleNewCmd.Flags().StringArray("item", nil, "Line item as id:qty or id:qty:price (repeatable)")
	saleNewCmd.Flags().String("payment", "cash", "Payment method (cash, mobile, credit)")
	saleNewCmd.Flags().String("user", "", "Acting user id")
	saleNewCmd.Flags().String("store", "", "Acting store id")

	saleListCmd.Flags().String("since", "", "Only sales on or after this date")
	saleListCmd.Flags().String("until", "", "Only sales before this date")
	saleListCmd.Flags().Bool("unsynced", false, "Only sales not yet synced")
	saleListCmd.Flags().Int("limit", 0, "Maximum sales to show (0 = all)")
	saleListCmd.Flags().Bool("json", false, "Output as JSON")
	saleListCmd.Flags().String("user", "", "Acting user id")
	saleListCmd.Flags().String("store", "", "Acting store id")

	saleShowCmd.Flags().Bool("json", false, "Output as JSON")

	saleCmd.AddCommand(saleNewCmd)
	saleCmd.AddCommand(saleListCmd)
	saleCmd.AddCommand(saleShowCmd)
	rootCmd.AddCommand(saleCmd)
}
