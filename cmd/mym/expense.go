package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hermonbest/my-money-sub001/internal/record"
)

var expenseCmd = &cobra.Command{
	Use:     "expense",
	Aliases: []string{"exp"},
	GroupID: "records",
	Short:   "Track shop expenses",
}

var expenseAddCmd = &cobra.Command{
	Use:   "add <amount>",
	Short: "Record an expense",
	Long: `Record an expense.

The date accepts plain forms (2025-08-20) and casual English, which is
handy when backfilling: "yesterday", "last friday", "aug 12".

Examples:
  mym expense add 120 --category transport
  mym expense add 45.50 --category stock --note "flour restock" --date yesterday`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		amount, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid amount %q\n", args[0])
			os.Exit(1)
		}

		category, _ := cmd.Flags().GetString("category")
		note, _ := cmd.Flags().GetString("note")

		led := openLedger(cmd)
		defer led.Close()

		expense := &record.Expense{
			UserID:   currentUser(cmd, led),
			StoreID:  currentStore(cmd, led),
			Category: category,
			Amount:   amount,
			Note:     note,
		}

		if date, _ := cmd.Flags().GetString("date"); date != "" {
			t, err := parseDate(date)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			expense.SpentAt = t
		}

		if err := led.Repo().CreateExpense(context.Background(), expense); err != nil {
			fmt.Fprintf(os.Stderr, "Error adding expense: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Recorded %s for %s (%s), queued for sync\n",
			money(expense.Amount), expense.Category, expense.ID)
	},
}

var expenseListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List expenses",
	Run: func(cmd *cobra.Command, args []string) {
		category, _ := cmd.Flags().GetString("category")
		limit, _ := cmd.Flags().GetInt("limit")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		led := openLedger(cmd)
		defer led.Close()

		filter := record.ExpenseFilter{
			UserID:   currentUser(cmd, led),
			StoreID:  currentStore(cmd, led),
			Category: category,
			Limit:    limit,
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

		expenses, err := led.Repo().ListExpenses(context.Background(), filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing expenses: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			printJSON(expenses)
			return
		}

		if len(expenses) == 0 {
			fmt.Println("No expenses found")
			return
		}

		var total float64
		w := newTable()
		fmt.Fprintln(w, "ID\tSPENT AT\tCATEGORY\tAMOUNT\tNOTE\tSYNC")
		for _, e := range expenses {
			total += e.Amount
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.ID, displayTime(e.SpentAt), e.Category, money(e.Amount),
				e.Note, syncMark(e.Synced))
		}
		w.Flush()
		fmt.Printf("\n%d expenses, %s total\n", len(expenses), money(total))
	},
}

var expenseRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete an expense",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		led := openLedger(cmd)
		defer led.Close()

		if err := led.Repo().DeleteExpense(context.Background(), args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error deleting expense: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Deleted %s, queued for sync\n", args[0])
	},
}

func init() {
	expenseAddCmd.Flags().String("category", "", "Expense category (required)")
	expenseAddCmd.Flags().String("note", "", "Free-form note")
	expenseAddCmd.Flags().String("date", "", "When the money was spent (default: now)")
	expenseAddCmd.Flags().String("user", "", "Acting user id")
	expenseAddCmd.Flags().String("store", "", "Acting store id")
	_ = expenseAddCmd.MarkFlagRequired("category")

	expenseListCmd.Flags().String("category", "", "Filter by category")
	expenseListCmd.Flags().String("since", "", "Only expenses on or after this date")
	expenseListCmd.Flags().String("until", "", "Only expenses before this date")
	expenseListCmd.Flags().Int("limit", 0, "Maximum expenses to show (0 = all)")
	expenseListCmd.Flags().Bool("json", false, "Output as JSON")
	expenseListCmd.Flags().String("user", "", "Acting user id")
	expenseListCmd.Flags().String("store", "", "Acting store id")

	expenseCmd.AddCommand(expenseAddCmd)
	expenseCmd.AddCommand(expenseListCmd)
	expenseCmd.AddCommand(expenseRmCmd)
	rootCmd.AddCommand(expenseCmd)
}
