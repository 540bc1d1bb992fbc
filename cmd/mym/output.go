package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"golang.org/x/term"
)

// isTTY reports whether the given file is a terminal. Pipelines and
// process managers get plain output without interactive hints.
func isTTY(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// newTable returns a tabwriter over stdout for aligned column output.
// Callers must Flush it.
func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

// money formats an amount for table display.
func money(amount float64) string {
	return fmt.Sprintf("%.2f", amount)
}

// syncMark renders a record's sync state.
func syncMark(synced bool) string {
	if synced {
		return "synced"
	}
	return "pending"
}

// displayTime renders a timestamp in local time for humans.
func displayTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// maskToken hides all but the tail of a token.
func maskToken(token string) string {
	if len(token) <= 6 {
		return "******"
	}
	return "******" + token[len(token)-4:]
}
