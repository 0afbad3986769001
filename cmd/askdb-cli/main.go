// ABOUTME: Terminal client for askdb-gateway
// ABOUTME: Asks questions, streams progress, and renders results as tables

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: askdb-cli <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  ask \"question\"   Ask the database a question")
		fmt.Println("  status           Show gateway status")
		fmt.Println("  runs             List recent query runs")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  ASKDB_URL    Gateway base URL (default http://localhost:8080)")
		fmt.Println("  ASKDB_TOKEN  Bearer token or API key")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	baseURL := os.Getenv("ASKDB_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	client := NewClient(baseURL, os.Getenv("ASKDB_TOKEN"))

	var err error
	switch os.Args[1] {
	case "ask":
		err = runAsk(ctx, client, os.Args[2:])
	case "status":
		err = runStatus(ctx, client)
	case "runs":
		err = runRuns(ctx, client)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAsk(ctx context.Context, client *Client, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return fmt.Errorf("usage: askdb-cli ask \"question\"")
	}

	gray := color.New(color.FgHiBlack)
	terminal, err := client.Ask(ctx, question, func(ev StreamEvent) {
		switch ev.Type {
		case EventThinking, EventProgress:
			gray.Printf("  [%3d%%] %s\n", ev.Progress, ev.Message)
		}
	})
	if err != nil {
		return err
	}

	fmt.Println()
	if terminal.Type == EventError {
		printError(terminal.Err)
		os.Exit(1)
	}
	printResult(terminal.Result)
	return nil
}

func printError(qerr *QueryError) {
	red := color.New(color.FgRed)
	if qerr == nil {
		red.Println("  ✗ query failed")
		return
	}
	red.Printf("  ✗ %s\n", qerr.Message)
	color.New(color.FgHiBlack).Printf("    (%s)\n", qerr.Type)
}

func printResult(res *QueryResult) {
	if res == nil {
		return
	}

	color.New(color.FgHiBlack).Printf("  %s\n\n", res.SQL)
	printTable(res.Columns, res.Rows)

	summary := fmt.Sprintf("%d rows in %dms", res.TotalRows, res.ElapsedMS)
	if res.Truncated {
		summary += fmt.Sprintf(" (showing first %d)", res.RowCount)
	}
	color.New(color.FgGreen).Printf("\n  ✓ %s\n", summary)
}

// printTable renders rows with columns padded to their widest value.
func printTable(columns []string, rows []map[string]any) {
	if len(columns) == 0 {
		return
	}

	widths := make([]int, len(columns))
	cells := make([][]string, len(rows))
	for i, col := range columns {
		widths[i] = len(col)
	}
	for r, row := range rows {
		cells[r] = make([]string, len(columns))
		for i, col := range columns {
			cell := formatCell(row[col])
			cells[r][i] = cell
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	bold := color.New(color.Bold)
	fmt.Print("  ")
	for i, col := range columns {
		bold.Printf("%-*s  ", widths[i], col)
	}
	fmt.Println()

	fmt.Print("  ")
	for i := range columns {
		fmt.Print(strings.Repeat("-", widths[i]) + "  ")
	}
	fmt.Println()

	for _, row := range cells {
		fmt.Print("  ")
		for i, cell := range row {
			fmt.Printf("%-*s  ", widths[i], cell)
		}
		fmt.Println()
	}
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

func runStatus(ctx context.Context, client *Client) error {
	var status struct {
		ActiveSessions int   `json:"active_sessions"`
		ActiveRuns     int   `json:"active_runs"`
		UptimeSeconds  int64 `json:"uptime_seconds"`
	}
	if err := client.GetJSON(ctx, "/status", &status); err != nil {
		return err
	}

	fmt.Printf("  sessions: %d\n", status.ActiveSessions)
	fmt.Printf("  runs:     %d\n", status.ActiveRuns)
	fmt.Printf("  uptime:   %s\n", (time.Duration(status.UptimeSeconds) * time.Second).String())
	return nil
}

func runRuns(ctx context.Context, client *Client) error {
	var runs []struct {
		RunID      string    `json:"run_id"`
		Question   string    `json:"question"`
		Status     string    `json:"status"`
		RowCount   int       `json:"row_count"`
		Repairs    int       `json:"repairs"`
		ElapsedMS  int64     `json:"elapsed_ms"`
		FinishedAt time.Time `json:"finished_at"`
	}
	if err := client.GetJSON(ctx, "/runs", &runs); err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("  no runs yet")
		return nil
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	for _, r := range runs {
		if r.Status == "success" {
			green.Print("  ✓ ")
		} else {
			red.Print("  ✗ ")
		}
		question := r.Question
		if len(question) > 60 {
			question = question[:57] + "..."
		}
		fmt.Printf("%-60s  %s  %d rows  %dms  %s\n",
			question, r.FinishedAt.Local().Format("01-02 15:04"),
			r.RowCount, r.ElapsedMS, r.Status)
	}
	return nil
}
