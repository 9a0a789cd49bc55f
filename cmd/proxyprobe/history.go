package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nao1215/proxyprobe/internal/database"
	"github.com/nao1215/proxyprobe/internal/model"
	"github.com/nao1215/proxyprobe/internal/report"
)

// DefaultHistoryLimit is the number of checks history shows by default.
const DefaultHistoryLimit = 20

// NewHistoryCmd creates the history command.
// This command reads past check results from the history database.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [host:port]",
		Short: "Show past check results",
		Long: `History displays check results stored in the history database.

With an address it lists the most recent checks of that proxy. With --list it
shows every proxy in the database with its success rate.

Examples:
  # Show the last checks of a proxy
  proxyprobe history 192.0.2.10:8080

  # Show the last 5 checks as JSON
  proxyprobe history --limit 5 --json 192.0.2.10:8080

  # List every proxy with its success rate
  proxyprobe history --list`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().BoolP("list", "l", false,
		"List all proxies in the database with their success rate")
	cmd.Flags().IntP("limit", "n", DefaultHistoryLimit,
		"Maximum number of checks to show")

	cmd.Flags().BoolP("json", "j", false,
		"Output in JSON format")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output in Markdown format")
	cmd.Flags().String("db-dir", "",
		"History database directory (default: XDG data directory)")

	return cmd
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, args []string) error {
	list, err := cmd.Flags().GetBool("list")
	if err != nil {
		return err
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	if limit <= 0 {
		return errors.New("--limit must be positive")
	}

	// Validate arguments before opening the database.
	var proxy string
	if !list {
		if len(args) == 0 {
			return errors.New("proxy address is required (use --list to see checked proxies)")
		}
		target, err := model.ParseTarget(args[0])
		if err != nil {
			return fmt.Errorf("invalid proxy address: %w", err)
		}
		proxy = target.Address()
	}

	format, err := formatFromFlags(cmd)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := overrideString(cmd, "db-dir", &cfg.DBDir); err != nil {
		return err
	}
	if format == "" {
		format = cfg.Format
	}

	db, err := database.Open(cfg.DBDir, database.Options{CreateIfNotExists: false, EnableWAL: true})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	w, err := report.NewWriter(format, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if list {
		return listProxies(ctx, db, w)
	}
	return showHistory(ctx, db, w, cmd.OutOrStdout(), proxy, limit)
}

// listProxies writes the performance of every proxy in db.
func listProxies(ctx context.Context, db *database.HistoryDB, w report.Writer) error {
	perf, err := db.ListProxies(ctx)
	if err != nil {
		return fmt.Errorf("failed to list proxies: %w", err)
	}
	_, err = w.WritePerformance(perf)
	return err
}

// showHistory writes the most recent checks of proxy.
func showHistory(ctx context.Context, db *database.HistoryDB, w report.Writer, out io.Writer, proxy string, limit int) error {
	records, err := db.GetHistory(ctx, proxy, limit)
	if err != nil {
		return fmt.Errorf("failed to get history: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintf(out, "No history found for %s\n", proxy)
		return nil
	}
	_, err = w.WriteHistory(proxy, records)
	return err
}
