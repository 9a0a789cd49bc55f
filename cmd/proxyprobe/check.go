package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/proxyprobe/internal/config"
	"github.com/nao1215/proxyprobe/internal/database"
	"github.com/nao1215/proxyprobe/internal/engine"
	"github.com/nao1215/proxyprobe/internal/model"
	"github.com/nao1215/proxyprobe/internal/tor"
)

// NewCheckCmd creates the check command.
func NewCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [host:port ...]",
		Short: "Check one or more proxies",
		Long: `Check runs the selected probes against each proxy and prints one report per proxy.

Available probes:
- anonymity: which headers the proxy adds and whether it exposes your IP
- https:     whether the proxy tunnels CONNECT requests
- content:   whether the proxy tampers with a known page (needs test_page_url)
- dnsleak:   which DNS servers resolve names for the proxy
- location:  where the proxy exits
- sites:     whether the configured sites are reachable through the proxy

When no address is given, the proxies listed in the config file are checked.
Results are saved to the history database unless --no-save is set.

Examples:
  # Run the essential probes
  proxyprobe check 192.0.2.10:8080

  # Run every probe against a SOCKS5 proxy
  proxyprobe check -p all socks5://192.0.2.20:1080

  # Check an authenticated proxy and write a Markdown report
  proxyprobe check -u user --password secret -m -o report.md 192.0.2.10:8080

  # Check the proxies from the config file, 20 at a time
  proxyprobe check -b 20

  # Check the SOCKS5 port of an embedded Tor daemon
  proxyprobe check --embedded-tor -p anonymity,location`,
		Args: cobra.ArbitraryArgs,
		RunE: runCheckCmd,
	}

	// Probe flags
	cmd.Flags().StringP("probes", "p", "",
		"Comma-separated probes to run, or \"all\" (default: anonymity,https,location)")
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Timeout for each probe")
	cmd.Flags().IntP("batch", "b", config.DefaultBatchSize,
		"Number of proxies checked at once")

	// Proxy flags
	cmd.Flags().StringP("user", "u", "",
		"Proxy username for targets given on the command line")
	cmd.Flags().String("password", "",
		"Proxy password for targets given on the command line")
	cmd.Flags().StringP("scheme", "s", string(model.SchemeHTTP),
		"Proxy scheme when the address has none: http or socks5")

	// Tor flags
	cmd.Flags().Bool("embedded-tor", false,
		"Start an embedded Tor daemon and check its SOCKS5 port")
	cmd.Flags().DurationP("tor-timeout", "T", config.DefaultTorStartupTimeout,
		"Timeout for embedded Tor startup")

	// Report flags
	cmd.Flags().StringP("format", "f", config.FormatSimple,
		"Report format: simple, json or markdown")
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")

	// History flags
	cmd.Flags().Bool("no-save", false,
		"Do not save results to the history database")
	cmd.Flags().String("db-dir", "",
		"History database directory (default: XDG data directory)")

	return cmd
}

// runCheckCmd executes the check command.
func runCheckCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildCheckConfig(cmd, args)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cmd.ErrOrStderr(), cfg.Verbose)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runCheck(ctx, cfg, logger, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// buildCheckConfig loads the configuration and applies the flags the user set.
func buildCheckConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	if err := overrideString(cmd, "probes", &cfg.Probes); err != nil {
		return nil, err
	}
	if err := overrideDuration(cmd, "timeout", &cfg.Timeout); err != nil {
		return nil, err
	}
	if err := overrideInt(cmd, "batch", &cfg.BatchSize); err != nil {
		return nil, err
	}
	if err := overrideString(cmd, "user", &cfg.Username); err != nil {
		return nil, err
	}
	if err := overrideString(cmd, "password", &cfg.Password); err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("scheme") {
		raw, err := cmd.Flags().GetString("scheme")
		if err != nil {
			return nil, err
		}
		cfg.Scheme = model.Scheme(raw)
	}
	if err := overrideDuration(cmd, "tor-timeout", &cfg.TorStartupTimeout); err != nil {
		return nil, err
	}
	if cfg.EmbeddedTor, err = cmd.Flags().GetBool("embedded-tor"); err != nil {
		return nil, err
	}

	format, err := formatFromFlags(cmd)
	if err != nil {
		return nil, err
	}
	if format != "" {
		cfg.Format = format
	}
	if cfg.ReportFile, err = cmd.Flags().GetString("output"); err != nil {
		return nil, err
	}

	noSave, err := cmd.Flags().GetBool("no-save")
	if err != nil {
		return nil, err
	}
	cfg.SaveToDB = !noSave
	if err := overrideString(cmd, "db-dir", &cfg.DBDir); err != nil {
		return nil, err
	}

	cfg.Targets = args
	return cfg, nil
}

// runCheck checks every target and writes the reports once all are done.
// Progress goes to progress as each report completes.
func runCheck(ctx context.Context, cfg *config.Config, logger *slog.Logger, out, progress io.Writer) error {
	kinds, err := cfg.Kinds()
	if err != nil {
		return err
	}

	targets, err := cfg.ProbeTargets()
	if err != nil && !(errors.Is(err, config.ErrNoTarget) && cfg.EmbeddedTor) {
		return err
	}

	if cfg.EmbeddedTor {
		embeddedTor, err := startEmbeddedTor(ctx, cfg, logger, progress)
		if err != nil {
			return err
		}
		defer func() {
			logger.Info("stopping embedded Tor daemon...")
			if err := embeddedTor.Stop(); err != nil {
				logger.Error("failed to stop embedded Tor", "error", err)
			}
		}()

		torTarget, err := embeddedTor.Target(cfg.Timeout)
		if err != nil {
			return err
		}
		targets = append(targets, torTarget)
	}

	var db *database.HistoryDB
	if cfg.SaveToDB {
		db, err = database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		logger.Debug("database opened", "dir", cfg.DBDir)
	}

	e, closer, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer closer.Close()

	logger.Info("starting check",
		"proxies", len(targets),
		"probes", kinds,
		"batch_size", cfg.BatchSize,
		"save_to_db", cfg.SaveToDB,
	)

	checker := engine.NewBatchChecker(e,
		engine.WithBatchLogger(logger),
		engine.WithConcurrency(cfg.BatchSize),
	)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := checker.Queue().Shutdown(shutdownCtx); err != nil {
			logger.Warn("queue shutdown incomplete", "error", err)
		}
	}()

	fmt.Fprintf(progress, "Checking %d proxies (concurrency: %d)...\n", len(targets), cfg.BatchSize)
	start := time.Now()

	reports := make([]*model.AggregateReport, len(targets))
	var mu sync.Mutex
	checkErr := checker.CheckAllWithCallback(ctx, targets, kinds, func(rep *model.AggregateReport, index int) {
		mu.Lock()
		defer mu.Unlock()

		reports[index] = rep
		fmt.Fprintf(progress, "[%d/%d] %s: %s\n", index+1, len(targets), rep.Proxy, progressStatus(rep))

		if err := saveReport(ctx, db, rep, logger); err != nil {
			logger.Error("failed to save report", "proxy", rep.Proxy, "error", err)
		}
	})
	fmt.Fprintf(progress, "Check completed in %s\n\n", time.Since(start).Round(time.Millisecond))

	if err := writeReports(cfg, out, reports); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if checkErr != nil {
		logger.Warn("some proxies could not be checked", "error", checkErr)
	}
	return nil
}

// progressStatus is the one-word outcome shown while a batch runs.
func progressStatus(rep *model.AggregateReport) string {
	switch {
	case len(rep.Errors) == 0:
		return "ok"
	case rep.Succeeded():
		return fmt.Sprintf("partial (%d failed)", len(rep.Errors))
	default:
		return "failed"
	}
}

// saveReport saves the report to the history database.
// If db is nil, this function is a no-op.
func saveReport(ctx context.Context, db *database.HistoryDB, rep *model.AggregateReport, logger *slog.Logger) error {
	if db == nil {
		return nil
	}
	if err := db.SaveReport(context.WithoutCancel(ctx), rep); err != nil {
		return err
	}
	logger.Debug("report saved to database", "proxy", rep.Proxy)
	return nil
}

// startEmbeddedTor starts an embedded Tor daemon using tornago.
func startEmbeddedTor(ctx context.Context, cfg *config.Config, logger *slog.Logger, progress io.Writer) (*tor.EmbeddedTor, error) {
	fmt.Fprintln(progress, "Starting embedded Tor daemon...")
	fmt.Fprintf(progress, "This may take 1-3 minutes while Tor bootstraps and connects to the network.\n\n")

	embeddedTor := tor.NewEmbeddedTor(
		tor.WithStartupTimeout(cfg.TorStartupTimeout),
	)
	if err := embeddedTor.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start embedded Tor: %w", err)
	}

	logger.Info("embedded Tor daemon started",
		"socks_addr", embeddedTor.SocksAddr(),
		"control_addr", embeddedTor.ControlAddr(),
	)
	fmt.Fprintf(progress, "SOCKS proxy: %s\n\n", embeddedTor.SocksAddr())
	return embeddedTor, nil
}
