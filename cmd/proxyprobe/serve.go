package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/nao1215/proxyprobe/internal/config"
	"github.com/nao1215/proxyprobe/internal/database"
	pplog "github.com/nao1215/proxyprobe/internal/log"
	"github.com/nao1215/proxyprobe/internal/model"
	"github.com/nao1215/proxyprobe/internal/queue"
	"github.com/nao1215/proxyprobe/internal/server"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve proxy checks over HTTP",
		Long: `Serve starts the HTTP front-end. Every check request is admitted through a
queue that bounds how many checks run at once and how many start per window.

Endpoints:
  GET /checkessential?host=&port=&timeout=   anonymity, https and location
  GET /checkcontent?host=&port=&timeout=     content tampering
  GET /checkdnsleak?host=&port=&timeout=     DNS leak
  GET /everything?host=&port=&timeout=       all probes
  GET /check?host=&port=&probes=a,b          selected probes
  GET /performance?host=&port=               success rate from history
  GET /status                                queue statistics
  GET /healthz                               liveness

timeout is in milliseconds. scheme=socks5 checks a SOCKS5 proxy.

Examples:
  # Serve on the default address
  proxyprobe serve

  # Allow 50 concurrent checks and at most 200 starts per second
  proxyprobe serve --max-concurrent 50 --max-throughput 200 --window 1s

  # Also write rotated JSON logs
  proxyprobe serve --log-file /var/log/proxyprobe/server.log`,
		Args: cobra.NoArgs,
		RunE: runServeCmd,
	}

	cmd.Flags().StringP("listen", "l", config.DefaultListenAddr,
		"Address to listen on")
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Probe timeout used when a request gives none")

	// Queue flags
	cmd.Flags().Int("max-concurrent", config.DefaultMaxConcurrent,
		"Maximum number of checks running at once")
	cmd.Flags().Int("max-throughput", queue.DefaultMaxThroughput,
		"Maximum number of checks started per window")
	cmd.Flags().Duration("window", queue.DefaultWindow,
		"Length of the throughput window")

	// Rate limit flags
	cmd.Flags().Float64("rate-limit", config.DefaultRateLimit,
		"Requests per second allowed per client IP (0 disables)")
	cmd.Flags().Int("rate-burst", config.DefaultRateBurst,
		"Request burst allowed per client IP")

	cmd.Flags().String("log-file", "",
		"Also write rotated JSON logs to this file")
	cmd.Flags().Bool("log-json", false,
		"Write console logs as JSON")
	cmd.Flags().Bool("no-save", false,
		"Do not save results to the history database")
	cmd.Flags().String("db-dir", "",
		"History database directory (default: XDG data directory)")

	return cmd
}

// runServeCmd executes the serve command.
func runServeCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildServeConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger, logCloser := setupServerLogger(cmd.ErrOrStderr(), cfg)
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, closer, err := newServer(cfg, logger)
	if err != nil {
		return err
	}
	defer closer.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "proxyprobe listening on %s\n", cfg.ListenAddr)
	return srv.ListenAndServe(ctx, cfg.ListenAddr)
}

// buildServeConfig loads the configuration and applies the flags the user set.
func buildServeConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	overrides := []error{
		overrideString(cmd, "listen", &cfg.ListenAddr),
		overrideDuration(cmd, "timeout", &cfg.Timeout),
		overrideInt(cmd, "max-concurrent", &cfg.MaxConcurrent),
		overrideInt(cmd, "max-throughput", &cfg.MaxThroughput),
		overrideDuration(cmd, "window", &cfg.Window),
		overrideFloat(cmd, "rate-limit", &cfg.RateLimit),
		overrideInt(cmd, "rate-burst", &cfg.RateBurst),
		overrideString(cmd, "log-file", &cfg.LogFile),
		overrideString(cmd, "db-dir", &cfg.DBDir),
	}
	for _, err := range overrides {
		if err != nil {
			return nil, err
		}
	}

	noSave, err := cmd.Flags().GetBool("no-save")
	if err != nil {
		return nil, err
	}
	cfg.SaveToDB = !noSave

	if cfg.LogJSON, err = cmd.Flags().GetBool("log-json"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupServerLogger logs to w and, when a log file is configured, also to
// a rotated JSON file.
func setupServerLogger(w io.Writer, cfg *config.Config) (*slog.Logger, io.Closer) {
	console := setupLogger(w, cfg.Verbose)
	if cfg.LogJSON {
		console = pplog.NewSecureJSONLogger(w, cfg.Verbose)
	}
	if cfg.LogFile == "" {
		return console, nopCloser{}
	}
	file, closer := pplog.NewFileLogger(cfg.LogFile, cfg.Verbose)
	return pplog.Tee(console, file), closer
}

// newServer wires the engine, queue and history database into a server.
// The returned closer releases the database and the GeoIP reader.
func newServer(cfg *config.Config, logger *slog.Logger) (*server.Server, io.Closer, error) {
	e, geoCloser, err := buildEngine(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	closers := closerList{geoCloser}

	q := queue.New[*model.AggregateReport](
		queue.WithMaxConcurrent(cfg.MaxConcurrent),
		queue.WithMaxThroughput(cfg.MaxThroughput),
		queue.WithWindow(cfg.Window),
		queue.WithLogger(logger),
	)

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithQueue(q),
		server.WithDefaultTimeout(cfg.Timeout),
		server.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
	}

	if cfg.SaveToDB {
		db, err := database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			_ = closers.Close()
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		closers = append(closers, db)
		opts = append(opts, server.WithHistory(db))
		logger.Info("database opened", "path", db.Path())
	}

	logger.Info("queue configured",
		"max_concurrent", cfg.MaxConcurrent,
		"max_throughput", cfg.MaxThroughput,
		"window", cfg.Window,
	)
	return server.New(e, opts...), closers, nil
}

// closerList closes its members in reverse order and combines their errors.
type closerList []io.Closer

func (c closerList) Close() error {
	var err error
	for i := len(c) - 1; i >= 0; i-- {
		err = multierr.Append(err, c[i].Close())
	}
	return err
}
