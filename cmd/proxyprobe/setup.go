package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/nao1215/proxyprobe/internal/config"
	"github.com/nao1215/proxyprobe/internal/engine"
	"github.com/nao1215/proxyprobe/internal/geo"
	pplog "github.com/nao1215/proxyprobe/internal/log"
	"github.com/nao1215/proxyprobe/internal/model"
	"github.com/nao1215/proxyprobe/internal/probe"
	"github.com/nao1215/proxyprobe/internal/report"
)

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// getConfigFlag retrieves the config file path from the command or its parent.
func getConfigFlag(cmd *cobra.Command) string {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		path, err = cmd.Root().PersistentFlags().GetString("config")
		if err != nil {
			return ""
		}
	}
	return path
}

// loadConfig builds the configuration from defaults, the config file and the
// environment. Command flags are applied afterwards by each command.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(getConfigFlag(cmd))
	if err != nil {
		return nil, err
	}
	cfg.Verbose = getVerboseFlag(cmd)
	return cfg, nil
}

// The override helpers copy a flag into dst only when the user set it, so
// that the config file and environment keep their values otherwise.

func overrideString(cmd *cobra.Command, name string, dst *string) error {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, err := cmd.Flags().GetString(name)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func overrideInt(cmd *cobra.Command, name string, dst *int) error {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, err := cmd.Flags().GetInt(name)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func overrideFloat(cmd *cobra.Command, name string, dst *float64) error {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, err := cmd.Flags().GetFloat64(name)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func overrideDuration(cmd *cobra.Command, name string, dst *time.Duration) error {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, err := cmd.Flags().GetDuration(name)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

// setupLogger creates the console logger. Secrets in proxy URLs and
// credential attributes are redacted before they reach the output.
func setupLogger(w io.Writer, verbose bool) *slog.Logger {
	return pplog.NewSecureLogger(w, verbose)
}

// buildEngine wires the prober and the public IP resolver into an engine.
// The returned closer releases the GeoIP database when one is configured.
func buildEngine(cfg *config.Config, logger *slog.Logger) (*engine.Engine, io.Closer, error) {
	proberOpts := []probe.Option{probe.WithLogger(logger)}

	var closer io.Closer = nopCloser{}
	if cfg.GeoIPDatabase != "" {
		locator, err := geo.Open(cfg.GeoIPDatabase)
		if err != nil {
			return nil, nil, err
		}
		proberOpts = append(proberOpts, probe.WithLocator(locator))
		closer = locator
		logger.Debug("using offline geolocation", "database", cfg.GeoIPDatabase)
	}

	prober := probe.NewProber(cfg.ProbeEnv(), proberOpts...)
	resolver := probe.NewCachingResolver(
		probe.NewPublicIPResolver(cfg.PublicIPURL, cfg.Timeout),
		cfg.PublicIPTTL,
	)

	e := engine.New(prober.Funcs(),
		engine.WithLogger(logger),
		engine.WithPublicIPResolver(resolver),
	)
	return e, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// writeReports renders reports in cfg.Format to cfg.ReportFile, or to out
// when no file is set.
func writeReports(cfg *config.Config, out io.Writer, reports []*model.AggregateReport) (err error) {
	if cfg.ReportFile != "" {
		dir := filepath.Dir(cfg.ReportFile)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}

		// Reports name the proxies checked and are readable by the owner only.
		f, openErr := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if openErr != nil {
			return fmt.Errorf("failed to create output file: %w", openErr)
		}
		defer func() {
			err = multierr.Append(err, f.Close())
		}()
		out = f
	}

	var w report.Writer
	if cfg.Verbose && (cfg.Format == "" || strings.EqualFold(cfg.Format, report.FormatSimple)) {
		w = report.NewSimpleWriter(out, report.WithVerbose(true))
	} else if w, err = report.NewWriter(cfg.Format, out); err != nil {
		return err
	}
	_, err = w.Write(reports...)
	return err
}

// formatFromFlags resolves --json/--markdown/--format into a report format.
// It returns "" when none of them was set.
func formatFromFlags(cmd *cobra.Command) (string, error) {
	jsonOut, err := cmd.Flags().GetBool("json")
	if err != nil {
		return "", err
	}
	markdownOut, err := cmd.Flags().GetBool("markdown")
	if err != nil {
		return "", err
	}
	if jsonOut && markdownOut {
		return "", errors.New("--json and --markdown are mutually exclusive")
	}
	switch {
	case jsonOut:
		return report.FormatJSON, nil
	case markdownOut:
		return report.FormatMarkdown, nil
	}
	if f := cmd.Flags().Lookup("format"); f != nil && f.Changed {
		return f.Value.String(), nil
	}
	return "", nil
}
