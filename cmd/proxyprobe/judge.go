package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/proxyprobe/internal/config"
	"github.com/nao1215/proxyprobe/internal/judge"
)

// NewJudgeCmd creates the judge command.
func NewJudgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "judge",
		Short: "Run a proxy judge",
		Long: `Judge serves the endpoints the anonymity and content probes fetch through a proxy.

Endpoints:
  GET /azenv       echoes the request headers as JSON
  GET /clientip    returns the caller's IP as JSON
  GET /index.html  serves the fixed page used by the content probe

Point judge_url and test_page_url in the config file at this server to stop
depending on public judges.

Examples:
  proxyprobe judge
  proxyprobe judge --listen :9000`,
		Args: cobra.NoArgs,
		RunE: runJudgeCmd,
	}

	cmd.Flags().StringP("listen", "l", config.DefaultJudgeListenAddr,
		"Address to listen on")

	return cmd
}

// runJudgeCmd executes the judge command.
func runJudgeCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := overrideString(cmd, "listen", &cfg.JudgeListenAddr); err != nil {
		return err
	}

	logger := setupLogger(cmd.ErrOrStderr(), cfg.Verbose)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.JudgeListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.JudgeListenAddr, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "proxy judge listening on %s\n", ln.Addr())

	handler := judge.NewHandler(
		judge.WithTestPage(cfg.ExpectedContent),
		judge.WithLogger(logger),
	)
	return serveJudge(ctx, ln, handler, logger)
}

// serveJudge serves h on ln until ctx is cancelled.
func serveJudge(ctx context.Context, ln net.Listener, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down proxy judge")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
