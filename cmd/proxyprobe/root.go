package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for proxyprobe.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxyprobe",
		Short: "Check proxies for anonymity, HTTPS support, tampering and DNS leaks",
		Long: `proxyprobe checks HTTP and SOCKS5 proxies.

Each check runs independent probes concurrently against the proxy and merges
them into one report. A probe that fails is recorded in the report and never
hides the results of the others.

Use "proxyprobe serve" to expose the checks over HTTP and "proxyprobe judge"
to run your own header-echo endpoint.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().StringP("config", "c", "",
		"Configuration file path (default: .proxyprobe.yaml in current directory or XDG config directory)")

	cmd.AddCommand(NewCheckCmd())
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewJudgeCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
