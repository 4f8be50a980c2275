// Command checkpilotd runs the checkpilot daemon in the foreground. It is the
// entrypoint for service managers; `checkpilot start` launches the same
// runtime detached.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"checkpilot/internal/config"
	"checkpilot/internal/daemonrun"
)

func main() {
	if err := newRootCommand(daemonrun.Run).Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

type runFunc func(context.Context, *config.Config, daemonrun.Options) error

func newRootCommand(run runFunc) *cobra.Command {
	var configPath string
	var socketPath string
	var opts daemonrun.Options

	cmd := &cobra.Command{
		Use:           "checkpilotd",
		Short:         "Run the checkpilot daemon in the foreground",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, _, err := config.Load(strings.TrimSpace(configPath))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if socket := strings.TrimSpace(socketPath); socket != "" {
				cfg.Paths.SocketPath = socket
			}
			return run(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&socketPath, "socket", "", "Override paths.socket_path")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Override logging.level")
	cmd.Flags().StringVar(&opts.LogFormat, "log-format", "", "Override logging.format (console or json)")
	cmd.Flags().BoolVar(&opts.Development, "dev", false, "Enable development logging")
	return cmd
}
