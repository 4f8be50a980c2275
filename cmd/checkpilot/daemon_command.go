package main

import (
	"strings"

	"github.com/spf13/cobra"

	"checkpilot/internal/daemonrun"
)

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var logFormat string
	var development bool
	cmd := &cobra.Command{
		Use:          "daemon",
		Short:        "Run the checkpilot daemon (internal)",
		Hidden:       true,
		Annotations:  map[string]string{"skipConfigLoad": "true"},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if socket := strings.TrimSpace(*ctx.socketFlag); socket != "" {
				cfg.Paths.SocketPath = socket
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				LogFormat:   logFormat,
				Development: development,
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level")
	cmd.Flags().StringVar(&logFormat, "log-format", "", "Override logging.format (console or json)")
	cmd.Flags().BoolVar(&development, "dev", false, "Enable development logging")
	return cmd
}
