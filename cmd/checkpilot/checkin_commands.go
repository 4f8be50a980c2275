package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"checkpilot/internal/ipc"
)

func newCheckinCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newScheduleCommand(ctx),
		newListCommand(ctx),
		newShowCommand(ctx),
		newLogsCommand(ctx),
		newCancelCommand(ctx),
		newReconcileCommand(ctx),
	}
}

func newScheduleCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "schedule CONFIRMATION FIRST LAST",
		Short: "Schedule a check-in for a reservation",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Schedule(args[0], args[1], args[2])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.CheckIn)
				}
				item := resp.CheckIn
				fmt.Fprintf(cmd.OutOrStdout(), "Scheduled %s for %s %s (%s via %s)\n",
					item.ConfirmationNumber, item.FirstName, item.LastName, item.Status, item.Source)
				fmt.Fprintf(cmd.OutOrStdout(), "ID: %s\n", item.ID)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var active bool
	var source string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List check-ins, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.List(ipc.ListRequest{
					Statuses: splitStatuses(statuses),
					Active:   active,
					Source:   strings.TrimSpace(source),
				})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.CheckIns)
				}
				if len(resp.CheckIns) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No check-ins")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(checkinColumns, buildCheckinRows(resp.CheckIns)))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable or comma separated)")
	cmd.Flags().BoolVar(&active, "active", false, "Only check-ins with a live worker or deferred job")
	cmd.Flags().StringVar(&source, "source", "", "Filter by source (local or remote)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show one check-in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Get(args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.CheckIn)
				}
				for _, line := range checkinDetailLines(resp.CheckIn) {
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "logs ID",
		Short: "Print the progress log of a check-in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Logs(args[0])
				if err != nil {
					return err
				}
				if resp == nil {
					return errors.New("log response missing")
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Entries) == 0 {
					fmt.Fprintf(out, "No log entries for %s (%s)\n", resp.ID, resp.Status)
					return nil
				}
				for _, line := range logLines(resp.Entries) {
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a pending check-in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Cancel(args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if resp.Cancelled {
					fmt.Fprintf(out, "Cancelled %s\n", resp.CheckIn.ID)
					return nil
				}
				fmt.Fprintf(out, "Nothing to cancel for %s (status %s)\n", resp.CheckIn.ID, resp.CheckIn.Status)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newReconcileCommand(ctx *commandContext) *cobra.Command {
	var status string
	var position string
	var reason string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "reconcile ID",
		Short: "Record the outcome of a check-in handed off to the NAS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(status) == "" {
				return errors.New("--status is required")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Reconcile(ipc.ReconcileRequest{
					ID:               args[0],
					Status:           strings.TrimSpace(status),
					BoardingPosition: strings.TrimSpace(position),
					Error:            strings.TrimSpace(reason),
				})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.CheckIn)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", resp.CheckIn.ID, resp.CheckIn.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "New status (checking-in, completed, failed)")
	cmd.Flags().StringVar(&position, "position", "", "Boarding position, for completed check-ins")
	cmd.Flags().StringVar(&reason, "error", "", "Failure reason, for failed check-ins")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

// splitStatuses accepts both repeated flags and comma separated values.
func splitStatuses(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
