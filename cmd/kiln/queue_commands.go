package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"kiln/internal/api"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	var statusFilters []string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List generation requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				items, err := client.Queue(cmd.Context(), statusFilters...)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), api.RequestListResponse{Items: items})
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "queue is empty")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderRequestTable(items))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statusFilters, "status", "s", nil, "Filter by status (pending, processing, completed, failed)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit machine-readable JSON")
	cmd.AddCommand(newQueueClearCommand(ctx))
	return cmd
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var completed bool
	var failed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove finished requests from the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var statuses []string
			if completed {
				statuses = append(statuses, "completed")
			}
			if failed {
				statuses = append(statuses, "failed")
			}
			return ctx.withClient(func(client *api.Client) error {
				removed, err := client.ClearQueue(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d finished request(s)\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&completed, "completed", false, "Only remove completed requests")
	cmd.Flags().BoolVar(&failed, "failed", false, "Only remove failed requests")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show one generation request in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				view, err := client.Request(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if view == nil {
					return fmt.Errorf("request %s not found", args[0])
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), view)
				}
				printRequest(cmd, *view)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit machine-readable JSON")
	return cmd
}

func renderRequestTable(items []api.RequestView) string {
	now := time.Now()
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		pod := "-"
		if item.PodID != "" {
			pod = truncateID(item.PodID)
		}
		rows = append(rows, []string{
			truncateID(item.ID),
			workflowDisplayName(item.Workflow),
			item.Status,
			pod,
			formatAge(item.CreatedAt, now),
		})
	}
	return renderTable(
		[]string{"REQUEST", "WORKFLOW", "STATUS", "POD", "AGE"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	)
}

func printRequest(cmd *cobra.Command, view api.RequestView) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	kind := statusInfo
	switch view.Status {
	case "completed":
		kind = statusOK
	case "failed":
		kind = statusError
	}

	for _, line := range renderSectionHeader("Request "+truncateID(view.ID), colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Workflow", statusInfo, workflowDisplayName(view.Workflow), colorize))
	fmt.Fprintln(out, renderStatusLine("Status", kind, view.Status, colorize))
	if view.PodID != "" {
		fmt.Fprintln(out, renderStatusLine("Pod", statusInfo, view.PodID, colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Created", statusInfo, view.CreatedAt.Format(time.RFC3339), colorize))
	if view.CompletedAt != nil {
		fmt.Fprintln(out, renderStatusLine("Finished", kind, view.CompletedAt.Format(time.RFC3339), colorize))
	}
	if view.ErrorMessage != "" {
		fmt.Fprintln(out, renderStatusLine("Error", statusError, view.ErrorMessage, colorize))
	}
	if len(view.Outputs) > 0 {
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader("Outputs", colorize) {
			fmt.Fprintln(out, line)
		}
		_ = writeJSON(out, view.Outputs)
	}
}
