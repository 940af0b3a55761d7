package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"kiln/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, queue, and pod status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), status)
				}
				printStatus(cmd, status)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit machine-readable JSON")
	return cmd
}

func printStatus(cmd *cobra.Command, status api.DaemonStatus) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	runningKind := statusError
	runningMsg := "stopped"
	if status.Running {
		runningKind = statusOK
		runningMsg = "pid " + strconv.Itoa(status.PID)
	}
	fmt.Fprintln(out, renderStatusLine("Running", runningKind, runningMsg, colorize))
	if status.DBPath != "" {
		fmt.Fprintln(out, renderStatusLine("Database", statusInfo, status.DBPath, colorize))
	}

	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Queue", colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Pending", queueKind(status.Queue.Pending), strconv.Itoa(status.Queue.Pending), colorize))
	fmt.Fprintln(out, renderStatusLine("Processing", statusInfo, strconv.Itoa(status.Queue.Processing), colorize))
	fmt.Fprintln(out, renderStatusLine("Completed", statusOK, strconv.Itoa(status.Queue.Completed), colorize))
	failedKind := statusOK
	if status.Queue.Failed > 0 {
		failedKind = statusWarn
	}
	fmt.Fprintln(out, renderStatusLine("Failed", failedKind, strconv.Itoa(status.Queue.Failed), colorize))

	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Pods", colorize) {
		fmt.Fprintln(out, line)
	}
	if len(status.Pods) == 0 && len(status.Creating) == 0 {
		fmt.Fprintln(out, statusIndent+"no active pods")
		return
	}
	fmt.Fprintln(out, renderPodTable(status.Pods))
	for _, kind := range status.Creating {
		fmt.Fprintln(out, renderStatusLine(workflowDisplayName(kind), statusInfo, "pod creation in flight", colorize))
	}
}

func queueKind(pending int) statusKind {
	if pending > 0 {
		return statusWarn
	}
	return statusOK
}

func renderPodTable(podViews []api.PodView) string {
	now := time.Now()
	rows := make([][]string, 0, len(podViews))
	for _, pod := range podViews {
		rows = append(rows, []string{
			truncateID(pod.ID),
			workflowDisplayName(pod.Workflow),
			pod.Status,
			fmt.Sprintf("%d/%d", pod.InFlight, pod.Capacity),
			formatAge(pod.CreatedAt, now),
			formatAge(pod.LastUsedAt, now),
		})
	}
	return renderTable(
		[]string{"POD", "WORKFLOW", "STATUS", "SLOTS", "AGE", "LAST USED"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
	)
}
