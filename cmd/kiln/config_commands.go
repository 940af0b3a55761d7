package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"kiln/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage kiln configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newConfigInitCommand())
	cmd.AddCommand(newConfigShowCommand(ctx))
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var pathFlag string

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write an annotated sample configuration file",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := strings.TrimSpace(pathFlag)
			if path == "" {
				path = config.DefaultPath()
			}
			if err := config.WriteSample(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote sample configuration to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&pathFlag, "path", "", "Destination path (defaults to the standard location)")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			for _, line := range renderSectionHeader("Configuration", colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out, renderStatusLine("Data dir", statusInfo, cfg.Paths.DataDir, colorize))
			fmt.Fprintln(out, renderStatusLine("Log dir", statusInfo, cfg.Paths.LogDir, colorize))
			fmt.Fprintln(out, renderStatusLine("API bind", statusInfo, cfg.Paths.APIBind, colorize))
			fmt.Fprintln(out, renderStatusLine("Cloud tier", statusInfo, cfg.Cloud.Tier, colorize))

			keyKind := statusOK
			keyMsg := "configured"
			if strings.TrimSpace(cfg.Cloud.APIKey) == "" {
				keyKind = statusWarn
				keyMsg = "missing"
			}
			fmt.Fprintln(out, renderStatusLine("Cloud API key", keyKind, keyMsg, colorize))

			fmt.Fprintln(out)
			for _, line := range renderSectionHeader("Workflows", colorize) {
				fmt.Fprintln(out, line)
			}
			kinds := make([]string, 0, len(cfg.Workflows))
			for kind := range cfg.Workflows {
				kinds = append(kinds, kind)
			}
			sort.Strings(kinds)

			rows := make([][]string, 0, len(kinds))
			for _, kind := range kinds {
				wf, _ := cfg.ResolveWorkflow(kind)
				rows = append(rows, []string{
					workflowDisplayName(kind),
					fmt.Sprintf("%d", wf.MaxPods),
					fmt.Sprintf("%d", wf.MaxRequestsPerPod),
					fmt.Sprintf("%ds", wf.PauseTimeoutSeconds),
					fmt.Sprintf("%ds", wf.TerminateTimeoutSeconds),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"WORKFLOW", "MAX PODS", "PER POD", "PAUSE", "TERMINATE"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
	return cmd
}
