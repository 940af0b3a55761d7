package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kiln/internal/api"
	"kiln/internal/requests"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var paramsFlag string
	var paramsFile string
	var wait bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "generate <workflow>",
		Short: "Submit a generation request",
		Long: "Submit a generation request for a workflow kind (image, image_refine, " +
			"video, audio). Parameters are given as inline JSON or read from a file.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := resolveParams(paramsFlag, paramsFile)
			if err != nil {
				return err
			}

			return ctx.withClient(func(client *api.Client) error {
				ack, err := client.Generate(cmd.Context(), args[0], params)
				if err != nil {
					return err
				}
				if !wait {
					if jsonOut {
						return writeJSON(cmd.OutOrStdout(), ack)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "request %s queued\n", ack.ID)
					return nil
				}
				return waitForRequest(cmd, client, ack.ID, jsonOut)
			})
		},
	}

	cmd.Flags().StringVarP(&paramsFlag, "params", "p", "", "Workflow parameters as inline JSON")
	cmd.Flags().StringVarP(&paramsFile, "params-file", "f", "", "Read workflow parameters from a JSON file")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Block until the request reaches a terminal state")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit machine-readable JSON")
	return cmd
}

func resolveParams(inline, file string) (json.RawMessage, error) {
	inline = strings.TrimSpace(inline)
	file = strings.TrimSpace(file)
	switch {
	case inline != "" && file != "":
		return nil, errors.New("use either --params or --params-file, not both")
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read params file: %w", err)
		}
		if !json.Valid(data) {
			return nil, fmt.Errorf("params file %s is not valid JSON", file)
		}
		return json.RawMessage(data), nil
	case inline != "":
		if !json.Valid([]byte(inline)) {
			return nil, errors.New("--params is not valid JSON")
		}
		return json.RawMessage(inline), nil
	default:
		return json.RawMessage("{}"), nil
	}
}

func waitForRequest(cmd *cobra.Command, client *api.Client, id string, jsonOut bool) error {
	out := cmd.OutOrStdout()
	if !jsonOut {
		fmt.Fprintf(out, "request %s queued, waiting...\n", id)
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-ticker.C:
		}

		view, err := client.Request(cmd.Context(), id)
		if err != nil {
			return err
		}
		if view == nil {
			return fmt.Errorf("request %s disappeared", id)
		}
		status, _ := requests.ParseStatus(view.Status)
		if !status.IsTerminal() {
			continue
		}
		if jsonOut {
			return writeJSON(out, view)
		}
		if status == requests.StatusFailed {
			return fmt.Errorf("request %s failed: %s", id, view.ErrorMessage)
		}
		fmt.Fprintf(out, "request %s completed\n", id)
		if len(view.Outputs) > 0 {
			return writeJSON(out, json.RawMessage(view.Outputs))
		}
		return nil
	}
}
