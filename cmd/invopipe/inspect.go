package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/invopipe/invopipe"
)

func newInspectCmd(app *appContext) *cobra.Command {
	var historyOnly bool

	cmd := &cobra.Command{
		Use:   "inspect <workflow-id>",
		Short: "Print the last checkpointed state of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			checkpoints, err := openStore(ctx, app.cfg)
			if err != nil {
				return err
			}
			defer checkpoints.Close()

			state, found, err := invopipe.LoadState(ctx, checkpoints, args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("workflow %s: %w", args[0], invopipe.ErrWorkflowNotFound)
			}

			var out any = state
			if historyOnly {
				out = state.History
			}

			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}

	cmd.Flags().BoolVar(&historyOnly, "history", false, "print only the stage history")
	return cmd
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the checkpoint record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := json.MarshalIndent(invopipe.CheckpointSchema(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
}
