package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/loomwork/loomwork/internal/workflow"
)

func newRunCommand(flags *rootFlags) *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "run <workflow.yaml>",
		Short: "Drive one workflow instance to completion against injected capabilities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(flags.userConfig, flags.projectConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			doc, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read workflow definition: %w", err)
			}
			def, err := workflow.ParseDefinition(doc)
			if err != nil {
				return fmt.Errorf("parse workflow definition: %w", err)
			}

			if runID == "" {
				runID = uuid.New().String()
			}

			run, err := a.executor.Run(cmd.Context(), runID, *def, map[string]any{})
			if err != nil {
				return fmt.Errorf("run %s (id=%s): %w", def.Name, runID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s (%s) finished with status %s\n", runID, def.Name, run.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "resume an existing run instead of starting a new one")
	return cmd
}
