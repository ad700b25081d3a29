package main

import (
	"github.com/spf13/cobra"
)

// rootFlags are the two config-layer paths every subcommand shares.
// Grounded on roach88-nysm/brutalist's NewRootCommand/RootOptions idiom:
// persistent flags parsed once, threaded into each subcommand's RunE.
type rootFlags struct {
	userConfig    string
	projectConfig string
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "loomworkd",
		Short:         "Durable workflow executor for LLM-backed coding sessions",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&flags.userConfig, "user-config", "", "path to the user-level config YAML")
	root.PersistentFlags().StringVar(&flags.projectConfig, "project-config", "", "path to the project-level config YAML")

	root.AddCommand(newRunCommand(flags))
	root.AddCommand(newMigrateCommand(flags))
	root.AddCommand(newStatusCommand(flags))

	return root
}
