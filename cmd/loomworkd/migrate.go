package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomwork/loomwork/internal/config"
	"github.com/loomwork/loomwork/internal/lockfile"
)

func newMigrateCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending store migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.userConfig, flags.projectConfig, "LOOMWORK")
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			lock := lockfile.New(cfg.DataDir)
			if err := lock.Acquire(); err != nil {
				return fmt.Errorf("acquire store lock: %w", err)
			}
			defer lock.Release()

			// store.Open applies every pending goose migration before
			// returning, so opening and closing is the whole job.
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied to %s\n", cfg.Store.Path)
			return nil
		},
	}
}
