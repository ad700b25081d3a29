package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomwork/loomwork/internal/router"
)

func newStatusCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print quota and router state snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(flags.userConfig, flags.projectConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			ctx := cmd.Context()

			fmt.Fprintln(out, "provider quota:")
			for _, provider := range distinctProviders(defaultModelCatalog()) {
				qs, err := a.governor.GetQuotaStatus(ctx, provider)
				if err != nil {
					fmt.Fprintf(out, "  %-12s error: %v\n", provider, err)
					continue
				}
				fmt.Fprintf(out, "  %-12s health=%-9s used=%.1f%% (%d/%d requests)\n",
					provider, qs.Health, qs.PercentUsed*100, qs.UsedRequests, safeDeref(qs.MaxRequests))
			}

			state, err := a.router.ExportState(ctx)
			if err != nil {
				return fmt.Errorf("export router state: %w", err)
			}
			fmt.Fprintln(out, "router model profiles:")
			for _, p := range state.Profiles {
				fmt.Fprintf(out, "  %-16s success_rate=%.2f calls=%d avg_latency_ms=%.0f\n",
					p.Model, p.SuccessRate, p.ObservedCalls, p.AvgLatencyMs)
			}

			return nil
		},
	}
}

func distinctProviders(catalog []router.ModelCandidate) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range catalog {
		if !seen[c.Provider] {
			seen[c.Provider] = true
			out = append(out, c.Provider)
		}
	}
	return out
}

func safeDeref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
