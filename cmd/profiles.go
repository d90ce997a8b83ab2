package cmd

import (
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/kilianp07/evtelemetry/core/profile"
)

func newProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List mission profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			table := uitable.New()
			table.AddRow("NAME", "LABEL", "THROTTLE", "CYCLE")
			for _, p := range profile.All() {
				cycle := "-"
				if p.Cycle > 0 {
					cycle = p.Cycle.String()
				}
				table.AddRow(p.Name, p.Label, fmt.Sprintf("%.0f-%.0f %%", p.ThrottleMin, p.ThrottleMax), cycle)
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}
