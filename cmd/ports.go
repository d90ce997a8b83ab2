package cmd

import (
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/kilianp07/evtelemetry/infra/serial"
)

var listPorts = serial.ListPorts

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List available serial ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ports, err := listPorts()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no serial ports found")
				return nil
			}
			table := uitable.New()
			table.MaxColWidth = 60
			table.AddRow("PORT", "DEVICE", "SERIAL")
			for _, p := range ports {
				sn := p.Serial
				if sn == "" {
					sn = "-"
				}
				table.AddRow(p.Name, p.Description(), sn)
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}
