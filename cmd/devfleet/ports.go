package main

import (
	"github.com/spf13/cobra"

	"github.com/devfleet/devfleet/internal/presentation/tui"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "Show port range usage and conflicts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fleet, err := newFleet(cmd)
		if err != nil {
			return err
		}
		defer fleet.Close()

		report := fleet.Registry().Ports().Status(cmd.Context())
		render(tui.PortReportView(report))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
