package main

import (
	"github.com/spf13/cobra"

	"github.com/devfleet/devfleet/internal/presentation/tui"
	"github.com/devfleet/devfleet/pkg/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status [name]",
	Short: "Show live status for one project or the whole fleet",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fleet, err := newFleet(cmd)
		if err != nil {
			return err
		}
		defer fleet.Close()

		if len(args) == 1 {
			st, err := fleet.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			render(tui.StatusView([]*domain.ProjectStatus{st}))
			return nil
		}

		tags, _ := cmd.Flags().GetStringSlice("tags")
		statuses, err := fleet.Controller().StatusAll(cmd.Context(), tags)
		if err != nil {
			return err
		}
		render(tui.StatusView(statuses))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringSlice("tags", nil, "Only include projects with any of these tags")
}
