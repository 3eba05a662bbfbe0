package main

import (
	"github.com/spf13/cobra"

	"github.com/devfleet/devfleet/internal/presentation/tui"
	"github.com/devfleet/devfleet/pkg/domain"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered projects with their live status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fleet, err := newFleet(cmd)
		if err != nil {
			return err
		}
		defer fleet.Close()

		tags, _ := cmd.Flags().GetStringSlice("tags")
		projects := fleet.Projects(tags)

		statuses := make(map[string]*domain.ProjectStatus, len(projects))
		for _, p := range projects {
			if st, err := fleet.Status(cmd.Context(), p.Name); err == nil {
				statuses[p.Name] = st
			}
		}

		render(tui.ProjectListView(projects, statuses))
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search projects by name, display name, tags, or description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fleet, err := newFleet(cmd)
		if err != nil {
			return err
		}
		defer fleet.Close()

		projects := fleet.Registry().Search(args[0])
		render(tui.ProjectListView(projects, nil))
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show a project's configuration and live status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fleet, err := newFleet(cmd)
		if err != nil {
			return err
		}
		defer fleet.Close()

		p, err := fleet.Registry().Get(args[0])
		if err != nil {
			return err
		}
		status, err := fleet.Status(cmd.Context(), p.Name)
		if err != nil {
			status = nil
		}

		render(tui.ProjectDetailView(p, status))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(infoCmd)

	listCmd.Flags().StringSlice("tags", nil, "Only show projects with any of these tags")
}
