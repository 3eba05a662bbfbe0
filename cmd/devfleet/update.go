package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update <name>",
	Short: "Update a project's metadata or commands",
	Long: `Updates the given fields of a registered project. Ports cannot be edited
directly; pass --reallocate-ports to release and re-allocate them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fleet, err := newFleet(cmd)
		if err != nil {
			return err
		}
		defer fleet.Close()

		updates := map[string]any{}
		setIfChanged := func(flag, key string) {
			if cmd.Flags().Changed(flag) {
				v, _ := cmd.Flags().GetString(flag)
				updates[key] = v
			}
		}
		setIfChanged("display-name", "display_name")
		setIfChanged("description", "description")
		setIfChanged("path", "path")
		if cmd.Flags().Changed("tags") {
			tags, _ := cmd.Flags().GetStringSlice("tags")
			updates["tags"] = tags
		}
		if cmd.Flags().Changed("frontend-cmd") {
			v, _ := cmd.Flags().GetString("frontend-cmd")
			updates["frontend"] = map[string]any{"command": v}
		}
		if cmd.Flags().Changed("backend-cmd") {
			v, _ := cmd.Flags().GetString("backend-cmd")
			updates["backend"] = map[string]any{"command": v}
		}
		if cmd.Flags().Changed("env") {
			pairs, _ := cmd.Flags().GetStringArray("env")
			env, err := parseEnvFlags(pairs)
			if err != nil {
				return err
			}
			updates["env_vars"] = env
		}
		if reallocate, _ := cmd.Flags().GetBool("reallocate-ports"); reallocate {
			updates["reallocate_ports"] = true
		}

		if len(updates) == 0 {
			return fmt.Errorf("nothing to update, pass at least one field flag")
		}

		p, err := fleet.Registry().UpdateProject(cmd.Context(), args[0], updates)
		if err != nil {
			return err
		}

		fmt.Printf("Updated %s\n", p.Name)
		if p.Frontend != nil {
			fmt.Printf("  frontend: port %d\n", p.Frontend.Port)
		}
		if p.Backend != nil {
			fmt.Printf("  backend:  port %d\n", p.Backend.Port)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)

	updateCmd.Flags().String("display-name", "", "Human-readable name")
	updateCmd.Flags().String("description", "", "Short description")
	updateCmd.Flags().String("path", "", "Project directory")
	updateCmd.Flags().String("frontend-cmd", "", "Frontend dev server command")
	updateCmd.Flags().String("backend-cmd", "", "Backend server command")
	updateCmd.Flags().StringArray("env", nil, "Extra environment variable (KEY=VALUE, repeatable)")
	updateCmd.Flags().StringSlice("tags", nil, "Replace the tag list")
	updateCmd.Flags().Bool("reallocate-ports", false, "Release and re-allocate the project's ports")
}
