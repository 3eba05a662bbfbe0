package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/devfleet/devfleet"
)

var registerCmd = &cobra.Command{
	Use:   "register <name>",
	Short: "Register a project and allocate its ports",
	Long: `Registers a project in the fleet. Each provided service command gets a
port allocated from its role's range; pass explicit ports to pin them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fleet, err := newFleet(cmd)
		if err != nil {
			return err
		}
		defer fleet.Close()

		path, _ := cmd.Flags().GetString("path")
		absPath, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}

		envPairs, _ := cmd.Flags().GetStringArray("env")
		env, err := parseEnvFlags(envPairs)
		if err != nil {
			return err
		}

		in := devfleet.RegisterInput{
			Name: args[0],
			Path: absPath,
		}
		in.DisplayName, _ = cmd.Flags().GetString("display-name")
		in.Description, _ = cmd.Flags().GetString("description")
		in.FrontendCommand, _ = cmd.Flags().GetString("frontend-cmd")
		in.BackendCommand, _ = cmd.Flags().GetString("backend-cmd")
		in.FrontendPort, _ = cmd.Flags().GetInt("frontend-port")
		in.BackendPort, _ = cmd.Flags().GetInt("backend-port")
		in.Tags, _ = cmd.Flags().GetStringSlice("tags")
		in.EnvVars = env

		p, err := fleet.Register(cmd.Context(), in)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "Registered %s\n", p.Name)
		if p.Frontend != nil {
			fmt.Fprintf(os.Stdout, "  frontend: port %d\n", p.Frontend.Port)
		}
		if p.Backend != nil {
			fmt.Fprintf(os.Stdout, "  backend:  port %d\n", p.Backend.Port)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(registerCmd)

	registerCmd.Flags().String("path", ".", "Project directory")
	registerCmd.Flags().String("display-name", "", "Human-readable name")
	registerCmd.Flags().String("description", "", "Short description")
	registerCmd.Flags().String("frontend-cmd", "", "Frontend dev server command")
	registerCmd.Flags().String("backend-cmd", "", "Backend server command")
	registerCmd.Flags().Int("frontend-port", 0, "Pin the frontend port instead of auto-allocating")
	registerCmd.Flags().Int("backend-port", 0, "Pin the backend port instead of auto-allocating")
	registerCmd.Flags().StringArray("env", nil, "Extra environment variable (KEY=VALUE, repeatable)")
	registerCmd.Flags().StringSlice("tags", nil, "Tags for filtering")
}
