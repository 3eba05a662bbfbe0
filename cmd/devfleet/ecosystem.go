package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var ecosystemCmd = &cobra.Command{
	Use:   "ecosystem",
	Short: "Generate a pm2 ecosystem config for the whole fleet",
	Long: `Writes an ecosystem.config.js covering every enabled service, so the
fleet can be driven by pm2 directly (pm2 start ecosystem.config.js).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fleet, err := newFleet(cmd)
		if err != nil {
			return err
		}
		defer fleet.Close()

		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = fleet.Registry().Settings().SupervisorConfig
		}
		if err := fleet.Controller().WriteEcosystemConfig(output); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", output)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ecosystemCmd)

	ecosystemCmd.Flags().StringP("output", "o", "", "Output path (default from settings)")
}
