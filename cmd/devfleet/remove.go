package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var removeCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a project from the registry and free its ports",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fleet, err := newFleet(cmd)
		if err != nil {
			return err
		}
		defer fleet.Close()

		keepRunning, _ := cmd.Flags().GetBool("keep-running")
		res, err := fleet.Registry().Remove(cmd.Context(), args[0], !keepRunning)
		if err != nil {
			return err
		}

		fmt.Printf("Removed %s\n", args[0])
		if len(res.ReleasedPorts) > 0 {
			fmt.Printf("  released ports: %v\n", res.ReleasedPorts)
		}
		if res.StopFailure != "" {
			fmt.Printf("  warning: %s\n", res.StopFailure)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(removeCmd)

	removeCmd.Flags().Bool("keep-running", false, "Leave the processes running in the supervisor")
}
