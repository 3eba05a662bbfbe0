package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devfleet/devfleet"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of devfleet",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("devfleet version %s\n", strings.TrimSpace(devfleet.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
