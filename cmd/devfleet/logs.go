package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs <name>",
	Short: "Show recent log output for a project's services",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fleet, err := newFleet(cmd)
		if err != nil {
			return err
		}
		defer fleet.Close()

		service, _ := cmd.Flags().GetString("service")
		lines, _ := cmd.Flags().GetInt("lines")
		follow, _ := cmd.Flags().GetBool("follow")

		if follow {
			if service == "" {
				return fmt.Errorf("--follow requires --service")
			}
			stream, err := fleet.Controller().FollowLogs(cmd.Context(), args[0], service, time.Second)
			if err != nil {
				return err
			}
			for line := range stream {
				fmt.Println(line)
			}
			return nil
		}

		var services []string
		if service != "" {
			services = []string{service}
		}
		logs, err := fleet.Controller().Logs(cmd.Context(), args[0], services, lines)
		if err != nil {
			return err
		}
		for role, entries := range logs {
			fmt.Printf("=== %s ===\n", role)
			for _, line := range entries {
				fmt.Println(line)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().String("service", "", "frontend or backend (both when omitted)")
	logsCmd.Flags().IntP("lines", "n", 50, "Number of lines per service")
	logsCmd.Flags().BoolP("follow", "f", false, "Stream new lines (requires --service)")
}
