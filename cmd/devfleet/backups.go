package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List registry snapshot backups",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fleet, err := newFleet(cmd)
		if err != nil {
			return err
		}
		defer fleet.Close()

		backups, err := fleet.Registry().Backups(cmd.Context())
		if err != nil {
			return err
		}
		if len(backups) == 0 {
			fmt.Println("No backups yet.")
			return nil
		}
		for _, b := range backups {
			fmt.Printf("%s  %s  %d bytes\n", b.Name, b.CreatedAt.Format("2006-01-02 15:04:05"), b.Size)
		}
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <backup>",
	Short: "Restore the registry from a snapshot backup",
	Long: `Replaces the current registry snapshot with the named backup. The current
snapshot is backed up first, so a restore can itself be undone.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fleet, err := newFleet(cmd)
		if err != nil {
			return err
		}
		defer fleet.Close()

		if err := fleet.Registry().RestoreBackup(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Restored registry from %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backupsCmd)
	rootCmd.AddCommand(restoreCmd)
}
