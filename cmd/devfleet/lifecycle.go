package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devfleet/devfleet"
	"github.com/devfleet/devfleet/internal/presentation/tui"
	"github.com/devfleet/devfleet/pkg/domain"
)

// lifecycleCommand builds a start/stop/restart command; they differ only in
// the verb and the controller call.
func lifecycleCommand(verb, short string,
	one func(*devfleet.Fleet, context.Context, string, []string) (*domain.OperationResult, error),
	all func(*devfleet.Fleet, context.Context, []string) []*domain.OperationResult,
) *cobra.Command {
	cmd := &cobra.Command{
		Use:   verb + " [name]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fleet, err := newFleet(cmd)
			if err != nil {
				return err
			}
			defer fleet.Close()

			runAll, _ := cmd.Flags().GetBool("all")
			if runAll {
				tags, _ := cmd.Flags().GetStringSlice("tags")
				results := all(fleet, cmd.Context(), tags)
				render(tui.ResultsView(capitalize(verb)+" All", results))
				return nil
			}

			if len(args) == 0 {
				return fmt.Errorf("project name required (or use --all)")
			}
			services, _ := cmd.Flags().GetStringSlice("service")
			res, err := one(fleet, cmd.Context(), args[0], services)
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		},
	}

	cmd.Flags().StringSlice("service", nil, "Limit to specific services: frontend, backend")
	cmd.Flags().Bool("all", false, "Apply to every registered project")
	cmd.Flags().StringSlice("tags", nil, "With --all, only projects with any of these tags")
	return cmd
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

func printResult(res *domain.OperationResult) {
	mark := "✅"
	if !res.Success {
		mark = "❌"
	}
	fmt.Printf("%s %s: %s\n", mark, res.Project, res.Message)
	for _, st := range []*domain.ServiceStatus{res.Frontend, res.Backend} {
		if st == nil {
			continue
		}
		line := fmt.Sprintf("   %s: %s", st.Name, st.State)
		if st.URL != "" {
			line += "  " + st.URL
		}
		fmt.Println(line)
	}
}

func init() {
	rootCmd.AddCommand(lifecycleCommand("start", "Start a project's services",
		func(f *devfleet.Fleet, ctx context.Context, name string, services []string) (*domain.OperationResult, error) {
			return f.Start(ctx, name, services)
		},
		func(f *devfleet.Fleet, ctx context.Context, tags []string) []*domain.OperationResult {
			return f.Controller().StartAll(ctx, tags)
		},
	))
	rootCmd.AddCommand(lifecycleCommand("stop", "Stop a project's services",
		func(f *devfleet.Fleet, ctx context.Context, name string, services []string) (*domain.OperationResult, error) {
			return f.Stop(ctx, name, services)
		},
		func(f *devfleet.Fleet, ctx context.Context, tags []string) []*domain.OperationResult {
			return f.Controller().StopAll(ctx, tags)
		},
	))

	restartCmd := &cobra.Command{
		Use:   "restart <name>",
		Short: "Restart a project's services",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fleet, err := newFleet(cmd)
			if err != nil {
				return err
			}
			defer fleet.Close()

			services, _ := cmd.Flags().GetStringSlice("service")
			res, err := fleet.Controller().RestartProject(cmd.Context(), args[0], services)
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		},
	}
	restartCmd.Flags().StringSlice("service", nil, "Limit to specific services: frontend, backend")
	rootCmd.AddCommand(restartCmd)
}
