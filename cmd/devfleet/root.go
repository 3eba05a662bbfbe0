package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devfleet/devfleet"
	"github.com/devfleet/devfleet/internal/config"
	"github.com/devfleet/devfleet/internal/logging"
	"github.com/devfleet/devfleet/internal/presentation/tui"
	"github.com/devfleet/devfleet/pkg/domain"
)

var rootCmd = &cobra.Command{
	Use:   "devfleet",
	Short: "devfleet orchestrates your local development projects",
	Long: `devfleet keeps a durable registry of local projects, allocates
conflict-free ports for their frontend and backend services, and drives
pm2 to start, stop, and inspect them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		for _, hint := range domain.HintsOf(err) {
			fmt.Fprintf(os.Stderr, "  hint: %s\n", hint)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.devfleet/config.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory holding projects.json (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
}

// loadConfig reads the config file and applies persistent flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func slogLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newFleet assembles the fleet used by every command.
func newFleet(cmd *cobra.Command) (*devfleet.Fleet, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return devfleet.New(cfg, devfleet.WithLogger(logging.New(slogLevel(cfg.LogLevel))))
}

// render prints markdown through the terminal renderer.
func render(markdown string) {
	fmt.Print(tui.Render(markdown))
}

// parseEnvFlags turns repeated KEY=VALUE flags into a map.
func parseEnvFlags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid env entry %q, expected KEY=VALUE", pair)
		}
		env[key] = value
	}
	return env, nil
}
