package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/devfleet/devfleet"
	mcpAdapter "github.com/devfleet/devfleet/internal/adapters/mcp"
	"github.com/devfleet/devfleet/internal/logging"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Starts devfleet as an MCP server so coding agents can register, start,
stop, and inspect projects as tools.

Supported Transports:
- stdio (default): Standard Input/Output. Ideal for local process integration.
- sse: Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		// Logs must stay off stdout: stdio transport speaks JSON-RPC there.
		logger := logging.New(slogLevel(cfg.LogLevel))

		fleet, err := devfleet.New(cfg, devfleet.WithLogger(logger))
		if err != nil {
			return err
		}
		defer fleet.Close()

		srv := mcpAdapter.NewServer(fleet.Registry(), fleet.Controller(), devfleet.Version,
			mcpAdapter.WithLogger(logger))

		transport, _ := cmd.Flags().GetString("transport")
		switch transport {
		case "stdio":
			logger.Info("starting mcp server (stdio)")
			return srv.ServeStdio()
		case "sse":
			port, _ := cmd.Flags().GetInt("port")
			if port == 0 {
				port = cfg.MCPPort
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := srv.ServeSSE(ctx, port); err != nil && err != http.ErrServerClosed {
				return err
			}
			logger.Info("mcp server stopped gracefully")
			return nil
		default:
			return fmt.Errorf("unknown transport %q, supported: stdio, sse", transport)
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().Int("port", 0, "Port to listen on for SSE (default from config)")
}
