package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/devfleet/devfleet"
	httpAdapter "github.com/devfleet/devfleet/internal/adapters/http"
	"github.com/devfleet/devfleet/internal/logging"
	"github.com/devfleet/devfleet/internal/presentation/tui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard HTTP API",
	Long: `Starts the JSON API consumed by the web dashboard: project CRUD,
lifecycle operations, port status, an SSE event stream, and /metrics.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		fleet, err := devfleet.New(cfg, devfleet.WithLogger(logging.New(slogLevel(cfg.LogLevel))))
		if err != nil {
			return err
		}
		defer fleet.Close()

		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			port = cfg.DashboardPort
		}

		handler := httpAdapter.NewHandler(fleet.Registry(), fleet.Controller(),
			httpAdapter.WithVersion(devfleet.Version),
			httpAdapter.WithLogger(logging.New(slogLevel(cfg.LogLevel))),
		)

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: handler,
		}

		serverErrors := make(chan error, 1)
		go func() {
			if tui.IsInteractive() {
				tui.PrintBanner(devfleet.Version)
			}
			fmt.Printf("Dashboard API listening on http://localhost:%d\n", port)
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			return err
		case sig := <-shutdown:
			fmt.Printf("\nShutting down (%v)...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				_ = srv.Close()
				return fmt.Errorf("graceful shutdown did not complete: %w", err)
			}
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 0, "Port to listen on (default from config)")
}
