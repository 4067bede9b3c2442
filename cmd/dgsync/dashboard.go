package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/discoursegraphs/dgsync/internal/dashboard"
	"github.com/discoursegraphs/dgsync/internal/logging"
	"github.com/discoursegraphs/dgsync/internal/metrics"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Start the WebSocket dashboard on its own",
	Long: `Start a WebSocket dashboard server without syncing.

WebSocket messages include:
- queue_drain: the change queue synced a batch of files
- sync_complete: a full sync pass completed
- import_complete: an import or refresh completed
- orphan_cleanup: remote nodes without a file were deleted
- stats: running totals, also sent when a client connects

Use 'dgsync watch --dashboard' to serve it alongside the sync daemon.

Example usage:
  dgsync dashboard                   # Start on default port 8080
  dgsync dashboard --port 9000       # Start on custom port`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")
		logger, err := logging.New(logging.Options{Level: logLevelFlag})
		if err != nil {
			fail("%v", err)
		}

		server := dashboard.NewServer(&dashboard.Config{Port: port, Metrics: metrics.New(), Logger: logger})
		dashboard.NewHandler(server, logger)
		if err := server.Start(); err != nil {
			fail("failed to start dashboard: %v", err)
		}

		fmt.Printf("Dashboard server started on http://localhost:%d\n", port)
		fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", port)
		fmt.Printf("Health check: http://localhost:%d/health\n", port)
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signalContext()
		defer cancel()
		<-ctx.Done()

		fmt.Println("\nShutting down dashboard server...")
		if err := server.Stop(); err != nil {
			fail("error during shutdown: %v", err)
		}
		fmt.Println("Dashboard server stopped")
	},
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 8080, "Port to listen on")

	rootCmd.AddCommand(dashboardCmd)
}
