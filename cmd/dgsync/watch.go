package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/discoursegraphs/dgsync/internal/daemon"
	"github.com/discoursegraphs/dgsync/internal/dashboard"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "sync",
	Short:   "Sync continuously while the vault changes",
	Long: `Start the sync daemon.

The daemon:
  1. Runs a full sync and an orphan cleanup
  2. Watches the vault for markdown changes
  3. Coalesces changes per file until the vault is quiet for
     queue.debounce (default 5s), then syncs them one file at a time

With --dashboard (or dashboard.enabled in the config) the WebSocket
dashboard and /metrics are served alongside.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := mustApp()
		defer a.Close()
		ctx, cancel := signalContext()
		defer cancel()

		syncer, err := a.syncer(ctx)
		if err != nil {
			fail("%v", err)
		}

		cfg := daemon.Config{
			Root:     a.cfg.Vault.Path,
			Syncer:   syncer,
			Debounce: a.cfg.Queue.Debounce,
			Logger:   a.logger,
			Metrics:  a.metrics,
		}

		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		if withDashboard || a.cfg.Dashboard.Enabled {
			port := a.cfg.Dashboard.Port
			if cmd.Flags().Changed("port") {
				port, _ = cmd.Flags().GetInt("port")
			}
			server := dashboard.NewServer(&dashboard.Config{Port: port, Metrics: a.metrics, Logger: a.logger})
			cfg.Publisher = dashboard.NewHandler(server, a.logger)
			if err := server.Start(); err != nil {
				fail("failed to start dashboard: %v", err)
			}
			defer server.Stop()
			fmt.Printf("%s Dashboard on ws://%s/ws\n", renderAccent("◉"), server.GetAddr())
		}

		d, err := daemon.New(cfg)
		if err != nil {
			fail("%v", err)
		}
		fmt.Printf("%s Watching %s (Ctrl+C to stop)\n", renderAccent("👁"), a.cfg.Vault.Path)
		if err := d.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", renderFail("Error:"), err)
			return
		}
		fmt.Println("\nStopped")
	},
}

func init() {
	watchCmd.Flags().Bool("dashboard", false, "Serve the WebSocket dashboard while watching")
	watchCmd.Flags().IntP("port", "p", 8080, "Dashboard port")

	rootCmd.AddCommand(watchCmd)
}
