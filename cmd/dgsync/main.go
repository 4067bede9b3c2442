// Command dgsync keeps an Obsidian-style discourse graph vault in sync with
// a remote backend.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var (
	configFlag   string
	vaultFlag    string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "dgsync",
	Short: "Sync a discourse graph vault with its remote space",
	Long: `dgsync uploads the discourse nodes and relations of a markdown vault to a
remote space, imports nodes other spaces published to your groups, and keeps
everything current while you edit.

Configuration is read from dgsync.yaml or dgsync.toml in the vault's
_discourse_graphs folder, ~/.config/dgsync or the working directory, and
from DGSYNC_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initColor()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the dgsync version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dgsync %s\n", Version)
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "graph", Title: "Graph Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)

	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: search the vault, ~/.config/dgsync and .)")
	rootCmd.PersistentFlags().StringVar(&vaultFlag, "vault", "", "Vault folder (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(versionCmd)
}

// mustApp loads the app or exits.
func mustApp() *app {
	a, err := loadApp()
	if err != nil {
		fail("%v", err)
	}
	return a
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// fail prints an error and exits with status 1.
func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s\n", renderFail("Error:"), fmt.Sprintf(format, args...))
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
