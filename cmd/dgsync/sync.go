package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	dgsync "github.com/discoursegraphs/dgsync/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Upload changed nodes, schema and relations",
	Long: `Run one full sync pass over the vault.

Every discourse node is compared with the remote space:
  1. New nodes are uploaded with their title and content
  2. Renamed nodes get their title re-uploaded
  3. Nodes modified after the last sync get their content re-uploaded
  4. Schema and relations changed after their last sync are uploaded in
     dependency order

--since overrides the last sync time read from the remote space:
  dgsync sync --since "2 days ago"
  dgsync sync --since 2024-05-01`,
	Run: func(cmd *cobra.Command, args []string) {
		sinceFlag, _ := cmd.Flags().GetString("since")
		since, err := parseSince(sinceFlag, time.Now())
		if err != nil {
			fail("%v", err)
		}

		a := mustApp()
		defer a.Close()
		ctx, cancel := signalContext()
		defer cancel()

		syncer, err := a.syncer(ctx)
		if err != nil {
			fail("%v", err)
		}

		fmt.Printf("%s Syncing %s...\n", renderAccent("↻"), a.cfg.Vault.Path)
		report, err := syncer.FullSync(ctx, since)
		printReport(report)
		if err != nil {
			fail("sync finished with errors: %v", err)
		}
	},
}

var cleanupCmd = &cobra.Command{
	Use:     "cleanup",
	GroupID: "sync",
	Short:   "Delete remote nodes whose files are gone",
	Run: func(cmd *cobra.Command, args []string) {
		a := mustApp()
		defer a.Close()
		ctx, cancel := signalContext()
		defer cancel()

		syncer, err := a.syncer(ctx)
		if err != nil {
			fail("%v", err)
		}
		n, err := syncer.CleanupOrphans(ctx)
		if err != nil {
			fail("cleanup of %d orphans failed: %v", n, err)
		}
		if n == 0 {
			fmt.Printf("%s No orphaned nodes\n", renderPass("✓"))
			return
		}
		fmt.Printf("%s Deleted %d orphaned nodes\n", renderPass("✓"), n)
	},
}

func printReport(r dgsync.Report) {
	mark := renderPass("✓")
	if len(r.Failed) > 0 {
		mark = renderWarn("⚠")
	}
	fmt.Printf("%s Sync complete in %v\n", mark, r.Duration.Round(time.Millisecond))
	printSummary(
		[2]string{"Nodes", strconv.Itoa(r.Nodes)},
		[2]string{"Changed", strconv.Itoa(r.Changed)},
		[2]string{"Skipped", strconv.Itoa(r.Skipped)},
		[2]string{"Contents", strconv.Itoa(r.Contents)},
		[2]string{"Embedded", strconv.Itoa(r.Embedded)},
		[2]string{"Concepts", strconv.Itoa(r.Concepts)},
	)
	for _, p := range r.Failed {
		fmt.Printf("   %s %s\n", renderFail("✗"), p)
	}
	if len(r.Missing) > 0 {
		fmt.Printf("   %s\n", renderMuted(fmt.Sprintf("%d referenced concepts were not part of this upload", len(r.Missing))))
	}
}

func init() {
	syncCmd.Flags().String("since", "", "Treat nodes modified after this time as changed (RFC 3339, YYYY-MM-DD or \"2 hours ago\")")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(cleanupCmd)
}
