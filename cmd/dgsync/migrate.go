package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/discoursegraphs/dgsync/internal/migrate"
)

var migrateCmd = &cobra.Command{
	Use:     "migrate",
	GroupID: "advanced",
	Short:   "Upgrade vault data written by older versions",
	Long: `Run the vault migrations:

  relations   relation links kept in node frontmatter are moved into
              the relation store and removed from both files
  origins     importedFromSpaceUri "obsidian:<space>" on imported nodes
              is rewritten to importedFromRid

Both are idempotent. Use --dry-run to see what would change.`,
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		yes, _ := cmd.Flags().GetBool("yes")

		if !dryRun && !yes && interactive() {
			confirmed := false
			err := huh.NewConfirm().
				Title("Rewrite vault files?").
				Description("Frontmatter relation links and legacy import origins will be migrated.").
				Affirmative("Migrate").
				Negative("Cancel").
				Value(&confirmed).
				Run()
			if err != nil {
				fail("%v", err)
			}
			if !confirmed {
				fmt.Println("Cancelled")
				return
			}
		}

		a := mustApp()
		defer a.Close()
		ctx, cancel := signalContext()
		defer cancel()

		m, err := a.migrator()
		if err != nil {
			fail("%v", err)
		}
		opts := migrate.Options{DryRun: dryRun}
		if dryRun {
			fmt.Println(renderAccent("Dry run: no files will be changed"))
		}

		rels, err := m.FrontmatterRelations(ctx, opts)
		if err != nil {
			fail("relation migration failed: %v", err)
		}
		origins, err := m.ImportedFromRID(ctx, opts)
		if err != nil {
			fail("origin migration failed: %v", err)
		}

		printSummary(
			[2]string{"Relations added", strconv.Itoa(rels.RelationsAdded)},
			[2]string{"Files cleaned", strconv.Itoa(rels.FilesCleaned)},
			[2]string{"Origins rewritten", strconv.Itoa(origins.FilesRewritten)},
		)
		errs := append(rels.Errors, origins.Errors...)
		for _, e := range errs {
			fmt.Printf("   %s %s\n", renderFail("✗"), e)
		}
		if len(errs) > 0 {
			fail("%d files could not be migrated", len(errs))
		}
		fmt.Printf("%s Migration complete\n", renderPass("✓"))
	},
}

func init() {
	migrateCmd.Flags().Bool("dry-run", false, "Show what would change without writing")
	migrateCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")

	rootCmd.AddCommand(migrateCmd)
}
