package main

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/discoursegraphs/dgsync/internal/importer"
)

var importCmd = &cobra.Command{
	Use:     "import [node-id...]",
	GroupID: "sync",
	Short:   "Import nodes other spaces published to your groups",
	Long: `Import discourse nodes from other spaces.

Nodes published to a group you belong to are listed and written under
import/<space name>/ in the vault. Choose them interactively, pass their
node ids, or use --all.

Examples:
  dgsync import                 # pick from a list
  dgsync import --all           # import everything available
  dgsync import --list          # only show what is available`,
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")
		listOnly, _ := cmd.Flags().GetBool("list")

		a := mustApp()
		defer a.Close()
		ctx, cancel := signalContext()
		defer cancel()

		im, err := a.importer(ctx)
		if err != nil {
			fail("%v", err)
		}
		available, err := im.ListImportable(ctx)
		if err != nil {
			fail("%v", err)
		}
		if len(available) == 0 {
			fmt.Printf("%s Nothing to import\n", renderPass("✓"))
			return
		}
		sort.Slice(available, func(i, j int) bool {
			if available[i].SpaceName != available[j].SpaceName {
				return available[i].SpaceName < available[j].SpaceName
			}
			return available[i].Title < available[j].Title
		})

		if listOnly {
			fmt.Println(importableTable(available))
			return
		}

		var selected []importer.ImportableEntity
		switch {
		case all:
			selected = available
		case len(args) > 0:
			selected = selectByID(available, args)
		case interactive():
			selected, err = pickImportable(available)
			if err != nil {
				fail("%v", err)
			}
		default:
			fmt.Println(importableTable(available))
			fail("not a terminal: pass node ids or --all")
		}
		if len(selected) == 0 {
			fmt.Println("Nothing selected")
			return
		}

		result, err := im.ImportSelected(ctx, selected, func(done, total int) {
			fmt.Printf("\r%s Importing %d/%d", renderAccent("↓"), done, total)
		})
		fmt.Println()
		if err != nil {
			fail("%v", err)
		}
		printImportResult(result.Success, result.Failed)
	},
}

var refreshCmd = &cobra.Command{
	Use:     "refresh",
	GroupID: "sync",
	Short:   "Re-import every imported node from its space",
	Run: func(cmd *cobra.Command, args []string) {
		a := mustApp()
		defer a.Close()
		ctx, cancel := signalContext()
		defer cancel()

		im, err := a.importer(ctx)
		if err != nil {
			fail("%v", err)
		}
		result, err := im.RefreshImported(ctx)
		if err != nil {
			fail("%v", err)
		}
		printImportResult(result.Success, result.Failed)
		for _, fe := range result.Errors {
			fmt.Printf("   %s %s\n", renderFail("✗"), fe.Error())
		}
	},
}

func importableTable(entities []importer.ImportableEntity) string {
	rows := make([][]string, 0, len(entities))
	for _, e := range entities {
		rows = append(rows, []string{e.SpaceName, e.Title, e.NodeInstanceID, e.Modified.Format("2006-01-02")})
	}
	return renderTable([]string{"Space", "Title", "Node ID", "Modified"}, rows)
}

func selectByID(available []importer.ImportableEntity, ids []string) []importer.ImportableEntity {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []importer.ImportableEntity
	for _, e := range available {
		if want[e.NodeInstanceID] {
			out = append(out, e)
			delete(want, e.NodeInstanceID)
		}
	}
	for id := range want {
		fmt.Printf("%s %s is not available for import\n", renderWarn("⚠"), id)
	}
	return out
}

// pickImportable shows a multi-select of the available nodes.
func pickImportable(available []importer.ImportableEntity) ([]importer.ImportableEntity, error) {
	options := make([]huh.Option[int], len(available))
	for i, e := range available {
		options[i] = huh.NewOption(fmt.Sprintf("%s  %s", e.Title, renderMuted(e.SpaceName)), i)
	}
	var chosen []int
	form := huh.NewForm(huh.NewGroup(
		huh.NewMultiSelect[int]().
			Title("Select nodes to import").
			Options(options...).
			Value(&chosen),
	))
	if err := form.Run(); err != nil {
		return nil, err
	}
	out := make([]importer.ImportableEntity, 0, len(chosen))
	for _, i := range chosen {
		out = append(out, available[i])
	}
	return out, nil
}

func printImportResult(success, failed int) {
	mark := renderPass("✓")
	if failed > 0 {
		mark = renderWarn("⚠")
	}
	fmt.Printf("%s Imported %d nodes", mark, success)
	if failed > 0 {
		fmt.Printf(", %d failed", failed)
	}
	fmt.Println()
}

func init() {
	importCmd.Flags().Bool("all", false, "Import every available node")
	importCmd.Flags().Bool("list", false, "List available nodes without importing")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(refreshCmd)
}
