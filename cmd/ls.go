package cmd

import (
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/firefly-engineering/clonebox/internal/sandbox"
)

var lsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List active sandboxes",
	RunE:    runLs,
}

var (
	lsAll  bool
	lsJSON bool
)

func init() {
	lsCmd.Flags().BoolVarP(&lsAll, "all", "a", false, "Include sandboxes in warning, cleaning or destroying state")
	lsCmd.Flags().BoolVar(&lsJSON, "json", false, "Print sandboxes as JSON")
	rootCmd.AddCommand(lsCmd)
}

func runLs(cmd *cobra.Command, args []string) error {
	var sandboxes []sandbox.Sandbox
	if lsAll {
		sandboxes = application.Registry.Snapshot()
	} else {
		sandboxes = application.Manager.ListActive()
	}

	if lsJSON {
		rows := make([]sandboxView, 0, len(sandboxes))
		for _, sb := range sandboxes {
			rows = append(rows, newSandboxView(sb))
		}
		return writeJSON(cmd.OutOrStdout(), rows)
	}

	if len(sandboxes) == 0 {
		logInfo("No sandboxes found. Create one with: clonebox create <clone-id> <package>")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "CLONE", "PACKAGE", "ISOLATION", "QUOTA", "CREATED", "STATE"})
	for _, sb := range sandboxes {
		t.AppendRow(table.Row{
			sb.ID,
			sb.CloneID,
			sb.PackageName,
			sb.IsolationLevel,
			humanize.IBytes(uint64(sb.StorageLimit())),
			humanize.Time(sb.CreatedAt),
			formatState(sb.State),
		})
	}
	t.Render()
	return nil
}
