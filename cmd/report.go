package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Report storage use across active sandboxes",
	RunE:  runReport,
}

var reportJSON bool

func init() {
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "Print the report as JSON")
	rootCmd.AddCommand(reportCmd)
}

type reportRow struct {
	ID          string  `json:"id"`
	CloneID     string  `json:"cloneId"`
	PackageName string  `json:"packageName"`
	State       string  `json:"state"`
	Used        int64   `json:"used"`
	Limit       int64   `json:"limit"`
	Ratio       float64 `json:"ratio"`
	Error       string  `json:"error,omitempty"`
}

type reportView struct {
	Active     int         `json:"active"`
	TotalUsed  int64       `json:"totalUsed"`
	TotalLimit int64       `json:"totalLimit"`
	Sandboxes  []reportRow `json:"sandboxes"`
}

func runReport(cmd *cobra.Command, args []string) error {
	r := application.Manager.Report(commandContext(cmd))

	if !reportJSON {
		fmt.Fprint(cmd.OutOrStdout(), r.String())
		return nil
	}

	view := reportView{
		Active:     r.Active,
		TotalUsed:  r.TotalUsed,
		TotalLimit: r.TotalLimit,
		Sandboxes:  make([]reportRow, 0, len(r.Sandboxes)),
	}
	for _, u := range r.Sandboxes {
		row := reportRow{
			ID:          u.ID,
			CloneID:     u.CloneID,
			PackageName: u.PackageName,
			State:       string(u.State),
			Used:        u.Used,
			Limit:       u.Limit,
			Ratio:       u.Ratio(),
		}
		if u.Err != nil {
			row.Error = u.Err.Error()
		}
		view.Sandboxes = append(view.Sandboxes, row)
	}
	return writeJSON(cmd.OutOrStdout(), view)
}
