package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var auditLogCmd = &cobra.Command{
	Use:   "audit-log [sandbox-id]",
	Short: "Display the audit trail for a sandbox",
	Long: `Displays lifecycle events recorded for a sandbox. Trails outlive the
sandbox, so destroyed sandboxes can still be inspected.

Without an id, lists every sandbox that has an audit trail.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuditLog,
}

var auditLogJSON bool

func init() {
	auditLogCmd.Flags().BoolVar(&auditLogJSON, "json", false, "Output events as JSON lines")
	rootCmd.AddCommand(auditLogCmd)
}

func runAuditLog(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		ids, err := application.Audit.Sandboxes()
		if err != nil {
			return fmt.Errorf("failed to list audit logs: %w", err)
		}
		if len(ids) == 0 {
			logInfo("No audit logs found")
			return nil
		}
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}
		return nil
	}

	id := args[0]
	events, err := application.Audit.Events(id)
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}

	if len(events) == 0 {
		logInfo("No events found for sandbox %s", id)
		return nil
	}

	for _, e := range events {
		if auditLogJSON {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("failed to marshal event: %w", err)
			}
			fmt.Fprintln(out, string(data))
		} else {
			ts := e.Timestamp.Local().Format(time.DateTime)
			if e.Details != "" {
				fmt.Fprintf(out, "[%s] %-14s %s (%s)\n", ts, e.Type, e.Sandbox, e.Details)
			} else {
				fmt.Fprintf(out, "[%s] %-14s %s\n", ts, e.Type, e.Sandbox)
			}
		}
	}

	return nil
}
