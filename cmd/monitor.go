package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/firefly-engineering/clonebox/internal/errors"
	"github.com/firefly-engineering/clonebox/internal/logging"
	"github.com/firefly-engineering/clonebox/internal/quota"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Enforce storage quotas in the foreground",
	Long: `Periodically measures every sandbox against its storage quota,
prints warnings and runs automatic cleanup for sandboxes over quota.
Descriptor changes made by other clonebox processes are picked up while
the monitor runs. Runs until interrupted.

With --once, checks every sandbox a single time and prints the results.
Can be wrapped in a systemd service for persistent monitoring.`,
	RunE: runMonitor,
}

var monitorOnce bool

// monitorStopTimeout bounds how long an interrupted monitor waits for an
// in-flight check.
const monitorStopTimeout = 10 * time.Second

func init() {
	monitorCmd.Flags().BoolVar(&monitorOnce, "once", false, "Run a single check and exit")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	mon := application.Monitor

	if monitorOnce {
		printCheckResults(cmd.OutOrStdout(), mon.Tick(commandContext(cmd)))
		return nil
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := application.Manager.WatchDescriptors(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Warn("descriptor watcher stopped", "error", err)
		}
	}()

	logInfo("Starting quota monitor (interval: %s, sandboxes: %d)", mon.Interval(), application.Manager.Count())
	mon.Start(ctx)

	for {
		select {
		case w := <-mon.Warnings():
			logWarning("%s %s at %.0f%% (%s of %s)", w.SandboxID, w.Kind, w.Ratio*100,
				humanize.IBytes(uint64(w.Used)), humanize.IBytes(uint64(w.Limit)))
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), monitorStopTimeout)
			defer cancel()
			if err := mon.Stop(stopCtx); err != nil {
				return err
			}
			if n := mon.Dropped(); n > 0 {
				logWarning("%d warning(s) were dropped", n)
			}
			logInfo("Monitor stopped")
			return nil
		}
	}
}

func printCheckResults(w io.Writer, results []quota.CheckResult) {
	if len(results) == 0 {
		logInfo("No sandboxes to check")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "USED", "LIMIT", "USAGE", "RESULT"})
	for _, r := range results {
		a := r.Assessment
		t.AppendRow(table.Row{
			r.SandboxID,
			humanize.IBytes(uint64(a.Used)),
			humanize.IBytes(uint64(a.Limit)),
			fmt.Sprintf("%.0f%%", a.Ratio*100),
			checkOutcome(r),
		})
	}
	t.Render()
}

func checkOutcome(r quota.CheckResult) string {
	switch {
	case r.Err != nil:
		return "error: " + r.Err.Error()
	case r.Skipped:
		return "skipped"
	case r.Cleaned:
		return "cleaned, now " + humanize.IBytes(uint64(r.UsedAfter))
	case r.Assessment.Exceeded:
		return "over quota"
	case r.Assessment.Warn:
		return "warning"
	default:
		return "ok"
	}
}
