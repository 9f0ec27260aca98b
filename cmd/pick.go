package cmd

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/firefly-engineering/clonebox/internal/errors"
	"github.com/firefly-engineering/clonebox/internal/logging"
	"github.com/firefly-engineering/clonebox/internal/storage"
	"github.com/firefly-engineering/clonebox/internal/tui"
)

var pickCmd = &cobra.Command{
	Use:   "pick",
	Short: "Interactive sandbox picker",
	Long: `Opens an interactive TUI for browsing sandboxes.

Use arrow keys or j/k to navigate, / to filter.

Actions:
  Enter  - Show details of the selected sandbox
  d      - Destroy the selected sandbox
  q/Esc  - Quit

When stdin is not a terminal, a plain listing is printed instead.`,
	RunE: runPick,
}

var pickPlain bool

func init() {
	pickCmd.Flags().BoolVar(&pickPlain, "plain", false, "Print a plain listing instead of the interactive picker")
	rootCmd.AddCommand(pickCmd)
}

func interactive(cmd *cobra.Command) bool {
	f, ok := cmd.InOrStdin().(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func runPick(cmd *cobra.Command, args []string) error {
	sandboxes := application.Registry.Snapshot()

	if pickPlain || !interactive(cmd) {
		fmt.Fprint(cmd.OutOrStdout(), tui.SimplePicker(sandboxes))
		return nil
	}

	if len(sandboxes) == 0 {
		logInfo("No sandboxes found. Create one with: clonebox create <clone-id> <package>")
		return nil
	}

	logging.Debug("picker mode started", "sandboxes", len(sandboxes))

	result, err := tui.RunPicker(sandboxes, storage.Usage)
	if err != nil {
		return fmt.Errorf("picker error: %w", err)
	}

	logging.Debug("picker result", "action", result.Action)

	switch result.Action {
	case tui.ActionShow:
		if result.Sandbox != nil {
			return runShow(cmd, []string{result.Sandbox.ID})
		}

	case tui.ActionDestroy:
		if result.Sandbox == nil {
			return nil
		}
		ok, err := application.Manager.Destroy(commandContext(cmd), result.Sandbox.ID)
		if err != nil {
			return err
		}
		if !ok {
			return errors.SandboxNotFound(result.Sandbox.ID)
		}
		logSuccess("Destroyed sandbox %s", result.Sandbox.ID)

	case tui.ActionQuit, tui.ActionNone:
	}

	return nil
}
