package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/firefly-engineering/clonebox/internal/errors"
	"github.com/firefly-engineering/clonebox/internal/sandbox"
)

var (
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	busyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	deadStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	headerStyle  = lipgloss.NewStyle().Bold(true)
)

// commandContext returns the command's context, or Background when the
// command was executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// loadSandbox returns a registered sandbox or a SandboxNotFound error.
func loadSandbox(id string) (sandbox.Sandbox, error) {
	sb, ok := application.Manager.Get(id)
	if !ok {
		return sandbox.Sandbox{}, errors.SandboxNotFound(id)
	}
	return sb, nil
}

// formatState renders a lifecycle state with its color.
func formatState(s sandbox.State) string {
	switch s {
	case sandbox.StateActive:
		return activeStyle.Render("● " + string(s))
	case sandbox.StateWarning:
		return warningStyle.Render("⚠ " + string(s))
	case sandbox.StateCleaning, sandbox.StateProvisioning, sandbox.StateDestroying:
		return busyStyle.Render("○ " + string(s))
	default:
		return deadStyle.Render("✗ " + string(s))
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

func boolStatus(b bool) string {
	if b {
		return "✓"
	}
	return "✗"
}
