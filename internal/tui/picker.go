// Package tui provides the interactive sandbox picker for clonebox.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/firefly-engineering/clonebox/internal/sandbox"
)

// Action represents the action to take after picker selection
type Action int

const (
	ActionNone Action = iota
	ActionShow
	ActionDestroy
	ActionQuit
)

// PickerResult holds the result of the picker
type PickerResult struct {
	Action  Action
	Sandbox *sandbox.Sandbox
}

// UsageFunc measures a sandbox root. Errors render as "usage unknown".
type UsageFunc func(root string) (int64, error)

// sandboxItem implements list.Item for sandbox display
type sandboxItem struct {
	sb    sandbox.Sandbox
	used  int64
	known bool
}

func (i sandboxItem) Title() string {
	return i.sb.ID
}

func (i sandboxItem) Description() string {
	statusIcon := "●"
	switch i.sb.State {
	case sandbox.StateWarning:
		statusIcon = "⚠"
	case sandbox.StateCleaning, sandbox.StateProvisioning, sandbox.StateDestroying:
		statusIcon = "○"
	case sandbox.StateDestroyed, sandbox.StateDestroyFailed:
		statusIcon = "✗"
	}

	usage := "usage unknown"
	if i.known {
		usage = fmt.Sprintf("%s / %s",
			humanize.IBytes(uint64(i.used)), humanize.IBytes(uint64(i.sb.StorageLimit())))
	}

	return fmt.Sprintf("%s %s | %s | %s",
		statusIcon,
		truncate(i.sb.CloneID+"/"+i.sb.PackageName, 40),
		i.sb.IsolationLevel,
		usage,
	)
}

func (i sandboxItem) FilterValue() string {
	return i.sb.ID + " " + i.sb.CloneID + " " + i.sb.PackageName
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen+3:]
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			MarginBottom(1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)
)

// Model is the bubbletea model for the sandbox picker
type Model struct {
	list     list.Model
	result   PickerResult
	quitting bool
	width    int
	height   int
}

// NewPicker creates a new sandbox picker. usage may be nil.
func NewPicker(sandboxes []sandbox.Sandbox, usage UsageFunc) Model {
	items := make([]list.Item, len(sandboxes))
	for i, sb := range sandboxes {
		item := sandboxItem{sb: sb}
		if usage != nil {
			if used, err := usage(sb.RootPath); err == nil {
				item.used, item.known = used, true
			}
		}
		items[i] = item
	}

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = selectedStyle
	delegate.Styles.SelectedDesc = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	l := list.New(items, delegate, 80, 20)
	l.Title = "clonebox - Select Sandbox"
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = titleStyle

	return Model{list: l}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(msg.Width, msg.Height-4)
		return m, nil

	case tea.KeyMsg:
		// Don't handle keys if filtering
		if m.list.FilterState() == list.Filtering {
			break
		}

		switch msg.String() {
		case "enter":
			if item, ok := m.list.SelectedItem().(sandboxItem); ok {
				return m.finish(ActionShow, &item.sb)
			}

		case "d":
			if item, ok := m.list.SelectedItem().(sandboxItem); ok {
				return m.finish(ActionDestroy, &item.sb)
			}

		case "q", "esc":
			return m.finish(ActionQuit, nil)
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) finish(action Action, sb *sandbox.Sandbox) (tea.Model, tea.Cmd) {
	m.result = PickerResult{Action: action, Sandbox: sb}
	m.quitting = true
	return m, tea.Quit
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	help := helpStyle.Render("[enter] Show  [d] Destroy  [/] Filter  [q] Quit")

	return m.list.View() + "\n" + help
}

// Result returns the picker result
func (m Model) Result() PickerResult {
	return m.result
}

// RunPicker runs the interactive sandbox picker
func RunPicker(sandboxes []sandbox.Sandbox, usage UsageFunc) (PickerResult, error) {
	if len(sandboxes) == 0 {
		return PickerResult{Action: ActionNone}, nil
	}

	p := tea.NewProgram(NewPicker(sandboxes, usage), tea.WithAltScreen())

	finalModel, err := p.Run()
	if err != nil {
		return PickerResult{}, err
	}

	return finalModel.(Model).Result(), nil
}

// SimplePicker is a non-interactive listing used when stdin is not a
// terminal.
func SimplePicker(sandboxes []sandbox.Sandbox) string {
	var b strings.Builder

	b.WriteString("clonebox - Sandboxes\n")
	b.WriteString(strings.Repeat("─", 60) + "\n\n")

	if len(sandboxes) == 0 {
		b.WriteString("No sandboxes found.\n")
		b.WriteString("Create one with: clonebox create <clone-id> <package>\n")
		return b.String()
	}

	for i, sb := range sandboxes {
		b.WriteString(fmt.Sprintf("%d. %s (%s)\n", i+1, sb.ID, sb.State))
		b.WriteString(fmt.Sprintf("   Clone: %s/%s | Root: %s\n\n",
			sb.CloneID, sb.PackageName, truncate(sb.RootPath, 40)))
	}

	return b.String()
}
