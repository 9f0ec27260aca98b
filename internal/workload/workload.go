// Package workload stops the processes bound to a sandbox before its
// storage is removed. Process control belongs to an external agent; this
// package only invokes the hook configured for it.
package workload

import (
	"context"
	"fmt"
	"strings"
	"time"

	shellquote "github.com/kballard/go-shellquote"

	"github.com/firefly-engineering/clonebox/internal/logging"
	"github.com/firefly-engineering/clonebox/internal/sandbox"
	"github.com/firefly-engineering/clonebox/internal/system"
)

// DefaultTimeout bounds a single terminate command.
const DefaultTimeout = 30 * time.Second

// Terminator stops every workload bound to a sandbox.
type Terminator interface {
	Terminate(ctx context.Context, sb sandbox.Sandbox) error
}

// Noop is used when no terminate command is configured.
type Noop struct{}

func (Noop) Terminate(context.Context, sandbox.Sandbox) error { return nil }

// CommandTerminator runs a configured command line. The placeholders
// {id}, {clone}, {package} and {root} are substituted per sandbox after
// the line is split into words, so values never need quoting.
type CommandTerminator struct {
	exec    system.CommandExecutor
	argv    []string
	timeout time.Duration
}

// New returns a Terminator for a command template. An empty template
// yields Noop.
func New(exec system.CommandExecutor, template string) (Terminator, error) {
	if strings.TrimSpace(template) == "" {
		return Noop{}, nil
	}
	return NewCommandTerminator(exec, template)
}

// NewCommandTerminator parses template with shell word splitting rules.
func NewCommandTerminator(exec system.CommandExecutor, template string) (*CommandTerminator, error) {
	argv, err := shellquote.Split(template)
	if err != nil {
		return nil, fmt.Errorf("invalid terminate command %q: %w", template, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("terminate command is empty")
	}
	return &CommandTerminator{exec: exec, argv: argv, timeout: DefaultTimeout}, nil
}

// Command returns the argv that Terminate would run for sb.
func (t *CommandTerminator) Command(sb sandbox.Sandbox) []string {
	r := strings.NewReplacer(
		"{id}", sb.ID,
		"{clone}", sb.CloneID,
		"{package}", sb.PackageName,
		"{root}", sb.RootPath,
	)
	out := make([]string, len(t.argv))
	for i, arg := range t.argv {
		out[i] = r.Replace(arg)
	}
	return out
}

func (t *CommandTerminator) Terminate(ctx context.Context, sb sandbox.Sandbox) error {
	argv := t.Command(sb)

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	logging.ForSandbox(sb.ID).Debug("terminating workloads", "command", shellquote.Join(argv...))
	out, err := t.exec.Execute(ctx, argv[0], argv[1:]...)
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", argv[0], err, msg)
		}
		return fmt.Errorf("%s: %w", argv[0], err)
	}
	return nil
}
