package system

import (
	"context"
	"os/exec"
	"time"
)

// hookWaitDelay bounds how long a cancelled hook may keep its output
// pipes open after the process is killed.
const hookWaitDelay = 5 * time.Second

// osExecutor runs hook commands as child processes.
type osExecutor struct{}

func (e *osExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = hookWaitDelay
	return cmd.CombinedOutput()
}
