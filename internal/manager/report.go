package manager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/firefly-engineering/clonebox/internal/sandbox"
)

// SandboxUsage is one row of a Report.
type SandboxUsage struct {
	ID          string
	CloneID     string
	PackageName string
	State       sandbox.State
	Used        int64
	Limit       int64
	Err         error
}

// Ratio returns Used/Limit, or 0 without a limit.
func (u SandboxUsage) Ratio() float64 {
	if u.Limit <= 0 {
		return 0
	}
	return float64(u.Used) / float64(u.Limit)
}

// Report is an aggregate view of every active sandbox.
type Report struct {
	GeneratedAt time.Time
	Active      int
	TotalUsed   int64
	TotalLimit  int64
	Sandboxes   []SandboxUsage
}

// Report measures every active sandbox. A sandbox that cannot be measured
// is listed with its error and counts as zero bytes.
func (m *Manager) Report(ctx context.Context) Report {
	r := Report{GeneratedAt: m.now()}
	for _, sb := range m.ListActive() {
		if ctx.Err() != nil {
			break
		}
		u := SandboxUsage{
			ID:          sb.ID,
			CloneID:     sb.CloneID,
			PackageName: sb.PackageName,
			State:       sb.State,
			Limit:       sb.StorageLimit(),
		}
		used, err := m.usage(sb.RootPath)
		if err != nil {
			u.Err = err
		} else {
			u.Used = used
		}
		r.Active++
		r.TotalUsed += u.Used
		r.TotalLimit += u.Limit
		r.Sandboxes = append(r.Sandboxes, u)
	}
	return r
}

// String renders the report for humans.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Active sandboxes: %d\n", r.Active)
	fmt.Fprintf(&b, "Total storage: %s of %s\n", humanize.IBytes(uint64(r.TotalUsed)), humanize.IBytes(uint64(r.TotalLimit)))
	for _, u := range r.Sandboxes {
		if u.Err != nil {
			fmt.Fprintf(&b, "  %s  %s/%s  unavailable: %v\n", u.ID, u.CloneID, u.PackageName, u.Err)
			continue
		}
		fmt.Fprintf(&b, "  %s  %s/%s  %s / %s (%.0f%%)\n",
			u.ID, u.CloneID, u.PackageName,
			humanize.IBytes(uint64(u.Used)), humanize.IBytes(uint64(u.Limit)), u.Ratio()*100)
	}
	return b.String()
}
