package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/firefly-engineering/clonebox/internal/enforcer"
	"github.com/firefly-engineering/clonebox/internal/policy"
	"github.com/firefly-engineering/clonebox/internal/provision"
	"github.com/firefly-engineering/clonebox/internal/sandbox"
	"github.com/firefly-engineering/clonebox/internal/storage"
)

var showCmd = &cobra.Command{
	Use:   "show <sandbox-id>",
	Short: "Show detailed status of a sandbox",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var showJSON bool

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Print the sandbox as JSON")
	rootCmd.AddCommand(showCmd)
}

// sandboxView is the JSON shape printed by ls and show.
type sandboxView struct {
	ID               string                `json:"id"`
	CloneID          string                `json:"cloneId"`
	PackageName      string                `json:"packageName"`
	State            sandbox.State         `json:"state"`
	IsolationLevel   policy.IsolationLevel `json:"isolationLevel"`
	RootPath         string                `json:"rootPath"`
	DataPath         string                `json:"dataPath"`
	CachePath        string                `json:"cachePath"`
	LibPath          string                `json:"libPath"`
	VirtualProcPath  string                `json:"virtualProcPath"`
	NetworkNamespace string                `json:"networkNamespace"`
	StorageLimit     int64                 `json:"storageLimit"`
	MemoryLimit      int64                 `json:"memoryLimit"`
	StorageUsed      *int64                `json:"storageUsed,omitempty"`
	CreatedAt        time.Time             `json:"createdAt"`
	LastAccessed     time.Time             `json:"lastAccessed"`
	Policy           policy.SecurityPolicy `json:"policy"`
}

func newSandboxView(sb sandbox.Sandbox) sandboxView {
	return sandboxView{
		ID:               sb.ID,
		CloneID:          sb.CloneID,
		PackageName:      sb.PackageName,
		State:            sb.State,
		IsolationLevel:   sb.IsolationLevel,
		RootPath:         sb.RootPath,
		DataPath:         sb.DataPath,
		CachePath:        sb.CachePath,
		LibPath:          sb.LibPath,
		VirtualProcPath:  sb.VirtualProcPath,
		NetworkNamespace: sb.NetworkNamespace,
		StorageLimit:     sb.StorageLimit(),
		MemoryLimit:      sb.MemoryLimit,
		CreatedAt:        sb.CreatedAt,
		LastAccessed:     sb.LastAccessed,
		Policy:           sb.Policy,
	}
}

func runShow(cmd *cobra.Command, args []string) error {
	sb, err := loadSandbox(args[0])
	if err != nil {
		return err
	}

	view := newSandboxView(sb)
	used, usageErr := storage.Usage(sb.RootPath)
	if usageErr == nil {
		view.StorageUsed = &used
	}

	if showJSON {
		return writeJSON(cmd.OutOrStdout(), view)
	}

	printSandbox(cmd.OutOrStdout(), sb, view.StorageUsed, usageErr)
	return nil
}

// printSandbox writes the human-readable detail view. used is nil when
// usageErr explains why it could not be measured.
func printSandbox(out io.Writer, sb sandbox.Sandbox, used *int64, usageErr error) {
	fmt.Fprintf(out, "Sandbox: %s\n", sb.ID)
	fmt.Fprintf(out, "Clone: %s\n", sb.CloneID)
	fmt.Fprintf(out, "Package: %s\n", sb.PackageName)
	fmt.Fprintf(out, "State: %s\n", formatState(sb.State))
	fmt.Fprintf(out, "Isolation: %s\n", sb.IsolationLevel)
	fmt.Fprintf(out, "Network namespace: %s\n", sb.NetworkNamespace)
	fmt.Fprintf(out, "Created: %s (%s)\n", sb.CreatedAt.Local().Format(time.DateTime), humanize.Time(sb.CreatedAt))
	fmt.Fprintln(out)

	fmt.Fprintln(out, headerStyle.Render("Paths:"))
	fmt.Fprintf(out, "  Root:  %s\n", sb.RootPath)
	fmt.Fprintf(out, "  Data:  %s\n", sb.DataPath)
	fmt.Fprintf(out, "  Cache: %s\n", sb.CachePath)
	fmt.Fprintf(out, "  Lib:   %s\n", sb.LibPath)
	fmt.Fprintf(out, "  Proc:  %s\n", sb.VirtualProcPath)
	treeErr := provision.New(application.FS, application.Paths.SandboxesRoot).Validate(sb.Layout())
	fmt.Fprintf(out, "  Tree complete: %s\n", boolStatus(treeErr == nil))
	fmt.Fprintln(out)

	fmt.Fprintln(out, headerStyle.Render("Quota:"))
	if usageErr != nil {
		fmt.Fprintf(out, "  Storage: unavailable (%v)\n", usageErr)
	} else {
		fmt.Fprintf(out, "  Storage: %s of %s\n", humanize.IBytes(uint64(*used)), humanize.IBytes(uint64(sb.StorageLimit())))
	}
	fmt.Fprintf(out, "  Memory limit: %s\n", humanize.IBytes(uint64(sb.MemoryLimit)))
	fmt.Fprintf(out, "  Warning threshold: %.0f%%\n", sb.Policy.StorageWarningThreshold*100)
	fmt.Fprintf(out, "  Automatic cleanup: %s\n", boolStatus(sb.Policy.EnableStorageCleanup))
	fmt.Fprintln(out)

	p := sb.Policy
	fmt.Fprintln(out, headerStyle.Render("Policy:"))
	fmt.Fprintf(out, "  Network: %s  Storage: %s  Encryption: %s  Audit all: %s\n",
		boolStatus(p.AllowNetworkAccess), boolStatus(p.AllowStorageAccess),
		boolStatus(p.EncryptData), boolStatus(p.AuditAllAccess))
	if len(p.AllowedHosts) > 0 {
		fmt.Fprintf(out, "  Allowed hosts: %s\n", strings.Join(p.AllowedHosts, ", "))
	}
	if len(p.RestrictedPermissions) > 0 {
		fmt.Fprintf(out, "  Restricted permissions: %s\n", strings.Join(p.RestrictedPermissions, ", "))
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, headerStyle.Render("Security descriptors:"))
	d, err := enforcer.New(application.FS, nil).Read(sb)
	if err != nil {
		fmt.Fprintf(out, "  unavailable (%v)\n", err)
		return
	}
	fmt.Fprintf(out, "  Directory: %s\n", d.Dir)
	fmt.Fprintf(out, "  Network mode: %s  Block all: %s\n", d.Network.Mode, boolStatus(d.Network.BlockAll))
	fmt.Fprintf(out, "  Max processes: %d  Max open files: %d  CPU quota: %d%%\n",
		d.Limits.MaxProcesses, d.Limits.MaxOpenFiles, d.Limits.CPUQuotaPercent)
	fmt.Fprintf(out, "  Syscall audit: %s\n", boolStatus(d.Syscall.Audit))
}
