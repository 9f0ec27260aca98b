package cmd

import (
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/clonebox/internal/config"
	"github.com/firefly-engineering/clonebox/internal/errors"
	"github.com/firefly-engineering/clonebox/internal/logging"
	"github.com/firefly-engineering/clonebox/internal/sandbox"
	"github.com/firefly-engineering/clonebox/internal/system"
)

var (
	gcForce bool
	gcAudit bool
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Garbage collect orphaned sandbox resources",
	Long: `Reconciles disk state with the sandboxes that loaded at startup and
removes orphaned resources.

Without --force, prints what would be cleaned (dry run).
With --force, actually removes the orphaned files.

Detects:
  - Orphaned trees: sandbox directories with no loadable descriptor
  - Tombstones: trees moved aside by a destroy that could not finish
  - Stale descriptors: descriptors whose sandbox tree is missing or
    incomplete, and temp files left by interrupted writes
  - Orphaned audit trails (with --audit): trails of sandboxes that no
    longer exist

Do not run gc --force while another clonebox process is creating sandboxes.`,
	RunE: runGC,
}

func init() {
	gcCmd.Flags().BoolVar(&gcForce, "force", false, "Actually remove orphaned resources (default is dry run)")
	gcCmd.Flags().BoolVar(&gcAudit, "audit", false, "Also remove audit trails of sandboxes that no longer exist")
	rootCmd.AddCommand(gcCmd)
}

// gcResult tracks what gc found and would/did clean up.
type gcResult struct {
	orphanedTrees    []string // sandbox ids with a tree but no registered sandbox
	tombstones       []string // sandbox ids with a leftover .<id>.destroying tree
	staleDescriptors []string // descriptor file names with no registered sandbox
	orphanedAudit    []string // sandbox ids with an audit trail but no registered sandbox
}

func (r *gcResult) empty() bool {
	return len(r.orphanedTrees) == 0 && len(r.tombstones) == 0 && len(r.staleDescriptors) == 0 && len(r.orphanedAudit) == 0
}

func runGC(cmd *cobra.Command, args []string) error {
	p := application.Paths
	fsys := application.FS

	registered := func(id string) bool {
		_, ok := application.Manager.Get(id)
		return ok
	}

	result := &gcResult{}

	// 1. Sandbox trees on disk
	trees, err := sandboxTreesFromDisk(fsys, p.SandboxesRoot)
	if err != nil {
		return fmt.Errorf("failed to scan sandboxes directory: %w", err)
	}
	for _, id := range trees {
		if !registered(id) {
			result.orphanedTrees = append(result.orphanedTrees, id)
		}
	}

	tombs, err := tombstonesFromDisk(fsys, p.SandboxesRoot)
	if err != nil {
		return fmt.Errorf("failed to scan sandboxes directory: %w", err)
	}
	for _, id := range tombs {
		if !registered(id) {
			result.tombstones = append(result.tombstones, id)
		}
	}

	// 2. Descriptor files
	entries, err := readDirIfExists(fsys, p.DescriptorsDir)
	if err != nil {
		return fmt.Errorf("failed to scan descriptors directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ok := descriptorID(entry.Name())
		if ok && !registered(id) {
			result.staleDescriptors = append(result.staleDescriptors, entry.Name())
		}
	}

	// 3. Audit trails
	if gcAudit {
		ids, err := application.Audit.Sandboxes()
		if err != nil {
			return fmt.Errorf("failed to list audit logs: %w", err)
		}
		for _, id := range ids {
			if !registered(id) {
				result.orphanedAudit = append(result.orphanedAudit, id)
			}
		}
	}

	// 4. Report or act
	if result.empty() {
		logInfo("No orphaned resources found")
		return nil
	}

	if !gcForce {
		printGCDryRun(cmd.OutOrStdout(), result)
		return nil
	}

	return executeGC(result, p, fsys)
}

// sandboxTreesFromDisk returns the ids of the sandbox directories under
// root. Entries that are not directories or not sandbox ids are ignored.
func sandboxTreesFromDisk(fsys system.FileSystem, root string) ([]string, error) {
	entries, err := readDirIfExists(fsys, root)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if config.ValidateSandboxID(entry.Name()) == nil {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// tombstonesFromDisk returns the ids of the trees under root that a destroy
// moved aside but did not finish removing.
func tombstonesFromDisk(fsys system.FileSystem, root string) ([]string, error) {
	entries, err := readDirIfExists(fsys, root)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, ok := sandbox.TombstoneID(entry.Name())
		if ok && config.ValidateSandboxID(id) == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func readDirIfExists(fsys system.FileSystem, dir string) ([]fs.DirEntry, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return entries, nil
}

// descriptorID extracts the sandbox id from a descriptors directory entry.
// It recognizes:
//   - <id>.json (descriptor)
//   - .<id>.json.tmp (temp file of an interrupted atomic write)
func descriptorID(filename string) (string, bool) {
	name := filename
	if tmp, ok := strings.CutSuffix(name, ".json.tmp"); ok {
		if !strings.HasPrefix(tmp, ".") {
			return "", false
		}
		name = tmp[1:]
	} else if id, ok := strings.CutSuffix(name, ".json"); ok {
		name = id
	} else {
		return "", false
	}

	if config.ValidateSandboxID(name) != nil {
		return "", false
	}
	return name, true
}

func printGCDryRun(w io.Writer, result *gcResult) {
	fmt.Fprintln(w, "Dry run (use --force to actually clean up):")
	fmt.Fprintln(w)

	if len(result.orphanedTrees) > 0 {
		fmt.Fprintln(w, "Orphaned sandbox trees (no loadable descriptor):")
		for _, id := range result.orphanedTrees {
			fmt.Fprintf(w, "  %s\n", id)
		}
		fmt.Fprintln(w)
	}

	if len(result.tombstones) > 0 {
		fmt.Fprintln(w, "Unfinished destroys (tombstone trees):")
		for _, id := range result.tombstones {
			fmt.Fprintf(w, "  %s\n", filepath.Base(sandbox.TombstonePath("", id)))
		}
		fmt.Fprintln(w)
	}

	if len(result.staleDescriptors) > 0 {
		fmt.Fprintln(w, "Stale descriptors (sandbox did not load):")
		for _, name := range result.staleDescriptors {
			fmt.Fprintf(w, "  %s\n", name)
		}
		fmt.Fprintln(w)
	}

	if len(result.orphanedAudit) > 0 {
		fmt.Fprintln(w, "Orphaned audit trails:")
		for _, id := range result.orphanedAudit {
			fmt.Fprintf(w, "  %s\n", id)
		}
		fmt.Fprintln(w)
	}
}

func executeGC(result *gcResult, p *config.Paths, fsys system.FileSystem) error {
	var failed int

	for _, id := range result.orphanedTrees {
		logInfo("Removing orphaned sandbox tree: %s", id)
		path := filepath.Join(p.SandboxesRoot, id)
		if err := fsys.RemoveAll(path); err != nil {
			logWarning("Failed to remove %s: %v", path, err)
			failed++
			continue
		}
		logging.Debug("removed orphaned tree", "path", path)
	}

	for _, id := range result.tombstones {
		logInfo("Removing tombstone of %s", id)
		path := sandbox.TombstonePath(p.SandboxesRoot, id)
		if err := fsys.RemoveAll(path); err != nil {
			logWarning("Failed to remove %s: %v", path, err)
			failed++
			continue
		}
		logging.Debug("removed tombstone", "path", path)
	}

	for _, name := range result.staleDescriptors {
		logInfo("Removing stale descriptor: %s", name)
		path := filepath.Join(p.DescriptorsDir, name)
		if err := fsys.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logWarning("Failed to remove %s: %v", path, err)
			failed++
		}
	}

	for _, id := range result.orphanedAudit {
		logInfo("Removing audit trail: %s", id)
		if err := application.Audit.Remove(id); err != nil {
			logWarning("Failed to remove audit trail %s: %v", id, err)
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("garbage collection left %d resource(s) behind", failed)
	}
	logSuccess("Garbage collection complete")
	return nil
}
