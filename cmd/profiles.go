package cmd

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/firefly-engineering/clonebox/internal/errors"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles [name]",
	Short: "List security profiles, or show one",
	Long: `Lists the built-in security profiles and any YAML profiles found in
<config-dir>/policies. Custom profiles override built-ins of the same name.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProfiles,
}

func init() {
	rootCmd.AddCommand(profilesCmd)
}

func runProfiles(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	set := application.Profiles

	if len(args) == 1 {
		prof, err := set.Get(args[0])
		if err != nil {
			return errors.ValidationError(err.Error())
		}
		p := prof.Policy
		fmt.Fprintf(out, "Profile: %s\n", prof.Name)
		if prof.Description != "" {
			fmt.Fprintf(out, "Description: %s\n", prof.Description)
		}
		fmt.Fprintf(out, "Isolation: %s\n", prof.Isolation)
		fmt.Fprintf(out, "Storage quota: %s\n", humanize.IBytes(uint64(p.MaxStorageSize)))
		fmt.Fprintf(out, "Memory limit: %s\n", humanize.IBytes(uint64(p.MaxMemorySize)))
		fmt.Fprintf(out, "Warning threshold: %.0f%%\n", p.StorageWarningThreshold*100)
		fmt.Fprintf(out, "Automatic cleanup: %s\n", boolStatus(p.EnableStorageCleanup))
		fmt.Fprintf(out, "Network: %s\n", boolStatus(p.AllowNetworkAccess))
		if len(p.AllowedHosts) > 0 {
			fmt.Fprintf(out, "Allowed hosts: %s\n", strings.Join(p.AllowedHosts, ", "))
		}
		if len(p.RestrictedPermissions) > 0 {
			fmt.Fprintf(out, "Restricted permissions: %s\n", strings.Join(p.RestrictedPermissions, ", "))
		}
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"NAME", "ISOLATION", "QUOTA", "NETWORK", "DESCRIPTION"})
	for _, name := range set.Names() {
		prof, err := set.Get(name)
		if err != nil {
			return err
		}
		t.AppendRow(table.Row{
			prof.Name,
			prof.Isolation,
			humanize.IBytes(uint64(prof.Policy.MaxStorageSize)),
			boolStatus(prof.Policy.AllowNetworkAccess),
			prof.Description,
		})
	}
	t.Render()
	return nil
}
