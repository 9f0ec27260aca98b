package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create <clone-id> <package>",
	Short: "Create a sandbox for a cloned app",
	Long: `Creates a sandbox: reserves an id, provisions the directory tree,
writes the security descriptors and persists the sandbox descriptor.

Without --profile and --isolation the host defaults from config.toml apply.
A named profile brings its own isolation level; --isolation overrides it.`,
	Args: cobra.ExactArgs(2),
	RunE: runCreate,
}

var (
	createIsolation string
	createProfile   string
)

func init() {
	createCmd.Flags().StringVarP(&createIsolation, "isolation", "i", "", "Isolation level (minimal, standard, strict, maximum)")
	createCmd.Flags().StringVarP(&createProfile, "profile", "p", "", "Security profile name (see 'clonebox profiles')")
	rootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	req, err := application.CreateRequest(args[0], args[1], createIsolation, createProfile)
	if err != nil {
		return err
	}

	sb, err := application.Manager.Create(commandContext(cmd), req)
	if err != nil {
		return err
	}

	logSuccess("Created sandbox %s", sb.ID)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "  Clone:     %s/%s\n", sb.CloneID, sb.PackageName)
	fmt.Fprintf(out, "  Isolation: %s\n", sb.IsolationLevel)
	fmt.Fprintf(out, "  Root:      %s\n", sb.RootPath)
	fmt.Fprintf(out, "  Quota:     %s\n", humanize.IBytes(uint64(sb.StorageLimit())))
	return nil
}
