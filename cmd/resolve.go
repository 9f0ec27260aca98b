package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/clonebox/internal/errors"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <clone-id> <package> <location> [name]",
	Short: "Print the absolute path of a location inside a clone's sandbox",
	Long: `Resolves a logical location of a clone's sandbox to an absolute path.
When a clone has several sandboxes, the newest live one is used.

Locations:
  root                 Sandbox root directory
  files                Private files directory
  cache                Cache directory
  external [type]      External files directory, or its typed subdirectory
  database <name>      Database file
  prefs <name>         Shared preferences file (.xml is appended if missing)
  custom <name>        app_<name> directory under the data directory

Paths embed the sandbox id; resolve again after a sandbox is recreated.`,
	Args: cobra.RangeArgs(3, 4),
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	clone, pkg, location := args[0], args[1], args[2]
	var name string
	if len(args) == 4 {
		name = args[3]
	}

	path, err := resolveLocation(clone, pkg, location, name)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func resolveLocation(clone, pkg, location, name string) (string, error) {
	r := application.Resolver
	switch location {
	case "root":
		sb, err := r.Sandbox(clone, pkg)
		if err != nil {
			return "", err
		}
		return sb.RootPath, nil
	case "files":
		return r.Files(clone, pkg)
	case "cache":
		return r.Cache(clone, pkg)
	case "external":
		return r.ExternalFiles(clone, pkg, name)
	case "database", "db":
		return r.Database(clone, pkg, name)
	case "prefs", "shared-prefs":
		return r.SharedPreferences(clone, pkg, name)
	case "custom":
		return r.Custom(clone, pkg, name)
	default:
		return "", errors.ValidationError(fmt.Sprintf("unknown location %q", location))
	}
}
