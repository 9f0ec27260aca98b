package cmd

import (
	"github.com/spf13/cobra"

	"github.com/firefly-engineering/clonebox/internal/errors"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Destroy every sandbox and reset the state directories",
	Long: `Destroys every registered sandbox. When all of them are gone the
sandboxes and descriptors directories are wiped and recreated empty.
If any destroy fails, nothing is wiped and the failures are reported.`,
	RunE: runClear,
}

var clearYes bool

func init() {
	clearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "Confirm destroying every sandbox")
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, args []string) error {
	if !clearYes {
		return errors.ValidationError("refusing to destroy every sandbox without --yes")
	}

	count := application.Manager.Count()
	ok, err := application.Manager.ClearAll(commandContext(cmd))
	if !ok {
		return err
	}
	logSuccess("Cleared %d sandbox(es)", count)
	return nil
}
