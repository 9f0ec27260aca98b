package cmd

import (
	"github.com/spf13/cobra"

	"github.com/firefly-engineering/clonebox/internal/errors"
)

var destroyCmd = &cobra.Command{
	Use:   "destroy <sandbox-id>...",
	Short: "Destroy one or more sandboxes",
	Long: `Stops the sandbox's workloads, removes its directory tree and deletes
its descriptor. A sandbox whose tree cannot be removed stays registered
so the destroy can be retried.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDestroy,
}

func init() {
	rootCmd.AddCommand(destroyCmd)
}

func runDestroy(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	var errs []error
	for _, id := range args {
		ok, err := application.Manager.Destroy(ctx, id)
		switch {
		case err != nil:
			logWarning("Failed to destroy %s: %v", id, err)
			errs = append(errs, err)
		case !ok:
			errs = append(errs, errors.SandboxNotFound(id))
		default:
			logSuccess("Destroyed sandbox %s", id)
		}
	}
	if len(errs) == 1 {
		return errs[0]
	}
	return errors.Join(errs...)
}
