package entry

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/thinkparq/docfs/ctl/internal/util"
	"github.com/thinkparq/docfs/ctl/pkg/ctl/entry"
)

func newMkdirCmd() *cobra.Command {
	var parents bool
	cmd := &cobra.Command{
		Use:   "mkdir <path> [<path>] ...",
		Short: "Create directories",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("missing <path> argument. Usage: %s", cmd.Use)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := entry.MakeDirs(cmd.Context(), args, parents)
			if err != nil {
				return util.NewStorageCtlError(err)
			}
			return printResults(results, "created", "exists")
		},
	}
	cmd.Flags().BoolVarP(&parents, "parents", "p", false, "Create missing parent directories. Directories that already exist are not an error.")
	return cmd
}

type rmdirCfg struct {
	recursive bool
	confirm   bool
}

func newRmdirCmd() *cobra.Command {
	cfg := rmdirCfg{}
	cmd := &cobra.Command{
		Use:   "rmdir <path> [<path>] ...",
		Short: "Remove directories",
		Long: `Remove empty directories.

With --recursive a directory is removed together with everything beneath it. Children are removed in parallel and the directory is only removed if all of them were.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("missing <path> argument. Usage: %s", cmd.Use)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.recursive && !cfg.confirm {
				return fmt.Errorf("removing a directory tree cannot be undone, specify --yes to confirm")
			}
			results, err := entry.RemoveDirs(cmd.Context(), args, cfg.recursive)
			if err != nil {
				return util.NewStorageCtlError(err)
			}
			return printResults(results, "removed", "not removed")
		},
	}
	cmd.Flags().BoolVarP(&cfg.recursive, "recursive", "r", false, "Remove directories that are not empty including everything beneath them.")
	cmd.Flags().BoolVar(&cfg.confirm, "yes", false, "Required to acknowledge recursive removals.")
	return cmd
}
