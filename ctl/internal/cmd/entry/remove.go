package entry

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/thinkparq/docfs/common/types"
	"github.com/thinkparq/docfs/ctl/internal/cmdfmt"
	"github.com/thinkparq/docfs/ctl/internal/util"
	"github.com/thinkparq/docfs/ctl/pkg/ctl/entry"
	ctlUtil "github.com/thinkparq/docfs/ctl/pkg/util"
)

type removeCfg struct {
	stdinDelimiter string
	recurse        bool
	confirm        bool
}

func newRemoveCmd() *cobra.Command {
	frontendCfg := removeCfg{}
	backendCfg := entry.RemoveCfg{}
	cmd := &cobra.Command{
		Use:   "rm <path> [<path>] ...",
		Short: "Remove files and optionally directory trees",
		Long: `Remove one or more files.

With --recurse a single directory is removed together with everything beneath it. When combined with --filter only matching entries are removed and directories that still have children are kept.
Multiple entries can be provided using stdin by specifying '-' as the path (example: 'docfs entry find "**/*.tmp" --output=ndjson | jq -r .path | docfs entry rm -').`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("missing <path> argument. Usage: %s", cmd.Use)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if frontendCfg.recurse && !frontendCfg.confirm {
				return fmt.Errorf("removing a directory tree cannot be undone, specify --yes to confirm")
			}
			return runRemoveCmd(cmd, args, frontendCfg, backendCfg)
		},
	}

	cmd.Flags().BoolVarP(&frontendCfg.recurse, "recurse", "r", false, "When <path> is a single directory remove it and all entries beneath it.")
	cmd.Flags().BoolVar(&frontendCfg.confirm, "yes", false, "Required to acknowledge recursive removals.")
	cmd.Flags().StringVar(&frontendCfg.stdinDelimiter, "stdin-delimiter", "\n", "Change the string delimiter used to determine individual paths when read from stdin (e.g., --stdin-delimiter=\"\\x00\" for NULL).")
	cmd.Flags().StringVar(&backendCfg.FilterExpr, "filter", "", filterHelp)
	return cmd
}

func runRemoveCmd(cmd *cobra.Command, args []string, frontendCfg removeCfg, backendCfg entry.RemoveCfg) error {
	method, err := ctlUtil.DeterminePathInputMethod(args, frontendCfg.recurse, frontendCfg.stdinDelimiter)
	if err != nil {
		return err
	}
	resultsChan, errChan, err := entry.RemoveEntries(cmd.Context(), method, backendCfg)
	if err != nil {
		return util.NewStorageCtlError(err)
	}

	tbl := cmdfmt.NewPrintomatic([]string{"path", "result"}, []string{"path", "result"})
	multiErr := &types.MultiError{}
	total, removed := 0, 0
	var fatal error
run:
	for {
		select {
		case result, ok := <-resultsChan:
			if !ok {
				break run
			}
			total++
			if result.Changed {
				removed++
			}
			addResult(&tbl, multiErr, result, "removed", "not removed")
		case err, ok := <-errChan:
			if ok {
				fatal = err
			}
		}
	}
	select {
	case err := <-errChan:
		fatal = err
	default:
	}
	tbl.PrintRemaining()
	cmdfmt.Printf("Summary: removed entries: %d | total entries: %d\n", removed, total)

	if fatal != nil {
		return util.NewStorageCtlError(fatal)
	}
	return resultsError(multiErr, total)
}
