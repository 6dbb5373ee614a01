package entry

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/thinkparq/docfs/common/types"
	"github.com/thinkparq/docfs/ctl/internal/util"
	"github.com/thinkparq/docfs/ctl/pkg/ctl/entry"
	ctlUtil "github.com/thinkparq/docfs/ctl/pkg/util"
)

type infoCfg struct {
	stdinDelimiter string
	recurse        bool
}

func newInfoCmd() *cobra.Command {
	frontendCfg := infoCfg{}
	backendCfg := entry.GetEntriesCfg{}
	cmd := &cobra.Command{
		Use:   "info <path> [<path>] ...",
		Short: "Get details about one or more entries",
		Long: `Get details about one or more entries.

Specifying Paths:
Multiple entries can be provided using stdin by specifying '-' as the path (example: 'cat file_list.txt | docfs entry info -').`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("missing <path> argument. Usage: %s", cmd.Use)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfoCmd(cmd, args, frontendCfg, backendCfg)
		},
	}

	cmd.Flags().BoolVar(&frontendCfg.recurse, "recurse", false, "When <path> is a single directory print information about it and all entries beneath it.")
	// The same default used for stdin-delimiter to allow the help output to print correctly can't
	// be used directly. If the default changes update where this is set in GetStdinDelimiterFromString.
	cmd.Flags().StringVar(&frontendCfg.stdinDelimiter, "stdin-delimiter", "\n", "Change the string delimiter used to determine individual paths when read from stdin (e.g., --stdin-delimiter=\"\\x00\" for NULL).")
	cmd.Flags().StringVar(&backendCfg.FilterExpr, "filter", "", filterHelp)
	return cmd
}

func runInfoCmd(cmd *cobra.Command, args []string, frontendCfg infoCfg, backendCfg entry.GetEntriesCfg) error {
	method, err := ctlUtil.DeterminePathInputMethod(args, frontendCfg.recurse, frontendCfg.stdinDelimiter)
	if err != nil {
		return err
	}

	entriesChan, errChan, err := entry.GetEntries(cmd.Context(), method, backendCfg)
	if err != nil {
		return util.NewStorageCtlError(err)
	}
	tbl := newEntryPrinter()
	defer tbl.PrintRemaining()

	var multiErr types.MultiError
run:
	for {
		select {
		case e, ok := <-entriesChan:
			if !ok {
				break run
			}
			tbl.AddItem(assembleEntryRow(e)...)
		case err, ok := <-errChan:
			if ok {
				// Once an error happens the entriesChan will be closed, however this is a buffered
				// channel so there may still be valid entries we should finish printing before
				// returning the error.
				multiErr.Add(err)
			}
		}
	}
	// An error may still be waiting if the entriesChan was drained first.
	select {
	case err := <-errChan:
		multiErr.Add(err)
	default:
	}

	if err := multiErr.ErrorOrNil(); err != nil {
		return util.NewStorageCtlError(err)
	}
	return nil
}
