package entry

import (
	"github.com/spf13/cobra"
	"github.com/thinkparq/docfs/ctl/internal/util"
	"github.com/thinkparq/docfs/ctl/pkg/ctl/entry"
)

func newListCmd() *cobra.Command {
	backendCfg := entry.ListCfg{}
	cmd := &cobra.Command{
		Use:     "ls [<path>]",
		Aliases: []string{"list"},
		Short:   "List the contents of a directory",
		Long: `List the contents of a directory ordered by path. Without a path the root of the file storage is listed.

Listing a file prints only that file. Listing a path that does not exist prints nothing.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				backendCfg.Path = args[0]
			}
			entries, err := entry.ListEntries(cmd.Context(), backendCfg)
			if err != nil {
				return util.NewStorageCtlError(err)
			}
			tbl := newEntryPrinter()
			for _, e := range entries {
				tbl.AddItem(assembleEntryRow(e)...)
			}
			tbl.PrintRemaining()
			return nil
		},
	}

	cmd.Flags().BoolVarP(&backendCfg.Recurse, "recurse", "r", false, "List everything beneath the directory instead of only its immediate children.")
	cmd.Flags().StringVar(&backendCfg.FilterExpr, "filter", "", filterHelp)
	return cmd
}

func newFindCmd() *cobra.Command {
	backendCfg := entry.FindCfg{}
	cmd := &cobra.Command{
		Use:   "find <pattern>",
		Short: "Find entries whose path matches a glob pattern",
		Long: `Find entries whose path matches a glob pattern. Elements in the pattern are always separated by "/".

Use "*" to match within a single element and "**" to match any number of elements (example: 'docfs entry find "reports/**/*.csv"').
Quote the pattern to prevent the shell from expanding it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backendCfg.Pattern = args[0]
			entries, err := entry.FindEntries(cmd.Context(), backendCfg)
			if err != nil {
				return util.NewStorageCtlError(err)
			}
			tbl := newEntryPrinter()
			for _, e := range entries {
				tbl.AddItem(assembleEntryRow(e)...)
			}
			tbl.PrintRemaining()
			return nil
		},
	}

	cmd.Flags().StringVar(&backendCfg.FilterExpr, "filter", "", filterHelp)
	return cmd
}

const filterHelp = `Only include entries matching this expression.
Fields: path, name, label, type ("file" or "dir"), mime, size, depth, mtime.
Examples: 'size > 1MiB', 'mtime > 7d' (modified more than 7 days ago), 'name =~ "*.csv"', 'label =~ "^draft"'.`
