package entry

import (
	"github.com/spf13/cobra"
)

func NewEntryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "entry",
		Aliases: []string{"entries"},
		Short:   "Interact with files and directories in the file storage",
	}

	cmd.AddCommand(
		newListCmd(),
		newInfoCmd(),
		newFindCmd(),
		newPutCmd(),
		newGetCmd(),
		newRemoveCmd(),
		newMkdirCmd(),
		newRmdirCmd(),
	)
	return cmd
}
