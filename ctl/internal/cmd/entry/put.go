package entry

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/thinkparq/docfs/ctl/internal/util"
	"github.com/thinkparq/docfs/ctl/pkg/config"
	"github.com/thinkparq/docfs/ctl/pkg/ctl/entry"
	"go.uber.org/zap"
)

func newPutCmd() *cobra.Command {
	backendCfg := entry.PutFileCfg{}
	cmd := &cobra.Command{
		Use:   "put <path> [<local-file>]",
		Short: "Add a file to the file storage",
		Long: `Add a file to the file storage.

The content is read from <local-file>, or from stdin if it is omitted or '-' (example: 'echo hello | docfs entry put greetings/hello.txt').
If --mime is not set the MIME type is derived from the extension of <path>.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			backendCfg.Path = args[0]
			source := "-"
			if len(args) == 2 {
				source = args[1]
			}
			return runPutCmd(cmd, source, backendCfg)
		},
	}

	cmd.Flags().BoolVar(&backendCfg.Overwrite, "overwrite", false, "Replace the file if it already exists.")
	cmd.Flags().BoolVarP(&backendCfg.Parents, "parents", "p", false, "Create missing parent directories.")
	cmd.Flags().StringVar(&backendCfg.MimeType, "mime", "", "The MIME type of the file.")
	cmd.Flags().StringVar(&backendCfg.Label, "label", "", "A free form label stored with the file.")
	return cmd
}

func runPutCmd(cmd *cobra.Command, source string, backendCfg entry.PutFileCfg) error {
	log, _ := config.GetLogger()
	if source == "-" {
		backendCfg.Source = os.Stdin
	} else {
		f, err := os.Open(source)
		if err != nil {
			return err
		}
		defer f.Close()
		if stat, err := f.Stat(); err != nil {
			return err
		} else if stat.IsDir() {
			return fmt.Errorf("%s is a directory (hint: use 'storage import' to copy directory trees)", source)
		}
		backendCfg.Source = f
	}
	log.Debug("adding file", zap.String("source", source), zap.String("path", backendCfg.Path))

	p, err := entry.PutFile(cmd.Context(), backendCfg)
	if err != nil {
		return util.NewStorageCtlError(err)
	}
	fmt.Printf("Added file: %s\n", p)
	return nil
}
