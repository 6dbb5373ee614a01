package entry

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/thinkparq/docfs/ctl/internal/util"
	"github.com/thinkparq/docfs/ctl/pkg/ctl/entry"
)

type getCfg struct {
	output string
	force  bool
}

func newGetCmd() *cobra.Command {
	frontendCfg := getCfg{}
	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Print the content of a file",
		Long: `Print the content of a file to stdout, or write it to a local file using --out.

Content that is not text is only written to a terminal with --force.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGetCmd(cmd, args[0], frontendCfg)
		},
	}

	cmd.Flags().StringVarP(&frontendCfg.output, "out", "o", "", "Write the content to this local file instead of stdout.")
	cmd.Flags().BoolVar(&frontendCfg.force, "force", false, "Write content that is not text to a terminal or replace an existing local file.")
	return cmd
}

func runGetCmd(cmd *cobra.Command, path string, frontendCfg getCfg) error {
	file, err := entry.GetFile(cmd.Context(), path)
	if err != nil {
		return util.NewStorageCtlError(err)
	}

	if frontendCfg.output == "" {
		if !frontendCfg.force && util.IsTerminal(os.Stdout) && !isText(file.MimeType) {
			return fmt.Errorf("refusing to write %s content to a terminal (hint: use --out or --force)", file.MimeType)
		}
		_, err = os.Stdout.Write(file.Payload)
		return err
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if frontendCfg.force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(frontendCfg.output, flags, 0o644)
	if err != nil {
		return err
	}
	if _, err = f.Write(file.Payload); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func isText(mimeType string) bool {
	return strings.HasPrefix(mimeType, "text/") ||
		strings.HasSuffix(mimeType, "json") ||
		strings.HasSuffix(mimeType, "xml") ||
		strings.HasSuffix(mimeType, "yaml")
}
