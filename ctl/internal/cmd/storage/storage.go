package storage

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/thinkparq/docfs/ctl/internal/cmdfmt"
	"github.com/thinkparq/docfs/ctl/internal/util"
	"github.com/thinkparq/docfs/ctl/pkg/config"
	"github.com/thinkparq/docfs/ctl/pkg/ctl/store"
)

func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Manage the file storage as a whole",
	}
	cmd.AddCommand(newInfoCmd(), newFormatCmd(), newImportCmd(), newExportCmd())
	return cmd
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "info",
		Aliases: []string{"init"},
		Short:   "Initialize the file storage if needed and print details about it",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := store.GetInfo(cmd.Context())
			if err != nil {
				return util.NewStorageCtlError(err)
			}
			raw := viper.GetBool(config.RawKey)
			columns := []string{"instance id", "created", "version", "first run", "separator", "id prefix", "entries", "files", "size"}
			tbl := cmdfmt.NewPrintomatic(columns, columns)
			var created any = info.Created.Local().Format(time.DateTime)
			if raw {
				created = info.Created.UnixMilli()
			}
			tbl.AddItem(
				info.InstanceID,
				created,
				info.Version,
				info.FirstRun,
				info.Separator,
				info.IDPrefix,
				info.Entries,
				info.Files,
				util.FormatSize(info.Bytes, raw),
			)
			tbl.PrintRemaining()
			return nil
		},
	}
}

func newFormatCmd() *cobra.Command {
	var execute bool
	cmd := &cobra.Command{
		Use:   "format",
		Short: "Remove every file and directory",
		Long: `Remove every file and directory from the file storage. The storage stays initialized and other data kept in the same database is not touched.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !execute {
				info, err := store.GetInfo(cmd.Context())
				if err != nil {
					return util.NewStorageCtlError(err)
				}
				fmt.Printf("Dry run: %d entries would be removed. Specify --yes to format the file storage.\n", info.Entries)
				return nil
			}
			if err := store.Format(cmd.Context()); err != nil {
				return util.NewStorageCtlError(err)
			}
			fmt.Println("File storage formatted.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&execute, "yes", false, "This command is destructive and by default runs in dry-run mode. Specify --yes for it to actually take action.")
	return cmd
}

func newImportCmd() *cobra.Command {
	cfg := store.TransferCfg{}
	cmd := &cobra.Command{
		Use:   "import <local-path> <path>",
		Short: "Copy a local file or directory tree into the file storage",
		Long: `Copy a local file or directory tree into the file storage.

The content of <local-path> is placed under <path>, missing directories are created. Existing files are only replaced with --replace.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Source, cfg.Dest = args[0], args[1]
			count, err := store.Import(cmd.Context(), cfg)
			cmdfmt.Printf("Imported entries: %d\n", count)
			if err != nil {
				return util.NewStorageCtlError(err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&cfg.Replace, "replace", false, "Replace files that already exist in the file storage.")
	return cmd
}

func newExportCmd() *cobra.Command {
	cfg := store.TransferCfg{}
	cmd := &cobra.Command{
		Use:   "export <path> <local-dir>",
		Short: "Copy a file or directory tree from the file storage to a local directory",
		Long: `Copy a file or directory tree from the file storage into <local-dir>. The last element of <path> is kept, use "" to export everything.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Source, cfg.Dest = args[0], args[1]
			count, err := store.Export(cmd.Context(), cfg)
			cmdfmt.Printf("Exported entries: %d\n", count)
			if err != nil {
				return util.NewStorageCtlError(err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&cfg.Replace, "replace", false, "Replace local files that already exist.")
	return cmd
}
