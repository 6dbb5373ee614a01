package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/thinkparq/docfs/common/vfs"
	"github.com/thinkparq/docfs/ctl/pkg/config"
)

var (
	BinaryName = "docfs"
	Version    = "local-build"
	Commit     = "unknown"
	BuildTime  = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the command line tool version.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Version: %s | Commit %s | Built: %s\n", Version, Commit, BuildTime)
		fmt.Printf("Storage format version: %s\n", vfs.Version)

		if viper.GetBool(config.DebugKey) {
			fmt.Println("\nDebug Info:")
			fmt.Printf("* Database path: %s\n", viper.GetString(config.DBPathKey))
			fmt.Printf("* Path separator: %q | ID prefix: %q\n", viper.GetString(config.FSSeparatorKey), viper.GetString(config.FSIDPrefixKey))
		}
	},
}
