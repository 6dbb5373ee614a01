package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/thinkparq/docfs/ctl/internal/cmd/entry"
	"github.com/thinkparq/docfs/ctl/internal/cmd/storage"
	cmdConfig "github.com/thinkparq/docfs/ctl/internal/config"
	"github.com/thinkparq/docfs/ctl/internal/util"
	"github.com/thinkparq/docfs/ctl/pkg/config"
)

// Main entry point of the tool
func Execute() int {
	// This is the first line of the root help message. The separator below it is sized to match
	// since the version width may vary.
	longHelpHeader := fmt.Sprintf("docfs Command Line Tool: %s", Version)
	// The root command.
	cmd := &cobra.Command{
		Use:   BinaryName,
		Short: "Manage a hierarchical file storage kept in a document database.",
		Long: fmt.Sprintf(`%s
%s
This tool allows you to store, inspect, and organize files and directories kept in a local document database.

* View help for specific commands with "<command> help".
* The database is created on first use. Use "storage info" to check where it lives and what it contains.
* Configuration can be provided using flags, environment variables prefixed with DOCFS_, or a file passed with --config.
		`, longHelpHeader, strings.Repeat("=", len(longHelpHeader))),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cmdConfig.ReadConfigFile(); err != nil {
				return err
			}
			if viper.GetInt(config.NumWorkersKey) < 1 {
				return fmt.Errorf("the number of workers must be at least 1")
			}
			_, err := config.GetLogger()
			return err
		},
	}

	// Normalize flags to lowercase - makes the program accept case insensitive flags
	cmd.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		lowercaseFlagName := strings.ToLower(name)
		return pflag.NormalizedName(lowercaseFlagName)
	})

	// Initialize global config, it is read through viper by the ctl API.
	cmdConfig.InitGlobalFlags(cmd)
	defer cmdConfig.Cleanup()

	// Add subcommands
	cmd.AddCommand(versionCmd)
	cmd.AddCommand(entry.NewEntryCmd())
	cmd.AddCommand(storage.NewCmd())

	// Parse the given parameters and execute the selected command
	err := cmd.ExecuteContext(context.Background())
	if err != nil {
		// If the command returned a util.CtlError with an included exit code, use this to exit the
		// program
		var ctlError util.CtlError
		if errors.As(err, &ctlError) {
			return ctlError.GetExitCode()
		}

		return 1
	}

	return 0
}
