package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/thinkparq/docfs/ctl/internal/util"
	"github.com/thinkparq/docfs/ctl/pkg/config"
)

// This package handles the global command line tool config - the global flags, environment
// variable bindings and config file handling.

// defaultDBPath returns the database location used when --db-path is not specified.
func defaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return config.DefaultDBName
	}
	return filepath.Join(dir, "docfs", config.DefaultDBName)
}

// Defines all the global flags and binds them to the backends config singleton
func InitGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().Bool(config.DebugKey, false, "Print additional details that are normally hidden.")

	cmd.PersistentFlags().Bool(config.RawKey, false, "Print raw values without SI or IEC prefixes (except durations).")

	cmd.PersistentFlags().String(config.ConfigFileKey, "", `Read additional configuration from this file (TOML, YAML or JSON).
	Keys are the same as the long flag names. Flags and environment variables take precedence.`)

	cmd.PersistentFlags().String(config.DBPathKey, defaultDBPath(), "The directory containing the file storage database. Created if it does not exist.")
	cmd.PersistentFlags().Bool(config.DBInMemoryKey, false, "Use a temporary in-memory database. Nothing is persisted after the command exits.")
	cmd.PersistentFlags().MarkHidden(config.DBInMemoryKey)
	cmd.PersistentFlags().Bool(config.DBSyncWritesKey, false, "Sync every write to disk before returning.")

	cmd.PersistentFlags().String(config.FSIDPrefixKey, "file_", "The document ID prefix of file entries. Must not contain ':'. Storages with different prefixes can share one database.")
	cmd.PersistentFlags().String(config.FSSeparatorKey, "/", "The separator between path elements. Must be a single character.")

	cmd.PersistentFlags().String(config.S3BucketKey, "", "Store large file contents in this S3 bucket instead of the database.")
	cmd.PersistentFlags().String(config.S3EndpointURLKey, "", "The endpoint of an S3 compatible server. Leave empty to use AWS.")
	cmd.PersistentFlags().String(config.S3RegionKey, "us-east-1", "The region of the S3 bucket.")
	cmd.PersistentFlags().String(config.S3PrefixKey, "", "Prefix prepended to every object key in the S3 bucket.")
	cmd.PersistentFlags().String(config.S3AccessKeyKey, "", "S3 access key. Leave empty to use the default AWS credential chain.")
	cmd.PersistentFlags().String(config.S3SecretKeyKey, "", "S3 secret key.")
	cmd.PersistentFlags().Bool(config.S3PathStyleKey, false, "Use path style addressing (required by most S3 compatible servers).")
	var s3Threshold int64
	util.I64BytesVar(cmd.PersistentFlags(), &s3Threshold, config.S3ThresholdKey, "", config.DefaultS3Threshold, fmt.Sprintf("File contents of at least this size are stored in the bucket (ignored without --%s).", config.S3BucketKey))

	cmd.PersistentFlags().Int(config.NumWorkersKey, runtime.GOMAXPROCS(0), "The maximum number of workers to use when a command can complete work in parallel (default: number of CPUs).")

	cmd.PersistentFlags().Int8(config.LogLevelKey, 0, fmt.Sprintf(`By default all logging is disabled except for fatal errors.
	Optionally additional logging to stderr can be enabled to assist with debugging (0=Fatal, 1=Error, 2=Warn, 3=Info, 4+5=Debug).
	When enabling logging you may wish to set --%s=0 to ensure output and log messages are synchronized.`, config.PageSizeKey))

	cmd.PersistentFlags().Bool(config.LogDeveloperKey, false, "Enable logging at DebugLevel and above and print stack traces at WarnLevel and above.")
	cmd.PersistentFlags().MarkHidden(config.LogDeveloperKey)
	cmd.PersistentFlags().String(config.LogFileKey, "", "Write logs to this file instead of stderr.")

	cmd.PersistentFlags().Bool(config.MetricsKey, false, "Print the storage metrics collected while running the command to stderr before exiting.")

	cmd.PersistentFlags().Var(util.ValidatedStringFlag(config.OutputOptions, config.OutputTable), config.OutputKey, fmt.Sprintf("How structured output is printed (one of: %v).", config.OutputOptions))
	cmd.PersistentFlags().StringSlice(config.ColumnsKey, []string{}, `The table columns to print. Specify 'all' to print all available columns.`)
	cmd.PersistentFlags().Uint(config.PageSizeKey, 100, `The number of table rows before the header is repeated and the output is flushed to stdout.
	If set to 0, prints no header and immediately flushes every row.`)

	// Environment variables should start with DOCFS_
	viper.SetEnvPrefix("docfs")
	// Environment variables cannot use "-", replace with "_"
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Bind all persistent pflags to viper
	cmd.PersistentFlags().VisitAll(func(flag *pflag.Flag) {
		viper.BindEnv(flag.Name)
		viper.BindPFlag(flag.Name, flag)
	})
}

// ReadConfigFile reads the config file if one was specified. It must be called after flags were
// parsed.
func ReadConfigFile() error {
	file := viper.GetString(config.ConfigFileKey)
	if file == "" {
		return nil
	}
	viper.SetConfigFile(file)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("unable to read config file %q: %w", file, err)
	}
	return nil
}

func Cleanup() error {
	return config.Cleanup()
}
