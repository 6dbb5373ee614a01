package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/thinkparq/docfs/common/blobstore"
	"github.com/thinkparq/docfs/common/kvstore"
	"github.com/thinkparq/docfs/common/logger"
	"github.com/thinkparq/docfs/common/types"
	"github.com/thinkparq/docfs/common/vfs"
	"go.uber.org/zap"
)

// Viper keys for the global config. Should be used when accessing it instead of raw strings.
// Currently these are also used by the frontend for command line flag and env variable names.
const (
	// Directory of the badger database holding the file storage.
	DBPathKey = "db-path"
	// Keep the database in memory only. Everything is lost when the command exits, mostly useful
	// for trying things out and for tests.
	DBInMemoryKey = "db-in-memory"
	// Sync every write to disk before returning.
	DBSyncWritesKey = "db-sync-writes"
	// The separator used between path elements.
	FSSeparatorKey = "fs-separator"
	// Prefix of the document IDs of file entries. Storages with different prefixes can share one
	// database without seeing each other's entries.
	FSIDPrefixKey = "fs-id-prefix"
	// Bucket used to store large payloads. Payloads are kept in the database if unset.
	S3BucketKey      = "s3-bucket"
	S3EndpointURLKey = "s3-endpoint-url"
	S3RegionKey      = "s3-region"
	S3PrefixKey      = "s3-prefix"
	S3AccessKeyKey   = "s3-access-key"
	S3SecretKeyKey   = "s3-secret-key"
	S3PathStyleKey   = "s3-path-style"
	// Payloads of at least this many bytes are stored in the bucket.
	S3ThresholdKey = "s3-threshold"
	// An optional config file. Flags and environment variables take precedence.
	ConfigFileKey = "config"
	// Prints values in their raw, base form, without adding units and SI/IEC prefixes. Durations
	// excluded.
	RawKey = "raw"
	// Tells the command to print additional, normally hidden info such as document revisions.
	DebugKey = "debug"
	// The maximum number of workers to use when a command can complete work in parallel
	NumWorkersKey = "num-workers"
	// Set the log level (0 - least verbosity, 5 - highest verbosity).
	LogLevelKey = "log-level"
	// Sets up a reasonable default development logging configuration. Logging is enabled at
	// DebugLevel and above, and uses a console encoder. Logs are written to standard error.
	// Stacktraces are included on logs of WarnLevel and above. DPanicLevel logs will panic.
	LogDeveloperKey = "log-developer"
	// Write logs to this file instead of stderr. The file is rotated by size.
	LogFileKey = "log-file"
	// Print the storage metrics collected while running the command to stderr before exiting.
	MetricsKey = "metrics"
	// Print only the given columns of a table. Applied automatically when cmdfmt.NewTable() is used.
	// "all" prints all available columns, not only the default ones.
	ColumnsKey = "columns"
	// Determines the number of rows to be printed before the header is repeated. Also determines
	// how often output is actually flushed to stdout. Not applied automatically. If set to 0,
	// should not print a header at all and flush each row automatically (this requires NOT using
	// the go-pretty table printer and just print columns separated by spaces).
	PageSizeKey = "page-size"
	OutputKey   = "output"
)

// Viper values for certain configuration values.
const (
	// DefaultDBName is the name of the database directory when the path is not configured.
	DefaultDBName      = "fileStorage"
	DefaultS3Threshold = "1MiB"
)

// OutputType is used to control what type of structured output should be printed.
type OutputType string

const (
	OutputTable      OutputType = "table"
	OutputJSON       OutputType = "json"
	OutputJSONPretty OutputType = "json-pretty"
	OutputNDJSON     OutputType = "ndjson"
)

var (
	OutputOptions = []fmt.Stringer{OutputTable, OutputJSON, OutputJSONPretty, OutputNDJSON}
)

func (t OutputType) String() string {
	switch t {
	case OutputTable:
		return "table"
	case OutputJSON:
		return "json"
	case OutputJSONPretty:
		return "json-pretty"
	case OutputNDJSON:
		return "ndjson"
	default:
		return "unknown"
	}
}

// GlobalConfig is used with InitViperFromExternal when the CTL backend is consumed as a library.
// It should be kept in sync with any global configuration needed to use CTL as a library.
type GlobalConfig struct {
	DBPath     string
	InMemory   bool
	IDPrefix   string
	Separator  string
	LogLevel   int8
	NumWorkers int
}

// InitViperFromExternal is used when the CTL backend is consumed as a library by applications other
// than the CTL CLI frontend. It initializes the backend Viper config singleton from externally
// defined configuration.
func InitViperFromExternal(cfg GlobalConfig) {
	if cfg.NumWorkers < 1 {
		cfg.NumWorkers = runtime.GOMAXPROCS(0)
	}

	globalFlagSet := pflag.FlagSet{}
	globalFlagSet.String(DBPathKey, cfg.DBPath, "")
	globalFlagSet.Bool(DBInMemoryKey, cfg.InMemory, "")
	globalFlagSet.String(FSIDPrefixKey, cfg.IDPrefix, "")
	globalFlagSet.String(FSSeparatorKey, cfg.Separator, "")
	globalFlagSet.Int(NumWorkersKey, cfg.NumWorkers, "")
	globalFlagSet.Int8(LogLevelKey, cfg.LogLevel, "")

	viper.SetEnvPrefix("docfs")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	globalFlagSet.VisitAll(func(flag *pflag.Flag) {
		viper.BindEnv(flag.Name)
		viper.BindPFlag(flag.Name, flag)
	})
}

// decodeSection decodes all settings whose key starts with prefix into out. The prefix is
// stripped, so "s3-bucket" is decoded into the field tagged `mapstructure:"bucket"`.
func decodeSection(prefix string, out any) error {
	settings := map[string]any{}
	for _, key := range viper.AllKeys() {
		if name, ok := strings.CutPrefix(key, prefix); ok {
			settings[name] = viper.Get(key)
		}
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(settings); err != nil {
		return fmt.Errorf("invalid %s* configuration: %w", prefix, err)
	}
	return nil
}

// The global storage singleton
var (
	storage    *vfs.Storage
	setupInfo  *vfs.SetupInfo
	closeStore func() error
	registry   *prometheus.Registry
)

// storageMu is used to coordinate initialization of the storage.
var storageMu sync.Mutex

// Storage returns the global file storage, opening the database and running the idempotent setup
// on first call. Thread safe so multiple goroutines may call it simultaneously and only the first
// call will open the database.
func Storage(ctx context.Context) (*vfs.Storage, error) {
	storageMu.Lock()
	defer storageMu.Unlock()
	if storage != nil {
		return storage, nil
	}

	log, err := GetLogger()
	if err != nil {
		return nil, err
	}

	dbCfg := kvstore.Config{}
	if err := decodeSection("db-", &dbCfg); err != nil {
		return nil, err
	}
	if !dbCfg.InMemory && dbCfg.Path == "" {
		return nil, fmt.Errorf("no database was specified, set --%s or --%s", DBPathKey, DBInMemoryKey)
	}

	var blobs kvstore.BlobStore
	s3Cfg := blobstore.S3Config{}
	if err := decodeSection("s3-", &s3Cfg); err != nil {
		return nil, err
	}
	if s3Cfg.Bucket != "" {
		s3, err := blobstore.NewS3(ctx, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("unable to configure the payload bucket: %w", err)
		}
		blobs = s3
		log.Debug("storing large payloads in S3", zap.String("bucket", s3Cfg.Bucket), zap.Int64("threshold", viper.GetInt64(S3ThresholdKey)))
	}

	store, closeDB, err := kvstore.NewDocStore[vfs.Fields](
		dbCfg.BadgerOptions(logger.NewBadgerLoggerBridge(DefaultDBName, log.Logger)),
		kvstore.WithLogger(log.Logger),
		kvstore.WithBlobStore(blobs, int(viper.GetInt64(S3ThresholdKey))),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to open the database: %w", err)
	}

	fsCfg := vfs.Config{}
	if err := decodeSection("fs-", &fsCfg); err != nil {
		closeDB()
		return nil, err
	}
	if fsCfg.RemoveWorkers == 0 {
		fsCfg.RemoveWorkers = viper.GetInt(NumWorkersKey)
	}
	opts, err := fsCfg.Options()
	if err != nil {
		closeDB()
		return nil, err
	}
	registry = prometheus.NewRegistry()
	opts = append(opts, vfs.WithLogger(log.Logger), vfs.WithMetrics(vfs.NewMetrics(registry)))

	s, info, err := vfs.Open(ctx, store, opts...)
	if err != nil {
		closeDB()
		return nil, err
	}
	if info.FirstRun {
		log.Info("initialized new file storage", zap.String("instanceID", info.InstanceID), zap.String("path", dbCfg.Path))
	}
	storage, setupInfo, closeStore = s, info, closeDB
	return storage, nil
}

// StorageInfo returns what was recorded when the storage was first set up. Storage() must have been
// called first.
func StorageInfo() *vfs.SetupInfo {
	storageMu.Lock()
	defer storageMu.Unlock()
	return setupInfo
}

// WriteMetrics writes all metrics collected by the global storage in the Prometheus text format.
func WriteMetrics(w io.Writer) error {
	if registry == nil {
		return nil
	}
	families, err := registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// Resets the global state and frees resources
func Cleanup() error {
	storageMu.Lock()
	defer storageMu.Unlock()
	multiErr := types.MultiError{}
	if viper.GetBool(MetricsKey) {
		multiErr.Add(WriteMetrics(os.Stderr))
	}
	if closeStore != nil {
		multiErr.Add(closeStore())
	}
	storage, setupInfo, closeStore, registry = nil, nil, nil, nil
	if globalLogger != nil {
		globalLogger.Sync()
	}
	return multiErr.ErrorOrNil()
}

var globalLogger *logger.Logger

// Returns a global logger that logs to stderr (or the log file if one was configured). Don't rely
// solely on the logger to communicate important information to the user since all non-fatal log
// messages are disabled by default. The logger DOES NOT replace the need to return meaningful
// errors.
//
// When logging keep in mind it is bad practice to both log and return an error. Instead the logger
// should be used to add additional context, typically at the debug level, for what operations led
// up to some error being returned.
//
// The returned logger is never nil. If the configured log file cannot be used the error is returned
// together with a stderr logger, so callers that only need a logger may ignore it. The fallback is
// not cached and every call reports the error again.
func GetLogger() (*logger.Logger, error) {
	var invalidLogLevel = false
	if globalLogger == nil {
		logLevel := viper.GetInt(LogLevelKey)
		if logLevel < 0 || logLevel > 5 {
			// If the user gave an invalid log level ignore it and set logging to the highest
			// verbosity. This means we can generally always return a valid logger so most callers
			// don't need to check for an error from GetLogger().
			logLevel = 5
			invalidLogLevel = true
		}
		logCfg := logger.Config{
			Level:     int8(logLevel),
			Type:      logger.StdErr,
			Developer: viper.GetBool(LogDeveloperKey),
		}
		if file := viper.GetString(LogFileKey); file != "" {
			logCfg.Type = logger.LogFile
			logCfg.File = file
		}
		l, err := logger.New(logCfg)
		if err != nil {
			logCfg.Type = logger.StdErr
			fallback, fallbackErr := logger.New(logCfg)
			if fallbackErr != nil {
				fallback = &logger.Logger{Logger: zap.NewNop()}
			}
			return fallback, fmt.Errorf("unable to set up logging to %q: %w", logCfg.File, err)
		}
		globalLogger = l
		if invalidLogLevel {
			globalLogger.Debug("enabling debug logging and ignoring user provided log level (was not in the range 0-5)")
		}
	}
	return globalLogger, nil
}
