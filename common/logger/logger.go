// Package logger provides the zap based logging used by docfs. Applications describe where and how
// verbosely to log with a Config and get back a Logger whose level can be changed at runtime.
package logger

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"reflect"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is a wrapper around zap.Logger that keeps a handle on the level so it can be adjusted
// after the logger was created.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// Config represents the configuration for a Logger.
type Config struct {
	Type            supportedLogTypes `mapstructure:"type"`
	File            string            `mapstructure:"file"`
	Level           int8              `mapstructure:"level"`
	MaxSize         int               `mapstructure:"max-size"`
	NumRotatedFiles int               `mapstructure:"num-rotated-files"`
	Developer       bool              `mapstructure:"developer"`
}

type supportedLogTypes string

const (
	StdOut  supportedLogTypes = "stdout"
	StdErr  supportedLogTypes = "stderr"
	LogFile supportedLogTypes = "logfile"
)

// SupportedLogTypes is used for help text and validation. Any new log type must be added here.
var SupportedLogTypes = []supportedLogTypes{
	StdOut,
	StdErr,
	LogFile,
}

// New returns new logger based on the provided configuration.
func New(newConfig Config) (*Logger, error) {

	logMgr := Logger{}

	// The zap development configuration ignores the level and adds stack traces at warn and above.
	if newConfig.Developer {
		logMgr.level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = logMgr.level
		if newConfig.Type == StdOut {
			cfg.OutputPaths = []string{"stdout"}
		}
		l, err := cfg.Build()
		if err != nil {
			return nil, err
		}
		logMgr.Logger = l
		return &logMgr, nil
	}

	zapConfig := zap.NewProductionEncoderConfig()
	zapConfig.TimeKey = "timestamp"
	zapConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapEncoder := zapcore.NewConsoleEncoder(zapConfig)

	zapLevel, err := getLevel(newConfig.Level)
	if err != nil {
		return nil, err
	}
	logMgr.level = zap.NewAtomicLevelAt(zapLevel)

	var logDestination zapcore.WriteSyncer
	switch newConfig.Type {
	case StdOut:
		logDestination = zapcore.AddSync(os.Stdout)
	case StdErr, "":
		logDestination = zapcore.Lock(os.Stderr)
	case LogFile:
		// Rotation needs to create new files next to the log file, so just being able to open the
		// log file is not enough.
		if err := ensureLogsAreWritable(newConfig.File); err != nil {
			return nil, err
		}
		logDestination = zapcore.AddSync(&lumberjack.Logger{
			Filename:   newConfig.File,
			MaxSize:    newConfig.MaxSize,
			MaxBackups: newConfig.NumRotatedFiles,
		})
	default:
		return nil, fmt.Errorf("unsupported log type: %s (supported types: %v)", newConfig.Type, SupportedLogTypes)
	}

	logMgr.Logger = zap.New(zapcore.NewCore(zapEncoder, logDestination, logMgr.level))
	return &logMgr, nil
}

// SetLevel changes the level of an existing logger. Developer loggers always stay at debug.
func (lm *Logger) SetLevel(level int8) error {
	log := lm.Logger.With(zap.String("component", path.Base(reflect.TypeOf(Logger{}).PkgPath())))
	newLevel, err := getLevel(level)
	if err != nil {
		return err
	}
	if lm.level.Level() == newLevel {
		log.Debug("no change to log level")
		return nil
	}
	lm.level.SetLevel(newLevel)
	log.Log(newLevel, "set log level", zap.Any("logLevel", newLevel))
	return nil
}

// getLevel maps the numeric verbosity used on the command line (0 = least verbose) to zap levels.
func getLevel(newLevel int8) (zapcore.Level, error) {
	switch newLevel {
	case 0:
		return zapcore.FatalLevel, nil
	case 1:
		return zapcore.ErrorLevel, nil
	case 2:
		return zapcore.WarnLevel, nil
	case 3:
		return zapcore.InfoLevel, nil
	case 4, 5:
		return zapcore.DebugLevel, nil
	default:
		// Returning zapcore.InvalidLevel could cause a panic if a caller ignores the error.
		return zapcore.InfoLevel, fmt.Errorf("the provided log level (%d) is invalid (must be between 0 and 5)", newLevel)
	}
}

func ensureLogsAreWritable(file string) error {
	if file == "" {
		return fmt.Errorf("a log file must be specified when logging to a file")
	}
	dir := filepath.Dir(file)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("unable to create log directory %s: %w", dir, err)
	}
	check, err := os.CreateTemp(dir, ".docfs-log-check-*")
	if err != nil {
		return fmt.Errorf("log directory %s is not writable: %w", dir, err)
	}
	check.Close()
	return os.Remove(check.Name())
}
