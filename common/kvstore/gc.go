package kvstore

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Removing or overwriting documents leaves stale entries in badger's value log that are only
// reclaimed by value log garbage collection. The runner below periodically triggers it while
// trying to stay out of the way when the system is busy.

type garbageCollector interface {
	RunValueLogGC(discardRatio float64) error
	IsClosed() bool
}

type systemLoadDetector interface {
	isSystemLoadHigh() (bool, float64, error)
}

var _ systemLoadDetector = &systemLoad{}

type systemLoad struct {
	// Normalized load (1 minute load average divided by the number of CPUs) at or above which
	// collection is deferred. Above 1.0 processes are waiting for CPU time.
	loadAverageThreshold float64
	readFile             func(string) ([]byte, error)
}

type badgerGarbageCollection struct {
	garbageCollector
	systemLoadDetector

	// Ensures only one runner is started.
	start chan struct{}
	log   *zap.Logger
	// Regular interval between collections.
	initialSleepDelaySec int
	// Once the (halved) interval drops below this, collection is no longer deferred.
	forcedGCThresholdSec int
	// Random noise added to each interval so several stores on one host don't collect together.
	sleepDelayNoiseSec int
	discardRatio       float64
	runnerCtx          context.Context
	runnerCtxCancel    context.CancelFunc
}

type badgerGarbageCollectionOpt func(*badgerGarbageCollection)

func NewBadgerGarbageCollection(db *badger.DB, log *zap.Logger, opts ...badgerGarbageCollectionOpt) *badgerGarbageCollection {
	gc := newBadgerGarbageCollection(log, opts...)
	gc.garbageCollector = db
	if gc.systemLoadDetector == nil {
		gc.systemLoadDetector = &systemLoad{loadAverageThreshold: 1.0, readFile: os.ReadFile}
	}
	return gc
}

func newBadgerGarbageCollection(log *zap.Logger, opts ...badgerGarbageCollectionOpt) *badgerGarbageCollection {
	runnerCtx, runnerCtxCancel := context.WithCancel(context.Background())
	gc := &badgerGarbageCollection{
		start:                make(chan struct{}, 1),
		log:                  log.With(zap.String("subComponent", "gc")),
		initialSleepDelaySec: 6 * 60 * 60,
		forcedGCThresholdSec: 15 * 60,
		sleepDelayNoiseSec:   10 * 60,
		discardRatio:         0.5,
		runnerCtx:            runnerCtx,
		runnerCtxCancel:      runnerCtxCancel,
	}
	for _, opt := range opts {
		opt(gc)
	}
	return gc
}

func WithSystemLoadThreshold(threshold float64) badgerGarbageCollectionOpt {
	return func(gc *badgerGarbageCollection) {
		if threshold <= 0.0 {
			gc.log.Warn("ignoring invalid system load threshold (must be greater than 0.0)", zap.Float64("threshold", threshold))
			return
		}
		gc.systemLoadDetector = &systemLoad{loadAverageThreshold: threshold, readFile: os.ReadFile}
	}
}

func WithInitialSleepDelaySec(delay int) badgerGarbageCollectionOpt {
	return func(gc *badgerGarbageCollection) {
		if delay <= 0 {
			gc.log.Warn("ignoring invalid initial sleep delay (must be greater than 0)", zap.Int("delay", delay))
			return
		}
		gc.initialSleepDelaySec = delay
	}
}

func WithForcedGCThresholdSec(delay int) badgerGarbageCollectionOpt {
	return func(gc *badgerGarbageCollection) {
		if delay <= 0 {
			gc.log.Warn("ignoring invalid forced collection threshold (must be greater than 0)", zap.Int("delay", delay))
			return
		}
		gc.forcedGCThresholdSec = delay
	}
}

func WithSleepDelayNoiseSec(delay int) badgerGarbageCollectionOpt {
	return func(gc *badgerGarbageCollection) {
		if delay <= 0 {
			gc.log.Warn("ignoring invalid sleep delay noise (must be greater than 0)", zap.Int("delay", delay))
			return
		}
		gc.sleepDelayNoiseSec = delay
	}
}

// WithDiscardRatio is passed to badger's RunValueLogGC. Files are rewritten when at least this
// fraction of them could be discarded.
func WithDiscardRatio(ratio float64) badgerGarbageCollectionOpt {
	return func(gc *badgerGarbageCollection) {
		if ratio <= 0.0 || ratio >= 1.0 {
			gc.log.Warn("ignoring invalid discard ratio (must be between 0.0 and 1.0)", zap.Float64("ratio", ratio))
			return
		}
		gc.discardRatio = ratio
	}
}

// StartRunner starts the collection loop in a separate goroutine unless one is already running.
// Returns true if a runner was started.
func (gc *badgerGarbageCollection) StartRunner() bool {
	select {
	case gc.start <- struct{}{}:
		go func() {
			defer func() { <-gc.start }()
			gc.runner()
		}()
		return true
	default:
		return false
	}
}

// Stop terminates the runner. It does not wait for an in-progress collection to finish.
func (gc *badgerGarbageCollection) Stop() {
	gc.runnerCtxCancel()
}

func (gc *badgerGarbageCollection) runner() {
	delay := gc.initialSleepDelaySec
	for {
		if gc.IsClosed() {
			return
		}
		select {
		case <-gc.runnerCtx.Done():
			return
		case <-time.After(gc.getSleepInterval(delay)):
		}
		delay = gc.attemptGarbageCollection(delay)
	}
}

// attemptGarbageCollection runs a collection unless the system load is high, in which case the
// delay is halved. Once the delay is at or below forcedGCThresholdSec collection always runs.
// Returns the delay until the next attempt.
func (gc *badgerGarbageCollection) attemptGarbageCollection(delay int) int {
	isSystemLoadHigh, _, err := gc.isSystemLoadHigh()
	if err != nil {
		gc.log.Warn("failed to determine system load", zap.Error(err))
	}
	if !isSystemLoadHigh || delay <= gc.forcedGCThresholdSec {
		if gc.runGarbageCollection() {
			return gc.initialSleepDelaySec
		}
		gc.log.Info("database garbage collection did not complete", zap.Int("retryInSeconds", gc.forcedGCThresholdSec))
		return gc.forcedGCThresholdSec
	}
	delay /= 2
	gc.log.Info("database garbage collection was deferred", zap.Int("retryInSeconds", delay))
	return delay
}

// runGarbageCollection keeps rewriting value log files until there is nothing left to do, an
// error occurs, or the system load becomes high.
func (gc *badgerGarbageCollection) runGarbageCollection() bool {
	start := time.Now()
	for {
		if err := gc.RunValueLogGC(gc.discardRatio); err != nil {
			if errors.Is(err, badger.ErrNoRewrite) {
				gc.log.Info("database garbage collection complete", zap.Duration("took", time.Since(start)))
				return true
			}
			gc.log.Warn("database garbage collection failed", zap.Error(err))
			return false
		}
		isSystemLoadHigh, load, err := gc.isSystemLoadHigh()
		if err != nil {
			gc.log.Warn("failed to determine system load", zap.Error(err))
		}
		if isSystemLoadHigh {
			gc.log.Info("pausing database garbage collection since the system load is high", zap.Float64("load", load))
			return false
		}
	}
}

func (gc *badgerGarbageCollection) getSleepInterval(seconds int) time.Duration {
	noise := rand.Intn(gc.sleepDelayNoiseSec) - (gc.sleepDelayNoiseSec / 2)
	return time.Duration(seconds+noise) * time.Second
}

func (l *systemLoad) isSystemLoadHigh() (bool, float64, error) {
	data, err := l.readFile("/proc/loadavg")
	if err != nil {
		return false, 0.0, fmt.Errorf("failed to retrieve system load information: %w", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return false, 0.0, fmt.Errorf("failed to retrieve system load information: unexpected format %q", data)
	}
	load1Min, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return false, 0.0, fmt.Errorf("failed to retrieve system load information: %w", err)
	}
	load := load1Min / float64(runtime.NumCPU())
	return load >= l.loadAverageThreshold, load, nil
}
