package util

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/viper"
	"github.com/thinkparq/docfs/common/vfs"
	"github.com/thinkparq/docfs/ctl/internal/util"
	"github.com/thinkparq/docfs/ctl/pkg/config"
)

type PathInputType int

const (
	PathInputInvalid PathInputType = iota
	PathInputStdin
	PathInputRecursion
	PathInputList
)

func (t PathInputType) String() string {
	switch t {
	case PathInputStdin:
		return "stdin"
	case PathInputRecursion:
		return "recursion"
	case PathInputList:
		return "list"
	default:
		return "unknown"
	}
}

// PathInputMethod is used to configure how paths are provided to ProcessPaths(). It must be
// initialized using DeterminePathInputMethod() before first use.
type PathInputMethod struct {
	// Paths are read from stdin (or stdinReader if set) separated by stdinDelimiter.
	pathsViaStdin  bool
	stdinDelimiter byte
	stdinReader    io.Reader
	// Provide a single path to process the entry and everything beneath it.
	pathsViaRecursion string
	// Specify one or more paths.
	pathsViaList []string
	inputType    PathInputType
}

func (m PathInputMethod) Get() PathInputType {
	return m.inputType
}

// DeterminePathInputMethod() processes user configuration to determine how paths are provided to
// ProcessPaths(). If a single path "-" is provided, then paths are read from stdin. If a single
// path and the recurse flag is set, then the path and all entries beneath it are processed.
// Otherwise one or more paths can be specified directly. The stdinDelimiter must be provided if
// reading from stdin is allowed.
func DeterminePathInputMethod(paths []string, recurse bool, stdinDelimiter string) (PathInputMethod, error) {
	pm := PathInputMethod{}
	if pathsLen := len(paths); pathsLen == 0 {
		return pm, fmt.Errorf("nothing to process (no paths were specified)")
	} else if pathsLen == 1 {
		if paths[0] == "-" {
			var err error
			pm.pathsViaStdin = true
			pm.inputType = PathInputStdin
			pm.stdinDelimiter, err = util.GetStdinDelimiterFromString(stdinDelimiter)
			if err != nil {
				return pm, err
			}
		} else if recurse {
			pm.pathsViaRecursion = paths[0]
			pm.inputType = PathInputRecursion
		} else {
			pm.pathsViaList = paths
			pm.inputType = PathInputList
		}
	} else {
		if recurse {
			return pm, fmt.Errorf("only one path can be specified with the recurse option")
		}
		pm.pathsViaList = paths
		pm.inputType = PathInputList
	}
	return pm, nil
}

// WithStdinReader replaces stdin as the source of paths for the stdin input method.
func (m PathInputMethod) WithStdinReader(r io.Reader) PathInputMethod {
	m.stdinReader = r
	return m
}

// The PathInputMethod is usually determined by the frontend then the backend calls ProcessPaths.
// ProcessPathOpts contains any settings that should always be determined by the backend.
type ProcessPathOpts struct {
	// Process directories after everything beneath them when recursing. Needed to remove a tree.
	DepthFirst bool
	FilterExpr string
}

type ProcessPathOpt func(*ProcessPathOpts)

func DepthFirst(d bool) ProcessPathOpt {
	return func(args *ProcessPathOpts) {
		args.DepthFirst = d
	}
}

func FilterExpr(f string) ProcessPathOpt {
	return func(args *ProcessPathOpts) {
		args.FilterExpr = f
	}
}

// ProcessPaths() processes one or more entries based on the PathInputMethod and executes the
// specified request for each entry by invoking the provided processEntry() function.
//
// It handles any setup needed to read from the specified PathInputMethod (such as reading from
// stdin) and by default processes entries in parallel based on the global num-workers flag. Because
// entries are processed in parallel, the order entries are processed and results are returned is
// not stable. If stable results are desired, for example when recursively printing entry info, use
// the singleWorker option.
//
// It returns a ResultT channel where the result for each entry will be sent. The ResultT channel
// will be closed once all entries are processed, or if any error occurs after all valid results are
// sent to the channel. The errs channel is NOT closed since it is used to return errors both from
// the Goroutine responsible for providing the paths and the Goroutines executing the processEntry
// function. Thus callers should not wait for this channel to be closed indefinitely, and instead
// rely on the ResultT channel to determine when all entries have been processed.
func ProcessPaths[ResultT any](
	ctx context.Context,
	method PathInputMethod,
	singleWorker bool,
	processEntry func(path string) (ResultT, error),
	opts ...ProcessPathOpt,
) (<-chan ResultT, <-chan error, error) {

	args := &ProcessPathOpts{}
	for _, opt := range opts {
		opt(args)
	}

	storage, err := config.Storage(ctx)
	if err != nil {
		return nil, nil, err
	}

	var filterFunc func(EntryInfo) (bool, error)
	if args.FilterExpr != "" {
		filterFunc, err = CompileFilter(args.FilterExpr)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid filter %q: %w", args.FilterExpr, err)
		}
	}

	// Largely arbitrary channel size selection. There are multiple writers to this channel, but the
	// number varies based on GOMAXPROCS.
	errChan := make(chan error, 128)
	pathsChan := make(chan string, 1024)

	if method.pathsViaStdin {
		reader := method.stdinReader
		if reader == nil {
			reader = os.Stdin
		}
		go util.ReadDelimited(ctx, reader, method.stdinDelimiter, pathsChan, errChan)
	} else if method.pathsViaRecursion != "" {
		entries, err := storage.ListTree(ctx, method.pathsViaRecursion)
		if err != nil {
			return nil, nil, err
		}
		if args.DepthFirst {
			// Children always follow their parent, so the reversed order visits every entry
			// before its parent.
			for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
				entries[i], entries[j] = entries[j], entries[i]
			}
			// Removing a parent before its children would fail, so this cannot run in parallel.
			singleWorker = true
		}
		go func() {
			defer close(pathsChan)
			for _, e := range entries {
				select {
				case <-ctx.Done():
					return
				case pathsChan <- e.Path:
				}
			}
		}()
	} else {
		go func() {
			// Writing to the channel needs to happen in a separate Goroutine so the results can be
			// returned immediately. Otherwise if the number of paths is larger than the pathsChan
			// the processFunc would eventually be blocked since nothing would be reading from
			// the results.
			defer close(pathsChan)
			for _, e := range method.pathsViaList {
				select {
				case <-ctx.Done():
					return
				case pathsChan <- e:
				}
			}
		}()
	}
	return startProcessing(ctx, storage, pathsChan, errChan, singleWorker, filterFunc, processEntry), errChan, nil
}

// startProcessing executes processEntry() for each path sent to the paths channel.
func startProcessing[ResultT any](
	ctx context.Context,
	storage *vfs.Storage,
	paths <-chan string,
	errs chan<- error,
	singleWorker bool,
	filterFunc func(EntryInfo) (bool, error),
	processEntry func(path string) (ResultT, error),
) <-chan ResultT {

	results := make(chan ResultT, 1024)

	// Spawn a goroutine that manages one or more workers that handle processing each path.
	go func() {
		// Because multiple workers may write to this channel it is closed by the parent goroutine
		// once all workers return.
		defer close(results)
		numWorkers := 1
		if !singleWorker {
			numWorkers = max(viper.GetInt(config.NumWorkersKey), 1)
		}
		wg := sync.WaitGroup{}
		// If any of the workers encounter an error, this context is used to signal to the other
		// workers they should exit early.
		workerCtx, workerCancel := context.WithCancel(ctx)
		defer workerCancel()

		// The run loop for each worker:
		runWorker := func() {
			defer wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case path, ok := <-paths:
					if !ok {
						return
					}

					if filterFunc != nil {
						entry, err := storage.Stat(workerCtx, path)
						if err != nil {
							errs <- err
							workerCancel()
							return
						}
						keep, err := filterFunc(NewEntryInfo(entry, storage.Layout()))
						if err != nil {
							errs <- fmt.Errorf("unable to evaluate filter on %s: %w", path, err)
							workerCancel()
							return
						}
						if !keep {
							continue
						}
					}

					result, err := processEntry(path)
					if err != nil {
						errs <- err
						workerCancel()
						return
					}
					select {
					case results <- result:
					case <-workerCtx.Done():
						return
					}
				}
			}
		}
		for range numWorkers {
			wg.Add(1)
			go runWorker()
		}
		wg.Wait()
	}()
	return results
}
