package entry

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"github.com/thinkparq/docfs/common/types"
	"github.com/thinkparq/docfs/common/vfs"
	"github.com/thinkparq/docfs/ctl/internal/cmdfmt"
	"github.com/thinkparq/docfs/ctl/internal/util"
	"github.com/thinkparq/docfs/ctl/pkg/config"
	"github.com/thinkparq/docfs/ctl/pkg/ctl/entry"
)

var (
	entryDefaultColumns = []string{"path", "type", "size", "mime", "modified", "label"}
	entryAllColumns     = []string{"path", "type", "size", "mime", "modified", "label", "rev"}
)

func newEntryPrinter() cmdfmt.Printomatic {
	defaultColumns := entryDefaultColumns
	if viper.GetBool(config.DebugKey) {
		defaultColumns = entryAllColumns
	}
	return cmdfmt.NewPrintomatic(entryAllColumns, defaultColumns)
}

func assembleEntryRow(e *vfs.Entry) []any {
	raw := viper.GetBool(config.RawKey)
	entryType, size, mime := "file", util.FormatSize(e.Size, raw), e.MimeType
	if e.IsDirectory {
		entryType, size, mime = "dir", "-", "-"
	}
	var modified any
	if raw {
		modified = e.LastModified.UnixMilli()
	} else {
		modified = e.LastModified.Local().Format(time.DateTime)
	}
	label := e.Label
	if label == "" && !raw {
		label = "-"
	}
	return []any{e.Path, entryType, size, mime, modified, label, e.Rev}
}

// printResults prints the outcome for each path. If any path failed a CtlError is returned that
// distinguishes between partial and complete failure.
func printResults(results []entry.Result, changed string, unchanged string) error {
	tbl := cmdfmt.NewPrintomatic([]string{"path", "result"}, []string{"path", "result"})
	multiErr := &types.MultiError{}
	for _, r := range results {
		addResult(&tbl, multiErr, r, changed, unchanged)
	}
	tbl.PrintRemaining()
	return resultsError(multiErr, len(results))
}

func addResult(tbl *cmdfmt.Printomatic, multiErr *types.MultiError, r entry.Result, changed string, unchanged string) {
	switch {
	case r.Err != nil:
		multiErr.Add(r.Err)
		tbl.AddItem(r.Path, fmt.Sprintf("error: %s", r.Err))
	case r.Changed:
		tbl.AddItem(r.Path, changed)
	default:
		tbl.AddItem(r.Path, unchanged)
	}
}

func resultsError(multiErr *types.MultiError, total int) error {
	err := multiErr.ErrorOrNil()
	if err == nil {
		return nil
	}
	if len(multiErr.Errors) == total {
		return util.NewStorageCtlError(err)
	}
	return util.NewCtlError(fmt.Errorf("%d of %d entries could not be processed: %w", len(multiErr.Errors), total, err), util.PartialSuccess)
}
