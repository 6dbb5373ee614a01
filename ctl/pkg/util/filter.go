package util

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/expr-lang/expr"
	"github.com/thinkparq/docfs/common/vfs"
)

// EntryInfo is the environment filter expressions are evaluated against.
type EntryInfo struct {
	Path  string    // Full path inside the storage
	Name  string    // Last path element
	Label string    // User visible label
	Type  string    // "file" or "dir"
	Mime  string    // MIME type of the content, empty for directories
	Size  int64     // Content size in bytes
	Depth int       // Number of path elements
	Mtime time.Time // Modification time
}

const (
	TypeFile = "file"
	TypeDir  = "dir"
)

// NewEntryInfo builds the filter environment for an entry.
func NewEntryInfo(e *vfs.Entry, layout vfs.Layout) EntryInfo {
	elements := layout.Elements(e.Path)
	info := EntryInfo{
		Path:  e.Path,
		Label: e.Label,
		Type:  TypeFile,
		Mime:  e.MimeType,
		Size:  e.Size,
		Depth: len(elements),
		Mtime: e.LastModified,
	}
	if len(elements) > 0 {
		info.Name = elements[len(elements)-1]
	}
	if e.IsDirectory {
		info.Type = TypeDir
		info.Mime = ""
	}
	return info
}

var (
	timeRe   = regexp.MustCompile(`\b(?i)(mtime)\s*(<=|>=|<|>)\s*([0-9]+(?:\.[0-9]+)?[smhdMyw]+)\b`)
	sizeRe   = regexp.MustCompile(`\b(?i)(size)\s*(<=|>=|<|>|!=|=)\s*([0-9]+(?:\.[0-9]+)?(?:B|KB|MB|GB|TB|KiB|MiB|GiB|TiB))\b`)
	globRe   = regexp.MustCompile(`\b(?i)(name|path|label|mime)\s*=~\s*"([^"\*\?]*[\*\?][^"]*)"`)
	regexRe  = regexp.MustCompile(`\b(?i)(name|path|label|mime)\s*=~\s*"([^"\*\?][^"\*\?]*)"`)
	identRe  = regexp.MustCompile(`\b(?i)(mtime|size|name|path|label|type|mime|depth)\b`)
	fieldMap = map[string]string{
		"mtime": "Mtime", "size": "Size", "name": "Name", "path": "Path",
		"label": "Label", "type": "Type", "mime": "Mime", "depth": "Depth",
	}
	unitFactors = map[string]float64{
		"B":  1,
		"KB": 1e3, "MB": 1e6, "GB": 1e9, "TB": 1e12,
		"KiB": 1 << 10, "MiB": 1 << 20, "GiB": 1 << 30, "TiB": 1 << 40,
	}
)

// CompileFilter turns a DSL expression into a filter function. Besides plain expr syntax the DSL
// understands relative times (`mtime > 1d` matches entries modified more than a day ago), sizes
// with units (`size >= 2MiB`) and glob or regex matches (`path =~ "docs/**"`, `name =~ "^a"`).
func CompileFilter(query string) (func(EntryInfo) (bool, error), error) {
	q := preprocessDSL(query)

	prog, err := expr.Compile(q,
		expr.Env(EntryInfo{}),
		expr.AsBool(),
		expr.Function("ago", func(params ...any) (any, error) { return ago(params[0].(string)) }),
		expr.Function("bytes", func(params ...any) (any, error) { return parseBytes(params[0].(string)) }),
		expr.Function("glob", func(params ...any) (any, error) { return globMatch(params[0].(string), params[1].(string)) }),
		expr.Function("regex", func(params ...any) (any, error) { return regexMatch(params[0].(string), params[1].(string)) }),
		expr.Function("now", func(params ...any) (any, error) { return time.Now(), nil }),
	)
	if err != nil {
		return nil, err
	}

	return func(info EntryInfo) (bool, error) {
		out, err := expr.Run(prog, info)
		if err != nil {
			return false, err
		}
		return out.(bool), nil
	}, nil
}

// preprocessDSL applies all DSL to expr rewrites.
func preprocessDSL(q string) string {
	// time shifts
	q = timeRe.ReplaceAllStringFunc(q, func(m string) string {
		parts := timeRe.FindStringSubmatch(m)
		f, op, val := strings.ToLower(parts[1]), parts[2], parts[3]
		if goF, ok := fieldMap[f]; ok {
			switch op {
			case ">":
				op = "<"
			case "<":
				op = ">"
			case ">=":
				op = "<="
			case "<=":
				op = ">="
			}
			return fmt.Sprintf("%s %s ago(%q)", goF, op, val)
		}
		return m
	})
	// size units
	q = sizeRe.ReplaceAllString(q, `$1 $2 bytes("$3")`)
	// globs and regex
	q = globRe.ReplaceAllString(q, `glob($1,"$2")`)
	q = regexRe.ReplaceAllString(q, `regex($1,"$2")`)
	// identifiers
	q = identRe.ReplaceAllStringFunc(q, func(s string) string {
		if goF, ok := fieldMap[strings.ToLower(s)]; ok {
			return goF
		}
		return s
	})
	return q
}

// ago returns time.Now() minus parsed duration.
func ago(durationStr string) (time.Time, error) {
	d, err := parseExtendedDuration(durationStr)
	if err != nil {
		return time.Time{}, err
	}
	return time.Now().Add(-d), nil
}

// parseExtendedDuration supports standard and custom units (d, w, M, y).
func parseExtendedDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	// fast path for Go durations
	sfx := s[len(s)-1]
	if strings.IndexByte("nsmh", sfx) != -1 {
		return time.ParseDuration(s)
	}
	var factor time.Duration
	num, unit := s[:len(s)-1], s[len(s)-1:]
	switch unit {
	case "d":
		factor = 24 * time.Hour
	case "w":
		factor = 7 * 24 * time.Hour
	case "M":
		factor = 30 * 24 * time.Hour
	case "y":
		factor = 365 * 24 * time.Hour
	default:
		return time.ParseDuration(s)
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return time.Duration(f * float64(factor)), nil
}

// parseBytes converts size strings into byte counts.
func parseBytes(sizeStr string) (int64, error) {
	i := len(sizeStr)
	for i > 0 && (sizeStr[i-1] < '0' || sizeStr[i-1] > '9') {
		i--
	}
	num, unit := sizeStr[:i], strings.TrimSpace(sizeStr[i:])
	if unit == "" {
		unit = "B"
	}
	mul, ok := unitFactors[unit]
	if !ok {
		return 0, fmt.Errorf("unknown size unit %q", unit)
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", sizeStr, err)
	}
	return int64(f * mul), nil
}

// globMatch uses doublestar so "**" matches across path elements.
func globMatch(s, pattern string) (bool, error) {
	return doublestar.Match(pattern, s)
}

func regexMatch(s, pattern string) (bool, error) {
	return regexp.MatchString(pattern, s)
}
