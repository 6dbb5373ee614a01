package cmdfmt

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/viper"
	"github.com/thinkparq/docfs/ctl/pkg/config"
)

// Printf is like fmt.Printf except it prints to stderr instead of stdout. It is intended to be used
// from commands that print structured output using a table or JSON that may be parsed by scripts.
func Printf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format, a...)
}

// Printer is a condensed version of table.Writer that allows implementing alternative ways besides
// tables to write out structured data.
type Printer interface {
	AppendRow(row table.Row, configs ...table.RowConfig)
	Render() string
	SetColumnConfigs(configs []table.ColumnConfig)
}

// Printomatic provides a standard way for printing structured data.
type Printomatic struct {
	printer    Printer
	columns    []string
	printCols  []string
	pageSize   uint
	outputType config.OutputType
	rowCount   uint
	config     PrinterOptions
}

type PrinterOptions struct {
	WithEmptyColumns bool
	// Where output is written. Defaults to stdout.
	Writer io.Writer
}

type PrinterOption func(*PrinterOptions)

func WithEmptyColumns(withEmpty bool) PrinterOption {
	return func(args *PrinterOptions) {
		args.WithEmptyColumns = withEmpty
	}
}

func WithWriter(w io.Writer) PrinterOption {
	return func(args *PrinterOptions) {
		args.Writer = w
	}
}

// columnKey returns the name used for a column in JSON output and the --columns flag.
func columnKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

// NewPrintomatic creates a printer for structured data in a tabular or JSON format. It reads the
// following viper keys:
//
//   - PageSizeKey: how many rows are buffered then printed at once.
//   - ColumnsKey: which columns (or JSON keys) are printed.
//   - OutputKey: table, json, json-pretty or ndjson.
//
// The available columns must be provided in order and every call to AddItem must provide a value
// for each of them. Use defaultColumns to define which columns are printed unless the user asks
// for others. Spaces in column names become underscores in JSON keys and the columns flag. If a
// user specifies "all" every column is printed.
func NewPrintomatic(columns []string, defaultColumns []string, opts ...PrinterOption) Printomatic {
	cfg := PrinterOptions{
		WithEmptyColumns: true,
		Writer:           os.Stdout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	// Determine the columns to be printed. An empty --columns flag means the defaults.
	printCols := defaultColumns
	if userCols := viper.GetStringSlice(config.ColumnsKey); len(userCols) != 0 {
		printCols = userCols
	}

	// Determine the page size and output type:
	pageSize := viper.GetUint(config.PageSizeKey)
	outputType := config.OutputType(viper.GetString(config.OutputKey))

	if outputType == config.OutputNDJSON {
		// If NDJSON is requested automatically set the pageSize to zero.
		pageSize = 0
	} else if outputType == config.OutputJSON && pageSize == 0 {
		// If the output type is JSON and the pageSize is zero, automatically use NDJSON.
		outputType = config.OutputNDJSON
	}

	keys := make([]string, 0, len(columns))
	for _, c := range columns {
		keys = append(keys, columnKey(c))
	}
	printKeys := make([]string, 0, len(printCols))
	for _, c := range printCols {
		printKeys = append(printKeys, columnKey(c))
	}

	p := Printomatic{
		columns:    keys,
		printCols:  printKeys,
		pageSize:   pageSize,
		outputType: outputType,
		config:     cfg,
	}

	p.replacePrinter()

	return p
}

// replacePrinter() refreshes the internal Printer to prepare printing a new page of output. It is
// used both to initialize the Printomatic and whenever pageSize is exceeded.
func (p *Printomatic) replacePrinter() {

	if p.isJSON() {
		p.printer = newJSONPrinter(p.outputType == config.OutputJSONPretty, p.pageSize)
	} else {
		// Otherwise print using a stylized table. Use a very simple style with only spaces as
		// separators to make parsing easier.
		tbl := table.NewWriter()
		tbl.SetStyle(table.Style{
			Box: table.BoxStyle{
				PaddingRight:  "  ",
				PageSeparator: "\n",
			},
			Format: table.FormatOptions{
				// Direction breaks SuppressEmptyColumns() due to a bug in go-pretty where
				// initForRenderSuppressColumns() does not ignore control characters. This was fixed
				// with https://github.com/jedib0t/go-pretty/pull/327. Direction could be reenabled once
				// a new go-pretty release is tagged. But it also results in hidden characters being
				// added to columns which are included if a user copies text, which can lead to weird
				// behavior (for example copying a unix timestamp to a timestamp converter website).
				// We should leave this disabled unless it becomes necessary.
				//
				// Direction: text.LeftToRight,
				Footer: text.FormatUpper,
				Header: text.FormatUpper,
			},
		})

		if !p.config.WithEmptyColumns {
			tbl.SuppressEmptyColumns()
		}

		// Don't print a header if the page size is zero:
		if p.pageSize > 0 {
			// Build the header
			row := table.Row{}
			for _, h := range p.columns {
				row = append(row, strings.ReplaceAll(h, "_", " "))
			}
			tbl.AppendHeader(row)
		}
		p.printer = tbl
	}

	// Regardless the printer type, users can control the columns:
	colCfg := []table.ColumnConfig{}

	// Hide all columns not to be printed
	for i, name := range p.columns {
		// The column number is used here because Name does not work if there is no header (as is
		// the case when pageSize=0). The ColumnConfig also recommends using this instead of name.
		// The name is still included here because it is required when printing JSON.
		colCfg = append(colCfg, table.ColumnConfig{Number: i + 1, Hidden: true, Name: name, Align: text.AlignLeft, AlignHeader: text.AlignLeft})
		for _, cName := range p.printCols {
			if cName == name || cName == "all" {
				colCfg[len(colCfg)-1].Hidden = false
				break
			}
		}
	}

	p.printer.SetColumnConfigs(colCfg)
}

// Add an item to the Printomatic. Auto prints output when pageSize rows have been added. If the
// pageSize is zero the output is always immediately printed.
func (p *Printomatic) AddItem(fields ...any) {
	p.printer.AppendRow(fields)
	p.rowCount += 1
	if p.pageSize == 0 {
		fmt.Fprintln(p.config.Writer, p.printer.Render())
		// Intentionally don't print a blank line between rows when the page size is zero.
		p.replacePrinter()
	} else if p.rowCount%p.pageSize == 0 {
		p.flush()
	}
}

// Print all remaining items in the Printomatic even if pageSize has not yet been reached. This
// should always be called after adding all items to ensure everything is printed.
func (p *Printomatic) PrintRemaining() {
	// If the page size is zero rows are printed as they were added so there are no remaining rows.
	if p.pageSize != 0 && p.rowCount%p.pageSize != 0 {
		p.flush()
	}
}

func (p *Printomatic) flush() {
	fmt.Fprintln(p.config.Writer, p.printer.Render())
	// JSON pages are separate documents, tables are separated by a blank line.
	if !p.isJSON() {
		fmt.Fprintln(p.config.Writer)
	}
	p.replacePrinter()
}

func (p *Printomatic) isJSON() bool {
	return p.outputType == config.OutputJSON ||
		p.outputType == config.OutputJSONPretty ||
		p.outputType == config.OutputNDJSON
}
