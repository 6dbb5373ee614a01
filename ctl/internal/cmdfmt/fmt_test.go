package cmdfmt

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thinkparq/docfs/ctl/pkg/config"
)

func setOutput(t *testing.T, output config.OutputType, pageSize uint) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set(config.OutputKey, output.String())
	viper.Set(config.PageSizeKey, pageSize)
}

func TestPrintomaticTable(t *testing.T) {
	setOutput(t, config.OutputTable, 10)
	out := &bytes.Buffer{}
	tbl := NewPrintomatic([]string{"path", "first run"}, []string{"path"}, WithWriter(out))
	tbl.AddItem("docs/a.txt", "yes")
	tbl.PrintRemaining()

	assert.Contains(t, out.String(), "PATH")
	assert.Contains(t, out.String(), "docs/a.txt")
	assert.NotContains(t, out.String(), "FIRST RUN")
	assert.NotContains(t, out.String(), "yes")

	viper.Set(config.ColumnsKey, []string{"all"})
	out.Reset()
	tbl = NewPrintomatic([]string{"path", "first run"}, []string{"path"}, WithWriter(out))
	tbl.AddItem("docs/a.txt", "yes")
	tbl.PrintRemaining()
	assert.Contains(t, out.String(), "FIRST RUN")
	assert.Contains(t, out.String(), "yes")
}

func TestPrintomaticPaging(t *testing.T) {
	setOutput(t, config.OutputTable, 2)
	out := &bytes.Buffer{}
	tbl := NewPrintomatic([]string{"path"}, []string{"path"}, WithWriter(out))
	for _, p := range []string{"a", "b", "c"} {
		tbl.AddItem(p)
	}
	// The first page is printed as soon as it is full.
	assert.Equal(t, 1, strings.Count(out.String(), "PATH"))
	tbl.PrintRemaining()
	assert.Equal(t, 2, strings.Count(out.String(), "PATH"))
}

func TestPrintomaticJSON(t *testing.T) {
	setOutput(t, config.OutputJSON, 10)
	viper.Set(config.ColumnsKey, []string{"path", "first run"})
	out := &bytes.Buffer{}
	tbl := NewPrintomatic([]string{"path", "first run", "size"}, []string{"path"}, WithWriter(out))
	tbl.AddItem("a&b", true, 3)
	tbl.AddItem("c", false, 4)
	tbl.PrintRemaining()
	assert.JSONEq(t, `[{"path":"a&b","first_run":true},{"path":"c","first_run":false}]`, out.String())
	assert.Contains(t, out.String(), "a&b", "HTML characters are not escaped")
}

func TestPrintomaticNDJSON(t *testing.T) {
	for _, output := range []config.OutputType{config.OutputNDJSON, config.OutputJSON} {
		t.Run(output.String(), func(t *testing.T) {
			// JSON with a page size of zero is printed as NDJSON.
			setOutput(t, output, 0)
			out := &bytes.Buffer{}
			tbl := NewPrintomatic([]string{"path"}, []string{"path"}, WithWriter(out))
			tbl.AddItem("a")
			tbl.AddItem("b")
			tbl.PrintRemaining()
			lines := strings.Split(strings.TrimSpace(out.String()), "\n")
			require.Len(t, lines, 2)
			assert.JSONEq(t, `{"path":"a"}`, lines[0])
			assert.JSONEq(t, `{"path":"b"}`, lines[1])
		})
	}
}
