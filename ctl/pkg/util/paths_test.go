package util

import (
	"context"
	"slices"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thinkparq/docfs/common/vfs"
	"github.com/thinkparq/docfs/ctl/pkg/config"
)

func TestDeterminePathInputMethod(t *testing.T) {
	_, err := DeterminePathInputMethod(nil, false, "\n")
	assert.Error(t, err)

	m, err := DeterminePathInputMethod([]string{"-"}, false, "\n")
	require.NoError(t, err)
	assert.Equal(t, PathInputStdin, m.Get())
	_, err = DeterminePathInputMethod([]string{"-"}, false, "too long")
	assert.Error(t, err)

	m, err = DeterminePathInputMethod([]string{"dir1"}, true, "\n")
	require.NoError(t, err)
	assert.Equal(t, PathInputRecursion, m.Get())

	m, err = DeterminePathInputMethod([]string{"a", "b"}, false, "\n")
	require.NoError(t, err)
	assert.Equal(t, PathInputList, m.Get())
	_, err = DeterminePathInputMethod([]string{"a", "b"}, true, "\n")
	assert.Error(t, err)
}

// storageForTesting configures the global storage singleton to use an in-memory database with a
// small tree.
func storageForTesting(t *testing.T) *vfs.Storage {
	t.Helper()
	viper.Reset()
	viper.Set(config.DBInMemoryKey, true)
	viper.Set(config.NumWorkersKey, 4)
	t.Cleanup(func() {
		assert.NoError(t, config.Cleanup())
		viper.Reset()
	})

	ctx := context.Background()
	s, err := config.Storage(ctx)
	require.NoError(t, err)
	_, err = s.MkDir(ctx, "docs/reports", vfs.WithParents(true))
	require.NoError(t, err)
	for _, p := range []string{"docs/readme.md", "docs/reports/q1.txt", "docs/reports/q2.txt"} {
		_, err = s.AddFile(ctx, vfs.NewFile(p, []byte(strings.Repeat("x", len(p))), ""))
		require.NoError(t, err)
	}
	return s
}

func collect[T any](t *testing.T, results <-chan T, errs <-chan error) []T {
	t.Helper()
	out := []T{}
	for r := range results {
		out = append(out, r)
	}
	select {
	case err := <-errs:
		require.NoError(t, err)
	default:
	}
	return out
}

func TestProcessPaths(t *testing.T) {
	ctx := context.Background()
	s := storageForTesting(t)
	stat := func(path string) (*vfs.Entry, error) {
		return s.Stat(ctx, path)
	}
	entryPaths := func(entries []*vfs.Entry) []string {
		out := []string{}
		for _, e := range entries {
			out = append(out, e.Path)
		}
		slices.Sort(out)
		return out
	}

	t.Run("list", func(t *testing.T) {
		m, err := DeterminePathInputMethod([]string{"docs/readme.md", "docs/reports"}, false, "\n")
		require.NoError(t, err)
		results, errs, err := ProcessPaths(ctx, m, false, stat)
		require.NoError(t, err)
		assert.Equal(t, []string{"docs/readme.md", "docs/reports"}, entryPaths(collect(t, results, errs)))
	})

	t.Run("stdin", func(t *testing.T) {
		m, err := DeterminePathInputMethod([]string{"-"}, false, `\x00`)
		require.NoError(t, err)
		m = m.WithStdinReader(strings.NewReader("docs/reports/q1.txt\x00docs/reports/q2.txt\x00"))
		results, errs, err := ProcessPaths(ctx, m, false, stat)
		require.NoError(t, err)
		assert.Equal(t, []string{"docs/reports/q1.txt", "docs/reports/q2.txt"}, entryPaths(collect(t, results, errs)))
	})

	t.Run("recursion", func(t *testing.T) {
		m, err := DeterminePathInputMethod([]string{"docs/reports"}, true, "\n")
		require.NoError(t, err)
		results, errs, err := ProcessPaths(ctx, m, true, stat)
		require.NoError(t, err)
		got := collect(t, results, errs)
		require.Len(t, got, 3)
		assert.Equal(t, "docs/reports", got[0].Path)

		results, errs, err = ProcessPaths(ctx, m, false, stat, DepthFirst(true))
		require.NoError(t, err)
		got = collect(t, results, errs)
		require.Len(t, got, 3)
		assert.Equal(t, "docs/reports/q2.txt", got[0].Path)
		assert.Equal(t, "docs/reports", got[2].Path)

		m, err = DeterminePathInputMethod([]string{"missing"}, true, "\n")
		require.NoError(t, err)
		_, _, err = ProcessPaths(ctx, m, true, stat)
		assert.ErrorIs(t, err, vfs.ErrFileNotFound)
	})

	t.Run("filter", func(t *testing.T) {
		m, err := DeterminePathInputMethod([]string{"docs"}, true, "\n")
		require.NoError(t, err)
		results, errs, err := ProcessPaths(ctx, m, false, stat, FilterExpr(`type == "file" && path =~ "docs/reports/*"`))
		require.NoError(t, err)
		assert.Equal(t, []string{"docs/reports/q1.txt", "docs/reports/q2.txt"}, entryPaths(collect(t, results, errs)))

		_, _, err = ProcessPaths(ctx, m, false, stat, FilterExpr("size +"))
		assert.Error(t, err)
	})

	t.Run("error", func(t *testing.T) {
		m, err := DeterminePathInputMethod([]string{"missing"}, false, "\n")
		require.NoError(t, err)
		results, errs, err := ProcessPaths(ctx, m, false, stat)
		require.NoError(t, err)
		for range results {
		}
		assert.ErrorIs(t, <-errs, vfs.ErrFileNotFound)
	})
}
