package vfs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportExportTree(t *testing.T) {
	ctx := context.Background()
	s := newStorageForTesting(t)

	src := afero.NewMemMapFs()
	modified := time.UnixMilli(1500000000000)
	files := map[string]string{
		"/data/tree/readme.md":        "# readme",
		"/data/tree/docs/a.txt":       "a",
		"/data/tree/docs/deep/b.json": `{"b":1}`,
	}
	for p, content := range files {
		require.NoError(t, src.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, afero.WriteFile(src, p, []byte(content), 0o644))
		require.NoError(t, src.Chtimes(p, modified, modified))
	}
	require.NoError(t, src.MkdirAll("/data/tree/empty", 0o755))

	count, err := s.ImportTree(ctx, src, "/data/tree", "imported/tree")
	require.NoError(t, err)
	assert.Equal(t, 6, count)

	paths, err := s.ListAllPaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"imported",
		"imported/tree",
		"imported/tree/docs",
		"imported/tree/docs/a.txt",
		"imported/tree/docs/deep",
		"imported/tree/docs/deep/b.json",
		"imported/tree/empty",
		"imported/tree/readme.md",
	}, paths)

	file, err := s.GetFile(ctx, "imported/tree/docs/deep/b.json")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"b":1}`), file.Payload)
	assert.Equal(t, "application/json", file.MimeType)
	assert.Equal(t, modified, file.LastModified)

	// Importing again does not replace existing files unless asked to.
	_, err = s.ImportTree(ctx, src, "/data/tree", "imported/tree")
	assert.ErrorIs(t, err, ErrFileWithSamePath)
	require.NoError(t, afero.WriteFile(src, "/data/tree/docs/a.txt", []byte("a2"), 0o644))
	_, err = s.ImportTree(ctx, src, "/data/tree", "imported/tree", WithReplaceExisting(true))
	require.NoError(t, err)

	// A single file keeps its name.
	count, err = s.ImportTree(ctx, src, "/data/tree/readme.md", "")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	exists, err := s.Exists(ctx, "readme.md")
	require.NoError(t, err)
	assert.True(t, exists)

	dst := afero.NewMemMapFs()
	count, err = s.ExportTree(ctx, dst, "imported/tree/docs", "/out")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	data, err := afero.ReadFile(dst, "/out/docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("a2"), data)
	data, err = afero.ReadFile(dst, "/out/docs/deep/b.json")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"b":1}`), data)
	info, err := dst.Stat("/out/docs/deep/b.json")
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(modified))

	_, err = s.ExportTree(ctx, dst, "imported/tree/docs", "/out")
	assert.ErrorIs(t, err, ErrFileWithSamePath)
	_, err = s.ExportTree(ctx, dst, "imported/tree/docs", "/out", WithReplaceExisting(true))
	require.NoError(t, err)

	count, err = s.ExportTree(ctx, dst, "", "/all")
	require.NoError(t, err)
	assert.Equal(t, 9, count)
	_, err = afero.ReadFile(dst, "/all/imported/tree/readme.md")
	require.NoError(t, err)
	_, err = dst.Stat("/all/imported/tree/empty")
	require.NoError(t, err)

	_, err = s.ExportTree(ctx, dst, "missing", "/out")
	assert.ErrorIs(t, err, ErrFileNotFound)

	_, err = s.ImportTree(ctx, src, "/does/not/exist", "")
	assert.ErrorIs(t, err, ErrStorage)
}
