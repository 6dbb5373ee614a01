package store

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thinkparq/docfs/common/vfs"
	"github.com/thinkparq/docfs/ctl/pkg/config"
)

func setupForTesting(t *testing.T) {
	t.Helper()
	viper.Reset()
	viper.Set(config.DBInMemoryKey, true)
	t.Cleanup(func() {
		assert.NoError(t, config.Cleanup())
		viper.Reset()
	})
}

func TestInfoAndFormat(t *testing.T) {
	setupForTesting(t)
	ctx := context.Background()

	info, err := GetInfo(ctx)
	require.NoError(t, err)
	assert.True(t, info.FirstRun)
	assert.NotEmpty(t, info.InstanceID)
	assert.Equal(t, vfs.Version, info.Version)
	assert.Equal(t, vfs.DefaultSeparator, info.Separator)
	assert.Equal(t, vfs.DefaultIDPrefix, info.IDPrefix)
	assert.Zero(t, info.Entries)

	s, err := config.Storage(ctx)
	require.NoError(t, err)
	_, err = s.MkDir(ctx, "docs")
	require.NoError(t, err)
	_, err = s.AddFile(ctx, vfs.NewFile("docs/a.txt", []byte("abc"), ""))
	require.NoError(t, err)

	info, err = GetInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Entries)
	assert.Equal(t, 1, info.Files)
	assert.Equal(t, int64(3), info.Bytes)

	require.NoError(t, Format(ctx))
	info, err = GetInfo(ctx)
	require.NoError(t, err)
	assert.Zero(t, info.Entries)
	// Formatting keeps the storage initialized.
	assert.True(t, info.FirstRun)
}

func TestImportExport(t *testing.T) {
	setupForTesting(t)
	ctx := context.Background()

	local := afero.NewMemMapFs()
	require.NoError(t, local.MkdirAll("/src/sub", 0o755))
	require.NoError(t, afero.WriteFile(local, "/src/a.txt", []byte("a"), 0o644))
	require.NoError(t, afero.WriteFile(local, "/src/sub/b.txt", []byte("b"), 0o644))

	count, err := Import(ctx, TransferCfg{Source: "/src", Dest: "backup", Fs: local})
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	_, err = Import(ctx, TransferCfg{Source: "/src", Dest: "backup", Fs: local})
	assert.ErrorIs(t, err, vfs.ErrFileWithSamePath)
	_, err = Import(ctx, TransferCfg{Source: "/src", Dest: "backup", Fs: local, Replace: true})
	require.NoError(t, err)

	count, err = Export(ctx, TransferCfg{Source: "backup", Dest: "/restore", Fs: local})
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	data, err := afero.ReadFile(local, "/restore/backup/sub/b.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), data)

	_, err = Export(ctx, TransferCfg{Source: "missing", Dest: "/restore", Fs: local})
	assert.ErrorIs(t, err, vfs.ErrFileNotFound)
}
