package vfs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thinkparq/docfs/common/kvstore"
	"go.uber.org/zap/zaptest"
	"golang.org/x/text/unicode/norm"
)

func newBackendForTesting(t *testing.T) *kvstore.DocStore[Fields] {
	t.Helper()
	store, closeDB, err := kvstore.NewDocStore[Fields](badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, closeDB())
	})
	return store
}

func newStorageForTesting(t *testing.T, opts ...storageOpt) *Storage {
	t.Helper()
	opts = append([]storageOpt{WithLogger(zaptest.NewLogger(t))}, opts...)
	s, info, err := Open(context.Background(), newBackendForTesting(t), opts...)
	require.NoError(t, err)
	require.True(t, info.FirstRun)
	return s
}

func addTextFile(t *testing.T, s *Storage, path string, label string, text string) {
	t.Helper()
	entry := NewFile(path, []byte(text), "text/plain")
	entry.Label = label
	_, err := s.AddFile(context.Background(), entry)
	require.NoError(t, err)
}

// populate creates the same tree regardless of the order entries were added in.
func populate(t *testing.T, s *Storage) {
	t.Helper()
	ctx := context.Background()
	mkdir := func(path string, opts ...MkDirOpt) {
		_, err := s.MkDir(ctx, path, opts...)
		require.NoError(t, err)
	}
	mkdir("dir1")
	mkdir("dir2")
	mkdir("dir1/subdir1")
	addTextFile(t, s, "prueba0.txt", "texto prueba 0", "hola mundo")
	mkdir("dir1/subdir2")
	addTextFile(t, s, "dir1/subdir2/prueba1.txt", "texto prueba 1", "hola mundo2")
	addTextFile(t, s, "dir1/subdir2/prueba2.txt", "texto prueba 2", "hola mundo3")
	addTextFile(t, s, "dir1/subdir1/prueba3.txt", "texto prueba 3", "hola mundo4")
	addTextFile(t, s, "dir1/subdir1/prueba4 con espacios ñ €.txt", "texto prueba 4", "unicode y eso")
	mkdir("a/b/c/d/e/f/g", WithParents(true))
	mkdir("z/u/v/w", WithParents(true))
	mkdir("1/2", WithParents(true))
}

var populatedPaths = []string{
	"1",
	"1/2",
	"a",
	"a/b",
	"a/b/c",
	"a/b/c/d",
	"a/b/c/d/e",
	"a/b/c/d/e/f",
	"a/b/c/d/e/f/g",
	"dir1",
	"dir1/subdir1",
	"dir1/subdir1/prueba3.txt",
	norm.NFD.String("dir1/subdir1/prueba4 con espacios ñ €.txt"),
	"dir1/subdir2",
	"dir1/subdir2/prueba1.txt",
	"dir1/subdir2/prueba2.txt",
	"dir2",
	"prueba0.txt",
	"z",
	"z/u",
	"z/u/v",
	"z/u/v/w",
}

func TestAddAndGetFile(t *testing.T) {
	ctx := context.Background()
	modified := time.UnixMilli(1600000000000)
	s := newStorageForTesting(t, withClock(func() time.Time { return modified }))

	entry := NewFile("/prueba1.txt", []byte("hola mundo"), "text/plain")
	entry.Label = "texto prueba 1"
	path, err := s.AddFile(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, "prueba1.txt", path)

	file, err := s.GetFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "prueba1.txt", file.Path)
	assert.Equal(t, "texto prueba 1", file.Label)
	assert.Equal(t, []byte("hola mundo"), file.Payload)
	assert.Equal(t, "text/plain", file.MimeType)
	assert.Equal(t, modified, file.LastModified)
	assert.False(t, file.IsDirectory)
	assert.NotEmpty(t, file.Rev)

	stat, err := s.Stat(ctx, path)
	require.NoError(t, err)
	assert.Nil(t, stat.Payload)
	assert.Equal(t, int64(len("hola mundo")), stat.Size)
	assert.Equal(t, "text/plain", stat.MimeType)
	assert.Equal(t, file.Rev, stat.Rev)
	_, err = s.Stat(ctx, "missing.txt")
	assert.ErrorIs(t, err, ErrFileNotFound)

	_, err = s.GetFile(ctx, "missing.txt")
	assert.ErrorIs(t, err, ErrFileNotFound)
	_, err = s.GetFile(ctx, " / ")
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = s.AddFile(ctx, NewFile("", []byte("x"), ""))
	assert.ErrorIs(t, err, ErrInvalidPath)
	_, err = s.AddFile(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidPath)
	dirWithContent := NewDirectory("d")
	dirWithContent.Payload = []byte("x")
	_, err = s.AddFile(ctx, dirWithContent)
	assert.ErrorIs(t, err, ErrInvalidPath)

	// Empty files have no payload but can still be read.
	_, err = s.AddFile(ctx, NewFile("empty", nil, ""))
	require.NoError(t, err)
	file, err = s.GetFile(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, file.Payload)
	assert.Equal(t, int64(0), file.Size)
}

func TestAddFileWithSamePath(t *testing.T) {
	ctx := context.Background()
	s := newStorageForTesting(t)

	_, err := s.AddFile(ctx, NewFile("a.txt", []byte("blob1"), ""))
	require.NoError(t, err)
	_, err = s.AddFile(ctx, NewFile("a.txt", []byte("blob2"), ""))
	assert.ErrorIs(t, err, ErrFileWithSamePath)
	var vfsErr *Error
	require.ErrorAs(t, err, &vfsErr)
	assert.Equal(t, "a.txt", vfsErr.Path)

	file, err := s.GetFile(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob1"), file.Payload)

	// The same path written differently is still the same path.
	_, err = s.AddFile(ctx, NewFile("  /a.txt ", []byte("blob2"), ""))
	assert.ErrorIs(t, err, ErrFileWithSamePath)
}

func TestAddFileOverwrite(t *testing.T) {
	ctx := context.Background()
	s := newStorageForTesting(t)
	populate(t, s)

	// Overwriting a path that does not exist yet simply creates it.
	path, err := s.AddFile(ctx, NewFile("prueba0bis.txt", []byte("adios mundo"), ""), WithOverwrite(true))
	require.NoError(t, err)
	assert.Equal(t, "prueba0bis.txt", path)

	before, err := s.GetFile(ctx, "dir1/subdir2/prueba1.txt")
	require.NoError(t, err)

	replacement := NewFile("dir1/subdir2/prueba1.txt", []byte("adios mundo"), "")
	replacement.Label = "texto prueba 0"
	path, err = s.AddFile(ctx, replacement, WithOverwrite(true))
	require.NoError(t, err)
	file, err := s.GetFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "texto prueba 0", file.Label)
	assert.Equal(t, []byte("adios mundo"), file.Payload)
	assert.NotEqual(t, before.Rev, file.Rev)

	paths, err := s.ListAllPaths(ctx)
	require.NoError(t, err)
	assert.Len(t, paths, len(populatedPaths)+1)
}

func TestAddFileOverwriteChangesKind(t *testing.T) {
	ctx := context.Background()
	s := newStorageForTesting(t)
	populate(t, s)

	// A file becomes a directory and can then hold children.
	_, err := s.AddFile(ctx, NewDirectory("prueba0.txt"), WithOverwrite(true))
	require.NoError(t, err)
	dir, err := s.GetFile(ctx, "prueba0.txt")
	require.NoError(t, err)
	assert.True(t, dir.IsDirectory)
	assert.Nil(t, dir.Payload)
	_, err = s.AddFile(ctx, NewFile("prueba0.txt/child", []byte("x"), ""))
	require.NoError(t, err)

	// A directory with children stays a directory.
	_, err = s.AddFile(ctx, NewFile("dir1", []byte("x"), ""), WithOverwrite(true))
	assert.ErrorIs(t, err, ErrFileWithSamePath)
	dir, err = s.GetFile(ctx, "dir1")
	require.NoError(t, err)
	assert.True(t, dir.IsDirectory)

	// An empty directory can be replaced by a file.
	_, err = s.AddFile(ctx, NewFile("dir2", []byte("now a file"), ""), WithOverwrite(true))
	require.NoError(t, err)
	file, err := s.GetFile(ctx, "dir2")
	require.NoError(t, err)
	assert.False(t, file.IsDirectory)
	assert.Equal(t, []byte("now a file"), file.Payload)
}

func TestAddFileRequiresParentDirectory(t *testing.T) {
	ctx := context.Background()
	s := newStorageForTesting(t)

	_, err := s.AddFile(ctx, NewFile("missing/child.txt", []byte("blob"), ""))
	assert.ErrorIs(t, err, ErrInvalidPath)
	var vfsErr *Error
	require.ErrorAs(t, err, &vfsErr)
	assert.Equal(t, "missing", vfsErr.Path)

	for _, p := range []string{"missing", "missing/child.txt"} {
		exists, err := s.Exists(ctx, p)
		require.NoError(t, err)
		assert.False(t, exists, p)
	}
	docs, err := s.Unwrap().AllDocs(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)

	// A file is not a directory.
	_, err = s.AddFile(ctx, NewFile("file", []byte("x"), ""))
	require.NoError(t, err)
	_, err = s.AddFile(ctx, NewFile("file/child", []byte("x"), ""))
	assert.ErrorIs(t, err, ErrInvalidPath)
	_, err = s.MkDir(ctx, "file/sub", WithParents(true))
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestMkDir(t *testing.T) {
	ctx := context.Background()
	s := newStorageForTesting(t)

	path, err := s.MkDir(ctx, "dir1")
	require.NoError(t, err)
	assert.Equal(t, "dir1", path)
	dir, err := s.GetFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "dir1", dir.Path)
	assert.Equal(t, "dir1", dir.Label)
	assert.True(t, dir.IsDirectory)
	assert.Nil(t, dir.Payload)

	_, err = s.MkDir(ctx, "dir1")
	assert.ErrorIs(t, err, ErrFileWithSamePath)
	_, err = s.MkDir(ctx, "x/y/z")
	assert.ErrorIs(t, err, ErrInvalidPath)
	_, err = s.MkDir(ctx, "/")
	assert.ErrorIs(t, err, ErrInvalidPath)
	_, err = s.MkDir(ctx, "", WithParents(true))
	assert.ErrorIs(t, err, ErrInvalidPath)

	path, err = s.MkDir(ctx, "x/y/z", WithParents(true))
	require.NoError(t, err)
	assert.Equal(t, "x/y/z", path)
	paths, err := s.ListAllPaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dir1", "x", "x/y", "x/y/z"}, paths)

	// Creating parents is idempotent.
	_, err = s.MkDir(ctx, "x/y/z", WithParents(true))
	require.NoError(t, err)
	_, err = s.MkDir(ctx, "dir1/sub", WithParents(true))
	require.NoError(t, err)
}

func TestMkDirParentsOnEmptyStore(t *testing.T) {
	ctx := context.Background()
	s := newStorageForTesting(t)

	_, err := s.MkDir(ctx, "x/y/z", WithParents(true))
	require.NoError(t, err)
	paths, err := s.ListAllPaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "x/y", "x/y/z"}, paths)
}

func TestRmDir(t *testing.T) {
	ctx := context.Background()
	s := newStorageForTesting(t)
	populate(t, s)

	removed, err := s.RmDir(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = s.RmDir(ctx, "prueba0.txt")
	require.NoError(t, err)
	assert.False(t, removed, "files are not removed by RmDir")

	removed, err = s.RmDir(ctx, "dir1/subdir1")
	require.NoError(t, err)
	assert.False(t, removed, "directory is not empty")
	_, err = s.GetFile(ctx, "dir1/subdir1/prueba3.txt")
	require.NoError(t, err)

	removed, err = s.RmDir(ctx, "dir2")
	require.NoError(t, err)
	assert.True(t, removed, "empty directory")

	removed, err = s.RmDir(ctx, "dir1/subdir1", WithRecursive(true))
	require.NoError(t, err)
	assert.True(t, removed)
	for _, p := range []string{"dir1/subdir1", "dir1/subdir1/prueba3.txt", "dir1/subdir1/prueba4 con espacios ñ €.txt"} {
		_, err = s.GetFile(ctx, p)
		assert.ErrorIs(t, err, ErrFileNotFound, p)
	}
	_, err = s.GetFile(ctx, "dir1/subdir2/prueba1.txt")
	require.NoError(t, err, "siblings are untouched")

	_, err = s.RmDir(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestRmDirRecursiveDeepTree(t *testing.T) {
	ctx := context.Background()
	s := newStorageForTesting(t, WithRemoveWorkers(2))
	populate(t, s)

	for i := range 20 {
		addTextFile(t, s, fmt.Sprintf("a/b/c/file%02d", i), "", "content")
	}
	removed, err := s.RmDir(ctx, "a", WithRecursive(true))
	require.NoError(t, err)
	assert.True(t, removed)

	paths, err := s.ListAllPaths(ctx)
	require.NoError(t, err)
	for _, p := range paths {
		assert.NotEqual(t, "a", p)
		assert.NotContains(t, p, "a/b")
	}
	assert.Len(t, paths, len(populatedPaths)-7)
}

// failingRemoveBackend rejects the removal of one document as if it had changed since it was listed.
type failingRemoveBackend struct {
	Backend
	failID string
}

func (b *failingRemoveBackend) Remove(ctx context.Context, id string, rev string) (string, error) {
	if id == b.failID {
		return "", kvstore.ErrDocConflict
	}
	return b.Backend.Remove(ctx, id, rev)
}

func TestRmDirRecursiveChildFailure(t *testing.T) {
	ctx := context.Background()
	backend := &failingRemoveBackend{Backend: newBackendForTesting(t)}
	s, _, err := Open(ctx, backend, WithLogger(zaptest.NewLogger(t)), WithRemoveWorkers(1))
	require.NoError(t, err)

	_, err = s.MkDir(ctx, "d/sub", WithParents(true))
	require.NoError(t, err)
	addTextFile(t, s, "d/a.txt", "", "a")
	addTextFile(t, s, "d/sub/c.txt", "", "c")
	backend.failID = s.Layout().DocumentID([]string{"d", "sub", "c.txt"})

	removed, err := s.RmDir(ctx, "d", WithRecursive(true))
	assert.False(t, removed)
	require.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, kvstore.ErrDocConflict)
	var vfsErr *Error
	require.ErrorAs(t, err, &vfsErr)
	assert.Equal(t, "d/sub/c.txt", vfsErr.Path)

	for _, p := range []string{"d", "d/sub", "d/sub/c.txt"} {
		exists, err := s.Exists(ctx, p)
		require.NoError(t, err)
		assert.True(t, exists, p)
	}

	// Once the child can be removed the directory goes as well.
	backend.failID = ""
	removed, err = s.RmDir(ctx, "d", WithRecursive(true))
	require.NoError(t, err)
	assert.True(t, removed)
	exists, err := s.Exists(ctx, "d")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newStorageForTesting(t)
	populate(t, s)

	deleted, err := s.Delete(ctx, "dir1")
	require.NoError(t, err)
	assert.False(t, deleted, "directories are not deleted")

	deleted, err = s.Delete(ctx, "missing.txt")
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = s.Delete(ctx, "dir1/subdir2/prueba1.txt")
	require.NoError(t, err)
	assert.True(t, deleted)
	_, err = s.GetFile(ctx, "dir1/subdir2/prueba1.txt")
	assert.ErrorIs(t, err, ErrFileNotFound)

	deleted, err = s.Delete(ctx, "dir1/subdir2/prueba1.txt")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = s.Delete(ctx, "/")
	assert.ErrorIs(t, err, ErrInvalidPath)

	// A deleted path can be reused.
	addTextFile(t, s, "dir1/subdir2/prueba1.txt", "", "again")
	file, err := s.GetFile(ctx, "dir1/subdir2/prueba1.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("again"), file.Payload)
}

func TestListAllFiles(t *testing.T) {
	ctx := context.Background()
	s := newStorageForTesting(t)
	populate(t, s)

	files, err := s.ListAllFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 22)
	paths := []string{}
	for _, f := range files {
		paths = append(paths, f.Path)
		assert.Nil(t, f.Payload, "payloads are not included by default")
	}
	assert.Equal(t, populatedPaths, paths)

	onlyPaths, err := s.ListAllPaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, populatedPaths, onlyPaths)

	files, err = s.ListAllFiles(ctx, WithPayloads(true))
	require.NoError(t, err)
	for _, f := range files {
		if f.Path == "prueba0.txt" {
			assert.Equal(t, []byte("hola mundo"), f.Payload)
			assert.Equal(t, "texto prueba 0", f.Label)
		}
	}
}

func TestListAllFilesOnAPath(t *testing.T) {
	ctx := context.Background()
	s := newStorageForTesting(t)
	populate(t, s)

	files, err := s.ListAllFilesOnAPath(ctx, "dir1")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "dir1/subdir1", files[0].Path)
	assert.Equal(t, "dir1/subdir2", files[1].Path)

	paths, err := s.ListAllPathsOnAPath(ctx, "dir1/subdir1")
	require.NoError(t, err)
	assert.Equal(t, []string{"dir1/subdir1/prueba3.txt", norm.NFD.String("dir1/subdir1/prueba4 con espacios ñ €.txt")}, paths)

	files, err = s.ListAllFilesOnAPath(ctx, "/dir1/subdir1/", WithPayloads(true))
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, []byte("hola mundo4"), files[0].Payload)

	paths, err = s.ListAllPathsOnAPath(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "a", "dir1", "dir2", "prueba0.txt", "z"}, paths)

	paths, err = s.ListAllPathsOnAPath(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestListTree(t *testing.T) {
	ctx := context.Background()
	s := newStorageForTesting(t)
	populate(t, s)

	treePaths := func(entries []*Entry) []string {
		out := []string{}
		for _, e := range entries {
			out = append(out, e.Path)
		}
		return out
	}

	entries, err := s.ListTree(ctx, "dir1/subdir2")
	require.NoError(t, err)
	assert.Equal(t, []string{"dir1/subdir2", "dir1/subdir2/prueba1.txt", "dir1/subdir2/prueba2.txt"}, treePaths(entries))
	assert.True(t, entries[0].IsDirectory)
	assert.Nil(t, entries[1].Payload)
	assert.Equal(t, int64(len("hola mundo2")), entries[1].Size)

	entries, err = s.ListTree(ctx, "prueba0.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"prueba0.txt"}, treePaths(entries))

	entries, err = s.ListTree(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, populatedPaths, treePaths(entries))

	_, err = s.ListTree(ctx, "dir3")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestUnicodePaths(t *testing.T) {
	ctx := context.Background()
	s := newStorageForTesting(t)

	composed := "espa\u00f1a.txt"
	decomposed := "espan\u0303a.txt"
	path, err := s.AddFile(ctx, NewFile(composed, []byte("ñ"), ""))
	require.NoError(t, err)
	assert.Equal(t, decomposed, path)

	_, err = s.AddFile(ctx, NewFile(decomposed, []byte("ñ"), ""))
	assert.ErrorIs(t, err, ErrFileWithSamePath)
	file, err := s.GetFile(ctx, composed)
	require.NoError(t, err)
	assert.Equal(t, decomposed, file.Path)
}

func TestFormat(t *testing.T) {
	ctx := context.Background()
	backend := newBackendForTesting(t)
	s, _, err := Open(ctx, backend)
	require.NoError(t, err)
	populate(t, s)

	// Entries in another namespace of the same backend survive formatting.
	otherLayout, err := NewLayout("/", "other_")
	require.NoError(t, err)
	other, info, err := Open(ctx, backend, WithLayout(otherLayout))
	require.NoError(t, err)
	assert.False(t, info.FirstRun)
	_, err = other.MkDir(ctx, "dir1")
	require.NoError(t, err)
	paths, err := other.ListAllPaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dir1"}, paths)

	require.NoError(t, s.Format(ctx))
	paths, err = s.ListAllPaths(ctx)
	require.NoError(t, err)
	assert.Empty(t, paths)
	require.NoError(t, s.Format(ctx), "formatting an empty storage")

	paths, err = other.ListAllPaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dir1"}, paths)

	initialized, err := IsInitialized(ctx, backend)
	require.NoError(t, err)
	assert.True(t, initialized, "the setup flag survives formatting")

	_, err = s.MkDir(ctx, "dir1")
	require.NoError(t, err, "formatted storage is usable again")
}

func TestOverlappingIDPrefixes(t *testing.T) {
	ctx := context.Background()
	backend := newBackendForTesting(t)
	short, _, err := Open(ctx, backend)
	require.NoError(t, err)
	longLayout, err := NewLayout("/", DefaultIDPrefix+"x")
	require.NoError(t, err)
	long, _, err := Open(ctx, backend, WithLayout(longLayout))
	require.NoError(t, err)

	_, err = long.MkDir(ctx, "p")
	require.NoError(t, err)
	_, err = short.MkDir(ctx, "xp")
	require.NoError(t, err, "xp and p live in different namespaces")

	paths, err := short.ListAllPaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"xp"}, paths)

	require.NoError(t, short.Format(ctx))
	paths, err = long.ListAllPaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p"}, paths)
	paths, err = short.ListAllPaths(ctx)
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestConcurrentAddFile(t *testing.T) {
	ctx := context.Background()
	s := newStorageForTesting(t)

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		failures  []error
	)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AddFile(ctx, NewFile("race.txt", []byte(fmt.Sprintf("writer %d", i)), ""))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			failures = append(failures, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	for _, err := range failures {
		assert.True(t, errors.Is(err, ErrFileWithSamePath) || errors.Is(err, kvstore.ErrDocConflict), err.Error())
	}
}

func TestStaleRevisionIsStorageError(t *testing.T) {
	ctx := context.Background()
	s := newStorageForTesting(t)
	addTextFile(t, s, "f.txt", "", "v1")

	doc, err := s.Unwrap().Get(ctx, "file_:f.txt")
	require.NoError(t, err)
	doc.Value.Label = "changed behind the facade"
	doc.Attachments = nil
	_, err = s.Unwrap().Put(ctx, doc)
	require.NoError(t, err)

	// Removing with the revision that was listed before the change fails.
	err = s.removeDocument(ctx, &Document{ID: doc.ID, Rev: doc.Rev, Value: doc.Value})
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, kvstore.ErrDocConflict)
}

func TestCancelledContext(t *testing.T) {
	s := newStorageForTesting(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.MkDir(ctx, "dir")
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.ListAllFiles(ctx)
	assert.ErrorIs(t, err, ErrStorage)
}

func TestStorageWithoutSetup(t *testing.T) {
	s := New(newBackendForTesting(t))
	_, err := s.ListAllPaths(context.Background())
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, kvstore.ErrIndexNotDefined)
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewPedanticRegistry()
	s := newStorageForTesting(t, WithMetrics(NewMetrics(reg)))

	addTextFile(t, s, "a.txt", "", "12345")
	_, err := s.AddFile(ctx, NewFile("a.txt", []byte("x"), ""))
	require.Error(t, err)
	_, err = s.GetFile(ctx, "a.txt")
	require.NoError(t, err)
	_, err = s.GetFile(ctx, "b.txt")
	require.Error(t, err)

	m := s.metrics
	assert.Equal(t, float64(1), testutil.ToFloat64(m.operations.WithLabelValues("add_file", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.operations.WithLabelValues("add_file", "exists")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.operations.WithLabelValues("get_file", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.operations.WithLabelValues("get_file", "not_found")))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.payloadBytes.WithLabelValues("in")))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.payloadBytes.WithLabelValues("out")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.duration))

	// A nil Metrics is valid.
	var none *Metrics
	none.addBytes("in", 1)
	var noErr error
	none.observe("noop", time.Now(), &noErr)
}

func TestConfigOptions(t *testing.T) {
	opts, err := Config{}.Options()
	require.NoError(t, err)
	assert.Empty(t, opts)

	opts, err = Config{Separator: ":", RemoveWorkers: 3}.Options()
	require.NoError(t, err)
	s := New(newBackendForTesting(t), opts...)
	assert.Equal(t, ":", s.Layout().Separator())
	assert.Equal(t, DefaultIDPrefix, s.Layout().IDPrefix())
	assert.Equal(t, 3, s.workers)

	_, err = Config{RemoveWorkers: -1}.Options()
	assert.Error(t, err)
	_, err = Config{Separator: "/", IDPrefix: "a/b"}.Options()
	assert.Error(t, err)
	_, err = Config{IDPrefix: "a:b"}.Options()
	assert.Error(t, err)
}
