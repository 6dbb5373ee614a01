package kvstore

import (
	"bytes"
	"context"
	"slices"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pathIndex(id string, v testValue) [][]string {
	return [][]string{v.Path}
}

func TestIndexKeyOrderMatchesElementOrder(t *testing.T) {
	keys := [][]string{
		{"a", "b", "c"},
		{"dir1"},
		{"a"},
		{"a-x"},
		{"a", "b"},
		{"a\x00"},
		{"a", "z"},
		{"1", "2"},
		{"1"},
		{"z", "u", "v", "w"},
		{"ab"},
	}

	encoded := make([][]byte, len(keys))
	for i, k := range keys {
		encoded[i] = appendIndexKey(nil, k)
	}
	sort.Slice(encoded, func(i, j int) bool { return bytes.Compare(encoded[i], encoded[j]) < 0 })

	got := [][]string{}
	for _, e := range encoded {
		key, rest, err := decodeIndexKey(e)
		require.NoError(t, err)
		assert.Empty(t, rest)
		got = append(got, key)
	}

	want := slices.Clone(keys)
	slices.SortFunc(want, func(a, b []string) int { return slices.Compare(a, b) })
	assert.Equal(t, want, got)
	assert.Equal(t, []string{"1"}, got[0])
	assert.Equal(t, []string{"a"}, got[2])
	assert.Equal(t, []string{"a", "b"}, got[3])
}

func TestDecodeIndexKeyErrors(t *testing.T) {
	_, _, err := decodeIndexKey([]byte("abc"))
	assert.Error(t, err)
	_, _, err = decodeIndexKey([]byte{'a', escByte, 0x07})
	assert.Error(t, err)

	key, rest, err := decodeIndexKey(append(appendIndexKey(nil, []string{"x", "y"}), "doc-id"...))
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, key)
	assert.Equal(t, "doc-id", string(rest))
}

func TestQuery(t *testing.T) {
	ctx := context.Background()
	store := newInMemoryStore(t, WithIndexBatchSize(2))

	paths := []string{"a", "a/b", "a/b/c", "a/bb", "a/c", "b", "ab", "a/b/c/d"}
	// Documents written before the index exists are picked up when it is defined.
	for _, p := range paths[:4] {
		_, err := store.Put(ctx, &Document[testValue]{ID: "file_" + p, Value: testValue{Path: strings.Split(p, "/")}})
		require.NoError(t, err)
	}

	_, err := store.Query(ctx, "path")
	assert.ErrorIs(t, err, ErrIndexNotDefined)
	require.NoError(t, store.DefineIndex(ctx, "path", pathIndex))

	for _, p := range paths[4:] {
		_, err := store.Put(ctx, &Document[testValue]{ID: "file_" + p, Value: testValue{Path: strings.Split(p, "/")}})
		require.NoError(t, err)
	}

	rowPaths := func(rows []*Row[testValue]) []string {
		out := []string{}
		for _, r := range rows {
			out = append(out, strings.Join(r.Key, "/"))
		}
		return out
	}

	rows, err := store.Query(ctx, "path")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a/b", "a/b/c", "a/b/c/d", "a/bb", "a/c", "ab", "b"}, rowPaths(rows))
	for _, r := range rows {
		require.NotNil(t, r.Doc)
		assert.Equal(t, r.Key, r.Doc.Value.Path)
	}

	rows, err = store.Query(ctx, "path", WithKey("a", "b"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "file_a/b", rows[0].ID)

	rows, err = store.Query(ctx, "path", WithKeyPrefix("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b/c", "a/b/c/d"}, rowPaths(rows))

	rows, err = store.Query(ctx, "path", WithKeyPrefix("a"), WithIncludeDocs(false), WithLimit(3))
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b", "a/b/c", "a/b/c/d"}, rowPaths(rows))
	assert.Nil(t, rows[0].Doc)

	rows, err = store.Query(ctx, "path", WithKey("missing"))
	require.NoError(t, err)
	assert.Empty(t, rows)

	// Updating a document moves its index entry, removing it drops the entry.
	doc, err := store.Get(ctx, "file_ab")
	require.NoError(t, err)
	doc.Value.Path = []string{"ab", "renamed"}
	rev, err := store.Put(ctx, doc)
	require.NoError(t, err)
	rows, err = store.Query(ctx, "path", WithKey("ab"))
	require.NoError(t, err)
	assert.Empty(t, rows)
	rows, err = store.Query(ctx, "path", WithKey("ab", "renamed"))
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = store.Remove(ctx, "file_ab", rev)
	require.NoError(t, err)
	rows, err = store.Query(ctx, "path", WithKeyPrefix("ab"))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDefineIndexRejectsInvalidNames(t *testing.T) {
	store := newInMemoryStore(t)
	assert.Error(t, store.DefineIndex(context.Background(), "", pathIndex))
	assert.Error(t, store.DefineIndex(context.Background(), "bad\x00name", pathIndex))
}
