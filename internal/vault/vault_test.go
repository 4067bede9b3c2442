package vault

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFS(t *testing.T) *FS {
	t.Helper()
	return NewFS(t.TempDir(), nil)
}

func TestFS_ReadWrite(t *testing.T) {
	v := newFS(t)

	require.NoError(t, v.Write("notes/a.md", "hello"))
	got, err := v.Read("notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	_, err = v.Read("missing.md")
	assert.True(t, errors.Is(err, ErrNotExist))
	assert.True(t, v.Exists("notes/a.md"))
	assert.False(t, v.Exists("notes/b.md"))
}

func TestFS_ListAllSkipsDataAndDotFolders(t *testing.T) {
	v := newFS(t)
	for _, p := range []string{"b.md", "sub/a.md", "_discourse_graphs/x.md", ".obsidian/y.md", "image.png"} {
		require.NoError(t, v.Write(p, "x"))
	}

	paths, err := v.ListAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"b.md", "sub/a.md"}, paths)
}

func TestFS_RenameRefusesExistingTarget(t *testing.T) {
	v := newFS(t)
	require.NoError(t, v.Write("a.md", "a"))
	require.NoError(t, v.Write("b.md", "b"))

	err := v.Rename("a.md", "b.md")
	assert.True(t, errors.Is(err, ErrExist))

	require.NoError(t, v.Rename("a.md", "dir/c.md"))
	assert.False(t, v.Exists("a.md"))
	assert.True(t, v.Exists("dir/c.md"))
}

func TestFS_DeleteMissingIsNoop(t *testing.T) {
	v := newFS(t)
	assert.NoError(t, v.Delete("nope.md"))
}

func TestFS_Metadata(t *testing.T) {
	v := newFS(t)
	require.NoError(t, v.Write("n.md", "---\nnodeTypeId: claim\n---\nbody"))

	fields, ok := v.Metadata("n.md")
	require.True(t, ok)
	assert.Equal(t, "claim", fields.String("nodeTypeId"))

	// A rewrite with a different size invalidates the cache.
	require.NoError(t, v.Write("n.md", "---\nnodeTypeId: evidence\n---\nbody"))
	fields, ok = v.Metadata("n.md")
	require.True(t, ok)
	assert.Equal(t, "evidence", fields.String("nodeTypeId"))

	_, ok = v.Metadata("missing.md")
	assert.False(t, ok)
}

func TestFS_AbsRel(t *testing.T) {
	v := newFS(t)
	abs := v.Abs("a/b.md")
	assert.Equal(t, filepath.Join(v.Root(), "a", "b.md"), abs)
	rel, err := v.Rel(abs)
	require.NoError(t, err)
	assert.Equal(t, "a/b.md", rel)
}

func TestFS_Stat(t *testing.T) {
	v := newFS(t)
	require.NoError(t, v.Write("a.md", "x"))
	info, err := v.Stat("a.md")
	require.NoError(t, err)
	st, err := os.Stat(v.Abs("a.md"))
	require.NoError(t, err)
	assert.True(t, info.Modified.Equal(st.ModTime()))

	_, err = v.Stat("missing.md")
	assert.True(t, errors.Is(err, ErrNotExist))
}

func TestClean(t *testing.T) {
	assert.Equal(t, "a/b.md", Clean("/a//b.md"))
	assert.Equal(t, "a/b.md", Clean(`a\b.md`))
	assert.Equal(t, "b.md", Clean("a/../b.md"))
}

func TestBasename(t *testing.T) {
	assert.Equal(t, "Claim one", Basename("folder/Claim one.md"))
}

func TestMergeChanges(t *testing.T) {
	got := MergeChanges([]ChangeType{ChangeContent}, []ChangeType{ChangeTitle, ChangeContent})
	assert.Equal(t, []ChangeType{ChangeContent, ChangeTitle}, got)
	assert.True(t, HasChange(got, ChangeTitle))
	assert.False(t, HasChange(nil, ChangeTitle))
	assert.Empty(t, MergeChanges(nil, nil))
}
