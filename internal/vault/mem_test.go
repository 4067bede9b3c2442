package vault

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore_MetadataLag(t *testing.T) {
	m := NewMemStore()
	require.NoError(t, m.Write("a.md", "---\nnodeTypeId: claim\n---\n"))
	m.RefreshMetadata()
	m.SetMetadataLag(true)

	require.NoError(t, m.Write("a.md", "---\nnodeTypeId: evidence\n---\n"))
	fields, ok := m.Metadata("a.md")
	require.True(t, ok)
	assert.Equal(t, "claim", fields.String("nodeTypeId"), "lagging cache serves the old snapshot")

	m.RefreshMetadata()
	fields, _ = m.Metadata("a.md")
	assert.Equal(t, "evidence", fields.String("nodeTypeId"))
}

func TestMemStore_Times(t *testing.T) {
	m := NewMemStore()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := t0
	m.SetClock(func() time.Time { return now })

	require.NoError(t, m.Write("a.md", "x"))
	now = t0.Add(time.Hour)
	require.NoError(t, m.Write("a.md", "y"))

	info, err := m.Stat("a.md")
	require.NoError(t, err)
	assert.Equal(t, t0, info.Created)
	assert.Equal(t, t0.Add(time.Hour), info.Modified)

	require.NoError(t, SetTimes(m, "a.md", t0))
	info, _ = m.Stat("a.md")
	assert.Equal(t, t0, info.Modified)
	assert.ErrorIs(t, m.SetTimes("missing.md", t0), ErrNotExist)
}

func TestMemStore_RenameMovesSnapshot(t *testing.T) {
	m := NewMemStore()
	require.NoError(t, m.Write("a.md", "---\nnodeTypeId: claim\n---\n"))
	m.RefreshMetadata()
	m.SetMetadataLag(true)

	require.NoError(t, m.Rename("a.md", "b.md"))
	_, ok := m.Metadata("b.md")
	assert.True(t, ok)
	assert.False(t, m.Exists("a.md"))
}
