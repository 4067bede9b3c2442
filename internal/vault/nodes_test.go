package vault

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discoursegraphs/dgsync/internal/frontmatter"
)

func TestNodeAt_GeneratesInstanceID(t *testing.T) {
	m := NewMemStore()
	require.NoError(t, m.Write("Claim.md", "---\nnodeTypeId: claim\n---\nBody\n"))

	node, ok, err := NodeAt(m, "Claim.md")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "claim", node.NodeTypeID)
	assert.Equal(t, "Claim", node.Basename())

	parsed, err := uuid.Parse(node.NodeInstanceID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())

	content, _ := m.Read("Claim.md")
	fields, body, err := frontmatter.Parse(content)
	require.NoError(t, err)
	assert.Equal(t, node.NodeInstanceID, fields.String("nodeInstanceId"))
	assert.Equal(t, "Body\n", body)
}

func TestNodeInstanceIDForPath_StableUnderLag(t *testing.T) {
	m := NewMemStore()
	require.NoError(t, m.Write("a.md", "---\nnodeTypeId: claim\n---\n"))
	m.RefreshMetadata()
	m.SetMetadataLag(true)

	first, _, err := NodeAt(m, "a.md")
	require.NoError(t, err)
	// The cache still lacks the id; the file content is authoritative.
	second, _, err := NodeAt(m, "a.md")
	require.NoError(t, err)
	assert.Equal(t, first.NodeInstanceID, second.NodeInstanceID)
}

func TestNodeAt_NotANode(t *testing.T) {
	m := NewMemStore()
	require.NoError(t, m.Write("plain.md", "just text"))
	require.NoError(t, m.Write("pic.png", "x"))

	for _, p := range []string{"plain.md", "pic.png", "missing.md"} {
		_, ok, err := NodeAt(m, p)
		require.NoError(t, err)
		assert.False(t, ok, p)
	}
}

func TestCollectNodes(t *testing.T) {
	m := NewMemStore()
	require.NoError(t, m.Write("a.md", "---\nnodeTypeId: claim\nnodeInstanceId: id-a\n---\n"))
	require.NoError(t, m.Write("b.md", "---\nnodeTypeId: claim\nnodeInstanceId: id-b\nimportedFromSpaceUri: file:///other\n---\n"))
	require.NoError(t, m.Write("c.md", "---\nnodeTypeId: claim\nnodeInstanceId: id-c\nimportedFromRid: orn:x\n---\n"))
	require.NoError(t, m.Write("d.md", "no frontmatter"))

	local, err := CollectNodes(m, false)
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, "id-a", local[0].NodeInstanceID)

	all, err := CollectNodes(m, true)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	known, err := KnownNodeInstanceIDs(m)
	require.NoError(t, err)
	assert.Len(t, known, 3)

	p, ok, err := PathForNodeInstanceID(m, "id-b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b.md", p)
}

func TestResolveLink(t *testing.T) {
	m := NewMemStore()
	for _, p := range []string{"x/Target.md", "Target.md", "y/deep/Target.md", "y/Other.md"} {
		require.NoError(t, m.Write(p, ""))
	}

	tests := []struct {
		name, target, from, want string
		ok                       bool
	}{
		{"same folder wins", "Target", "y/deep/Note.md", "y/deep/Target.md", true},
		{"shortest path", "Target", "z/Note.md", "Target.md", true},
		{"explicit folder", "x/Target", "Note.md", "x/Target.md", true},
		{"with extension", "Other.md", "Note.md", "y/Other.md", true},
		{"missing", "Nope", "Note.md", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := ResolveLink(m, tt.target, tt.from)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
