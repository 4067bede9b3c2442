package importer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discoursegraphs/dgsync/internal/frontmatter"
	"github.com/discoursegraphs/dgsync/internal/remote"
	"github.com/discoursegraphs/dgsync/internal/vault"
)

func TestVariants(t *testing.T) {
	tests := []struct {
		name    string
		changes []vault.ChangeType
		want    []string
	}{
		{"title only", []vault.ChangeType{vault.ChangeTitle}, []string{remote.VariantDirect}},
		{"content only", []vault.ChangeType{vault.ChangeContent}, []string{remote.VariantFull}},
		{"both", []vault.ChangeType{vault.ChangeContent, vault.ChangeTitle}, []string{remote.VariantDirect, remote.VariantFull}},
		{"none", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Variants(tt.changes))
		})
	}
}

func TestContentRows(t *testing.T) {
	t0 := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	n := NodeContent{
		Node: vault.Node{
			Path:           "notes/Claim A.md",
			Fields:         frontmatter.Fields{"nodeTypeId": "clm", "nodeInstanceId": "n1"},
			NodeTypeID:     "clm",
			NodeInstanceID: "n1",
		},
		Info:    vault.FileInfo{Created: t0, Modified: t0.Add(time.Hour)},
		Body:    "---\nnodeTypeId: clm\n---\nbody",
		Changes: []vault.ChangeType{vault.ChangeTitle, vault.ChangeContent},
	}

	rows := ContentRows(n, "me")
	require.Len(t, rows, 2)

	assert.Equal(t, remote.VariantDirect, rows[0].Variant)
	assert.Equal(t, "Claim A", rows[0].Text)
	assert.Equal(t, remote.VariantFull, rows[1].Variant)
	assert.Equal(t, n.Body, rows[1].Text)
	for _, r := range rows {
		assert.Equal(t, "n1", r.SourceLocalID)
		assert.Equal(t, "me", r.AuthorLocalID)
		assert.Equal(t, remote.ScaleDocument, r.Scale)
		assert.Equal(t, t0.Add(time.Hour), r.LastModified)
		assert.Nil(t, r.EmbeddingInline)
	}

	n.Changes = nil
	assert.Empty(t, ContentRows(n, "me"))
}
