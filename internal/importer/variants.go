package importer

import (
	"github.com/discoursegraphs/dgsync/internal/remote"
	"github.com/discoursegraphs/dgsync/internal/vault"
)

// Variants returns the content variants refreshed by changes: a title
// change refreshes the direct variant, a content change the full one.
func Variants(changes []vault.ChangeType) []string {
	var out []string
	if vault.HasChange(changes, vault.ChangeTitle) {
		out = append(out, remote.VariantDirect)
	}
	if vault.HasChange(changes, vault.ChangeContent) {
		out = append(out, remote.VariantFull)
	}
	return out
}

// NodeContent is a node file ready to be turned into content rows.
type NodeContent struct {
	Node    vault.Node
	Info    vault.FileInfo
	Body    string // full file content, frontmatter included
	Changes []vault.ChangeType
}

// ContentRows builds the rows for the variants n's changes call for. The
// direct row carries the title and is the only one that gets embedded;
// the full row carries the whole file. A node with neither change type
// yields nothing.
func ContentRows(n NodeContent, accountLocalID string) []remote.ContentInput {
	base := remote.ContentInput{
		AuthorLocalID:  accountLocalID,
		CreatorLocalID: accountLocalID,
		SourceLocalID:  n.Node.NodeInstanceID,
		Created:        n.Info.Created,
		LastModified:   n.Info.Modified,
		Scale:          remote.ScaleDocument,
		Metadata:       map[string]interface{}(n.Node.Fields),
	}

	var rows []remote.ContentInput
	for _, variant := range Variants(n.Changes) {
		row := base
		row.Variant = variant
		if variant == remote.VariantDirect {
			row.Text = n.Node.Basename()
		} else {
			row.Text = n.Body
		}
		rows = append(rows, row)
	}
	return rows
}
