package importer

import (
	"context"
	"errors"
	"fmt"

	"github.com/discoursegraphs/dgsync/internal/frontmatter"
	"github.com/discoursegraphs/dgsync/internal/remote"
	"github.com/discoursegraphs/dgsync/internal/schema"
)

// MapSchemaID maps a node type id from a remote space to a local one.
//
// The remote schema's display name is the key: a local type with the same
// id or, failing that, the same name is reused. Otherwise a new local type
// is created from the remote literal and saved. When the remote space has
// no such schema the remote id is returned unchanged.
func (im *Importer) MapSchemaID(ctx context.Context, remoteSpaceID int64, remoteSchemaID string) (string, error) {
	row, err := remote.SelectOne(ctx, im.client(), remote.ViewMyConcepts, remote.Query{
		Columns: []string{"name", "literal_content"},
		Filters: []remote.Filter{
			remote.Eq("space_id", remoteSpaceID),
			remote.Eq("is_schema", true),
			remote.Eq("source_local_id", remoteSchemaID),
		},
	})
	if errors.Is(err, remote.ErrNotFound) {
		return remoteSchemaID, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up schema %s: %w", remoteSchemaID, err)
	}
	name := row.String("name")
	if name == "" {
		return remoteSchemaID, nil
	}

	if local, ok := im.schema.NodeType(remoteSchemaID); ok {
		return local.ID, nil
	}
	if local, ok := im.schema.NodeTypeByName(name); ok {
		return local.ID, nil
	}

	lit, err := frontmatter.ParseSchemaLiteral(row["literal_content"], name)
	if err != nil {
		return "", fmt.Errorf("failed to parse schema %s: %w", remoteSchemaID, err)
	}
	created, err := im.schema.AddNodeType(schema.NodeType{
		Name:     lit.Name,
		Format:   lit.Format,
		Color:    lit.Color,
		Tag:      lit.Tag,
		Template: lit.Template,
		KeyImage: lit.KeyImage,
	})
	if err != nil {
		return "", fmt.Errorf("failed to save node type %q: %w", lit.Name, err)
	}
	im.logger.Info("Created node type from remote schema", "name", created.Name, "id", created.ID, "remote_id", remoteSchemaID)
	return created.ID, nil
}
