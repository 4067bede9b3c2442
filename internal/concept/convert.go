package concept

import (
	"fmt"
	"time"

	"github.com/discoursegraphs/dgsync/internal/frontmatter"
	"github.com/discoursegraphs/dgsync/internal/relations"
	"github.com/discoursegraphs/dgsync/internal/schema"
	"github.com/discoursegraphs/dgsync/internal/vault"
)

// Roles of a binary relation.
const (
	RoleSource       = "source"
	RoleDestination  = "destination"
	RoleRelationType = "relation_type"
)

// Converter turns local schema and vault records into concepts for one
// space.
type Converter struct {
	SpaceID        int64
	AccountLocalID string
	// Now stamps schema concepts, which carry no file times. Defaults to
	// time.Now.
	Now func() time.Time
}

func (c Converter) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

// NodeType converts a node type to a schema concept.
func (c Converter) NodeType(n schema.NodeType) Concept {
	sourceData := map[string]interface{}{}
	setNonEmpty(sourceData, "format", n.Format)
	setNonEmpty(sourceData, "color", n.Color)
	setNonEmpty(sourceData, "tag", n.Tag)
	if n.KeyImage != nil {
		sourceData["keyImage"] = *n.KeyImage
	}
	sourceData["created"] = n.Created
	sourceData["modified"] = n.Modified

	literal := map[string]interface{}{
		"label":       n.Name,
		"source_data": sourceData,
	}
	setNonEmpty(literal, "template", n.Template)

	now := c.now()
	return Concept{
		SpaceID:        c.SpaceID,
		Name:           n.Name,
		SourceLocalID:  n.ID,
		IsSchema:       true,
		AuthorLocalID:  c.AccountLocalID,
		Description:    n.Description,
		LiteralContent: literal,
		Created:        now,
		LastModified:   now,
	}
}

// RelationType converts a relation type to a schema concept.
func (c Converter) RelationType(rt schema.RelationType) Concept {
	sourceData := map[string]interface{}{
		"created":  rt.Created,
		"modified": rt.Modified,
	}
	setNonEmpty(sourceData, "color", rt.Color)

	now := c.now()
	return Concept{
		SpaceID:       c.SpaceID,
		Name:          rt.Label,
		SourceLocalID: rt.ID,
		IsSchema:      true,
		AuthorLocalID: c.AccountLocalID,
		LiteralContent: map[string]interface{}{
			"label":       rt.Label,
			"complement":  rt.Complement,
			"source_data": sourceData,
		},
		Created:      now,
		LastModified: now,
	}
}

// Triple converts a relation triple to a schema concept named
// "Source -label-> Destination". The relation type must be known; unknown
// node types fall back to their ids in the name.
func (c Converter) Triple(t schema.RelationTriple, reg *schema.Registry) (Concept, error) {
	rt, ok := reg.RelationType(t.RelationshipTypeID)
	if !ok {
		return Concept{}, fmt.Errorf("missing relation type %s", t.RelationshipTypeID)
	}
	sourceName, destName := t.SourceID, t.DestinationID
	if n, ok := reg.NodeType(t.SourceID); ok {
		sourceName = n.Name
	}
	if n, ok := reg.NodeType(t.DestinationID); ok {
		destName = n.Name
	}

	now := c.now()
	return Concept{
		SpaceID:       c.SpaceID,
		Name:          fmt.Sprintf("%s -%s-> %s", sourceName, rt.Label, destName),
		SourceLocalID: t.ID(),
		IsSchema:      true,
		AuthorLocalID: c.AccountLocalID,
		LiteralContent: map[string]interface{}{
			"roles":      []string{RoleSource, RoleDestination},
			"label":      rt.Label,
			"complement": rt.Complement,
		},
		LocalReferenceContent: References{
			RoleRelationType: {t.RelationshipTypeID},
			RoleSource:       {t.SourceID},
			RoleDestination:  {t.DestinationID},
		},
		Created:      now,
		LastModified: now,
	}, nil
}

// Node converts a vault node to an instance concept.
func (c Converter) Node(n vault.Node, info vault.FileInfo) Concept {
	otherData := n.Fields.Without(frontmatter.KeyNodeInstanceID, frontmatter.KeyNodeTypeID)
	return Concept{
		SpaceID:                    c.SpaceID,
		Name:                       n.Path,
		SourceLocalID:              n.NodeInstanceID,
		SchemaRepresentedByLocalID: n.NodeTypeID,
		LiteralContent: map[string]interface{}{
			"label":       n.Basename(),
			"source_data": map[string]interface{}(otherData),
		},
		AuthorLocalID: c.AccountLocalID,
		Created:       info.Created.UTC(),
		LastModified:  info.Modified.UTC(),
	}
}

// Relation converts a stored relation to an instance concept of its
// triple. ok is false for imported relations and relations whose endpoints
// are not nodes in nodesByID.
func (c Converter) Relation(r relations.Relation, reg *schema.Registry, nodesByID map[string]vault.Node) (Concept, bool) {
	if r.Imported() {
		return Concept{}, false
	}
	source, okSource := nodesByID[r.Source]
	dest, okDest := nodesByID[r.Destination]
	if !okSource || !okDest {
		return Concept{}, false
	}
	label := r.Type
	if rt, ok := reg.RelationType(r.Type); ok {
		label = rt.Label
	}
	author := r.Author
	if author == "" {
		author = c.AccountLocalID
	}

	return Concept{
		SpaceID:                    c.SpaceID,
		Name:                       fmt.Sprintf("[[%s]] -%s-> [[%s]]", source.Basename(), label, dest.Basename()),
		SourceLocalID:              r.ID,
		SchemaRepresentedByLocalID: schema.TripleID(r.Type, source.NodeTypeID, dest.NodeTypeID),
		LocalReferenceContent: References{
			RoleSource:      {r.Source},
			RoleDestination: {r.Destination},
		},
		AuthorLocalID: author,
		Created:       time.UnixMilli(r.Created).UTC(),
		LastModified:  time.UnixMilli(r.ModifiedAt()).UTC(),
	}, true
}

func setNonEmpty(m map[string]interface{}, key, value string) {
	if value != "" {
		m[key] = value
	}
}
