package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid schema")

// NodeType describes a kind of discourse node. Times are unix milliseconds.
type NodeType struct {
	ID          string `toml:"id"`
	Name        string `toml:"name"`
	Format      string `toml:"format,omitempty"`
	Color       string `toml:"color,omitempty"`
	Tag         string `toml:"tag,omitempty"`
	Template    string `toml:"template,omitempty"`
	KeyImage    *bool  `toml:"key_image,omitempty"`
	Description string `toml:"description,omitempty"`
	Created     int64  `toml:"created"`
	Modified    int64  `toml:"modified"`
}

// Validate checks required fields.
func (n *NodeType) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("%w: node type id is required", ErrInvalid)
	}
	if strings.TrimSpace(n.Name) == "" {
		return fmt.Errorf("%w: node type %s has no name", ErrInvalid, n.ID)
	}
	return nil
}

// RelationType is a labelled edge kind, e.g. supports / is supported by.
type RelationType struct {
	ID         string `toml:"id"`
	Label      string `toml:"label"`
	Complement string `toml:"complement"`
	Color      string `toml:"color,omitempty"`
	Created    int64  `toml:"created"`
	Modified   int64  `toml:"modified"`
}

// Validate checks required fields.
func (r *RelationType) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: relation type id is required", ErrInvalid)
	}
	if strings.TrimSpace(r.Label) == "" {
		return fmt.Errorf("%w: relation type %s has no label", ErrInvalid, r.ID)
	}
	return nil
}

// RelationTriple allows a relation type between a source and a destination
// node type.
type RelationTriple struct {
	RelationshipTypeID string `toml:"relationship_type_id"`
	SourceID           string `toml:"source_id"`
	DestinationID      string `toml:"destination_id"`
	Created            int64  `toml:"created"`
	Modified           int64  `toml:"modified"`
}

// ID is the composite local id relType:source:destination.
func (t RelationTriple) ID() string {
	return TripleID(t.RelationshipTypeID, t.SourceID, t.DestinationID)
}

// TripleID builds a composite triple id.
func TripleID(relationTypeID, sourceTypeID, destinationTypeID string) string {
	return strings.Join([]string{relationTypeID, sourceTypeID, destinationTypeID}, ":")
}

// Validate checks required fields.
func (t *RelationTriple) Validate() error {
	if t.RelationshipTypeID == "" || t.SourceID == "" || t.DestinationID == "" {
		return fmt.Errorf("%w: relation triple needs type, source and destination", ErrInvalid)
	}
	return nil
}
