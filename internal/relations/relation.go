// Package relations persists the vault's typed relation graph in
// _discourse_graphs/relations.json.
package relations

import (
	"errors"
	"fmt"
)

const (
	// FileName is the relations document inside the data folder.
	FileName = "relations.json"

	// FileVersion is the current document schema version.
	FileVersion = 1

	// DefaultAuthor is recorded when no account id is configured.
	DefaultAuthor = "local"
)

// ErrInvalidRelation is returned when add parameters are incomplete.
var ErrInvalidRelation = errors.New("invalid relation")

// Relation is a directed typed edge between two node instances.
type Relation struct {
	ID                  string   `json:"id"`
	Type                string   `json:"type"`
	Source              string   `json:"source"`
	Destination         string   `json:"destination"`
	Created             int64    `json:"created"`
	Author              string   `json:"author"`
	LastModified        *int64   `json:"lastModified,omitempty"`
	ImportedFromSpaceID *int64   `json:"importedFromSpaceId,omitempty"`
	PublishedToGroupID  []string `json:"publishedToGroupId,omitempty"`
}

// ModifiedAt returns LastModified when set, otherwise Created.
func (r Relation) ModifiedAt() int64 {
	if r.LastModified != nil {
		return *r.LastModified
	}
	return r.Created
}

// Imported reports whether the relation was copied from another space.
func (r Relation) Imported() bool {
	return r.ImportedFromSpaceID != nil
}

// File is the persisted aggregate.
type File struct {
	Version      int                 `json:"version"`
	LastModified int64               `json:"lastModified"`
	Relations    map[string]Relation `json:"relations"`
}

// Empty returns the structural default used whenever the document is
// missing or unreadable.
func Empty() File {
	return File{
		Version:      FileVersion,
		LastModified: 0,
		Relations:    map[string]Relation{},
	}
}

// AddParams describes a relation to insert.
type AddParams struct {
	Type                string
	Source              string
	Destination         string
	Author              string
	ImportedFromSpaceID *int64
	PublishedToGroupID  []string
}

// Validate checks the required fields.
func (p AddParams) Validate() error {
	if p.Type == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidRelation)
	}
	if p.Source == "" {
		return fmt.Errorf("%w: source is required", ErrInvalidRelation)
	}
	if p.Destination == "" {
		return fmt.Errorf("%w: destination is required", ErrInvalidRelation)
	}
	return nil
}

// AddResult is returned by Store.Add.
type AddResult struct {
	ID             string
	AlreadyExisted bool
}

// FindByTriple returns the first relation matching source, destination and
// type exactly. Direction matters.
func FindByTriple(f File, source, destination, typ string) (Relation, bool) {
	for _, r := range f.Relations {
		if r.Source == source && r.Destination == destination && r.Type == typ {
			return r, true
		}
	}
	return Relation{}, false
}

// ExistsBetween checks both directions for a relation of the given type and
// returns its id, or "" if none.
func ExistsBetween(f File, source, destination, typ string) string {
	if r, ok := FindByTriple(f, source, destination, typ); ok {
		return r.ID
	}
	if r, ok := FindByTriple(f, destination, source, typ); ok {
		return r.ID
	}
	return ""
}
