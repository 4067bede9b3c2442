// Package concept models the synchronizable records (schemas and
// instances) sent to the remote upsert_concepts call, and orders them so
// that every dependency is uploaded before its dependents.
package concept

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// References maps a role name to one or more concept ids. A role holding a
// single id is encoded as a plain string.
type References map[string][]string

// MarshalJSON encodes single-id roles as strings.
func (r References) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(r))
	for role, ids := range r {
		if len(ids) == 1 {
			out[role] = ids[0]
		} else {
			out[role] = ids
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts string or list values.
func (r *References) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(References, len(raw))
	for role, v := range raw {
		var one string
		if err := json.Unmarshal(v, &one); err == nil {
			out[role] = []string{one}
			continue
		}
		var many []string
		if err := json.Unmarshal(v, &many); err != nil {
			return fmt.Errorf("reference %q: %w", role, err)
		}
		out[role] = many
	}
	*r = out
	return nil
}

// Concept is a schema or instance record.
type Concept struct {
	SpaceID                    int64                  `json:"space_id,omitempty"`
	Name                       string                 `json:"name"`
	SourceLocalID              string                 `json:"source_local_id,omitempty"`
	IsSchema                   bool                   `json:"is_schema"`
	SchemaRepresentedByLocalID string                 `json:"schema_represented_by_local_id,omitempty"`
	LocalReferenceContent      References             `json:"local_reference_content,omitempty"`
	LiteralContent             map[string]interface{} `json:"literal_content,omitempty"`
	Description                string                 `json:"description,omitempty"`
	AuthorLocalID              string                 `json:"author_local_id,omitempty"`
	Created                    time.Time              `json:"created"`
	LastModified               time.Time              `json:"last_modified"`
}

// Dependencies returns the ids this concept refers to: reference values in
// role order, then the schema pointer, without duplicates.
func (c Concept) Dependencies() []string {
	roles := make([]string, 0, len(c.LocalReferenceContent))
	for role := range c.LocalReferenceContent {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	seen := make(map[string]struct{})
	var deps []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		deps = append(deps, id)
	}
	for _, role := range roles {
		for _, id := range c.LocalReferenceContent[role] {
			add(id)
		}
	}
	add(c.SchemaRepresentedByLocalID)
	return deps
}
