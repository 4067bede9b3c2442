package vault

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/discoursegraphs/dgsync/internal/frontmatter"
)

// Node is a markdown file carrying a nodeTypeId.
type Node struct {
	Path           string
	Fields         frontmatter.Fields
	NodeTypeID     string
	NodeInstanceID string
}

// Basename is the node title.
func (n Node) Basename() string {
	return Basename(n.Path)
}

// Imported reports whether the node was copied from another space.
func (n Node) Imported() bool {
	return IsImported(n.Fields)
}

// IsImported reports whether fields mark an imported node.
func IsImported(fields frontmatter.Fields) bool {
	return fields.String(frontmatter.KeyImportedFromSpaceURI) != "" ||
		fields.String(frontmatter.KeyImportedFromRID) != ""
}

// NodeAt resolves p to a Node. ok is false for files that are not
// discourse nodes. A missing nodeInstanceId is generated and written back.
func NodeAt(s Store, p string) (Node, bool, error) {
	if !IsMarkdown(p) {
		return Node{}, false, nil
	}
	fields, ok := s.Metadata(p)
	if !ok {
		return Node{}, false, nil
	}
	typeID := fields.String(frontmatter.KeyNodeTypeID)
	if typeID == "" {
		return Node{}, false, nil
	}
	id, err := NodeInstanceIDForPath(s, p, fields)
	if err != nil {
		return Node{}, false, err
	}
	return Node{Path: Clean(p), Fields: fields, NodeTypeID: typeID, NodeInstanceID: id}, true, nil
}

// CollectNodes returns every node in the store. Imported nodes are skipped
// unless includeImported is set.
func CollectNodes(s Store, includeImported bool) ([]Node, error) {
	paths, err := s.ListAll()
	if err != nil {
		return nil, err
	}
	var nodes []Node
	for _, p := range paths {
		node, ok, err := NodeAt(s, p)
		if err != nil {
			return nil, err
		}
		if !ok || (node.Imported() && !includeImported) {
			continue
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// NodeInstanceIDForPath returns the node's instance id, generating a uuidv7
// and patching it into the frontmatter when absent. fields is the metadata
// already read for p; the write goes through the file content, not the
// cache.
func NodeInstanceIDForPath(s Store, p string, fields frontmatter.Fields) (string, error) {
	if id := fields.String(frontmatter.KeyNodeInstanceID); id != "" {
		return id, nil
	}
	v7, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate node instance id: %w", err)
	}
	id := v7.String()

	content, err := s.Read(p)
	if err != nil {
		return "", err
	}
	patched, err := frontmatter.Patch(content, func(d *frontmatter.Document) error {
		if existing, ok := d.Get(frontmatter.KeyNodeInstanceID); ok {
			if str, isStr := existing.(string); isStr && str != "" {
				id = str
				return nil
			}
		}
		return d.Set(frontmatter.KeyNodeInstanceID, id)
	})
	if err != nil {
		return "", fmt.Errorf("failed to patch %s: %w", p, err)
	}
	if patched != content {
		if err := s.Write(p, patched); err != nil {
			return "", err
		}
	}
	return id, nil
}

// PathForNodeInstanceID finds the file holding nodeInstanceID.
func PathForNodeInstanceID(s Store, nodeInstanceID string) (string, bool, error) {
	paths, err := s.ListAll()
	if err != nil {
		return "", false, err
	}
	for _, p := range paths {
		fields, ok := s.Metadata(p)
		if ok && fields.String(frontmatter.KeyNodeInstanceID) == nodeInstanceID {
			return p, true, nil
		}
	}
	return "", false, nil
}

// KnownNodeInstanceIDs returns every nodeInstanceId recorded in the store.
func KnownNodeInstanceIDs(s Store) (map[string]struct{}, error) {
	paths, err := s.ListAll()
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		fields, ok := s.Metadata(p)
		if !ok {
			continue
		}
		if id := fields.String(frontmatter.KeyNodeInstanceID); id != "" {
			known[id] = struct{}{}
		}
	}
	return known, nil
}

// ResolveLink finds the file a [[target]] link points at, relative to
// from. A target with a folder must match exactly; a bare name prefers the
// linking file's folder, then the shortest path.
func ResolveLink(s Store, target, from string) (string, bool, error) {
	target = strings.TrimSuffix(Clean(target), ".md")
	if target == "" {
		return "", false, nil
	}
	if strings.Contains(target, "/") {
		p := target + ".md"
		return p, s.Exists(p), nil
	}

	paths, err := s.ListAll()
	if err != nil {
		return "", false, err
	}
	var matches []string
	for _, p := range paths {
		if Basename(p) == target {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		return "", false, nil
	}
	dir := path.Dir(Clean(from))
	sort.SliceStable(matches, func(i, j int) bool {
		ai, aj := path.Dir(matches[i]) == dir, path.Dir(matches[j]) == dir
		if ai != aj {
			return ai
		}
		return len(matches[i]) < len(matches[j])
	})
	return matches[0], true, nil
}
