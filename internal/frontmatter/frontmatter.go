// Package frontmatter reads and patches the YAML block at the top of a
// vault markdown file.
package frontmatter

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Keys that identify a discourse node.
const (
	KeyNodeTypeID           = "nodeTypeId"
	KeyNodeInstanceID       = "nodeInstanceId"
	KeyImportedFromSpaceURI = "importedFromSpaceUri"
	KeyImportedFromRID      = "importedFromRid"
	KeyPublishedToGroups    = "publishedToGroups"
)

// ErrNotMapping is returned when the block is valid YAML but not a mapping.
var ErrNotMapping = errors.New("frontmatter is not a mapping")

const delimiter = "---"

// Split separates the YAML block from the body. ok is false when content
// has no leading "---" block; body is then the whole content.
func Split(content string) (block string, body string, ok bool) {
	first, rest, found := cutLine(content)
	if !found || strings.TrimRight(first, " \t") != delimiter {
		return "", content, false
	}
	offset := 0
	for {
		line, next, more := cutLine(rest[offset:])
		if strings.TrimRight(line, " \t") == delimiter {
			return rest[:offset], next, true
		}
		if !more {
			return "", content, false
		}
		offset = len(rest) - len(next)
	}
}

// cutLine splits s at the first newline, dropping "\n" or "\r\n".
func cutLine(s string) (line, rest string, found bool) {
	i := strings.IndexByte(s, '\n')
	if i < 0 {
		return s, "", false
	}
	return strings.TrimSuffix(s[:i], "\r"), s[i+1:], true
}

// Fields is a decoded frontmatter mapping.
type Fields map[string]interface{}

// Parse decodes the frontmatter of content. A file without a block yields
// empty Fields and the full content as body.
func Parse(content string) (Fields, string, error) {
	block, body, ok := Split(content)
	if !ok || strings.TrimSpace(block) == "" {
		return Fields{}, body, nil
	}
	var out Fields
	if err := yaml.Unmarshal([]byte(block), &out); err != nil {
		return nil, body, fmt.Errorf("failed to parse frontmatter: %w", err)
	}
	if out == nil {
		return nil, body, ErrNotMapping
	}
	return out, body, nil
}

// String returns the value at key when it is a non-empty string.
func (f Fields) String(key string) string {
	if s, ok := f[key].(string); ok {
		return s
	}
	return ""
}

// Strings returns a string or list-of-strings value as a slice.
func (f Fields) Strings(key string) []string {
	switch v := f[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if item == nil {
				continue
			}
			out = append(out, fmt.Sprint(item))
		}
		return out
	case []string:
		return v
	default:
		return nil
	}
}

// Without returns a copy of f with the given keys removed.
func (f Fields) Without(keys ...string) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Document is an editable frontmatter mapping that keeps key order and
// comments of the original block.
type Document struct {
	root *yaml.Node
}

func (d *Document) index(key string) int {
	for i := 0; i+1 < len(d.root.Content); i += 2 {
		if d.root.Content[i].Value == key {
			return i
		}
	}
	return -1
}

// Get decodes the value at key.
func (d *Document) Get(key string) (interface{}, bool) {
	i := d.index(key)
	if i < 0 {
		return nil, false
	}
	var v interface{}
	if err := d.root.Content[i+1].Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

// Set replaces or appends key.
func (d *Document) Set(key string, value interface{}) error {
	var n yaml.Node
	if err := n.Encode(value); err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if i := d.index(key); i >= 0 {
		d.root.Content[i+1] = &n
		return nil
	}
	d.root.Content = append(d.root.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&n,
	)
	return nil
}

// Delete removes key if present.
func (d *Document) Delete(key string) {
	if i := d.index(key); i >= 0 {
		d.root.Content = append(d.root.Content[:i], d.root.Content[i+2:]...)
	}
}

// Keys lists keys in document order.
func (d *Document) Keys() []string {
	keys := make([]string, 0, len(d.root.Content)/2)
	for i := 0; i+1 < len(d.root.Content); i += 2 {
		keys = append(keys, d.root.Content[i].Value)
	}
	return keys
}

// Patch applies fn to the frontmatter of content and re-renders the file.
// The body is left byte-for-byte intact. A missing block is created.
func Patch(content string, fn func(*Document) error) (string, error) {
	block, body, ok := Split(content)
	if !ok {
		body = content
	}

	var doc yaml.Node
	if strings.TrimSpace(block) != "" {
		if err := yaml.Unmarshal([]byte(block), &doc); err != nil {
			return "", fmt.Errorf("failed to parse frontmatter: %w", err)
		}
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return "", ErrNotMapping
	}

	d := &Document{root: doc.Content[0]}
	if err := fn(d); err != nil {
		return "", err
	}
	if len(d.root.Content) == 0 {
		return body, nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return "", fmt.Errorf("failed to render frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to render frontmatter: %w", err)
	}
	return delimiter + "\n" + buf.String() + delimiter + "\n" + body, nil
}

var wikiLinkRe = regexp.MustCompile(`\[\[([^\]|#]+)(?:[#|][^\]]*)?\]\]`)

// WikiLinkTarget returns the link target of a "[[target]]" or
// "[[target|alias]]" value, with any ".md" suffix removed.
func WikiLinkTarget(s string) (string, bool) {
	m := wikiLinkRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimSpace(m[1]), ".md"), true
}

// WikiLink renders target as "[[target]]".
func WikiLink(target string) string {
	return "[[" + target + "]]"
}
