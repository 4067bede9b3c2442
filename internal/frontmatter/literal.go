package frontmatter

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SchemaLiteral is the node-type description carried in a remote schema
// concept's literal content.
type SchemaLiteral struct {
	Name     string
	Format   string
	Color    string
	Tag      string
	Template string
	KeyImage *bool
}

// Literal field paths. Each field is looked up under source_data first
// (nested shape) and then at the top level (flat shape), except name and
// template which only ever appear at the top level.
var (
	namePaths     = []string{"name", "label"}
	formatPaths   = []string{"source_data.format", "format"}
	colorPaths    = []string{"source_data.color", "color"}
	tagPaths      = []string{"source_data.tag", "tag"}
	templatePaths = []string{"template"}
	keyImagePaths = []string{"source_data.keyImage", "keyImage"}
)

// ParseSchemaLiteral decodes a schema literal given either as a JSON string
// or as an already-decoded object. Both the nested
// {label, template, source_data:{format,color,tag}} shape and the flat
// {name, format, color, tag} shape are accepted.
func ParseSchemaLiteral(raw interface{}, fallbackName string) (SchemaLiteral, error) {
	obj, err := literalObject(raw)
	if err != nil {
		return SchemaLiteral{}, err
	}

	lit := SchemaLiteral{
		Name:     firstString(obj, namePaths),
		Format:   firstString(obj, formatPaths),
		Color:    firstString(obj, colorPaths),
		Tag:      firstString(obj, tagPaths),
		Template: firstString(obj, templatePaths),
		KeyImage: firstBool(obj, keyImagePaths),
	}
	if lit.Name == "" {
		lit.Name = fallbackName
	}
	if lit.Format == "" {
		lit.Format = DefaultFormat(lit.Name)
	}
	return lit, nil
}

// DefaultFormat builds "ABC - {content}" from the first three letters of
// name.
func DefaultFormat(name string) string {
	r := []rune(name)
	if len(r) > 3 {
		r = r[:3]
	}
	return strings.ToUpper(string(r)) + " - {content}"
}

func literalObject(raw interface{}) (map[string]interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return map[string]interface{}{}, nil
	case map[string]interface{}:
		return v, nil
	case string:
		return decodeLiteralJSON([]byte(v))
	case []byte:
		return decodeLiteralJSON(v)
	case json.RawMessage:
		return decodeLiteralJSON(v)
	default:
		return nil, fmt.Errorf("unsupported literal content type %T", raw)
	}
}

func decodeLiteralJSON(data []byte) (map[string]interface{}, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return map[string]interface{}{}, nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("failed to parse literal content: %w", err)
	}
	if obj == nil {
		obj = map[string]interface{}{}
	}
	return obj, nil
}

func lookup(obj map[string]interface{}, path string) (interface{}, bool) {
	cur := interface{}(obj)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func firstString(obj map[string]interface{}, paths []string) string {
	for _, p := range paths {
		if v, ok := lookup(obj, p); ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func firstBool(obj map[string]interface{}, paths []string) *bool {
	for _, p := range paths {
		if v, ok := lookup(obj, p); ok {
			if b, ok := v.(bool); ok {
				return &b
			}
		}
	}
	return nil
}
