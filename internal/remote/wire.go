package remote

import "time"

// Content variants and scales.
const (
	VariantDirect = "direct"
	VariantFull   = "full"
	ScaleDocument = "document"
)

// TimeFormat is the fixed-width UTC layout used for text timestamps, so
// that lexical order matches time order.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in TimeFormat.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// EmbeddingInline carries a vector with the content row that produced it.
type EmbeddingInline struct {
	Model  string    `json:"model"`
	Vector []float32 `json:"vector"`
}

// ContentInput is one element of the upsert_content data argument.
type ContentInput struct {
	AuthorLocalID   string                 `json:"author_local_id"`
	CreatorLocalID  string                 `json:"creator_local_id,omitempty"`
	SourceLocalID   string                 `json:"source_local_id"`
	Created         time.Time              `json:"created"`
	LastModified    time.Time              `json:"last_modified"`
	Scale           string                 `json:"scale"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	Text            string                 `json:"text"`
	Variant         string                 `json:"variant"`
	EmbeddingInline *EmbeddingInline       `json:"embedding_inline,omitempty"`
}

// UpsertContentArgs builds the upsert_content argument map.
func UpsertContentArgs(data []ContentInput, spaceID, creatorID int64) map[string]interface{} {
	return map[string]interface{}{
		"data":                data,
		"v_space_id":          spaceID,
		"v_creator_id":        creatorID,
		"content_as_document": true,
	}
}

// UpsertConceptsArgs builds the upsert_concepts argument map. data is
// marshalled as JSON.
func UpsertConceptsArgs(data interface{}, spaceID int64) map[string]interface{} {
	return map[string]interface{}{
		"data":       data,
		"v_space_id": spaceID,
	}
}
