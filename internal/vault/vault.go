// Package vault is the document store abstraction over a folder of
// markdown files.
package vault

import (
	"errors"
	"path"
	"strings"
	"time"

	"github.com/discoursegraphs/dgsync/internal/frontmatter"
)

// ErrNotExist is returned when a path is absent from the store.
var ErrNotExist = errors.New("file does not exist")

// ErrExist is returned by Rename when the target is taken.
var ErrExist = errors.New("file already exists")

// FileInfo carries the timestamps the sync layer cares about.
type FileInfo struct {
	Path     string
	Created  time.Time
	Modified time.Time
}

// Store is the document store consumed by the sync core. Paths are
// vault-relative and slash-separated.
type Store interface {
	Read(p string) (string, error)
	// Write creates or overwrites p, creating parent folders.
	Write(p, content string) error
	Rename(oldPath, newPath string) error
	Delete(p string) error
	Exists(p string) bool
	// ListAll returns every markdown file, sorted.
	ListAll() ([]string, error)
	// Metadata returns the parsed frontmatter of p. It is served from a
	// cache and may lag behind a write that just completed.
	Metadata(p string) (frontmatter.Fields, bool)
	Stat(p string) (FileInfo, error)
}

// ChangeType says what changed about a node file.
type ChangeType string

const (
	ChangeTitle   ChangeType = "title"
	ChangeContent ChangeType = "content"
)

// MergeChanges returns the union of a and b, keeping first-seen order.
func MergeChanges(a, b []ChangeType) []ChangeType {
	out := make([]ChangeType, 0, len(a)+len(b))
	seen := make(map[ChangeType]struct{}, len(a)+len(b))
	for _, list := range [][]ChangeType{a, b} {
		for _, c := range list {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// HasChange reports whether changes contains c.
func HasChange(changes []ChangeType, c ChangeType) bool {
	for _, x := range changes {
		if x == c {
			return true
		}
	}
	return false
}

// TimeSetter is implemented by stores that can backdate a file.
type TimeSetter interface {
	SetTimes(p string, modified time.Time) error
}

// SetTimes backdates p when s supports it and is a no-op otherwise.
func SetTimes(s Store, p string, modified time.Time) error {
	if ts, ok := s.(TimeSetter); ok && !modified.IsZero() {
		return ts.SetTimes(p, modified)
	}
	return nil
}

// Basename returns the file name without folder and ".md".
func Basename(p string) string {
	return strings.TrimSuffix(path.Base(p), ".md")
}

// IsMarkdown reports whether p names a markdown file.
func IsMarkdown(p string) bool {
	return strings.HasSuffix(strings.ToLower(p), ".md")
}

// Clean normalizes a vault-relative path.
func Clean(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

// Hidden reports whether p lives in a folder dgsync never syncs: the data
// folder and dot-folders.
func Hidden(p string) bool {
	for _, part := range strings.Split(p, "/") {
		if part == "_discourse_graphs" || strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
