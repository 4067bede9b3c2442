package vault

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/discoursegraphs/dgsync/internal/frontmatter"
	"github.com/discoursegraphs/dgsync/internal/logging"
)

// FS is a Store backed by a directory on disk.
type FS struct {
	root   string
	logger *logging.Logger

	mu    sync.Mutex
	cache map[string]metaEntry
}

type metaEntry struct {
	modTime time.Time
	size    int64
	fields  frontmatter.Fields
}

// NewFS returns a Store rooted at root.
func NewFS(root string, logger *logging.Logger) *FS {
	return &FS{
		root:   root,
		logger: logging.OrNop(logger),
		cache:  make(map[string]metaEntry),
	}
}

// Root returns the vault directory.
func (v *FS) Root() string {
	return v.root
}

// Abs converts a vault path to an OS path.
func (v *FS) Abs(p string) string {
	return filepath.Join(v.root, filepath.FromSlash(Clean(p)))
}

// Rel converts an OS path under the root to a vault path.
func (v *FS) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(v.root, abs)
	if err != nil {
		return "", err
	}
	return Clean(filepath.ToSlash(rel)), nil
}

func (v *FS) Read(p string) (string, error) {
	data, err := os.ReadFile(v.Abs(p))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s: %w", p, ErrNotExist)
		}
		return "", fmt.Errorf("failed to read %s: %w", p, err)
	}
	return string(data), nil
}

func (v *FS) Write(p, content string) error {
	abs := v.Abs(p)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("failed to create folder for %s: %w", p, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	return nil
}

func (v *FS) Rename(oldPath, newPath string) error {
	if v.Exists(newPath) {
		return fmt.Errorf("%s: %w", newPath, ErrExist)
	}
	dst := v.Abs(newPath)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create folder for %s: %w", newPath, err)
	}
	if err := os.Rename(v.Abs(oldPath), dst); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", oldPath, ErrNotExist)
		}
		return fmt.Errorf("failed to rename %s: %w", oldPath, err)
	}
	v.mu.Lock()
	delete(v.cache, Clean(oldPath))
	v.mu.Unlock()
	return nil
}

func (v *FS) Delete(p string) error {
	if err := os.Remove(v.Abs(p)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete %s: %w", p, err)
	}
	v.mu.Lock()
	delete(v.cache, Clean(p))
	v.mu.Unlock()
	return nil
}

func (v *FS) Exists(p string) bool {
	_, err := os.Stat(v.Abs(p))
	return err == nil
}

func (v *FS) ListAll() ([]string, error) {
	var out []string
	err := filepath.WalkDir(v.root, func(abs string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := v.Rel(abs)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if rel != "." && rel != "" && Hidden(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if IsMarkdown(rel) && !Hidden(rel) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list vault: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// Metadata serves frontmatter from a cache keyed by (mtime, size); the
// cache is refreshed when either changes.
func (v *FS) Metadata(p string) (frontmatter.Fields, bool) {
	p = Clean(p)
	info, err := os.Stat(v.Abs(p))
	if err != nil {
		return nil, false
	}

	v.mu.Lock()
	entry, ok := v.cache[p]
	v.mu.Unlock()
	if ok && entry.modTime.Equal(info.ModTime()) && entry.size == info.Size() {
		return entry.fields, entry.fields != nil
	}

	content, err := v.Read(p)
	if err != nil {
		return nil, false
	}
	fields, _, err := frontmatter.Parse(content)
	if err != nil {
		v.logger.Debug("Unparseable frontmatter", "path", p, "error", err)
		fields = nil
	}

	v.mu.Lock()
	v.cache[p] = metaEntry{modTime: info.ModTime(), size: info.Size(), fields: fields}
	v.mu.Unlock()
	return fields, fields != nil
}

// Stat reports timestamps. Portable birth time is unavailable, so Created
// mirrors Modified.
func (v *FS) Stat(p string) (FileInfo, error) {
	info, err := os.Stat(v.Abs(p))
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, fmt.Errorf("%s: %w", p, ErrNotExist)
		}
		return FileInfo{}, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	return FileInfo{Path: Clean(p), Created: info.ModTime(), Modified: info.ModTime()}, nil
}

// SetTimes sets the modification time of p (used when importing so the
// local file keeps the remote dates).
func (v *FS) SetTimes(p string, modified time.Time) error {
	if err := os.Chtimes(v.Abs(p), modified, modified); err != nil {
		return fmt.Errorf("failed to set times on %s: %w", p, err)
	}
	return nil
}
