package vault

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/discoursegraphs/dgsync/internal/frontmatter"
)

// MemStore is an in-memory Store for tests. With lag enabled, Metadata
// serves the snapshot taken at the last RefreshMetadata call, mimicking an
// asynchronously updated metadata cache.
type MemStore struct {
	mu       sync.Mutex
	files    map[string]*memFile
	lag      bool
	snapshot map[string]frontmatter.Fields
	clock    func() time.Time
}

type memFile struct {
	content  string
	created  time.Time
	modified time.Time
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		files:    make(map[string]*memFile),
		snapshot: make(map[string]frontmatter.Fields),
		clock:    time.Now,
	}
}

// SetClock overrides the time source for created/modified stamps.
func (m *MemStore) SetClock(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}

// SetMetadataLag toggles stale metadata.
func (m *MemStore) SetMetadataLag(lag bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lag = lag
}

// RefreshMetadata brings the lagging snapshot up to date.
func (m *MemStore) RefreshMetadata() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = make(map[string]frontmatter.Fields, len(m.files))
	for p, f := range m.files {
		if fields, _, err := frontmatter.Parse(f.content); err == nil {
			m.snapshot[p] = fields
		}
	}
}

// SetTimes implements TimeSetter.
func (m *MemStore) SetTimes(p string, modified time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[Clean(p)]
	if !ok {
		return fmt.Errorf("%s: %w", p, ErrNotExist)
	}
	f.modified = modified
	return nil
}

func (m *MemStore) Read(p string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[Clean(p)]
	if !ok {
		return "", fmt.Errorf("%s: %w", p, ErrNotExist)
	}
	return f.content, nil
}

func (m *MemStore) Write(p, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = Clean(p)
	now := m.clock()
	if f, ok := m.files[p]; ok {
		f.content = content
		f.modified = now
		return nil
	}
	m.files[p] = &memFile{content: content, created: now, modified: now}
	return nil
}

func (m *MemStore) Rename(oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	oldPath, newPath = Clean(oldPath), Clean(newPath)
	f, ok := m.files[oldPath]
	if !ok {
		return fmt.Errorf("%s: %w", oldPath, ErrNotExist)
	}
	if _, taken := m.files[newPath]; taken {
		return fmt.Errorf("%s: %w", newPath, ErrExist)
	}
	delete(m.files, oldPath)
	m.files[newPath] = f
	if fields, ok := m.snapshot[oldPath]; ok {
		delete(m.snapshot, oldPath)
		m.snapshot[newPath] = fields
	}
	return nil
}

func (m *MemStore) Delete(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, Clean(p))
	return nil
}

func (m *MemStore) Exists(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[Clean(p)]
	return ok
}

func (m *MemStore) ListAll() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		if IsMarkdown(p) && !Hidden(p) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemStore) Metadata(p string) (frontmatter.Fields, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = Clean(p)
	if m.lag {
		fields, ok := m.snapshot[p]
		return fields, ok
	}
	f, ok := m.files[p]
	if !ok {
		return nil, false
	}
	fields, _, err := frontmatter.Parse(f.content)
	if err != nil {
		return nil, false
	}
	return fields, true
}

func (m *MemStore) Stat(p string) (FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[Clean(p)]
	if !ok {
		return FileInfo{}, fmt.Errorf("%s: %w", p, ErrNotExist)
	}
	return FileInfo{Path: Clean(p), Created: f.created, Modified: f.modified}, nil
}
