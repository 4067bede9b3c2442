package relations

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/discoursegraphs/dgsync/internal/logging"
)

// Config holds optional Store settings.
type Config struct {
	// Author is recorded on new relations when AddParams.Author is empty.
	Author string

	// Clock overrides time.Now (tests).
	Clock func() time.Time

	Logger *logging.Logger
}

// Store reads and writes relations.json. Every mutating call is a full
// load-modify-save under an in-process mutex and an advisory file lock.
type Store struct {
	dir    string
	author string
	clock  func() time.Time
	logger *logging.Logger

	mu sync.Mutex
}

// New creates a Store for the data folder dir (normally
// <vault>/_discourse_graphs). The folder is created lazily on first save.
func New(dir string, cfg *Config) *Store {
	if cfg == nil {
		cfg = &Config{}
	}
	s := &Store{
		dir:    dir,
		author: cfg.Author,
		clock:  cfg.Clock,
		logger: logging.OrNop(cfg.Logger),
	}
	if s.author == "" {
		s.author = DefaultAuthor
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

// Path returns the absolute path of relations.json.
func (s *Store) Path() string {
	return filepath.Join(s.dir, FileName)
}

// Load reads the document. It never fails: a missing, unreadable or
// malformed document yields Empty().
func (s *Store) Load() File {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read relations file, using empty store", "path", s.Path(), "error", err)
		}
		return Empty()
	}
	f, err := decode(data)
	if err != nil {
		s.logger.Warn("Malformed relations file, using empty store", "path", s.Path(), "error", err)
		return Empty()
	}
	return f
}

// decode parses and shape-checks a relations document.
func decode(data []byte) (File, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return File{}, fmt.Errorf("failed to parse relations file: %w", err)
	}

	var f File
	if err := number(raw["version"], &f.Version); err != nil {
		return File{}, fmt.Errorf("version: %w", err)
	}
	if err := number(raw["lastModified"], &f.LastModified); err != nil {
		return File{}, fmt.Errorf("lastModified: %w", err)
	}
	rels, ok := raw["relations"]
	if !ok || len(rels) == 0 || rels[0] != '{' {
		return File{}, fmt.Errorf("relations is not an object")
	}
	if err := json.Unmarshal(rels, &f.Relations); err != nil {
		return File{}, fmt.Errorf("failed to parse relations: %w", err)
	}
	if f.Relations == nil {
		f.Relations = map[string]Relation{}
	}
	return f, nil
}

// number decodes a JSON number, rejecting absent and null values.
func number(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("not a number")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("not a number: %w", err)
	}
	return nil
}

// Save stamps LastModified and atomically replaces the document.
func (s *Store) Save(f File) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	return s.save(f)
}

func (s *Store) save(f File) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create relations folder: %w", err)
	}

	f.LastModified = s.clock().UnixMilli()
	if f.Version == 0 {
		f.Version = FileVersion
	}
	if f.Relations == nil {
		f.Relations = map[string]Relation{}
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal relations file: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp relations file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write relations file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close relations file: %w", err)
	}
	if err := os.Rename(tmpName, s.Path()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace relations file: %w", err)
	}
	return nil
}

// Mutate runs fn against the current document while holding the store lock.
// The document is saved only when fn reports a change.
func (s *Store) Mutate(fn func(f *File) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	f := s.Load()
	changed, err := fn(&f)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return s.save(f)
}

// NewRelation builds a relation with a fresh uuidv7 id and created stamp.
func (s *Store) NewRelation(p AddParams) (Relation, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Relation{}, fmt.Errorf("failed to generate relation id: %w", err)
	}
	author := p.Author
	if author == "" {
		author = s.author
	}
	return Relation{
		ID:                  id.String(),
		Type:                p.Type,
		Source:              p.Source,
		Destination:         p.Destination,
		Created:             s.clock().UnixMilli(),
		Author:              author,
		ImportedFromSpaceID: p.ImportedFromSpaceID,
		PublishedToGroupID:  p.PublishedToGroupID,
	}, nil
}

// AddNoCheck inserts a relation without the duplicate check and returns
// its id.
func (s *Store) AddNoCheck(p AddParams) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	var id string
	err := s.Mutate(func(f *File) (bool, error) {
		rel, err := s.NewRelation(p)
		if err != nil {
			return false, err
		}
		f.Relations[rel.ID] = rel
		id = rel.ID
		return true, nil
	})
	if err != nil {
		return "", err
	}
	s.logger.Debug("Added relation", "id", id, "type", p.Type, "source", p.Source, "destination", p.Destination)
	return id, nil
}

// Add inserts a relation unless one of the same type already connects the
// two nodes in either direction, in which case the existing id is returned.
func (s *Store) Add(p AddParams) (AddResult, error) {
	if err := p.Validate(); err != nil {
		return AddResult{}, err
	}
	var res AddResult
	err := s.Mutate(func(f *File) (bool, error) {
		if id := ExistsBetween(*f, p.Source, p.Destination, p.Type); id != "" {
			res = AddResult{ID: id, AlreadyExisted: true}
			return false, nil
		}
		rel, err := s.NewRelation(p)
		if err != nil {
			return false, err
		}
		f.Relations[rel.ID] = rel
		res = AddResult{ID: rel.ID}
		return true, nil
	})
	if err != nil {
		return AddResult{}, err
	}
	return res, nil
}

// ExistsBetween loads the document and checks both directions.
func (s *Store) ExistsBetween(source, destination, typ string) string {
	return ExistsBetween(s.Load(), source, destination, typ)
}

// RemoveByID deletes a relation and reports whether it existed.
func (s *Store) RemoveByID(id string) (bool, error) {
	var removed bool
	err := s.Mutate(func(f *File) (bool, error) {
		if _, ok := f.Relations[id]; !ok {
			return false, nil
		}
		delete(f.Relations, id)
		removed = true
		return true, nil
	})
	return removed, err
}

// RemoveByTriple deletes every exact-direction match and returns how many
// were removed.
func (s *Store) RemoveByTriple(source, destination, typ string) (int, error) {
	var removed int
	err := s.Mutate(func(f *File) (bool, error) {
		for id, r := range f.Relations {
			if r.Source == source && r.Destination == destination && r.Type == typ {
				delete(f.Relations, id)
				removed++
			}
		}
		return removed > 0, nil
	})
	return removed, err
}

// ForNode returns relations touching nodeInstanceID on either end, oldest
// first.
func (s *Store) ForNode(nodeInstanceID string) []Relation {
	return ForNode(s.Load(), nodeInstanceID)
}

// ForNode filters f to relations touching nodeInstanceID, oldest first.
func ForNode(f File, nodeInstanceID string) []Relation {
	var out []Relation
	for _, r := range f.Relations {
		if r.Source == nodeInstanceID || r.Destination == nodeInstanceID {
			out = append(out, r)
		}
	}
	SortByCreated(out)
	return out
}

// SortByCreated orders relations by creation time, then id.
func SortByCreated(rels []Relation) {
	sort.Slice(rels, func(i, j int) bool {
		if rels[i].Created != rels[j].Created {
			return rels[i].Created < rels[j].Created
		}
		return rels[i].ID < rels[j].ID
	})
}
