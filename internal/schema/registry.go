package schema

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// FileName is the registry file inside the data folder.
const FileName = "schema.toml"

type document struct {
	AccountLocalID string           `toml:"account_local_id,omitempty"`
	NodeTypes      []NodeType       `toml:"node_type"`
	RelationTypes  []RelationType   `toml:"relation_type"`
	Triples        []RelationTriple `toml:"relation"`
}

// Registry is the persisted schema. It is safe for concurrent use.
type Registry struct {
	path  string
	clock func() time.Time

	mu  sync.RWMutex
	doc document
}

// Open loads the registry at path. A missing file yields Default; it is
// written on the first Save.
func Open(path string) (*Registry, error) {
	r := &Registry{path: path, clock: time.Now}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		def, err := defaultDocument(r.clock())
		if err != nil {
			return nil, err
		}
		r.doc = def
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read schema registry: %w", err)
	}
	if _, err := toml.Decode(string(data), &r.doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := r.doc.validate(); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return r, nil
}

// NewMemory returns an unsaved registry holding the given types. Save is a
// no-op.
func NewMemory(nodeTypes []NodeType, relationTypes []RelationType, triples []RelationTriple) *Registry {
	return &Registry{
		clock: time.Now,
		doc: document{
			NodeTypes:     append([]NodeType(nil), nodeTypes...),
			RelationTypes: append([]RelationType(nil), relationTypes...),
			Triples:       append([]RelationTriple(nil), triples...),
		},
	}
}

// SetClock overrides time.Now.
func (r *Registry) SetClock(clock func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = clock
}

func (d document) validate() error {
	var errs []error
	for i := range d.NodeTypes {
		errs = append(errs, d.NodeTypes[i].Validate())
	}
	for i := range d.RelationTypes {
		errs = append(errs, d.RelationTypes[i].Validate())
	}
	for i := range d.Triples {
		errs = append(errs, d.Triples[i].Validate())
	}
	return errors.Join(errs...)
}

// Save writes the registry atomically.
func (r *Registry) Save() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.save()
}

func (r *Registry) save() error {
	if r.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("failed to create schema folder: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".schema-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(r.doc); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode schema registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("failed to replace schema registry: %w", err)
	}
	return nil
}

// AccountLocalID returns the configured account, or "".
func (r *Registry) AccountLocalID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.doc.AccountLocalID
}

// SetAccountLocalID records the account id and saves.
func (r *Registry) SetAccountLocalID(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc.AccountLocalID = id
	return r.save()
}

// NodeTypes returns a copy of all node types.
func (r *Registry) NodeTypes() []NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]NodeType(nil), r.doc.NodeTypes...)
}

// RelationTypes returns a copy of all relation types.
func (r *Registry) RelationTypes() []RelationType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]RelationType(nil), r.doc.RelationTypes...)
}

// Triples returns a copy of all relation triples.
func (r *Registry) Triples() []RelationTriple {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]RelationTriple(nil), r.doc.Triples...)
}

// NodeType looks a node type up by id.
func (r *Registry) NodeType(id string) (NodeType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range r.doc.NodeTypes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeType{}, false
}

// NodeTypeByName looks a node type up by its display name.
func (r *Registry) NodeTypeByName(name string) (NodeType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range r.doc.NodeTypes {
		if n.Name == name {
			return n, true
		}
	}
	return NodeType{}, false
}

// RelationType looks a relation type up by id.
func (r *Registry) RelationType(id string) (RelationType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.doc.RelationTypes {
		if rt.ID == id {
			return rt, true
		}
	}
	return RelationType{}, false
}

// Triple returns the triple for a relation type between two node types.
func (r *Registry) Triple(relationTypeID, sourceTypeID, destinationTypeID string) (RelationTriple, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.doc.Triples {
		if t.RelationshipTypeID == relationTypeID && t.SourceID == sourceTypeID && t.DestinationID == destinationTypeID {
			return t, true
		}
	}
	return RelationTriple{}, false
}

// AddNodeType stores n, assigning a uuidv7 id when empty, and saves.
func (r *Registry) AddNodeType(n NodeType) (NodeType, error) {
	if n.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return NodeType{}, fmt.Errorf("failed to generate node type id: %w", err)
		}
		n.ID = id.String()
	}
	if err := n.Validate(); err != nil {
		return NodeType{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.doc.NodeTypes {
		if existing.ID == n.ID {
			return NodeType{}, fmt.Errorf("%w: node type %s already exists", ErrInvalid, n.ID)
		}
	}
	now := r.clock().UnixMilli()
	if n.Created == 0 {
		n.Created = now
	}
	n.Modified = now
	r.doc.NodeTypes = append(r.doc.NodeTypes, n)
	if err := r.save(); err != nil {
		r.doc.NodeTypes = r.doc.NodeTypes[:len(r.doc.NodeTypes)-1]
		return NodeType{}, err
	}
	return n, nil
}

// AddRelationType stores rt, assigning an id when empty, and saves.
func (r *Registry) AddRelationType(rt RelationType) (RelationType, error) {
	if rt.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return RelationType{}, fmt.Errorf("failed to generate relation type id: %w", err)
		}
		rt.ID = id.String()
	}
	if err := rt.Validate(); err != nil {
		return RelationType{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.doc.RelationTypes {
		if existing.ID == rt.ID {
			return RelationType{}, fmt.Errorf("%w: relation type %s already exists", ErrInvalid, rt.ID)
		}
	}
	now := r.clock().UnixMilli()
	if rt.Created == 0 {
		rt.Created = now
	}
	rt.Modified = now
	r.doc.RelationTypes = append(r.doc.RelationTypes, rt)
	if err := r.save(); err != nil {
		r.doc.RelationTypes = r.doc.RelationTypes[:len(r.doc.RelationTypes)-1]
		return RelationType{}, err
	}
	return rt, nil
}

// AddTriple stores t and saves. Adding an existing triple is a no-op.
func (r *Registry) AddTriple(t RelationTriple) (RelationTriple, error) {
	if err := t.Validate(); err != nil {
		return RelationTriple{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.doc.Triples {
		if existing.ID() == t.ID() {
			return existing, nil
		}
	}
	now := r.clock().UnixMilli()
	if t.Created == 0 {
		t.Created = now
	}
	t.Modified = now
	r.doc.Triples = append(r.doc.Triples, t)
	if err := r.save(); err != nil {
		r.doc.Triples = r.doc.Triples[:len(r.doc.Triples)-1]
		return RelationTriple{}, err
	}
	return t, nil
}

func defaultDocument(now time.Time) (document, error) {
	ids := make([]string, 6)
	for i := range ids {
		id, err := uuid.NewV7()
		if err != nil {
			return document{}, fmt.Errorf("failed to generate default ids: %w", err)
		}
		ids[i] = id.String()
	}
	ms := now.UnixMilli()
	question, claim, evidence := ids[0], ids[1], ids[2]
	informs, supports, opposes := ids[3], ids[4], ids[5]

	return document{
		NodeTypes: []NodeType{
			{ID: question, Name: "Question", Format: "QUE - {content}", Created: ms, Modified: ms},
			{ID: claim, Name: "Claim", Format: "CLM - {content}", Created: ms, Modified: ms},
			{ID: evidence, Name: "Evidence", Format: "EVD - {content}", Created: ms, Modified: ms},
		},
		RelationTypes: []RelationType{
			{ID: supports, Label: "supports", Complement: "is supported by", Created: ms, Modified: ms},
			{ID: opposes, Label: "opposes", Complement: "is opposed by", Created: ms, Modified: ms},
			{ID: informs, Label: "informs", Complement: "is informed by", Created: ms, Modified: ms},
		},
		Triples: []RelationTriple{
			{RelationshipTypeID: informs, SourceID: evidence, DestinationID: question, Created: ms, Modified: ms},
			{RelationshipTypeID: supports, SourceID: evidence, DestinationID: claim, Created: ms, Modified: ms},
			{RelationshipTypeID: opposes, SourceID: evidence, DestinationID: claim, Created: ms, Modified: ms},
		},
	}, nil
}
