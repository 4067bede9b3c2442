// Package migrate upgrades vault data written by older releases.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/discoursegraphs/dgsync/internal/frontmatter"
	"github.com/discoursegraphs/dgsync/internal/logging"
	"github.com/discoursegraphs/dgsync/internal/relations"
	"github.com/discoursegraphs/dgsync/internal/schema"
	"github.com/discoursegraphs/dgsync/internal/vault"
)

// Options contains configuration for a migration
type Options struct {
	DryRun bool // Preview without writing
}

// Result contains statistics about a migration
type Result struct {
	RelationsAdded int
	FilesCleaned   int
	FilesRewritten int
	Errors         []string
}

// Migrator runs migrations against one vault.
type Migrator struct {
	store     vault.Store
	schema    *schema.Registry
	relations *relations.Store
	logger    *logging.Logger
}

// New returns a Migrator.
func New(store vault.Store, reg *schema.Registry, rels *relations.Store, logger *logging.Logger) (*Migrator, error) {
	if store == nil || reg == nil || rels == nil {
		return nil, errors.New("migrate needs a store, a schema registry and a relation store")
	}
	return &Migrator{
		store:     store,
		schema:    reg,
		relations: rels,
		logger:    logging.OrNop(logger).Named("migrate"),
	}, nil
}

type linkCleanup struct {
	file   string
	target string
	typ    string
}

// FrontmatterRelations moves relation links kept in node frontmatter (a
// key named after a relation type id holding [[link]] values) into the
// relation store. A link becomes a relation unless one of the same type
// already connects the two nodes in either direction. Once the store is
// saved, every migrated link is removed from both files.
func (m *Migrator) FrontmatterRelations(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{}
	paths, err := m.store.ListAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list vault: %w", err)
	}
	relTypes := m.schema.RelationTypes()
	if len(relTypes) == 0 {
		return result, nil
	}

	var pending []linkCleanup
	err = m.relations.Mutate(func(f *relations.File) (bool, error) {
		for _, p := range paths {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			fields, ok := m.store.Metadata(p)
			if !ok || fields.String(frontmatter.KeyNodeTypeID) == "" {
				continue
			}
			for _, rt := range relTypes {
				for _, link := range fields.Strings(rt.ID) {
					cleanup, added, err := m.migrateLink(f, p, fields, rt.ID, link, opts)
					if err != nil {
						result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", p, err))
						continue
					}
					if added {
						result.RelationsAdded++
						pending = append(pending, cleanup)
					}
				}
			}
		}
		return result.RelationsAdded > 0 && !opts.DryRun, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to migrate relations: %w", err)
	}
	if opts.DryRun || result.RelationsAdded == 0 {
		return result, nil
	}

	cleaned := make(map[string]struct{})
	for _, c := range pending {
		for _, pair := range [][2]string{{c.file, c.target}, {c.target, c.file}} {
			changed, err := m.removeLink(pair[0], pair[1], c.typ)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", pair[0], err))
				continue
			}
			if changed {
				cleaned[pair[0]] = struct{}{}
			}
		}
	}
	result.FilesCleaned = len(cleaned)
	m.logger.Info("Migrated frontmatter relations",
		"added", result.RelationsAdded, "cleaned", result.FilesCleaned, "errors", len(result.Errors))
	return result, nil
}

// migrateLink adds the relation for one link to f. In a dry run ids are
// not written back, so a node without one is keyed by its path.
func (m *Migrator) migrateLink(f *relations.File, p string, fields frontmatter.Fields, typ, link string, opts Options) (linkCleanup, bool, error) {
	target, ok := frontmatter.WikiLinkTarget(link)
	if !ok {
		return linkCleanup{}, false, nil
	}
	targetPath, found, err := vault.ResolveLink(m.store, target, p)
	if err != nil || !found {
		return linkCleanup{}, false, err
	}
	targetFields, ok := m.store.Metadata(targetPath)
	if !ok || targetFields.String(frontmatter.KeyNodeTypeID) == "" {
		return linkCleanup{}, false, nil
	}

	source, err := m.nodeID(p, fields, opts)
	if err != nil {
		return linkCleanup{}, false, err
	}
	dest, err := m.nodeID(targetPath, targetFields, opts)
	if err != nil {
		return linkCleanup{}, false, err
	}
	if _, exists := relations.FindByTriple(*f, source, dest, typ); exists {
		return linkCleanup{}, false, nil
	}
	if _, exists := relations.FindByTriple(*f, dest, source, typ); exists {
		return linkCleanup{}, false, nil
	}

	rel, err := m.relations.NewRelation(relations.AddParams{Type: typ, Source: source, Destination: dest})
	if err != nil {
		return linkCleanup{}, false, err
	}
	f.Relations[rel.ID] = rel
	return linkCleanup{file: p, target: targetPath, typ: typ}, true, nil
}

func (m *Migrator) nodeID(p string, fields frontmatter.Fields, opts Options) (string, error) {
	if opts.DryRun {
		if id := fields.String(frontmatter.KeyNodeInstanceID); id != "" {
			return id, nil
		}
		return "path:" + p, nil
	}
	return vault.NodeInstanceIDForPath(m.store, p, fields)
}

// removeLink drops every value under typ in p's frontmatter that links to
// linked. The key is deleted when nothing remains and a single remaining
// value is stored as a scalar.
func (m *Migrator) removeLink(p, linked, typ string) (bool, error) {
	content, err := m.store.Read(p)
	if err != nil {
		return false, err
	}
	changed := false
	patched, err := frontmatter.Patch(content, func(d *frontmatter.Document) error {
		raw, ok := d.Get(typ)
		if !ok {
			return nil
		}
		values := frontmatter.Fields{typ: raw}.Strings(typ)
		kept := values[:0]
		for _, v := range values {
			if target, isLink := frontmatter.WikiLinkTarget(v); isLink {
				if resolved, found, err := vault.ResolveLink(m.store, target, p); err == nil && found && resolved == linked {
					changed = true
					continue
				}
			}
			kept = append(kept, v)
		}
		switch {
		case !changed:
			return nil
		case len(kept) == 0:
			d.Delete(typ)
			return nil
		case len(kept) == 1:
			return d.Set(typ, kept[0])
		default:
			return d.Set(typ, kept)
		}
	})
	if err != nil || !changed {
		return false, err
	}
	return true, m.store.Write(p, patched)
}

// legacyURIPrefix marks space uris written before resource ids existed.
const legacyURIPrefix = "obsidian:"

// ImportedFromRID rewrites the legacy importedFromSpaceUri "obsidian:<x>"
// of imported nodes into importedFromRid "orn:obsidian.note:<x>/<node id>".
// Other uris are left alone.
func (m *Migrator) ImportedFromRID(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{}
	paths, err := m.store.ListAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list vault: %w", err)
	}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		fields, ok := m.store.Metadata(p)
		if !ok || fields.String(frontmatter.KeyNodeTypeID) == "" {
			continue
		}
		uri := fields.String(frontmatter.KeyImportedFromSpaceURI)
		if !strings.HasPrefix(uri, legacyURIPrefix) {
			continue
		}
		id := fields.String(frontmatter.KeyNodeInstanceID)
		if id == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: missing nodeInstanceId", p))
			continue
		}
		rid := "orn:obsidian.note:" + strings.TrimPrefix(uri, legacyURIPrefix) + "/" + id
		if opts.DryRun {
			result.FilesRewritten++
			continue
		}
		if err := m.rewriteRID(p, rid); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", p, err))
			continue
		}
		result.FilesRewritten++
	}
	if result.FilesRewritten > 0 {
		m.logger.Info("Migrated imported node origins", "rewritten", result.FilesRewritten, "dry_run", opts.DryRun)
	}
	return result, nil
}

func (m *Migrator) rewriteRID(p, rid string) error {
	content, err := m.store.Read(p)
	if err != nil {
		return err
	}
	patched, err := frontmatter.Patch(content, func(d *frontmatter.Document) error {
		d.Delete(frontmatter.KeyImportedFromSpaceURI)
		return d.Set(frontmatter.KeyImportedFromRID, rid)
	})
	if err != nil {
		return err
	}
	return m.store.Write(p, patched)
}
