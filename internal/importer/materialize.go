package importer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/discoursegraphs/dgsync/internal/frontmatter"
	"github.com/discoursegraphs/dgsync/internal/remote"
	"github.com/discoursegraphs/dgsync/internal/vault"
)

var (
	invalidFileChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
)

// SanitizeFileName strips characters that are not allowed in file names
// and collapses whitespace.
func SanitizeFileName(name string) string {
	name = invalidFileChars.ReplaceAllString(name, "")
	name = whitespaceRun.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// uniquePath returns folder/name.md, or the first free "name (n).md".
func uniquePath(s vault.Store, folder, name string) string {
	p := folder + "/" + name + ".md"
	for n := 1; s.Exists(p); n++ {
		p = fmt.Sprintf("%s/%s (%d).md", folder, name, n)
	}
	return p
}

type importKey struct {
	nodeInstanceID string
	spaceURI       string
}

// importedIndex maps every imported file to its origin, scanning the
// vault once.
func (im *Importer) importedIndex() (map[importKey]string, error) {
	paths, err := im.store.ListAll()
	if err != nil {
		return nil, err
	}
	index := make(map[importKey]string)
	for _, p := range paths {
		fields, ok := im.store.Metadata(p)
		if !ok {
			continue
		}
		id := fields.String(frontmatter.KeyNodeInstanceID)
		uri := fields.String(frontmatter.KeyImportedFromSpaceURI)
		if id != "" && uri != "" {
			index[importKey{id, uri}] = p
		}
	}
	return index, nil
}

type remoteContent struct {
	text     string
	created  time.Time
	modified time.Time
}

func (im *Importer) fetchContent(ctx context.Context, spaceID int64, nodeInstanceID, variant string) (remoteContent, error) {
	row, err := remote.SelectOne(ctx, im.client(), remote.ViewMyContents, remote.Query{
		Columns: []string{"text", "created", "last_modified"},
		Filters: []remote.Filter{
			remote.Eq("source_local_id", nodeInstanceID),
			remote.Eq("space_id", spaceID),
			remote.Eq("variant", variant),
		},
	})
	if err != nil {
		return remoteContent{}, fmt.Errorf("no %s variant for node %s: %w", variant, nodeInstanceID, err)
	}
	if row["text"] == nil {
		return remoteContent{}, fmt.Errorf("no %s variant for node %s: %w", variant, nodeInstanceID, remote.ErrNotFound)
	}
	return remoteContent{
		text:     row.String("text"),
		created:  row.Time("created"),
		modified: row.Time("last_modified"),
	}, nil
}

func (im *Importer) importOne(ctx context.Context, sp space, e ImportableEntity, existing map[importKey]string) error {
	title, err := im.fetchContent(ctx, sp.id, e.NodeInstanceID, remote.VariantDirect)
	if err != nil {
		return err
	}
	if title.text == "" {
		return fmt.Errorf("node %s has an empty title", e.NodeInstanceID)
	}
	full, err := im.fetchContent(ctx, sp.id, e.NodeInstanceID, remote.VariantFull)
	if err != nil {
		return err
	}

	name := SanitizeFileName(title.text)
	if name == "" {
		name = e.NodeInstanceID
	}
	modified := e.Modified
	if modified.IsZero() {
		modified = full.modified
	}

	key := importKey{e.NodeInstanceID, sp.url}
	current, found := existing[key]
	if !found {
		current = uniquePath(im.store, sp.folder, name)
	}

	if err := im.materialize(ctx, current, full.text, sp, e.NodeInstanceID); err != nil {
		return err
	}
	if err := vault.SetTimes(im.store, current, modified); err != nil {
		im.logger.Warn("Failed to set file times", "path", current, "error", err)
	}

	if found && vault.Basename(current) != name {
		renamed := uniquePath(im.store, sp.folder, name)
		if err := im.store.Rename(current, renamed); err != nil {
			return fmt.Errorf("failed to rename %s: %w", current, err)
		}
		im.logger.Info("Renamed imported node", "from", current, "to", renamed)
		current = renamed
	}
	existing[key] = current
	return nil
}

// materialize writes raw to p and then stamps identity and origin onto the
// frontmatter. The node type is read back from raw rather than from the
// store's metadata, which may not have caught up with the write yet.
func (im *Importer) materialize(ctx context.Context, p, raw string, sp space, nodeInstanceID string) error {
	if err := im.store.Write(p, raw); err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}

	fields, _, err := frontmatter.Parse(raw)
	if err != nil && !errors.Is(err, frontmatter.ErrNotMapping) {
		return fmt.Errorf("failed to parse imported content: %w", err)
	}

	var mapped string
	if typeID := fields.String(frontmatter.KeyNodeTypeID); typeID != "" {
		if mapped, err = im.MapSchemaID(ctx, sp.id, typeID); err != nil {
			return err
		}
	}

	patched, err := frontmatter.Patch(raw, func(d *frontmatter.Document) error {
		if mapped != "" {
			if err := d.Set(frontmatter.KeyNodeTypeID, mapped); err != nil {
				return err
			}
		}
		if err := d.Set(frontmatter.KeyNodeInstanceID, nodeInstanceID); err != nil {
			return err
		}
		return d.Set(frontmatter.KeyImportedFromSpaceURI, sp.url)
	})
	if err != nil {
		return fmt.Errorf("failed to patch %s: %w", p, err)
	}
	if err := im.store.Write(p, patched); err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	return nil
}
