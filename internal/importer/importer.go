// Package importer adopts nodes published by other spaces into the local
// vault and keeps them fresh.
//
// Imported files land in import/<space name>/ and carry
// importedFromSpaceUri in their frontmatter, which keeps them out of
// uploads. Remote node types are mapped to local ones by name.
package importer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/discoursegraphs/dgsync/internal/frontmatter"
	"github.com/discoursegraphs/dgsync/internal/logging"
	"github.com/discoursegraphs/dgsync/internal/metrics"
	"github.com/discoursegraphs/dgsync/internal/remote"
	"github.com/discoursegraphs/dgsync/internal/schema"
	"github.com/discoursegraphs/dgsync/internal/vault"
)

// ImportFolder is the vault folder imported spaces are written under.
const ImportFolder = "import"

// ImportableEntity is a remote node that can be adopted locally.
type ImportableEntity struct {
	NodeInstanceID string
	Title          string
	SpaceID        int64
	SpaceName      string
	GroupID        string
	Created        time.Time
	Modified       time.Time
	// Selected is only used by interactive pickers.
	Selected bool
}

// Result counts the outcome of an import.
type Result struct {
	Success int
	Failed  int
}

// FileError ties a refresh failure to its file.
type FileError struct {
	File string
	Err  error
}

func (e FileError) Error() string {
	return e.File + ": " + e.Err.Error()
}

// RefreshResult counts the outcome of a refresh.
type RefreshResult struct {
	Success int
	Failed  int
	Errors  []FileError
}

// ProgressFunc is called after each node with the running count.
type ProgressFunc func(done, total int)

// Config wires an Importer.
type Config struct {
	Store   vault.Store
	Schema  *schema.Registry
	Session *remote.SessionProvider
	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// Importer pulls nodes from other spaces.
type Importer struct {
	store   vault.Store
	schema  *schema.Registry
	session *remote.SessionProvider
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// New returns an Importer.
func New(cfg Config) (*Importer, error) {
	if cfg.Store == nil || cfg.Schema == nil || cfg.Session == nil {
		return nil, errors.New("importer needs a store, a schema registry and a session")
	}
	return &Importer{
		store:   cfg.Store,
		schema:  cfg.Schema,
		session: cfg.Session,
		logger:  logging.OrNop(cfg.Logger).Named("importer"),
		metrics: cfg.Metrics,
	}, nil
}

func (im *Importer) client() remote.Client {
	return im.session.Client()
}

// ListImportable returns nodes published to the account's groups by other
// spaces, minus those already present locally. The direct variant's text
// is used as the title.
func (im *Importer) ListImportable(ctx context.Context) ([]ImportableEntity, error) {
	sess, err := im.session.Get(ctx)
	if err != nil {
		return nil, err
	}

	groups, err := im.client().Select(ctx, remote.TableGroupMembership, remote.Query{
		Columns: []string{"group_id"},
		Filters: []remote.Filter{remote.Eq("member_id", sess.AccountLocalID)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch groups: %w", err)
	}
	if len(groups) == 0 {
		return nil, nil
	}
	groupID := groups[0].String("group_id")

	rows, err := im.client().Select(ctx, remote.ViewMyContents, remote.Query{
		Columns: []string{"source_local_id", "space_id", "text", "created", "last_modified", "variant"},
		Filters: []remote.Filter{remote.Neq("space_id", sess.SpaceID)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch published nodes: %w", err)
	}

	known, err := vault.KnownNodeInstanceIDs(im.store)
	if err != nil {
		return nil, err
	}

	entities := collapseVariants(rows)
	out := entities[:0]
	names := make(map[int64]string)
	for _, e := range entities {
		if _, ok := known[e.NodeInstanceID]; ok {
			continue
		}
		name, ok := names[e.SpaceID]
		if !ok {
			name = im.spaceName(ctx, e.SpaceID)
			names[e.SpaceID] = name
		}
		e.SpaceName = name
		e.GroupID = groupID
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SpaceName != out[j].SpaceName {
			return out[i].SpaceName < out[j].SpaceName
		}
		return out[i].Title < out[j].Title
	})
	return out, nil
}

// collapseVariants folds content rows into one entity per (space, node):
// dates from the most recently modified row, title from the direct row.
func collapseVariants(rows []remote.Row) []ImportableEntity {
	type key struct {
		space int64
		id    string
	}
	type group struct {
		latest remote.Row
		direct remote.Row
	}
	var order []key
	groups := make(map[key]*group)

	for _, r := range rows {
		id := r.String("source_local_id")
		spaceID := r.Int64("space_id")
		if id == "" || spaceID == 0 {
			continue
		}
		k := key{spaceID, id}
		g, ok := groups[k]
		if !ok {
			g = &group{}
			groups[k] = g
			order = append(order, k)
		}
		if r.String("variant") == remote.VariantDirect {
			g.direct = r
		}
		if r["last_modified"] == nil || r["text"] == nil {
			continue
		}
		if g.latest == nil || !r.Time("last_modified").Before(g.latest.Time("last_modified")) {
			g.latest = r
		}
	}

	out := make([]ImportableEntity, 0, len(order))
	for _, k := range order {
		g := groups[k]
		if g.latest == nil {
			continue
		}
		title := g.latest.String("text")
		if g.direct != nil {
			title = g.direct.String("text")
		}
		out = append(out, ImportableEntity{
			NodeInstanceID: k.id,
			Title:          title,
			SpaceID:        k.space,
			Created:        g.latest.Time("created"),
			Modified:       g.latest.Time("last_modified"),
		})
	}
	return out
}

func (im *Importer) spaceName(ctx context.Context, spaceID int64) string {
	row, err := remote.SelectOne(ctx, im.client(), remote.TableSpace, remote.Query{
		Columns: []string{"name"},
		Filters: []remote.Filter{remote.Eq("id", spaceID)},
	})
	if err != nil || row.String("name") == "" {
		if err != nil {
			im.logger.Warn("Failed to fetch space name", "space_id", spaceID, "error", err)
		}
		return "space-" + strconv.FormatInt(spaceID, 10)
	}
	return row.String("name")
}

type space struct {
	id     int64
	name   string
	url    string
	folder string
}

func (im *Importer) loadSpace(ctx context.Context, spaceID int64) (space, error) {
	row, err := remote.SelectOne(ctx, im.client(), remote.TableSpace, remote.Query{
		Columns: []string{"id", "name", "url"},
		Filters: []remote.Filter{remote.Eq("id", spaceID)},
	})
	if err != nil {
		return space{}, fmt.Errorf("failed to load space %d: %w", spaceID, err)
	}
	if row.String("url") == "" {
		return space{}, fmt.Errorf("space %d has no url", spaceID)
	}
	name := row.String("name")
	if name == "" {
		name = "space-" + strconv.FormatInt(spaceID, 10)
	}
	return space{
		id:     spaceID,
		name:   name,
		url:    row.String("url"),
		folder: ImportFolder + "/" + SanitizeFileName(name),
	}, nil
}

// ImportSelected writes the given entities into the vault. Failures are
// counted per node and never stop the batch.
func (im *Importer) ImportSelected(ctx context.Context, entities []ImportableEntity, progress ProgressFunc) (Result, error) {
	var res Result
	if len(entities) == 0 {
		return res, nil
	}
	if _, err := im.session.Get(ctx); err != nil {
		return res, err
	}

	existing, err := im.importedIndex()
	if err != nil {
		return res, err
	}

	var spaceOrder []int64
	bySpace := make(map[int64][]ImportableEntity)
	for _, e := range entities {
		if _, ok := bySpace[e.SpaceID]; !ok {
			spaceOrder = append(spaceOrder, e.SpaceID)
		}
		bySpace[e.SpaceID] = append(bySpace[e.SpaceID], e)
	}

	done, total := 0, len(entities)
	step := func(ok bool) {
		if ok {
			res.Success++
		} else {
			res.Failed++
		}
		done++
		if progress != nil {
			progress(done, total)
		}
	}

	for _, spaceID := range spaceOrder {
		nodes := bySpace[spaceID]
		sp, err := im.loadSpace(ctx, spaceID)
		if err != nil {
			im.logger.Warn("Skipping space", "space_id", spaceID, "error", err)
			for range nodes {
				step(false)
			}
			continue
		}

		for _, e := range nodes {
			if err := ctx.Err(); err != nil {
				im.metrics.RecordImport(res.Success, res.Failed)
				return res, err
			}
			if err := im.importOne(ctx, sp, e, existing); err != nil {
				im.logger.Error("Failed to import node", "node", e.NodeInstanceID, "space", sp.name, "error", err)
				step(false)
				continue
			}
			step(true)
		}
	}

	im.metrics.RecordImport(res.Success, res.Failed)
	im.logger.Info("Import complete", "success", res.Success, "failed", res.Failed)
	return res, nil
}

// RefreshImported re-imports every file that records its origin space.
// Each failure is reported with its file.
func (im *Importer) RefreshImported(ctx context.Context) (RefreshResult, error) {
	var res RefreshResult

	paths, err := im.store.ListAll()
	if err != nil {
		return res, err
	}
	type target struct {
		path   string
		fields frontmatter.Fields
	}
	var targets []target
	for _, p := range paths {
		fields, ok := im.store.Metadata(p)
		if !ok {
			continue
		}
		if fields.String(frontmatter.KeyImportedFromSpaceURI) != "" && fields.String(frontmatter.KeyNodeInstanceID) != "" {
			targets = append(targets, target{p, fields})
		}
	}
	if len(targets) == 0 {
		return res, nil
	}
	if _, err := im.session.Get(ctx); err != nil {
		return res, err
	}

	existing, err := im.importedIndex()
	if err != nil {
		return res, err
	}
	spaces := make(map[string]space)

	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := im.refreshFile(ctx, t.path, t.fields, spaces, existing); err != nil {
			im.logger.Warn("Failed to refresh imported file", "path", t.path, "error", err)
			res.Failed++
			res.Errors = append(res.Errors, FileError{File: t.path, Err: err})
			continue
		}
		res.Success++
	}
	im.metrics.RecordImport(res.Success, res.Failed)
	im.logger.Info("Refresh complete", "success", res.Success, "failed", res.Failed)
	return res, nil
}

func (im *Importer) refreshFile(ctx context.Context, p string, fields frontmatter.Fields, spaces map[string]space, existing map[importKey]string) error {
	uri := fields.String(frontmatter.KeyImportedFromSpaceURI)
	sp, ok := spaces[uri]
	if !ok {
		row, err := remote.SelectOne(ctx, im.client(), remote.TableSpace, remote.Query{
			Columns: []string{"id"},
			Filters: []remote.Filter{remote.Eq("url", uri)},
		})
		if err != nil {
			return fmt.Errorf("could not get the space id for %s: %w", uri, err)
		}
		if sp, err = im.loadSpace(ctx, row.Int64("id")); err != nil {
			return err
		}
		spaces[uri] = sp
	}

	var group string
	if groups := fields.Strings(frontmatter.KeyPublishedToGroups); len(groups) > 0 {
		group = groups[0]
	}
	return im.importOne(ctx, sp, ImportableEntity{
		NodeInstanceID: fields.String(frontmatter.KeyNodeInstanceID),
		Title:          vault.Basename(p),
		SpaceID:        sp.id,
		SpaceName:      sp.name,
		GroupID:        group,
	}, existing)
}
