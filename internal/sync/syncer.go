package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/discoursegraphs/dgsync/internal/embedding"
	"github.com/discoursegraphs/dgsync/internal/importer"
	"github.com/discoursegraphs/dgsync/internal/logging"
	"github.com/discoursegraphs/dgsync/internal/metrics"
	"github.com/discoursegraphs/dgsync/internal/relations"
	"github.com/discoursegraphs/dgsync/internal/remote"
	"github.com/discoursegraphs/dgsync/internal/schema"
	"github.com/discoursegraphs/dgsync/internal/vault"
)

// DefaultBatchSize is the number of rows sent per upsert call.
const DefaultBatchSize = 200

// Config wires an Orchestrator.
type Config struct {
	Store   vault.Store
	Schema  *schema.Registry
	Session *remote.SessionProvider
	// Relations is optional; without it no relation instances are sent.
	Relations *relations.Store
	// Embedder is optional; without it direct variants are uploaded
	// without vectors.
	Embedder embedding.Embedder

	BatchSize          int
	EmbeddingBatchSize int

	Logger  *logging.Logger
	Metrics *metrics.Metrics
	// Clock stamps schema concepts (tests). Defaults to time.Now.
	Clock func() time.Time
}

// Orchestrator implements Syncer.
type Orchestrator struct {
	store      vault.Store
	schema     *schema.Registry
	session    *remote.SessionProvider
	relations  *relations.Store
	embedder   embedding.Embedder
	batchSize  int
	embedBatch int
	logger     *logging.Logger
	metrics    *metrics.Metrics
	clock      func() time.Time
}

var _ Syncer = (*Orchestrator)(nil)

// New returns an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil || cfg.Schema == nil || cfg.Session == nil {
		return nil, errors.New("sync needs a store, a schema registry and a session")
	}
	o := &Orchestrator{
		store:      cfg.Store,
		schema:     cfg.Schema,
		session:    cfg.Session,
		relations:  cfg.Relations,
		embedder:   cfg.Embedder,
		batchSize:  cfg.BatchSize,
		embedBatch: cfg.EmbeddingBatchSize,
		logger:     logging.OrNop(cfg.Logger).Named("sync"),
		metrics:    cfg.Metrics,
		clock:      cfg.Clock,
	}
	if o.batchSize <= 0 {
		o.batchSize = DefaultBatchSize
	}
	if o.embedBatch <= 0 {
		o.embedBatch = embedding.DefaultBatchSize
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	return o, nil
}

func (o *Orchestrator) client() remote.Client {
	return o.session.Client()
}

// SyncChanges implements Syncer.
func (o *Orchestrator) SyncChanges(ctx context.Context, changes []PathChange) (Report, error) {
	start := time.Now()
	rep, err := o.syncChanges(ctx, changes)
	rep.Duration = time.Since(start)
	o.metrics.ObserveSync("changes", rep.Duration, err)
	return rep, err
}

func (o *Orchestrator) syncChanges(ctx context.Context, changes []PathChange) (Report, error) {
	var (
		rep      Report
		errs     []error
		nodes    []vault.Node
		explicit = make(map[string][]vault.ChangeType)
	)
	for _, c := range changes {
		node, ok, err := vault.NodeAt(o.store, c.Path)
		if err != nil {
			o.logger.Warn("Failed to resolve node", "path", c.Path, "error", err)
			rep.Failed = append(rep.Failed, c.Path)
			errs = append(errs, fmt.Errorf("%s: %w", c.Path, err))
			continue
		}
		if !ok || node.Imported() {
			rep.Skipped++
			continue
		}
		if c.OldPath != "" {
			o.logger.Debug("Node renamed", "from", c.OldPath, "to", node.Path)
		}
		id := node.NodeInstanceID
		if _, seen := explicit[id]; !seen {
			nodes = append(nodes, node)
		}
		explicit[id] = vault.MergeChanges(explicit[id], c.Changes)
	}
	if len(nodes) == 0 {
		return rep, errors.Join(errs...)
	}

	err := o.run(ctx, nodes, nil, explicit, time.Time{}, &rep)
	return rep, errors.Join(append(errs, err)...)
}

// FullSync implements Syncer.
func (o *Orchestrator) FullSync(ctx context.Context, since time.Time) (Report, error) {
	start := time.Now()
	o.logger.Info("Starting full sync", "since", since)

	var rep Report
	nodes, err := vault.CollectNodes(o.store, false)
	if err != nil {
		err = fmt.Errorf("failed to collect nodes: %w", err)
	} else {
		err = o.run(ctx, nodes, nodes, nil, since, &rep)
	}

	rep.Duration = time.Since(start)
	o.metrics.ObserveSync("full", rep.Duration, err)
	o.logger.Info("Full sync complete",
		"nodes", rep.Nodes, "changed", rep.Changed, "contents", rep.Contents,
		"concepts", rep.Concepts, "failed", len(rep.Failed), "duration", rep.Duration)
	return rep, err
}

// run uploads nodes. all is every local node when the caller already has
// them, and is collected on demand otherwise.
func (o *Orchestrator) run(ctx context.Context, nodes, all []vault.Node, explicit map[string][]vault.ChangeType, since time.Time, rep *Report) error {
	sess, err := o.session.Get(ctx)
	if err != nil {
		return err
	}
	rep.Nodes = len(nodes)

	st, err := o.loadState(ctx, sess, nodes)
	if err != nil {
		return err
	}
	if !since.IsZero() {
		st.lastContent = since
	}

	var (
		errs   []error
		rows   []remote.ContentInput
		titled []importer.NodeContent
	)
	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		nc, err := o.prepare(n, st, explicit[n.NodeInstanceID])
		if err != nil {
			o.logger.Warn("Skipping node", "path", n.Path, "error", err)
			rep.Failed = append(rep.Failed, n.Path)
			errs = append(errs, fmt.Errorf("%s: %w", n.Path, err))
			continue
		}
		if len(nc.Changes) == 0 {
			continue
		}
		rep.Changed++
		rows = append(rows, importer.ContentRows(nc, sess.AccountLocalID)...)
		if vault.HasChange(nc.Changes, vault.ChangeTitle) {
			titled = append(titled, nc)
		}
	}

	if err := o.uploadContents(ctx, rows, rep); err != nil {
		errs = append(errs, err)
	}

	concepts, err := o.buildConcepts(sess, st, titled, all)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	if err := o.uploadConcepts(ctx, concepts, rep); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// prepare reads n and works out its changes.
func (o *Orchestrator) prepare(n vault.Node, st remoteState, explicit []vault.ChangeType) (importer.NodeContent, error) {
	info, err := o.store.Stat(n.Path)
	if err != nil {
		return importer.NodeContent{}, err
	}
	changes := vault.MergeChanges(st.detect(n, info), explicit)
	if len(changes) == 0 {
		return importer.NodeContent{Node: n, Info: info}, nil
	}
	body, err := o.store.Read(n.Path)
	if err != nil {
		return importer.NodeContent{}, err
	}
	return importer.NodeContent{Node: n, Info: info, Body: body, Changes: changes}, nil
}
