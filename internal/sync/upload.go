package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/discoursegraphs/dgsync/internal/concept"
	"github.com/discoursegraphs/dgsync/internal/embedding"
	"github.com/discoursegraphs/dgsync/internal/remote"
)

// uploadContents sends rows in batches. A batch whose embeddings fail is
// not uploaded; later batches still are.
func (o *Orchestrator) uploadContents(ctx context.Context, rows []remote.ContentInput, rep *Report) error {
	var errs []error
	for i, batch := range chunk(rows, o.batchSize) {
		embedded, err := o.embedDirect(ctx, batch)
		if err != nil {
			o.logger.Error("Skipping content batch", "batch", i, "rows", len(batch), "error", err)
			errs = append(errs, fmt.Errorf("content batch %d: %w", i, err))
			continue
		}
		err = o.session.Do(ctx, func(s remote.Session) error {
			_, err := o.client().RPC(ctx, remote.RPCUpsertContent, remote.UpsertContentArgs(batch, s.SpaceID, s.CreatorID))
			return err
		})
		if err != nil {
			o.logger.Error("Failed to upload content batch", "batch", i, "rows", len(batch), "error", err)
			errs = append(errs, fmt.Errorf("content batch %d: %w", i, err))
			continue
		}
		rep.Contents += len(batch)
		rep.Embedded += embedded
		o.metrics.AddUploads("content", len(batch))
	}
	return errors.Join(errs...)
}

// embedDirect attaches a vector to every direct row of batch and returns
// how many it embedded.
func (o *Orchestrator) embedDirect(ctx context.Context, batch []remote.ContentInput) (int, error) {
	if o.embedder == nil {
		return 0, nil
	}
	var (
		idx    []int
		inputs []string
	)
	for i, r := range batch {
		if r.Variant == remote.VariantDirect {
			idx = append(idx, i)
			inputs = append(inputs, r.Text)
		}
	}
	if len(inputs) == 0 {
		return 0, nil
	}

	vectors, err := embedding.EmbedChunked(ctx, o.embedder, inputs, o.embedBatch)
	if err != nil {
		return 0, err
	}
	model := o.embedder.Model()
	for k, i := range idx {
		batch[i].EmbeddingInline = &remote.EmbeddingInline{Model: model, Vector: vectors[k]}
	}
	return len(idx), nil
}

// uploadConcepts orders concepts and sends them in batches, stopping at the
// first failed batch.
func (o *Orchestrator) uploadConcepts(ctx context.Context, concepts []concept.Concept, rep *Report) error {
	if len(concepts) == 0 {
		return nil
	}
	ordering := concept.OrderByDependency(concepts)
	if len(ordering.Missing) > 0 {
		o.logger.Debug("Concepts reference ids outside this upload", "count", len(ordering.Missing))
		o.metrics.AddMissingDependencies(len(ordering.Missing))
		rep.Missing = ordering.Missing
	}

	for i, batch := range concept.Batches(ordering.Ordered, o.batchSize) {
		err := o.session.Do(ctx, func(s remote.Session) error {
			_, err := o.client().RPC(ctx, remote.RPCUpsertConcepts, remote.UpsertConceptsArgs(batch, s.SpaceID))
			return err
		})
		if err != nil {
			return fmt.Errorf("concept batch %d: %w", i, err)
		}
		rep.Concepts += len(batch)
		o.metrics.AddUploads("concept", len(batch))
	}
	return nil
}
