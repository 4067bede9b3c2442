package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/discoursegraphs/dgsync/internal/remote"
	"github.com/discoursegraphs/dgsync/internal/vault"
)

// CleanupOrphans implements Syncer.
func (o *Orchestrator) CleanupOrphans(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := o.cleanupOrphans(ctx)
	o.metrics.ObserveSync("cleanup", time.Since(start), err)
	return n, err
}

func (o *Orchestrator) cleanupOrphans(ctx context.Context) (int, error) {
	sess, err := o.session.Get(ctx)
	if err != nil {
		return 0, err
	}
	rows, err := o.client().Select(ctx, remote.TableContent, remote.Query{
		Columns: []string{"source_local_id"},
		Filters: []remote.Filter{
			remote.Eq("space_id", sess.SpaceID),
			remote.Eq("scale", remote.ScaleDocument),
			remote.NotNull("source_local_id"),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list remote nodes: %w", err)
	}

	known, err := vault.KnownNodeInstanceIDs(o.store)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{}, len(rows))
	var orphans []string
	for _, r := range rows {
		id := r.String("source_local_id")
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := known[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	var errs []error
	del := func(table string, ids []string, extra ...remote.Filter) {
		filters := append([]remote.Filter{
			remote.Eq("space_id", sess.SpaceID),
			remote.In("source_local_id", ids),
		}, extra...)
		if _, err := o.client().Delete(ctx, table, filters...); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete orphans from %s: %w", table, err))
		}
	}
	for _, ids := range chunk(orphans, o.batchSize) {
		del(remote.TableConcept, ids, remote.Eq("is_schema", false))
		del(remote.TableContent, ids)
		del(remote.TableDocument, ids)
	}

	err = errors.Join(errs...)
	if err == nil {
		o.metrics.AddOrphansDeleted(len(orphans))
	}
	o.logger.Info("Orphan cleanup complete", "orphans", len(orphans), "errors", len(errs))
	return len(orphans), err
}
