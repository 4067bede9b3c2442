package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/discoursegraphs/dgsync/internal/remote"
	"github.com/discoursegraphs/dgsync/internal/vault"
)

// remoteState is what the remote already holds for this space.
type remoteState struct {
	// titles maps node instance id to the stored direct text.
	titles       map[string]string
	lastContent  time.Time
	lastSchema   time.Time
	lastRelation time.Time
}

// detect compares a node with the stored state. A node never uploaded has
// both changes; otherwise the title is compared with the stored direct
// text and the mtime with the last content upload, at the millisecond
// precision the remote keeps.
func (st remoteState) detect(n vault.Node, info vault.FileInfo) []vault.ChangeType {
	title, ok := st.titles[n.NodeInstanceID]
	if !ok {
		return []vault.ChangeType{vault.ChangeTitle, vault.ChangeContent}
	}
	var out []vault.ChangeType
	if title != n.Basename() {
		out = append(out, vault.ChangeTitle)
	}
	if info.Modified.Truncate(time.Millisecond).After(st.lastContent) {
		out = append(out, vault.ChangeContent)
	}
	return out
}

func (o *Orchestrator) loadState(ctx context.Context, sess remote.Session, nodes []vault.Node) (remoteState, error) {
	var st remoteState
	space := remote.Eq("space_id", sess.SpaceID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		st.lastContent, err = o.latest(gctx, remote.TableContent, space)
		return err
	})
	g.Go(func() (err error) {
		st.lastSchema, err = o.latest(gctx, remote.TableConcept, space, remote.Eq("is_schema", true))
		return err
	})
	g.Go(func() (err error) {
		st.lastRelation, err = o.latest(gctx, remote.TableConcept, space,
			remote.Eq("is_schema", false), remote.Gt("arity", 0))
		return err
	})
	g.Go(func() (err error) {
		st.titles, err = o.directTitles(gctx, sess, nodes)
		return err
	})
	if err := g.Wait(); err != nil {
		return remoteState{}, err
	}
	return st, nil
}

// latest returns the newest last_modified in table, or the zero time.
func (o *Orchestrator) latest(ctx context.Context, table string, filters ...remote.Filter) (time.Time, error) {
	filters = append(filters, remote.NotNull("last_modified"))
	row, err := remote.SelectOne(ctx, o.client(), table, remote.Query{
		Columns: []string{"last_modified"},
		Filters: filters,
		OrderBy: "last_modified",
		Desc:    true,
	})
	if errors.Is(err, remote.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last sync time from %s: %w", table, err)
	}
	return row.Time("last_modified"), nil
}

func (o *Orchestrator) directTitles(ctx context.Context, sess remote.Session, nodes []vault.Node) (map[string]string, error) {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.NodeInstanceID
	}
	titles := make(map[string]string, len(ids))
	for _, batch := range chunk(ids, o.batchSize) {
		rows, err := o.client().Select(ctx, remote.TableContent, remote.Query{
			Columns: []string{"source_local_id", "text"},
			Filters: []remote.Filter{
				remote.Eq("space_id", sess.SpaceID),
				remote.Eq("variant", remote.VariantDirect),
				remote.In("source_local_id", batch),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read stored titles: %w", err)
		}
		for _, r := range rows {
			titles[r.String("source_local_id")] = r.String("text")
		}
	}
	return titles, nil
}

// chunk splits items into consecutive slices of at most size.
func chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}
