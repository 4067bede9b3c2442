package sync

import (
	"fmt"
	"time"

	"github.com/discoursegraphs/dgsync/internal/concept"
	"github.com/discoursegraphs/dgsync/internal/importer"
	"github.com/discoursegraphs/dgsync/internal/relations"
	"github.com/discoursegraphs/dgsync/internal/remote"
	"github.com/discoursegraphs/dgsync/internal/vault"
)

func after(ms int64, t time.Time) bool {
	return time.UnixMilli(ms).After(t)
}

// buildConcepts collects the concepts due for upload: schema records
// modified since the last schema sync (a triple also when its relation
// type or either node type is due), nodes whose title changed, and local
// relations modified since the last relation sync.
func (o *Orchestrator) buildConcepts(sess remote.Session, st remoteState, titled []importer.NodeContent, all []vault.Node) ([]concept.Concept, error) {
	conv := concept.Converter{SpaceID: sess.SpaceID, AccountLocalID: sess.AccountLocalID, Now: o.clock}
	var out []concept.Concept

	due := make(map[string]bool)
	for _, nt := range o.schema.NodeTypes() {
		if after(nt.Modified, st.lastSchema) {
			due[nt.ID] = true
			out = append(out, conv.NodeType(nt))
		}
	}
	for _, rt := range o.schema.RelationTypes() {
		if after(rt.Modified, st.lastSchema) {
			due[rt.ID] = true
			out = append(out, conv.RelationType(rt))
		}
	}
	for _, t := range o.schema.Triples() {
		if !after(t.Modified, st.lastSchema) && !due[t.RelationshipTypeID] && !due[t.SourceID] && !due[t.DestinationID] {
			continue
		}
		c, err := conv.Triple(t, o.schema)
		if err != nil {
			o.logger.Warn("Skipping relation triple", "triple", t.ID(), "error", err)
			continue
		}
		out = append(out, c)
	}

	for _, n := range titled {
		out = append(out, conv.Node(n.Node, n.Info))
	}

	rels, err := o.relationConcepts(conv, st, all)
	if err != nil {
		return nil, err
	}
	return append(out, rels...), nil
}

func (o *Orchestrator) relationConcepts(conv concept.Converter, st remoteState, all []vault.Node) ([]concept.Concept, error) {
	if o.relations == nil {
		return nil, nil
	}
	var due []relations.Relation
	for _, r := range o.relations.Load().Relations {
		if !r.Imported() && after(r.ModifiedAt(), st.lastRelation) {
			due = append(due, r)
		}
	}
	if len(due) == 0 {
		return nil, nil
	}
	relations.SortByCreated(due)

	if all == nil {
		var err error
		if all, err = vault.CollectNodes(o.store, false); err != nil {
			return nil, fmt.Errorf("failed to collect nodes: %w", err)
		}
	}
	byID := make(map[string]vault.Node, len(all))
	for _, n := range all {
		byID[n.NodeInstanceID] = n
	}

	out := make([]concept.Concept, 0, len(due))
	for _, r := range due {
		c, ok := conv.Relation(r, o.schema, byID)
		if !ok {
			o.logger.Debug("Skipping relation with unknown endpoints", "relation", r.ID)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
