// Package sync uploads the vault's discourse graph to the remote backend.
//
// Overview
//
// A sync pass turns node files into two kinds of remote records:
//
//	vault/*.md (nodeTypeId + nodeInstanceId)
//	     ├── content rows    → upsert_content  (direct = title, embedded;
//	     │                                       full = whole file)
//	     └── concepts        → upsert_concepts (node types, relation types,
//	                                            triples, nodes, relations)
//
// Only what changed is sent. For each node the pass works out whether its
// title or its content changed since the last upload, and the change types
// pick the content variants: a title change refreshes the direct variant
// (and its embedding) plus the node's concept, a content change refreshes
// the full variant. Schema and relation concepts are sent when they were
// modified after the newest one already stored remotely.
//
// Concepts are ordered so that every concept follows the concepts it
// references, then uploaded in batches.
//
// Usage
//
//	s, err := sync.New(sync.Config{
//	    Store:     store,
//	    Schema:    registry,
//	    Relations: relStore,
//	    Session:   sessions,
//	    Embedder:  embedder,
//	})
//	if err != nil {
//	    return err
//	}
//
//	// Everything that changed since the last upload
//	report, err := s.FullSync(ctx, time.Time{})
//
//	// A few files reported by the watcher
//	report, err = s.SyncChanges(ctx, []sync.PathChange{
//	    {Path: "Claims/CLM - Mice dream.md", Changes: []vault.ChangeType{vault.ChangeContent}},
//	})
//
//	// Remove remote nodes whose files are gone
//	n, err := s.CleanupOrphans(ctx)
//
// Error Handling
//
// A node that cannot be read is logged, reported in Report.Failed and
// skipped; the rest of the pass continues. A failed content batch (for
// instance an embedding count mismatch) does not stop later batches. A
// failed concept batch stops the concept upload, since later batches may
// reference it. All failures are joined into the returned error.
package sync
