package sync

import (
	"context"
	"time"

	"github.com/discoursegraphs/dgsync/internal/vault"
)

// Syncer keeps the remote backend in sync with the vault.
//
// Individual node failures do not stop a pass: they are logged, listed in
// the report and joined into the returned error while the remaining nodes
// are still uploaded.
type Syncer interface {
	// SyncChanges uploads the nodes at the given paths.
	//
	// Paths that are not discourse nodes (no nodeTypeId, deleted since the
	// event, imported from another space) are skipped. The explicit change
	// types are merged with the detected ones: title refreshes the direct
	// variant and content the full one.
	//
	// Example:
	//   report, err := s.SyncChanges(ctx, []PathChange{{Path: "a.md", Changes: []vault.ChangeType{vault.ChangeContent}}})
	SyncChanges(ctx context.Context, changes []PathChange) (Report, error)

	// FullSync uploads every node that changed.
	//
	// since overrides the last content sync time read from the remote;
	// pass the zero time to use the stored one.
	//
	// Example:
	//   report, err := s.FullSync(ctx, time.Time{})
	FullSync(ctx context.Context, since time.Time) (Report, error)

	// CleanupOrphans deletes remote nodes of this space whose files no
	// longer exist and returns how many were found.
	//
	// Concept, Content and Document rows are deleted independently; each
	// table's failure is joined into the error.
	//
	// Example:
	//   n, err := s.CleanupOrphans(ctx)
	CleanupOrphans(ctx context.Context) (int, error)
}

// PathChange is one file reported by the change queue.
type PathChange struct {
	Path    string
	Changes []vault.ChangeType
	// OldPath is set for renames.
	OldPath string
}

// Report summarizes a sync pass.
type Report struct {
	Nodes    int `json:"nodes"`
	Changed  int `json:"changed"`
	Skipped  int `json:"skipped"`
	Contents int `json:"contents"`
	Embedded int `json:"embedded"`
	Concepts int `json:"concepts"`
	// Missing lists concept ids referenced but not part of the upload.
	Missing []string `json:"missing,omitempty"`
	// Failed lists node paths that could not be prepared.
	Failed   []string      `json:"failed,omitempty"`
	Duration time.Duration `json:"duration"`
}
