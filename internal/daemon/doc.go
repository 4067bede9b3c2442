// Package daemon watches a vault and keeps the remote backend in sync with
// it while running.
//
// # Architecture
//
// The daemon consists of three components:
//
//   - FileWatcher: recursive fsnotify watch over the vault's markdown files
//   - ChangeQueue: per-path coalescing with a debounce timer
//   - Daemon: wires watcher events into the queue and the queue into a
//     sync.Syncer
//
// # Change Queue
//
// Every file event becomes a change type for its path. Changes to the same
// path merge until the vault has been quiet for the debounce period
// (default 5s), then the queue drains:
//
//	q, err := daemon.NewQueue(daemon.QueueConfig{
//	    Process: func(ctx context.Context, c daemon.QueuedChange) error {
//	        _, err := syncer.SyncChanges(ctx, []sync.PathChange{{Path: c.Path, Changes: c.Changes}})
//	        return err
//	    },
//	    Cleanup: syncer.CleanupOrphans,
//	})
//	q.Start(ctx)
//	defer q.Stop()
//
//	q.Enqueue("Claim.md", vault.ChangeContent, "")
//
// A drain processes paths one at a time in arrival order. A failing path is
// removed from the queue and listed in DrainReport.Failed; it is only tried
// again when it changes again. Deletions set a flag instead of queueing a
// path, and the orphan cleanup runs once after the paths of the drain.
//
// One goroutine owns the pending entries and the timer. Enqueue, Flush and
// Pending are requests to that goroutine, so two drains never overlap.
//
// # File Watching
//
// The watcher skips the _discourse_graphs folder and dot-folders, adds
// folders as they are created, and pairs a Rename with the Create that
// follows it into a single OpRename:
//
//	fw, err := daemon.NewFileWatcher()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer fw.Stop()
//
//	if err := fw.Start("/path/to/vault"); err != nil {
//	    log.Fatal(err)
//	}
//
//	for event := range fw.Events() {
//	    fmt.Printf("%s %s (was %s)\n", event.Op, event.Path, event.OldPath)
//	}
//
// A Rename without a matching Create (a file moved out of the vault) is
// reported as OpDelete once RenameWindow has passed.
package daemon
