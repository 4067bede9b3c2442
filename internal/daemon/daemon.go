package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/discoursegraphs/dgsync/internal/logging"
	"github.com/discoursegraphs/dgsync/internal/metrics"
	dgsync "github.com/discoursegraphs/dgsync/internal/sync"
	"github.com/discoursegraphs/dgsync/internal/vault"
)

// Message kinds sent to the Publisher.
const (
	KindQueueDrain    = "queue_drain"
	KindSyncComplete  = "sync_complete"
	KindOrphanCleanup = "orphan_cleanup"
)

// Publisher receives daemon activity, typically the dashboard.
type Publisher interface {
	Publish(kind string, data any) error
}

// OrphanCleanupData is published after a cleanup pass.
type OrphanCleanupData struct {
	Orphans int    `json:"orphans"`
	Error   string `json:"error,omitempty"`
}

// Config holds configuration for the daemon.
type Config struct {
	// Root is the vault folder to watch.
	Root   string
	Syncer dgsync.Syncer

	// Debounce is the queue's quiet period (default 5s).
	Debounce time.Duration

	// SkipInitialSync starts watching without the startup full sync and
	// orphan cleanup.
	SkipInitialSync bool

	Publisher Publisher
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
}

// Daemon orchestrates file watching, change debouncing and sync.
type Daemon struct {
	cfg     Config
	logger  *logging.Logger
	queue   *ChangeQueue
	watcher *FileWatcher
}

// New creates a Daemon. Use Run to begin watching and syncing.
func New(cfg Config) (*Daemon, error) {
	if cfg.Root == "" {
		return nil, errors.New("root cannot be empty")
	}
	if cfg.Syncer == nil {
		return nil, errors.New("syncer cannot be nil")
	}

	d := &Daemon{cfg: cfg, logger: logging.OrNop(cfg.Logger).Named("daemon")}
	q, err := NewQueue(QueueConfig{
		Debounce: cfg.Debounce,
		Process:  d.process,
		Cleanup:  d.cleanup,
		OnDrain: func(r DrainReport) {
			d.publish(KindQueueDrain, r)
		},
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	d.queue = q

	watcher, err := NewFileWatcher()
	if err != nil {
		return nil, err
	}
	d.watcher = watcher
	return d, nil
}

// Queue exposes the change queue, for example to flush it on demand.
func (d *Daemon) Queue() *ChangeQueue {
	return d.queue
}

// Run performs the initial sync, then watches the vault until ctx is
// cancelled. Sync failures are logged; only watcher setup errors are
// returned.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("Starting daemon", "root", d.cfg.Root)

	if !d.cfg.SkipInitialSync {
		d.initialSync(ctx)
	}

	d.queue.Start(ctx)
	defer d.queue.Stop()

	if err := d.watcher.Start(d.cfg.Root); err != nil {
		return fmt.Errorf("failed to watch vault: %w", err)
	}
	defer func() {
		if err := d.watcher.Stop(); err != nil {
			d.logger.Warn("Error closing watcher", "error", err)
		}
	}()
	d.logger.Info("Watching vault", "root", d.cfg.Root)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Shutdown signal received")
			return nil

		case ev, ok := <-d.watcher.Events():
			if !ok {
				return nil
			}
			if err := d.HandleEvent(ev); err != nil {
				if errors.Is(err, ErrQueueClosed) {
					return nil
				}
				d.logger.Warn("Failed to queue change", "path", ev.Path, "error", err)
			}

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return nil
			}
			d.logger.Warn("Watcher error", "error", err)
		}
	}
}

func (d *Daemon) initialSync(ctx context.Context) {
	report, err := d.cfg.Syncer.FullSync(ctx, time.Time{})
	if err != nil {
		d.logger.Warn("Initial sync finished with errors", "error", err)
	}
	d.publish(KindSyncComplete, report)

	if _, err := d.cleanup(ctx); err != nil {
		d.logger.Warn("Initial orphan cleanup failed", "error", err)
	}
}

// HandleEvent maps a file event onto the queue: a new file needs its title
// and content synced, an edit its content, a rename its title, and a
// delete schedules an orphan cleanup.
func (d *Daemon) HandleEvent(ev FileEvent) error {
	d.logger.Debug("File event", "op", ev.Op, "path", ev.Path, "old_path", ev.OldPath)
	switch ev.Op {
	case OpCreate:
		if err := d.queue.Enqueue(ev.Path, vault.ChangeTitle, ""); err != nil {
			return err
		}
		return d.queue.Enqueue(ev.Path, vault.ChangeContent, "")
	case OpModify:
		return d.queue.Enqueue(ev.Path, vault.ChangeContent, "")
	case OpRename:
		return d.queue.Enqueue(ev.Path, vault.ChangeTitle, ev.OldPath)
	case OpDelete:
		return d.queue.MarkOrphanCleanup()
	}
	return nil
}

func (d *Daemon) process(ctx context.Context, c QueuedChange) error {
	_, err := d.cfg.Syncer.SyncChanges(ctx, []dgsync.PathChange{{
		Path:    c.Path,
		Changes: c.Changes,
		OldPath: c.OldPath,
	}})
	return err
}

func (d *Daemon) cleanup(ctx context.Context) (int, error) {
	n, err := d.cfg.Syncer.CleanupOrphans(ctx)
	data := OrphanCleanupData{Orphans: n}
	if err != nil {
		data.Error = err.Error()
	}
	d.publish(KindOrphanCleanup, data)
	return n, err
}

func (d *Daemon) publish(kind string, data any) {
	if d.cfg.Publisher == nil {
		return
	}
	if err := d.cfg.Publisher.Publish(kind, data); err != nil {
		d.logger.Debug("Failed to publish", "kind", kind, "error", err)
	}
}
