package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/discoursegraphs/dgsync/internal/logging"
	"github.com/discoursegraphs/dgsync/internal/metrics"
	"github.com/discoursegraphs/dgsync/internal/vault"
)

// DefaultDebounce is the quiet period the queue waits for before draining.
const DefaultDebounce = 5 * time.Second

// ErrQueueClosed is returned when the queue is used after Stop.
var ErrQueueClosed = errors.New("change queue is closed")

// QueuedChange is the pending work for one path.
type QueuedChange struct {
	Path    string
	Changes []vault.ChangeType
	// OldPath is the first non-empty previous path seen for a rename.
	OldPath string
}

// ProcessFunc syncs one queued path.
type ProcessFunc func(ctx context.Context, change QueuedChange) error

// CleanupFunc runs the deferred orphan cleanup and reports how many
// orphans it found.
type CleanupFunc func(ctx context.Context) (int, error)

// DrainReport summarizes one drain.
type DrainReport struct {
	Processed []string `json:"processed"`
	Failed    []string `json:"failed"`
	// CleanupRan is set when the orphan cleanup flag was consumed.
	CleanupRan   bool          `json:"cleanup_ran"`
	Orphans      int           `json:"orphans"`
	CleanupError string        `json:"cleanup_error,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Empty reports whether the drain had nothing to do.
func (r DrainReport) Empty() bool {
	return len(r.Processed) == 0 && len(r.Failed) == 0 && !r.CleanupRan
}

// QueueConfig holds configuration for a ChangeQueue.
type QueueConfig struct {
	// Debounce is the quiet period before a drain (default 5s).
	Debounce time.Duration
	Process  ProcessFunc
	// Cleanup is optional; without it the cleanup flag is dropped.
	Cleanup CleanupFunc
	// OnDrain is called from the consumer after every non-empty drain.
	OnDrain func(DrainReport)
	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

type cmdKind int

const (
	cmdEnqueue cmdKind = iota
	cmdCleanup
	cmdFlush
	cmdPending
)

type command struct {
	kind   cmdKind
	change QueuedChange
	reply  chan DrainReport
	count  chan int
}

// ChangeQueue coalesces file changes per path and drains them after a
// quiet period. A single consumer goroutine owns the pending entries and
// the debounce timer, so drains never overlap and paths are processed one
// at a time.
type ChangeQueue struct {
	cfg    QueueConfig
	logger *logging.Logger

	cmds      chan command
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewQueue returns a queue; call Start to run its consumer.
func NewQueue(cfg QueueConfig) (*ChangeQueue, error) {
	if cfg.Process == nil {
		return nil, errors.New("change queue needs a process function")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	return &ChangeQueue{
		cfg:    cfg,
		logger: logging.OrNop(cfg.Logger).Named("queue"),
		cmds:   make(chan command, 256),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start runs the consumer until ctx is cancelled or Stop is called. Work
// still pending at that point is dropped.
func (q *ChangeQueue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		go q.run(ctx)
	})
}

// Stop ends the consumer and waits for an in-flight drain to finish.
// It is safe to call from several goroutines.
func (q *ChangeQueue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stop)
	})
	// A queue that never started has no consumer to close done.
	q.startOnce.Do(func() {
		close(q.done)
	})
	<-q.done
}

// Enqueue records a change for path and restarts the debounce timer.
func (q *ChangeQueue) Enqueue(path string, change vault.ChangeType, oldPath string) error {
	return q.send(command{kind: cmdEnqueue, change: QueuedChange{
		Path:    vault.Clean(path),
		Changes: []vault.ChangeType{change},
		OldPath: oldPath,
	}})
}

// MarkOrphanCleanup schedules one orphan cleanup after the next drain.
func (q *ChangeQueue) MarkOrphanCleanup() error {
	return q.send(command{kind: cmdCleanup})
}

// Flush drains immediately, without waiting for the quiet period.
func (q *ChangeQueue) Flush(ctx context.Context) (DrainReport, error) {
	reply := make(chan DrainReport, 1)
	if err := q.sendContext(ctx, command{kind: cmdFlush, reply: reply}); err != nil {
		return DrainReport{}, err
	}
	select {
	case r := <-reply:
		return r, nil
	case <-q.done:
		return DrainReport{}, ErrQueueClosed
	case <-ctx.Done():
		return DrainReport{}, ctx.Err()
	}
}

// Pending returns the number of paths waiting for a drain.
func (q *ChangeQueue) Pending(ctx context.Context) (int, error) {
	count := make(chan int, 1)
	if err := q.sendContext(ctx, command{kind: cmdPending, count: count}); err != nil {
		return 0, err
	}
	select {
	case n := <-count:
		return n, nil
	case <-q.done:
		return 0, ErrQueueClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (q *ChangeQueue) send(c command) error {
	return q.sendContext(context.Background(), c)
}

func (q *ChangeQueue) sendContext(ctx context.Context, c command) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.cmds <- c:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// queueState is owned by the consumer goroutine.
type queueState struct {
	order   []string
	pending map[string]*QueuedChange
	cleanup bool
}

func (s *queueState) add(c QueuedChange) {
	entry, ok := s.pending[c.Path]
	if !ok {
		entry = &QueuedChange{Path: c.Path}
		s.pending[c.Path] = entry
		s.order = append(s.order, c.Path)
	}
	entry.Changes = vault.MergeChanges(entry.Changes, c.Changes)
	if entry.OldPath == "" {
		entry.OldPath = c.OldPath
	}
}

// take empties the state and returns the entries in arrival order.
func (s *queueState) take() ([]QueuedChange, bool) {
	out := make([]QueuedChange, 0, len(s.order))
	for _, p := range s.order {
		out = append(out, *s.pending[p])
	}
	cleanup := s.cleanup
	s.order = nil
	s.pending = make(map[string]*QueuedChange)
	s.cleanup = false
	return out, cleanup
}

func (q *ChangeQueue) run(ctx context.Context) {
	defer close(q.done)

	st := &queueState{pending: make(map[string]*QueuedChange)}
	// Stop and Reset leave no stale tick behind (Go 1.23 timer semantics).
	timer := time.NewTimer(q.cfg.Debounce)
	timer.Stop()
	reset := func() {
		timer.Reset(q.cfg.Debounce)
	}
	disarm := func() {
		timer.Stop()
	}
	defer disarm()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return

		case c := <-q.cmds:
			switch c.kind {
			case cmdEnqueue:
				st.add(c.change)
				q.cfg.Metrics.SetPending(len(st.order))
				reset()
			case cmdCleanup:
				st.cleanup = true
				reset()
			case cmdFlush:
				disarm()
				c.reply <- q.drain(ctx, st)
			case cmdPending:
				c.count <- len(st.order)
			}

		case <-timer.C:
			q.drain(ctx, st)
		}
	}
}

func (q *ChangeQueue) drain(ctx context.Context, st *queueState) DrainReport {
	start := time.Now()
	changes, cleanup := st.take()
	q.cfg.Metrics.SetPending(0)

	report := DrainReport{Processed: []string{}, Failed: []string{}}
	for _, c := range changes {
		if err := q.process(ctx, c); err != nil {
			q.logger.Warn("Failed to sync change", "path", c.Path, "changes", c.Changes, "error", err)
			report.Failed = append(report.Failed, c.Path)
			continue
		}
		report.Processed = append(report.Processed, c.Path)
	}

	if cleanup && q.cfg.Cleanup != nil {
		report.CleanupRan = true
		n, err := q.cfg.Cleanup(ctx)
		report.Orphans = n
		if err != nil {
			q.logger.Warn("Orphan cleanup failed", "error", err)
			report.CleanupError = err.Error()
		}
	}
	report.Duration = time.Since(start)

	if report.Empty() {
		return report
	}
	q.cfg.Metrics.RecordDrain(len(report.Processed), len(report.Failed))
	q.logger.Info("Drained change queue",
		"processed", len(report.Processed), "failed", len(report.Failed),
		"cleanup", report.CleanupRan, "duration", report.Duration)
	if q.cfg.OnDrain != nil {
		q.cfg.OnDrain(report)
	}
	return report
}

// process runs the sync for one path; a panic counts as a failure of
// that path only.
func (q *ChangeQueue) process(ctx context.Context, c QueuedChange) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while syncing %s: %v", c.Path, r)
		}
	}()
	return q.cfg.Process(ctx, c)
}
