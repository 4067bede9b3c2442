package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/discoursegraphs/dgsync/internal/vault"
)

// recorder collects what the queue hands to its callbacks.
type recorder struct {
	mu      sync.Mutex
	calls   []QueuedChange
	events  []string
	failing map[string]int
	drains  chan DrainReport
}

func newRecorder() *recorder {
	return &recorder{failing: make(map[string]int), drains: make(chan DrainReport, 10)}
}

func (r *recorder) process(_ context.Context, c QueuedChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	r.events = append(r.events, c.Path)
	if r.failing[c.Path] > 0 {
		r.failing[c.Path]--
		return errors.New("boom")
	}
	return nil
}

func (r *recorder) cleanup(context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "cleanup")
	return 3, nil
}

func (r *recorder) snapshot() ([]QueuedChange, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]QueuedChange(nil), r.calls...), append([]string(nil), r.events...)
}

func setupQueue(t *testing.T, debounce time.Duration) (*ChangeQueue, *recorder) {
	t.Helper()
	rec := newRecorder()
	q, err := NewQueue(QueueConfig{
		Debounce: debounce,
		Process:  rec.process,
		Cleanup:  rec.cleanup,
		OnDrain:  func(r DrainReport) { rec.drains <- r },
	})
	if err != nil {
		t.Fatalf("NewQueue failed: %v", err)
	}
	q.Start(context.Background())
	t.Cleanup(q.Stop)
	return q, rec
}

func mustEnqueue(t *testing.T, q *ChangeQueue, path string, c vault.ChangeType, oldPath string) {
	t.Helper()
	if err := q.Enqueue(path, c, oldPath); err != nil {
		t.Fatalf("Enqueue(%s) failed: %v", path, err)
	}
}

func TestNewQueue_RequiresProcess(t *testing.T) {
	if _, err := NewQueue(QueueConfig{}); err == nil {
		t.Fatal("expected error without a process function")
	}
}

func TestQueue_DebounceCoalesces(t *testing.T) {
	q, rec := setupQueue(t, 50*time.Millisecond)

	for i := 0; i < 5; i++ {
		c := vault.ChangeContent
		if i == 2 {
			c = vault.ChangeTitle
		}
		mustEnqueue(t, q, "notes/a.md", c, "")
	}

	select {
	case report := <-rec.drains:
		if diff := cmp.Diff([]string{"notes/a.md"}, report.Processed); diff != "" {
			t.Errorf("processed mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queue never drained")
	}

	// No second drain for the same burst.
	select {
	case report := <-rec.drains:
		t.Fatalf("unexpected second drain: %+v", report)
	case <-time.After(150 * time.Millisecond):
	}

	calls, _ := rec.snapshot()
	want := []QueuedChange{{Path: "notes/a.md", Changes: []vault.ChangeType{vault.ChangeContent, vault.ChangeTitle}}}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestQueue_EnqueueRestartsTimer(t *testing.T) {
	q, rec := setupQueue(t, 200*time.Millisecond)

	for i := 0; i < 4; i++ {
		mustEnqueue(t, q, "a.md", vault.ChangeContent, "")
		time.Sleep(50 * time.Millisecond)
		select {
		case <-rec.drains:
			t.Fatalf("drained during the quiet period after enqueue %d", i)
		default:
		}
	}

	select {
	case <-rec.drains:
	case <-time.After(2 * time.Second):
		t.Fatal("queue never drained")
	}
}

func TestQueue_FailureIsolation(t *testing.T) {
	q, rec := setupQueue(t, time.Hour)
	ctx := context.Background()
	rec.failing["a.md"] = 1

	mustEnqueue(t, q, "a.md", vault.ChangeContent, "")
	mustEnqueue(t, q, "b.md", vault.ChangeContent, "")
	report, err := q.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if diff := cmp.Diff([]string{"b.md"}, report.Processed); diff != "" {
		t.Errorf("processed mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a.md"}, report.Failed); diff != "" {
		t.Errorf("failed mismatch (-want +got):\n%s", diff)
	}
	if n, _ := q.Pending(ctx); n != 0 {
		t.Errorf("failed path should leave the queue, %d pending", n)
	}

	// Not retried on its own.
	report, err = q.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if !report.Empty() {
		t.Errorf("expected empty drain, got %+v", report)
	}

	// A later change is processed normally.
	mustEnqueue(t, q, "a.md", vault.ChangeTitle, "")
	report, err = q.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if diff := cmp.Diff([]string{"a.md"}, report.Processed); diff != "" {
		t.Errorf("processed mismatch (-want +got):\n%s", diff)
	}
}

func TestQueue_OldPathFirstWins(t *testing.T) {
	q, rec := setupQueue(t, time.Hour)

	mustEnqueue(t, q, "c.md", vault.ChangeContent, "")
	mustEnqueue(t, q, "c.md", vault.ChangeTitle, "a.md")
	mustEnqueue(t, q, "c.md", vault.ChangeTitle, "b.md")
	if _, err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	calls, _ := rec.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].OldPath != "a.md" {
		t.Errorf("expected old path a.md, got %q", calls[0].OldPath)
	}
}

func TestQueue_CleanupRunsOnceAfterPaths(t *testing.T) {
	q, rec := setupQueue(t, time.Hour)
	ctx := context.Background()

	mustEnqueue(t, q, "a.md", vault.ChangeContent, "")
	if err := q.MarkOrphanCleanup(); err != nil {
		t.Fatal(err)
	}
	if err := q.MarkOrphanCleanup(); err != nil {
		t.Fatal(err)
	}
	mustEnqueue(t, q, "b.md", vault.ChangeContent, "")

	report, err := q.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if !report.CleanupRan || report.Orphans != 3 {
		t.Errorf("expected cleanup with 3 orphans, got %+v", report)
	}
	_, events := rec.snapshot()
	if diff := cmp.Diff([]string{"a.md", "b.md", "cleanup"}, events); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	report, err = q.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if report.CleanupRan {
		t.Error("cleanup flag should be cleared after running")
	}
}

func TestQueue_PanicFailsOnlyItsPath(t *testing.T) {
	q, err := NewQueue(QueueConfig{
		Debounce: time.Hour,
		Process: func(_ context.Context, c QueuedChange) error {
			if c.Path == "bad.md" {
				panic("corrupt")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	q.Start(context.Background())
	defer q.Stop()

	mustEnqueue(t, q, "bad.md", vault.ChangeContent, "")
	mustEnqueue(t, q, "good.md", vault.ChangeContent, "")
	report, err := q.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if diff := cmp.Diff([]string{"good.md"}, report.Processed); diff != "" {
		t.Errorf("processed mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"bad.md"}, report.Failed); diff != "" {
		t.Errorf("failed mismatch (-want +got):\n%s", diff)
	}
}

func TestQueue_Closed(t *testing.T) {
	q, _ := setupQueue(t, time.Hour)
	q.Stop()

	if err := q.Enqueue("a.md", vault.ChangeContent, ""); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed, got %v", err)
	}
	if _, err := q.Flush(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed from Flush, got %v", err)
	}
}

func TestQueue_StopWithoutStart(t *testing.T) {
	q, err := NewQueue(QueueConfig{Process: func(context.Context, QueuedChange) error { return nil }})
	if err != nil {
		t.Fatal(err)
	}
	q.Stop()
	if err := q.MarkOrphanCleanup(); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed, got %v", err)
	}
}

func TestQueue_ConcurrentStop(t *testing.T) {
	q, _ := setupQueue(t, time.Hour)
	mustEnqueue(t, q, "a.md", vault.ChangeContent, "")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Stop()
		}()
	}
	wg.Wait()

	if err := q.Enqueue("b.md", vault.ChangeContent, ""); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed, got %v", err)
	}
}
