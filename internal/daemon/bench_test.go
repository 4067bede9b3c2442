package daemon

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/discoursegraphs/dgsync/internal/vault"
)

// BenchmarkQueue_EnqueueFlush measures coalescing a burst of edits,
// several per file, and draining it once.
func BenchmarkQueue_EnqueueFlush(b *testing.B) {
	const files, editsPerFile = 500, 4

	paths := make([]string, files)
	for i := range paths {
		paths[i] = fmt.Sprintf("notes/node-%d.md", i)
	}

	q, err := NewQueue(QueueConfig{
		Debounce: time.Hour,
		Process:  func(context.Context, QueuedChange) error { return nil },
	})
	if err != nil {
		b.Fatalf("NewQueue failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for e := 0; e < editsPerFile; e++ {
			change := vault.ChangeContent
			if e == 0 {
				change = vault.ChangeTitle
			}
			for _, p := range paths {
				if err := q.Enqueue(p, change, ""); err != nil {
					b.Fatalf("Enqueue failed: %v", err)
				}
			}
		}
		report, err := q.Flush(ctx)
		if err != nil {
			b.Fatalf("Flush failed: %v", err)
		}
		if len(report.Processed) != files {
			b.Fatalf("processed %d paths, want %d", len(report.Processed), files)
		}
	}
}
