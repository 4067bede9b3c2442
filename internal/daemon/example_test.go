package daemon_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/discoursegraphs/dgsync/internal/daemon"
	"github.com/discoursegraphs/dgsync/internal/vault"
)

// Example_changeQueue shows changes to one path coalescing into a single
// unit of work.
func Example_changeQueue() {
	q, err := daemon.NewQueue(daemon.QueueConfig{
		Debounce: time.Minute,
		Process: func(_ context.Context, c daemon.QueuedChange) error {
			fmt.Println(c.Path, c.Changes)
			return nil
		},
	})
	if err != nil {
		log.Fatal(err)
	}
	q.Start(context.Background())
	defer q.Stop()

	q.Enqueue("Claim.md", vault.ChangeContent, "")
	q.Enqueue("Claim.md", vault.ChangeTitle, "")
	q.Enqueue("Claim.md", vault.ChangeContent, "")

	report, err := q.Flush(context.Background())
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("processed:", len(report.Processed))
	// Output:
	// Claim.md [content title]
	// processed: 1
}
