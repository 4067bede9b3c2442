package sync

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/discoursegraphs/dgsync/internal/embedding"
	"github.com/discoursegraphs/dgsync/internal/relations"
	"github.com/discoursegraphs/dgsync/internal/remote"
	"github.com/discoursegraphs/dgsync/internal/schema"
	"github.com/discoursegraphs/dgsync/internal/vault"
)

var (
	t0 = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
	t2 = t0.Add(2 * time.Hour)
)

type testEnv struct {
	ctx      context.Context
	db       *remote.SQLite
	store    *vault.MemStore
	rels     *relations.Store
	sessions *remote.SessionProvider
	embedded [][]string
	embedErr func(inputs []string) bool
}

// setupTest creates a vault with two claims linked by a supports relation,
// backed by a temporary SQLite remote.
func setupTest(t *testing.T) *testEnv {
	t.Helper()

	db, err := remote.OpenSQLite(filepath.Join(t.TempDir(), "remote.db"), nil)
	if err != nil {
		t.Fatalf("failed to open remote: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	sessions, err := remote.NewSessionProvider(db, remote.SessionConfig{
		SpaceURL:       "file:///vault",
		SpaceName:      "Vault",
		AccountLocalID: "me",
	})
	if err != nil {
		t.Fatalf("failed to create session provider: %v", err)
	}

	store := vault.NewMemStore()
	store.SetClock(func() time.Time { return t0 })
	writeFile(t, store, "Claim A.md", "---\nnodeTypeId: clm\nnodeInstanceId: a\n---\nAlpha\n")
	writeFile(t, store, "Claim B.md", "---\nnodeTypeId: clm\nnodeInstanceId: b\n---\nBeta\n")

	rels := relations.New(t.TempDir(), &relations.Config{Clock: func() time.Time { return t0 }})
	if _, err := rels.AddNoCheck(relations.AddParams{Type: "supports", Source: "a", Destination: "b"}); err != nil {
		t.Fatalf("failed to add relation: %v", err)
	}

	return &testEnv{
		ctx:      context.Background(),
		db:       db,
		store:    store,
		rels:     rels,
		sessions: sessions,
	}
}

func writeFile(t *testing.T, s vault.Store, p, content string) {
	t.Helper()
	if err := s.Write(p, content); err != nil {
		t.Fatalf("failed to write %s: %v", p, err)
	}
}

func testRegistry() *schema.Registry {
	return schema.NewMemory(
		[]schema.NodeType{{ID: "clm", Name: "Claim", Format: "CLM - {content}", Modified: 1000}},
		[]schema.RelationType{{ID: "supports", Label: "supports", Complement: "is supported by", Modified: 1000}},
		[]schema.RelationTriple{{RelationshipTypeID: "supports", SourceID: "clm", DestinationID: "clm", Modified: 1000}},
	)
}

func (e *testEnv) orchestrator(t *testing.T, batchSize int) *Orchestrator {
	t.Helper()
	o, err := New(Config{
		Store:     e.store,
		Schema:    testRegistry(),
		Session:   e.sessions,
		Relations: e.rels,
		Embedder: embedding.Func{Name: "test-model", Fn: func(_ context.Context, inputs []string) ([][]float32, error) {
			e.embedded = append(e.embedded, append([]string(nil), inputs...))
			if e.embedErr != nil && e.embedErr(inputs) {
				return nil, nil
			}
			out := make([][]float32, len(inputs))
			for i := range out {
				out[i] = []float32{float32(i), 1}
			}
			return out, nil
		}},
		BatchSize: batchSize,
		Clock:     func() time.Time { return t1 },
	})
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	return o
}

func (e *testEnv) rows(t *testing.T, table string, filters ...remote.Filter) []remote.Row {
	t.Helper()
	sess, err := e.sessions.Get(e.ctx)
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	rows, err := e.db.Select(e.ctx, table, remote.Query{
		Filters: append([]remote.Filter{remote.Eq("space_id", sess.SpaceID)}, filters...),
		OrderBy: "id",
	})
	if err != nil {
		t.Fatalf("failed to select %s: %v", table, err)
	}
	return rows
}

func TestFullSync_FirstUpload(t *testing.T) {
	env := setupTest(t)
	o := env.orchestrator(t, 0)

	rep, err := o.FullSync(env.ctx, time.Time{})
	if err != nil {
		t.Fatalf("FullSync failed: %v", err)
	}

	got := Report{Nodes: rep.Nodes, Changed: rep.Changed, Contents: rep.Contents, Embedded: rep.Embedded, Concepts: rep.Concepts}
	want := Report{Nodes: 2, Changed: 2, Contents: 4, Embedded: 2, Concepts: 6}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
	if len(rep.Missing) != 0 {
		t.Errorf("expected no missing dependencies, got %v", rep.Missing)
	}
	if diff := cmp.Diff([][]string{{"Claim A", "Claim B"}}, env.embedded); diff != "" {
		t.Errorf("embedded inputs mismatch (-want +got):\n%s", diff)
	}

	for _, r := range env.rows(t, remote.TableContent) {
		switch r.String("variant") {
		case remote.VariantDirect:
			if r.String("embedding_model") != "test-model" {
				t.Errorf("direct row %s has no embedding", r.String("source_local_id"))
			}
		case remote.VariantFull:
			if r["embedding"] != nil {
				t.Errorf("full row %s should not be embedded", r.String("source_local_id"))
			}
		}
	}

	rel := env.rows(t, remote.TableConcept, remote.Eq("is_schema", false), remote.Gt("arity", 0))
	if len(rel) != 1 {
		t.Fatalf("expected 1 relation concept, got %d", len(rel))
	}
	if rel[0]["schema_id"] == nil {
		t.Error("relation concept should resolve its triple")
	}
	if rel[0].String("name") != "[[Claim A]] -supports-> [[Claim B]]" {
		t.Errorf("unexpected relation name %q", rel[0].String("name"))
	}
}

func TestFullSync_NothingChanged(t *testing.T) {
	env := setupTest(t)
	o := env.orchestrator(t, 0)

	if _, err := o.FullSync(env.ctx, time.Time{}); err != nil {
		t.Fatalf("first FullSync failed: %v", err)
	}
	rep, err := o.FullSync(env.ctx, time.Time{})
	if err != nil {
		t.Fatalf("second FullSync failed: %v", err)
	}
	if rep.Changed != 0 || rep.Contents != 0 || rep.Concepts != 0 {
		t.Errorf("expected nothing to upload, got %+v", rep)
	}
}

func TestFullSync_SinceOverridesStoredTime(t *testing.T) {
	env := setupTest(t)
	o := env.orchestrator(t, 0)

	if _, err := o.FullSync(env.ctx, time.Time{}); err != nil {
		t.Fatalf("first FullSync failed: %v", err)
	}
	rep, err := o.FullSync(env.ctx, t0.Add(-time.Minute))
	if err != nil {
		t.Fatalf("FullSync failed: %v", err)
	}
	if rep.Changed != 2 || rep.Contents != 2 {
		t.Errorf("expected both full variants again, got %+v", rep)
	}
}

func TestFullSync_DetectsTitleAndContentChanges(t *testing.T) {
	env := setupTest(t)
	o := env.orchestrator(t, 0)

	if _, err := o.FullSync(env.ctx, time.Time{}); err != nil {
		t.Fatalf("first FullSync failed: %v", err)
	}

	if err := env.store.Rename("Claim A.md", "Claim A revised.md"); err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	env.store.SetClock(func() time.Time { return t2 })
	writeFile(t, env.store, "Claim B.md", "---\nnodeTypeId: clm\nnodeInstanceId: b\n---\nBeta, edited\n")
	env.embedded = nil

	rep, err := o.FullSync(env.ctx, time.Time{})
	if err != nil {
		t.Fatalf("FullSync failed: %v", err)
	}
	got := Report{Changed: rep.Changed, Contents: rep.Contents, Embedded: rep.Embedded, Concepts: rep.Concepts, Missing: rep.Missing}
	want := Report{Changed: 2, Contents: 2, Embedded: 1, Concepts: 1, Missing: []string{"clm"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]string{{"Claim A revised"}}, env.embedded); diff != "" {
		t.Errorf("embedded inputs mismatch (-want +got):\n%s", diff)
	}

	direct := env.rows(t, remote.TableContent, remote.Eq("source_local_id", "a"), remote.Eq("variant", remote.VariantDirect))
	if len(direct) != 1 || direct[0].String("text") != "Claim A revised" {
		t.Errorf("direct variant not updated: %v", direct)
	}
	full := env.rows(t, remote.TableContent, remote.Eq("source_local_id", "b"), remote.Eq("variant", remote.VariantFull))
	if len(full) != 1 || full[0].String("text") != "---\nnodeTypeId: clm\nnodeInstanceId: b\n---\nBeta, edited\n" {
		t.Errorf("full variant not updated: %v", full)
	}
}

func TestSyncChanges(t *testing.T) {
	env := setupTest(t)
	o := env.orchestrator(t, 0)
	writeFile(t, env.store, "plain.md", "no frontmatter")

	if _, err := o.FullSync(env.ctx, time.Time{}); err != nil {
		t.Fatalf("FullSync failed: %v", err)
	}

	rep, err := o.SyncChanges(env.ctx, []PathChange{
		{Path: "Claim B.md", Changes: []vault.ChangeType{vault.ChangeContent}},
		{Path: "missing.md"},
		{Path: "plain.md"},
	})
	if err != nil {
		t.Fatalf("SyncChanges failed: %v", err)
	}
	if rep.Skipped != 2 || rep.Changed != 1 || rep.Contents != 1 || rep.Concepts != 0 {
		t.Errorf("expected only B's full variant, got %+v", rep)
	}

	// Same mtime as the last upload, so only an explicit content change
	// would send this body.
	writeFile(t, env.store, "Claim A.md", "---\nnodeTypeId: clm\nnodeInstanceId: a\n---\nAlpha, not re-sent\n")
	rep, err = o.SyncChanges(env.ctx, []PathChange{
		{Path: "Claim A.md", Changes: []vault.ChangeType{vault.ChangeTitle}, OldPath: "Old A.md"},
	})
	if err != nil {
		t.Fatalf("SyncChanges failed: %v", err)
	}
	if rep.Changed != 1 || rep.Contents != 1 || rep.Embedded != 1 || rep.Concepts != 1 {
		t.Errorf("expected only A's direct variant and its concept, got %+v", rep)
	}
	full := env.rows(t, remote.TableContent, remote.Eq("source_local_id", "a"), remote.Eq("variant", remote.VariantFull))
	if len(full) != 1 || full[0].String("text") != "---\nnodeTypeId: clm\nnodeInstanceId: a\n---\nAlpha\n" {
		t.Errorf("full variant should not be re-sent on a title change: %v", full)
	}
}

func TestSyncChanges_NoChangeTypesUploadsNothing(t *testing.T) {
	env := setupTest(t)
	o := env.orchestrator(t, 0)
	if _, err := o.FullSync(env.ctx, time.Time{}); err != nil {
		t.Fatalf("FullSync failed: %v", err)
	}

	rep, err := o.SyncChanges(env.ctx, []PathChange{{Path: "Claim A.md"}})
	if err != nil {
		t.Fatalf("SyncChanges failed: %v", err)
	}
	if rep.Changed != 0 || rep.Contents != 0 || rep.Concepts != 0 {
		t.Errorf("unchanged node with no change types should upload nothing, got %+v", rep)
	}
}

func TestSyncChanges_SkipsImportedNodes(t *testing.T) {
	env := setupTest(t)
	o := env.orchestrator(t, 0)
	writeFile(t, env.store, "import/Lab/Other.md",
		"---\nnodeTypeId: clm\nnodeInstanceId: x\nimportedFromSpaceUri: file:///lab\n---\n")

	rep, err := o.SyncChanges(env.ctx, []PathChange{{Path: "import/Lab/Other.md"}})
	if err != nil {
		t.Fatalf("SyncChanges failed: %v", err)
	}
	if rep.Skipped != 1 || rep.Contents != 0 {
		t.Errorf("imported node should be skipped, got %+v", rep)
	}

	rep, err = o.FullSync(env.ctx, time.Time{})
	if err != nil {
		t.Fatalf("FullSync failed: %v", err)
	}
	if rep.Nodes != 2 {
		t.Errorf("expected 2 local nodes, got %d", rep.Nodes)
	}
	if rows := env.rows(t, remote.TableContent, remote.Eq("source_local_id", "x")); len(rows) != 0 {
		t.Errorf("imported node was uploaded: %v", rows)
	}
}

func TestFullSync_EmbeddingMismatchFailsOnlyItsBatch(t *testing.T) {
	env := setupTest(t)
	env.embedErr = func(inputs []string) bool { return slices.Contains(inputs, "Claim B") }
	o := env.orchestrator(t, 2)

	rep, err := o.FullSync(env.ctx, time.Time{})
	if !errors.Is(err, embedding.ErrCountMismatch) {
		t.Fatalf("expected ErrCountMismatch, got %v", err)
	}
	if rep.Contents != 2 || rep.Embedded != 1 {
		t.Errorf("expected A's batch to be uploaded, got %+v", rep)
	}
	if rep.Concepts != 6 {
		t.Errorf("concepts should still be uploaded, got %d", rep.Concepts)
	}
	if rows := env.rows(t, remote.TableContent, remote.Eq("source_local_id", "b")); len(rows) != 0 {
		t.Errorf("B's batch should not be uploaded: %v", rows)
	}
}

func TestCleanupOrphans(t *testing.T) {
	env := setupTest(t)
	o := env.orchestrator(t, 0)

	if _, err := o.FullSync(env.ctx, time.Time{}); err != nil {
		t.Fatalf("FullSync failed: %v", err)
	}
	if err := env.store.Delete("Claim B.md"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	n, err := o.CleanupOrphans(env.ctx)
	if err != nil {
		t.Fatalf("CleanupOrphans failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 orphan, got %d", n)
	}
	for _, table := range []string{remote.TableContent, remote.TableDocument, remote.TableConcept} {
		if rows := env.rows(t, table, remote.Eq("source_local_id", "b")); len(rows) != 0 {
			t.Errorf("%s still holds the orphan: %v", table, rows)
		}
	}
	if rows := env.rows(t, remote.TableConcept, remote.Eq("source_local_id", "clm")); len(rows) != 1 {
		t.Errorf("schema concepts must survive cleanup")
	}

	n, err = o.CleanupOrphans(env.ctx)
	if err != nil || n != 0 {
		t.Errorf("second cleanup: n=%d err=%v", n, err)
	}
}

func TestRemoteStateDetect(t *testing.T) {
	st := remoteState{
		titles:      map[string]string{"a": "Claim A"},
		lastContent: t0,
	}
	tests := []struct {
		name     string
		path     string
		id       string
		modified time.Time
		want     []vault.ChangeType
	}{
		{"never uploaded", "New.md", "n", t0, []vault.ChangeType{vault.ChangeTitle, vault.ChangeContent}},
		{"unchanged", "Claim A.md", "a", t0, nil},
		{"sub-millisecond drift ignored", "Claim A.md", "a", t0.Add(500 * time.Microsecond), nil},
		{"renamed", "Claim A2.md", "a", t0, []vault.ChangeType{vault.ChangeTitle}},
		{"edited", "Claim A.md", "a", t1, []vault.ChangeType{vault.ChangeContent}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := st.detect(vault.Node{Path: tt.path, NodeInstanceID: tt.id}, vault.FileInfo{Modified: tt.modified})
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("detect mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestChunk(t *testing.T) {
	got := chunk([]int{1, 2, 3, 4, 5}, 2)
	if diff := cmp.Diff([][]int{{1, 2}, {3, 4}, {5}}, got); diff != "" {
		t.Errorf("chunk mismatch (-want +got):\n%s", diff)
	}
	if chunk([]int(nil), 2) != nil {
		t.Error("empty input should yield no chunks")
	}
}
