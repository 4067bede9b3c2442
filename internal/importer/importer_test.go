package importer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discoursegraphs/dgsync/internal/frontmatter"
	"github.com/discoursegraphs/dgsync/internal/remote"
	"github.com/discoursegraphs/dgsync/internal/schema"
	"github.com/discoursegraphs/dgsync/internal/vault"
)

var remoteTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	ctx   context.Context
	db    *remote.SQLite
	store *vault.MemStore
	reg   *schema.Registry
	im    *Importer
	other remote.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := remote.OpenSQLite(filepath.Join(t.TempDir(), "remote.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	local, err := remote.NewSessionProvider(db, remote.SessionConfig{
		SpaceURL:       "file:///local",
		SpaceName:      "Local",
		AccountLocalID: "me",
	})
	require.NoError(t, err)
	other, err := remote.NewSessionProvider(db, remote.SessionConfig{
		SpaceURL:       "file:///other",
		SpaceName:      "Other: Lab",
		AccountLocalID: "them",
	})
	require.NoError(t, err)
	otherSess, err := other.Get(ctx)
	require.NoError(t, err)

	require.NoError(t, db.Insert(ctx, remote.TableGroupMembership, []remote.Row{
		{"group_id": "g1", "member_id": "me"},
	}))

	store := vault.NewMemStore()
	reg := schema.NewMemory(nil, nil, nil)
	im, err := New(Config{Store: store, Schema: reg, Session: local})
	require.NoError(t, err)

	return &fixture{ctx: ctx, db: db, store: store, reg: reg, im: im, other: otherSess}
}

// publish uploads a node to the other space. An empty full skips the full
// variant.
func (f *fixture) publish(t *testing.T, id, title, full string) {
	t.Helper()
	base := remote.ContentInput{
		AuthorLocalID: "them",
		SourceLocalID: id,
		Created:       remoteTime,
		LastModified:  remoteTime,
		Scale:         remote.ScaleDocument,
	}
	direct := base
	direct.Variant, direct.Text = remote.VariantDirect, title
	rows := []remote.ContentInput{direct}
	if full != "" {
		body := base
		body.Variant, body.Text = remote.VariantFull, full
		rows = append(rows, body)
	}
	_, err := f.db.RPC(f.ctx, remote.RPCUpsertContent, remote.UpsertContentArgs(rows, f.other.SpaceID, f.other.CreatorID))
	require.NoError(t, err)
}

func (f *fixture) publishSchema(t *testing.T, id, name string) {
	t.Helper()
	_, err := f.db.RPC(f.ctx, remote.RPCUpsertConcepts, remote.UpsertConceptsArgs([]map[string]interface{}{{
		"name":            name,
		"source_local_id": id,
		"is_schema":       true,
		"author_local_id": "them",
		"literal_content": map[string]interface{}{
			"label":       name,
			"source_data": map[string]interface{}{"format": "CLM - {content}", "color": "#ff0000"},
		},
		"created":       remote.FormatTime(remoteTime),
		"last_modified": remote.FormatTime(remoteTime),
	}}, f.other.SpaceID))
	require.NoError(t, err)
}

func TestListImportable(t *testing.T) {
	f := newFixture(t)
	f.publish(t, "n1", "Claim A", "---\nnodeTypeId: remote-claim\n---\nbody")
	f.publish(t, "n2", "Already here", "---\nnodeTypeId: remote-claim\n---\n")
	require.NoError(t, f.store.Write("mine.md", "---\nnodeTypeId: x\nnodeInstanceId: n2\n---\n"))

	got, err := f.im.ListImportable(f.ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "n1", got[0].NodeInstanceID)
	assert.Equal(t, "Claim A", got[0].Title)
	assert.Equal(t, "Other: Lab", got[0].SpaceName)
	assert.Equal(t, "g1", got[0].GroupID)
	assert.Equal(t, f.other.SpaceID, got[0].SpaceID)
	assert.True(t, remoteTime.Equal(got[0].Modified))
}

func TestListImportable_NoGroups(t *testing.T) {
	f := newFixture(t)
	f.publish(t, "n1", "Claim A", "body")
	_, err := f.db.Delete(f.ctx, remote.TableGroupMembership, remote.Eq("member_id", "me"))
	require.NoError(t, err)

	got, err := f.im.ListImportable(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestImportSelected(t *testing.T) {
	f := newFixture(t)
	f.publishSchema(t, "remote-claim", "Claim")
	f.publish(t, "n1", "Claim A", "---\nnodeTypeId: remote-claim\ntags: [x]\n---\nThe body.\n")
	f.store.SetMetadataLag(true)

	var progress []int
	res, err := f.im.ImportSelected(f.ctx, []ImportableEntity{{NodeInstanceID: "n1", SpaceID: f.other.SpaceID}},
		func(done, total int) { progress = append(progress, done, total) })
	require.NoError(t, err)
	assert.Equal(t, Result{Success: 1}, res)
	assert.Equal(t, []int{1, 1}, progress)

	const p = "import/Other Lab/Claim A.md"
	content, err := f.store.Read(p)
	require.NoError(t, err)
	fields, body, err := frontmatter.Parse(content)
	require.NoError(t, err)
	assert.Equal(t, "The body.\n", body)

	local, ok := f.reg.NodeTypeByName("Claim")
	require.True(t, ok, "node type created from remote schema")
	assert.NotEqual(t, "remote-claim", local.ID)
	assert.Equal(t, "CLM - {content}", local.Format)
	assert.Equal(t, "#ff0000", local.Color)

	assert.Equal(t, local.ID, fields.String(frontmatter.KeyNodeTypeID))
	assert.Equal(t, "n1", fields.String(frontmatter.KeyNodeInstanceID))
	assert.Equal(t, "file:///other", fields.String(frontmatter.KeyImportedFromSpaceURI))
	assert.Equal(t, []string{"x"}, fields.Strings("tags"))

	info, err := f.store.Stat(p)
	require.NoError(t, err)
	assert.True(t, remoteTime.Equal(info.Modified))
}

func TestImportSelected_AvoidsNameCollisions(t *testing.T) {
	f := newFixture(t)
	f.publish(t, "n1", "Claim A", "first")
	require.NoError(t, f.store.Write("import/Other Lab/Claim A.md", "unrelated"))

	res, err := f.im.ImportSelected(f.ctx, []ImportableEntity{{NodeInstanceID: "n1", SpaceID: f.other.SpaceID}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Success)

	content, err := f.store.Read("import/Other Lab/Claim A (1).md")
	require.NoError(t, err)
	assert.Contains(t, content, "first")
	unrelated, _ := f.store.Read("import/Other Lab/Claim A.md")
	assert.Equal(t, "unrelated", unrelated)
}

func TestImportSelected_CountsFailures(t *testing.T) {
	f := newFixture(t)
	f.publish(t, "n1", "Claim A", "body")
	f.publish(t, "n2", "No body", "")

	res, err := f.im.ImportSelected(f.ctx, []ImportableEntity{
		{NodeInstanceID: "n2", SpaceID: f.other.SpaceID},
		{NodeInstanceID: "n1", SpaceID: f.other.SpaceID},
		{NodeInstanceID: "n3", SpaceID: 9999},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, Result{Success: 1, Failed: 2}, res)
	assert.True(t, f.store.Exists("import/Other Lab/Claim A.md"))
}

func TestRefreshImported_RenamesOnTitleChange(t *testing.T) {
	f := newFixture(t)
	f.publish(t, "n1", "Claim A", "old body")
	_, err := f.im.ImportSelected(f.ctx, []ImportableEntity{{NodeInstanceID: "n1", SpaceID: f.other.SpaceID}}, nil)
	require.NoError(t, err)

	f.publish(t, "n1", "Claim B", "new body")
	res, err := f.im.RefreshImported(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Success)
	assert.Empty(t, res.Errors)

	assert.False(t, f.store.Exists("import/Other Lab/Claim A.md"))
	content, err := f.store.Read("import/Other Lab/Claim B.md")
	require.NoError(t, err)
	assert.Contains(t, content, "new body")
}

func TestRefreshImported_ReportsUnknownSpace(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Write("stray.md",
		"---\nnodeTypeId: x\nnodeInstanceId: n9\nimportedFromSpaceUri: file:///gone\n---\n"))

	res, err := f.im.RefreshImported(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "stray.md", res.Errors[0].File)
}

func TestMapSchemaID(t *testing.T) {
	f := newFixture(t)
	f.publishSchema(t, "remote-claim", "Claim")

	t.Run("no remote schema keeps the remote id", func(t *testing.T) {
		id, err := f.im.MapSchemaID(f.ctx, f.other.SpaceID, "unknown")
		require.NoError(t, err)
		assert.Equal(t, "unknown", id)
	})

	t.Run("reuses local type with the same name", func(t *testing.T) {
		existing, err := f.reg.AddNodeType(schema.NodeType{Name: "Claim", Format: "C - {content}"})
		require.NoError(t, err)

		id, err := f.im.MapSchemaID(f.ctx, f.other.SpaceID, "remote-claim")
		require.NoError(t, err)
		assert.Equal(t, existing.ID, id)
		assert.Len(t, f.reg.NodeTypes(), 1)
	})
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Claim A", "Claim A"},
		{`a<b>c:d"e/f\g|h?i*j`, "abcdefghij"},
		{"  lots   of\t\nspace ", "lots of space"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFileName(tt.in), tt.in)
	}
}
