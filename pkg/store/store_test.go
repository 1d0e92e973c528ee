package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecollab/engine/pkg/model"
	"github.com/codecollab/engine/pkg/replica"
	"github.com/codecollab/engine/pkg/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newProject(t *testing.T, st *store.Store, sessionID string, members ...string) *model.Project {
	t.Helper()
	p, err := st.CreateProject(context.Background(), sessionID, "proj "+sessionID, "alice", members)
	require.NoError(t, err)
	return p
}

func TestCreateProject(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	p, err := st.CreateProject(ctx, "sess-1", "demo", "alice", []string{"bob", "alice", "bob", ""})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", p.SessionID)
	assert.Equal(t, "alice", p.CreatedBy)
	assert.Equal(t, []string{"alice", "bob"}, p.Members)

	_, err = st.CreateProject(ctx, "sess-1", "other", "carol", nil)
	require.Error(t, err)
	assert.True(t, model.IsBadRequest(err))
}

func TestGetProjectByIDAndSession(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	p := newProject(t, st, "sess-1", "bob")

	byID, err := st.GetProject(ctx, store.RefByID(p.ID))
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, p.ID, byID.ID)
	assert.Equal(t, []string{"alice", "bob"}, byID.Members)

	bySession, err := st.GetProject(ctx, store.RefBySessionID("sess-1"))
	require.NoError(t, err)
	require.NotNil(t, bySession)
	assert.Equal(t, p.ID, bySession.ID)

	absent, err := st.GetProject(ctx, store.RefBySessionID("nope"))
	require.NoError(t, err)
	assert.Nil(t, absent)

	_, err = st.GetProject(ctx, store.ProjectRef{})
	require.Error(t, err)
	assert.True(t, model.IsBadRequest(err))
}

func TestProjectGates(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	p := newProject(t, st, "sess-1", "bob")

	member, err := st.ProjectWithMember(ctx, store.RefByID(p.ID), "bob")
	require.NoError(t, err)
	assert.NotNil(t, member)

	outsider, err := st.ProjectWithMember(ctx, store.RefByID(p.ID), "mallory")
	require.NoError(t, err)
	assert.Nil(t, outsider)

	owner, err := st.ProjectWithOwner(ctx, store.RefByID(p.ID), "alice")
	require.NoError(t, err)
	assert.NotNil(t, owner)

	notOwner, err := st.ProjectWithOwner(ctx, store.RefByID(p.ID), "bob")
	require.NoError(t, err)
	assert.Nil(t, notOwner)
}

func TestUpdateProjectName(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	p := newProject(t, st, "sess-1")

	updated, err := st.UpdateProjectName(ctx, store.RefByID(p.ID), "renamed")
	require.NoError(t, err)
	assert.True(t, updated)

	got, err := st.GetProject(ctx, store.RefByID(p.ID))
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)

	updated, err = st.UpdateProjectName(ctx, store.RefBySessionID("nope"), "x")
	require.NoError(t, err)
	assert.False(t, updated)

	_, err = st.UpdateProjectName(ctx, store.ProjectRef{}, "x")
	require.Error(t, err)
	assert.True(t, model.IsBadRequest(err))
}

func TestMembership(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	p := newProject(t, st, "sess-1")

	require.NoError(t, st.AddMember(ctx, store.RefByID(p.ID), "bob"))
	// Idempotent.
	require.NoError(t, st.AddMember(ctx, store.RefByID(p.ID), "bob"))

	got, err := st.GetProject(ctx, store.RefByID(p.ID))
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, got.Members)

	removed, err := st.RemoveMember(ctx, store.RefByID(p.ID), "bob")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = st.RemoveMember(ctx, store.RefByID(p.ID), "bob")
	require.NoError(t, err)
	assert.False(t, removed)

	// The creator can never be removed.
	_, err = st.RemoveMember(ctx, store.RefByID(p.ID), "alice")
	require.Error(t, err)
	assert.True(t, model.IsBadRequest(err))
}

func TestGetOrCreateDirectory(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	p := newProject(t, st, "sess-1")

	d, err := st.GetOrCreateDirectory(ctx, p.ID, "a/b/c")
	require.NoError(t, err)
	assert.Equal(t, "a/b/c", d.Path)
	require.NotNil(t, d.ParentID)

	// Ancestors were created top-down with parent links.
	dirs, err := st.ListDirectories(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, dirs, 3)
	assert.Equal(t, "a", dirs[0].Path)
	assert.Nil(t, dirs[0].ParentID)
	assert.Equal(t, "a/b", dirs[1].Path)
	require.NotNil(t, dirs[1].ParentID)
	assert.Equal(t, dirs[0].ID, *dirs[1].ParentID)
	assert.Equal(t, dirs[1].ID, *d.ParentID)

	// Idempotent: same row comes back.
	again, err := st.GetOrCreateDirectory(ctx, p.ID, "a/b/c")
	require.NoError(t, err)
	assert.Equal(t, d.ID, again.ID)

	_, err = st.GetOrCreateDirectory(ctx, p.ID, "/leading")
	require.Error(t, err)
	assert.True(t, model.IsBadRequest(err))

	_, err = st.GetOrCreateDirectory(ctx, 999, "a")
	require.Error(t, err)
	assert.True(t, model.IsNotFound(err))
}

func TestGetOrCreateDirectoryConcurrent(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	p := newProject(t, st, "sess-1")

	results := make(chan string, 8)
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			d, err := st.GetOrCreateDirectory(ctx, p.ID, "shared/dir")
			if err != nil {
				errs <- err
				return
			}
			results <- d.ID
		}()
	}
	var first string
	for i := 0; i < 8; i++ {
		select {
		case err := <-errs:
			t.Fatalf("concurrent create failed: %v", err)
		case id := <-results:
			if first == "" {
				first = id
			}
			assert.Equal(t, first, id)
		}
	}
}

func TestGetOrCreateFile(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	p := newProject(t, st, "sess-1")

	f, err := st.GetOrCreateFile(ctx, p.ID, "docs/readme.md", "hello")
	require.NoError(t, err)
	assert.Equal(t, "docs/readme.md", f.Path)
	assert.Equal(t, "hello", f.Content)
	assert.Equal(t, 5, f.Size())
	require.NotNil(t, f.ParentID)

	dirs, err := st.ListDirectories(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, dirs, 1)
	assert.Equal(t, "docs", dirs[0].Path)
	assert.Equal(t, dirs[0].ID, *f.ParentID)

	// Existing file wins: new initial content is ignored.
	again, err := st.GetOrCreateFile(ctx, p.ID, "docs/readme.md", "overwritten")
	require.NoError(t, err)
	assert.Equal(t, f.ID, again.ID)
	assert.Equal(t, "hello", again.Content)
}

func TestRenameIsShallow(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	p := newProject(t, st, "sess-1")

	d, err := st.GetOrCreateDirectory(ctx, p.ID, "src")
	require.NoError(t, err)
	f, err := st.GetOrCreateFile(ctx, p.ID, "src/main.go", "")
	require.NoError(t, err)

	renamed, err := st.RenameDirectory(ctx, d.ID, "lib")
	require.NoError(t, err)
	assert.Equal(t, "lib", renamed.Path)

	// Descendants keep their stored paths.
	got, err := st.GetFile(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "src/main.go", got.Path)

	rf, err := st.RenameFile(ctx, f.ID, "app.go")
	require.NoError(t, err)
	assert.Equal(t, "src/app.go", rf.Path)

	_, err = st.RenameFile(ctx, f.ID, "bad/name")
	require.Error(t, err)
	assert.True(t, model.IsBadRequest(err))

	_, err = st.RenameDirectory(ctx, "missing", "x")
	require.Error(t, err)
	assert.True(t, model.IsNotFound(err))
}

func TestDeleteDirectorySegmentAware(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	p := newProject(t, st, "sess-1")

	inside, err := st.GetOrCreateFile(ctx, p.ID, "a/b/f.txt", "")
	require.NoError(t, err)
	outside, err := st.GetOrCreateFile(ctx, p.ID, "a/bc/g.txt", "")
	require.NoError(t, err)
	v, err := st.AppendVersion(ctx, inside.ID, []byte{1, 2, 3}, "alice")
	require.NoError(t, err)

	target, err := st.GetOrCreateDirectory(ctx, p.ID, "a/b")
	require.NoError(t, err)
	deleted, err := st.DeleteDirectory(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, target.ID, deleted.ID)

	// "a/b" and everything within it is gone, "a/bc" untouched.
	gone, err := st.GetFile(ctx, inside.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	kept, err := st.GetFile(ctx, outside.ID)
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.Equal(t, "a/bc/g.txt", kept.Path)

	dirs, err := st.ListDirectories(ctx, p.ID)
	require.NoError(t, err)
	paths := make([]string, 0, len(dirs))
	for _, d := range dirs {
		paths = append(paths, d.Path)
	}
	assert.Equal(t, []string{"a", "a/bc"}, paths)

	// Versions of deleted files are cascaded.
	gv, err := st.GetVersion(ctx, v.ID)
	require.NoError(t, err)
	assert.Nil(t, gv)
}

func TestDeleteFileCascadesVersions(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	p := newProject(t, st, "sess-1")

	f, err := st.GetOrCreateFile(ctx, p.ID, "f.txt", "")
	require.NoError(t, err)
	v, err := st.AppendVersion(ctx, f.ID, []byte("snap"), "alice")
	require.NoError(t, err)

	deleted, err := st.DeleteFile(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, f.ID, deleted.ID)

	gv, err := st.GetVersion(ctx, v.ID)
	require.NoError(t, err)
	assert.Nil(t, gv)

	_, err = st.DeleteFile(ctx, f.ID)
	require.Error(t, err)
	assert.True(t, model.IsNotFound(err))
}

func TestListEntries(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	p := newProject(t, st, "sess-1")

	_, err := st.GetOrCreateFile(ctx, p.ID, "src/main.go", "")
	require.NoError(t, err)

	entries, err := st.ListEntries(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.EntryKindDirectory, entries[0].Kind)
	assert.Equal(t, "src", entries[0].Directory.Path)
	assert.Equal(t, model.EntryKindFile, entries[1].Kind)
	assert.Equal(t, "src/main.go", entries[1].File.Path)
}

func TestVersionsNewestFirst(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	p := newProject(t, st, "sess-1")
	f, err := st.GetOrCreateFile(ctx, p.ID, "f.txt", "")
	require.NoError(t, err)

	v1, err := st.AppendVersion(ctx, f.ID, []byte("one"), "alice")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	v2, err := st.AppendVersion(ctx, f.ID, []byte("two"), "bob")
	require.NoError(t, err)

	versions, err := st.ListVersions(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, v2.ID, versions[0].ID)
	assert.Equal(t, []byte("two"), versions[0].Snapshot)
	assert.Equal(t, "bob", versions[0].CommittedBy)
	assert.Equal(t, v1.ID, versions[1].ID)

	_, err = st.AppendVersion(ctx, "missing", []byte("x"), "alice")
	require.Error(t, err)
	assert.True(t, model.IsNotFound(err))
}

func TestMergeDocUpdateIdempotent(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	p := newProject(t, st, "sess-1")

	doc := automerge.New()
	require.NoError(t, doc.Path("files", "f.txt").Set(automerge.NewText("hello")))
	require.NoError(t, doc.Path("contributions", "alice").Counter().Inc(1))
	state := doc.Save()

	require.NoError(t, st.MergeDocUpdate(ctx, p.ID, state))
	// Merging the same state again changes nothing.
	require.NoError(t, st.MergeDocUpdate(ctx, p.ID, state))

	raw, err := st.ReadDocUpdates(ctx, p.ID)
	require.NoError(t, err)
	merged, err := automerge.Load(raw)
	require.NoError(t, err)
	text, ok := replica.FileText(merged, "f.txt")
	require.True(t, ok)
	assert.Equal(t, "hello", text)

	contribs, err := st.Contributions(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, contribs.Stats, 1)
	assert.Equal(t, "alice", contribs.Stats[0].Contributor)
	assert.Equal(t, int64(1), contribs.Stats[0].Contributions)
}

func TestMergeDocUpdateOrderFree(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	p1 := newProject(t, st, "sess-1")
	p2 := newProject(t, st, "sess-2")

	base := automerge.New()
	require.NoError(t, base.Path("files", "f.txt").Set(automerge.NewText("base")))
	baseState := base.Save()

	forkA, err := automerge.Load(baseState)
	require.NoError(t, err)
	require.NoError(t, forkA.Path("files", "f.txt").Text().Append(" a"))
	stateA := forkA.Save()

	forkB, err := automerge.Load(baseState)
	require.NoError(t, err)
	require.NoError(t, forkB.Path("files", "f.txt").Text().Append(" b"))
	stateB := forkB.Save()

	require.NoError(t, st.MergeDocUpdate(ctx, p1.ID, stateA))
	require.NoError(t, st.MergeDocUpdate(ctx, p1.ID, stateB))

	require.NoError(t, st.MergeDocUpdate(ctx, p2.ID, stateB))
	require.NoError(t, st.MergeDocUpdate(ctx, p2.ID, stateA))

	text1 := logText(t, st, p1.ID, "f.txt")
	text2 := logText(t, st, p2.ID, "f.txt")
	assert.Equal(t, text1, text2)
	assert.Contains(t, text1, "base")
}

func logText(t *testing.T, st *store.Store, projectID int64, path string) string {
	t.Helper()
	raw, err := st.ReadDocUpdates(context.Background(), projectID)
	require.NoError(t, err)
	doc, err := automerge.Load(raw)
	require.NoError(t, err)
	text, ok := replica.FileText(doc, path)
	require.True(t, ok)
	return text
}

func TestContributionsEmptyLog(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	p := newProject(t, st, "sess-1", "bob")

	contribs, err := st.Contributions(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, contribs.Contributors)
	assert.Empty(t, contribs.Stats)
}
