package replica_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecollab/engine/pkg/model"
	"github.com/codecollab/engine/pkg/replica"
	"github.com/codecollab/engine/pkg/store"
)

func TestOpenFileSeedsAndCaches(t *testing.T) {
	s, err := replica.NewSession(1, "alice", nil)
	require.NoError(t, err)
	defer s.Close()

	f, err := s.OpenFile("docs/readme.md", "hello")
	require.NoError(t, err)
	text, err := f.Text()
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	// Re-opening returns the cached replica, seed ignored.
	again, err := s.OpenFile("docs/readme.md", "other")
	require.NoError(t, err)
	assert.Same(t, f, again)
	assert.Equal(t, []string{"docs/readme.md"}, s.OpenFiles())

	s.CloseFile("docs/readme.md")
	assert.Empty(t, s.OpenFiles())
}

func TestConvergenceOutOfOrderAndDuplicated(t *testing.T) {
	alice, err := replica.NewSession(1, "alice", nil)
	require.NoError(t, err)
	af, err := alice.OpenFile("f.txt", "base ")
	require.NoError(t, err)

	// Bob joins from alice's snapshot so both replicas share lineage.
	bob, err := replica.NewSession(1, "bob", alice.Snapshot())
	require.NoError(t, err)
	bf, err := bob.OpenFile("f.txt", "")
	require.NoError(t, err)

	require.NoError(t, af.Insert(5, "from-alice "))
	d1 := alice.TakeDelta()
	require.NoError(t, af.Insert(5, "more "))
	d2 := alice.TakeDelta()
	require.NoError(t, bf.Insert(5, "from-bob "))
	d3 := bob.TakeDelta()

	// Bob receives alice's deltas newest first, with a duplicate.
	require.NoError(t, bob.ApplyDelta(d2))
	require.NoError(t, bob.ApplyDelta(d1))
	require.NoError(t, bob.ApplyDelta(d1))

	// Alice receives bob's delta once.
	require.NoError(t, alice.ApplyDelta(d3))

	at, err := af.Text()
	require.NoError(t, err)
	bt, err := bf.Text()
	require.NoError(t, err)
	assert.Equal(t, at, bt)
	assert.Contains(t, at, "from-alice ")
	assert.Contains(t, at, "from-bob ")
	assert.Contains(t, at, "more ")
}

func TestContributionCountersMergeBySummation(t *testing.T) {
	alice, err := replica.NewSession(1, "alice", nil)
	require.NoError(t, err)
	af, err := alice.OpenFile("f.txt", "")
	require.NoError(t, err)
	baseline := alice.Snapshot()

	bob, err := replica.NewSession(1, "bob", baseline)
	require.NoError(t, err)
	bf, err := bob.OpenFile("f.txt", "")
	require.NoError(t, err)

	require.NoError(t, af.Insert(0, "a"))
	require.NoError(t, af.Insert(0, "a"))
	require.NoError(t, af.Insert(0, "a"))
	require.NoError(t, bf.Insert(0, "b"))
	require.NoError(t, bf.Delete(0, 1))

	// Cross-merge both full states.
	require.NoError(t, alice.ApplyDelta(bob.Snapshot()))
	require.NoError(t, bob.ApplyDelta(alice.Snapshot()))

	for _, s := range []*replica.Session{alice, bob} {
		aCount, err := s.Doc().Path("contributions", "alice").Counter().Get()
		require.NoError(t, err)
		bCount, err := s.Doc().Path("contributions", "bob").Counter().Get()
		require.NoError(t, err)
		assert.Equal(t, int64(3), aCount)
		assert.Equal(t, int64(2), bCount)
	}
}

func TestFlush(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	p, err := st.CreateProject(ctx, "sess-1", "demo", "alice", nil)
	require.NoError(t, err)
	f, err := st.GetOrCreateFile(ctx, p.ID, "f.txt", "")
	require.NoError(t, err)

	s, err := replica.NewSession(p.ID, "alice", nil)
	require.NoError(t, err)
	r, err := s.OpenFile("f.txt", "")
	require.NoError(t, err)
	require.NoError(t, r.Insert(0, "hello"))

	res, err := s.Flush(ctx, st, f.ID, "f.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", res.File.Content)
	assert.Equal(t, "alice", res.Version.CommittedBy)

	versions, err := st.ListVersions(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, res.Version.ID, versions[0].ID)

	contribs, err := st.Contributions(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, contribs.Stats, 1)
	assert.Equal(t, int64(1), contribs.Stats[0].Contributions)

	// A retried flush is harmless: the merge deduplicates and only the
	// version log grows.
	_, err = s.Flush(ctx, st, f.ID, "f.txt")
	require.NoError(t, err)
	text, err := st.GetFile(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", text.Content)
	contribs, err = st.Contributions(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), contribs.Stats[0].Contributions)
}

func TestFlushFailureKeepsReplica(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	p, err := st.CreateProject(ctx, "sess-1", "demo", "alice", nil)
	require.NoError(t, err)
	f, err := st.GetOrCreateFile(ctx, p.ID, "f.txt", "")
	require.NoError(t, err)

	s, err := replica.NewSession(p.ID, "alice", nil)
	require.NoError(t, err)
	r, err := s.OpenFile("f.txt", "")
	require.NoError(t, err)
	require.NoError(t, r.Insert(0, "hello"))

	// The file goes away underneath the session, so the durable write
	// fails.
	_, err = st.DeleteFile(ctx, f.ID)
	require.NoError(t, err)
	_, err = s.Flush(ctx, st, f.ID, "f.txt")
	require.Error(t, err)
	assert.True(t, model.IsNotFound(err))

	// The failed flush consumed nothing: the replica still holds the
	// edit and a retry against a live file succeeds.
	text, err := r.Text()
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	f2, err := st.GetOrCreateFile(ctx, p.ID, "f.txt", "")
	require.NoError(t, err)
	res, err := s.Flush(ctx, st, f2.ID, "f.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", res.File.Content)
	versions, err := st.ListVersions(ctx, f2.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
}

func TestFlushUnknownPath(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	s, err := replica.NewSession(1, "alice", nil)
	require.NoError(t, err)
	_, err = s.Flush(context.Background(), st, "id", "nope.txt")
	require.Error(t, err)
	assert.True(t, model.IsNotFound(err))
}

func TestRevertReconstructsWithoutWriting(t *testing.T) {
	s, err := replica.NewSession(1, "alice", nil)
	require.NoError(t, err)
	r, err := s.OpenFile("f.txt", "")
	require.NoError(t, err)

	require.NoError(t, r.Insert(0, "first"))
	v1 := &model.Version{ID: "v1", Snapshot: s.Snapshot()}

	require.NoError(t, r.Delete(0, 5))
	require.NoError(t, r.Insert(0, "second"))

	content, err := replica.Revert(v1, "f.txt")
	require.NoError(t, err)
	assert.Equal(t, "first", content)

	// The live replica is untouched by the preview.
	live, err := r.Text()
	require.NoError(t, err)
	assert.Equal(t, "second", live)

	_, err = replica.Revert(v1, "other.txt")
	require.Error(t, err)
	assert.True(t, model.IsNotFound(err))
}
