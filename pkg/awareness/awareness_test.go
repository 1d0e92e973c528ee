package awareness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetSnapshotRemove(t *testing.T) {
	tab := NewTable()
	tab.Set("c1", State{User: "alice", Colour: "#ff0000", Path: "f.txt", Cursor: &Position{Line: 1, Column: 2}})
	tab.Set("c2", State{User: "bob", Colour: "#00ff00"})
	assert.Equal(t, 2, tab.Len())

	snap := tab.Snapshot()
	assert.Equal(t, "alice", snap["c1"].User)
	assert.Equal(t, &Position{Line: 1, Column: 2}, snap["c1"].Cursor)
	assert.Equal(t, "bob", snap["c2"].User)

	// Later state fully replaces the earlier one.
	tab.Set("c1", State{User: "alice", Colour: "#ff0000"})
	assert.Nil(t, tab.Snapshot()["c1"].Cursor)

	tab.Remove("c1")
	assert.Equal(t, 1, tab.Len())
	tab.Remove("c1")
	assert.Equal(t, 1, tab.Len())
}

func TestPruneDropsOnlyStaleEntries(t *testing.T) {
	now := time.Now()
	tab := NewTable()
	tab.clock = func() time.Time { return now }

	tab.Set("stale", State{User: "alice"})
	now = now.Add(time.Minute)
	tab.Set("fresh", State{User: "bob"})

	dropped := tab.Prune(30 * time.Second)
	assert.Equal(t, []string{"stale"}, dropped)
	assert.Equal(t, 1, tab.Len())
	assert.Contains(t, tab.Snapshot(), "fresh")

	// A refreshed entry survives the next prune.
	tab.Set("fresh", State{User: "bob"})
	assert.Empty(t, tab.Prune(30*time.Second))
}
