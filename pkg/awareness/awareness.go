// Package awareness holds the ephemeral presence state for a room:
// who is connected, their colour, and where their cursor and selection
// are. Nothing here is persisted or authoritative: awareness carries
// no document mutations and vanishes with the connection.
package awareness

import (
	"sync"
	"time"
)

// Position is a cursor location in an open document.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Range is a selection span in an open document.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// State is one participant's presence entry.
type State struct {
	User      string    `json:"user"`
	Colour    string    `json:"colour"`
	Path      string    `json:"path,omitempty"`
	Cursor    *Position `json:"cursor,omitempty"`
	Selection *Range    `json:"selection,omitempty"`
}

type entry struct {
	state State
	seen  time.Time
}

// Table is the per-room presence table, keyed by connection id.
type Table struct {
	mu      sync.Mutex
	entries map[string]entry
	clock   func() time.Time
}

func NewTable() *Table {
	return &Table{entries: map[string]entry{}, clock: time.Now}
}

// Set stores the state for a connection and refreshes its liveness.
// Clients call this on every cursor or selection change.
func (t *Table) Set(connID string, s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[connID] = entry{state: s, seen: t.clock()}
}

// Remove drops a connection's entry, e.g. on disconnect.
func (t *Table) Remove(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, connID)
}

// Snapshot lists the current presence states.
func (t *Table) Snapshot() map[string]State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]State, len(t.entries))
	for id, e := range t.entries {
		out[id] = e.state
	}
	return out
}

// Prune drops entries not refreshed within timeout and returns the
// dropped connection ids. No explicit prune message is needed: absence
// after the liveness timeout is sufficient.
func (t *Table) Prune(timeout time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-timeout)
	var dropped []string
	for id, e := range t.entries {
		if e.seen.Before(cutoff) {
			delete(t.entries, id)
			dropped = append(dropped, id)
		}
	}
	return dropped
}

// Len returns the number of live entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
