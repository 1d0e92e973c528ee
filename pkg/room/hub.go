// Package room is the synchronization transport: one logical broadcast
// scope per project through which document deltas (automerge sync
// protocol) and awareness updates move between replicas. The hub also
// holds the server-side authoritative document per project so that
// partially-connected peers can always converge through the relay.
package room

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/gorilla/websocket"

	"github.com/codecollab/engine/pkg/awareness"
)

// DocLoader fetches a project's accumulated update log, nil when the
// project was never edited. It decouples the hub from the store.
type DocLoader func(ctx context.Context, projectID int64) ([]byte, error)

// Hub tracks the active rooms, one per project.
type Hub struct {
	loader DocLoader

	mu    sync.Mutex
	rooms map[int64]*Room
}

func NewHub(loader DocLoader) *Hub {
	return &Hub{loader: loader, rooms: map[int64]*Room{}}
}

// Room returns the project's room, creating it (and loading its
// document from the durable baseline) on first touch.
func (h *Hub) Room(ctx context.Context, projectID int64) (*Room, error) {
	h.mu.Lock()
	if r, ok := h.rooms[projectID]; ok {
		h.mu.Unlock()
		return r, nil
	}
	h.mu.Unlock()

	// Load outside the lock; a racing creator is resolved below.
	baseline, err := h.loader(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load baseline for project %d: %w", projectID, err)
	}
	doc := automerge.New()
	if len(baseline) > 0 {
		if doc, err = automerge.Load(baseline); err != nil {
			return nil, fmt.Errorf("failed to load document for project %d: %w", projectID, err)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[projectID]; ok {
		return r, nil
	}
	r := &Room{
		projectID: projectID,
		doc:       doc,
		presence:  awareness.NewTable(),
		members:   map[string]*presenceClient{},
	}
	h.rooms[projectID] = r
	return r, nil
}

// Range visits every active room, e.g. for the periodic backup of room
// documents into the durable update log.
func (h *Hub) Range(fn func(projectID int64, doc *automerge.Doc) bool) {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()
	for _, r := range rooms {
		if !fn(r.projectID, r.doc) {
			return
		}
	}
}

// PruneAwareness drops presence entries whose connections went silent
// for longer than timeout, notifying the remaining room members.
func (h *Hub) PruneAwareness(timeout time.Duration) {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()
	for _, r := range rooms {
		for _, connID := range r.presence.Prune(timeout) {
			r.broadcast(connID, PresenceMessage{Type: PresenceLeave, Conn: connID})
		}
	}
}

// Room is one project's broadcast scope.
type Room struct {
	projectID int64
	doc       *automerge.Doc
	presence  *awareness.Table

	mu      sync.Mutex
	members map[string]*presenceClient
}

// Doc returns the room's authoritative document.
func (r *Room) Doc() *automerge.Doc { return r.doc }

// Presence returns the room's awareness table.
func (r *Room) Presence() *awareness.Table { return r.presence }

// SyncConn attaches a websocket connection to the room's document via
// its own automerge sync state and pumps until the peer goes away.
// Deltas flow both ways; duplicate or out-of-order delivery is handled
// by the CRDT, never surfaced as an error.
func (r *Room) SyncConn(ctx context.Context, conn *websocket.Conn) error {
	syncState := automerge.NewSyncState(r.doc)
	return Sync(ctx, conn, syncState)
}

const presenceSendBuffer = 16

// PresenceType discriminates awareness relay messages.
type PresenceType string

const (
	PresenceUpdate PresenceType = "update"
	PresenceLeave  PresenceType = "leave"
)

// PresenceMessage is the JSON envelope relayed on awareness
// connections. It carries no document mutations.
type PresenceMessage struct {
	Type  PresenceType     `json:"type"`
	Conn  string           `json:"conn"`
	State *awareness.State `json:"state,omitempty"`
}

type presenceClient struct {
	connID string
	send   chan PresenceMessage
}

// PresenceConn joins a websocket connection to the room's awareness
// channel: incoming states are stored in the table and fanned out to
// the other members, the current table is replayed to the joiner, and
// disconnection removes the entry and notifies the room.
func (r *Room) PresenceConn(ctx context.Context, connID string, conn *websocket.Conn) {
	client := &presenceClient{connID: connID, send: make(chan PresenceMessage, presenceSendBuffer)}

	r.mu.Lock()
	r.members[connID] = client
	r.mu.Unlock()

	replay := r.presence.Snapshot()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer conn.Close()
		// Replay current presence so the joiner renders existing
		// cursors. Written directly rather than through the send
		// buffer: the table may hold more entries than the buffer.
		// An update broadcast during the replay may duplicate an
		// entry; presence updates are idempotent.
		for id, state := range replay {
			s := state
			if err := conn.WriteJSON(PresenceMessage{Type: PresenceUpdate, Conn: id, State: &s}); err != nil {
				slog.Debug("presence replay finished", "conn", connID, "err", err)
				return
			}
		}
		for {
			select {
			case msg, ok := <-client.send:
				if !ok {
					return
				}
				if err := conn.WriteJSON(msg); err != nil {
					slog.Debug("presence write finished", "conn", connID, "err", err)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var state awareness.State
		if err := conn.ReadJSON(&state); err != nil {
			slog.Debug("presence read finished", "conn", connID, "err", err)
			break
		}
		r.presence.Set(connID, state)
		r.broadcast(connID, PresenceMessage{Type: PresenceUpdate, Conn: connID, State: &state})
	}

	// Removal and close happen under the same lock so broadcast can
	// never send on the closed channel; the close is what lets the
	// writer goroutine exit once the peer is gone.
	r.mu.Lock()
	delete(r.members, connID)
	close(client.send)
	r.mu.Unlock()
	r.presence.Remove(connID)
	r.broadcast(connID, PresenceMessage{Type: PresenceLeave, Conn: connID})

	_ = conn.Close()
	<-done
}

// broadcast fans a message out to every member except the source. Slow
// members are skipped rather than blocking the room.
func (r *Room) broadcast(sourceConnID string, msg PresenceMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.members {
		if id == sourceConnID {
			continue
		}
		select {
		case c.send <- msg:
		default:
			slog.Warn("dropping presence message for slow member", "conn", id)
		}
	}
}
