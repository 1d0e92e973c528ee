// Package replica holds the in-memory replicated state for connected
// clients: one automerge document per project per session, with
// per-file text replicas addressed by path and a contributions counter
// map that replicates edit counts alongside the content. Nothing in
// this package is a source of truth beyond the session; durability
// comes from flushing into the store.
package replica

import (
	"fmt"
	"sync"

	"github.com/automerge/automerge-go"
)

const (
	filesKey         = "files"
	contributionsKey = "contributions"
)

// Session is the explicit per-connection replica registry. It owns its
// project document and file replicas and tears them down on Close; no
// state is shared ambiently between sessions.
type Session struct {
	projectID int64
	user      string

	doc *automerge.Doc

	mu    sync.Mutex
	files map[string]*FileReplica
}

// NewSession creates a session seeded from the project's durable
// accumulated update log, so a joining client starts from the durable
// baseline rather than an empty document. baseline may be nil for a
// project that was never edited.
func NewSession(projectID int64, user string, baseline []byte) (*Session, error) {
	doc := automerge.New()
	if len(baseline) > 0 {
		var err error
		if doc, err = automerge.Load(baseline); err != nil {
			return nil, fmt.Errorf("failed to load baseline: %w", err)
		}
	}
	return &Session{
		projectID: projectID,
		user:      user,
		doc:       doc,
		files:     map[string]*FileReplica{},
	}, nil
}

// ProjectID returns the project this session replicates.
func (s *Session) ProjectID() int64 { return s.projectID }

// User returns the externally-asserted identity editing through this
// session. It keys the contribution counters.
func (s *Session) User() string { return s.user }

// Doc exposes the underlying replicated document, e.g. for binding a
// sync state to a transport connection.
func (s *Session) Doc() *automerge.Doc { return s.doc }

// OpenFile returns the replica for the file's live text region,
// creating the text object (seeded with seed) when the document has
// none at that path yet. Replicas are cached per path for the lifetime
// of the session.
func (s *Session) OpenFile(path string, seed string) (*FileReplica, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.files[path]; ok {
		return r, nil
	}
	v, err := s.doc.Path(filesKey, path).Get()
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %q: %w", path, err)
	}
	if v.Kind() != automerge.KindText {
		if err := s.doc.Path(filesKey, path).Set(automerge.NewText(seed)); err != nil {
			return nil, fmt.Errorf("failed to create text for %q: %w", path, err)
		}
	}
	r := &FileReplica{session: s, path: path}
	s.files[path] = r
	return r, nil
}

// CloseFile drops the replica handle for path. The text itself stays in
// the document; only the session-local handle goes away.
func (s *Session) CloseFile(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, path)
}

// OpenFiles returns the paths with live replica handles.
func (s *Session) OpenFiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.files))
	for p := range s.files {
		out = append(out, p)
	}
	return out
}

// Close tears down every replica handle. It must not block on or abort
// an in-flight flush: flushes run against the document independently
// and complete on their own.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = map[string]*FileReplica{}
}

// ApplyDelta merges a delta received from a peer into the session's
// document. Application is idempotent and order-free: the same delta
// may arrive any number of times, in any order, with gaps, and the
// document converges all the same.
func (s *Session) ApplyDelta(raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	if err := s.doc.LoadIncremental(raw); err != nil {
		return fmt.Errorf("failed to apply delta: %w", err)
	}
	return nil
}

// TakeDelta returns the changes made since the previous TakeDelta (or
// session start) for immediate broadcast. Empty when nothing changed.
func (s *Session) TakeDelta() []byte {
	return s.doc.SaveIncremental()
}

// Snapshot encodes the full local document state.
func (s *Session) Snapshot() []byte {
	return s.doc.Save()
}
