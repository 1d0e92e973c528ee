package replica

import (
	"fmt"

	"github.com/automerge/automerge-go"
)

// FileReplica is the live handle onto one file's text region inside the
// session's replicated document. Local mutations go through it so that
// every edit is counted against the session's user in the replicated
// contributions map.
type FileReplica struct {
	session *Session
	path    string
}

// Path returns the file path this replica is bound to.
func (r *FileReplica) Path() string { return r.path }

func (r *FileReplica) text() *automerge.Text {
	return r.session.doc.Path(filesKey, r.path).Text()
}

// Insert inserts value at the rune position pos and credits the edit to
// the session user.
func (r *FileReplica) Insert(pos int, value string) error {
	if err := r.text().Insert(pos, value); err != nil {
		return fmt.Errorf("failed to insert into %q: %w", r.path, err)
	}
	return r.session.countContribution()
}

// Delete removes count runes starting at pos and credits the edit to
// the session user.
func (r *FileReplica) Delete(pos, count int) error {
	if err := r.text().Delete(pos, count); err != nil {
		return fmt.Errorf("failed to delete from %q: %w", r.path, err)
	}
	return r.session.countContribution()
}

// Text materializes the replica's current text.
func (r *FileReplica) Text() (string, error) {
	v, err := r.text().Get()
	if err != nil {
		return "", fmt.Errorf("failed to read %q: %w", r.path, err)
	}
	return v, nil
}

// countContribution increments this user's counter in the replicated
// contributions map. The value is a counter CRDT, so concurrent
// increments from different replicas merge by summation instead of
// losing writes the way a last-writer-wins integer would.
func (s *Session) countContribution() error {
	if err := s.doc.Path(contributionsKey, s.user).Counter().Inc(1); err != nil {
		return fmt.Errorf("failed to count contribution for %s: %w", s.user, err)
	}
	return nil
}

// FileText reads the text of any file in doc without a session, e.g.
// when deriving materialized content from a loaded snapshot. Returns
// ("", false) when the document has no text at that path.
func FileText(doc *automerge.Doc, path string) (string, bool) {
	v, err := doc.Path(filesKey, path).Get()
	if err != nil || v.Kind() != automerge.KindText {
		return "", false
	}
	text, err := v.Text().Get()
	if err != nil {
		return "", false
	}
	return text, true
}
