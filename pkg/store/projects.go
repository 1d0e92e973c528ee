package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"

	"github.com/automerge/automerge-go"
	"github.com/mattn/go-sqlite3"

	"github.com/codecollab/engine/pkg/model"
)

// ProjectRef addresses a project by id or by its 1:1 external session
// id. At least one must be set.
type ProjectRef struct {
	ID        *int64
	SessionID *string
}

func RefByID(id int64) ProjectRef          { return ProjectRef{ID: &id} }
func RefBySessionID(sid string) ProjectRef { return ProjectRef{SessionID: &sid} }

func (r ProjectRef) valid() bool {
	return r.ID != nil || r.SessionID != nil
}

// CreateProject creates a project bound 1:1 to the external session.
// The member set is deduplicated and always contains the creator.
func (s *Store) CreateProject(ctx context.Context, sessionID, name, createdBy string, members []string) (*model.Project, error) {
	memberSet := append([]string{createdBy}, members...)
	seen := map[string]bool{}
	deduped := memberSet[:0]
	for _, m := range memberSet {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		deduped = append(deduped, m)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start tx: %w", err)
	}
	defer rollback(tx)

	ts := now()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO projects (session_id, name, created_by, created_at, last_modified) VALUES (?, ?, ?, ?, ?)`,
		sessionID, name, createdBy, ts, ts,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("session %q already has a project: %w", sessionID, model.ErrBadRequest)
		}
		return nil, fmt.Errorf("failed to insert project: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read project id: %w", err)
	}
	for _, m := range deduped {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO project_members (project_id, user) VALUES (?, ?)`, id, m,
		); err != nil {
			return nil, fmt.Errorf("failed to insert membership: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return &model.Project{
		ID:           id,
		SessionID:    sessionID,
		Name:         name,
		CreatedBy:    createdBy,
		Members:      deduped,
		CreatedAt:    ts,
		LastModified: ts,
	}, nil
}

// GetProject returns the referenced project with its member set, or
// (nil, nil) when it does not exist.
func (s *Store) GetProject(ctx context.Context, ref ProjectRef) (*model.Project, error) {
	if !ref.valid() {
		return nil, fmt.Errorf("either id or session id must be provided: %w", model.ErrBadRequest)
	}
	p := &model.Project{}
	var rawUpdates string
	id, sid := refArgs(ref)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, name, created_by, doc_updates, created_at, last_modified FROM projects WHERE id = ? OR session_id = ?`,
		id, sid,
	).Scan(&p.ID, &p.SessionID, &p.Name, &p.CreatedBy, &rawUpdates, &p.CreatedAt, &p.LastModified)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query project: %w", err)
	}
	if rawUpdates != "" {
		if p.DocUpdates, err = base64.StdEncoding.DecodeString(rawUpdates); err != nil {
			return nil, fmt.Errorf("failed to decode update log: %w", err)
		}
	}
	if p.Members, err = s.members(ctx, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

// ProjectWithMember returns the project only when user is a member;
// (nil, nil) otherwise. This is the access gate for all member
// operations.
func (s *Store) ProjectWithMember(ctx context.Context, ref ProjectRef, user string) (*model.Project, error) {
	p, err := s.GetProject(ctx, ref)
	if err != nil || p == nil {
		return nil, err
	}
	for _, m := range p.Members {
		if m == user {
			return p, nil
		}
	}
	return nil, nil
}

// ProjectWithOwner returns the project only when user is its creator;
// (nil, nil) otherwise. Only the creator may rename the project or
// manage membership.
func (s *Store) ProjectWithOwner(ctx context.Context, ref ProjectRef, user string) (*model.Project, error) {
	p, err := s.GetProject(ctx, ref)
	if err != nil || p == nil {
		return nil, err
	}
	if p.CreatedBy != user {
		return nil, nil
	}
	return p, nil
}

// UpdateProjectName renames the referenced project. Returns true when a
// row was updated.
func (s *Store) UpdateProjectName(ctx context.Context, ref ProjectRef, name string) (bool, error) {
	if !ref.valid() {
		return false, fmt.Errorf("either id or session id must be provided: %w", model.ErrBadRequest)
	}
	id, sid := refArgs(ref)
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name = ?, last_modified = ? WHERE id = ? OR session_id = ?`,
		name, now(), id, sid,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update project: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to count rows affected: %w", err)
	}
	return n == 1, nil
}

// AddMember adds user to the project's member set. Idempotent.
func (s *Store) AddMember(ctx context.Context, ref ProjectRef, user string) error {
	p, err := s.GetProject(ctx, ref)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("project: %w", model.ErrNotFound)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO project_members (project_id, user) VALUES (?, ?)`, p.ID, user,
	); err != nil {
		return fmt.Errorf("failed to insert membership: %w", err)
	}
	return nil
}

// RemoveMember removes user from the member set. The creator can never
// be removed: the member set always contains the creator. Returns true
// when a membership row was deleted.
func (s *Store) RemoveMember(ctx context.Context, ref ProjectRef, user string) (bool, error) {
	p, err := s.GetProject(ctx, ref)
	if err != nil {
		return false, err
	}
	if p == nil {
		return false, fmt.Errorf("project: %w", model.ErrNotFound)
	}
	if user == p.CreatedBy {
		return false, fmt.Errorf("cannot remove the project creator: %w", model.ErrBadRequest)
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM project_members WHERE project_id = ? AND user = ?`, p.ID, user,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete membership: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to count rows affected: %w", err)
	}
	return n > 0, nil
}

// MergeDocUpdate merges a delta into the project's accumulated update
// log. The merge is additive: the stored log is loaded into a document,
// the delta applied on top, and the combined state saved back. Applying
// the same delta twice, or deltas in any order, converges to the same
// log contents. The log is never replaced, only grown.
func (s *Store) MergeDocUpdate(ctx context.Context, projectID int64, delta []byte) error {
	if len(delta) == 0 {
		return nil
	}
	l := s.docLock(projectID)
	l.Lock()
	defer l.Unlock()

	var rawUpdates string
	if err := s.db.QueryRowContext(ctx,
		`SELECT doc_updates FROM projects WHERE id = ?`, projectID,
	).Scan(&rawUpdates); err != nil {
		if isNoRows(err) {
			return fmt.Errorf("project %d: %w", projectID, model.ErrNotFound)
		}
		return fmt.Errorf("failed to query update log: %w", err)
	}

	doc := automerge.New()
	if rawUpdates != "" {
		existing, err := base64.StdEncoding.DecodeString(rawUpdates)
		if err != nil {
			return fmt.Errorf("failed to decode update log: %w", err)
		}
		if doc, err = automerge.Load(existing); err != nil {
			return fmt.Errorf("failed to load update log: %w", err)
		}
	}
	if err := doc.LoadIncremental(delta); err != nil {
		return fmt.Errorf("failed to apply delta: %w", err)
	}

	merged := base64.StdEncoding.EncodeToString(doc.Save())
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET doc_updates = ?, last_modified = ? WHERE id = ?`,
		merged, now(), projectID,
	)
	if err != nil {
		return fmt.Errorf("failed to persist update log: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to count rows affected: %w", err)
	} else if n == 0 {
		return fmt.Errorf("project %d: %w", projectID, model.ErrNotFound)
	}
	return nil
}

// ReadDocUpdates returns the project's accumulated update log, empty
// when no delta was ever merged.
func (s *Store) ReadDocUpdates(ctx context.Context, projectID int64) ([]byte, error) {
	var rawUpdates string
	if err := s.db.QueryRowContext(ctx,
		`SELECT doc_updates FROM projects WHERE id = ?`, projectID,
	).Scan(&rawUpdates); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("project %d: %w", projectID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query update log: %w", err)
	}
	if rawUpdates == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(rawUpdates)
	if err != nil {
		return nil, fmt.Errorf("failed to decode update log: %w", err)
	}
	return raw, nil
}

// Contributions decodes the accumulated update log and reports the
// per-contributor edit counts alongside the member list. This read path
// works without any live connection: the counts replicate inside the
// document itself.
func (s *Store) Contributions(ctx context.Context, projectID int64) (*model.Contributions, error) {
	p, err := s.GetProject(ctx, RefByID(projectID))
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("project %d: %w", projectID, model.ErrNotFound)
	}
	out := &model.Contributions{Contributors: p.Members, Stats: []model.ContributionStat{}}
	if len(p.DocUpdates) == 0 {
		return out, nil
	}
	doc, err := automerge.Load(p.DocUpdates)
	if err != nil {
		return nil, fmt.Errorf("failed to load update log: %w", err)
	}
	contribs := doc.Path("contributions").Map()
	keys, err := contribs.Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to read contributions: %w", err)
	}
	sort.Strings(keys)
	for _, user := range keys {
		count, err := doc.Path("contributions", user).Counter().Get()
		if err != nil {
			return nil, fmt.Errorf("failed to read counter for %s: %w", user, err)
		}
		out.Stats = append(out.Stats, model.ContributionStat{Contributor: user, Contributions: count})
	}
	return out, nil
}

func (s *Store) checkProject(ctx context.Context, projectID int64) error {
	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE id = ?`, projectID).Scan(&one); err != nil {
		if isNoRows(err) {
			return fmt.Errorf("project %d: %w", projectID, model.ErrNotFound)
		}
		return fmt.Errorf("failed to query project: %w", err)
	}
	return nil
}

func (s *Store) members(ctx context.Context, projectID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user FROM project_members WHERE project_id = ? ORDER BY user`, projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func refArgs(ref ProjectRef) (any, any) {
	var id any = int64(-1)
	var sid any = ""
	if ref.ID != nil {
		id = *ref.ID
	}
	if ref.SessionID != nil {
		sid = *ref.SessionID
	}
	return id, sid
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint
}
