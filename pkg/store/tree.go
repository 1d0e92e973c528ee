package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/codecollab/engine/pkg/model"
	"github.com/codecollab/engine/pkg/pathutil"
)

// GetOrCreateDirectory returns the directory at path, creating it and
// any missing ancestors if needed. Ancestors are created top-down,
// shortest prefix first, so each created row can parent-link the next
// segment. Idempotent: an existing directory is returned unchanged, and
// concurrent callers racing to create the same path resolve through the
// unique (project_id, path) constraint plus a re-fetch.
func (s *Store) GetOrCreateDirectory(ctx context.Context, projectID int64, path string) (*model.Directory, error) {
	if !pathutil.Valid(path) {
		return nil, fmt.Errorf("invalid directory path %q: %w", path, model.ErrBadRequest)
	}
	if err := s.checkProject(ctx, projectID); err != nil {
		return nil, err
	}
	if d, err := s.directoryByPath(ctx, projectID, path); err != nil {
		return nil, err
	} else if d != nil {
		return d, nil
	}
	parentID, err := s.ensureAncestors(ctx, projectID, path)
	if err != nil {
		return nil, err
	}
	return s.ensureDirectory(ctx, projectID, path, parentID)
}

// GetOrCreateFile returns the file at path, creating it and any missing
// ancestor directories if needed. An existing file is returned
// unchanged: initialContent is ignored rather than silently
// overwriting.
func (s *Store) GetOrCreateFile(ctx context.Context, projectID int64, path string, initialContent string) (*model.File, error) {
	if !pathutil.Valid(path) {
		return nil, fmt.Errorf("invalid file path %q: %w", path, model.ErrBadRequest)
	}
	if err := s.checkProject(ctx, projectID); err != nil {
		return nil, err
	}
	if f, err := s.fileByPath(ctx, projectID, path); err != nil {
		return nil, err
	} else if f != nil {
		return f, nil
	}
	parentID, err := s.ensureAncestors(ctx, projectID, path)
	if err != nil {
		return nil, err
	}
	ts := now()
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO files (id, project_id, path, parent_id, content, created_at, last_modified) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		newID(), projectID, path, parentID, initialContent, ts, ts,
	); err != nil {
		return nil, fmt.Errorf("failed to insert file: %w", err)
	}
	// Re-fetch rather than trusting the insert: a racing creator may
	// have won, in which case its row (and content) stands.
	f, err := s.fileByPath(ctx, projectID, path)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("file %q vanished after creation", path)
	}
	return f, nil
}

// ensureAncestors creates the missing ancestor directories of path and
// returns the id of the immediate parent, or nil for root paths.
func (s *Store) ensureAncestors(ctx context.Context, projectID int64, path string) (*string, error) {
	var parentID *string
	for _, ancestor := range pathutil.Ancestors(path) {
		d, err := s.ensureDirectory(ctx, projectID, ancestor, parentID)
		if err != nil {
			return nil, err
		}
		parentID = &d.ID
	}
	return parentID, nil
}

func (s *Store) ensureDirectory(ctx context.Context, projectID int64, path string, parentID *string) (*model.Directory, error) {
	ts := now()
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO directories (id, project_id, path, parent_id, created_at, last_modified) VALUES (?, ?, ?, ?, ?, ?)`,
		newID(), projectID, path, parentID, ts, ts,
	); err != nil {
		return nil, fmt.Errorf("failed to insert directory: %w", err)
	}
	d, err := s.directoryByPath(ctx, projectID, path)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("directory %q vanished after creation", path)
	}
	return d, nil
}

// RenameDirectory replaces only the final path segment of the
// directory. Descendant rows keep their stored paths: directory
// renaming is deliberately shallow, and callers that want a moved
// subtree must rewrite descendants themselves.
func (s *Store) RenameDirectory(ctx context.Context, id, newLeaf string) (*model.Directory, error) {
	if newLeaf == "" || strings.Contains(newLeaf, pathutil.Separator) {
		return nil, fmt.Errorf("invalid name %q: %w", newLeaf, model.ErrBadRequest)
	}
	d, err := s.directoryByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("directory %s: %w", id, model.ErrNotFound)
	}
	d.Path = pathutil.RenameLeaf(d.Path, newLeaf)
	d.LastModified = now()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE directories SET path = ?, last_modified = ? WHERE id = ?`,
		d.Path, d.LastModified, id,
	); err != nil {
		return nil, fmt.Errorf("failed to rename directory: %w", err)
	}
	return d, nil
}

// RenameFile replaces only the final path segment of the file.
func (s *Store) RenameFile(ctx context.Context, id, newLeaf string) (*model.File, error) {
	if newLeaf == "" || strings.Contains(newLeaf, pathutil.Separator) {
		return nil, fmt.Errorf("invalid name %q: %w", newLeaf, model.ErrBadRequest)
	}
	f, err := s.fileByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("file %s: %w", id, model.ErrNotFound)
	}
	f.Path = pathutil.RenameLeaf(f.Path, newLeaf)
	f.LastModified = now()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE files SET path = ?, last_modified = ? WHERE id = ?`,
		f.Path, f.LastModified, id,
	); err != nil {
		return nil, fmt.Errorf("failed to rename file: %w", err)
	}
	return f, nil
}

// DeleteDirectory removes the directory, every file and directory
// within its subtree, and all versions of the deleted files. Subtree
// membership is segment aware: deleting "a/b" does not touch "a/bc".
// Returns the deleted directory record.
func (s *Store) DeleteDirectory(ctx context.Context, id string) (*model.Directory, error) {
	d, err := s.directoryByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("directory %s: %w", id, model.ErrNotFound)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start tx: %w", err)
	}
	defer rollback(tx)

	// The subtree is listed inside the transaction so an entry created
	// under the prefix while the cascade runs cannot slip past it.
	files, err := listFiles(ctx, tx, d.ProjectID)
	if err != nil {
		return nil, err
	}
	dirs, err := listDirectories(ctx, tx, d.ProjectID)
	if err != nil {
		return nil, err
	}

	for _, f := range files {
		if !pathutil.WithinSubtree(d.Path, f.Path) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM versions WHERE file_id = ?`, f.ID); err != nil {
			return nil, fmt.Errorf("failed to delete versions of %s: %w", f.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, f.ID); err != nil {
			return nil, fmt.Errorf("failed to delete file %s: %w", f.ID, err)
		}
	}
	for _, sub := range dirs {
		if sub.ID == d.ID || !pathutil.WithinSubtree(d.Path, sub.Path) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM directories WHERE id = ?`, sub.ID); err != nil {
			return nil, fmt.Errorf("failed to delete directory %s: %w", sub.ID, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM directories WHERE id = ?`, d.ID); err != nil {
		return nil, fmt.Errorf("failed to delete directory %s: %w", d.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return d, nil
}

// DeleteFile removes the file and cascades to all of its versions so no
// orphaned versions remain. Returns the deleted file record.
func (s *Store) DeleteFile(ctx context.Context, id string) (*model.File, error) {
	f, err := s.fileByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("file %s: %w", id, model.ErrNotFound)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start tx: %w", err)
	}
	defer rollback(tx)
	if _, err := tx.ExecContext(ctx, `DELETE FROM versions WHERE file_id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to delete versions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to delete file: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return f, nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx so listings can run
// standalone or inside a cascade transaction.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// ListDirectories returns the project's directories as a flat slice;
// callers reconstruct the hierarchy from parent links.
func (s *Store) ListDirectories(ctx context.Context, projectID int64) ([]*model.Directory, error) {
	return listDirectories(ctx, s.db, projectID)
}

// ListFiles returns the project's files as a flat slice.
func (s *Store) ListFiles(ctx context.Context, projectID int64) ([]*model.File, error) {
	return listFiles(ctx, s.db, projectID)
}

func listDirectories(ctx context.Context, q queryer, projectID int64) ([]*model.Directory, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, project_id, path, parent_id, created_at, last_modified FROM directories WHERE project_id = ? ORDER BY path`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query directories: %w", err)
	}
	defer rows.Close()
	var out []*model.Directory
	for rows.Next() {
		d, err := scanDirectory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func listFiles(ctx context.Context, q queryer, projectID int64) ([]*model.File, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, project_id, path, parent_id, content, created_at, last_modified FROM files WHERE project_id = ? ORDER BY path`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()
	var out []*model.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListEntries returns the project's directories and files as one flat
// tagged-union listing.
func (s *Store) ListEntries(ctx context.Context, projectID int64) ([]model.Entry, error) {
	dirs, err := s.ListDirectories(ctx, projectID)
	if err != nil {
		return nil, err
	}
	files, err := s.ListFiles(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Entry, 0, len(dirs)+len(files))
	for _, d := range dirs {
		out = append(out, model.DirectoryEntry(d))
	}
	for _, f := range files {
		out = append(out, model.FileEntry(f))
	}
	return out, nil
}

// GetDirectory returns the directory by id, or (nil, nil) when it does
// not exist.
func (s *Store) GetDirectory(ctx context.Context, id string) (*model.Directory, error) {
	return s.directoryByID(ctx, id)
}

// GetFile returns the file by id, or (nil, nil) when it does not exist
// so callers can render a not-found result instead of handling an
// error.
func (s *Store) GetFile(ctx context.Context, id string) (*model.File, error) {
	return s.fileByID(ctx, id)
}

// UpdateFileContent stores the materialized text for the file. Under
// concurrent flushes the last write wins; history is preserved in the
// version log regardless.
func (s *Store) UpdateFileContent(ctx context.Context, id string, content string) (*model.File, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET content = ?, last_modified = ? WHERE id = ?`,
		content, now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update file content: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("failed to count rows affected: %w", err)
	} else if n == 0 {
		return nil, fmt.Errorf("file %s: %w", id, model.ErrNotFound)
	}
	return s.fileByID(ctx, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDirectory(r rowScanner) (*model.Directory, error) {
	d := &model.Directory{}
	var parentID sql.NullString
	if err := r.Scan(&d.ID, &d.ProjectID, &d.Path, &parentID, &d.CreatedAt, &d.LastModified); err != nil {
		return nil, fmt.Errorf("failed to scan directory: %w", err)
	}
	if parentID.Valid {
		d.ParentID = &parentID.String
	}
	return d, nil
}

func scanFile(r rowScanner) (*model.File, error) {
	f := &model.File{}
	var parentID sql.NullString
	if err := r.Scan(&f.ID, &f.ProjectID, &f.Path, &parentID, &f.Content, &f.CreatedAt, &f.LastModified); err != nil {
		return nil, fmt.Errorf("failed to scan file: %w", err)
	}
	if parentID.Valid {
		f.ParentID = &parentID.String
	}
	return f, nil
}

func (s *Store) directoryByPath(ctx context.Context, projectID int64, path string) (*model.Directory, error) {
	d, err := scanDirectory(s.db.QueryRowContext(ctx,
		`SELECT id, project_id, path, parent_id, created_at, last_modified FROM directories WHERE project_id = ? AND path = ?`,
		projectID, path,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}

func (s *Store) directoryByID(ctx context.Context, id string) (*model.Directory, error) {
	d, err := scanDirectory(s.db.QueryRowContext(ctx,
		`SELECT id, project_id, path, parent_id, created_at, last_modified FROM directories WHERE id = ?`,
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}

func (s *Store) fileByPath(ctx context.Context, projectID int64, path string) (*model.File, error) {
	f, err := scanFile(s.db.QueryRowContext(ctx,
		`SELECT id, project_id, path, parent_id, content, created_at, last_modified FROM files WHERE project_id = ? AND path = ?`,
		projectID, path,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return f, nil
}

func (s *Store) fileByID(ctx context.Context, id string) (*model.File, error) {
	f, err := scanFile(s.db.QueryRowContext(ctx,
		`SELECT id, project_id, path, parent_id, content, created_at, last_modified FROM files WHERE id = ?`,
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return f, nil
}
