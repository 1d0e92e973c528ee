package store

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/codecollab/engine/pkg/model"
)

// AppendVersion records an immutable snapshot for the file. The log is
// append-only: versions are never edited, only added here or removed en
// masse when the file is deleted.
func (s *Store) AppendVersion(ctx context.Context, fileID string, snapshot []byte, author string) (*model.Version, error) {
	f, err := s.fileByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("file %s: %w", fileID, model.ErrNotFound)
	}
	v := &model.Version{
		ID:          newID(),
		FileID:      fileID,
		Snapshot:    snapshot,
		CommittedBy: author,
		CreatedAt:   now(),
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO versions (id, file_id, snapshot, committed_by, created_at) VALUES (?, ?, ?, ?, ?)`,
		v.ID, v.FileID, base64.StdEncoding.EncodeToString(v.Snapshot), v.CommittedBy, v.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to insert version: %w", err)
	}
	return v, nil
}

// ListVersions returns the file's versions newest first. An empty slice
// means the file was never flushed (or does not exist).
func (s *Store) ListVersions(ctx context.Context, fileID string) ([]*model.Version, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file_id, snapshot, committed_by, created_at FROM versions WHERE file_id = ? ORDER BY created_at DESC, id DESC`,
		fileID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()
	var out []*model.Version
	for rows.Next() {
		v := &model.Version{}
		var rawSnapshot string
		if err := rows.Scan(&v.ID, &v.FileID, &rawSnapshot, &v.CommittedBy, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		if v.Snapshot, err = base64.StdEncoding.DecodeString(rawSnapshot); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot %s: %w", v.ID, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetVersion returns a single version by id, or (nil, nil) when absent.
func (s *Store) GetVersion(ctx context.Context, id string) (*model.Version, error) {
	v := &model.Version{}
	var rawSnapshot string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, file_id, snapshot, committed_by, created_at FROM versions WHERE id = ?`,
		id,
	).Scan(&v.ID, &v.FileID, &rawSnapshot, &v.CommittedBy, &v.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query version: %w", err)
	}
	if v.Snapshot, err = base64.StdEncoding.DecodeString(rawSnapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", v.ID, err)
	}
	return v, nil
}
