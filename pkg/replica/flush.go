package replica

import (
	"context"
	"fmt"

	"github.com/codecollab/engine/pkg/model"
	"github.com/codecollab/engine/pkg/store"
)

// FlushResult reports what a flush persisted.
type FlushResult struct {
	File    *model.File
	Version *model.Version
}

// Flush makes the file durable: the materialized text becomes the file
// record's content, the full document state is merged into the
// project's accumulated update log (additive, never replace), and a
// snapshot is appended to the file's version log under the session
// user.
//
// The full state, not an incremental slice, is sent to the log: the
// merge deduplicates changes, so a repeated or retried flush is
// harmless, and a failed flush consumes nothing: the in-memory replica
// still holds every unflushed edit and the call can simply be retried.
func (s *Session) Flush(ctx context.Context, st *store.Store, fileID, path string) (*FlushResult, error) {
	text, ok := FileText(s.doc, path)
	if !ok {
		return nil, fmt.Errorf("no live text for %q: %w", path, model.ErrNotFound)
	}
	state := s.doc.Save()

	if err := st.MergeDocUpdate(ctx, s.projectID, state); err != nil {
		return nil, fmt.Errorf("failed to merge update log: %w", err)
	}
	f, err := st.UpdateFileContent(ctx, fileID, text)
	if err != nil {
		return nil, fmt.Errorf("failed to store content: %w", err)
	}
	v, err := st.AppendVersion(ctx, fileID, state, s.user)
	if err != nil {
		return nil, fmt.Errorf("failed to append version: %w", err)
	}
	return &FlushResult{File: f, Version: v}, nil
}
