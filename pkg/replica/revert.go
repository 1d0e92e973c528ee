package replica

import (
	"fmt"

	"github.com/automerge/automerge-go"

	"github.com/codecollab/engine/pkg/model"
)

// Revert reconstructs the file's text as it was in the given version.
// The snapshot is a full save of the project document, so loading it
// yields a standalone document on the same causal lineage as the live
// one. Nothing is written: the returned text only seeds a new local
// edit, and the version log is left untouched until the caller
// explicitly saves.
func Revert(version *model.Version, path string) (string, error) {
	doc, err := automerge.Load(version.Snapshot)
	if err != nil {
		return "", fmt.Errorf("failed to load snapshot %s: %w", version.ID, err)
	}
	text, ok := FileText(doc, path)
	if !ok {
		return "", fmt.Errorf("version %s has no text for %q: %w", version.ID, path, model.ErrNotFound)
	}
	return text, nil
}
