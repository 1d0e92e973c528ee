package model

import "time"

// Directory is a node in a project's path tree. Paths are slash
// delimited and unique per project; ParentID is nil for root paths.
type Directory struct {
	ID           string    `json:"id"`
	ProjectID    int64     `json:"projectId"`
	Path         string    `json:"path"`
	ParentID     *string   `json:"parentId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastModified time.Time `json:"lastModified"`
}

// File is a leaf in the path tree. Content holds the latest materialized
// plain-text snapshot used for non-live reads; the live text lives in
// the project's replicated document, keyed by file identity not path.
type File struct {
	ID           string    `json:"id"`
	ProjectID    int64     `json:"projectId"`
	Path         string    `json:"path"`
	ParentID     *string   `json:"parentId,omitempty"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"createdAt"`
	LastModified time.Time `json:"lastModified"`
}

// Size returns the byte length of the materialized content.
func (f *File) Size() int {
	return len(f.Content)
}

// Project holds scalar metadata, the member set, and the accumulated
// update log: the durable, monotonically growing binary record of all
// deltas ever merged into the project's document.
type Project struct {
	ID           int64     `json:"id"`
	SessionID    string    `json:"sessionId"`
	Name         string    `json:"name"`
	CreatedBy    string    `json:"createdBy"`
	Members      []string  `json:"members"`
	DocUpdates   []byte    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	LastModified time.Time `json:"lastModified"`
}

// Version is one immutable entry in a file's append-only history. The
// snapshot is a full binary save of the project document at commit
// time, replayable on the same causal lineage as the live document.
type Version struct {
	ID          string    `json:"id"`
	FileID      string    `json:"fileId"`
	Snapshot    []byte    `json:"snapshot"`
	CommittedBy string    `json:"committedBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// EntryKind discriminates the two arms of Entry.
type EntryKind string

const (
	EntryKindFile      EntryKind = "file"
	EntryKindDirectory EntryKind = "directory"
)

// Entry is the tagged union returned by mixed listings. Exactly one of
// File or Directory is set, selected by Kind.
type Entry struct {
	Kind      EntryKind  `json:"kind"`
	File      *File      `json:"file,omitempty"`
	Directory *Directory `json:"directory,omitempty"`
}

// FileEntry wraps a file as a tagged entry.
func FileEntry(f *File) Entry {
	return Entry{Kind: EntryKindFile, File: f}
}

// DirectoryEntry wraps a directory as a tagged entry.
func DirectoryEntry(d *Directory) Entry {
	return Entry{Kind: EntryKindDirectory, Directory: d}
}

// ContributionStat is one row of the per-project contribution report.
type ContributionStat struct {
	Contributor   string `json:"contributor"`
	Contributions int64  `json:"contributions"`
}

// Contributions is the report derived from the accumulated update log:
// the project's member list plus per-contributor edit counts.
type Contributions struct {
	Contributors []string           `json:"contributors"`
	Stats        []ContributionStat `json:"contributionStats"`
}
