package models

import "time"

// EntryStatus represents where an upload is in its readiness lifecycle.
type EntryStatus string

const (
	EntryStatusIndexing  EntryStatus = "indexing"
	EntryStatusSuccess   EntryStatus = "success"
	EntryStatusError     EntryStatus = "error"
	EntryStatusExhausted EntryStatus = "exhausted" // poll budget spent, waiting for a manual check
)

// Terminal reports whether the status is absorbing.
func (s EntryStatus) Terminal() bool {
	return s == EntryStatusSuccess || s == EntryStatusError
}

// SourceKind identifies which ingestion endpoint accepted the source.
type SourceKind string

const (
	SourceKindPDF   SourceKind = "pdf"
	SourceKindImage SourceKind = "image"
	SourceKindURL   SourceKind = "url"
)

// StageParsing is the stage every entry starts in.
const StageParsing = "parsing"

// UploadEntry is the client-side view of one submitted source.
type UploadEntry struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Size        *int64      `json:"size,omitempty"` // nil for links
	Kind        SourceKind  `json:"kind"`
	Status      EntryStatus `json:"status"`
	Stage       *string     `json:"stage"`
	Error       string      `json:"error,omitempty"`
	Attempts    int         `json:"attempts"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

// NewUploadEntry creates an entry in the indexing state.
func NewUploadEntry(id, name string, kind SourceKind, size *int64, now time.Time) *UploadEntry {
	stage := StageParsing
	return &UploadEntry{
		ID:        id,
		Name:      name,
		Size:      size,
		Kind:      kind,
		Status:    EntryStatusIndexing,
		Stage:     &stage,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// StageName returns the stage or "" when the backend has not reported one.
func (e *UploadEntry) StageName() string {
	if e.Stage == nil {
		return ""
	}
	return *e.Stage
}

// Clone returns a deep copy safe to hand out of the tracker.
func (e *UploadEntry) Clone() UploadEntry {
	c := *e
	if e.Size != nil {
		size := *e.Size
		c.Size = &size
	}
	if e.Stage != nil {
		stage := *e.Stage
		c.Stage = &stage
	}
	if e.CompletedAt != nil {
		at := *e.CompletedAt
		c.CompletedAt = &at
	}
	return c
}
