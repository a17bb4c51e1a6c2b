package model

import "time"

type ArchiveStatus string

const (
	ArchiveCompleted ArchiveStatus = "completed"
	ArchiveFailed    ArchiveStatus = "failed"
)

// ArchiveRun records one upload of ledger entries to object storage.
// Entries FirstEntryID..LastEntryID are in the object at ObjectKey.
type ArchiveRun struct {
	ID           int64         `json:"id"`
	ObjectKey    string        `json:"object_key"`
	FirstEntryID int64         `json:"first_entry_id"`
	LastEntryID  int64         `json:"last_entry_id"`
	Entries      int           `json:"entries"`
	SizeBytes    int64         `json:"size_bytes"`
	Status       ArchiveStatus `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}
