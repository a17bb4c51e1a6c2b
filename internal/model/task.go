package model

import "time"

type TaskStatus string

const (
	TaskNew        TaskStatus = "new"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskApproved   TaskStatus = "approved"
	TaskRejected   TaskStatus = "rejected"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskNew, TaskInProgress, TaskDone, TaskApproved, TaskRejected:
		return true
	}
	return false
}

type EvidenceType string

const (
	EvidenceText  EvidenceType = "text"
	EvidencePhoto EvidenceType = "photo"
	EvidenceVideo EvidenceType = "video"
)

func (e EvidenceType) Valid() bool {
	switch e {
	case EvidenceText, EvidencePhoto, EvidenceVideo:
		return true
	}
	return false
}

type Task struct {
	ID           int64        `json:"id"`
	GuardianID   int64        `json:"guardian_id"`
	DependentID  int64        `json:"dependent_id"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	EvidenceType EvidenceType `json:"evidence_type"`
	Points       int          `json:"points"`
	Coins        int          `json:"coins"`
	DueAt        *time.Time   `json:"due_at"`
	Status       TaskStatus   `json:"status"`
	RejectReason string       `json:"reject_reason,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Submission is a dependent's evidence that a task was completed.
type Submission struct {
	ID          int64     `json:"id"`
	TaskID      int64     `json:"task_id"`
	DependentID int64     `json:"dependent_id"`
	Note        string    `json:"note,omitempty"`
	MediaRef    string    `json:"media_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type TaskDetail struct {
	Task
	LastSubmission *Submission `json:"last_submission"`
}
