package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/famhabit/internal/database"
	"github.com/dukerupert/famhabit/internal/model"
)

type TaskStore struct {
	db database.DBTX
}

func NewTaskStore(db database.DBTX) *TaskStore {
	return &TaskStore{db: db}
}

// WithTx returns a copy of the store bound to tx.
func (s *TaskStore) WithTx(tx *sql.Tx) *TaskStore {
	return &TaskStore{db: tx}
}

func scanTask(scanner interface{ Scan(...any) error }) (*model.Task, error) {
	var t model.Task
	var dueAt sql.NullTime

	err := scanner.Scan(&t.ID, &t.GuardianID, &t.DependentID, &t.Title, &t.Description, &t.EvidenceType,
		&t.Points, &t.Coins, &dueAt, &t.Status, &t.RejectReason, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if dueAt.Valid {
		t.DueAt = &dueAt.Time
	}
	return &t, nil
}

const taskCols = `id, guardian_id, dependent_id, title, description, evidence_type, points, coins, due_at, status, reject_reason, created_at, updated_at`

type CreateTaskParams struct {
	GuardianID   int64
	DependentID  int64
	Title        string
	Description  string
	EvidenceType model.EvidenceType
	Points       int
	Coins        int
	DueAt        *time.Time
}

func (s *TaskStore) Create(ctx context.Context, p CreateTaskParams) (*model.Task, error) {
	var due sql.NullTime
	if p.DueAt != nil {
		due = sql.NullTime{Time: p.DueAt.UTC(), Valid: true}
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (guardian_id, dependent_id, title, description, evidence_type, points, coins, due_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.GuardianID, p.DependentID, p.Title, p.Description, p.EvidenceType, p.Points, p.Coins, due,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// UpdateTaskParams is the full set of editable fields.
type UpdateTaskParams struct {
	Title        string
	Description  string
	EvidenceType model.EvidenceType
	Points       int
	Coins        int
	DueAt        *time.Time
}

// Update rewrites a task's editable fields while it is still new. It
// reports false without error when the task has left new.
func (s *TaskStore) Update(ctx context.Context, id int64, p UpdateTaskParams) (bool, error) {
	var due sql.NullTime
	if p.DueAt != nil {
		due = sql.NullTime{Time: p.DueAt.UTC(), Valid: true}
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, evidence_type = ?, points = ?, coins = ?, due_at = ?,
		 updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		p.Title, p.Description, p.EvidenceType, p.Points, p.Coins, due, id, model.TaskNew,
	)
	if err != nil {
		return false, fmt.Errorf("update task: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *TaskStore) GetByID(ctx context.Context, id int64) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// TaskFilter narrows List. Zero values mean no constraint.
type TaskFilter struct {
	DependentID int64
	GuardianID  int64
	Status      model.TaskStatus
	Limit       int
	Offset      int
}

// List returns tasks matching the filter, newest first.
func (s *TaskStore) List(ctx context.Context, f TaskFilter) ([]model.Task, error) {
	var where []string
	var args []any
	if f.DependentID != 0 {
		where = append(where, "dependent_id = ?")
		args = append(args, f.DependentID)
	}
	if f.GuardianID != 0 {
		where = append(where, "guardian_id = ?")
		args = append(args, f.GuardianID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}

	query := `SELECT ` + taskCols + ` FROM tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListPending returns done tasks awaiting review by the guardian, most
// recently submitted first.
func (s *TaskStore) ListPending(ctx context.Context, guardianID int64) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE guardian_id = ? AND status = ? ORDER BY updated_at DESC, id DESC`,
		guardianID, model.TaskDone,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// AwaitingReview is a done task with the family it belongs to.
type AwaitingReview struct {
	Task     model.Task
	FamilyID int64
}

// ListAwaitingReview returns done tasks across all families that were
// submitted before the cutoff, oldest first.
func (s *TaskStore) ListAwaitingReview(ctx context.Context, before time.Time) ([]AwaitingReview, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.guardian_id, t.dependent_id, t.title, t.description, t.evidence_type, t.points, t.coins,
		        t.due_at, t.status, t.reject_reason, t.created_at, t.updated_at, g.family_id
		 FROM tasks t JOIN guardians g ON g.id = t.guardian_id
		 WHERE t.status = ? AND t.updated_at < ?
		 ORDER BY t.updated_at ASC, t.id ASC`,
		model.TaskDone, before.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks awaiting review: %w", err)
	}
	defer rows.Close()

	var out []AwaitingReview
	for rows.Next() {
		var a AwaitingReview
		var dueAt sql.NullTime
		t := &a.Task
		if err := rows.Scan(&t.ID, &t.GuardianID, &t.DependentID, &t.Title, &t.Description, &t.EvidenceType,
			&t.Points, &t.Coins, &dueAt, &t.Status, &t.RejectReason, &t.CreatedAt, &t.UpdatedAt, &a.FamilyID); err != nil {
			return nil, fmt.Errorf("scan task awaiting review: %w", err)
		}
		if dueAt.Valid {
			t.DueAt = &dueAt.Time
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// TransitionStatus moves a task from one status to another. It reports
// false without error when the task was not in the from status.
func (s *TaskStore) TransitionStatus(ctx context.Context, id int64, from, to model.TaskStatus, rejectReason string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, reject_reason = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		to, rejectReason, id, from,
	)
	if err != nil {
		return false, fmt.Errorf("update task status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func scanTasks(rows *sql.Rows) ([]model.Task, error) {
	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// --- Submissions ---

const submissionCols = `id, task_id, dependent_id, note, media_ref, created_at`

func scanSubmission(scanner interface{ Scan(...any) error }) (*model.Submission, error) {
	var sub model.Submission
	if err := scanner.Scan(&sub.ID, &sub.TaskID, &sub.DependentID, &sub.Note, &sub.MediaRef, &sub.CreatedAt); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *TaskStore) CreateSubmission(ctx context.Context, taskID, dependentID int64, note, mediaRef string) (*model.Submission, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions (task_id, dependent_id, note, media_ref) VALUES (?, ?, ?, ?)`,
		taskID, dependentID, note, mediaRef,
	)
	if err != nil {
		return nil, fmt.Errorf("insert submission: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+submissionCols+` FROM submissions WHERE id = ?`, id)
	return scanSubmission(row)
}

// LatestSubmission returns nil when the task has none.
func (s *TaskStore) LatestSubmission(ctx context.Context, taskID int64) (*model.Submission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+submissionCols+` FROM submissions WHERE task_id = ? ORDER BY id DESC LIMIT 1`, taskID)
	sub, err := scanSubmission(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest submission: %w", err)
	}
	return sub, nil
}

func (s *TaskStore) ListSubmissions(ctx context.Context, taskID int64) ([]model.Submission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+submissionCols+` FROM submissions WHERE task_id = ? ORDER BY id DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}
