// Package task implements the task lifecycle: create, submit, approve and
// reject. Approval is the only path from a task to a balance credit and
// always runs in the same transaction as the status change.
package task

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dukerupert/famhabit/internal/apperr"
	"github.com/dukerupert/famhabit/internal/config"
	"github.com/dukerupert/famhabit/internal/database"
	"github.com/dukerupert/famhabit/internal/ledger"
	"github.com/dukerupert/famhabit/internal/model"
	"github.com/dukerupert/famhabit/internal/notify"
	"github.com/dukerupert/famhabit/internal/store"
)

const (
	minTitleLen       = 3
	maxTitleLen       = 120
	maxDescriptionLen = 1000
	maxNoteLen        = 280
	maxMediaRefLen    = 128
	maxReasonLen      = 280

	defaultLimit = 50
	maxLimit     = 200

	// Due dates slightly in the past are accepted to absorb clock skew.
	dueSkew = time.Minute
)

type CreateParams struct {
	GuardianID   int64
	DependentID  int64
	Title        string
	Description  string
	EvidenceType model.EvidenceType
	Points       int
	Coins        int
	DueAt        *time.Time
}

// UpdateParams edits a task that has not been submitted yet. Nil fields
// keep their current value.
type UpdateParams struct {
	TaskID       int64
	GuardianID   int64
	Title        *string
	Description  *string
	EvidenceType *model.EvidenceType
	Points       *int
	Coins        *int
	DueAt        *time.Time
}

type SubmitParams struct {
	TaskID      int64
	DependentID int64
	Note        string
	MediaRef    string
}

// Filter narrows List. Zero values mean no constraint.
type Filter struct {
	DependentID int64
	GuardianID  int64
	Status      model.TaskStatus
	Limit       int
	Offset      int
}

type Engine struct {
	db       *sql.DB
	tasks    *store.TaskStore
	families *store.FamilyStore
	ledger   *ledger.Engine
	rewards  config.Rewards
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewEngine(db *sql.DB, ts *store.TaskStore, fs *store.FamilyStore, le *ledger.Engine, rewards config.Rewards, notifier notify.Notifier, logger *slog.Logger) *Engine {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Engine{
		db:       db,
		tasks:    ts,
		families: fs,
		ledger:   le,
		rewards:  rewards,
		notifier: notifier,
		logger:   logger.With("component", "task"),
		now:      time.Now,
	}
}

// Create assigns a new task from a guardian to a dependent of the same
// family. Nothing is persisted when it fails.
func (e *Engine) Create(ctx context.Context, p CreateParams) (*model.Task, error) {
	p.Title = strings.TrimSpace(p.Title)
	p.Description = strings.TrimSpace(p.Description)
	if err := e.validateCreate(p); err != nil {
		return nil, err
	}

	var task *model.Task
	var familyID int64
	err := database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		fs := e.families.WithTx(tx)

		g, err := fs.GetGuardian(ctx, p.GuardianID)
		if err != nil {
			return err
		}
		if g == nil || !g.Active {
			return apperr.GuardianNotFound(p.GuardianID)
		}
		d, err := fs.GetDependent(ctx, p.DependentID)
		if err != nil {
			return err
		}
		if d == nil || !d.Active {
			return apperr.DependentNotFound(p.DependentID)
		}
		if g.FamilyID != d.FamilyID {
			return apperr.FamilyMismatch(g.ID, d.ID)
		}
		familyID = g.FamilyID

		task, err = e.tasks.WithTx(tx).Create(ctx, store.CreateTaskParams{
			GuardianID:   p.GuardianID,
			DependentID:  p.DependentID,
			Title:        p.Title,
			Description:  p.Description,
			EvidenceType: p.EvidenceType,
			Points:       p.Points,
			Coins:        p.Coins,
			DueAt:        p.DueAt,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	e.logger.Info("task created", "task_id", task.ID, "guardian_id", task.GuardianID,
		"dependent_id", task.DependentID, "points", task.Points, "coins", task.Coins)
	e.notify(ctx, familyID, "created", task, nil)
	return task, nil
}

func (e *Engine) validateCreate(p CreateParams) error {
	if n := utf8.RuneCountInString(p.Title); n < minTitleLen || n > maxTitleLen {
		return apperr.Validation("invalid_title",
			fmt.Sprintf("title must be %d to %d characters", minTitleLen, maxTitleLen))
	}
	if utf8.RuneCountInString(p.Description) > maxDescriptionLen {
		return apperr.Validation("description_too_long",
			fmt.Sprintf("description must be at most %d characters", maxDescriptionLen))
	}
	if !p.EvidenceType.Valid() {
		return apperr.Validation("invalid_evidence_type", "evidence type must be text, photo or video")
	}
	if p.Points < 0 || p.Points > e.rewards.MaxPoints {
		return apperr.Validation("invalid_points",
			fmt.Sprintf("points must be between 0 and %d", e.rewards.MaxPoints))
	}
	if p.Coins < 0 || p.Coins > e.rewards.MaxCoins {
		return apperr.Validation("invalid_coins",
			fmt.Sprintf("coins must be between 0 and %d", e.rewards.MaxCoins))
	}
	if p.DueAt != nil && p.DueAt.Before(e.now().Add(-dueSkew)) {
		return apperr.Validation("due_in_past", "due date is in the past")
	}
	return nil
}

// Update edits a new task. Only the guardian who assigned it may edit it,
// and the merged result must pass the same checks as Create.
func (e *Engine) Update(ctx context.Context, p UpdateParams) (*model.Task, error) {
	var task *model.Task
	var familyID int64
	err := database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		ts := e.tasks.WithTx(tx)

		t, err := ts.GetByID(ctx, p.TaskID)
		if err != nil {
			return err
		}
		if t == nil {
			return apperr.TaskNotFound(p.TaskID)
		}
		if t.GuardianID != p.GuardianID {
			return apperr.AccessDenied("task belongs to another guardian")
		}
		if t.Status != model.TaskNew {
			return apperr.InvalidStatus(t.ID, string(t.Status), "update")
		}

		merged := mergeUpdate(t, p)
		check := merged
		if p.DueAt == nil {
			// An unchanged due date may have passed since it was set.
			check.DueAt = nil
		}
		if err := e.validateCreate(check); err != nil {
			return err
		}

		ok, err := ts.Update(ctx, t.ID, store.UpdateTaskParams{
			Title:        merged.Title,
			Description:  merged.Description,
			EvidenceType: merged.EvidenceType,
			Points:       merged.Points,
			Coins:        merged.Coins,
			DueAt:        merged.DueAt,
		})
		if err != nil {
			return err
		}
		if !ok {
			cur, err := ts.GetByID(ctx, t.ID)
			if err != nil {
				return err
			}
			return apperr.InvalidStatus(cur.ID, string(cur.Status), "update")
		}

		if familyID, err = e.familyOf(ctx, tx, t.DependentID); err != nil {
			return err
		}
		task, err = ts.GetByID(ctx, t.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}

	e.logger.Info("task updated", "task_id", task.ID, "guardian_id", task.GuardianID,
		"points", task.Points, "coins", task.Coins)
	e.notify(ctx, familyID, "updated", task, nil)
	return task, nil
}

func mergeUpdate(t *model.Task, p UpdateParams) CreateParams {
	m := CreateParams{
		GuardianID:   t.GuardianID,
		DependentID:  t.DependentID,
		Title:        t.Title,
		Description:  t.Description,
		EvidenceType: t.EvidenceType,
		Points:       t.Points,
		Coins:        t.Coins,
		DueAt:        t.DueAt,
	}
	if p.Title != nil {
		m.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		m.Description = strings.TrimSpace(*p.Description)
	}
	if p.EvidenceType != nil {
		m.EvidenceType = *p.EvidenceType
	}
	if p.Points != nil {
		m.Points = *p.Points
	}
	if p.Coins != nil {
		m.Coins = *p.Coins
	}
	if p.DueAt != nil {
		m.DueAt = p.DueAt
	}
	return m
}

// Submit records the dependent's evidence and moves the task to done.
// A task accepts exactly one submission.
func (e *Engine) Submit(ctx context.Context, p SubmitParams) (*model.Task, error) {
	p.Note = strings.TrimSpace(p.Note)
	p.MediaRef = strings.TrimSpace(p.MediaRef)

	var task *model.Task
	var familyID int64
	err := database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		ts := e.tasks.WithTx(tx)

		t, err := ts.GetByID(ctx, p.TaskID)
		if err != nil {
			return err
		}
		if t == nil {
			return apperr.TaskNotFound(p.TaskID)
		}
		if t.DependentID != p.DependentID {
			return apperr.AccessDenied("task is assigned to another dependent")
		}
		if t.Status != model.TaskNew {
			return apperr.AlreadySubmitted(t.ID)
		}
		if err := validateEvidence(t.EvidenceType, p.Note, p.MediaRef); err != nil {
			return err
		}

		if _, err := ts.CreateSubmission(ctx, t.ID, p.DependentID, p.Note, p.MediaRef); err != nil {
			return err
		}
		ok, err := ts.TransitionStatus(ctx, t.ID, model.TaskNew, model.TaskDone, "")
		if err != nil {
			return err
		}
		if !ok {
			return apperr.AlreadySubmitted(t.ID)
		}

		if familyID, err = e.familyOf(ctx, tx, t.DependentID); err != nil {
			return err
		}
		task, err = ts.GetByID(ctx, t.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("submit task: %w", err)
	}

	e.logger.Info("task submitted", "task_id", task.ID, "dependent_id", task.DependentID)
	e.notify(ctx, familyID, "submitted", task, nil)
	return task, nil
}

func validateEvidence(kind model.EvidenceType, note, mediaRef string) error {
	if utf8.RuneCountInString(note) > maxNoteLen {
		return apperr.Validation("note_too_long", fmt.Sprintf("note must be at most %d characters", maxNoteLen))
	}
	if utf8.RuneCountInString(mediaRef) > maxMediaRefLen {
		return apperr.Validation("media_ref_too_long", fmt.Sprintf("media reference must be at most %d characters", maxMediaRefLen))
	}
	switch kind {
	case model.EvidenceText:
		if note == "" {
			return apperr.Validation("evidence_required", "this task needs a text note")
		}
	case model.EvidencePhoto, model.EvidenceVideo:
		if mediaRef == "" {
			return apperr.Validation("evidence_required", fmt.Sprintf("this task needs a %s", kind))
		}
	}
	return nil
}

// Approve moves a done task to approved and credits its reward. Approving
// an already approved task returns it unchanged and credits nothing.
func (e *Engine) Approve(ctx context.Context, taskID, guardianID int64) (*model.Task, error) {
	var task *model.Task
	var balance model.Balance
	var credited bool
	var familyID int64
	err := database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		ts := e.tasks.WithTx(tx)

		t, err := ts.GetByID(ctx, taskID)
		if err != nil {
			return err
		}
		if t == nil {
			return apperr.TaskNotFound(taskID)
		}
		if t.GuardianID != guardianID {
			return apperr.AccessDenied("task belongs to another guardian")
		}
		if t.Status == model.TaskApproved {
			task = t
			return nil
		}
		if !CanTransition(t.Status, model.TaskApproved) {
			return apperr.InvalidStatus(t.ID, string(t.Status), "approve")
		}
		// A deactivated dependent cannot be credited, so the task stays done.
		d, err := e.families.WithTx(tx).GetDependent(ctx, t.DependentID)
		if err != nil {
			return err
		}
		if d == nil || !d.Active {
			return apperr.DependentNotFound(t.DependentID)
		}
		familyID = d.FamilyID

		ok, err := ts.TransitionStatus(ctx, t.ID, model.TaskDone, model.TaskApproved, "")
		if err != nil {
			return err
		}
		if !ok {
			// Lost a race; whoever won already credited.
			cur, err := ts.GetByID(ctx, t.ID)
			if err != nil {
				return err
			}
			if cur.Status == model.TaskApproved {
				task = cur
				return nil
			}
			return apperr.InvalidStatus(cur.ID, string(cur.Status), "approve")
		}

		ref := t.ID
		balance, err = e.ledger.Apply(ctx, tx, ledger.Delta{
			DependentID: t.DependentID,
			Points:      t.Points,
			Coins:       t.Coins,
			Reason:      model.ReasonTaskApproved,
			RefID:       &ref,
		})
		if err != nil {
			return err
		}
		credited = true

		task, err = ts.GetByID(ctx, t.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("approve task: %w", err)
	}

	if !credited {
		e.logger.Debug("task already approved", "task_id", task.ID)
		return task, nil
	}

	e.logger.Info("task approved", "task_id", task.ID, "dependent_id", task.DependentID,
		"points", task.Points, "coins", task.Coins, "balance_points", balance.Points, "balance_coins", balance.Coins)
	e.notify(ctx, familyID, "approved", task, map[string]any{"points": balance.Points, "coins": balance.Coins})
	return task, nil
}

// Reject closes a task without a reward. New, in-progress and done tasks
// can be rejected; a rejected task cannot be reopened.
func (e *Engine) Reject(ctx context.Context, taskID, guardianID int64, reason string) (*model.Task, error) {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) > maxReasonLen {
		return nil, apperr.Validation("reason_too_long", fmt.Sprintf("reason must be at most %d characters", maxReasonLen))
	}

	var task *model.Task
	var familyID int64
	err := database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		ts := e.tasks.WithTx(tx)

		t, err := ts.GetByID(ctx, taskID)
		if err != nil {
			return err
		}
		if t == nil {
			return apperr.TaskNotFound(taskID)
		}
		if t.GuardianID != guardianID {
			return apperr.AccessDenied("task belongs to another guardian")
		}
		if !CanTransition(t.Status, model.TaskRejected) {
			return apperr.InvalidStatus(t.ID, string(t.Status), "reject")
		}

		ok, err := ts.TransitionStatus(ctx, t.ID, t.Status, model.TaskRejected, reason)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.InvalidStatus(t.ID, string(t.Status), "reject")
		}

		if familyID, err = e.familyOf(ctx, tx, t.DependentID); err != nil {
			return err
		}
		task, err = ts.GetByID(ctx, t.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reject task: %w", err)
	}

	e.logger.Info("task rejected", "task_id", task.ID, "dependent_id", task.DependentID, "reason", reason)
	e.notify(ctx, familyID, "rejected", task, nil)
	return task, nil
}

// List returns tasks newest first. Limit defaults to 50 and is capped at 200.
func (e *Engine) List(ctx context.Context, f Filter) ([]model.Task, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Validation("invalid_status", fmt.Sprintf("unknown status %q", f.Status))
	}
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	tasks, err := e.tasks.List(ctx, store.TaskFilter{
		DependentID: f.DependentID,
		GuardianID:  f.GuardianID,
		Status:      f.Status,
		Limit:       f.Limit,
		Offset:      f.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	return tasks, nil
}

// Get returns a task together with its latest submission, if any.
func (e *Engine) Get(ctx context.Context, taskID int64) (*model.TaskDetail, error) {
	t, err := e.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if t == nil {
		return nil, apperr.TaskNotFound(taskID)
	}
	sub, err := e.tasks.LatestSubmission(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &model.TaskDetail{Task: *t, LastSubmission: sub}, nil
}

// Pending returns the guardian's review queue: done tasks, most recently
// submitted first.
func (e *Engine) Pending(ctx context.Context, guardianID int64) ([]model.Task, error) {
	tasks, err := e.tasks.ListPending(ctx, guardianID)
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	return tasks, nil
}

func (e *Engine) Submissions(ctx context.Context, taskID int64) ([]model.Submission, error) {
	subs, err := e.tasks.ListSubmissions(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	if subs == nil {
		subs = []model.Submission{}
	}
	return subs, nil
}

func (e *Engine) familyOf(ctx context.Context, tx *sql.Tx, dependentID int64) (int64, error) {
	d, err := e.families.WithTx(tx).GetDependent(ctx, dependentID)
	if err != nil {
		return 0, err
	}
	if d == nil {
		return 0, apperr.DependentNotFound(dependentID)
	}
	return d.FamilyID, nil
}

func (e *Engine) notify(ctx context.Context, familyID int64, action string, t *model.Task, extra map[string]any) {
	if extra == nil {
		extra = map[string]any{}
	}
	extra["guardian_id"] = t.GuardianID
	extra["title"] = t.Title
	extra["status"] = string(t.Status)
	e.notifier.Notify(ctx, notify.Event{
		FamilyID:    familyID,
		DependentID: t.DependentID,
		Entity:      "task",
		Action:      action,
		ID:          t.ID,
		Extra:       extra,
	})
}
