package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/famhabit/internal/auth"
	"github.com/dukerupert/famhabit/internal/family"
	"github.com/dukerupert/famhabit/internal/model"
	"github.com/dukerupert/famhabit/internal/task"
)

type TaskHandler struct {
	tasks    *task.Engine
	families *family.Service
	logger   *slog.Logger
}

func NewTaskHandler(te *task.Engine, fs *family.Service, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{tasks: te, families: fs, logger: logger}
}

type createTaskRequest struct {
	DependentID  int64      `json:"dependent_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	EvidenceType string     `json:"evidence_type"`
	Points       int        `json:"points"`
	Coins        int        `json:"coins"`
	DueAt        *time.Time `json:"due_at"`
}

// Create handles POST /api/tasks
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	t, err := h.tasks.Create(r.Context(), task.CreateParams{
		GuardianID:   identity(r).SubjectID,
		DependentID:  req.DependentID,
		Title:        req.Title,
		Description:  req.Description,
		EvidenceType: model.EvidenceType(req.EvidenceType),
		Points:       req.Points,
		Coins:        req.Coins,
		DueAt:        req.DueAt,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

type updateTaskRequest struct {
	Title        *string    `json:"title"`
	Description  *string    `json:"description"`
	EvidenceType *string    `json:"evidence_type"`
	Points       *int       `json:"points"`
	Coins        *int       `json:"coins"`
	DueAt        *time.Time `json:"due_at"`
}

// Update handles PUT /api/tasks/{id}. Omitted fields are left as they are;
// only tasks that have not been submitted can be edited.
func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p := task.UpdateParams{
		TaskID:      taskID,
		GuardianID:  identity(r).SubjectID,
		Title:       req.Title,
		Description: req.Description,
		Points:      req.Points,
		Coins:       req.Coins,
		DueAt:       req.DueAt,
	}
	if req.EvidenceType != nil {
		et := model.EvidenceType(*req.EvidenceType)
		p.EvidenceType = &et
	}

	t, err := h.tasks.Update(r.Context(), p)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// List handles GET /api/tasks. Dependents see their own tasks; guardians
// see the tasks they assigned, or one dependent's with ?dependent_id=.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	q := r.URL.Query()

	f := task.Filter{Status: model.TaskStatus(q.Get("status"))}
	var err error
	if f.Limit, err = queryInt(r, "limit", 0); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if f.Offset, err = queryInt(r, "offset", 0); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if id.Role == auth.RoleDependent || q.Get("dependent_id") != "" {
		if f.DependentID, err = targetDependent(r, h.families); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	} else {
		f.GuardianID = id.SubjectID
	}

	tasks, err := h.tasks.List(r.Context(), f)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// Pending handles GET /api/tasks/pending
func (h *TaskHandler) Pending(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.tasks.Pending(r.Context(), identity(r).SubjectID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// Get handles GET /api/tasks/{id}
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(w, r)
	if !ok {
		return
	}
	detail, err := h.tasks.Get(r.Context(), taskID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.families.AuthorizeDependent(r.Context(), identity(r), detail.DependentID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// Submissions handles GET /api/tasks/{id}/submissions
func (h *TaskHandler) Submissions(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(w, r)
	if !ok {
		return
	}
	detail, err := h.tasks.Get(r.Context(), taskID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.families.AuthorizeDependent(r.Context(), identity(r), detail.DependentID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	subs, err := h.tasks.Submissions(r.Context(), taskID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

type submitRequest struct {
	Note     string `json:"note"`
	MediaRef string `json:"media_ref"`
}

// Submit handles POST /api/tasks/{id}/submit
func (h *TaskHandler) Submit(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	t, err := h.tasks.Submit(r.Context(), task.SubmitParams{
		TaskID:      taskID,
		DependentID: identity(r).SubjectID,
		Note:        req.Note,
		MediaRef:    req.MediaRef,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Approve handles POST /api/tasks/{id}/approve. Repeating it is safe.
func (h *TaskHandler) Approve(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(w, r)
	if !ok {
		return
	}
	t, err := h.tasks.Approve(r.Context(), taskID, identity(r).SubjectID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// Reject handles POST /api/tasks/{id}/reject. The body is optional.
func (h *TaskHandler) Reject(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	t, err := h.tasks.Reject(r.Context(), taskID, identity(r).SubjectID, req.Reason)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

