package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/famhabit/internal/family"
)

type FamilyHandler struct {
	families *family.Service
	logger   *slog.Logger
}

func NewFamilyHandler(fs *family.Service, logger *slog.Logger) *FamilyHandler {
	return &FamilyHandler{families: fs, logger: logger}
}

// Stats handles GET /api/family/stats
func (h *FamilyHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.families.Stats(r.Context(), identity(r).SubjectID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type guardianRequest struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
}

// AddGuardian handles POST /api/guardians. The new guardian joins the
// caller's family.
func (h *FamilyHandler) AddGuardian(w http.ResponseWriter, r *http.Request) {
	var req guardianRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	g, err := h.families.AddGuardian(r.Context(), identity(r).FamilyID, req.ExternalID, req.Name)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// ListDependents handles GET /api/dependents
func (h *FamilyHandler) ListDependents(w http.ResponseWriter, r *http.Request) {
	deps, err := h.families.Dependents(r.Context(), identity(r).SubjectID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, deps)
}

type dependentRequest struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// AddDependent handles POST /api/dependents
func (h *FamilyHandler) AddDependent(w http.ResponseWriter, r *http.Request) {
	var req dependentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := h.families.AddDependent(r.Context(), identity(r).SubjectID, req.Name, req.Avatar)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// GetDependent handles GET /api/dependents/{id}
func (h *FamilyHandler) GetDependent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	d, err := h.families.Dependent(r.Context(), identity(r).SubjectID, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type updateDependentRequest struct {
	Name   *string `json:"name"`
	Avatar *string `json:"avatar"`
}

// UpdateDependent handles PUT /api/dependents/{id}. Omitted fields are
// left unchanged.
func (h *FamilyHandler) UpdateDependent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateDependentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := h.families.UpdateDependent(r.Context(), identity(r).SubjectID, id, family.DependentUpdate{
		Name:   req.Name,
		Avatar: req.Avatar,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// DeactivateDependent handles DELETE /api/dependents/{id}. History is kept;
// the dependent just stops appearing and can no longer sign in.
func (h *FamilyHandler) DeactivateDependent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.families.DeactivateDependent(r.Context(), identity(r).SubjectID, id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type pinRequest struct {
	PIN string `json:"pin"`
}

// SetPIN handles POST /api/dependents/{id}/pin
func (h *FamilyHandler) SetPIN(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req pinRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.families.SetPIN(r.Context(), identity(r).SubjectID, id, req.PIN); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearPIN handles DELETE /api/dependents/{id}/pin
func (h *FamilyHandler) ClearPIN(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.families.ClearPIN(r.Context(), identity(r).SubjectID, id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
