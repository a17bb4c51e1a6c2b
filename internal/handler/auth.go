package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/famhabit/internal/auth"
	"github.com/dukerupert/famhabit/internal/family"
	"github.com/dukerupert/famhabit/internal/model"
)

const registrationKeyHeader = "X-Registration-Key"

type AuthHandler struct {
	families        *family.Service
	tokens          *auth.Tokens
	registrationKey string
	logger          *slog.Logger
}

// NewAuthHandler builds the token endpoints. When registrationKey is set,
// registration must present it in the X-Registration-Key header.
func NewAuthHandler(fs *family.Service, tokens *auth.Tokens, registrationKey string, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{families: fs, tokens: tokens, registrationKey: registrationKey, logger: logger}
}

type registerRequest struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
}

type tokenResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Identity  auth.Identity   `json:"identity"`
	Guardian  *model.Guardian `json:"guardian,omitempty"`
	Created   bool            `json:"created,omitempty"`
}

// Register handles POST /api/register. The first call for an external id
// creates a family; later calls log the same guardian in again.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if h.registrationKey != "" {
		got := r.Header.Get(registrationKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.registrationKey)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid registration key", Code: "unauthorized"})
			return
		}
	}

	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	g, created, err := h.families.RegisterGuardian(r.Context(), req.ExternalID, req.Name)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	id := auth.Identity{Role: auth.RoleGuardian, SubjectID: g.ID, FamilyID: g.FamilyID}
	token, exp, err := h.tokens.Issue(id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, tokenResponse{Token: token, ExpiresAt: exp, Identity: id, Guardian: g, Created: created})
}

// Me handles GET /api/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, identity(r))
}

// DependentToken handles POST /api/dependents/{id}/token. A guardian mints
// the token a child's device uses.
func (h *AuthHandler) DependentToken(w http.ResponseWriter, r *http.Request) {
	dependentID, ok := pathID(w, r)
	if !ok {
		return
	}

	d, err := h.families.Dependent(r.Context(), identity(r).SubjectID, dependentID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	id := auth.Identity{Role: auth.RoleDependent, SubjectID: d.ID, FamilyID: d.FamilyID}
	token, exp, err := h.tokens.Issue(id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.logger.Info("dependent token issued", "dependent_id", d.ID, "guardian_id", identity(r).SubjectID)
	writeJSON(w, http.StatusCreated, tokenResponse{Token: token, ExpiresAt: exp, Identity: id})
}
