// Package handler exposes the engines over JSON HTTP.
package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/famhabit/internal/apperr"
	"github.com/dukerupert/famhabit/internal/auth"
	"github.com/dukerupert/famhabit/internal/family"
	"github.com/dukerupert/famhabit/internal/middleware"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to their status and hides everything else
// behind a logged 500.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if e, ok := apperr.As(err); ok {
		writeJSON(w, statusFor(e.Kind), errorBody{Error: e.Message, Code: e.Code, Details: e.Details})
		return
	}
	logger.Error("request failed", "method", r.Method, "path", r.URL.Path,
		"request_id", middleware.RequestIDFrom(r.Context()), "error", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindAccessDenied, apperr.KindFamilyMismatch:
		return http.StatusForbidden
	case apperr.KindValidation, apperr.KindInsufficientFunds, apperr.KindItemInactive:
		return http.StatusBadRequest
	case apperr.KindInvalidStatus, apperr.KindAlreadySubmitted:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func badRequest(w http.ResponseWriter, code, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: code})
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid_json", "invalid JSON")
		return false
	}
	return true
}

func parseIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Validation("invalid_"+name, fmt.Sprintf("%s must be a number", name))
	}
	return n, nil
}

// identity returns the caller set by middleware.RequireAuth.
func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

// targetDependent picks the dependent a read refers to: dependents always
// address themselves; guardians name one with ?dependent_id= from their
// own family.
func targetDependent(r *http.Request, families *family.Service) (int64, error) {
	id := identity(r)
	raw := r.URL.Query().Get("dependent_id")

	var dependentID int64
	switch {
	case raw != "":
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, apperr.Validation("invalid_dependent_id", "dependent_id must be a number")
		}
		dependentID = n
	case id.Role == auth.RoleDependent:
		dependentID = id.SubjectID
	default:
		return 0, apperr.Validation("dependent_id_required", "dependent_id is required")
	}

	if err := families.AuthorizeDependent(r.Context(), id, dependentID); err != nil {
		return 0, err
	}
	return dependentID, nil
}

// pathID parses {id} and writes the 400 itself on failure.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := parseIDParam(r)
	if err != nil || id <= 0 {
		badRequest(w, "invalid_id", "invalid id")
		return 0, false
	}
	return id, true
}
