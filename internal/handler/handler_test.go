package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/famhabit/internal/apperr"
	"github.com/dukerupert/famhabit/internal/testutil"
)

func TestWriteErrorStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{"not found", apperr.TaskNotFound(1), http.StatusNotFound, "task_not_found"},
		{"access denied", apperr.AccessDenied("no"), http.StatusForbidden, "access_denied"},
		{"family mismatch", apperr.FamilyMismatch(1, 2), http.StatusForbidden, "family_mismatch"},
		{"validation", apperr.Validation("invalid_title", "bad"), http.StatusBadRequest, "invalid_title"},
		{"insufficient", apperr.InsufficientFunds(5, 1), http.StatusBadRequest, "insufficient_funds"},
		{"inactive", apperr.ItemInactive(3), http.StatusBadRequest, "item_not_available"},
		{"invalid status", apperr.InvalidStatus(1, "new", "approve"), http.StatusConflict, "invalid_status"},
		{"already submitted", apperr.AlreadySubmitted(1), http.StatusConflict, "task_already_submitted"},
		{"wrapped", fmt.Errorf("approve: %w", apperr.TaskNotFound(9)), http.StatusNotFound, "task_not_found"},
		{"infrastructure", errors.New("disk I/O error"), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			writeError(rec, req, testutil.Logger(), tt.err)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			var body errorBody
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Code != tt.wantBody {
				t.Errorf("code = %q, want %q", body.Code, tt.wantBody)
			}
		})
	}
}

func TestWriteErrorHidesInfrastructureMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	writeError(rec, req, testutil.Logger(), errors.New("database is locked"))

	var body errorBody
	json.NewDecoder(rec.Body).Decode(&body)
	if body.Error != "internal error" {
		t.Errorf("error = %q, leaked infrastructure detail", body.Error)
	}
}

func TestInsufficientFundsDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/shop/purchase", nil)
	writeError(rec, req, testutil.Logger(), apperr.InsufficientFunds(5, 4))

	var body errorBody
	json.NewDecoder(rec.Body).Decode(&body)
	if body.Details["required"] != float64(5) || body.Details["available"] != float64(4) {
		t.Errorf("details = %v", body.Details)
	}
}

func TestParseIDParam(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/tasks/42", nil)
	req.SetPathValue("id", "42")
	id, err := parseIDParam(req)
	if err != nil || id != 42 {
		t.Errorf("parseIDParam = %d, %v", id, err)
	}

	req.SetPathValue("id", "abc")
	if _, err := parseIDParam(req); err == nil {
		t.Error("expected error for non-numeric id")
	}
}
