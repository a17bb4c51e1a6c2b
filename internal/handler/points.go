package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/famhabit/internal/family"
	"github.com/dukerupert/famhabit/internal/ledger"
)

type PointsHandler struct {
	ledger   *ledger.Engine
	families *family.Service
	logger   *slog.Logger
}

func NewPointsHandler(le *ledger.Engine, fs *family.Service, logger *slog.Logger) *PointsHandler {
	return &PointsHandler{ledger: le, families: fs, logger: logger}
}

// Balance handles GET /api/points/balance
func (h *PointsHandler) Balance(w http.ResponseWriter, r *http.Request) {
	dependentID, err := targetDependent(r, h.families)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	b, err := h.ledger.Balance(r.Context(), dependentID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Ledger handles GET /api/points/ledger?limit=&offset=
func (h *PointsHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	dependentID, err := targetDependent(r, h.families)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	entries, err := h.ledger.Entries(r.Context(), dependentID, limit, offset)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// Stats handles GET /api/points/stats
func (h *PointsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	dependentID, err := targetDependent(r, h.families)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	stats, err := h.ledger.Stats(r.Context(), dependentID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Verify handles GET /api/points/verify. It replays the ledger and reports
// whether the stored balance matches.
func (h *PointsHandler) Verify(w http.ResponseWriter, r *http.Request) {
	dependentID, err := targetDependent(r, h.families)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	rec, err := h.ledger.Verify(r.Context(), dependentID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if !rec.Consistent {
		h.logger.Warn("ledger drift detected", "dependent_id", dependentID,
			"expected_points", rec.Expected.Points, "actual_points", rec.Actual.Points,
			"expected_coins", rec.Expected.Coins, "actual_coins", rec.Actual.Coins)
	}
	writeJSON(w, http.StatusOK, rec)
}

type adjustRequest struct {
	DependentID int64  `json:"dependent_id"`
	Points      int    `json:"points"`
	Coins       int    `json:"coins"`
	Reason      string `json:"reason"`
}

// Adjust handles POST /api/points/adjust: a manual bonus or penalty.
func (h *PointsHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.families.AuthorizeDependent(r.Context(), identity(r), req.DependentID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	b, err := h.ledger.AddDelta(r.Context(), ledger.Delta{
		DependentID: req.DependentID,
		Points:      req.Points,
		Coins:       req.Coins,
		Reason:      req.Reason,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
