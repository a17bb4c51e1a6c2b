package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/famhabit/internal/auth"
)

// HandleWebSocket upgrades an authenticated request and runs it as a hub
// client for the caller's family. originPatterns restricts cross-origin
// browsers; empty means same-origin only.
func HandleWebSocket(hub *Hub, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.FromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{OriginPatterns: originPatterns})
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}

		logger.Debug("websocket connected", "family_id", id.FamilyID, "role", id.Role, "subject_id", id.SubjectID)
		NewClient(hub, conn, id).Run(r.Context())
	}
}
