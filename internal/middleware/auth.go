package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/famhabit/internal/apperr"
	"github.com/dukerupert/famhabit/internal/auth"
)

// Resolver confirms that a token's subject still exists and is active.
type Resolver interface {
	Resolve(ctx context.Context, role auth.Role, subjectID int64) (auth.Identity, error)
}

// RequireAuth validates the bearer token and populates the request Identity.
// The token may also arrive as an access_token query parameter, which is
// what browsers can send when opening a websocket.
func RequireAuth(tokens *auth.Tokens, resolver Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				unauthorized(w, "missing bearer token")
				return
			}

			claimed, err := tokens.Parse(raw)
			if err != nil {
				unauthorized(w, "invalid or expired token")
				return
			}

			id, err := resolver.Resolve(r.Context(), claimed.Role, claimed.SubjectID)
			if err != nil {
				if apperr.KindOf(err) == "" {
					logger.Error("resolve identity", "error", err)
					writeJSONError(w, http.StatusInternalServerError, "internal", "internal error")
					return
				}
				unauthorized(w, "account is no longer active")
				return
			}

			ctx := auth.WithIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireGuardian checks that the authenticated caller is a guardian.
func RequireGuardian(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsGuardian(r.Context()) {
			writeJSONError(w, http.StatusForbidden, "access_denied", "guardian access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireDependent checks that the authenticated caller is a dependent.
func RequireDependent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsDependent(r.Context()) {
			writeJSONError(w, http.StatusForbidden, "access_denied", "dependent access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("access_token")
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="famhabit"`)
	writeJSONError(w, http.StatusUnauthorized, "unauthorized", msg)
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}
