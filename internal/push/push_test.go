package push

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/famhabit/internal/model"
)

func TestGenerateVAPIDKeys(t *testing.T) {
	pub, priv, err := GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("generate VAPID keys: %v", err)
	}

	// Public key should be base64url-encoded, 65 bytes uncompressed P-256 point
	pubBytes, err := base64.RawURLEncoding.DecodeString(pub)
	if err != nil {
		t.Fatalf("decode public key: %v", err)
	}
	if len(pubBytes) != 65 {
		t.Errorf("public key length = %d, want 65", len(pubBytes))
	}

	// Private key should be base64url-encoded, 32 bytes P-256 scalar
	privBytes, err := base64.RawURLEncoding.DecodeString(priv)
	if err != nil {
		t.Fatalf("decode private key: %v", err)
	}
	if len(privBytes) != 32 {
		t.Errorf("private key length = %d, want 32", len(privBytes))
	}

	pub2, _, _ := GenerateVAPIDKeys()
	if pub == pub2 {
		t.Error("expected different keys on second generation")
	}
}

func TestEnabled(t *testing.T) {
	if NewService("", "", "mailto:a@b.c").Enabled() {
		t.Error("expected disabled without keys")
	}
	if !NewService("pub", "priv", "mailto:a@b.c").Enabled() {
		t.Error("expected enabled with keys")
	}
}

// browserKeys returns a valid subscription key pair as a browser would.
func browserKeys(t *testing.T) (p256dh, authSecret string) {
	t.Helper()
	pub, _, err := GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}
	return pub, base64.RawURLEncoding.EncodeToString([]byte("0123456789abcdef"))
}

func TestSendStatuses(t *testing.T) {
	pub, priv, err := GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}
	svc := NewService(pub, priv, "mailto:test@famhabit.app")
	p256dh, authSecret := browserKeys(t)

	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"created", http.StatusCreated, func(err error) bool { return err == nil }},
		{"gone", http.StatusGone, func(err error) bool { return errors.Is(err, ErrExpired) }},
		{"server error", http.StatusInternalServerError, func(err error) bool {
			return err != nil && !errors.Is(err, ErrExpired)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") == "" {
					t.Error("expected VAPID authorization header")
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			sub := &model.PushSubscription{Endpoint: srv.URL, P256dhKey: p256dh, AuthKey: authSecret}
			err := svc.Send(context.Background(), sub, Payload{Title: "Task submitted", Body: "Dishes"})
			if !tt.check(err) {
				t.Errorf("send err = %v", err)
			}
		})
	}
}

func TestSendUrgency(t *testing.T) {
	pub, priv, err := GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}
	svc := NewService(pub, priv, "mailto:test@famhabit.app")
	p256dh, authSecret := browserKeys(t)

	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("Urgency"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sub := &model.PushSubscription{Endpoint: srv.URL, P256dhKey: p256dh, AuthKey: authSecret}
	if err := svc.Send(context.Background(), sub, Payload{Title: "Task submitted"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := svc.Send(context.Background(), sub, Payload{Title: "Waiting for your review", Urgent: true}); err != nil {
		t.Fatalf("send urgent: %v", err)
	}
	if len(got) != 2 || got[0] != "normal" || got[1] != "high" {
		t.Errorf("urgency headers = %v, want [normal high]", got)
	}
}
