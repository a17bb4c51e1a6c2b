// Package push delivers Web Push notifications to guardians' browsers.
package push

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/dukerupert/famhabit/internal/model"
)

// ErrExpired means the push service no longer knows the subscription and
// it should be pruned.
var ErrExpired = errors.New("push subscription expired")

// messageTTL is how long a push service holds an undelivered message.
// A review prompt older than a day is stale.
const messageTTL = 24 * 60 * 60

// Payload is the notification body the service worker renders.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`

	// Urgent asks the push service to wake the device right away.
	Urgent bool `json:"-"`
}

func (p Payload) urgency() webpush.Urgency {
	if p.Urgent {
		return webpush.UrgencyHigh
	}
	return webpush.UrgencyNormal
}

// Service handles sending web push notifications.
type Service struct {
	publicKey  string
	privateKey string
	subscriber string
}

// NewService creates a push service with VAPID keys. subscriber is the
// mailto: or https: contact push services may use to reach the operator.
func NewService(publicKey, privateKey, subscriber string) *Service {
	return &Service{
		publicKey:  publicKey,
		privateKey: privateKey,
		subscriber: subscriber,
	}
}

// VAPIDPublicKey returns the VAPID public key for client-side subscription.
func (s *Service) VAPIDPublicKey() string {
	return s.publicKey
}

// Enabled reports whether VAPID keys are configured.
func (s *Service) Enabled() bool {
	return s.publicKey != "" && s.privateKey != ""
}

// Send encrypts payload for one guardian device and hands it to the
// subscription's push service. A 404 or 410 answer yields ErrExpired.
func (s *Service) Send(ctx context.Context, sub *model.PushSubscription, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode push payload: %w", err)
	}

	target := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256dhKey, Auth: sub.AuthKey},
	}
	opts := &webpush.Options{
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             messageTTL,
		Urgency:         payload.urgency(),
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, target, opts)
	if err != nil {
		return fmt.Errorf("deliver push to subscription %d: %w", sub.ID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return ErrExpired
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("push service rejected subscription %d: status %d", sub.ID, resp.StatusCode)
	}
	return nil
}

// GenerateVAPIDKeys returns a fresh P-256 key pair encoded the way
// FAMHABIT_VAPID_PUBLIC_KEY and FAMHABIT_VAPID_PRIVATE_KEY expect:
// the uncompressed public point and the raw private scalar, both base64url.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate vapid key: %w", err)
	}
	point := elliptic.Marshal(elliptic.P256(), key.X, key.Y)
	scalar := key.D.FillBytes(make([]byte, 32))
	return base64.RawURLEncoding.EncodeToString(point), base64.RawURLEncoding.EncodeToString(scalar), nil
}
