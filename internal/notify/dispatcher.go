package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/famhabit/internal/model"
	"github.com/dukerupert/famhabit/internal/push"
	"github.com/dukerupert/famhabit/internal/store"
	"github.com/dukerupert/famhabit/internal/websocket"
)

const pushTimeout = 10 * time.Second

// Broadcaster is the part of the websocket hub the dispatcher needs.
type Broadcaster interface {
	Broadcast(familyID int64, msg websocket.Message)
}

// Dispatcher sends every event to the family's live websocket feed and
// pushes the ones guardians care about to their browsers. Push delivery
// runs in the background so a slow push service never delays a response.
type Dispatcher struct {
	hub    Broadcaster
	sender push.Sender
	subs   *store.PushStore
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewDispatcher wires the hub and push delivery. A nil sender disables push.
func NewDispatcher(hub Broadcaster, sender push.Sender, subs *store.PushStore, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{hub: hub, sender: sender, subs: subs, logger: logger.With("component", "notify")}
}

func (d *Dispatcher) Notify(ctx context.Context, e Event) {
	msg := websocket.NewMessage(e.Entity, e.Action, e.ID, e.Extra)
	msg.DependentID = e.DependentID
	d.hub.Broadcast(e.FamilyID, msg)

	payload, ok := guardianPayload(e)
	if !ok || d.sender == nil {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
		defer cancel()
		d.pushFamily(ctx, e.FamilyID, payload)
	}()
}

// Wait blocks until background push deliveries have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) pushFamily(ctx context.Context, familyID int64, payload push.Payload) {
	subs, err := d.subs.ListByFamily(ctx, familyID)
	if err != nil {
		d.logger.Error("list push subscriptions", "family_id", familyID, "error", err)
		return
	}
	for i := range subs {
		push.SendOrPrune(ctx, d.sender, d.subs, &subs[i], payload, d.logger)
	}
}

// guardianPayload maps the events guardians are pushed about.
func guardianPayload(e Event) (push.Payload, bool) {
	title, _ := e.Extra["title"].(string)
	switch {
	case e.Entity == "task" && e.Action == "submitted":
		return push.Payload{
			Title: "Task ready for review",
			Body:  fmt.Sprintf("%q was marked done", title),
			URL:   fmt.Sprintf("/tasks/%d", e.ID),
			Tag:   model.NotifTaskSubmitted,
		}, true
	case e.Entity == "purchase" && e.Action == "made":
		cost, _ := e.Extra["cost_coins"].(int)
		return push.Payload{
			Title: "New purchase",
			Body:  fmt.Sprintf("%s bought for %d coins", title, cost),
			URL:   "/shop/purchases",
			Tag:   model.NotifPurchaseMade,
		}, true
	}
	return push.Payload{}, false
}
