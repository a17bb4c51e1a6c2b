package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/famhabit/internal/model"
	"github.com/dukerupert/famhabit/internal/store"
)

// Sender delivers one payload to one subscription.
type Sender interface {
	Send(ctx context.Context, sub *model.PushSubscription, payload Payload) error
}

const sentRetention = 30 * 24 * time.Hour

// Scheduler periodically reminds guardians about submitted tasks that have
// waited longer than the configured delay.
type Scheduler struct {
	mu       sync.RWMutex
	sender   Sender
	push     *store.PushStore
	tasks    *store.TaskStore
	after    time.Duration
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewScheduler creates a reminder scheduler.
func NewScheduler(sender Sender, pushStore *store.PushStore, taskStore *store.TaskStore, after time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		sender:   sender,
		push:     pushStore,
		tasks:    taskStore,
		after:    after,
		interval: 5 * time.Minute,
		logger:   logger.With("component", "push_scheduler"),
		now:      time.Now,
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Tick runs one reminder pass. Each task is reminded at most once.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now().UTC()
	waiting, err := s.tasks.ListAwaitingReview(ctx, now.Add(-s.after))
	if err != nil {
		s.logger.Error("list tasks awaiting review", "error", err)
		return
	}

	for _, w := range waiting {
		if err := s.remind(ctx, w); err != nil {
			s.logger.Error("approval reminder", "task_id", w.Task.ID, "error", err)
		}
	}

	if err := s.push.CleanupSent(ctx, now.Add(-sentRetention)); err != nil {
		s.logger.Error("cleanup sent notifications", "error", err)
	}
}

func (s *Scheduler) remind(ctx context.Context, w store.AwaitingReview) error {
	refID := fmt.Sprintf("task-%d", w.Task.ID)
	sent, err := s.push.WasSent(ctx, w.FamilyID, model.NotifApprovalReminder, refID)
	if err != nil {
		return err
	}
	if sent {
		return nil
	}

	subs, err := s.push.ListByFamily(ctx, w.FamilyID)
	if err != nil {
		return err
	}

	payload := Payload{
		Title:  "Waiting for your review",
		Body:   fmt.Sprintf("%q is ready to approve", w.Task.Title),
		URL:    fmt.Sprintf("/tasks/%d", w.Task.ID),
		Tag:    refID,
		Urgent: true,
	}
	for i := range subs {
		SendOrPrune(ctx, s.sender, s.push, &subs[i], payload, s.logger)
	}

	s.logger.Info("approval reminder sent", "task_id", w.Task.ID, "family_id", w.FamilyID, "subscriptions", len(subs))
	return s.push.RecordSent(ctx, w.FamilyID, model.NotifApprovalReminder, refID)
}

// SendOrPrune sends payload and deletes the subscription when the push
// service reports it gone.
func SendOrPrune(ctx context.Context, sender Sender, ps *store.PushStore, sub *model.PushSubscription, payload Payload, logger *slog.Logger) {
	err := sender.Send(ctx, sub, payload)
	if err == nil {
		return
	}
	if errors.Is(err, ErrExpired) {
		if err := ps.DeleteByEndpoint(ctx, sub.Endpoint); err != nil {
			logger.Error("delete expired subscription", "subscription_id", sub.ID, "error", err)
			return
		}
		logger.Info("expired subscription removed", "subscription_id", sub.ID)
		return
	}
	logger.Warn("send push", "subscription_id", sub.ID, "error", err)
}
