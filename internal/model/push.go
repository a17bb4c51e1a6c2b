package model

import "time"

// Notification kinds sent to guardians.
const (
	NotifTaskSubmitted = "task_submitted"
	NotifPurchaseMade  = "purchase_made"
	// NotifApprovalReminder nudges guardians about work left in review.
	NotifApprovalReminder = "approval_reminder"
)

type PushSubscription struct {
	ID         int64     `json:"id"`
	GuardianID int64     `json:"guardian_id"`
	FamilyID   int64     `json:"family_id"`
	Endpoint   string    `json:"endpoint"`
	P256dhKey  string    `json:"p256dh_key"`
	AuthKey    string    `json:"auth_key"`
	DeviceName string    `json:"device_name"`
	CreatedAt  time.Time `json:"created_at"`
}
