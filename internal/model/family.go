package model

import "time"

type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

type Family struct {
	ID        int64     `json:"id"`
	Plan      Plan      `json:"plan"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Guardian struct {
	ID         int64     `json:"id"`
	FamilyID   int64     `json:"family_id"`
	ExternalID string    `json:"external_id"`
	Name       string    `json:"name"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Dependent is a child in a family. Points and Coins are the materialized
// balance; only the ledger engine writes them.
type Dependent struct {
	ID         int64     `json:"id"`
	FamilyID   int64     `json:"family_id"`
	ExternalID *string   `json:"external_id,omitempty"`
	Name       string    `json:"name"`
	Avatar     string    `json:"avatar"`
	Points     int       `json:"points"`
	Coins      int       `json:"coins"`
	HasPIN     bool      `json:"has_pin"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

type DependentStats struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Points      int    `json:"points"`
	Coins       int    `json:"coins"`
	HasExternal bool   `json:"has_external"`
}

type FamilyStats struct {
	FamilyID      int64            `json:"family_id"`
	Dependents    int              `json:"dependents_count"`
	TasksCreated  int              `json:"tasks_created"`
	TotalPoints   int              `json:"total_points"`
	TotalCoins    int              `json:"total_coins"`
	DependentRows []DependentStats `json:"dependents"`
}
