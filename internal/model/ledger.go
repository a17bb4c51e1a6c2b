package model

import "time"

// Ledger reasons written by the engines.
const (
	ReasonTaskApproved = "task_approved"
	ReasonShopPurchase = "shop_purchase"
)

// LedgerEntry records the requested delta of one balance mutation. The
// applied delta may be smaller when the balance was floored at zero.
type LedgerEntry struct {
	ID          int64     `json:"id"`
	DependentID int64     `json:"dependent_id"`
	DeltaPoints int       `json:"delta_points"`
	DeltaCoins  int       `json:"delta_coins"`
	Reason      string    `json:"reason"`
	RefID       *int64    `json:"ref_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type Balance struct {
	DependentID int64 `json:"dependent_id"`
	Points      int   `json:"points"`
	Coins       int   `json:"coins"`
}

type LedgerStats struct {
	Balance
	PointsEarned int `json:"total_points_earned"`
	CoinsEarned  int `json:"total_coins_earned"`
	CoinsSpent   int `json:"coins_spent"`
}
