package model

import "time"

type ShopItem struct {
	ID          int64     `json:"id"`
	SKU         string    `json:"sku"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	PriceCoins  int       `json:"price_coins"`
	ImageURL    string    `json:"image_url,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Purchase is a receipt. CostCoins is fixed at sale time and does not
// follow later price changes on the item.
type Purchase struct {
	ID             int64     `json:"id"`
	DependentID    int64     `json:"dependent_id"`
	ItemID         int64     `json:"item_id"`
	CostCoins      int       `json:"cost_coins"`
	ItemTitle      string    `json:"item_title"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Item           *ShopItem `json:"item,omitempty"`
}
