package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/famhabit/internal/auth"
	"github.com/dukerupert/famhabit/internal/family"
	"github.com/dukerupert/famhabit/internal/shop"
)

const idempotencyKeyHeader = "Idempotency-Key"

type ShopHandler struct {
	shop     *shop.Engine
	families *family.Service
	logger   *slog.Logger
}

func NewShopHandler(se *shop.Engine, fs *family.Service, logger *slog.Logger) *ShopHandler {
	return &ShopHandler{shop: se, families: fs, logger: logger}
}

// Items handles GET /api/shop/items. Guardians may pass ?all=true to
// include retired items.
func (h *ShopHandler) Items(w http.ResponseWriter, r *http.Request) {
	list := h.shop.ListActiveItems
	if auth.IsGuardian(r.Context()) && r.URL.Query().Get("all") == "true" {
		list = h.shop.ListItems
	}
	items, err := list(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

type itemRequest struct {
	SKU         string `json:"sku"`
	Title       string `json:"title"`
	Description string `json:"description"`
	PriceCoins  int    `json:"price_coins"`
	ImageURL    string `json:"image_url"`
	Active      *bool  `json:"active"`
}

func (req itemRequest) params() shop.ItemParams {
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return shop.ItemParams{
		SKU:         req.SKU,
		Title:       req.Title,
		Description: req.Description,
		PriceCoins:  req.PriceCoins,
		ImageURL:    req.ImageURL,
		Active:      active,
	}
}

// CreateItem handles POST /api/shop/items
func (h *ShopHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, err := h.shop.CreateItem(r.Context(), req.params())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// UpdateItem handles PUT /api/shop/items/{id}. Past receipts keep the
// price they were sold at.
func (h *ShopHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req itemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, err := h.shop.UpdateItem(r.Context(), id, req.params())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type purchaseRequest struct {
	ItemID int64  `json:"item_id"`
	PIN    string `json:"pin"`
}

// Purchase handles POST /api/shop/purchase. A retry with the same
// Idempotency-Key returns the original receipt without charging again.
func (h *ShopHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	dependentID := identity(r).SubjectID

	if err := h.families.VerifyPIN(r.Context(), dependentID, req.PIN); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	p, err := h.shop.Purchase(r.Context(), shop.PurchaseParams{
		DependentID:    dependentID,
		ItemID:         req.ItemID,
		IdempotencyKey: r.Header.Get(idempotencyKeyHeader),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// Purchases handles GET /api/shop/purchases
func (h *ShopHandler) Purchases(w http.ResponseWriter, r *http.Request) {
	dependentID, err := targetDependent(r, h.families)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	purchases, err := h.shop.ListPurchases(r.Context(), dependentID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, purchases)
}
