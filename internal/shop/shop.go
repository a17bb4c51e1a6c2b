// Package shop sells catalog items for coins. A purchase checks and debits
// the balance in one transaction, so two purchases that can only be
// afforded once never both succeed.
package shop

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/dukerupert/famhabit/internal/apperr"
	"github.com/dukerupert/famhabit/internal/database"
	"github.com/dukerupert/famhabit/internal/ledger"
	"github.com/dukerupert/famhabit/internal/model"
	"github.com/dukerupert/famhabit/internal/notify"
	"github.com/dukerupert/famhabit/internal/store"
)

const (
	maxSKULen         = 32
	maxTitleLen       = 120
	maxDescriptionLen = 1000
	maxImageURLLen    = 512
	maxKeyLen         = 64
)

type PurchaseParams struct {
	DependentID int64
	ItemID      int64
	// IdempotencyKey, when set, makes a retried purchase return the first
	// receipt instead of charging again.
	IdempotencyKey string
}

type ItemParams struct {
	SKU         string
	Title       string
	Description string
	PriceCoins  int
	ImageURL    string
	Active      bool
}

type Engine struct {
	db       *sql.DB
	shop     *store.ShopStore
	families *store.FamilyStore
	ledger   *ledger.Engine
	notifier notify.Notifier
	logger   *slog.Logger
}

func NewEngine(db *sql.DB, ss *store.ShopStore, fs *store.FamilyStore, le *ledger.Engine, notifier notify.Notifier, logger *slog.Logger) *Engine {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Engine{db: db, shop: ss, families: fs, ledger: le, notifier: notifier, logger: logger.With("component", "shop")}
}

// Purchase debits the item's current price from the dependent's coins and
// records a receipt with that price.
func (e *Engine) Purchase(ctx context.Context, p PurchaseParams) (*model.Purchase, error) {
	p.IdempotencyKey = strings.TrimSpace(p.IdempotencyKey)
	if len(p.IdempotencyKey) > maxKeyLen {
		return nil, apperr.Validation("invalid_idempotency_key",
			fmt.Sprintf("idempotency key must be at most %d characters", maxKeyLen))
	}

	var purchase *model.Purchase
	var item *model.ShopItem
	var balance model.Balance
	var familyID int64
	var replayed bool
	err := database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		ss := e.shop.WithTx(tx)

		d, err := e.families.WithTx(tx).GetDependent(ctx, p.DependentID)
		if err != nil {
			return err
		}
		if d == nil || !d.Active {
			return apperr.DependentNotFound(p.DependentID)
		}
		familyID = d.FamilyID

		if p.IdempotencyKey != "" {
			prior, err := ss.GetPurchaseByKey(ctx, p.DependentID, p.IdempotencyKey)
			if err != nil {
				return err
			}
			if prior != nil {
				if prior.ItemID != p.ItemID {
					return apperr.Validation("idempotency_key_reused", "idempotency key was used for another item")
				}
				item, err = ss.GetItem(ctx, prior.ItemID)
				purchase, replayed = prior, true
				return err
			}
		}

		item, err = ss.GetItem(ctx, p.ItemID)
		if err != nil {
			return err
		}
		if item == nil {
			return apperr.ItemNotFound(p.ItemID)
		}
		if !item.Active {
			return apperr.ItemInactive(item.ID)
		}

		cur, err := e.ledger.BalanceTx(ctx, tx, p.DependentID)
		if err != nil {
			return err
		}
		if cur.Coins < item.PriceCoins {
			return apperr.InsufficientFunds(item.PriceCoins, cur.Coins)
		}

		ref := item.ID
		balance, err = e.ledger.Apply(ctx, tx, ledger.Delta{
			DependentID: p.DependentID,
			Coins:       -item.PriceCoins,
			Reason:      model.ReasonShopPurchase,
			RefID:       &ref,
		})
		if err != nil {
			return err
		}

		purchase, err = ss.CreatePurchase(ctx, p.DependentID, item.ID, item.PriceCoins, p.IdempotencyKey)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("purchase item: %w", err)
	}

	purchase.Item = item
	if replayed {
		e.logger.Info("purchase replayed", "purchase_id", purchase.ID, "dependent_id", p.DependentID)
		return purchase, nil
	}

	e.logger.Info("item purchased", "purchase_id", purchase.ID, "dependent_id", p.DependentID,
		"item_id", item.ID, "cost_coins", purchase.CostCoins, "coins", balance.Coins)
	e.notifier.Notify(ctx, notify.Event{
		FamilyID:    familyID,
		DependentID: p.DependentID,
		Entity:      "purchase",
		Action:      "made",
		ID:          purchase.ID,
		Extra: map[string]any{
			"item_id":    item.ID,
			"title":      item.Title,
			"cost_coins": purchase.CostCoins,
			"coins":      balance.Coins,
		},
	})
	return purchase, nil
}

// ListActiveItems returns purchasable items, cheapest first.
func (e *Engine) ListActiveItems(ctx context.Context) ([]model.ShopItem, error) {
	return e.listItems(ctx, true)
}

// ListItems returns the whole catalog including inactive items.
func (e *Engine) ListItems(ctx context.Context) ([]model.ShopItem, error) {
	return e.listItems(ctx, false)
}

func (e *Engine) listItems(ctx context.Context, activeOnly bool) ([]model.ShopItem, error) {
	items, err := e.shop.ListItems(ctx, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list shop items: %w", err)
	}
	if items == nil {
		items = []model.ShopItem{}
	}
	return items, nil
}

// ListPurchases returns the dependent's receipts, newest first.
func (e *Engine) ListPurchases(ctx context.Context, dependentID int64) ([]model.Purchase, error) {
	purchases, err := e.shop.ListPurchases(ctx, dependentID)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	if purchases == nil {
		purchases = []model.Purchase{}
	}
	return purchases, nil
}

func (e *Engine) GetItem(ctx context.Context, id int64) (*model.ShopItem, error) {
	item, err := e.shop.GetItem(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get shop item: %w", err)
	}
	if item == nil {
		return nil, apperr.ItemNotFound(id)
	}
	return item, nil
}

func (e *Engine) CreateItem(ctx context.Context, p ItemParams) (*model.ShopItem, error) {
	p = normalizeItem(p)
	if err := validateItem(p); err != nil {
		return nil, err
	}

	item, err := e.shop.CreateItem(ctx, store.ItemParams(p))
	if errors.Is(err, store.ErrSKUTaken) {
		return nil, skuTaken(p.SKU)
	}
	if err != nil {
		return nil, fmt.Errorf("create shop item: %w", err)
	}

	e.logger.Info("shop item created", "item_id", item.ID, "sku", item.SKU, "price_coins", item.PriceCoins)
	return item, nil
}

// UpdateItem replaces an item's fields. Existing receipts keep the price
// they were charged.
func (e *Engine) UpdateItem(ctx context.Context, id int64, p ItemParams) (*model.ShopItem, error) {
	p = normalizeItem(p)
	if err := validateItem(p); err != nil {
		return nil, err
	}
	if _, err := e.GetItem(ctx, id); err != nil {
		return nil, err
	}

	item, err := e.shop.UpdateItem(ctx, id, store.ItemParams(p))
	if errors.Is(err, store.ErrSKUTaken) {
		return nil, skuTaken(p.SKU)
	}
	if err != nil {
		return nil, fmt.Errorf("update shop item: %w", err)
	}

	e.logger.Info("shop item updated", "item_id", item.ID, "price_coins", item.PriceCoins, "active", item.Active)
	return item, nil
}

func (e *Engine) SetItemActive(ctx context.Context, id int64, active bool) (*model.ShopItem, error) {
	if _, err := e.GetItem(ctx, id); err != nil {
		return nil, err
	}
	if err := e.shop.SetItemActive(ctx, id, active); err != nil {
		return nil, fmt.Errorf("set shop item active: %w", err)
	}
	e.logger.Info("shop item toggled", "item_id", id, "active", active)
	return e.GetItem(ctx, id)
}

func normalizeItem(p ItemParams) ItemParams {
	p.SKU = strings.TrimSpace(p.SKU)
	p.Title = strings.TrimSpace(p.Title)
	p.Description = strings.TrimSpace(p.Description)
	p.ImageURL = strings.TrimSpace(p.ImageURL)
	return p
}

func validateItem(p ItemParams) error {
	if p.SKU == "" || utf8.RuneCountInString(p.SKU) > maxSKULen {
		return apperr.Validation("invalid_sku", fmt.Sprintf("sku must be 1 to %d characters", maxSKULen))
	}
	if p.Title == "" || utf8.RuneCountInString(p.Title) > maxTitleLen {
		return apperr.Validation("invalid_title", fmt.Sprintf("title must be 1 to %d characters", maxTitleLen))
	}
	if utf8.RuneCountInString(p.Description) > maxDescriptionLen {
		return apperr.Validation("description_too_long",
			fmt.Sprintf("description must be at most %d characters", maxDescriptionLen))
	}
	if len(p.ImageURL) > maxImageURLLen {
		return apperr.Validation("image_url_too_long",
			fmt.Sprintf("image url must be at most %d characters", maxImageURLLen))
	}
	if p.PriceCoins < 1 {
		return apperr.Validation("invalid_price", "price must be at least 1 coin")
	}
	return nil
}

func skuTaken(sku string) error {
	e := apperr.Validation("sku_taken", fmt.Sprintf("sku %q is already in use", sku))
	e.Details = map[string]any{"sku": sku}
	return e
}
