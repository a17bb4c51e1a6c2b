package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukerupert/famhabit/internal/database"
	"github.com/dukerupert/famhabit/internal/model"
)

// ErrSKUTaken is returned when an item's sku collides with another item.
var ErrSKUTaken = errors.New("sku already in use")

type ShopStore struct {
	db database.DBTX
}

func NewShopStore(db database.DBTX) *ShopStore {
	return &ShopStore{db: db}
}

// WithTx returns a copy of the store bound to tx.
func (s *ShopStore) WithTx(tx *sql.Tx) *ShopStore {
	return &ShopStore{db: tx}
}

// --- Items ---

func scanItem(scanner interface{ Scan(...any) error }) (*model.ShopItem, error) {
	var it model.ShopItem
	var active int

	err := scanner.Scan(&it.ID, &it.SKU, &it.Title, &it.Description, &it.PriceCoins, &it.ImageURL, &active, &it.CreatedAt)
	if err != nil {
		return nil, err
	}

	it.Active = active != 0
	return &it, nil
}

const itemCols = `id, sku, title, description, price_coins, image_url, active, created_at`

type ItemParams struct {
	SKU         string
	Title       string
	Description string
	PriceCoins  int
	ImageURL    string
	Active      bool
}

func (s *ShopStore) CreateItem(ctx context.Context, p ItemParams) (*model.ShopItem, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO shop_items (sku, title, description, price_coins, image_url, active) VALUES (?, ?, ?, ?, ?, ?)`,
		p.SKU, p.Title, p.Description, p.PriceCoins, p.ImageURL, boolToInt(p.Active),
	)
	if isUniqueViolation(err) {
		return nil, ErrSKUTaken
	}
	if err != nil {
		return nil, fmt.Errorf("insert shop item: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetItem(ctx, id)
}

func (s *ShopStore) GetItem(ctx context.Context, id int64) (*model.ShopItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemCols+` FROM shop_items WHERE id = ?`, id)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get shop item: %w", err)
	}
	return it, nil
}

func (s *ShopStore) UpdateItem(ctx context.Context, id int64, p ItemParams) (*model.ShopItem, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE shop_items SET sku = ?, title = ?, description = ?, price_coins = ?, image_url = ?, active = ? WHERE id = ?`,
		p.SKU, p.Title, p.Description, p.PriceCoins, p.ImageURL, boolToInt(p.Active), id,
	)
	if isUniqueViolation(err) {
		return nil, ErrSKUTaken
	}
	if err != nil {
		return nil, fmt.Errorf("update shop item: %w", err)
	}
	return s.GetItem(ctx, id)
}

func (s *ShopStore) SetItemActive(ctx context.Context, id int64, active bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE shop_items SET active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("set shop item active: %w", err)
	}
	return nil
}

// ListItems returns the catalog by ascending price. With activeOnly set,
// inactive items are left out.
func (s *ShopStore) ListItems(ctx context.Context, activeOnly bool) ([]model.ShopItem, error) {
	query := `SELECT ` + itemCols + ` FROM shop_items`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY price_coins ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list shop items: %w", err)
	}
	defer rows.Close()

	var items []model.ShopItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan shop item: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// --- Purchases ---

const purchaseCols = `p.id, p.dependent_id, p.item_id, p.cost_coins, p.item_title, p.idempotency_key, p.created_at`

func scanPurchase(scanner interface{ Scan(...any) error }) (*model.Purchase, error) {
	var p model.Purchase
	var key sql.NullString

	err := scanner.Scan(&p.ID, &p.DependentID, &p.ItemID, &p.CostCoins, &p.ItemTitle, &key, &p.CreatedAt)
	if err != nil {
		return nil, err
	}

	p.IdempotencyKey = key.String
	return &p, nil
}

// CreatePurchase records a receipt. The item's title is copied at sale
// time alongside the cost, so later catalog edits do not rewrite history.
func (s *ShopStore) CreatePurchase(ctx context.Context, dependentID, itemID int64, costCoins int, idempotencyKey string) (*model.Purchase, error) {
	var key sql.NullString
	if idempotencyKey != "" {
		key = sql.NullString{String: idempotencyKey, Valid: true}
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO purchases (dependent_id, item_id, cost_coins, item_title, idempotency_key)
		 SELECT ?, id, ?, title, ? FROM shop_items WHERE id = ?`,
		dependentID, costCoins, key, itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert purchase: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil || n == 0 {
		return nil, fmt.Errorf("insert purchase: item %d not found", itemID)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+purchaseCols+` FROM purchases p WHERE p.id = ?`, id)
	return scanPurchase(row)
}

// GetPurchaseByKey returns nil when the dependent has no purchase with key.
func (s *ShopStore) GetPurchaseByKey(ctx context.Context, dependentID int64, key string) (*model.Purchase, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+purchaseCols+` FROM purchases p WHERE p.dependent_id = ? AND p.idempotency_key = ?`,
		dependentID, key,
	)
	p, err := scanPurchase(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get purchase by key: %w", err)
	}
	return p, nil
}

// ListPurchases returns a dependent's receipts newest first, each with the
// current catalog entry of its item attached. ItemTitle and CostCoins are
// the values at sale time; Item reflects the catalog now.
func (s *ShopStore) ListPurchases(ctx context.Context, dependentID int64) ([]model.Purchase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+purchaseCols+`, i.id, i.sku, i.title, i.description, i.price_coins, i.image_url, i.active, i.created_at
		 FROM purchases p JOIN shop_items i ON i.id = p.item_id
		 WHERE p.dependent_id = ? ORDER BY p.created_at DESC, p.id DESC`,
		dependentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	var purchases []model.Purchase
	for rows.Next() {
		var p model.Purchase
		var key sql.NullString
		var it model.ShopItem
		var active int
		if err := rows.Scan(&p.ID, &p.DependentID, &p.ItemID, &p.CostCoins, &p.ItemTitle, &key, &p.CreatedAt,
			&it.ID, &it.SKU, &it.Title, &it.Description, &it.PriceCoins, &it.ImageURL, &active, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		p.IdempotencyKey = key.String
		it.Active = active != 0
		p.Item = &it
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}
