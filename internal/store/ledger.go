package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/famhabit/internal/database"
	"github.com/dukerupert/famhabit/internal/model"
)

// LedgerStore owns the ledger_entries table and the balance columns of
// dependents. Entries are append-only; there is no update or delete.
type LedgerStore struct {
	db database.DBTX
}

func NewLedgerStore(db database.DBTX) *LedgerStore {
	return &LedgerStore{db: db}
}

// WithTx returns a copy of the store bound to tx.
func (s *LedgerStore) WithTx(tx *sql.Tx) *LedgerStore {
	return &LedgerStore{db: tx}
}

// BalanceRow is the materialized balance plus the row version used for
// the optimistic write.
type BalanceRow struct {
	DependentID int64
	FamilyID    int64
	Points      int
	Coins       int
	Version     int64
	Active      bool
}

// LockBalance reads the balance row. Inside an immediate transaction the
// database write lock is already held, so the read cannot go stale before
// WriteBalance. Returns nil when the dependent does not exist.
func (s *LedgerStore) LockBalance(ctx context.Context, dependentID int64) (*BalanceRow, error) {
	var b BalanceRow
	var active int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, family_id, points, coins, version, active FROM dependents WHERE id = ?`, dependentID,
	).Scan(&b.DependentID, &b.FamilyID, &b.Points, &b.Coins, &b.Version, &active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock balance: %w", err)
	}
	b.Active = active != 0
	return &b, nil
}

// WriteBalance stores new counters if the row is still at version.
func (s *LedgerStore) WriteBalance(ctx context.Context, dependentID int64, points, coins int, version int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE dependents SET points = ?, coins = ?, version = version + 1 WHERE id = ? AND version = ?`,
		points, coins, dependentID, version,
	)
	if err != nil {
		return fmt.Errorf("write balance: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("write balance for dependent %d: %w", dependentID, ErrConcurrentModification)
	}
	return nil
}

const ledgerCols = `id, dependent_id, delta_points, delta_coins, reason, ref_id, created_at`

func scanEntry(scanner interface{ Scan(...any) error }) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	var refID sql.NullInt64

	err := scanner.Scan(&e.ID, &e.DependentID, &e.DeltaPoints, &e.DeltaCoins, &e.Reason, &refID, &e.CreatedAt)
	if err != nil {
		return nil, err
	}

	if refID.Valid {
		e.RefID = &refID.Int64
	}
	return &e, nil
}

func (s *LedgerStore) Append(ctx context.Context, dependentID int64, deltaPoints, deltaCoins int, reason string, refID *int64) (*model.LedgerEntry, error) {
	var ref sql.NullInt64
	if refID != nil {
		ref = sql.NullInt64{Int64: *refID, Valid: true}
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_entries (dependent_id, delta_points, delta_coins, reason, ref_id) VALUES (?, ?, ?, ?, ?)`,
		dependentID, deltaPoints, deltaCoins, reason, ref,
	)
	if err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+ledgerCols+` FROM ledger_entries WHERE id = ?`, id)
	return scanEntry(row)
}

// List returns a page of a dependent's entries, newest first.
func (s *LedgerStore) List(ctx context.Context, dependentID int64, limit, offset int) ([]model.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ledgerCols+` FROM ledger_entries WHERE dependent_id = ? ORDER BY id DESC LIMIT ? OFFSET ?`,
		dependentID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListChronological returns every entry of a dependent, oldest first.
func (s *LedgerStore) ListChronological(ctx context.Context, dependentID int64) ([]model.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ledgerCols+` FROM ledger_entries WHERE dependent_id = ? ORDER BY id ASC`, dependentID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries chronologically: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListAfter returns up to limit entries across all dependents with id
// greater than afterID, oldest first.
func (s *LedgerStore) ListAfter(ctx context.Context, afterID int64, limit int) ([]model.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ledgerCols+` FROM ledger_entries WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries after %d: %w", afterID, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Totals sums positive deltas and purchase costs for a dependent.
func (s *LedgerStore) Totals(ctx context.Context, dependentID int64) (pointsEarned, coinsEarned, coinsSpent int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN delta_points > 0 THEN delta_points END), 0),
			COALESCE(SUM(CASE WHEN delta_coins > 0 THEN delta_coins END), 0)
		 FROM ledger_entries WHERE dependent_id = ?`, dependentID,
	).Scan(&pointsEarned, &coinsEarned)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("sum ledger earnings: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_coins), 0) FROM purchases WHERE dependent_id = ?`, dependentID,
	).Scan(&coinsSpent)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("sum purchases: %w", err)
	}
	return pointsEarned, coinsEarned, coinsSpent, nil
}

func scanEntries(rows *sql.Rows) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}
