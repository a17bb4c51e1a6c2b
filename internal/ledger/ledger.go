// Package ledger is the only writer of dependent balances. Every change
// goes through Apply, which clamps each counter at zero and appends the
// requested delta to the append-only ledger in the caller's transaction.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/dukerupert/famhabit/internal/apperr"
	"github.com/dukerupert/famhabit/internal/database"
	"github.com/dukerupert/famhabit/internal/model"
	"github.com/dukerupert/famhabit/internal/notify"
	"github.com/dukerupert/famhabit/internal/store"
)

const (
	maxReasonLen = 120
	defaultLimit = 50
	maxLimit     = 200

	// DefaultMaxAdjust bounds a manual adjustment when none is configured.
	DefaultMaxAdjust = 1000
)

// Delta is a requested change to one dependent's balance.
type Delta struct {
	DependentID int64
	Points      int
	Coins       int
	Reason      string
	RefID       *int64
}

// Reconciliation compares the materialized balance with a replay of the
// ledger under the clamp-at-write rule.
type Reconciliation struct {
	Expected   model.Balance `json:"expected"`
	Actual     model.Balance `json:"actual"`
	Entries    int           `json:"entries"`
	Consistent bool          `json:"consistent"`
}

type Engine struct {
	db        *sql.DB
	ledger    *store.LedgerStore
	maxAdjust int
	notifier  notify.Notifier
	logger    *slog.Logger
}

// NewEngine builds the ledger engine. maxAdjust caps each counter of a
// manual adjustment in either direction; zero means DefaultMaxAdjust.
func NewEngine(db *sql.DB, ls *store.LedgerStore, maxAdjust int, notifier notify.Notifier, logger *slog.Logger) *Engine {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if maxAdjust <= 0 {
		maxAdjust = DefaultMaxAdjust
	}
	return &Engine{db: db, ledger: ls, maxAdjust: maxAdjust, notifier: notifier, logger: logger.With("component", "ledger")}
}

// Apply changes a balance inside tx. The new counters are
// max(0, current+delta) each; the ledger entry keeps the requested deltas.
func (e *Engine) Apply(ctx context.Context, tx *sql.Tx, d Delta) (model.Balance, error) {
	b, _, err := e.apply(ctx, tx, d)
	return b, err
}

func (e *Engine) apply(ctx context.Context, tx *sql.Tx, d Delta) (model.Balance, int64, error) {
	if err := validateReason(d.Reason); err != nil {
		return model.Balance{}, 0, err
	}

	ls := e.ledger.WithTx(tx)
	row, err := ls.LockBalance(ctx, d.DependentID)
	if err != nil {
		return model.Balance{}, 0, err
	}
	if row == nil || !row.Active {
		return model.Balance{}, 0, apperr.DependentNotFound(d.DependentID)
	}

	points := max(0, row.Points+d.Points)
	coins := max(0, row.Coins+d.Coins)
	if err := ls.WriteBalance(ctx, d.DependentID, points, coins, row.Version); err != nil {
		return model.Balance{}, 0, err
	}
	if _, err := ls.Append(ctx, d.DependentID, d.Points, d.Coins, d.Reason, d.RefID); err != nil {
		return model.Balance{}, 0, err
	}

	return model.Balance{DependentID: d.DependentID, Points: points, Coins: coins}, row.FamilyID, nil
}

// AddDelta applies d in its own transaction. It is the manual bonus and
// penalty path.
func (e *Engine) AddDelta(ctx context.Context, d Delta) (model.Balance, error) {
	d.Reason = strings.TrimSpace(d.Reason)
	if err := e.validateAdjust(d); err != nil {
		return model.Balance{}, err
	}

	var b model.Balance
	var familyID int64
	err := database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		var err error
		b, familyID, err = e.apply(ctx, tx, d)
		return err
	})
	if err != nil {
		return model.Balance{}, fmt.Errorf("add delta: %w", err)
	}

	e.logger.Info("balance adjusted",
		"dependent_id", d.DependentID, "delta_points", d.Points, "delta_coins", d.Coins,
		"reason", d.Reason, "points", b.Points, "coins", b.Coins)
	e.notifier.Notify(ctx, notify.Event{
		FamilyID:    familyID,
		DependentID: d.DependentID,
		Entity:      "balance",
		Action:      "adjusted",
		ID:          d.DependentID,
		Extra:       map[string]any{"points": b.Points, "coins": b.Coins, "reason": d.Reason},
	})
	return b, nil
}

func (e *Engine) Balance(ctx context.Context, dependentID int64) (model.Balance, error) {
	row, err := e.ledger.LockBalance(ctx, dependentID)
	if err != nil {
		return model.Balance{}, fmt.Errorf("get balance: %w", err)
	}
	if row == nil || !row.Active {
		return model.Balance{}, apperr.DependentNotFound(dependentID)
	}
	return model.Balance{DependentID: dependentID, Points: row.Points, Coins: row.Coins}, nil
}

// BalanceTx reads the balance inside tx. The value cannot change before
// tx ends, so callers may check it and then Apply.
func (e *Engine) BalanceTx(ctx context.Context, tx *sql.Tx, dependentID int64) (model.Balance, error) {
	row, err := e.ledger.WithTx(tx).LockBalance(ctx, dependentID)
	if err != nil {
		return model.Balance{}, err
	}
	if row == nil || !row.Active {
		return model.Balance{}, apperr.DependentNotFound(dependentID)
	}
	return model.Balance{DependentID: dependentID, Points: row.Points, Coins: row.Coins}, nil
}

// Entries returns a newest-first page of the dependent's ledger.
func (e *Engine) Entries(ctx context.Context, dependentID int64, limit, offset int) ([]model.LedgerEntry, error) {
	limit, offset = clampPage(limit, offset)
	entries, err := e.ledger.List(ctx, dependentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("get ledger: %w", err)
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	return entries, nil
}

func (e *Engine) Stats(ctx context.Context, dependentID int64) (model.LedgerStats, error) {
	b, err := e.Balance(ctx, dependentID)
	if err != nil {
		return model.LedgerStats{}, err
	}
	points, coins, spent, err := e.ledger.Totals(ctx, dependentID)
	if err != nil {
		return model.LedgerStats{}, fmt.Errorf("get ledger stats: %w", err)
	}
	return model.LedgerStats{Balance: b, PointsEarned: points, CoinsEarned: coins, CoinsSpent: spent}, nil
}

// Verify replays the dependent's ledger oldest first and compares the
// result with the stored balance. Inactive dependents are still checked.
func (e *Engine) Verify(ctx context.Context, dependentID int64) (Reconciliation, error) {
	row, err := e.ledger.LockBalance(ctx, dependentID)
	if err != nil {
		return Reconciliation{}, fmt.Errorf("verify ledger: %w", err)
	}
	if row == nil {
		return Reconciliation{}, apperr.DependentNotFound(dependentID)
	}
	entries, err := e.ledger.ListChronological(ctx, dependentID)
	if err != nil {
		return Reconciliation{}, fmt.Errorf("verify ledger: %w", err)
	}

	expected := Replay(dependentID, entries)
	actual := model.Balance{DependentID: dependentID, Points: row.Points, Coins: row.Coins}
	return Reconciliation{
		Expected:   expected,
		Actual:     actual,
		Entries:    len(entries),
		Consistent: expected == actual,
	}, nil
}

// Replay folds entries, oldest first, into a balance with each counter
// floored at zero after every step.
func Replay(dependentID int64, entries []model.LedgerEntry) model.Balance {
	b := model.Balance{DependentID: dependentID}
	for _, en := range entries {
		b.Points = max(0, b.Points+en.DeltaPoints)
		b.Coins = max(0, b.Coins+en.DeltaCoins)
	}
	return b
}

func validateReason(reason string) error {
	if strings.TrimSpace(reason) == "" {
		return apperr.Validation("reason_required", "reason is required")
	}
	if utf8.RuneCountInString(reason) > maxReasonLen {
		return apperr.Validation("reason_too_long", fmt.Sprintf("reason must be at most %d characters", maxReasonLen))
	}
	return nil
}

// validateAdjust keeps manual deltas small enough that balances and
// ledger sums stay far from integer overflow.
func (e *Engine) validateAdjust(d Delta) error {
	for _, v := range []int{d.Points, d.Coins} {
		if v > e.maxAdjust || v < -e.maxAdjust {
			err := apperr.Validation("invalid_delta",
				fmt.Sprintf("points and coins must each be between -%d and %d", e.maxAdjust, e.maxAdjust))
			err.Details = map[string]any{"max": e.maxAdjust}
			return err
		}
	}
	return nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
