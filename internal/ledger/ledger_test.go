package ledger_test

import (
	"context"
	"database/sql"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/famhabit/internal/apperr"
	"github.com/dukerupert/famhabit/internal/database"
	"github.com/dukerupert/famhabit/internal/ledger"
	"github.com/dukerupert/famhabit/internal/model"
	"github.com/dukerupert/famhabit/internal/notify"
	"github.com/dukerupert/famhabit/internal/store"
	"github.com/dukerupert/famhabit/internal/testutil"
)

func newTestEngine(t *testing.T) (*ledger.Engine, *sql.DB, testutil.Family, *notify.Recorder) {
	t.Helper()
	db := testutil.DB(t)
	fam := testutil.SeedFamily(t, db, "g-ledger")
	rec := &notify.Recorder{}
	return ledger.NewEngine(db, store.NewLedgerStore(db), 0, rec, testutil.Logger()), db, fam, rec
}

func TestAddDelta_CreditsAndRecordsEntry(t *testing.T) {
	eng, _, fam, rec := newTestEngine(t)
	ctx := context.Background()

	b, err := eng.AddDelta(ctx, ledger.Delta{DependentID: fam.Dependent.ID, Points: 10, Coins: 5, Reason: "bonus"})
	require.NoError(t, err)
	assert.Equal(t, model.Balance{DependentID: fam.Dependent.ID, Points: 10, Coins: 5}, b)

	entries, err := eng.Entries(ctx, fam.Dependent.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bonus", entries[0].Reason)

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, fam.ID, events[0].FamilyID)
	assert.Equal(t, "adjusted", events[0].Action)
}

func TestAddDelta_FloorIsAppliedPerWrite(t *testing.T) {
	// GIVEN: balance of 5 points
	// WHEN: -10 then +3
	// THEN: balance is 3, not max(0, 5-10+3)

	eng, _, fam, _ := newTestEngine(t)
	ctx := context.Background()
	id := fam.Dependent.ID

	_, err := eng.AddDelta(ctx, ledger.Delta{DependentID: id, Points: 5, Reason: "start"})
	require.NoError(t, err)
	b, err := eng.AddDelta(ctx, ledger.Delta{DependentID: id, Points: -10, Reason: "penalty"})
	require.NoError(t, err)
	assert.Equal(t, 0, b.Points)
	b, err = eng.AddDelta(ctx, ledger.Delta{DependentID: id, Points: 3, Reason: "bonus"})
	require.NoError(t, err)
	assert.Equal(t, 3, b.Points)

	// The ledger keeps the requested delta, not the applied one.
	entries, err := eng.Entries(ctx, id, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, -10, entries[1].DeltaPoints)
}

func TestBalanceMatchesReplayedLedger(t *testing.T) {
	eng, _, fam, _ := newTestEngine(t)
	ctx := context.Background()
	id := fam.Dependent.ID

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		_, err := eng.AddDelta(ctx, ledger.Delta{
			DependentID: id,
			Points:      r.Intn(21) - 10,
			Coins:       r.Intn(21) - 10,
			Reason:      "random",
		})
		require.NoError(t, err)

		rec, err := eng.Verify(ctx, id)
		require.NoError(t, err)
		require.True(t, rec.Consistent, "step %d: expected %+v, actual %+v", i, rec.Expected, rec.Actual)
	}
}

func TestVerify_DetectsDrift(t *testing.T) {
	eng, db, fam, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.AddDelta(ctx, ledger.Delta{DependentID: fam.Dependent.ID, Coins: 4, Reason: "bonus"})
	require.NoError(t, err)
	testutil.SetBalance(t, db, fam.Dependent.ID, 0, 9)

	rec, err := eng.Verify(ctx, fam.Dependent.ID)
	require.NoError(t, err)
	assert.False(t, rec.Consistent)
	assert.Equal(t, 4, rec.Expected.Coins)
	assert.Equal(t, 9, rec.Actual.Coins)
	assert.Equal(t, 1, rec.Entries)
}

func TestAddDelta_Validation(t *testing.T) {
	eng, _, fam, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.AddDelta(ctx, ledger.Delta{DependentID: fam.Dependent.ID, Points: 1, Reason: "  "})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = eng.AddDelta(ctx, ledger.Delta{DependentID: fam.Dependent.ID, Points: 1, Reason: strings.Repeat("x", 121)})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	entries, err := eng.Entries(ctx, fam.Dependent.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAddDelta_RejectsOversizedDeltas(t *testing.T) {
	eng, _, fam, _ := newTestEngine(t)
	ctx := context.Background()
	id := fam.Dependent.ID

	for _, d := range []ledger.Delta{
		{DependentID: id, Coins: math.MaxInt, Reason: "huge"},
		{DependentID: id, Points: math.MinInt, Reason: "huge"},
		{DependentID: id, Points: ledger.DefaultMaxAdjust + 1, Reason: "bonus"},
		{DependentID: id, Coins: -ledger.DefaultMaxAdjust - 1, Reason: "penalty"},
	} {
		_, err := eng.AddDelta(ctx, d)
		e, ok := apperr.As(err)
		require.True(t, ok, "delta %+v: err = %v", d, err)
		assert.Equal(t, "invalid_delta", e.Code)
	}

	b, err := eng.AddDelta(ctx, ledger.Delta{DependentID: id, Coins: ledger.DefaultMaxAdjust, Reason: "bonus"})
	require.NoError(t, err)
	assert.Equal(t, ledger.DefaultMaxAdjust, b.Coins)

	b, err = eng.AddDelta(ctx, ledger.Delta{DependentID: id, Coins: 1, Reason: "bonus"})
	require.NoError(t, err)
	assert.Equal(t, ledger.DefaultMaxAdjust+1, b.Coins)

	stats, err := eng.Stats(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.DefaultMaxAdjust+1, stats.CoinsEarned)

	entries, err := eng.Entries(ctx, id, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestAddDelta_ConfiguredCap(t *testing.T) {
	db := testutil.DB(t)
	fam := testutil.SeedFamily(t, db, "g-cap")
	eng := ledger.NewEngine(db, store.NewLedgerStore(db), 10, nil, testutil.Logger())
	ctx := context.Background()

	_, err := eng.AddDelta(ctx, ledger.Delta{DependentID: fam.Dependent.ID, Points: 11, Reason: "bonus"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	b, err := eng.AddDelta(ctx, ledger.Delta{DependentID: fam.Dependent.ID, Points: 10, Reason: "bonus"})
	require.NoError(t, err)
	assert.Equal(t, 10, b.Points)
}

func TestInactiveDependentIsNotFound(t *testing.T) {
	eng, db, fam, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, store.NewFamilyStore(db).SetDependentActive(ctx, fam.Dependent.ID, false))

	_, err := eng.Balance(ctx, fam.Dependent.ID)
	assert.ErrorIs(t, err, apperr.DependentNotFound(fam.Dependent.ID))

	_, err = eng.AddDelta(ctx, ledger.Delta{DependentID: fam.Dependent.ID, Points: 1, Reason: "bonus"})
	assert.ErrorIs(t, err, apperr.DependentNotFound(fam.Dependent.ID))

	_, err = eng.Balance(ctx, 9999)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestApply_RollsBackWithCallerTransaction(t *testing.T) {
	eng, db, fam, _ := newTestEngine(t)
	ctx := context.Background()

	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := eng.Apply(ctx, tx, ledger.Delta{DependentID: fam.Dependent.ID, Coins: 50, Reason: "gift"}); err != nil {
			return err
		}
		return apperr.Validation("later_step", "a later step failed")
	})
	require.Error(t, err)

	b, err := eng.Balance(ctx, fam.Dependent.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Coins)
	entries, err := eng.Entries(ctx, fam.Dependent.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestApply_LedgerFailureLeavesBalance(t *testing.T) {
	eng, db, fam, _ := newTestEngine(t)
	ctx := context.Background()
	testutil.FailLedgerWrites(t, db)

	_, err := eng.AddDelta(ctx, ledger.Delta{DependentID: fam.Dependent.ID, Points: 7, Reason: "bonus"})
	require.Error(t, err)
	assert.Empty(t, apperr.KindOf(err), "storage failure should not be a domain error")

	b, err := eng.Balance(ctx, fam.Dependent.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Points)
}

func TestStats(t *testing.T) {
	eng, _, fam, _ := newTestEngine(t)
	ctx := context.Background()
	id := fam.Dependent.ID

	_, err := eng.AddDelta(ctx, ledger.Delta{DependentID: id, Points: 10, Coins: 6, Reason: "task"})
	require.NoError(t, err)
	_, err = eng.AddDelta(ctx, ledger.Delta{DependentID: id, Points: -4, Coins: -1, Reason: "penalty"})
	require.NoError(t, err)

	stats, err := eng.Stats(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Points)
	assert.Equal(t, 5, stats.Coins)
	assert.Equal(t, 10, stats.PointsEarned)
	assert.Equal(t, 6, stats.CoinsEarned)
	assert.Equal(t, 0, stats.CoinsSpent)
}

func TestEntries_Paging(t *testing.T) {
	eng, _, fam, _ := newTestEngine(t)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		_, err := eng.AddDelta(ctx, ledger.Delta{DependentID: fam.Dependent.ID, Points: i, Reason: "step"})
		require.NoError(t, err)
	}

	page, err := eng.Entries(ctx, fam.Dependent.ID, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, 2, page[0].DeltaPoints)
	assert.Equal(t, 1, page[1].DeltaPoints)
}

func TestReplay(t *testing.T) {
	b := ledger.Replay(1, []model.LedgerEntry{
		{DeltaPoints: 5, DeltaCoins: 2},
		{DeltaPoints: -10, DeltaCoins: -1},
		{DeltaPoints: 3, DeltaCoins: 0},
	})
	assert.Equal(t, model.Balance{DependentID: 1, Points: 3, Coins: 1}, b)
}
