// Package testutil builds databases and family fixtures for package tests.
package testutil

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dukerupert/famhabit/internal/database"
	"github.com/dukerupert/famhabit/internal/model"
	"github.com/dukerupert/famhabit/internal/store"
)

// DB opens a migrated in-memory database closed at test cleanup.
func DB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// FileDB opens a migrated database file under t.TempDir. Concurrency tests
// need it because an in-memory database is limited to one connection.
func FileDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// Logger discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Family is one seeded family with a guardian and a dependent.
type Family struct {
	ID        int64
	Guardian  *model.Guardian
	Dependent *model.Dependent
}

// SeedFamily creates a family whose guardian has the given external id.
func SeedFamily(t *testing.T, db *sql.DB, externalID string) Family {
	t.Helper()
	ctx := context.Background()
	fs := store.NewFamilyStore(db)

	f, err := fs.CreateFamily(ctx, model.PlanFree)
	require.NoError(t, err)
	g, err := fs.CreateGuardian(ctx, f.ID, externalID, "Parent "+externalID)
	require.NoError(t, err)
	d, err := fs.CreateDependent(ctx, f.ID, "Kid "+externalID, "")
	require.NoError(t, err)

	return Family{ID: f.ID, Guardian: g, Dependent: d}
}

// SetBalance writes a dependent's counters directly, bypassing the ledger.
// Only use it to arrange preconditions; it breaks the ledger invariant.
func SetBalance(t *testing.T, db *sql.DB, dependentID int64, points, coins int) {
	t.Helper()
	_, err := db.Exec(`UPDATE dependents SET points = ?, coins = ? WHERE id = ?`, points, coins, dependentID)
	require.NoError(t, err)
}

// FailLedgerWrites makes every ledger insert abort, simulating a storage
// failure in the middle of a transaction.
func FailLedgerWrites(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`CREATE TRIGGER fail_ledger BEFORE INSERT ON ledger_entries
		BEGIN SELECT RAISE(ABORT, 'injected ledger failure'); END`)
	require.NoError(t, err)
	t.Cleanup(func() { db.Exec(`DROP TRIGGER IF EXISTS fail_ledger`) })
}
