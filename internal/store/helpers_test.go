package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/dukerupert/famhabit/internal/database"
	"github.com/dukerupert/famhabit/internal/model"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedFamily creates a family with one guardian and one dependent.
func seedFamily(t *testing.T, fs *FamilyStore, externalID string) (*model.Guardian, *model.Dependent) {
	t.Helper()
	ctx := context.Background()
	f, err := fs.CreateFamily(ctx, model.PlanFree)
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	g, err := fs.CreateGuardian(ctx, f.ID, externalID, "Parent "+externalID)
	if err != nil {
		t.Fatalf("create guardian: %v", err)
	}
	d, err := fs.CreateDependent(ctx, f.ID, "Kid "+externalID, "🦊")
	if err != nil {
		t.Fatalf("create dependent: %v", err)
	}
	return g, d
}
