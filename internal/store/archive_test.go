package store

import (
	"context"
	"testing"

	"github.com/dukerupert/famhabit/internal/model"
)

func TestArchiveRuns(t *testing.T) {
	as := NewArchiveStore(setupTestDB(t))
	ctx := context.Background()

	last, err := as.LastArchivedEntryID(ctx)
	if err != nil {
		t.Fatalf("last archived: %v", err)
	}
	if last != 0 {
		t.Errorf("last = %d, want 0 on empty store", last)
	}

	if _, err := as.Create(ctx, model.ArchiveRun{
		ObjectKey: "ledger/a.ndjson", FirstEntryID: 1, LastEntryID: 10, Entries: 10, SizeBytes: 900,
		Status: model.ArchiveCompleted,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	failed, err := as.Create(ctx, model.ArchiveRun{
		ObjectKey: "ledger/b.ndjson", FirstEntryID: 11, LastEntryID: 20, Entries: 10,
		Status: model.ArchiveFailed, ErrorMessage: "access denied",
	})
	if err != nil {
		t.Fatalf("create failed run: %v", err)
	}
	if failed.ErrorMessage != "access denied" {
		t.Errorf("error message = %q", failed.ErrorMessage)
	}

	// Failed runs do not advance the cursor.
	last, _ = as.LastArchivedEntryID(ctx)
	if last != 10 {
		t.Errorf("last = %d, want 10", last)
	}

	runs, err := as.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != failed.ID {
		t.Errorf("runs = %+v, want newest first", runs)
	}
}
