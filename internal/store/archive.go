package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/famhabit/internal/database"
	"github.com/dukerupert/famhabit/internal/model"
)

type ArchiveStore struct {
	db database.DBTX
}

func NewArchiveStore(db database.DBTX) *ArchiveStore {
	return &ArchiveStore{db: db}
}

const archiveCols = `id, object_key, first_entry_id, last_entry_id, entries, size_bytes, status, error_message, created_at`

func scanArchiveRun(scanner interface{ Scan(...any) error }) (*model.ArchiveRun, error) {
	var r model.ArchiveRun
	err := scanner.Scan(&r.ID, &r.ObjectKey, &r.FirstEntryID, &r.LastEntryID, &r.Entries, &r.SizeBytes,
		&r.Status, &r.ErrorMessage, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *ArchiveStore) Create(ctx context.Context, r model.ArchiveRun) (*model.ArchiveRun, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO archive_runs (object_key, first_entry_id, last_entry_id, entries, size_bytes, status, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ObjectKey, r.FirstEntryID, r.LastEntryID, r.Entries, r.SizeBytes, r.Status, r.ErrorMessage,
	)
	if err != nil {
		return nil, fmt.Errorf("create archive run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+archiveCols+` FROM archive_runs WHERE id = ?`, id)
	run, err := scanArchiveRun(row)
	if err != nil {
		return nil, fmt.Errorf("get archive run: %w", err)
	}
	return run, nil
}

// LastArchivedEntryID returns the highest ledger entry id covered by a
// completed run, or 0 when nothing has been archived.
func (s *ArchiveStore) LastArchivedEntryID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(last_entry_id) FROM archive_runs WHERE status = ?`, model.ArchiveCompleted,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("last archived entry: %w", err)
	}
	return id.Int64, nil
}

func (s *ArchiveStore) List(ctx context.Context, limit int) ([]model.ArchiveRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+archiveCols+` FROM archive_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list archive runs: %w", err)
	}
	defer rows.Close()

	var runs []model.ArchiveRun
	for rows.Next() {
		r, err := scanArchiveRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan archive run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}
