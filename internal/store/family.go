package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/famhabit/internal/database"
	"github.com/dukerupert/famhabit/internal/model"
)

type FamilyStore struct {
	db database.DBTX
}

func NewFamilyStore(db database.DBTX) *FamilyStore {
	return &FamilyStore{db: db}
}

// WithTx returns a copy of the store bound to tx.
func (s *FamilyStore) WithTx(tx *sql.Tx) *FamilyStore {
	return &FamilyStore{db: tx}
}

// --- Families ---

func (s *FamilyStore) CreateFamily(ctx context.Context, plan model.Plan) (*model.Family, error) {
	result, err := s.db.ExecContext(ctx, `INSERT INTO families (plan) VALUES (?)`, plan)
	if err != nil {
		return nil, fmt.Errorf("insert family: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetFamily(ctx, id)
}

func (s *FamilyStore) GetFamily(ctx context.Context, id int64) (*model.Family, error) {
	var f model.Family
	var active int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, plan, active, created_at FROM families WHERE id = ?`, id,
	).Scan(&f.ID, &f.Plan, &active, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get family: %w", err)
	}
	f.Active = active != 0
	return &f, nil
}

// --- Guardians ---

func scanGuardian(scanner interface{ Scan(...any) error }) (*model.Guardian, error) {
	var g model.Guardian
	var active int

	err := scanner.Scan(&g.ID, &g.FamilyID, &g.ExternalID, &g.Name, &active, &g.CreatedAt)
	if err != nil {
		return nil, err
	}

	g.Active = active != 0
	return &g, nil
}

const guardianCols = `id, family_id, external_id, name, active, created_at`

func (s *FamilyStore) CreateGuardian(ctx context.Context, familyID int64, externalID, name string) (*model.Guardian, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO guardians (family_id, external_id, name) VALUES (?, ?, ?)`,
		familyID, externalID, name,
	)
	if err != nil {
		return nil, fmt.Errorf("insert guardian: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetGuardian(ctx, id)
}

func (s *FamilyStore) GetGuardian(ctx context.Context, id int64) (*model.Guardian, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+guardianCols+` FROM guardians WHERE id = ?`, id)
	g, err := scanGuardian(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get guardian: %w", err)
	}
	return g, nil
}

func (s *FamilyStore) GetGuardianByExternalID(ctx context.Context, externalID string) (*model.Guardian, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+guardianCols+` FROM guardians WHERE external_id = ?`, externalID)
	g, err := scanGuardian(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get guardian by external id: %w", err)
	}
	return g, nil
}

func (s *FamilyStore) ListGuardians(ctx context.Context, familyID int64) ([]model.Guardian, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+guardianCols+` FROM guardians WHERE family_id = ? AND active = 1 ORDER BY id`, familyID)
	if err != nil {
		return nil, fmt.Errorf("list guardians: %w", err)
	}
	defer rows.Close()

	var guardians []model.Guardian
	for rows.Next() {
		g, err := scanGuardian(rows)
		if err != nil {
			return nil, fmt.Errorf("scan guardian: %w", err)
		}
		guardians = append(guardians, *g)
	}
	return guardians, rows.Err()
}

// --- Dependents ---

func scanDependent(scanner interface{ Scan(...any) error }) (*model.Dependent, error) {
	var d model.Dependent
	var externalID sql.NullString
	var pinHash string
	var active int

	err := scanner.Scan(&d.ID, &d.FamilyID, &externalID, &d.Name, &d.Avatar, &d.Points, &d.Coins, &pinHash, &active, &d.CreatedAt)
	if err != nil {
		return nil, err
	}

	if externalID.Valid {
		d.ExternalID = &externalID.String
	}
	d.HasPIN = pinHash != ""
	d.Active = active != 0
	return &d, nil
}

const dependentCols = `id, family_id, external_id, name, avatar, points, coins, pin_hash, active, created_at`

func (s *FamilyStore) CreateDependent(ctx context.Context, familyID int64, name, avatar string) (*model.Dependent, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO dependents (family_id, name, avatar) VALUES (?, ?, ?)`,
		familyID, name, avatar,
	)
	if err != nil {
		return nil, fmt.Errorf("insert dependent: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetDependent(ctx, id)
}

// GetDependent returns the dependent regardless of its active flag.
func (s *FamilyStore) GetDependent(ctx context.Context, id int64) (*model.Dependent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+dependentCols+` FROM dependents WHERE id = ?`, id)
	d, err := scanDependent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dependent: %w", err)
	}
	return d, nil
}

// ListDependents returns the active dependents of a family ordered by name.
func (s *FamilyStore) ListDependents(ctx context.Context, familyID int64) ([]model.Dependent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+dependentCols+` FROM dependents WHERE family_id = ? AND active = 1 ORDER BY name, id`, familyID)
	if err != nil {
		return nil, fmt.Errorf("list dependents: %w", err)
	}
	defer rows.Close()

	var deps []model.Dependent
	for rows.Next() {
		d, err := scanDependent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dependent: %w", err)
		}
		deps = append(deps, *d)
	}
	return deps, rows.Err()
}

// ListAllDependentIDs returns every dependent id, active or not.
func (s *FamilyStore) ListAllDependentIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM dependents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list dependent ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan dependent id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateDependentProfile sets the display fields of a dependent.
func (s *FamilyStore) UpdateDependentProfile(ctx context.Context, id int64, name, avatar string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE dependents SET name = ?, avatar = ? WHERE id = ?`, name, avatar, id)
	if err != nil {
		return fmt.Errorf("update dependent profile: %w", err)
	}
	return nil
}

func (s *FamilyStore) SetDependentActive(ctx context.Context, id int64, active bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE dependents SET active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("set dependent active: %w", err)
	}
	return nil
}

// SetPINHash stores a bcrypt hash; an empty hash clears the PIN.
func (s *FamilyStore) SetPINHash(ctx context.Context, id int64, hash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE dependents SET pin_hash = ? WHERE id = ?`, hash, id)
	if err != nil {
		return fmt.Errorf("set pin hash: %w", err)
	}
	return nil
}

func (s *FamilyStore) GetPINHash(ctx context.Context, id int64) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT pin_hash FROM dependents WHERE id = ?`, id).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get pin hash: %w", err)
	}
	return hash, nil
}

// CountTasks returns how many tasks were authored by guardians of the family.
func (s *FamilyStore) CountTasks(ctx context.Context, familyID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks t JOIN guardians g ON g.id = t.guardian_id WHERE g.family_id = ?`,
		familyID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count family tasks: %w", err)
	}
	return n, nil
}
