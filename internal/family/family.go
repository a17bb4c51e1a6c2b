// Package family manages the tenant boundary: families, their guardians
// and dependents, identity resolution and dependent PINs.
package family

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/famhabit/internal/apperr"
	"github.com/dukerupert/famhabit/internal/auth"
	"github.com/dukerupert/famhabit/internal/database"
	"github.com/dukerupert/famhabit/internal/model"
	"github.com/dukerupert/famhabit/internal/store"
)

const (
	maxNameLen       = 64
	maxExternalIDLen = 128
	maxAvatarLen     = 16
	pinLen           = 4
)

type Service struct {
	db       *sql.DB
	families *store.FamilyStore
	logger   *slog.Logger
}

func NewService(db *sql.DB, fs *store.FamilyStore, logger *slog.Logger) *Service {
	return &Service{db: db, families: fs, logger: logger.With("component", "family")}
}

// RegisterGuardian returns the guardian with externalID, creating a new free
// family for it on first sight. The bool reports whether anything was created.
func (s *Service) RegisterGuardian(ctx context.Context, externalID, name string) (*model.Guardian, bool, error) {
	externalID = strings.TrimSpace(externalID)
	name = strings.TrimSpace(name)
	if err := validateExternalID(externalID); err != nil {
		return nil, false, err
	}
	if err := validateName(name); err != nil {
		return nil, false, err
	}

	var g *model.Guardian
	var created bool
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		fs := s.families.WithTx(tx)

		existing, err := fs.GetGuardianByExternalID(ctx, externalID)
		if err != nil {
			return err
		}
		if existing != nil {
			if !existing.Active {
				return apperr.GuardianNotFound(existing.ID)
			}
			g = existing
			return nil
		}

		f, err := fs.CreateFamily(ctx, model.PlanFree)
		if err != nil {
			return err
		}
		g, err = fs.CreateGuardian(ctx, f.ID, externalID, name)
		created = err == nil
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("register guardian: %w", err)
	}

	if created {
		s.logger.Info("family registered", "family_id", g.FamilyID, "guardian_id", g.ID)
	}
	return g, created, nil
}

// AddGuardian adds a second guardian to an existing family.
func (s *Service) AddGuardian(ctx context.Context, familyID int64, externalID, name string) (*model.Guardian, error) {
	externalID = strings.TrimSpace(externalID)
	name = strings.TrimSpace(name)
	if err := validateExternalID(externalID); err != nil {
		return nil, err
	}
	if err := validateName(name); err != nil {
		return nil, err
	}

	var g *model.Guardian
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		fs := s.families.WithTx(tx)

		f, err := fs.GetFamily(ctx, familyID)
		if err != nil {
			return err
		}
		if f == nil || !f.Active {
			return apperr.FamilyNotFound(familyID)
		}
		existing, err := fs.GetGuardianByExternalID(ctx, externalID)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.Validation("external_id_taken", "this account is already a guardian")
		}
		g, err = fs.CreateGuardian(ctx, familyID, externalID, name)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("add guardian: %w", err)
	}

	s.logger.Info("guardian added", "family_id", familyID, "guardian_id", g.ID)
	return g, nil
}

// AddDependent creates a dependent with a zero balance in the guardian's family.
func (s *Service) AddDependent(ctx context.Context, guardianID int64, name, avatar string) (*model.Dependent, error) {
	name = strings.TrimSpace(name)
	avatar = strings.TrimSpace(avatar)
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := validateAvatar(avatar); err != nil {
		return nil, err
	}

	g, err := s.guardian(ctx, guardianID)
	if err != nil {
		return nil, err
	}
	d, err := s.families.CreateDependent(ctx, g.FamilyID, name, avatar)
	if err != nil {
		return nil, fmt.Errorf("add dependent: %w", err)
	}

	s.logger.Info("dependent added", "family_id", g.FamilyID, "dependent_id", d.ID)
	return d, nil
}

// Dependents lists the active dependents of the guardian's family.
func (s *Service) Dependents(ctx context.Context, guardianID int64) ([]model.Dependent, error) {
	g, err := s.guardian(ctx, guardianID)
	if err != nil {
		return nil, err
	}
	deps, err := s.families.ListDependents(ctx, g.FamilyID)
	if err != nil {
		return nil, fmt.Errorf("list dependents: %w", err)
	}
	if deps == nil {
		deps = []model.Dependent{}
	}
	return deps, nil
}

// Dependent returns an active dependent the guardian may manage.
func (s *Service) Dependent(ctx context.Context, guardianID, dependentID int64) (*model.Dependent, error) {
	g, err := s.guardian(ctx, guardianID)
	if err != nil {
		return nil, err
	}
	return s.dependentOf(ctx, g, dependentID)
}

// DependentUpdate renames a dependent or changes its avatar. Nil fields
// are left alone.
type DependentUpdate struct {
	Name   *string
	Avatar *string
}

// UpdateDependent edits an active dependent of the guardian's family.
func (s *Service) UpdateDependent(ctx context.Context, guardianID, dependentID int64, u DependentUpdate) (*model.Dependent, error) {
	d, err := s.Dependent(ctx, guardianID, dependentID)
	if err != nil {
		return nil, err
	}

	name, avatar := d.Name, d.Avatar
	if u.Name != nil {
		name = strings.TrimSpace(*u.Name)
		if err := validateName(name); err != nil {
			return nil, err
		}
	}
	if u.Avatar != nil {
		avatar = strings.TrimSpace(*u.Avatar)
		if err := validateAvatar(avatar); err != nil {
			return nil, err
		}
	}

	if err := s.families.UpdateDependentProfile(ctx, d.ID, name, avatar); err != nil {
		return nil, fmt.Errorf("update dependent: %w", err)
	}
	s.logger.Info("dependent updated", "family_id", d.FamilyID, "dependent_id", d.ID)

	d.Name, d.Avatar = name, avatar
	return d, nil
}

// DeactivateDependent soft-deletes a dependent. Its ledger and tasks stay.
func (s *Service) DeactivateDependent(ctx context.Context, guardianID, dependentID int64) error {
	d, err := s.Dependent(ctx, guardianID, dependentID)
	if err != nil {
		return err
	}
	if err := s.families.SetDependentActive(ctx, d.ID, false); err != nil {
		return fmt.Errorf("deactivate dependent: %w", err)
	}
	s.logger.Info("dependent deactivated", "family_id", d.FamilyID, "dependent_id", d.ID)
	return nil
}

func (s *Service) Stats(ctx context.Context, guardianID int64) (*model.FamilyStats, error) {
	g, err := s.guardian(ctx, guardianID)
	if err != nil {
		return nil, err
	}
	deps, err := s.families.ListDependents(ctx, g.FamilyID)
	if err != nil {
		return nil, fmt.Errorf("family stats: %w", err)
	}
	tasks, err := s.families.CountTasks(ctx, g.FamilyID)
	if err != nil {
		return nil, fmt.Errorf("family stats: %w", err)
	}

	stats := &model.FamilyStats{
		FamilyID:      g.FamilyID,
		Dependents:    len(deps),
		TasksCreated:  tasks,
		DependentRows: make([]model.DependentStats, 0, len(deps)),
	}
	for _, d := range deps {
		stats.TotalPoints += d.Points
		stats.TotalCoins += d.Coins
		stats.DependentRows = append(stats.DependentRows, model.DependentStats{
			ID:          d.ID,
			Name:        d.Name,
			Points:      d.Points,
			Coins:       d.Coins,
			HasExternal: d.ExternalID != nil,
		})
	}
	return stats, nil
}

// Resolve checks that the subject behind a token still exists and is
// active, and returns its identity with the family id from storage.
func (s *Service) Resolve(ctx context.Context, role auth.Role, subjectID int64) (auth.Identity, error) {
	var familyID int64
	switch role {
	case auth.RoleGuardian:
		g, err := s.families.GetGuardian(ctx, subjectID)
		if err != nil {
			return auth.Identity{}, fmt.Errorf("resolve guardian: %w", err)
		}
		if g == nil || !g.Active {
			return auth.Identity{}, apperr.GuardianNotFound(subjectID)
		}
		familyID = g.FamilyID
	case auth.RoleDependent:
		d, err := s.families.GetDependent(ctx, subjectID)
		if err != nil {
			return auth.Identity{}, fmt.Errorf("resolve dependent: %w", err)
		}
		if d == nil || !d.Active {
			return auth.Identity{}, apperr.DependentNotFound(subjectID)
		}
		familyID = d.FamilyID
	default:
		return auth.Identity{}, apperr.AccessDenied(fmt.Sprintf("unknown role %q", role))
	}

	f, err := s.families.GetFamily(ctx, familyID)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("resolve family: %w", err)
	}
	if f == nil || !f.Active {
		return auth.Identity{}, apperr.FamilyNotFound(familyID)
	}
	return auth.Identity{Role: role, SubjectID: subjectID, FamilyID: familyID}, nil
}

// AuthorizeDependent decides whether id may act on a dependent's data.
// Guardians reach any dependent of their family; dependents only themselves.
func (s *Service) AuthorizeDependent(ctx context.Context, id auth.Identity, dependentID int64) error {
	switch id.Role {
	case auth.RoleDependent:
		if id.SubjectID != dependentID {
			return apperr.AccessDenied("dependents can only access their own data")
		}
		return nil
	case auth.RoleGuardian:
		_, err := s.Dependent(ctx, id.SubjectID, dependentID)
		return err
	}
	return apperr.AccessDenied("unknown role")
}

// SetPIN sets a 4 digit PIN that purchases must present.
func (s *Service) SetPIN(ctx context.Context, guardianID, dependentID int64, pin string) error {
	if len(pin) != pinLen || !isDigits(pin) {
		return apperr.Validation("invalid_pin", "PIN must be exactly 4 digits")
	}
	d, err := s.Dependent(ctx, guardianID, dependentID)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}
	if err := s.families.SetPINHash(ctx, d.ID, string(hash)); err != nil {
		return fmt.Errorf("set pin: %w", err)
	}
	s.logger.Info("dependent pin set", "dependent_id", d.ID)
	return nil
}

func (s *Service) ClearPIN(ctx context.Context, guardianID, dependentID int64) error {
	d, err := s.Dependent(ctx, guardianID, dependentID)
	if err != nil {
		return err
	}
	if err := s.families.SetPINHash(ctx, d.ID, ""); err != nil {
		return fmt.Errorf("clear pin: %w", err)
	}
	s.logger.Info("dependent pin cleared", "dependent_id", d.ID)
	return nil
}

// VerifyPIN passes when the dependent has no PIN or pin matches it.
func (s *Service) VerifyPIN(ctx context.Context, dependentID int64, pin string) error {
	hash, err := s.families.GetPINHash(ctx, dependentID)
	if err != nil {
		return fmt.Errorf("verify pin: %w", err)
	}
	if hash == "" {
		return nil
	}
	if pin == "" {
		e := apperr.AccessDenied("PIN required")
		e.Code = "pin_required"
		return e
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			e := apperr.AccessDenied("incorrect PIN")
			e.Code = "invalid_pin"
			return e
		}
		return fmt.Errorf("verify pin: %w", err)
	}
	return nil
}

func (s *Service) guardian(ctx context.Context, guardianID int64) (*model.Guardian, error) {
	g, err := s.families.GetGuardian(ctx, guardianID)
	if err != nil {
		return nil, fmt.Errorf("get guardian: %w", err)
	}
	if g == nil || !g.Active {
		return nil, apperr.GuardianNotFound(guardianID)
	}
	return g, nil
}

func (s *Service) dependentOf(ctx context.Context, g *model.Guardian, dependentID int64) (*model.Dependent, error) {
	d, err := s.families.GetDependent(ctx, dependentID)
	if err != nil {
		return nil, fmt.Errorf("get dependent: %w", err)
	}
	if d == nil || !d.Active {
		return nil, apperr.DependentNotFound(dependentID)
	}
	if d.FamilyID != g.FamilyID {
		return nil, apperr.FamilyMismatch(g.ID, d.ID)
	}
	return d, nil
}

func validateName(name string) error {
	if n := utf8.RuneCountInString(name); n < 1 || n > maxNameLen {
		return apperr.Validation("invalid_name", fmt.Sprintf("name must be 1 to %d characters", maxNameLen))
	}
	return nil
}

func validateAvatar(avatar string) error {
	if utf8.RuneCountInString(avatar) > maxAvatarLen {
		return apperr.Validation("invalid_avatar", fmt.Sprintf("avatar must be at most %d characters", maxAvatarLen))
	}
	return nil
}

func validateExternalID(id string) error {
	if id == "" || len(id) > maxExternalIDLen {
		return apperr.Validation("invalid_external_id", "external id is required")
	}
	return nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
