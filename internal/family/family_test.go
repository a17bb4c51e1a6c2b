package family_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/famhabit/internal/apperr"
	"github.com/dukerupert/famhabit/internal/auth"
	"github.com/dukerupert/famhabit/internal/family"
	"github.com/dukerupert/famhabit/internal/model"
	"github.com/dukerupert/famhabit/internal/store"
	"github.com/dukerupert/famhabit/internal/testutil"
)

func newService(t *testing.T) *family.Service {
	t.Helper()
	db := testutil.DB(t)
	return family.NewService(db, store.NewFamilyStore(db), testutil.Logger())
}

func TestRegisterGuardian_CreatesFamilyOnce(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	g, created, err := svc.RegisterGuardian(ctx, "tg-100", "Alex")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, g.FamilyID)

	again, created, err := svc.RegisterGuardian(ctx, "tg-100", "Alex Renamed")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, g.ID, again.ID)
	assert.Equal(t, "Alex", again.Name)

	_, _, err = svc.RegisterGuardian(ctx, "", "Nobody")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestAddGuardian(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	g, _, err := svc.RegisterGuardian(ctx, "tg-1", "Sam")
	require.NoError(t, err)

	second, err := svc.AddGuardian(ctx, g.FamilyID, "tg-2", "Jo")
	require.NoError(t, err)
	assert.Equal(t, g.FamilyID, second.FamilyID)

	_, err = svc.AddGuardian(ctx, g.FamilyID, "tg-2", "Jo again")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.AddGuardian(ctx, 9999, "tg-3", "Lee")
	assert.ErrorIs(t, err, apperr.FamilyNotFound(9999))
}

func TestDependents(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	g, _, err := svc.RegisterGuardian(ctx, "tg-1", "Sam")
	require.NoError(t, err)

	d, err := svc.AddDependent(ctx, g.ID, "  Mia ", "🐱")
	require.NoError(t, err)
	assert.Equal(t, "Mia", d.Name)
	assert.Equal(t, 0, d.Points)
	assert.Equal(t, 0, d.Coins)

	_, err = svc.AddDependent(ctx, g.ID, "", "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	deps, err := svc.Dependents(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, deps, 1)

	require.NoError(t, svc.DeactivateDependent(ctx, g.ID, d.ID))
	deps, err = svc.Dependents(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, deps)

	err = svc.DeactivateDependent(ctx, g.ID, d.ID)
	assert.ErrorIs(t, err, apperr.DependentNotFound(d.ID))
}

func TestUpdateDependent(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	g, _, err := svc.RegisterGuardian(ctx, "tg-1", "Sam")
	require.NoError(t, err)
	d, err := svc.AddDependent(ctx, g.ID, "Mia", "🐱")
	require.NoError(t, err)

	name := " Mia Rose "
	updated, err := svc.UpdateDependent(ctx, g.ID, d.ID, family.DependentUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Mia Rose", updated.Name)
	assert.Equal(t, "🐱", updated.Avatar, "avatar is kept when omitted")

	avatar := "🦊"
	_, err = svc.UpdateDependent(ctx, g.ID, d.ID, family.DependentUpdate{Avatar: &avatar})
	require.NoError(t, err)
	got, err := svc.Dependent(ctx, g.ID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "Mia Rose", got.Name)
	assert.Equal(t, "🦊", got.Avatar)

	empty := "  "
	_, err = svc.UpdateDependent(ctx, g.ID, d.ID, family.DependentUpdate{Name: &empty})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	other, _, err := svc.RegisterGuardian(ctx, "tg-2", "Alex")
	require.NoError(t, err)
	_, err = svc.UpdateDependent(ctx, other.ID, d.ID, family.DependentUpdate{Name: &name})
	assert.Equal(t, apperr.KindFamilyMismatch, apperr.KindOf(err))

	require.NoError(t, svc.DeactivateDependent(ctx, g.ID, d.ID))
	_, err = svc.UpdateDependent(ctx, g.ID, d.ID, family.DependentUpdate{Name: &name})
	assert.ErrorIs(t, err, apperr.DependentNotFound(d.ID))
}

func TestCrossFamilyAccess(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	g1, _, _ := svc.RegisterGuardian(ctx, "tg-1", "One")
	g2, _, _ := svc.RegisterGuardian(ctx, "tg-2", "Two")
	d2, err := svc.AddDependent(ctx, g2.ID, "Other kid", "")
	require.NoError(t, err)

	err = svc.DeactivateDependent(ctx, g1.ID, d2.ID)
	assert.Equal(t, apperr.KindFamilyMismatch, apperr.KindOf(err))

	err = svc.SetPIN(ctx, g1.ID, d2.ID, "1234")
	assert.Equal(t, apperr.KindFamilyMismatch, apperr.KindOf(err))

	err = svc.AuthorizeDependent(ctx, auth.Identity{Role: auth.RoleGuardian, SubjectID: g1.ID, FamilyID: g1.FamilyID}, d2.ID)
	assert.Equal(t, apperr.KindFamilyMismatch, apperr.KindOf(err))

	err = svc.AuthorizeDependent(ctx, auth.Identity{Role: auth.RoleGuardian, SubjectID: g2.ID, FamilyID: g2.FamilyID}, d2.ID)
	assert.NoError(t, err)

	err = svc.AuthorizeDependent(ctx, auth.Identity{Role: auth.RoleDependent, SubjectID: d2.ID + 1, FamilyID: g2.FamilyID}, d2.ID)
	assert.Equal(t, apperr.KindAccessDenied, apperr.KindOf(err))
}

func TestStats(t *testing.T) {
	db := testutil.DB(t)
	svc := family.NewService(db, store.NewFamilyStore(db), testutil.Logger())
	ctx := context.Background()
	fam := testutil.SeedFamily(t, db, "tg-stats")
	testutil.SetBalance(t, db, fam.Dependent.ID, 12, 4)
	_, err := store.NewTaskStore(db).Create(ctx, store.CreateTaskParams{
		GuardianID: fam.Guardian.ID, DependentID: fam.Dependent.ID, Title: "Chore", EvidenceType: model.EvidenceText,
	})
	require.NoError(t, err)

	stats, err := svc.Stats(ctx, fam.Guardian.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Dependents)
	assert.Equal(t, 1, stats.TasksCreated)
	assert.Equal(t, 12, stats.TotalPoints)
	assert.Equal(t, 4, stats.TotalCoins)
	require.Len(t, stats.DependentRows, 1)
	assert.False(t, stats.DependentRows[0].HasExternal)
}

func TestResolve(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	g, _, _ := svc.RegisterGuardian(ctx, "tg-1", "Sam")
	d, err := svc.AddDependent(ctx, g.ID, "Kid", "")
	require.NoError(t, err)

	id, err := svc.Resolve(ctx, auth.RoleGuardian, g.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.Identity{Role: auth.RoleGuardian, SubjectID: g.ID, FamilyID: g.FamilyID}, id)

	id, err = svc.Resolve(ctx, auth.RoleDependent, d.ID)
	require.NoError(t, err)
	assert.Equal(t, g.FamilyID, id.FamilyID)

	require.NoError(t, svc.DeactivateDependent(ctx, g.ID, d.ID))
	_, err = svc.Resolve(ctx, auth.RoleDependent, d.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = svc.Resolve(ctx, auth.RoleGuardian, 9999)
	assert.ErrorIs(t, err, apperr.GuardianNotFound(9999))
}

func TestPIN(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	g, _, _ := svc.RegisterGuardian(ctx, "tg-1", "Sam")
	d, err := svc.AddDependent(ctx, g.ID, "Kid", "")
	require.NoError(t, err)

	// No PIN set: anything passes.
	assert.NoError(t, svc.VerifyPIN(ctx, d.ID, ""))

	assert.Equal(t, apperr.KindValidation, apperr.KindOf(svc.SetPIN(ctx, g.ID, d.ID, "12a4")))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(svc.SetPIN(ctx, g.ID, d.ID, "12345")))
	require.NoError(t, svc.SetPIN(ctx, g.ID, d.ID, "4321"))

	assert.NoError(t, svc.VerifyPIN(ctx, d.ID, "4321"))

	e, ok := apperr.As(svc.VerifyPIN(ctx, d.ID, "0000"))
	require.True(t, ok)
	assert.Equal(t, "invalid_pin", e.Code)

	e, ok = apperr.As(svc.VerifyPIN(ctx, d.ID, ""))
	require.True(t, ok)
	assert.Equal(t, "pin_required", e.Code)

	require.NoError(t, svc.ClearPIN(ctx, g.ID, d.ID))
	assert.NoError(t, svc.VerifyPIN(ctx, d.ID, ""))
}
