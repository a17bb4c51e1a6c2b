package auth

import (
	"context"
	"testing"
)

func TestWithIdentityAndFromContext(t *testing.T) {
	ctx := WithIdentity(context.Background(), Identity{Role: RoleGuardian, SubjectID: 1, FamilyID: 2})

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected Identity in context")
	}
	if got.SubjectID != 1 {
		t.Errorf("SubjectID = %d, want 1", got.SubjectID)
	}
	if got.FamilyID != 2 {
		t.Errorf("FamilyID = %d, want 2", got.FamilyID)
	}
	if !IsGuardian(ctx) || IsDependent(ctx) {
		t.Error("expected guardian identity")
	}
	if FamilyID(ctx) != 2 {
		t.Errorf("FamilyID(ctx) = %d, want 2", FamilyID(ctx))
	}
}

func TestFromContextMissing(t *testing.T) {
	ctx := context.Background()
	if _, ok := FromContext(ctx); ok {
		t.Error("expected false for missing Identity")
	}
	if FamilyID(ctx) != 0 {
		t.Error("expected zero family id")
	}
	if IsGuardian(ctx) || IsDependent(ctx) {
		t.Error("expected no role")
	}
}

func TestRoleValid(t *testing.T) {
	if !RoleDependent.Valid() || Role("admin").Valid() {
		t.Error("role validity mismatch")
	}
}
